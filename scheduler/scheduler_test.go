package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"newspipe/config"
	"newspipe/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	bodies [][]byte
	err    error
	sent   chan struct{}
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{sent: make(chan struct{}, 16)}
}

func (p *recordingPublisher) Publish(ctx context.Context, body []byte) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.bodies = append(p.bodies, body)
	p.sent <- struct{}{}
	return "id", nil
}

func (p *recordingPublisher) jobs(t *testing.T) []types.IngestionJob {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.IngestionJob, len(p.bodies))
	for i, b := range p.bodies {
		require.NoError(t, json.Unmarshal(b, &out[i]))
	}
	return out
}

func TestEnqueue(t *testing.T) {
	p := newRecordingPublisher()
	s := New(p)

	limit := 5
	s.Enqueue(context.Background(), config.ScheduleEntry{Name: "ai", Cron: "@hourly", Query: "AI", Limit: &limit})
	assert.Equal(t, []types.IngestionJob{{Query: "AI", Limit: 5, Language: "en", Source: "newsapi"}}, p.jobs(t))
}

func TestEnqueueSkipsInvalidAndPublishErrors(t *testing.T) {
	p := newRecordingPublisher()
	s := New(p)

	s.Enqueue(context.Background(), config.ScheduleEntry{Query: ""})
	p.err = errors.New("broker down")
	s.Enqueue(context.Background(), config.ScheduleEntry{Query: "AI"})
	assert.Empty(t, p.jobs(t))
}

func TestAddRejectsBadCron(t *testing.T) {
	s := New(newRecordingPublisher())
	_, err := s.Add(config.ScheduleEntry{Name: "bad", Cron: "sometimes", Query: "AI"})
	assert.Error(t, err)
	assert.Zero(t, s.Len())
}

func TestLoadAndFire(t *testing.T) {
	p := newRecordingPublisher()
	s := New(p)
	require.NoError(t, s.Load(&config.Schedule{Schedules: []config.ScheduleEntry{
		{Name: "fast", Cron: "@every 1s", Query: "climate", Source: "rss:hn"},
	}}))
	assert.Equal(t, 1, s.Len())

	s.Start()
	defer s.Stop(context.Background())

	select {
	case <-p.sent:
	case <-time.After(5 * time.Second):
		t.Fatal("schedule never fired")
	}
	jobs := p.jobs(t)
	require.NotEmpty(t, jobs)
	assert.Equal(t, "climate", jobs[0].Query)
	assert.Equal(t, "rss:hn", jobs[0].Source)
}
