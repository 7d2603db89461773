// Package analytics answers aggregate questions about the normalized article
// tier by running SQL through Amazon Athena.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"newspipe/logging"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/athena/types"
	"github.com/sirupsen/logrus"
)

const (
	DefaultTable        = "normalized_articles"
	DefaultMaxWait      = 60 * time.Second
	DefaultPollInterval = time.Second
	maxPollInterval     = 10 * time.Second
	resultPageSize      = 1000
	stopTimeout         = 5 * time.Second
)

// AthenaAPI is the part of the Athena client the package calls.
type AthenaAPI interface {
	StartQueryExecution(ctx context.Context, in *athena.StartQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.StartQueryExecutionOutput, error)
	GetQueryExecution(ctx context.Context, in *athena.GetQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.GetQueryExecutionOutput, error)
	GetQueryResults(ctx context.Context, in *athena.GetQueryResultsInput, optFns ...func(*athena.Options)) (*athena.GetQueryResultsOutput, error)
	StopQueryExecution(ctx context.Context, in *athena.StopQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.StopQueryExecutionOutput, error)
}

// Config selects where queries run. Database is the Glue database holding Table.
type Config struct {
	Database  string
	Table     string
	Workgroup string
	// OutputLocation is an s3:// prefix for result files; empty uses the workgroup default.
	OutputLocation string
	MaxWait        time.Duration
	PollInterval   time.Duration

	Region  string
	Profile string
}

// QueryError reports a query that Athena ran but did not complete.
type QueryError struct {
	ExecutionID string
	State       types.QueryExecutionState
	Reason      string
}

func (e *QueryError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("athena query %s %s", e.ExecutionID, e.State)
	}
	return fmt.Sprintf("athena query %s %s: %s", e.ExecutionID, e.State, e.Reason)
}

// QueryResult holds the rows of a finished query. A NULL cell is absent from its row map.
type QueryResult struct {
	ExecutionID      string
	Columns          []string
	Rows             []map[string]string
	ExecutionTimeMS  int64
	DataScannedBytes int64
}

// Client runs analytics queries.
type Client struct {
	api AthenaAPI
	cfg Config
	now func() time.Time
	log *logging.Entry
}

// NewAthena builds a Client on the default AWS credential chain.
func NewAthena(ctx context.Context, cfg Config) (*Client, error) {
	var loadOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.Profile))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}
	return New(athena.NewFromConfig(awsCfg), cfg)
}

// New wraps an existing Athena client.
func New(api AthenaAPI, cfg Config) (*Client, error) {
	if api == nil {
		return nil, errors.New("analytics: athena client is required")
	}
	if cfg.Database == "" {
		return nil, errors.New("analytics: database is required")
	}
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = DefaultMaxWait
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Client{
		api: api,
		cfg: cfg,
		now: time.Now,
		log: logging.For("analytics").WithFields(logrus.Fields{"database": cfg.Database, "workgroup": cfg.Workgroup}),
	}, nil
}

// Execute starts query, waits for it to finish within MaxWait and reads every result page.
func (c *Client) Execute(ctx context.Context, query string) (*QueryResult, error) {
	in := &athena.StartQueryExecutionInput{
		QueryString:           aws.String(query),
		QueryExecutionContext: &types.QueryExecutionContext{Database: aws.String(c.cfg.Database)},
	}
	if c.cfg.Workgroup != "" {
		in.WorkGroup = aws.String(c.cfg.Workgroup)
	}
	if c.cfg.OutputLocation != "" {
		in.ResultConfiguration = &types.ResultConfiguration{OutputLocation: aws.String(c.cfg.OutputLocation)}
	}

	started, err := c.api.StartQueryExecution(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("start athena query: %w", err)
	}
	id := aws.ToString(started.QueryExecutionId)
	log := c.log.WithField("execution_id", id)
	log.Debug("query_started")

	exec, err := c.wait(ctx, id)
	if err != nil {
		log.WithError(err).Error("query_failed")
		return nil, err
	}

	res := &QueryResult{ExecutionID: id}
	if st := exec.Statistics; st != nil {
		res.ExecutionTimeMS = aws.ToInt64(st.EngineExecutionTimeInMillis)
		res.DataScannedBytes = aws.ToInt64(st.DataScannedInBytes)
	}
	if err := c.fetchResults(ctx, res); err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"rows":               len(res.Rows),
		"execution_time_ms":  res.ExecutionTimeMS,
		"data_scanned_bytes": res.DataScannedBytes,
	}).Info("query_succeeded")
	return res, nil
}

// wait polls with doubling intervals until the query leaves QUEUED/RUNNING. On
// timeout or cancellation the query is stopped so it does not keep scanning.
func (c *Client) wait(ctx context.Context, id string) (*types.QueryExecution, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.MaxWait)
	defer cancel()

	interval := c.cfg.PollInterval
	for {
		out, err := c.api.GetQueryExecution(ctx, &athena.GetQueryExecutionInput{QueryExecutionId: aws.String(id)})
		if err != nil {
			if ctx.Err() != nil {
				c.stop(ctx, id)
				return nil, fmt.Errorf("athena query %s: %w", id, ctx.Err())
			}
			return nil, fmt.Errorf("poll athena query %s: %w", id, err)
		}
		exec := out.QueryExecution
		if exec == nil || exec.Status == nil {
			return nil, fmt.Errorf("athena query %s: empty status", id)
		}

		switch exec.Status.State {
		case types.QueryExecutionStateSucceeded:
			return exec, nil
		case types.QueryExecutionStateFailed, types.QueryExecutionStateCancelled:
			return nil, &QueryError{ExecutionID: id, State: exec.Status.State, Reason: aws.ToString(exec.Status.StateChangeReason)}
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			c.stop(ctx, id)
			return nil, fmt.Errorf("athena query %s: %w", id, ctx.Err())
		case <-timer.C:
		}
		interval = min(interval*2, maxPollInterval)
	}
}

func (c *Client) stop(ctx context.Context, id string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
	defer cancel()
	if _, err := c.api.StopQueryExecution(ctx, &athena.StopQueryExecutionInput{QueryExecutionId: aws.String(id)}); err != nil {
		c.log.WithError(err).WithField("execution_id", id).Warn("query_stop_failed")
	}
}

// fetchResults pages through the result set. The first row of the first page
// repeats the column names and is skipped.
func (c *Client) fetchResults(ctx context.Context, res *QueryResult) error {
	var token *string
	first := true
	for {
		out, err := c.api.GetQueryResults(ctx, &athena.GetQueryResultsInput{
			QueryExecutionId: aws.String(res.ExecutionID),
			MaxResults:       aws.Int32(resultPageSize),
			NextToken:        token,
		})
		if err != nil {
			return fmt.Errorf("read athena results %s: %w", res.ExecutionID, err)
		}
		if out.ResultSet == nil {
			return nil
		}

		rows := out.ResultSet.Rows
		if first {
			if md := out.ResultSet.ResultSetMetadata; md != nil {
				for _, col := range md.ColumnInfo {
					res.Columns = append(res.Columns, aws.ToString(col.Name))
				}
			}
			if len(rows) > 0 {
				rows = rows[1:]
			}
			first = false
		}
		for _, row := range rows {
			res.Rows = append(res.Rows, rowMap(res.Columns, row))
		}

		token = out.NextToken
		if aws.ToString(token) == "" {
			return nil
		}
	}
}

func rowMap(columns []string, row types.Row) map[string]string {
	m := make(map[string]string, len(columns))
	for i, col := range columns {
		if i < len(row.Data) && row.Data[i].VarCharValue != nil {
			m[col] = *row.Data[i].VarCharValue
		}
	}
	return m
}
