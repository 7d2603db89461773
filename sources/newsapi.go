package sources

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"newspipe/logging"
	"newspipe/types"

	"github.com/sirupsen/logrus"
)

const (
	NewsAPIName           = "newsapi"
	DefaultNewsAPIBaseURL = "https://newsapi.org/v2"
	newsAPIMaxPageSize    = 100
	newsAPITimeout        = 10 * time.Second
	maxResponseBytes      = 10 << 20
)

// QuotaChecker consumes one unit of the provider's request budget.
type QuotaChecker interface {
	CheckAndIncrement(ctx context.Context) (bool, error)
}

// NewsAPIConfig configures the NewsAPI.org client.
type NewsAPIConfig struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	// Quota is optional; when set, requests beyond the daily budget fail with
	// CategoryQuota before any outbound call.
	Quota QuotaChecker
}

// NewsAPI fetches from the NewsAPI.org /everything endpoint.
type NewsAPI struct {
	apiKey  string
	baseURL string
	client  *http.Client
	quota   QuotaChecker
	log     *logging.Entry
}

type newsAPIResponse struct {
	Status       string             `json:"status"`
	Code         string             `json:"code"`
	Message      string             `json:"message"`
	TotalResults int                `json:"totalResults"`
	Articles     []types.RawArticle `json:"articles"`
}

// NewNewsAPI creates a NewsAPI fetcher.
func NewNewsAPI(cfg NewsAPIConfig) (*NewsAPI, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultNewsAPIBaseURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: newsAPITimeout}
	}
	return &NewsAPI{
		apiKey:  cfg.APIKey,
		baseURL: base,
		client:  client,
		quota:   cfg.Quota,
		log:     logging.For("newsapi"),
	}, nil
}

func (n *NewsAPI) Name() string { return NewsAPIName }

func (n *NewsAPI) Fetch(ctx context.Context, query string, limit int, language string) ([]types.RawArticle, error) {
	if n.quota != nil {
		allowed, err := n.quota.CheckAndIncrement(ctx)
		switch {
		case err != nil:
			n.log.WithError(err).Warn("quota_check_failed")
		case !allowed:
			return nil, &FetchError{Provider: NewsAPIName, Category: CategoryQuota, Err: errors.New("daily request quota exhausted")}
		}
	}

	pageSize := min(limit, newsAPIMaxPageSize)
	params := url.Values{}
	params.Set("q", query)
	params.Set("pageSize", strconv.Itoa(pageSize))
	params.Set("language", language)
	params.Set("sortBy", "publishedAt")
	endpoint := n.baseURL + "/everything?" + params.Encode()

	n.log.WithFields(logrus.Fields{"query": query, "limit": limit, "language": language}).Info("fetching_articles")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &FetchError{Provider: NewsAPIName, Category: CategoryNetwork, Err: err}
	}
	req.Header.Set("X-Api-Key", n.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, &FetchError{Provider: NewsAPIName, Category: CategoryNetwork, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &FetchError{Provider: NewsAPIName, Category: CategoryNetwork, StatusCode: resp.StatusCode, Err: err}
	}

	var payload newsAPIResponse
	decodeErr := json.Unmarshal(body, &payload)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		category := CategoryStatus
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			category = CategoryQuota
		case resp.StatusCode == http.StatusUnauthorized:
			category = CategoryAuth
		}
		n.log.WithFields(logrus.Fields{"status_code": resp.StatusCode, "code": payload.Code}).Error("http_status_error")
		return nil, &FetchError{
			Provider:   NewsAPIName,
			Category:   category,
			StatusCode: resp.StatusCode,
			Code:       payload.Code,
			Err:        errors.New(firstNonEmpty(payload.Message, http.StatusText(resp.StatusCode))),
		}
	}
	if decodeErr != nil {
		return nil, &FetchError{Provider: NewsAPIName, Category: CategoryMalformed, StatusCode: resp.StatusCode, Err: decodeErr}
	}
	if payload.Status != "ok" {
		n.log.WithFields(logrus.Fields{"code": payload.Code, "message": payload.Message}).Error("newsapi_error")
		return nil, &FetchError{
			Provider:   NewsAPIName,
			Category:   categoryForCode(payload.Code),
			StatusCode: resp.StatusCode,
			Code:       payload.Code,
			Err:        errors.New(firstNonEmpty(payload.Message, "unknown error")),
		}
	}

	articles := payload.Articles
	if len(articles) > limit {
		articles = articles[:limit]
	}
	for i := range articles {
		articles[i].Topic = query
	}

	n.log.WithFields(logrus.Fields{"query": query, "count": len(articles), "total_results": payload.TotalResults}).Info("fetched_articles")
	return articles, nil
}

func categoryForCode(code string) Category {
	switch {
	case code == "rateLimited":
		return CategoryQuota
	case strings.HasPrefix(code, "apiKey"):
		return CategoryAuth
	default:
		return CategoryUpstream
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
