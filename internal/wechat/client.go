package wechat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// PageSize is the fixed listing page size of the platform API.
const PageSize = 5

const browserUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36"

// Config holds WeChat client configuration.
type Config struct {
	SearchURL         string
	ListURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
}

// Client is a thin, stateless client for the official-account platform API.
// Credentials are passed per call; the client never stores them.
type Client struct {
	httpClient     *http.Client
	searchURL      string
	listURL        string
	limiter        *rate.Limiter
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	logger         *slog.Logger
}

// New creates a new platform client.
func New(cfg Config, logger *slog.Logger) *Client {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		searchURL:      cfg.SearchURL,
		listURL:        cfg.ListURL,
		limiter:        rate.NewLimiter(rate.Limit(rps), 1),
		maxAttempts:    cfg.MaxAttempts,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		logger:         logger.With("component", "wechat"),
	}
}

// SearchAccounts performs a fuzzy account search by display name. An empty
// result slice means the platform found no match.
func (c *Client) SearchAccounts(ctx context.Context, token, cookie, query string) ([]AccountResult, error) {
	params := url.Values{
		"action": {"search_biz"},
		"scene":  {"1"},
		"begin":  {"0"},
		"count":  {"10"},
		"query":  {query},
		"token":  {token},
		"lang":   {"zh_CN"},
		"f":      {"json"},
		"ajax":   {"1"},
	}

	var resp searchResponse
	if err := c.getJSON(ctx, c.searchURL, params, cookie, &resp); err != nil {
		return nil, fmt.Errorf("search accounts: %w", err)
	}

	if resp.BaseResp.Ret != 0 {
		return nil, fmt.Errorf("search accounts: platform error ret=%d err_msg=%q",
			resp.BaseResp.Ret, resp.BaseResp.ErrMsg)
	}

	results := make([]AccountResult, 0, len(resp.List))
	for _, item := range resp.List {
		results = append(results, AccountResult{
			Nickname: item.Nickname,
			FakeID:   item.FakeID,
		})
	}

	c.logger.Debug("account search done", "query", query, "hits", len(results))
	return results, nil
}

// ListArticles fetches one listing page (PageSize items) starting at the given
// offset. A platform-level rejection (non-zero ret) is reported as an empty
// page, matching how the harvest interprets missing data on the first page.
func (c *Client) ListArticles(ctx context.Context, token, cookie, fakeID string, begin int) ([]ListItem, error) {
	params := url.Values{
		"action": {"list_ex"},
		"begin":  {strconv.Itoa(begin)},
		"count":  {strconv.Itoa(PageSize)},
		"fakeid": {fakeID},
		"type":   {"9"},
		"query":  {""},
		"token":  {token},
		"lang":   {"zh_CN"},
		"f":      {"json"},
		"ajax":   {"1"},
	}

	var resp listResponse
	if err := c.getJSON(ctx, c.listURL, params, cookie, &resp); err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}

	if resp.BaseResp.Ret != 0 {
		c.logger.Warn("listing rejected by platform",
			"fakeid", fakeID,
			"begin", begin,
			"ret", resp.BaseResp.Ret,
			"err_msg", resp.BaseResp.ErrMsg,
		)
		return nil, nil
	}

	c.logger.Debug("fetched listing page", "begin", begin, "items", len(resp.AppMsgList))
	return resp.AppMsgList, nil
}

// FetchArticle downloads the raw HTML body of a single article.
func (c *Client) FetchArticle(ctx context.Context, cookie, articleURL string) (string, error) {
	body, err := c.doWithRetry(ctx, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, articleURL, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Cookie", cookie)
		req.Header.Set("User-Agent", browserUserAgent)

		return c.execute(req)
	})
	if err != nil {
		return "", fmt.Errorf("fetch article: %w", err)
	}
	return string(body), nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, params url.Values, cookie string, out any) error {
	body, err := c.doWithRetry(ctx, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Cookie", cookie)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", browserUserAgent)

		return c.execute(req)
	})
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) execute(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

func (c *Client) doWithRetry(ctx context.Context, fn func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	var body []byte
	var err error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		body, err = fn(ctx)
		if err == nil {
			return body, nil
		}

		if attempt == c.maxAttempts {
			break
		}

		backoff := c.calculateBackoff(attempt)
		c.logger.Warn("request failed, retrying",
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	return nil, fmt.Errorf("after %d attempts: %w", c.maxAttempts, err)
}

func (c *Client) calculateBackoff(attempt int) time.Duration {
	backoff := c.initialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
	}
	if backoff > c.maxBackoff {
		backoff = c.maxBackoff
	}
	return backoff
}
