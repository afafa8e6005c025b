// Package solr implements searchindex.Index on a Solr collection through the
// JSON update API.
package solr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/helix-io/helix/internal/searchindex"
)

// Config configures a Solr client.
type Config struct {
	// URL is the Solr base URL, e.g. http://localhost:8983/solr.
	URL        string
	Collection string

	// RequestsPerSecond limits the request rate. Zero disables the limit.
	RequestsPerSecond float64
	// MaxRetries bounds retries of a failed request.
	MaxRetries uint64
	// RetryInterval is the first backoff interval. Defaults to 500ms.
	RetryInterval time.Duration
	// Timeout bounds one HTTP request.
	Timeout time.Duration
}

// Client talks to one Solr collection.
type Client struct {
	base       string
	http       *http.Client
	limiter    *rate.Limiter
	maxRetries uint64
	interval   time.Duration
}

// New creates a Solr client.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("solr: url is required")
	}
	if cfg.Collection == "" {
		return nil, errors.New("solr: collection is required")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("solr: bad url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 500 * time.Millisecond
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &Client{
		base:       strings.TrimSuffix(cfg.URL, "/") + "/" + url.PathEscape(cfg.Collection),
		http:       &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, 1),
		maxRetries: cfg.MaxRetries,
		interval:   cfg.RetryInterval,
	}, nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("solr: status %d: %s", e.code, e.body)
}

// do sends one request, retrying network errors and 5xx responses with
// exponential backoff. Other 4xx responses are permanent.
func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var out []byte
	op := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
		if err != nil {
			return backoff.Permanent(err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return err
		}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return &statusError{code: resp.StatusCode, body: string(data)}
		}
		if resp.StatusCode >= 300 {
			return backoff.Permanent(&statusError{code: resp.StatusCode, body: string(data)})
		}
		out = data
		return nil
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.interval
	exp.MaxInterval = 30 * c.interval
	b := backoff.WithContext(backoff.WithMaxRetries(exp, c.maxRetries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes documents by id. Solr treats deletes of missing ids as success.
func (c *Client) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	body, err := json.Marshal(map[string][]string{"delete": ids})
	if err != nil {
		return fmt.Errorf("solr: marshal delete: %w", err)
	}
	if _, err := c.do(ctx, http.MethodPost, "/update?commit=true", body); err != nil {
		return fmt.Errorf("solr: delete %d ids: %w", len(ids), err)
	}
	return nil
}

// Update adds or replaces documents.
func (c *Client) Update(ctx context.Context, docs []searchindex.Document) error {
	if len(docs) == 0 {
		return nil
	}
	body, err := json.Marshal(docs)
	if err != nil {
		return fmt.Errorf("solr: marshal docs: %w", err)
	}
	if _, err := c.do(ctx, http.MethodPost, "/update?commit=true", body); err != nil {
		return fmt.Errorf("solr: update %d docs: %w", len(docs), err)
	}
	return nil
}

type pingResponse struct {
	Status string `json:"status"`
}

// Reachable pings the collection once, without retries.
func (c *Client) Reachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/admin/ping?wt=json", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}
	var ping pingResponse
	if err := json.NewDecoder(resp.Body).Decode(&ping); err != nil {
		return false
	}
	return ping.Status == "OK"
}

var _ searchindex.Index = (*Client)(nil)
