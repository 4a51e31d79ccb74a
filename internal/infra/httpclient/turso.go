package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cenkalti/backoff/v4"
	"github.com/memodb-io/deploy-platform/internal/config"
	"go.uber.org/zap"
)

// Token authorization levels accepted by the Turso platform API.
const (
	AuthorizationFullAccess = "full-access"
	AuthorizationReadOnly   = "read-only"
)

// StatusError is a non-2xx answer from an upstream HTTP API. Body is kept for
// server side logs only.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.Op, e.StatusCode)
}

// Retryable reports whether the request may succeed on a later attempt.
func (e *StatusError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// TursoClient is the HTTP client for the Turso platform (control plane) API.
type TursoClient struct {
	BaseURL    string
	Token      string
	OrgSlug    string
	Group      string
	MaxRetries int
	HTTPClient *http.Client
	Logger     *zap.Logger
}

func NewTursoClient(cfg *config.Config, log *zap.Logger) *TursoClient {
	timeout := time.Duration(cfg.Turso.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &TursoClient{
		BaseURL:    cfg.Turso.APIBaseURL,
		Token:      cfg.Turso.APIToken,
		OrgSlug:    cfg.Turso.OrgSlug,
		Group:      cfg.Turso.Group,
		MaxRetries: cfg.Turso.MaxRetries,
		HTTPClient: &http.Client{Timeout: timeout},
		Logger:     log,
	}
}

// TursoDatabase is the subset of the create database response we persist.
type TursoDatabase struct {
	Name     string `json:"Name"`
	DbID     string `json:"DbId"`
	Hostname string `json:"Hostname"`
}

type createDatabaseRequest struct {
	Name  string `json:"name"`
	Group string `json:"group"`
}

type createDatabaseResponse struct {
	Database TursoDatabase `json:"database"`
}

type createTokenResponse struct {
	JWT string `json:"jwt"`
}

// CreateDatabase creates a database in the configured organization and group.
func (c *TursoClient) CreateDatabase(ctx context.Context, name string) (*TursoDatabase, error) {
	endpoint := fmt.Sprintf("%s/organizations/%s/databases", c.BaseURL, url.PathEscape(c.OrgSlug))
	body, err := sonic.Marshal(createDatabaseRequest{Name: name, Group: c.Group})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	raw, err := c.do(ctx, "create database", http.MethodPost, endpoint, body)
	if err != nil {
		return nil, err
	}

	var out createDatabaseResponse
	if err := sonic.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode create database response: %w", err)
	}
	if out.Database.Hostname == "" {
		return nil, errors.New("create database: response has no hostname")
	}
	if out.Database.Name == "" {
		out.Database.Name = name
	}
	return &out.Database, nil
}

// CreateToken mints a database auth token. expiration uses the API duration
// syntax, e.g. "90d".
func (c *TursoClient) CreateToken(ctx context.Context, dbName, authorization, expiration string) (string, error) {
	q := url.Values{}
	q.Set("expiration", expiration)
	q.Set("authorization", authorization)
	endpoint := fmt.Sprintf("%s/organizations/%s/databases/%s/auth/tokens?%s",
		c.BaseURL, url.PathEscape(c.OrgSlug), url.PathEscape(dbName), q.Encode())

	raw, err := c.do(ctx, "create token", http.MethodPost, endpoint, nil)
	if err != nil {
		return "", err
	}

	var out createTokenResponse
	if err := sonic.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode create token response: %w", err)
	}
	if out.JWT == "" {
		return "", errors.New("create token: empty jwt")
	}
	return out.JWT, nil
}

// DeleteDatabase removes a database. A 404 counts as success.
func (c *TursoClient) DeleteDatabase(ctx context.Context, name string) error {
	endpoint := fmt.Sprintf("%s/organizations/%s/databases/%s",
		c.BaseURL, url.PathEscape(c.OrgSlug), url.PathEscape(name))

	_, err := c.do(ctx, "delete database", http.MethodDelete, endpoint, nil)
	var se *StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
		return nil
	}
	return err
}

// Ping checks the API token by listing the organization's databases.
func (c *TursoClient) Ping(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/organizations/%s/databases", c.BaseURL, url.PathEscape(c.OrgSlug))
	_, err := c.do(ctx, "list databases", http.MethodGet, endpoint, nil)
	return err
}

// do sends the request, retrying transport errors and 5xx/429 answers with
// exponential backoff. Other 4xx answers fail immediately.
func (c *TursoClient) do(ctx context.Context, op, method, endpoint string, body []byte) ([]byte, error) {
	var respBody []byte

	attempt := func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+c.Token)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return fmt.Errorf("%s: %w", op, err)
		}
		defer resp.Body.Close()

		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("%s: read response: %w", op, err)
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			se := &StatusError{Op: op, StatusCode: resp.StatusCode, Body: string(b)}
			c.Logger.Warn("turso request failed",
				zap.String("op", op),
				zap.Int("status_code", resp.StatusCode),
				zap.String("body", se.Body))
			if se.Retryable() {
				return se
			}
			return backoff.Permanent(se)
		}
		respBody = b
		return nil
	}

	retries := c.MaxRetries
	if retries < 0 {
		retries = 0
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(retries)), ctx)

	if err := backoff.Retry(attempt, policy); err != nil {
		return nil, err
	}
	return respBody, nil
}
