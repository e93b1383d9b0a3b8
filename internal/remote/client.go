// Package remote talks to the Vejmankassen backend: JSON over HTTPS with an
// X-API-Key header on every authenticated call.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tilsynsapp/internal/config"
	"tilsynsapp/internal/metrics"
	"tilsynsapp/internal/models"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

var (
	// ErrNoAPIKey is returned before any network I/O when no key is stored.
	ErrNoAPIKey = errors.New("remote: no api key")
	// ErrNotAuthorized means the login link has not been approved yet.
	ErrNotAuthorized = errors.New("remote: login not authorized yet")
)

// StatusError is a non-2xx response from the backend.
type StatusError struct {
	Code   int
	Status string
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote: unexpected status %d %s", e.Code, e.Status)
}

// KeyProvider yields the stored API key.
type KeyProvider interface {
	APIKey() (string, error)
}

const (
	endpointRows        = "rows"
	endpointUpdate      = "update"
	endpointRequestLink = "request_link"
	endpointAuthCheck   = "auth_check"
	endpointVersion     = "version"
	endpointQueue       = "queue"
)

// User-facing RegelRytteren results.
const (
	MsgRegelRytterenStarted = "Ruteoptimering igangsat, du får en mail med den nye rute snarest"
	MsgNoAPIKey             = "Ingen API-nøgle fundet"
)

type Client struct {
	baseURL string
	http    *http.Client
	keys    KeyProvider
	logr    *zap.Logger
	metrics *metrics.Metrics
}

func NewClient(cfg *config.Config, keys KeyProvider, logr *zap.Logger, m *metrics.Metrics) *Client {
	return &Client{
		baseURL: config.NormalizeBaseURL(cfg.APIURL),
		http:    &http.Client{Timeout: cfg.HTTPTimeout},
		keys:    keys,
		logr:    logr,
		metrics: m,
	}
}

// RowsByStatus fetches all rows carrying the given billing status.
func (c *Client) RowsByStatus(ctx context.Context, status models.FakturaStatus) ([]models.VejmanKassenRow, error) {
	var rows []models.VejmanKassenRow
	err := c.do(ctx, endpointRows, http.MethodPost, "tilsynapp", map[string]string{"status": string(status)}, true, &rows)
	if err != nil {
		c.logr.Error("failed to fetch rows", zap.String("status", string(status)), zap.Error(err))
		return nil, err
	}
	if rows == nil {
		rows = []models.VejmanKassenRow{}
	}
	return rows, nil
}

// UpdateRow sends changed fields and an optional status transition. The
// updates are merged into the top level of the request body.
func (c *Client) UpdateRow(ctx context.Context, id string, updates map[string]any, oldStatus, newStatus *string, userEmail string) error {
	body := make(map[string]any, len(updates)+4)
	for k, v := range updates {
		body[k] = v
	}
	body["id"] = id
	body["oldStatus"] = string(models.StatusNy)
	if oldStatus != nil && *oldStatus != "" {
		body["oldStatus"] = *oldStatus
	}
	if userEmail != "" {
		body["userEmail"] = userEmail
	}
	if newStatus != nil {
		body["fakturaStatus"] = *newStatus
	}

	if err := c.do(ctx, endpointUpdate, http.MethodPost, "tilsynapp/update", body, true, nil); err != nil {
		c.logr.Error("failed to update row", zap.String("id", id), zap.Error(err))
		return err
	}
	return nil
}

// RequestLoginLink asks the backend to mail a magic link and returns the
// token used to poll for approval.
func (c *Client) RequestLoginLink(ctx context.Context, email string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, endpointRequestLink, http.MethodPost, "auth/request-link", map[string]string{"email": email}, false, &resp); err != nil {
		c.logr.Error("failed to request login link", zap.Error(err))
		return "", err
	}
	if strings.TrimSpace(resp.Token) == "" {
		return "", errors.New("remote: empty login token")
	}
	return resp.Token, nil
}

// PollAuth checks whether the login link was approved. It returns
// ErrNotAuthorized until the backend hands out an API key.
func (c *Client) PollAuth(ctx context.Context, token string) (apiKey, email string, err error) {
	var resp struct {
		Authorized bool   `json:"authorized"`
		APIKey     string `json:"api_key"`
		Email      string `json:"email"`
	}
	if err := c.do(ctx, endpointAuthCheck, http.MethodPost, "auth/check", map[string]string{"token": token}, false, &resp); err != nil {
		c.logr.Warn("auth check failed", zap.Error(err))
		return "", "", err
	}
	if !resp.Authorized || strings.TrimSpace(resp.APIKey) == "" {
		return "", "", ErrNotAuthorized
	}
	return resp.APIKey, resp.Email, nil
}

// VersionInfo fetches the version document. Raw keeps every field the
// backend sent.
func (c *Client) VersionInfo(ctx context.Context) (*models.VersionInfo, error) {
	var raw json.RawMessage
	if err := c.do(ctx, endpointVersion, http.MethodGet, "tilsynapp/version", nil, false, &raw); err != nil {
		c.logr.Warn("failed to fetch version info", zap.Error(err))
		return nil, err
	}

	info := &models.VersionInfo{}
	if err := json.Unmarshal(raw, &info.Raw); err != nil {
		return nil, fmt.Errorf("decode version info: %w", err)
	}
	if v, ok := info.Raw["min_version_code"]; ok {
		code, ok := versionCode(v)
		if !ok {
			c.logr.Warn("ignoring unreadable min_version_code", zap.Any("value", v))
		}
		info.MinVersionCode = code
	}
	if msg, ok := info.Raw["message"].(string); ok {
		info.Message = msg
	}
	return info, nil
}

// versionCode reads a version code sent as a number ("3", 3 or 3.0).
func versionCode(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case json.Number:
		f, err := n.Float64()
		return int(f), err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return int(f), true
	default:
		return 0, false
	}
}

// EnqueueRegelRytteren posts a route-optimisation job. Every outcome is
// reported as a message for the user.
func (c *Client) EnqueueRegelRytteren(ctx context.Context, s models.RegelRytterenSettings) models.RegelRytterenResult {
	job := models.QueueJob{
		QueueName: models.RegelRytterenQueue,
		Status:    "NEW",
		Data:      s,
	}

	err := c.do(ctx, endpointQueue, http.MethodPost, "queue", job, true, nil)
	if err == nil {
		return models.RegelRytterenResult{Success: true, Message: MsgRegelRytterenStarted}
	}

	c.logr.Error("failed to enqueue regelrytteren job", zap.Error(err))

	var se *StatusError
	switch {
	case errors.Is(err, ErrNoAPIKey):
		return models.RegelRytterenResult{Message: MsgNoAPIKey}
	case errors.As(err, &se):
		return models.RegelRytterenResult{Message: fmt.Sprintf("Fejl: %d - %s", se.Code, se.Status)}
	default:
		return models.RegelRytterenResult{Message: "Netværksfejl: " + err.Error()}
	}
}

// do performs one call. out may be nil when the response body is ignored.
func (c *Client) do(ctx context.Context, endpoint, method, path string, in any, authed bool, out any) (err error) {
	started := time.Now()
	defer func() { c.metrics.ObserveRemote(endpoint, started, err) }()

	var apiKey string
	if authed {
		apiKey, err = c.apiKey()
		if err != nil {
			return err
		}
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", endpoint, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		req.Header.Set("X-API-Key", apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{
			Code:   resp.StatusCode,
			Status: statusText(resp),
			Body:   string(b),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}

func (c *Client) apiKey() (string, error) {
	if c.keys == nil {
		return "", ErrNoAPIKey
	}
	key, err := c.keys.APIKey()
	if err != nil || strings.TrimSpace(key) == "" {
		return "", ErrNoAPIKey
	}
	return key, nil
}

// statusText returns the reason phrase without the leading code.
func statusText(resp *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	return text
}
