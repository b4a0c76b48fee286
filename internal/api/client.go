package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"draftcal/internal/models"
)

const maxBodyBytes = 1 << 20

// Config holds the connection settings for the drafts service.
type Config struct {
	BaseURL   string
	Token     string
	Timeout   time.Duration
	Transport http.RoundTripper // Optional base transport
}

// StatusError is returned for a non-2xx response that carries no error envelope.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
}

// Client translates draft operations into calls against the REST drafts API.
// It holds no state besides its connection settings.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new drafts API client.
func NewClient(logger *slog.Logger, cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("drafts API base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid drafts API base URL: %w", err)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: newTransport(cfg.Transport, cfg.Token),
		},
		logger: logger,
	}, nil
}

// Create sends a new draft and returns the record with its assigned id and status.
func (c *Client) Create(ctx context.Context, draft models.NewDraft) (Result[models.DraftEvent], error) {
	if draft.Attendees == nil {
		draft.Attendees = []string{}
	}
	if draft.Tags == nil {
		draft.Tags = []string{}
	}
	env, status, err := c.do(ctx, http.MethodPost, "/drafts/create", draft)
	if err != nil {
		return Result[models.DraftEvent]{}, err
	}
	return decodeRecord(env, status, true)
}

// GetByID fetches a single draft.
func (c *Client) GetByID(ctx context.Context, id string) (Result[models.DraftEvent], error) {
	env, status, err := c.do(ctx, http.MethodGet, "/drafts/"+url.PathEscape(id), nil)
	if err != nil {
		return Result[models.DraftEvent]{}, err
	}
	return decodeRecord(env, status, true)
}

// GetUserDrafts lists the drafts owned by userID, as identifiers or full records.
func (c *Client) GetUserDrafts(ctx context.Context, userID string) (Result[UserDrafts], error) {
	env, status, err := c.do(ctx, http.MethodGet, "/drafts/user/"+url.PathEscape(userID), nil)
	if err != nil {
		return Result[UserDrafts]{}, err
	}
	res, skipped, err := decodeList(env, status)
	if skipped > 0 {
		c.logger.Warn("Skipping listed drafts without identifier", "user", userID, "count", skipped)
	}
	return res, err
}

// Validate asks the service to move the draft to the validated status. The
// reply may or may not carry the updated record; see Result.HasValue.
func (c *Client) Validate(ctx context.Context, id string) (Result[models.DraftEvent], error) {
	env, status, err := c.do(ctx, http.MethodPost, "/drafts/"+url.PathEscape(id)+"/validate", nil)
	if err != nil {
		return Result[models.DraftEvent]{}, err
	}
	return decodeRecord(env, status, false)
}

// Update sends the set fields of patch. Like Validate, the reply record is optional.
func (c *Client) Update(ctx context.Context, id string, patch models.DraftPatch) (Result[models.DraftEvent], error) {
	env, status, err := c.do(ctx, http.MethodPut, "/drafts/"+url.PathEscape(id), patch)
	if err != nil {
		return Result[models.DraftEvent]{}, err
	}
	return decodeRecord(env, status, false)
}

// Delete removes the draft. A successful result carries no payload.
func (c *Client) Delete(ctx context.Context, id string) (Result[struct{}], error) {
	env, status, err := c.do(ctx, http.MethodDelete, "/drafts/"+url.PathEscape(id), nil)
	if err != nil {
		return Result[struct{}]{}, err
	}
	return decodeEmpty(env, status), nil
}

// do performs one request and returns the validated envelope and status code. An error
// envelope is returned as-is whatever the status code.
func (c *Client) do(ctx context.Context, method, path string, payload any) (envelope, int, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return envelope{}, 0, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return envelope{}, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug("Calling drafts API", "method", method, "path", path)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return envelope{}, 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return envelope{}, 0, fmt.Errorf("read response: %w", err)
	}

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	if ok && len(bytes.TrimSpace(data)) == 0 {
		return envelope{}, resp.StatusCode, nil
	}
	env, decodeErr := decodeEnvelope(data)
	if decodeErr == nil && env.Error != "" {
		c.logger.Debug("Drafts API returned an error envelope", "method", method, "path", path, "status", resp.StatusCode, "error", env.Error)
		return env, resp.StatusCode, nil
	}
	if !ok {
		return envelope{}, resp.StatusCode, &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode}
	}
	if decodeErr != nil {
		return envelope{}, resp.StatusCode, decodeErr
	}
	return env, resp.StatusCode, nil
}
