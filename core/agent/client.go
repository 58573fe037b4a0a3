package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"radiotiker/logger"
	"radiotiker/model"

	"github.com/cenkalti/backoff/v4"
)

// ServerClient talks to the relay's public API.
type ServerClient struct {
	serverURL  string
	userID     string
	httpClient *http.Client

	// Attempts per request, and the delay before the first retry. The delay
	// doubles after every failure.
	Attempts int
	Backoff  time.Duration
}

func NewServerClient(serverURL, userID string) *ServerClient {
	return &ServerClient{
		serverURL:  strings.TrimRight(serverURL, "/"),
		userID:     userID,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		Attempts:   3,
		Backoff:    time.Second,
	}
}

// SubmitResponse mirrors the relay's /submit-scan answer.
type SubmitResponse struct {
	OK           bool          `json:"ok"`
	UserID       string        `json:"user_id"`
	Count        int           `json:"count"`
	Version      int64         `json:"version"`
	AgentBaseURL string        `json:"agent_base_url"`
	Preview      []model.Track `json:"preview"`
}

// AnnounceResponse mirrors the relay's /agent/announce answer.
type AnnounceResponse struct {
	OK        bool   `json:"ok"`
	BaseURL   string `json:"base_url"`
	Persisted bool   `json:"persisted"`
}

// statusError is a non-2xx answer from the relay.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("server returned status %d: %s", e.status, e.body)
}

func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.status >= 500 || se.status == http.StatusTooManyRequests
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Sync uploads tracks as one replace session at version, batchSize records
// per request. Retrying a batch is safe because the relay clears at most
// once per version.
func (c *ServerClient) Sync(ctx context.Context, tracks []model.Track, version int64, batchSize int) (*SubmitResponse, error) {
	if batchSize <= 0 || batchSize > len(tracks) {
		batchSize = max(len(tracks), 1)
	}
	var last *SubmitResponse

	// An empty library still sends one request so the catalog gets cleared.
	for start := 0; ; start += batchSize {
		end := min(start+batchSize, len(tracks))
		payload := model.ScanPayload{
			UserID:         c.userID,
			Library:        append([]model.Track{}, tracks[start:end]...),
			LibraryVersion: &version,
			Replace:        true,
		}

		var resp SubmitResponse
		if err := c.postWithRetry(ctx, "/submit-scan", payload, &resp); err != nil {
			return nil, fmt.Errorf("submit batch %d-%d: %w", start, end, err)
		}
		last = &resp
		logger.Debug("scan batch accepted",
			logger.Int("from", start),
			logger.Int("to", end),
			logger.Int("count", resp.Count))
		if end >= len(tracks) {
			break
		}
	}
	return last, nil
}

// Announce reports baseURL as this agent's origin.
func (c *ServerClient) Announce(ctx context.Context, baseURL string) (*AnnounceResponse, error) {
	var resp AnnounceResponse
	err := c.postWithRetry(ctx, "/agent/announce", model.AnnouncePayload{UserID: c.userID, BaseURL: baseURL}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *ServerClient) retryPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.Backoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0

	retries := 0
	if c.Attempts > 1 {
		retries = c.Attempts - 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

func (c *ServerClient) postWithRetry(ctx context.Context, path string, body, out any) error {
	op := func() error {
		err := c.post(ctx, path, body, out)
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		logger.Warn("retrying request",
			logger.String("path", path),
			logger.Duration("in", next),
			logger.ErrorField(err))
	}
	return backoff.RetryNotify(op, c.retryPolicy(ctx), notify)
}

func (c *ServerClient) post(ctx context.Context, path string, body, out any) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &statusError{status: resp.StatusCode, body: strings.TrimSpace(string(b))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
