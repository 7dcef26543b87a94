package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"strings"
	"time"
)

const (
	apiBaseURL       = "https://gmail.googleapis.com/gmail/v1"
	uploadBaseURL    = "https://gmail.googleapis.com/upload/gmail/v1"
	maxRetries       = 12
	maxBackoffSecond = 600
	defaultQPSValue  = 5.0
)

// GmailClient is the concrete SinkClient backed by the Gmail REST API,
// built directly on net/http + a CredentialProvider rather than the
// generated Google API client library, the same way the teacher's
// Gmail integration avoids the generated client in favor of a thin
// hand-rolled transport with its own retry and rate-limit logic.
type GmailClient struct {
	httpClient         *http.Client
	rateLimiter        *rateLimiter
	logger             *slog.Logger
	userID             string
	internalDateSource InternalDateSource
	labels             *LabelCache
	apiBaseURL         string
	uploadBaseURL      string
}

// GmailClientOption configures a GmailClient.
type GmailClientOption func(*GmailClient)

// WithGmailLogger sets the logger used for retry/backoff diagnostics.
func WithGmailLogger(logger *slog.Logger) GmailClientOption {
	return func(c *GmailClient) { c.logger = logger }
}

// WithGmailQPS scales the rate limiter's quota refill rate by qps/5;
// values of 5 or more keep the default rate.
func WithGmailQPS(qps float64) GmailClientOption {
	return func(c *GmailClient) { c.rateLimiter = newRateLimiter(qps) }
}

// WithGmailBaseURLs overrides the Gmail API and upload base URLs, used
// by tests to point the client at a local fake server.
func WithGmailBaseURLs(apiBase, uploadBase string) GmailClientOption {
	return func(c *GmailClient) {
		c.apiBaseURL = apiBase
		c.uploadBaseURL = uploadBase
	}
}

// NewGmailClient builds a client for targetUserEmail (or "me") that
// authenticates each request via provider and applies internalDateSource
// to import/insert calls.
func NewGmailClient(provider CredentialProvider, targetUserEmail string, internalDateSource InternalDateSource, opts ...GmailClientOption) *GmailClient {
	userID := targetUserEmail
	if userID == "" {
		userID = "me"
	}

	c := &GmailClient{
		httpClient: &http.Client{
			Transport: &gmailRoundTripper{provider: provider, base: http.DefaultTransport},
			Timeout:   60 * time.Second,
		},
		userID:             userID,
		internalDateSource: internalDateSource,
		logger:             slog.Default(),
		apiBaseURL:         apiBaseURL,
		uploadBaseURL:      uploadBaseURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.rateLimiter == nil {
		c.rateLimiter = newRateLimiter(defaultQPSValue)
	}
	c.labels = NewLabelCache(c.createLabel, nil)
	return c
}

// gmailRoundTripper attaches a fresh bearer token to every request,
// fetched per-request from the CredentialProvider so token refresh is
// transparent to callers.
type gmailRoundTripper struct {
	provider CredentialProvider
	base     http.RoundTripper
}

func (rt *gmailRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := rt.provider.Token(req.Context())
	if err != nil {
		return nil, fmt.Errorf("sink: acquire token: %w", err)
	}
	req2 := req.Clone(req.Context())
	req2.Header.Set("Authorization", "Bearer "+token)
	return rt.base.RoundTrip(req2)
}

// Identity returns the authenticated account's email address via the
// Gmail profile endpoint.
func (c *GmailClient) Identity(ctx context.Context) (string, error) {
	data, err := c.doJSON(ctx, opProfile, http.MethodGet, c.apiBaseURL+"/users/"+c.userID+"/profile", nil)
	if err != nil {
		return "", err
	}
	var resp struct {
		EmailAddress string `json:"emailAddress"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("sink: parse profile: %w", err)
	}
	return resp.EmailAddress, nil
}

// EnsureLabel returns the id for name, creating it at Gmail on first
// use and memoizing the result for the lifetime of this client.
func (c *GmailClient) EnsureLabel(ctx context.Context, name string) (string, error) {
	return c.labels.Ensure(ctx, name)
}

// RefreshLabels reloads the client's label cache from Gmail's current
// label list, tolerating entries with a missing name or id.
func (c *GmailClient) RefreshLabels(ctx context.Context) error {
	data, err := c.doJSON(ctx, opLabelsList, http.MethodGet, c.apiBaseURL+"/users/"+c.userID+"/labels", nil)
	if err != nil {
		return err
	}
	var resp struct {
		Labels []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"labels"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("sink: parse labels: %w", err)
	}
	entries := make(map[string]string, len(resp.Labels))
	for _, l := range resp.Labels {
		entries[l.Name] = l.ID
	}
	c.labels.Refresh(entries)
	return nil
}

func (c *GmailClient) createLabel(ctx context.Context, name string) (string, error) {
	body, _ := json.Marshal(map[string]string{
		"name":                name,
		"labelListVisibility": "labelShow",
		"messageListVisibility": "show",
	})
	data, err := c.doJSON(ctx, opLabelsCreate, http.MethodPost, c.apiBaseURL+"/users/"+c.userID+"/labels", body)
	if err != nil {
		return "", err
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &resp); err != nil || resp.ID == "" {
		return "", &IngestError{Endpoint: "labels.create", Detail: fmt.Sprintf("unexpected response: %s", data)}
	}
	return resp.ID, nil
}

// Import uploads the .eml at emlPath via Gmail's import or insert
// endpoint (selected by mode) as a multipart upload.
func (c *GmailClient) Import(ctx context.Context, emlPath string, labelIDs []string, mode Mode) (IngestResult, error) {
	raw, err := os.ReadFile(emlPath)
	if err != nil {
		return IngestResult{}, fmt.Errorf("sink: read %s: %w", emlPath, err)
	}

	endpoint := string(mode)
	op := opMessagesImport
	if mode == ModeInsert {
		op = opMessagesInsert
	}

	metadata := map[string]any{}
	if len(labelIDs) > 0 {
		metadata["labelIds"] = labelIDs
	}
	metadataJSON, _ := json.Marshal(metadata)

	params := url.Values{}
	params.Set("uploadType", "multipart")
	params.Set("internalDateSource", string(c.internalDateSource))
	reqURL := fmt.Sprintf("%s/users/%s/messages/%s?%s", c.uploadBaseURL, c.userID, endpoint, params.Encode())

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := calculateBackoff(attempt)
			c.logger.Debug("retrying sink ingest", "attempt", attempt, "backoff", backoff, "endpoint", endpoint)
			select {
			case <-ctx.Done():
				return IngestResult{}, ctx.Err()
			case <-time.After(backoff):
			}
		}

		if err := c.rateLimiter.acquire(ctx, op); err != nil {
			return IngestResult{}, err
		}

		bodyBytes, contentType, err := buildMultipartBody(metadataJSON, raw)
		if err != nil {
			return IngestResult{}, fmt.Errorf("sink: build request body: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(bodyBytes))
		if err != nil {
			return IngestResult{}, fmt.Errorf("sink: create request: %w", err)
		}
		req.Header.Set("Content-Type", contentType)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}
		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = fmt.Errorf("read response: %w", readErr)
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return parseIngestResponse(endpoint, respBody)
		}

		switch resp.StatusCode {
		case 429:
			c.rateLimiter.throttle(30 * time.Second)
			lastErr = fmt.Errorf("rate limited (429)")
		case 403:
			if isRateLimitError(respBody) {
				c.rateLimiter.throttle(60 * time.Second)
				lastErr = fmt.Errorf("quota exceeded (403)")
			} else {
				return IngestResult{}, &IngestError{Endpoint: endpoint, Detail: fmt.Sprintf("forbidden (403): %s", respBody)}
			}
		case 500, 502, 503, 504:
			lastErr = fmt.Errorf("server error (%d)", resp.StatusCode)
		default:
			return IngestResult{}, &IngestError{Endpoint: endpoint, Detail: fmt.Sprintf("status %d: %s", resp.StatusCode, respBody)}
		}
	}

	return IngestResult{}, &IngestError{Endpoint: endpoint, Detail: fmt.Sprintf("max retries exceeded: %v", lastErr)}
}

func parseIngestResponse(endpoint string, data []byte) (IngestResult, error) {
	var resp struct {
		ID       string   `json:"id"`
		ThreadID string   `json:"threadId"`
		LabelIDs []string `json:"labelIds"`
	}
	if err := json.Unmarshal(data, &resp); err != nil || resp.ID == "" {
		return IngestResult{}, &IngestError{Endpoint: endpoint, Detail: fmt.Sprintf("unexpected response: %s", data)}
	}
	return IngestResult{
		MessageID:     resp.ID,
		ThreadID:      resp.ThreadID,
		AppliedLabels: resp.LabelIDs,
	}, nil
}

// buildMultipartBody assembles a multipart/related body with a JSON
// metadata part followed by the message/rfc822 media part, the shape
// Gmail's uploadType=multipart import/insert endpoints expect.
func buildMultipartBody(metadataJSON []byte, raw []byte) ([]byte, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	metaHeader := textproto.MIMEHeader{}
	metaHeader.Set("Content-Type", "application/json; charset=UTF-8")
	metaPart, err := writer.CreatePart(metaHeader)
	if err != nil {
		return nil, "", err
	}
	if _, err := metaPart.Write(metadataJSON); err != nil {
		return nil, "", err
	}

	mediaHeader := textproto.MIMEHeader{}
	mediaHeader.Set("Content-Type", "message/rfc822")
	mediaPart, err := writer.CreatePart(mediaHeader)
	if err != nil {
		return nil, "", err
	}
	if _, err := mediaPart.Write(raw); err != nil {
		return nil, "", err
	}

	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), writer.FormDataContentType(), nil
}

func (c *GmailClient) doJSON(ctx context.Context, op gmailOperation, method, reqURL string, body []byte) ([]byte, error) {
	if err := c.rateLimiter.acquire(ctx, op); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(calculateBackoff(attempt)):
			}
			if err := c.rateLimiter.acquire(ctx, op); err != nil {
				return nil, err
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
		if err != nil {
			return nil, fmt.Errorf("sink: create request: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return respBody, nil
		}
		switch resp.StatusCode {
		case 429:
			c.rateLimiter.throttle(30 * time.Second)
			lastErr = fmt.Errorf("rate limited (429)")
		case 403:
			if isRateLimitError(respBody) {
				c.rateLimiter.throttle(60 * time.Second)
				lastErr = fmt.Errorf("quota exceeded (403)")
				continue
			}
			return nil, fmt.Errorf("forbidden (403): %s", respBody)
		case 500, 502, 503, 504:
			lastErr = fmt.Errorf("server error (%d)", resp.StatusCode)
		default:
			return nil, fmt.Errorf("request failed (%d): %s", resp.StatusCode, respBody)
		}
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// Close releases resources; the underlying http.Client needs none.
func (c *GmailClient) Close() error { return nil }

func calculateBackoff(attempt int) time.Duration {
	base := float64(uint(1) << uint(attempt))
	if base > maxBackoffSecond {
		base = maxBackoffSecond
	}
	jittered := rand.Float64() * base
	return time.Duration(jittered * float64(time.Second))
}

func isRateLimitError(body []byte) bool {
	s := string(body)
	return strings.Contains(s, "rateLimitExceeded") ||
		strings.Contains(s, "RATE_LIMIT_EXCEEDED") ||
		strings.Contains(s, "Quota exceeded") ||
		strings.Contains(s, "userRateLimitExceeded")
}

var _ SinkClient = (*GmailClient)(nil)
