package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Default timeouts, overridable through Config.
const (
	DefaultMetadataTimeout = 30 * time.Second
	DefaultTransferTimeout = 120 * time.Second
	defaultUserAgent       = "recipevault/0.1"

	// maxErrorBody bounds how much of an error response is read.
	maxErrorBody = 64 << 10
)

// TokenSource provides bearer tokens. Defined at the consumer; the auth
// package provides the real implementation.
type TokenSource interface {
	// Token returns the current access token.
	Token(ctx context.Context) (string, error)
	// Refresh obtains a new access token after the service rejected the
	// current one.
	Refresh(ctx context.Context) (string, error)
}

// Config configures a Client. BaseURL is the service root without the
// /api/v1 prefix, e.g. "https://recipes.example.com".
type Config struct {
	BaseURL   string
	Tokens    TokenSource
	UserAgent string
	Logger    *slog.Logger

	// MetaHTTP serves recipe CRUD and fetches. TransferHTTP serves media
	// uploads and extraction, which may take much longer. Nil clients are
	// built with the default timeouts.
	MetaHTTP     *http.Client
	TransferHTTP *http.Client
}

// Client talks to the recipe service. Network and server failures are
// returned to the caller, not retried. The only automatic retry is a single
// one after refreshing the credential on HTTP 401.
type Client struct {
	baseURL   string
	meta      *http.Client
	transfer  *http.Client
	tokens    TokenSource
	userAgent string
	logger    *slog.Logger
}

// NewClient creates a Client.
func NewClient(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	meta := cfg.MetaHTTP
	if meta == nil {
		meta = &http.Client{Timeout: DefaultMetadataTimeout}
	}

	transfer := cfg.TransferHTTP
	if transfer == nil {
		transfer = &http.Client{Timeout: DefaultTransferTimeout}
	}

	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}

	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		meta:      meta,
		transfer:  transfer,
		tokens:    cfg.Tokens,
		userAgent: ua,
		logger:    logger,
	}
}

// BaseURL returns the service root the client was built with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// request describes one API call. body is kept as bytes so the call can be
// replayed after a credential refresh.
type request struct {
	method      string
	path        string
	contentType string
	body        []byte
	transfer    bool
}

// do executes req and returns the response on 2xx. The caller closes the
// body. Non-2xx responses become *APIError.
func (c *Client) do(ctx context.Context, req request) (*http.Response, error) {
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("remote: %s %s: obtaining token: %w: %w", req.method, req.path, ErrUnauthenticated, err)
	}

	resp, err := c.doOnce(ctx, req, tok)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		drain(resp)

		c.logger.Info("credential rejected, refreshing",
			slog.String("method", req.method),
			slog.String("path", req.path),
		)

		tok, err = c.tokens.Refresh(ctx)
		if err != nil {
			return nil, fmt.Errorf("remote: %s %s: refreshing credential: %w: %w", req.method, req.path, ErrUnauthenticated, err)
		}

		resp, err = c.doOnce(ctx, req, tok)
		if err != nil {
			return nil, err
		}
	}

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		c.logger.Debug("request succeeded",
			slog.String("method", req.method),
			slog.String("path", req.path),
			slog.Int("status", resp.StatusCode),
		)

		return resp, nil
	}

	errBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()

	if readErr != nil {
		errBody = []byte("(failed to read response body)")
	}

	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Message:    errorMessage(errBody),
		Err:        classifyStatus(resp.StatusCode),
	}

	c.logger.Debug("request failed",
		slog.String("method", req.method),
		slog.String("path", req.path),
		slog.Int("status", resp.StatusCode),
		slog.String("message", apiErr.Message),
	)

	return nil, apiErr
}

func (c *Client) doOnce(ctx context.Context, req request, tok string) (*http.Response, error) {
	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.baseURL+req.path, body)
	if err != nil {
		return nil, fmt.Errorf("remote: creating request: %w", err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+tok)
	httpReq.Header.Set("User-Agent", c.userAgent)
	httpReq.Header.Set("Accept", "application/json")

	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}

	hc := c.meta
	if req.transfer {
		hc = c.transfer
	}

	resp, err := hc.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(ctxErr, context.DeadlineExceeded) {
			return nil, fmt.Errorf("remote: %s %s canceled: %w", req.method, req.path, ctxErr)
		}

		return nil, fmt.Errorf("remote: %s %s: %w: %w", req.method, req.path, ErrNetworkUnavailable, err)
	}

	return resp, nil
}

// doJSON sends in (if non-nil) as JSON and decodes the response into out (if
// non-nil).
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	req := request{method: method, path: path}

	if in != nil {
		data, err := jsonBody(in)
		if err != nil {
			return err
		}

		req.body = data
		req.contentType = "application/json"
	}

	resp, err := c.do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return decodeBody(resp, out)
}

func jsonBody(in any) ([]byte, error) {
	data, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("remote: encoding request: %w", err)
	}

	return data, nil
}

func decodeBody(resp *http.Response, out any) error {
	if out == nil {
		drain(resp)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("remote: decoding response: %w: %w", ErrProtocol, err)
	}

	return nil
}

// drain discards and closes a body so the connection can be reused.
func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
}
