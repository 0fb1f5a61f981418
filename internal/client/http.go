// ABOUTME: HTTP time reference for clock synchronization
// ABOUTME: Probes GET /api/sync and validates the echoed timestamps
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/loopsync/loopsync-go/internal/protocol"
	"github.com/loopsync/loopsync-go/internal/sync"
)

var (
	// ErrStatus wraps non-2xx responses from the server.
	ErrStatus = errors.New("unexpected status")
	// ErrInvalidResponse wraps sync responses with missing or mismatched fields.
	ErrInvalidResponse = errors.New("invalid sync response")
)

// DefaultHTTPTimeout bounds a single HTTP request.
const DefaultHTTPTimeout = 5 * time.Second

// maxErrorBody limits how much of an error body is kept in the error text.
const maxErrorBody = 512

// HTTPConfig configures HTTP access to a loopsync server
type HTTPConfig struct {
	BaseURL    string
	Password   string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// endpoint holds what every request to the server shares
type endpoint struct {
	base     *url.URL
	password string
	client   *http.Client
}

func newEndpoint(config HTTPConfig) (endpoint, error) {
	base, err := url.Parse(strings.TrimSuffix(config.BaseURL, "/"))
	if err != nil {
		return endpoint{}, fmt.Errorf("invalid server url %q: %w", config.BaseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return endpoint{}, fmt.Errorf("invalid server url %q: scheme must be http or https", config.BaseURL)
	}

	client := config.HTTPClient
	if client == nil {
		timeout := config.Timeout
		if timeout <= 0 {
			timeout = DefaultHTTPTimeout
		}
		client = &http.Client{Timeout: timeout}
	}

	return endpoint{base: base, password: config.Password, client: client}, nil
}

// url builds an absolute request url with the password attached.
func (e endpoint) url(path string, query url.Values) string {
	u := *e.base
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	if query == nil {
		query = url.Values{}
	}
	if e.password != "" {
		query.Set("password", e.password)
	}
	u.RawQuery = query.Encode()
	return u.String()
}

// do sends req and returns the body of a 2xx response.
func (e endpoint) do(req *http.Request) ([]byte, error) {
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s failed: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return nil, fmt.Errorf("%w: %s %s: %d: %s",
			ErrStatus, req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return body, nil
}

// HTTPTimeReference answers sync probes over plain HTTP
type HTTPTimeReference struct {
	endpoint
}

// NewHTTPTimeReference creates an HTTP time reference
func NewHTTPTimeReference(config HTTPConfig) (*HTTPTimeReference, error) {
	e, err := newEndpoint(config)
	if err != nil {
		return nil, err
	}
	return &HTTPTimeReference{endpoint: e}, nil
}

// Sync performs one probe round trip.
func (r *HTTPTimeReference) Sync(ctx context.Context, reqSentAt int64) (sync.ServerTimestamps, error) {
	query := url.Values{}
	query.Set("reqSentAt", strconv.FormatInt(reqSentAt, 10))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url(protocol.SyncPath, query), nil)
	if err != nil {
		return sync.ServerTimestamps{}, fmt.Errorf("failed to build sync request: %w", err)
	}

	body, err := r.do(req)
	if err != nil {
		return sync.ServerTimestamps{}, err
	}

	var resp protocol.SyncResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return sync.ServerTimestamps{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	return validateSyncResponse(resp, reqSentAt)
}

func validateSyncResponse(resp protocol.SyncResponse, reqSentAt int64) (sync.ServerTimestamps, error) {
	if resp.ReqSentAt == nil || resp.ReqReceivedAt == nil || resp.ResSentAt == nil {
		return sync.ServerTimestamps{}, fmt.Errorf("%w: missing timestamps", ErrInvalidResponse)
	}
	if *resp.ReqSentAt != reqSentAt {
		return sync.ServerTimestamps{}, fmt.Errorf("%w: echoed reqSentAt %d, sent %d",
			ErrInvalidResponse, *resp.ReqSentAt, reqSentAt)
	}

	return sync.ServerTimestamps{
		ReceivedAt: *resp.ReqReceivedAt,
		SentAt:     *resp.ResSentAt,
	}, nil
}
