package client

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/drblury/funcflow/internal/runtime/config"
	errspkg "github.com/drblury/funcflow/internal/runtime/errors"
	"github.com/drblury/funcflow/internal/runtime/invocation"
	"github.com/drblury/funcflow/internal/runtime/logging"
)

// Control-plane paths, relative to the runtime API base URL.
const (
	PathNext      = "/runtime/invocation/next"
	PathResponse  = "/runtime/invocation/response"
	PathError     = "/runtime/invocation/error"
	PathInitReady = "/runtime/init/ready"
	PathInitError = "/runtime/init/error"
)

const (
	contentTypeJSON   = "application/json"
	contentTypeBinary = "application/octet-stream"
)

// Options configures a Client.
type Options struct {
	// BaseURL is the control plane, for example http://127.0.0.1:9001.
	BaseURL        string
	KeepAlive      bool
	RequestTimeout *time.Duration
	// HTTPClient replaces the client built from KeepAlive and RequestTimeout.
	HTTPClient *http.Client
	Logger     logging.ServiceLogger
}

// OptionsFromConfig maps the runtime engine configuration onto Options.
func OptionsFromConfig(cfg config.RuntimeEngine, logger logging.ServiceLogger) Options {
	return Options{
		BaseURL:        cfg.BaseURL(),
		KeepAlive:      cfg.KeepAlive,
		RequestTimeout: cfg.RequestTimeout,
		Logger:         logger,
	}
}

// Client talks to the control plane. It is driven by a single goroutine.
type Client struct {
	baseURL string
	http    *http.Client
	logger  logging.ServiceLogger
}

func New(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = newHTTPClient(opts.KeepAlive, opts.RequestTimeout)
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		http:    httpClient,
		logger:  logger.With(logging.LogFields{"component": "runtime_client"}),
	}
}

func newHTTPClient(keepAlive bool, timeout *time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DisableKeepAlives = !keepAlive
	c := &http.Client{Transport: transport}
	if timeout != nil {
		c.Timeout = *timeout
	}
	return c
}

// Next long-polls for the next invocation. An empty body is a valid empty
// event.
func (c *Client) Next(ctx context.Context) (invocation.Invocation, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+PathNext, nil)
	if err != nil {
		return invocation.Invocation{}, nil, err
	}
	c.logger.Trace("polling for next invocation", nil)

	resp, err := c.http.Do(req)
	if err != nil {
		return invocation.Invocation{}, nil, normalizeTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		drain(resp.Body)
		return invocation.Invocation{}, nil, &errspkg.BadStatusCodeError{StatusCode: resp.StatusCode}
	}
	if missingBody(resp) {
		return invocation.Invocation{}, nil, errspkg.ErrNoBody
	}

	inv, err := invocation.FromHeaders(resp.Header)
	if err != nil {
		drain(resp.Body)
		return invocation.Invocation{}, nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return invocation.Invocation{}, nil, normalizeTransportError(err)
	}

	c.logger.Debug("received invocation", logging.LogFields{
		"request_id":         inv.RequestID,
		"memory_limit_in_mb": inv.MemoryLimitMB,
		"time_limit_in_ms":   inv.TimeLimitMs,
		"event_bytes":        len(body),
	})
	return inv, body, nil
}

// ReportResult posts the handler output to /response, or the handler error to
// /error when handlerErr is non-nil.
func (c *Client) ReportResult(ctx context.Context, inv invocation.Invocation, output []byte, handlerErr error) error {
	if handlerErr != nil {
		payload := EncodeErrorPayload(errspkg.TypeName(handlerErr), handlerErr.Error())
		return c.post(ctx, PathError, contentTypeJSON, payload, inv.RequestID)
	}
	return c.post(ctx, PathResponse, contentTypeBinary, output, inv.RequestID)
}

// ReportInitReady tells the control plane the handler was constructed.
func (c *Client) ReportInitReady(ctx context.Context) error {
	return c.post(ctx, PathInitReady, "text/plain", []byte(" "), "")
}

// ReportInitError sends the cold start failure once.
func (c *Client) ReportInitError(ctx context.Context, initErr error) error {
	payload := EncodeErrorPayload(errspkg.TypeName(initErr), initErr.Error())
	return c.post(ctx, PathInitError, contentTypeJSON, payload, "")
}

func (c *Client) post(ctx context.Context, path, contentType string, body []byte, requestID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	if requestID != "" {
		req.Header[invocation.HeaderRequestID] = []string{requestID}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return normalizeTransportError(err)
	}
	defer resp.Body.Close()
	drain(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &errspkg.BadStatusCodeError{StatusCode: resp.StatusCode}
	}
	c.logger.Trace("reported to control plane", logging.LogFields{"path": path, "request_id": requestID})
	return nil
}

// missingBody reports a response that carried no body at all. http.Client
// never hands out a nil Body, so a zero length without a Content-Length header
// is the signal. An explicit Content-Length of 0 is an empty event.
func missingBody(resp *http.Response) bool {
	if resp.Body == nil {
		return true
	}
	return resp.ContentLength == 0 && resp.Header.Get("Content-Length") == ""
}

func drain(r io.Reader) {
	_, _ = io.Copy(io.Discard, io.LimitReader(r, 64<<10))
}
