// Package localserver simulates the control plane for local development. The
// runtime polls it like the real thing while developers (or the broker
// bridge) submit events through the invocation endpoint and get the handler
// output back synchronously.
package localserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/drblury/funcflow/internal/runtime/client"
	"github.com/drblury/funcflow/internal/runtime/config"
	errspkg "github.com/drblury/funcflow/internal/runtime/errors"
	"github.com/drblury/funcflow/internal/runtime/invocation"
	"github.com/drblury/funcflow/internal/runtime/jsoncodec"
	"github.com/drblury/funcflow/internal/runtime/logging"
	"github.com/drblury/funcflow/internal/runtime/metrics"
)

// MaxEventBytes caps request bodies on the invocation and report endpoints.
const MaxEventBytes = 6 << 20

// PathDebugState reports the rendezvous state as JSON.
const PathDebugState = "/debug/state"

// PathMetrics serves Prometheus metrics when enabled.
const PathMetrics = "/metrics"

// Options configures a Server.
type Options struct {
	Config  config.Local
	Logger  logging.ServiceLogger
	Metrics *metrics.Metrics
	// Gatherer backs /metrics. Nil uses the default gatherer.
	Gatherer prometheus.Gatherer
}

// Server is the local control plane. One mutex guards the whole rendezvous
// state so every transition is atomic across its fields.
type Server struct {
	cfg     config.Local
	logger  logging.ServiceLogger
	metrics *metrics.Metrics
	handler http.Handler

	mu      sync.Mutex
	state   State
	waiting chan *pendingInvocation
	active  *pendingInvocation
	queue   []*pendingInvocation
	closed  bool

	initMu    sync.Mutex
	initState string
	initError *ErrorPayload

	srvMu    sync.Mutex
	srv      *http.Server
	listener net.Listener
	serveErr chan error
}

func New(opts Options) (*Server, error) {
	if opts.Logger == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if opts.Config.InvocationEndpoint == "" {
		opts.Config.InvocationEndpoint = config.Default().Local.InvocationEndpoint
	}

	s := &Server{
		cfg:       opts.Config,
		logger:    opts.Logger.With(logging.LogFields{"component": "localserver"}),
		metrics:   opts.Metrics,
		state:     WaitingForRuntimePoll,
		initState: "pending",
	}
	s.handler = s.routes(opts.Gatherer)
	return s, nil
}

func (s *Server) routes(gatherer prometheus.Gatherer) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc(client.PathNext, s.handleNext).Methods(http.MethodGet)
	r.HandleFunc(client.PathResponse, s.handleReport(false)).Methods(http.MethodPost)
	r.HandleFunc(client.PathError, s.handleReport(true)).Methods(http.MethodPost)
	r.HandleFunc(client.PathInitReady, s.handleInitReady).Methods(http.MethodPost)
	r.HandleFunc(client.PathInitError, s.handleInitError).Methods(http.MethodPost)
	r.HandleFunc(s.cfg.InvocationEndpoint, s.handleInvoke).Methods(http.MethodPost)
	r.HandleFunc(PathDebugState, s.handleDebugState).Methods(http.MethodGet)
	if s.cfg.MetricsEnabled {
		r.Handle(PathMetrics, metrics.Handler(gatherer)).Methods(http.MethodGet)
	}
	return r
}

// Handler returns the router, for tests and for mounting elsewhere.
func (s *Server) Handler() http.Handler { return s.handler }

// Start listens on the configured address and serves in the background.
// Port 0 picks a free port; see Addr.
func (s *Server) Start() error {
	s.srvMu.Lock()
	defer s.srvMu.Unlock()

	if s.srv != nil {
		return fmt.Errorf("funcflow: local server already started")
	}
	ln, err := net.Listen("tcp", s.cfg.Address())
	if err != nil {
		return fmt.Errorf("funcflow: listen on %s: %w", s.cfg.Address(), err)
	}

	s.listener = ln
	s.srv = &http.Server{
		Handler:           h2c.NewHandler(s.handler, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.serveErr = make(chan error, 1)

	go func() {
		err := s.srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Local server stopped", err, nil)
			s.serveErr <- err
		}
		close(s.serveErr)
	}()

	s.logger.Info("Local server listening", logging.LogFields{
		"address":             ln.Addr().String(),
		"invocation_endpoint": s.cfg.InvocationEndpoint,
	})
	return nil
}

// Addr returns the listening address, or "" before Start.
func (s *Server) Addr() string {
	s.srvMu.Lock()
	defer s.srvMu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// URL returns the base URL a RuntimeClient should use, or "" before Start.
func (s *Server) URL() string {
	addr := s.Addr()
	if addr == "" {
		return ""
	}
	return "http://" + addr
}

// Shutdown fails every pending invocation with errors.ErrServerShutdown,
// releases a parked poll and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if n := s.failPending(); n > 0 {
		s.logger.Info("Failed pending invocations on shutdown", logging.LogFields{"count": n})
	}

	s.srvMu.Lock()
	srv := s.srv
	serveErr := s.serveErr
	s.srvMu.Unlock()

	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return err
	}
	return <-serveErr
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	inv, wait, ok, err := s.beginPoll()
	if !ok {
		status := http.StatusServiceUnavailable
		var rejected *pollRejectedError
		if errors.As(err, &rejected) {
			status = http.StatusUnprocessableEntity
			s.logger.Error("Rejected runtime poll", err, nil)
		}
		http.Error(w, err.Error(), status)
		return
	}

	if inv == nil {
		s.logger.Trace("Runtime poll parked", nil)
		select {
		case got, open := <-wait:
			if !open {
				http.Error(w, errspkg.ErrServerShutdown.Error(), http.StatusServiceUnavailable)
				return
			}
			inv = got
		case <-r.Context().Done():
			s.abandonPoll(wait)
			s.logger.Debug("Runtime poll abandoned", nil)
			return
		}
		if !s.claimDelivery(r.Context(), inv) {
			if !s.isClosed() {
				return
			}
			http.Error(w, errspkg.ErrServerShutdown.Error(), http.StatusServiceUnavailable)
			return
		}
	}

	invocation.Invocation{
		RequestID:     inv.requestID,
		MemoryLimitMB: s.cfg.MemoryLimitMB,
		TimeLimitMs:   s.cfg.TimeLimitMs,
	}.Apply(w.Header())
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(inv.body)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(inv.body); err != nil {
		s.logger.Error("Writing invocation to runtime failed", err, logging.LogFields{"request_id": inv.requestID})
	}
	s.logger.Debug("Invocation delivered to runtime", logging.LogFields{"request_id": inv.requestID})
}

func (s *Server) handleReport(failed bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxEventBytes))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		inv, err := s.resolve(invocation.RequestIDFrom(r.Header), outcome{body: body, failed: failed})
		if err != nil {
			s.logger.Error("Rejected runtime report", err, logging.LogFields{"failed": failed})
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}

		s.logger.Debug("Runtime reported invocation", logging.LogFields{
			"request_id": inv.requestID,
			"failed":     failed,
			"bytes":      len(body),
		})
		w.WriteHeader(http.StatusOK)
	}
}

func (s *Server) handleInitReady(w http.ResponseWriter, r *http.Request) {
	drainBody(r)
	s.initMu.Lock()
	s.initState = "ready"
	s.initError = nil
	s.initMu.Unlock()
	s.logger.Info("Runtime initialized", nil)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleInitError(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxEventBytes))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	payload := (&InvocationFailedError{Payload: body}).Decode()

	s.initMu.Lock()
	s.initState = "failed"
	s.initError = &payload
	s.initMu.Unlock()

	s.logger.Error("Runtime initialization failed", fmt.Errorf("%s: %s", payload.ErrorType, payload.ErrorMessage), nil)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxEventBytes))
	if err != nil {
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
		return
	}

	requestID, output, err := s.SubmitInvocation(r.Context(), body)
	w.Header()[invocation.HeaderRequestID] = []string{requestID}

	var failed *InvocationFailedError
	switch {
	case err == nil:
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(output)
	case errors.As(err, &failed):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write(failed.Payload)
	case errors.Is(err, errspkg.ErrServerShutdown):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write(client.EncodeErrorPayload("ServerShutdown", err.Error()))
	default:
		// The caller went away; nobody is left to read a reply.
		s.logger.Debug("Invocation caller left", logging.LogFields{"request_id": requestID, "error": err.Error()})
	}
}

type debugState struct {
	State           string           `json:"state"`
	QueueDepth      int              `json:"queue_depth"`
	ActiveRequestID string           `json:"active_request_id,omitempty"`
	Init            string           `json:"init"`
	InitError       *ErrorPayload    `json:"init_error,omitempty"`
	Metrics         metrics.Snapshot `json:"metrics"`
}

func (s *Server) handleDebugState(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	snap := debugState{
		State:      s.state.String(),
		QueueDepth: len(s.queue),
	}
	if s.active != nil {
		snap.ActiveRequestID = s.active.requestID
	}
	s.mu.Unlock()

	s.initMu.Lock()
	snap.Init = s.initState
	snap.InitError = s.initError
	s.initMu.Unlock()

	snap.Metrics = s.metrics.Snapshot()

	w.Header().Set("Content-Type", "application/json")
	if err := jsoncodec.Encode(w, snap); err != nil {
		s.logger.Error("Encoding debug state failed", err, nil)
	}
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func drainBody(r *http.Request) {
	_, _ = io.Copy(io.Discard, io.LimitReader(r.Body, MaxEventBytes))
}
