// Package server is the HTTP surface of the call agent: the Twilio voice
// webhook, the media stream WebSocket, read-only call status and health.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/AltairaLabs/callkit/dialogue"
	"github.com/AltairaLabs/callkit/logger"
	"github.com/AltairaLabs/callkit/session"
	"github.com/AltairaLabs/callkit/statestore"
	"github.com/AltairaLabs/callkit/telemetry"
	"github.com/AltairaLabs/callkit/telephony"
)

// Routes.
const (
	VoicePath  = "/v1/twilio/voice"
	StreamPath = "/v1/twilio/stream"
	CallsPath  = "/v1/calls"
	HealthPath = "/health"
)

const (
	// defaultReadHeaderTimeout prevents Slowloris attacks. Only the
	// header read is bounded; media streams are long-lived.
	defaultReadHeaderTimeout = 10 * time.Second

	defaultIdleTimeout = 120 * time.Second

	// defaultMaxBodySize caps webhook bodies (1 MB).
	defaultMaxBodySize int64 = 1 << 20

	defaultListLimit = 50
	maxListLimit     = 500
)

// CallRunner runs one call over an accepted media stream.
type CallRunner interface {
	Run(ctx context.Context, t session.Transport) (dialogue.Snapshot, error)
}

// Option configures a [Server].
type Option func(*Server)

// WithRegistry serves in-progress calls from reg.
func WithRegistry(reg *statestore.Registry) Option {
	return func(s *Server) { s.registry = reg }
}

// WithStore serves finished calls from store.
func WithStore(store statestore.Store) Option {
	return func(s *Server) { s.store = store }
}

// WithSignatureValidation rejects voice webhooks whose X-Twilio-Signature
// does not verify against authToken.
func WithSignatureValidation(authToken string) Option {
	return func(s *Server) { s.authToken = authToken }
}

// WithAllowedOrigins restricts WebSocket upgrade origins. Empty accepts any.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) { s.allowedOrigins = origins }
}

// WithTracerProvider instruments the handler with tp instead of the
// global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Server) { s.tracerProvider = tp }
}

// WithReadHeaderTimeout sets the request header read timeout. Default: 10s.
func WithReadHeaderTimeout(d time.Duration) Option {
	return func(s *Server) { s.readHeaderTimeout = d }
}

// WithBridgeOptions sets the media stream bridge options.
func WithBridgeOptions(opts telephony.Options) Option {
	return func(s *Server) { s.bridgeOpts = opts }
}

// Server accepts calls and hands each one to a CallRunner.
type Server struct {
	runner        CallRunner
	publicBaseURL string
	streamURL     string

	registry       *statestore.Registry
	store          statestore.Store
	authToken      string
	allowedOrigins []string
	tracerProvider trace.TracerProvider
	bridgeOpts     telephony.Options

	readHeaderTimeout time.Duration

	httpSrv   *http.Server
	httpSrvMu sync.Mutex

	// callCtx parents every call; cancelling it ends the calls still
	// running at shutdown.
	callCtx    context.Context
	cancelCall context.CancelFunc
	callsMu    sync.Mutex
	calls      sync.WaitGroup
	active     atomic.Int64
	draining   atomic.Bool
}

// New creates a server. publicBaseURL is where Twilio reaches this service;
// the stream URL handed out in TwiML is derived from it.
func New(runner CallRunner, publicBaseURL string, opts ...Option) (*Server, error) {
	if runner == nil {
		return nil, errors.New("server: call runner is required")
	}
	streamURL, err := telephony.StreamURL(publicBaseURL, StreamPath)
	if err != nil {
		return nil, err
	}
	s := &Server{
		runner:            runner,
		publicBaseURL:     publicBaseURL,
		streamURL:         streamURL,
		readHeaderTimeout: defaultReadHeaderTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.callCtx, s.cancelCall = context.WithCancel(context.Background())
	if len(s.allowedOrigins) > 0 && s.bridgeOpts.CheckOrigin == nil {
		s.bridgeOpts.CheckOrigin = s.checkOrigin
	}
	return s, nil
}

// Handler returns the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+VoicePath, s.handleVoice)
	mux.HandleFunc("POST "+VoicePath, s.handleVoice)
	mux.HandleFunc("GET "+StreamPath, s.handleStream)
	mux.HandleFunc("GET "+CallsPath, s.handleListCalls)
	mux.HandleFunc("GET "+CallsPath+"/{id}", s.handleGetCall)
	mux.HandleFunc("GET "+HealthPath, s.handleHealth)
	return telemetry.HTTPMiddleware(mux, "callkit-server", s.tracerProvider)
}

// ListenAndServe serves on addr until Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.readHeaderTimeout,
		IdleTimeout:       defaultIdleTimeout,
	}

	s.httpSrvMu.Lock()
	s.httpSrv = srv
	s.httpSrvMu.Unlock()

	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and waits for calls in progress to
// finish. Calls still running when ctx is done are cancelled, which ends
// them with a closing line where the transport allows.
func (s *Server) Shutdown(ctx context.Context) error {
	s.callsMu.Lock()
	s.draining.Store(true)
	s.callsMu.Unlock()

	var firstErr error
	s.httpSrvMu.Lock()
	srv := s.httpSrv
	s.httpSrvMu.Unlock()
	if srv != nil {
		firstErr = srv.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.calls.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancelCall()
		return firstErr
	case <-ctx.Done():
	}

	logger.Warn("shutdown deadline reached, cancelling calls", "active_calls", s.active.Load())
	s.cancelCall()
	<-done
	if firstErr == nil {
		firstErr = ctx.Err()
	}
	return firstErr
}

// Ready reports whether the server accepts new calls.
func (s *Server) Ready() bool {
	return !s.draining.Load()
}

// ActiveCalls returns the number of media streams being served.
func (s *Server) ActiveCalls() int {
	return int(s.active.Load())
}

func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, defaultMaxBodySize)
	if s.authToken != "" {
		if err := telephony.ValidateRequest(r, s.authToken, s.publicBaseURL); err != nil {
			logger.WarnContext(r.Context(), "rejected voice webhook", "error", err, "remote", r.RemoteAddr)
			http.Error(w, "invalid signature", http.StatusForbidden)
			return
		}
	} else if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	params := map[string]string{}
	if sid := r.FormValue("CallSid"); sid != "" {
		params["call_sid"] = sid
	}
	body, err := telephony.TwiML(s.streamURL, params)
	if err != nil {
		logger.ErrorContext(r.Context(), "build twiml", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	logger.InfoContext(r.Context(), "voice webhook", "call_sid", params["call_sid"], "stream_url", s.streamURL)
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	_, _ = w.Write(body)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if !s.beginCall() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.endCall()

	bridge, err := telephony.Accept(w, r, s.bridgeOpts)
	if err != nil {
		// The upgrader has already written the error response.
		logger.WarnContext(r.Context(), "media stream upgrade failed", "error", err)
		return
	}

	// Keep the inbound trace as the parent of the call's spans.
	ctx := trace.ContextWithSpanContext(s.callCtx, trace.SpanContextFromContext(r.Context()))
	snap, err := s.runner.Run(ctx, bridge)
	if err != nil {
		logger.WarnContext(ctx, "call failed", "call_id", snap.ID, "error", err)
		return
	}
	logger.DebugContext(ctx, "media stream handler done", "call_id", snap.ID, "end_reason", snap.EndReason)
}

func (s *Server) beginCall() bool {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	if s.draining.Load() {
		return false
	}
	s.calls.Add(1)
	s.active.Add(1)
	return true
}

func (s *Server) endCall() {
	s.active.Add(-1)
	s.calls.Done()
}

type listResponse struct {
	Active []statestore.ActiveCall   `json:"active"`
	Recent []*statestore.CallRecord `json:"recent"`
}

func (s *Server) handleListCalls(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}

	resp := listResponse{Active: []statestore.ActiveCall{}, Recent: []*statestore.CallRecord{}}
	if s.registry != nil {
		resp.Active = append(resp.Active, s.registry.List()...)
	}
	if s.store != nil {
		recs, err := s.store.List(r.Context(), statestore.ListOptions{Limit: limit})
		if err != nil {
			logger.ErrorContext(r.Context(), "list call records", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to list calls")
			return
		}
		resp.Recent = append(resp.Recent, recs...)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.registry != nil {
		if call, ok := s.registry.Get(id); ok {
			writeJSON(w, http.StatusOK, call)
			return
		}
	}
	if s.store != nil {
		rec, err := s.store.Load(r.Context(), id)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, rec)
			return
		case !errors.Is(err, statestore.ErrNotFound):
			logger.ErrorContext(r.Context(), "load call record", "call_id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to load call")
			return
		}
	}
	writeError(w, http.StatusNotFound, statestore.ErrNotFound.Error())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status, code := "ok", http.StatusOK
	if s.draining.Load() {
		status, code = "draining", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":       status,
		"active_calls": s.active.Load(),
	})
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Twilio does not send an Origin header.
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return slices.Contains(s.allowedOrigins, u.Scheme+"://"+u.Host)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
