// Package http serves the local control API: health and metrics, the login round trip, the
// session state, and the playback commands.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"tunechat/internal/core"
	"tunechat/internal/flood"
	"tunechat/internal/playback"
	"tunechat/internal/session"
	"tunechat/pkg/trackref"
)

const (
	serviceName = "tunechat"
	// maxBodyBytes bounds command request bodies
	maxBodyBytes = 1 << 16
	// commandScope is the limiter scope shared by all playback commands
	commandScope = "commands"
)

// Session is the session surface the API drives.
type Session interface {
	Snapshot() session.Snapshot
	Login(returnTo string) string
	ReturnLocation() string
	Callback(ctx context.Context, query url.Values) (url.Values, bool)
	Logout(ctx context.Context)
	Play(ctx context.Context, item core.Item, items []core.Item, index int) error
	Toggle(ctx context.Context) error
	Seek(ctx context.Context, positionMs int) error
	SetVolume(ctx context.Context, fraction float64) error
	Next(ctx context.Context) error
	Previous(ctx context.Context) error
}

// Recommendations is the latest recommendation list.
type Recommendations interface {
	Latest() ([]core.Item, time.Time)
	PlayAt(ctx context.Context, index int) error
}

// Deps groups what the routes serve.
type Deps struct {
	Session         Session
	Recommendations Recommendations
	Limiter         *flood.Floodgate
	Metrics         *Metrics
}

type Server struct {
	config *core.ServerConfig
	logger *zap.Logger
	server *http.Server
}

func NewServer(config *core.ServerConfig, deps Deps, logger *zap.Logger) *Server {
	mux := setupRoutes(deps, logger)
	return &Server{
		config: config,
		logger: logger,
		server: createHTTPServer(config, mux),
	}
}

func createHTTPServer(config *core.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      handler,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
}

type api struct {
	deps   Deps
	logger *zap.Logger
}

func setupRoutes(deps Deps, logger *zap.Logger) *http.ServeMux {
	a := &api{deps: deps, logger: logger}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"` + serviceName + `"}`))
	})
	mux.HandleFunc("GET /readyz", a.readyz)
	mux.Handle("GET /metrics", deps.Metrics.Handler())
	mux.HandleFunc("GET /{$}", homeHandler(logger))

	mux.HandleFunc("GET /login", a.login)
	mux.HandleFunc("GET /callback", a.callback)
	mux.HandleFunc("POST /logout", a.logout)

	mux.HandleFunc("GET /api/state", a.timed("state", a.state))
	mux.HandleFunc("GET /api/recommendations", a.timed("recommendations", a.recommendations))
	mux.HandleFunc("POST /api/play", a.command("play", a.play))
	mux.HandleFunc("POST /api/toggle", a.command("toggle", func(r *http.Request) error {
		return deps.Session.Toggle(r.Context())
	}))
	mux.HandleFunc("POST /api/seek", a.command("seek", a.seek))
	mux.HandleFunc("POST /api/volume", a.command("volume", a.volume))
	mux.HandleFunc("POST /api/next", a.command("next", func(r *http.Request) error {
		return deps.Session.Next(r.Context())
	}))
	mux.HandleFunc("POST /api/previous", a.command("previous", func(r *http.Request) error {
		return deps.Session.Previous(r.Context())
	}))

	return mux
}

// readyz reports ready once the session has a connected, ready device.
func (a *api) readyz(w http.ResponseWriter, _ *http.Request) {
	snapshot := a.deps.Session.Snapshot()
	status := "ready"
	code := http.StatusOK
	if snapshot.Readiness != core.Ready {
		status = "waiting"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{
		"status":  status,
		"service": serviceName,
		"device":  snapshot.Phase.String(),
	})
}

func (a *api) login(w http.ResponseWriter, r *http.Request) {
	target := a.deps.Session.Login(r.URL.Query().Get("return_to"))
	http.Redirect(w, r, target, http.StatusFound)
}

// callback consumes the OAuth markers and redirects to the recorded location without them.
func (a *api) callback(w http.ResponseWriter, r *http.Request) {
	cleaned, consumed := a.deps.Session.Callback(r.Context(), r.URL.Query())
	if !consumed {
		a.logger.Debug("Callback without login markers")
	}

	location := a.deps.Session.ReturnLocation()
	if location == "" {
		location = "/"
	}
	target, err := url.Parse(location)
	if err != nil || target.IsAbs() {
		target = &url.URL{Path: "/"}
	}
	query := target.Query()
	for key, values := range cleaned {
		for _, v := range values {
			query.Add(key, v)
		}
	}
	target.RawQuery = query.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

func (a *api) logout(w http.ResponseWriter, r *http.Request) {
	a.deps.Session.Logout(r.Context())
	writeJSON(w, http.StatusOK, a.deps.Session.Snapshot())
}

func (a *api) state(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.deps.Session.Snapshot())
}

func (a *api) recommendations(w http.ResponseWriter, _ *http.Request) {
	items, fetchedAt := a.deps.Recommendations.Latest()
	if items == nil {
		items = []core.Item{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items":      items,
		"fetched_at": fetchedAt,
	})
}

type playRequest struct {
	URI            string      `json:"uri"`
	Item           *core.Item  `json:"item"`
	Queue          []core.Item `json:"queue"`
	Index          int         `json:"index"`
	Recommendation *int        `json:"recommendation"`
}

func (a *api) play(r *http.Request) error {
	var req playRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	if req.Recommendation != nil {
		if err := a.deps.Recommendations.PlayAt(r.Context(), *req.Recommendation); err != nil {
			if core.KindOf(err) != "" {
				return err
			}
			return badRequest(err.Error())
		}
		return nil
	}

	item := core.Item{URI: req.URI}
	if req.Item != nil {
		item = *req.Item
		if item.URI == "" {
			item.URI = req.URI
		}
	}
	if item.URI == "" {
		return badRequest("uri is required")
	}
	uri, err := trackref.Parse(item.URI)
	if err != nil {
		return badRequest(fmt.Sprintf("uri %q: %v", item.URI, err))
	}
	item.URI = uri

	if req.Queue != nil && (req.Index < -1 || req.Index >= len(req.Queue)) {
		return badRequest("index out of range for queue")
	}
	for i := range req.Queue {
		uri, err := trackref.Parse(req.Queue[i].URI)
		if err != nil {
			return badRequest(fmt.Sprintf("queue[%d] uri %q: %v", i, req.Queue[i].URI, err))
		}
		req.Queue[i].URI = uri
	}
	return a.deps.Session.Play(r.Context(), item, req.Queue, req.Index)
}

func (a *api) seek(r *http.Request) error {
	var req struct {
		PositionMs *int `json:"position_ms"`
	}
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	if req.PositionMs == nil {
		return badRequest("position_ms is required")
	}
	return a.deps.Session.Seek(r.Context(), *req.PositionMs)
}

// volume accepts a fraction in [0, 1] or a percent in [0, 100].
func (a *api) volume(r *http.Request) error {
	var req struct {
		Volume  *float64 `json:"volume"`
		Percent *float64 `json:"percent"`
	}
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	switch {
	case req.Volume != nil:
		return a.deps.Session.SetVolume(r.Context(), *req.Volume)
	case req.Percent != nil:
		return a.deps.Session.SetVolume(r.Context(), *req.Percent/100)
	default:
		return badRequest("volume or percent is required")
	}
}

// command rate-limits per client, runs fn, and answers with the session snapshot.
func (a *api) command(name string, fn func(r *http.Request) error) http.HandlerFunc {
	return a.timed(name, func(w http.ResponseWriter, r *http.Request) {
		client := clientID(r)
		if a.deps.Limiter != nil && !a.deps.Limiter.Allow(client, commandScope) {
			wait := a.deps.Limiter.RetryAfter(client, commandScope)
			a.deps.Metrics.recordRateLimited()
			a.logger.Info("Command rate limited", zap.String("command", name), zap.String("client", client))
			w.Header().Set("Retry-After", strconv.Itoa(int(wait.Seconds())+1))
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "too many commands"})
			return
		}

		if err := fn(r); err != nil {
			a.writeError(w, name, err)
			return
		}

		snapshot := a.deps.Session.Snapshot()
		code := http.StatusOK
		if snapshot.RetryPending {
			code = http.StatusAccepted
		}
		writeJSON(w, code, snapshot)
	})
}

func (a *api) timed(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next(w, r)
		a.deps.Metrics.RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

type errorBody struct {
	Error  string      `json:"error"`
	Kind   string      `json:"kind,omitempty"`
	Detail string      `json:"detail,omitempty"`
	Notice string      `json:"notice,omitempty"`
	State  interface{} `json:"state,omitempty"`
}

type requestError struct {
	message string
}

func (e *requestError) Error() string { return e.message }

func badRequest(message string) error {
	return &requestError{message: message}
}

func (a *api) writeError(w http.ResponseWriter, command string, err error) {
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: reqErr.message})
		return
	}

	snapshot := a.deps.Session.Snapshot()
	body := errorBody{Error: err.Error(), Notice: snapshot.Notice, State: snapshot}

	var surfaced *core.Error
	if !errors.As(err, &surfaced) {
		a.logger.Error("Command failed", zap.String("command", command), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, body)
		return
	}
	body.Kind = string(surfaced.Kind)
	body.Detail = surfaced.Detail
	writeJSON(w, statusForKind(surfaced), body)
}

// statusForKind maps a surfaced error to the HTTP status the API answers with.
func statusForKind(err *core.Error) int {
	switch err.Kind {
	case core.ErrNotAuthorized, core.ErrAuthFailed:
		return http.StatusUnauthorized
	case core.ErrAccountIneligible:
		return http.StatusForbidden
	case core.ErrQueueBoundary:
		return http.StatusConflict
	case core.ErrConnectionFailed:
		return http.StatusServiceUnavailable
	case core.ErrPlaybackFailed:
		if err.Detail == playback.DetailNotReady {
			return http.StatusServiceUnavailable
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return badRequest(fmt.Sprintf("invalid request body: %v", err))
	}
	return nil
}

func clientID(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func homeHandler(_ *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`<!DOCTYPE html>
<html>
<head>
    <title>tunechat</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 40px; }
        .header { color: #333; }
        .endpoint { margin: 10px 0; }
        .endpoint a { text-decoration: none; color: #0066cc; }
    </style>
</head>
<body>
    <h1 class="header">🎵 tunechat</h1>
    <p>Chat recommendations → Spotify Connect playback</p>

    <h2>Endpoints</h2>
    <div class="endpoint">🔑 <a href="/login">Login</a> - Connect a Spotify account</div>
    <div class="endpoint">🎧 <a href="/api/state">State</a> - Session and playback state</div>
    <div class="endpoint">📝 <a href="/api/recommendations">Recommendations</a> - Latest track list</div>
    <div class="endpoint">📊 <a href="/metrics">Metrics</a> - Prometheus metrics</div>
    <div class="endpoint">💚 <a href="/healthz">Health</a> - Health check</div>
    <div class="endpoint">✅ <a href="/readyz">Ready</a> - Device readiness</div>
</body>
</html>`))
	}
}

func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.server.Addr))

	go func() {
		<-ctx.Done()
		s.logger.Info("Shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Failed to shutdown HTTP server gracefully", zap.Error(err))
		}
	}()

	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}
