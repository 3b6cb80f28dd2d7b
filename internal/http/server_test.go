package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"tunechat/internal/core"
	"tunechat/internal/flood"
	"tunechat/internal/playback"
	"tunechat/internal/session"
)

type mockSession struct {
	mutex     sync.Mutex
	snapshot  session.Snapshot
	err       error
	calls     []string
	played    []core.Item
	queue     []core.Item
	index     int
	seekMs    int
	volume    float64
	returnTo  string
	callbacks []url.Values
}

func (m *mockSession) record(call string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.calls = append(m.calls, call)
	return m.err
}

func (m *mockSession) update(fn func(m *mockSession)) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	fn(m)
}

func (m *mockSession) Snapshot() session.Snapshot {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.snapshot
}

func (m *mockSession) Login(returnTo string) string {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.returnTo = returnTo
	return "http://backend/api/spotify/login?return_to=" + url.QueryEscape(returnTo)
}

func (m *mockSession) ReturnLocation() string {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.returnTo
}

func (m *mockSession) Callback(_ context.Context, query url.Values) (url.Values, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.callbacks = append(m.callbacks, query)
	cleaned := url.Values{}
	for key, values := range query {
		if key != "spotify_login" {
			cleaned[key] = values
		}
	}
	return cleaned, query.Has("spotify_login")
}

func (m *mockSession) Logout(_ context.Context) {
	_ = m.record("logout")
}

func (m *mockSession) Play(_ context.Context, item core.Item, items []core.Item, index int) error {
	m.mutex.Lock()
	m.played = append(m.played, item)
	m.queue = items
	m.index = index
	m.mutex.Unlock()
	return m.record("play")
}

func (m *mockSession) Toggle(_ context.Context) error { return m.record("toggle") }
func (m *mockSession) Next(_ context.Context) error   { return m.record("next") }

func (m *mockSession) Previous(_ context.Context) error { return m.record("previous") }

func (m *mockSession) Seek(_ context.Context, positionMs int) error {
	m.mutex.Lock()
	m.seekMs = positionMs
	m.mutex.Unlock()
	return m.record("seek")
}

func (m *mockSession) SetVolume(_ context.Context, fraction float64) error {
	m.mutex.Lock()
	m.volume = fraction
	m.mutex.Unlock()
	return m.record("volume")
}

type mockRecommendations struct {
	items  []core.Item
	played []int
}

func (m *mockRecommendations) Latest() ([]core.Item, time.Time) {
	return m.items, time.Unix(1700000000, 0)
}

func (m *mockRecommendations) PlayAt(_ context.Context, index int) error {
	m.played = append(m.played, index)
	return nil
}

type testAPI struct {
	server  *httptest.Server
	session *mockSession
	recs    *mockRecommendations
	metrics *Metrics
}

func newTestAPI(t *testing.T, limit int) *testAPI {
	t.Helper()
	limiter := flood.New(limit)
	t.Cleanup(limiter.Stop)

	a := &testAPI{
		session: &mockSession{snapshot: session.Snapshot{ID: "s-1", Readiness: core.Ready}},
		recs:    &mockRecommendations{items: []core.Item{{ID: "a", URI: "spotify:track:a"}}},
		metrics: NewMetrics(),
	}
	mux := setupRoutes(Deps{
		Session:         a.session,
		Recommendations: a.recs,
		Limiter:         limiter,
		Metrics:         a.metrics,
	}, zap.NewNop())
	a.server = httptest.NewServer(mux)
	t.Cleanup(a.server.Close)
	return a
}

func (a *testAPI) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, _ := http.NewRequestWithContext(context.Background(), method, a.server.URL+path, strings.NewReader(body))
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestCreateHTTPServer(t *testing.T) {
	config := &core.ServerConfig{
		Host:         "0.0.0.0",
		Port:         9090,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	mux := http.NewServeMux()
	server := createHTTPServer(config, mux)

	if server.Addr != "0.0.0.0:9090" {
		t.Errorf("createHTTPServer() Addr = %q, expected %q", server.Addr, "0.0.0.0:9090")
	}
	if server.ReadTimeout != config.ReadTimeout || server.WriteTimeout != config.WriteTimeout {
		t.Errorf("createHTTPServer() timeouts = %v/%v", server.ReadTimeout, server.WriteTimeout)
	}
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	a := newTestAPI(t, 0)

	resp := a.do(t, "GET", "/healthz", "")
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "application/json" {
		t.Errorf("/healthz = %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}

	a.metrics.RecordCommand("play", "ok")
	resp = a.do(t, "GET", "/metrics", "")
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `tunechat_commands_total{command="play",status="ok"} 1`) {
		t.Errorf("/metrics does not expose the command counter:\n%s", body)
	}

	resp = a.do(t, "GET", "/", "")
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "text/html" {
		t.Errorf("/ = %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
}

func TestReadyzFollowsDevice(t *testing.T) {
	a := newTestAPI(t, 0)

	if resp := a.do(t, "GET", "/readyz", ""); resp.StatusCode != http.StatusOK {
		t.Errorf("/readyz with a ready device = %d", resp.StatusCode)
	}

	a.session.update(func(m *mockSession) { m.snapshot.Readiness = core.NotReady })

	if resp := a.do(t, "GET", "/readyz", ""); resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("/readyz without a device = %d", resp.StatusCode)
	}
}

func TestLoginAndCallbackRedirects(t *testing.T) {
	a := newTestAPI(t, 0)

	resp := a.do(t, "GET", "/login?return_to=%2Fchat", "")
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("/login status = %d", resp.StatusCode)
	}
	if location := resp.Header.Get("Location"); !strings.Contains(location, "return_to=%2Fchat") {
		t.Errorf("/login Location = %q", location)
	}

	resp = a.do(t, "GET", "/callback?spotify_login=success&tab=x", "")
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("/callback status = %d", resp.StatusCode)
	}
	if location := resp.Header.Get("Location"); location != "/chat?tab=x" {
		t.Errorf("/callback Location = %q, expected /chat?tab=x", location)
	}
}

func TestPlayCommand(t *testing.T) {
	a := newTestAPI(t, 0)

	body := `{"item":{"id":"b","uri":"spotify:track:b","title":"B"},
		"queue":[{"uri":"spotify:track:a"},{"uri":"spotify:track:b"}],"index":1}`
	resp := a.do(t, "POST", "/api/play", body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/api/play status = %d", resp.StatusCode)
	}

	var snapshot struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil || snapshot.ID != "s-1" {
		t.Errorf("response = %+v, %v", snapshot, err)
	}
	if len(a.session.played) != 1 || a.session.played[0].Title != "B" || a.session.index != 1 || len(a.session.queue) != 2 {
		t.Errorf("played = %+v, queue = %+v, index = %d", a.session.played, a.session.queue, a.session.index)
	}

	resp = a.do(t, "POST", "/api/play", `{"recommendation":0}`)
	if resp.StatusCode != http.StatusOK || len(a.recs.played) != 1 {
		t.Errorf("recommendation play = %d, %v", resp.StatusCode, a.recs.played)
	}

	resp = a.do(t, "POST", "/api/play", `{"title":"no uri"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown field status = %d, expected 400", resp.StatusCode)
	}
	resp = a.do(t, "POST", "/api/play", `{"queue":[{"uri":"x"}],"index":3,"uri":"x"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad index status = %d, expected 400", resp.StatusCode)
	}
}

func TestPlayCommandCanonicalizesLinks(t *testing.T) {
	a := newTestAPI(t, 0)

	resp := a.do(t, "POST", "/api/play", `{"uri":"https://open.spotify.com/track/4uLU6hMCjMI75M1A2tKUQC?si=abc"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/api/play status = %d", resp.StatusCode)
	}
	if len(a.session.played) != 1 || a.session.played[0].URI != "spotify:track:4uLU6hMCjMI75M1A2tKUQC" {
		t.Errorf("played = %+v, expected the canonical uri", a.session.played)
	}

	resp = a.do(t, "POST", "/api/play", `{"uri":"https://www.youtube.com/watch?v=dQw4w9WgXcQ"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("non-track status = %d, expected 400", resp.StatusCode)
	}
	resp = a.do(t, "POST", "/api/play", `{"uri":"spotify:track:a","queue":[{"uri":"spotify:album:x"}],"index":0}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad queue uri status = %d, expected 400", resp.StatusCode)
	}
}

func TestPlayPendingRetryIsAccepted(t *testing.T) {
	a := newTestAPI(t, 0)
	a.session.update(func(m *mockSession) { m.snapshot.RetryPending = true })

	if resp := a.do(t, "POST", "/api/play", `{"uri":"spotify:track:a"}`); resp.StatusCode != http.StatusAccepted {
		t.Errorf("status = %d, expected 202 while a retry is pending", resp.StatusCode)
	}
}

func TestSeekAndVolumeCommands(t *testing.T) {
	a := newTestAPI(t, 0)

	if resp := a.do(t, "POST", "/api/seek", `{"position_ms":42000}`); resp.StatusCode != http.StatusOK {
		t.Errorf("/api/seek status = %d", resp.StatusCode)
	}
	if a.session.seekMs != 42000 {
		t.Errorf("seek = %d", a.session.seekMs)
	}
	if resp := a.do(t, "POST", "/api/seek", `{}`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("/api/seek without position = %d", resp.StatusCode)
	}

	if resp := a.do(t, "POST", "/api/volume", `{"percent":40}`); resp.StatusCode != http.StatusOK {
		t.Errorf("/api/volume status = %d", resp.StatusCode)
	}
	if a.session.volume != 0.4 {
		t.Errorf("volume = %v, expected 0.4", a.session.volume)
	}
}

func TestCommandErrorsMapToStatus(t *testing.T) {
	tests := []struct {
		err      error
		expected int
	}{
		{core.NewError(core.ErrNotAuthorized, playback.DetailNoCredential), http.StatusUnauthorized},
		{core.NewError(core.ErrAccountIneligible, "free"), http.StatusForbidden},
		{core.NewError(core.ErrQueueBoundary, "last track"), http.StatusConflict},
		{core.NewError(core.ErrPlaybackFailed, playback.DetailNotReady), http.StatusServiceUnavailable},
		{core.NewError(core.ErrPlaybackFailed, "rejected"), http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			a := newTestAPI(t, 0)
			a.session.update(func(m *mockSession) {
				m.err = tt.err
				m.snapshot.Notice = "This is the last track."
			})

			resp := a.do(t, "POST", "/api/next", "")
			if resp.StatusCode != tt.expected {
				t.Errorf("status = %d, expected %d", resp.StatusCode, tt.expected)
			}

			var body errorBody
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Kind != string(core.KindOf(tt.err)) || body.Notice == "" {
				t.Errorf("body = %+v", body)
			}
		})
	}
}

func TestCommandsAreRateLimited(t *testing.T) {
	a := newTestAPI(t, 2)

	for i := 0; i < 2; i++ {
		if resp := a.do(t, "POST", "/api/toggle", ""); resp.StatusCode != http.StatusOK {
			t.Fatalf("toggle %d status = %d", i+1, resp.StatusCode)
		}
	}

	resp := a.do(t, "POST", "/api/toggle", "")
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("third toggle status = %d, expected 429", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("a limited response carries Retry-After")
	}
	if len(a.session.calls) != 2 {
		t.Errorf("calls = %v, expected the limited command not to reach the session", a.session.calls)
	}

	// Reads are never limited.
	if resp := a.do(t, "GET", "/api/state", ""); resp.StatusCode != http.StatusOK {
		t.Errorf("/api/state status = %d", resp.StatusCode)
	}
}

func TestRecommendationsEndpoint(t *testing.T) {
	a := newTestAPI(t, 0)

	resp := a.do(t, "GET", "/api/recommendations", "")
	var body struct {
		Items []core.Item `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Items) != 1 || body.Items[0].URI != "spotify:track:a" {
		t.Errorf("items = %+v", body.Items)
	}
}

func TestLogoutReturnsSnapshot(t *testing.T) {
	a := newTestAPI(t, 0)

	if resp := a.do(t, "POST", "/logout", ""); resp.StatusCode != http.StatusOK {
		t.Errorf("/logout status = %d", resp.StatusCode)
	}
	if len(a.session.calls) != 1 || a.session.calls[0] != "logout" {
		t.Errorf("calls = %v", a.session.calls)
	}
}
