package auth

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"tunechat/internal/core"
)

type mockBackend struct {
	mutex       sync.Mutex
	token       string
	err         error
	sessions    int32
	logouts     int32
	block       chan struct{}
	started     chan struct{}
	startOnce   sync.Once
	logoutDone  chan struct{}
	lastReturn  string
	logoutError error
}

func (m *mockBackend) Session(_ context.Context) (string, error) {
	atomic.AddInt32(&m.sessions, 1)
	if m.started != nil {
		m.startOnce.Do(func() { close(m.started) })
	}
	if m.block != nil {
		<-m.block
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.token, m.err
}

func (m *mockBackend) Logout(_ context.Context) error {
	atomic.AddInt32(&m.logouts, 1)
	if m.logoutDone != nil {
		close(m.logoutDone)
	}
	return m.logoutError
}

func (m *mockBackend) LoginURL(returnTo string) string {
	m.lastReturn = returnTo
	return "http://backend/login?return_to=" + url.QueryEscape(returnTo)
}

type mockSink struct {
	mutex  sync.Mutex
	errors []*core.Error
}

func (m *mockSink) Report(err *core.Error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.errors = append(m.errors, err)
}

func (m *mockSink) Clear() {}

func (m *mockSink) kinds() []core.ErrorKind {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	var kinds []core.ErrorKind
	for _, err := range m.errors {
		kinds = append(kinds, err.Kind)
	}
	return kinds
}

func newTestManager(backend *mockBackend) (*Manager, *mockSink) {
	sink := &mockSink{}
	return NewManager(backend, sink, zap.NewNop()), sink
}

func TestRestoreSession_SetsCredential(t *testing.T) {
	manager, _ := newTestManager(&mockBackend{token: "tok"})

	var notified []string
	manager.Subscribe(func(credential string) { notified = append(notified, credential) })

	manager.RestoreSession(context.Background())

	credential, ok := manager.Credential()
	if !ok || credential != "tok" {
		t.Errorf("Credential() = %q, %v; expected tok, true", credential, ok)
	}
	if len(notified) != 1 || notified[0] != "tok" {
		t.Errorf("listeners notified with %v, expected [tok]", notified)
	}

	// Same token again is not a change.
	manager.RestoreSession(context.Background())
	if len(notified) != 1 {
		t.Errorf("listeners notified %d times, expected 1", len(notified))
	}
}

func TestRestoreSession_FailureClearsCredential(t *testing.T) {
	backend := &mockBackend{token: "tok"}
	manager, sink := newTestManager(backend)
	manager.RestoreSession(context.Background())

	backend.mutex.Lock()
	backend.token, backend.err = "", errors.New("unauthorized")
	backend.mutex.Unlock()

	manager.RestoreSession(context.Background())

	if _, ok := manager.Credential(); ok {
		t.Error("credential should be absent after a failed restore")
	}
	if len(sink.kinds()) != 0 {
		t.Errorf("failed restore should not surface errors, got %v", sink.kinds())
	}
}

func TestRestoreSession_ConcurrentCallsCollapse(t *testing.T) {
	backend := &mockBackend{token: "tok", block: make(chan struct{}), started: make(chan struct{})}
	manager, _ := newTestManager(backend)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			manager.RestoreSession(context.Background())
		}()
	}

	<-backend.started
	time.Sleep(100 * time.Millisecond)
	close(backend.block)
	wg.Wait()

	if got := atomic.LoadInt32(&backend.sessions); got != 1 {
		t.Fatalf("session calls = %d, expected 1", got)
	}
	if _, ok := manager.Credential(); !ok {
		t.Error("credential should be present")
	}
}

func TestConsumeCallbackParameters(t *testing.T) {
	tests := []struct {
		name          string
		query         string
		expectMarker  bool
		expectToken   bool
		expectKinds   []core.ErrorKind
		expectCleaned string
	}{
		{
			name:          "Success marker",
			query:         "spotify_login=success&tab=chat",
			expectMarker:  true,
			expectToken:   true,
			expectCleaned: "tab=chat",
		},
		{
			name:          "Token marker",
			query:         "spotify_token=abc",
			expectMarker:  true,
			expectToken:   true,
			expectCleaned: "",
		},
		{
			name:          "Error marker",
			query:         "spotify_error=access_denied&tab=chat",
			expectMarker:  true,
			expectKinds:   []core.ErrorKind{core.ErrAuthFailed},
			expectCleaned: "tab=chat",
		},
		{
			name:          "No markers",
			query:         "tab=chat",
			expectCleaned: "tab=chat",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &mockBackend{token: "tok"}
			manager, sink := newTestManager(backend)

			query, _ := url.ParseQuery(tt.query)
			cleaned, marker := manager.ConsumeCallbackParameters(context.Background(), query)

			if marker != tt.expectMarker {
				t.Errorf("marker = %v, expected %v", marker, tt.expectMarker)
			}
			if cleaned.Encode() != tt.expectCleaned {
				t.Errorf("cleaned = %q, expected %q", cleaned.Encode(), tt.expectCleaned)
			}
			if _, ok := manager.Credential(); ok != tt.expectToken {
				t.Errorf("credential present = %v, expected %v", ok, tt.expectToken)
			}
			if got := sink.kinds(); len(got) != len(tt.expectKinds) {
				t.Errorf("surfaced errors = %v, expected %v", got, tt.expectKinds)
			}
			if !tt.expectToken && atomic.LoadInt32(&backend.sessions) != 0 {
				t.Error("backend session should not be queried without a success marker")
			}
		})
	}
}

func TestConsumeCallbackParameters_TokenWithoutBackendSession(t *testing.T) {
	backend := &mockBackend{err: errors.New("no session")}
	manager, sink := newTestManager(backend)

	var notified []string
	manager.Subscribe(func(credential string) { notified = append(notified, credential) })

	query, _ := url.ParseQuery("spotify_login=success&spotify_token=abc")
	if _, marker := manager.ConsumeCallbackParameters(context.Background(), query); !marker {
		t.Fatal("marker should be reported")
	}

	if credential, ok := manager.Credential(); !ok || credential != "abc" {
		t.Errorf("credential = %q, %v, expected the token from the callback", credential, ok)
	}
	if len(notified) != 1 || notified[0] != "abc" {
		t.Errorf("listeners notified with %v", notified)
	}
	if atomic.LoadInt32(&backend.sessions) != 0 {
		t.Error("a delivered token must not be replaced by a backend restore")
	}
	if len(sink.kinds()) != 0 {
		t.Errorf("surfaced errors = %v", sink.kinds())
	}
}

func TestLogout_ClearsImmediatelyAndCallsBackend(t *testing.T) {
	backend := &mockBackend{token: "tok", logoutDone: make(chan struct{})}
	manager, _ := newTestManager(backend)
	manager.RestoreSession(context.Background())

	var notified []string
	manager.Subscribe(func(credential string) { notified = append(notified, credential) })

	manager.Logout(context.Background())

	if _, ok := manager.Credential(); ok {
		t.Error("credential should be cleared synchronously")
	}
	if len(notified) != 1 || notified[0] != "" {
		t.Errorf("listeners notified with %v, expected one empty credential", notified)
	}

	<-backend.logoutDone
	manager.Wait()
	if atomic.LoadInt32(&backend.logouts) != 1 {
		t.Errorf("backend logouts = %d, expected 1", backend.logouts)
	}
}

func TestLogout_BackendFailureIsIgnored(t *testing.T) {
	backend := &mockBackend{token: "tok", logoutError: errors.New("down")}
	manager, sink := newTestManager(backend)
	manager.RestoreSession(context.Background())

	manager.Logout(context.Background())
	manager.Wait()

	if _, ok := manager.Credential(); ok {
		t.Error("credential should stay cleared when the backend logout fails")
	}
	if len(sink.kinds()) != 0 {
		t.Errorf("logout failure should not surface errors, got %v", sink.kinds())
	}
}

func TestLogout_DiscardsInFlightRestore(t *testing.T) {
	backend := &mockBackend{token: "tok", block: make(chan struct{}), started: make(chan struct{})}
	manager, _ := newTestManager(backend)

	done := make(chan struct{})
	go func() {
		manager.RestoreSession(context.Background())
		close(done)
	}()

	<-backend.started
	manager.Logout(context.Background())
	close(backend.block)
	<-done
	manager.Wait()

	if _, ok := manager.Credential(); ok {
		t.Error("a restore started before logout must not resurrect the credential")
	}
}

func TestLogin_RecordsReturnLocation(t *testing.T) {
	backend := &mockBackend{}
	manager, _ := newTestManager(backend)

	loginURL := manager.Login("/chat")
	if loginURL != "http://backend/login?return_to=%2Fchat" {
		t.Errorf("Login() = %q", loginURL)
	}
	if manager.ReturnLocation() != "/chat" {
		t.Errorf("ReturnLocation() = %q", manager.ReturnLocation())
	}
}

func TestHandleExpired_RestoresSession(t *testing.T) {
	backend := &mockBackend{token: "fresh"}
	manager, _ := newTestManager(backend)

	manager.HandleExpired(context.Background())

	if credential, _ := manager.Credential(); credential != "fresh" {
		t.Errorf("Credential() = %q after expiry, expected fresh", credential)
	}
}

func TestToken_TokenSource(t *testing.T) {
	manager, _ := newTestManager(&mockBackend{token: "tok"})

	if _, err := manager.Token(); !errors.Is(err, ErrNoCredential) {
		t.Errorf("Token() without credential error = %v", err)
	}

	manager.RestoreSession(context.Background())
	token, err := manager.Token()
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if token.AccessToken != "tok" || token.TokenType != "Bearer" {
		t.Errorf("Token() = %+v", token)
	}
}
