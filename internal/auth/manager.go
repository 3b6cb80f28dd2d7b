// Package auth owns the session credential: restoring it from the backend, consuming OAuth
// callback markers, and clearing it on logout or expiry.
package auth

import (
	"context"
	"errors"
	"net/url"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"tunechat/internal/core"
)

const (
	// ParamLoginResult is set by the backend after a successful OAuth round trip
	ParamLoginResult = "spotify_login"
	// ParamToken carries the token itself when the backend session cookie stays in the browser
	ParamToken = "spotify_token"
	// ParamError carries the OAuth failure reason
	ParamError = "spotify_error"
	// LoginSuccess is the value of ParamLoginResult on success
	LoginSuccess = "success"

	// LogoutTimeout bounds the background logout call
	LogoutTimeout = 10 * time.Second

	restoreKey = "session"
)

// ErrNoCredential is returned by Token when no credential is held.
var ErrNoCredential = errors.New("no credential")

// Manager holds the current credential. A credential is present iff non-empty.
type Manager struct {
	backend core.SessionBackend
	errors  core.ErrorSink
	logger  *zap.Logger

	restore singleflight.Group

	mutex      sync.RWMutex
	credential string
	returnTo   string
	epoch      uint64
	listeners  []func(string)

	pending sync.WaitGroup
}

// NewManager creates a manager with no credential.
func NewManager(backend core.SessionBackend, errorSink core.ErrorSink, logger *zap.Logger) *Manager {
	return &Manager{
		backend: backend,
		errors:  errorSink,
		logger:  logger,
	}
}

// Subscribe registers fn to be called with the new credential on every change.
// Listeners run synchronously on the goroutine that changed the credential.
func (m *Manager) Subscribe(fn func(credential string)) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Credential returns the current credential and whether one is present.
func (m *Manager) Credential() (string, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.credential, m.credential != ""
}

// Token makes the manager an oauth2.TokenSource yielding the current credential.
func (m *Manager) Token() (*oauth2.Token, error) {
	credential, ok := m.Credential()
	if !ok {
		return nil, ErrNoCredential
	}
	return &oauth2.Token{AccessToken: credential, TokenType: "Bearer"}, nil
}

// RestoreSession asks the backend for the session's token. Success sets the credential,
// any failure clears it. Concurrent calls share a single backend request.
func (m *Manager) RestoreSession(ctx context.Context) {
	m.mutex.RLock()
	epoch := m.epoch
	m.mutex.RUnlock()

	_, _, _ = m.restore.Do(restoreKey, func() (interface{}, error) {
		token, err := m.backend.Session(ctx)
		if err != nil {
			m.logger.Info("No session restored", zap.Error(err))
			token = ""
		} else {
			m.logger.Info("Session restored")
		}

		// A logout that happened while the request was in flight wins.
		m.setCredential(token, epoch)
		return nil, nil
	})
}

// ConsumeCallbackParameters handles the markers the backend appends after the OAuth round trip.
// It returns the query without the markers and whether any marker was present.
func (m *Manager) ConsumeCallbackParameters(ctx context.Context, query url.Values) (url.Values, bool) {
	cleaned := url.Values{}
	for key, values := range query {
		cleaned[key] = append([]string(nil), values...)
	}

	token := query.Get(ParamToken)
	success := query.Get(ParamLoginResult) == LoginSuccess || query.Has(ParamToken)
	failure := query.Has(ParamError)

	if !success && !failure && !query.Has(ParamLoginResult) {
		return cleaned, false
	}

	cleaned.Del(ParamLoginResult)
	cleaned.Del(ParamToken)
	cleaned.Del(ParamError)

	if failure {
		reason := query.Get(ParamError)
		m.logger.Warn("OAuth callback reported an error", zap.String("reason", reason))
		m.errors.Report(core.NewError(core.ErrAuthFailed, reason))
	}
	switch {
	case token != "":
		m.adopt(token)
	case success:
		m.RestoreSession(ctx)
	}

	return cleaned, true
}

// adopt sets a token delivered by the callback without asking the backend.
func (m *Manager) adopt(token string) {
	m.mutex.RLock()
	epoch := m.epoch
	m.mutex.RUnlock()

	m.logger.Info("Session token received from callback")
	m.setCredential(token, epoch)
}

// Login records where to return after the OAuth flow and returns the backend login URL.
func (m *Manager) Login(returnTo string) string {
	m.mutex.Lock()
	m.returnTo = returnTo
	m.mutex.Unlock()

	return m.backend.LoginURL(returnTo)
}

// ReturnLocation is the location recorded by the last Login.
func (m *Manager) ReturnLocation() string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.returnTo
}

// Logout clears the credential immediately and tells the backend in the background.
func (m *Manager) Logout(ctx context.Context) {
	m.mutex.Lock()
	m.epoch++
	epoch := m.epoch
	m.mutex.Unlock()

	m.setCredential("", epoch)

	m.pending.Add(1)
	go func() {
		defer m.pending.Done()

		logoutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), LogoutTimeout)
		defer cancel()

		if err := m.backend.Logout(logoutCtx); err != nil {
			m.logger.Warn("Backend logout failed", zap.Error(err))
			return
		}
		m.logger.Debug("Backend logout completed")
	}()
}

// HandleExpired reacts to the device reporting a rejected credential.
func (m *Manager) HandleExpired(ctx context.Context) {
	m.logger.Info("Credential rejected, restoring session")
	m.RestoreSession(ctx)
}

// Wait blocks until background logout calls have finished.
func (m *Manager) Wait() {
	m.pending.Wait()
}

func (m *Manager) setCredential(credential string, epoch uint64) {
	m.mutex.Lock()
	if epoch != m.epoch || credential == m.credential {
		m.mutex.Unlock()
		return
	}
	m.credential = credential
	listeners := slices.Clone(m.listeners)
	m.mutex.Unlock()

	m.logger.Debug("Credential changed", zap.Bool("present", credential != ""))
	for _, listener := range listeners {
		listener(credential)
	}
}
