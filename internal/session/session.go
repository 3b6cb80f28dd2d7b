// Package session owns one listening session: it wires the token lifecycle, the account
// capability, the playback device, the command dispatcher, and the queue, and keeps the
// user-facing error and notice.
package session

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tunechat/internal/account"
	"tunechat/internal/auth"
	"tunechat/internal/core"
	"tunechat/internal/device"
	"tunechat/internal/i18n"
	"tunechat/internal/playback"
	"tunechat/internal/queue"
)

// Backend is the backend surface a session needs.
type Backend interface {
	core.SessionBackend
	core.PlaybackBackend
}

// Config configures the components a session owns.
type Config struct {
	Language string
	Device   device.Config
	Playback playback.Config
}

// Deps groups the external collaborators of a session.
type Deps struct {
	Backend   Backend
	Profiles  account.ClientFactory
	Loader    *device.OnceLoader
	Metrics   core.MetricsRecorder
	Scheduler playback.Scheduler
}

// Snapshot is a consistent view of the session for readers.
type Snapshot struct {
	ID           string             `json:"id"`
	LoggedIn     bool               `json:"logged_in"`
	Capability   core.Capability    `json:"capability"`
	Phase        device.Phase       `json:"phase"`
	Readiness    core.Readiness     `json:"readiness"`
	Device       *core.DeviceHandle `json:"device,omitempty"`
	Playback     core.PlaybackState `json:"playback"`
	Progress     float64            `json:"progress"`
	Queue        core.Queue         `json:"queue"`
	HasNext      bool               `json:"has_next"`
	HasPrevious  bool               `json:"has_previous"`
	RetryPending bool               `json:"retry_pending"`
	Error        *core.Error        `json:"error,omitempty"`
	Notice       string             `json:"notice,omitempty"`
	NoticeAt     time.Time          `json:"notice_at,omitempty"`
}

// Session is the aggregate of one listening session. It is also the error sink of every
// component it owns.
type Session struct {
	id         uuid.UUID
	auth       *auth.Manager
	accounts   *account.Resolver
	device     *device.Controller
	queue      *queue.Navigator
	dispatcher *playback.Dispatcher
	localizer  *i18n.Localizer
	logger     *zap.Logger

	hooks sync.WaitGroup

	mutex    sync.RWMutex
	ctx      context.Context
	lastErr  *core.Error
	notice   string
	noticeAt time.Time
}

// New wires a session. Nothing talks to the network until Start.
func New(config Config, deps Deps, logger *zap.Logger) *Session {
	if deps.Metrics == nil {
		deps.Metrics = core.NopRecorder{}
	}

	id := uuid.New()
	s := &Session{
		id:        id,
		queue:     queue.NewNavigator(),
		localizer: i18n.NewLocalizer(config.Language),
		logger:    logger.With(zap.String("sessionId", id.String())),
		ctx:       context.Background(),
	}

	s.auth = auth.NewManager(deps.Backend, s, s.logger.Named("auth"))
	s.accounts = account.NewResolver(deps.Profiles, s, s.logger.Named("account"))
	s.device = device.NewController(config.Device, deps.Loader, s.currentToken, s, deps.Metrics,
		s.logger.Named("device"))
	s.dispatcher = playback.NewDispatcher(config.Playback, playback.Deps{
		Device:       s.device,
		Backend:      deps.Backend,
		Queue:        s.queue,
		Credentials:  s.auth,
		Capabilities: s.accounts,
		Errors:       s,
		Metrics:      deps.Metrics,
		Scheduler:    deps.Scheduler,
	}, s.logger.Named("playback"))

	s.auth.Subscribe(s.onCredential)
	s.accounts.Subscribe(s.onCapability)
	s.device.SetHooks(device.Hooks{
		OnAuthenticationError: s.onDeviceAuthError,
		OnAccountError:        s.onDeviceAccountError,
	})
	return s
}

// ID identifies the session instance.
func (s *Session) ID() string {
	return s.id.String()
}

// Start restores the backend session. ctx bounds the device activation and every background
// call the session makes.
func (s *Session) Start(ctx context.Context) {
	s.mutex.Lock()
	s.ctx = ctx
	s.mutex.Unlock()

	s.logger.Info("Session starting")
	s.auth.RestoreSession(ctx)
}

// Close tears the session down and waits for background work to finish.
func (s *Session) Close() {
	s.teardown()
	s.hooks.Wait()
	s.auth.Wait()
	s.logger.Info("Session closed")
}

func (s *Session) baseContext() context.Context {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.ctx
}

func (s *Session) currentToken() string {
	credential, _ := s.auth.Credential()
	return credential
}

func (s *Session) onCredential(credential string) {
	s.logger.Debug("Credential changed", zap.Bool("present", credential != ""))
	s.accounts.Resolve(s.baseContext(), credential)
}

func (s *Session) onCapability(capability core.Capability) {
	_, loggedIn := s.auth.Credential()
	if capability.Eligible && loggedIn {
		s.logger.Info("Account eligible, activating device")
		s.device.Start(s.baseContext())
		return
	}
	s.logger.Info("Account not eligible", zap.String("reason", capability.Reason))
	s.teardown()
}

func (s *Session) onDeviceAuthError() {
	ctx := s.baseContext()
	s.hooks.Add(1)
	go func() {
		defer s.hooks.Done()
		s.auth.HandleExpired(ctx)
	}()
}

func (s *Session) onDeviceAccountError(message string) {
	reason := message
	if reason == "" {
		reason = "account rejected by device"
	}
	s.accounts.ForceIneligible(reason)
}

// teardown stops the device and drops everything tied to it.
func (s *Session) teardown() {
	s.dispatcher.Reset()
	s.device.Stop()
	s.queue.Clear()
}

// Report implements core.ErrorSink. Queue boundaries only set the notice.
func (s *Session) Report(err *core.Error) {
	if err == nil {
		return
	}
	notice := s.noticeFor(err)

	s.mutex.Lock()
	if err.Kind != core.ErrQueueBoundary {
		s.lastErr = err
	}
	s.notice = notice
	s.noticeAt = time.Now()
	s.mutex.Unlock()

	s.logger.Debug("Notice surfaced", zap.String("kind", string(err.Kind)), zap.String("notice", notice))
}

// Clear implements core.ErrorSink.
func (s *Session) Clear() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.lastErr == nil {
		return
	}
	s.lastErr = nil
	s.notice = ""
	s.noticeAt = time.Time{}
}

func (s *Session) noticeFor(err *core.Error) string {
	switch err.Kind {
	case core.ErrAuthFailed:
		reason := err.Detail
		if reason == "" {
			reason = "unknown"
		}
		return s.localizer.T("error.auth_failed", reason)
	case core.ErrAccountIneligible:
		return s.localizer.T("error.account_ineligible")
	case core.ErrConnectionFailed:
		return s.localizer.T("error.connection_failed")
	case core.ErrPlaybackFailed:
		if err.Detail == playback.DetailNotReady {
			return s.localizer.T("error.device_not_ready")
		}
		return s.localizer.T("error.playback_failed", err.Detail)
	case core.ErrNotAuthorized:
		if err.Detail == playback.DetailNoCredential {
			return s.localizer.T("notice.not_authorized.login")
		}
		return s.localizer.T("notice.not_authorized.premium", err.Detail)
	case core.ErrQueueBoundary:
		if err.Detail == queue.BoundaryFirst {
			return s.localizer.T("notice.queue.first")
		}
		return s.localizer.T("notice.queue.last")
	default:
		return s.localizer.T("error.generic")
	}
}

func (s *Session) setNotice(notice string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.notice = notice
	s.noticeAt = time.Now()
}

// Snapshot returns the current session state.
func (s *Session) Snapshot() Snapshot {
	_, loggedIn := s.auth.Credential()
	state := s.device.State()
	current := s.queue.Current()

	snapshot := Snapshot{
		ID:           s.ID(),
		LoggedIn:     loggedIn,
		Capability:   s.accounts.Capability(),
		Phase:        s.device.Phase(),
		Readiness:    s.device.Readiness(),
		Playback:     state,
		Progress:     state.ProgressPercent(),
		Queue:        current,
		HasNext:      s.queue.HasNext(),
		HasPrevious:  s.queue.HasPrevious(),
		RetryPending: s.dispatcher.RetryPending(),
	}
	if handle, ok := s.device.Handle(); ok {
		snapshot.Device = &handle
	}

	s.mutex.RLock()
	snapshot.Error = s.lastErr
	snapshot.Notice = s.notice
	snapshot.NoticeAt = s.noticeAt
	s.mutex.RUnlock()
	return snapshot
}

// LoggedIn reports whether a credential is present.
func (s *Session) LoggedIn() bool {
	_, ok := s.auth.Credential()
	return ok
}

// Authorized reports whether commands would pass the login and eligibility check.
func (s *Session) Authorized() bool {
	return s.LoggedIn() && s.accounts.Capability().Eligible
}

// Login records returnTo and returns the backend login URL to redirect to.
func (s *Session) Login(returnTo string) string {
	return s.auth.Login(returnTo)
}

// ReturnLocation is where the user asked to land after logging in.
func (s *Session) ReturnLocation() string {
	return s.auth.ReturnLocation()
}

// Callback consumes the login markers of an OAuth return and yields the cleaned query.
func (s *Session) Callback(ctx context.Context, query url.Values) (url.Values, bool) {
	return s.auth.ConsumeCallbackParameters(ctx, query)
}

// Logout clears the credential, stops the device, and resets the session state.
func (s *Session) Logout(ctx context.Context) {
	s.auth.Logout(ctx)
	s.teardown()

	s.mutex.Lock()
	s.lastErr = nil
	s.mutex.Unlock()
	s.setNotice(s.localizer.T("notice.logged_out"))
	s.logger.Info("Logged out")
}

// Play plays item. When items is non-nil the queue is replaced with items at index first.
func (s *Session) Play(ctx context.Context, item core.Item, items []core.Item, index int) error {
	var opts []playback.PlayOption
	if items != nil {
		opts = append(opts, playback.WithQueue(items, index))
	}
	return s.dispatcher.PlayItem(ctx, item.URI, &item, opts...)
}

// Toggle pauses or resumes playback.
func (s *Session) Toggle(ctx context.Context) error {
	return s.dispatcher.TogglePlayback(ctx)
}

// Seek moves the playing position.
func (s *Session) Seek(ctx context.Context, positionMs int) error {
	return s.dispatcher.Seek(ctx, positionMs)
}

// SetVolume sets the volume as a fraction in [0, 1].
func (s *Session) SetVolume(ctx context.Context, fraction float64) error {
	return s.dispatcher.SetVolume(ctx, fraction)
}

// Next plays the next queued track.
func (s *Session) Next(ctx context.Context) error {
	return s.dispatcher.SkipNext(ctx)
}

// Previous plays the previous queued track.
func (s *Session) Previous(ctx context.Context) error {
	return s.dispatcher.SkipPrevious(ctx)
}

// Announce sets an informational notice without touching the surfaced error.
func (s *Session) Announce(key string, args ...interface{}) {
	s.setNotice(s.localizer.T(key, args...))
}
