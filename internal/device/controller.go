// Package device manages the lifecycle of the remote playback device and reconciles the
// events it emits with local state.
package device

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"tunechat/internal/core"
)

// ErrNotReady is returned by commands issued while the device cannot accept them.
var ErrNotReady = errors.New("device not ready")

// Config configures the player a controller constructs.
type Config struct {
	Name                 string
	Volume               float64
	PositionPollInterval time.Duration
}

// Hooks are invoked outside the controller's lock when the device reports a condition that
// another component owns.
type Hooks struct {
	OnAuthenticationError func()
	OnAccountError        func(message string)
}

// Controller owns the device handle, readiness, and the device-reported playback state.
type Controller struct {
	config  Config
	loader  *OnceLoader
	token   TokenFunc
	errors  core.ErrorSink
	metrics core.MetricsRecorder
	logger  *zap.Logger
	hooks   Hooks

	mutex      sync.RWMutex
	active     bool
	generation uint64
	phase      Phase
	player     Player
	deviceID   string
	readiness  core.Readiness
	state      core.PlaybackState
	cancel     context.CancelFunc
	pollCancel context.CancelFunc
	activeCtx  context.Context
}

// NewController creates an inactive controller.
func NewController(config Config, loader *OnceLoader, token TokenFunc, errorSink core.ErrorSink,
	metrics core.MetricsRecorder, logger *zap.Logger) *Controller {
	if config.PositionPollInterval <= 0 {
		config.PositionPollInterval = core.DefaultPositionPollInterval
	}
	if metrics == nil {
		metrics = core.NopRecorder{}
	}

	return &Controller{
		config:    config,
		loader:    loader,
		token:     token,
		errors:    errorSink,
		metrics:   metrics,
		logger:    logger,
		phase:     PhaseUninitialized,
		readiness: core.NotReady,
		state:     core.EmptyPlaybackState(),
	}
}

// SetHooks installs the hooks. It must be called before Start.
func (c *Controller) SetHooks(hooks Hooks) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.hooks = hooks
}

// Start activates the device. It returns immediately; loading and connecting happen in the
// background. Calling Start on an active controller does nothing.
func (c *Controller) Start(ctx context.Context) {
	c.mutex.Lock()
	if c.active {
		c.mutex.Unlock()
		return
	}
	c.active = true
	c.generation++
	gen := c.generation
	c.phase = PhaseLoadingSDK
	activeCtx, cancel := context.WithCancel(ctx)
	c.activeCtx = activeCtx
	c.cancel = cancel
	c.mutex.Unlock()

	c.logger.Info("Activating playback device", zap.Uint64("generation", gen))
	go c.activate(activeCtx, gen)
}

// Stop disconnects the player and resets the device state. Events from the stopped
// activation are ignored from here on.
func (c *Controller) Stop() {
	c.mutex.Lock()
	wasActive := c.active
	c.active = false
	c.generation++
	player := c.player
	c.player = nil
	c.deviceID = ""
	c.readiness = core.NotReady
	c.state = core.EmptyPlaybackState()
	c.phase = PhaseUninitialized
	c.stopPollLocked()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.activeCtx = nil
	c.mutex.Unlock()

	if player != nil {
		player.Disconnect()
	}
	c.metrics.SetDeviceReady(false)

	if wasActive {
		c.logger.Info("Playback device stopped")
	}
}

func (c *Controller) activate(ctx context.Context, gen uint64) {
	sdk, err := c.loader.Load(ctx)
	if err != nil {
		c.failActivation(gen, "failed to load playback sdk", err)
		return
	}
	if !c.setPhase(gen, PhasePlayerConstructed) {
		return
	}

	player, err := sdk.NewPlayer(PlayerOptions{
		Name:    c.config.Name,
		Volume:  c.config.Volume,
		Token:   c.token,
		OnEvent: func(event Event) { c.ingest(gen, event) },
	})
	if err != nil {
		c.failActivation(gen, "failed to construct player", err)
		return
	}

	c.mutex.Lock()
	if gen != c.generation {
		c.mutex.Unlock()
		player.Disconnect()
		return
	}
	c.player = player
	c.phase = PhaseConnecting
	c.mutex.Unlock()

	if err := player.Connect(ctx); err != nil {
		c.mutex.Lock()
		stale := gen != c.generation
		if !stale {
			c.player = nil
			c.deviceID = ""
			c.readiness = core.NotReady
			c.stopPollLocked()
		}
		c.mutex.Unlock()

		if stale {
			return
		}
		player.Disconnect()
		c.failActivation(gen, "failed to connect player", err)
		return
	}

	c.mutex.Lock()
	if gen == c.generation && c.phase == PhaseConnecting {
		c.phase = PhaseConnected
	}
	c.mutex.Unlock()
	c.logger.Info("Playback device connected", zap.String("name", c.config.Name))
}

// failActivation surfaces a connection failure and leaves the controller restartable.
func (c *Controller) failActivation(gen uint64, detail string, err error) {
	c.mutex.Lock()
	if gen != c.generation {
		c.mutex.Unlock()
		return
	}
	c.active = false
	c.phase = PhaseDisconnected
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.mutex.Unlock()

	if errors.Is(err, ErrReported) {
		c.logger.Warn("Playback device activation refused", zap.String("stage", detail), zap.Error(err))
		return
	}
	c.logger.Error("Playback device activation failed", zap.String("stage", detail), zap.Error(err))
	c.metrics.RecordError(string(core.ErrConnectionFailed))
	c.errors.Report(core.WrapError(core.ErrConnectionFailed, detail, err))
}

func (c *Controller) setPhase(gen uint64, phase Phase) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if gen != c.generation {
		return false
	}
	c.phase = phase
	return true
}

// ingest applies a single SDK event. Every event of every activation passes through here.
func (c *Controller) ingest(gen uint64, event Event) {
	c.mutex.Lock()
	if gen != c.generation || !c.active {
		c.mutex.Unlock()
		c.logger.Debug("Dropping event from superseded device activation",
			zap.String("event", string(event.Type)),
			zap.Uint64("generation", gen))
		return
	}

	hooks := c.hooks
	var surfaced *core.Error
	clearErrors := false
	readyChanged := false

	switch event.Type {
	case EventReady:
		readyChanged = c.readiness != core.Ready
		c.readiness = core.Ready
		c.deviceID = event.DeviceID
		c.phase = PhaseConnected
		clearErrors = true
	case EventNotReady:
		readyChanged = c.readiness != core.NotReady
		c.readiness = core.NotReady
		c.phase = PhaseDisconnected
	case EventPlayerStateChanged:
		if event.State == nil {
			c.mutex.Unlock()
			return
		}
		c.state = *event.State
	case EventAutoplayFailed, EventPlaybackError:
		surfaced = core.NewError(core.ErrPlaybackFailed, event.Message)
	case EventInitializationError:
		surfaced = core.NewError(core.ErrConnectionFailed, event.Message)
	case EventAuthenticationError:
		surfaced = core.NewError(core.ErrAuthFailed, event.Message)
	case EventAccountError:
		surfaced = core.NewError(core.ErrAccountIneligible, event.Message)
	default:
		c.mutex.Unlock()
		c.logger.Debug("Ignoring unknown device event", zap.String("event", string(event.Type)))
		return
	}

	c.updatePollLocked(gen)
	ready := c.readiness == core.Ready
	c.mutex.Unlock()

	c.metrics.RecordDeviceEvent(string(event.Type))
	if readyChanged {
		c.metrics.SetDeviceReady(ready)
		c.logger.Info("Device readiness changed",
			zap.Bool("ready", ready),
			zap.String("deviceId", event.DeviceID))
	}
	if clearErrors {
		c.errors.Clear()
	}
	if surfaced == nil {
		return
	}

	c.logger.Warn("Device reported an error",
		zap.String("event", string(event.Type)),
		zap.String("message", event.Message))
	c.metrics.RecordError(string(surfaced.Kind))
	c.errors.Report(surfaced)

	switch event.Type {
	case EventAuthenticationError:
		if hooks.OnAuthenticationError != nil {
			hooks.OnAuthenticationError()
		}
	case EventAccountError:
		if hooks.OnAccountError != nil {
			hooks.OnAccountError(event.Message)
		}
	}
}

// updatePollLocked runs the position poll only while the device is ready and playing.
func (c *Controller) updatePollLocked(gen uint64) {
	shouldPoll := c.readiness == core.Ready && !c.state.Paused && c.player != nil && c.activeCtx != nil
	if !shouldPoll {
		c.stopPollLocked()
		return
	}
	if c.pollCancel != nil {
		return
	}

	pollCtx, cancel := context.WithCancel(c.activeCtx)
	c.pollCancel = cancel
	go c.pollPosition(pollCtx, gen, c.player)
}

func (c *Controller) stopPollLocked() {
	if c.pollCancel != nil {
		c.pollCancel()
		c.pollCancel = nil
	}
}

func (c *Controller) pollPosition(ctx context.Context, gen uint64, player Player) {
	ticker := time.NewTicker(c.config.PositionPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			state, err := player.CurrentState(ctx)
			if err != nil {
				c.logger.Debug("Position poll failed", zap.Error(err))
				continue
			}
			if state == nil {
				continue
			}

			c.mutex.Lock()
			if gen == c.generation && ctx.Err() == nil {
				c.state.PositionMs = state.PositionMs
				if state.DurationMs > 0 {
					c.state.DurationMs = state.DurationMs
				}
			}
			c.mutex.Unlock()
		}
	}
}

// Handle returns the device handle, present only after the device reported ready.
func (c *Controller) Handle() (core.DeviceHandle, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return core.DeviceHandle{ID: c.deviceID}, c.deviceID != ""
}

// Readiness returns the last reported readiness.
func (c *Controller) Readiness() core.Readiness {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.readiness
}

// State returns the device-reported playback state.
func (c *Controller) State() core.PlaybackState {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.state
}

// Phase returns the lifecycle phase.
func (c *Controller) Phase() Phase {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.phase
}

// Active reports whether Start has been called without a matching Stop.
func (c *Controller) Active() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.active
}

func (c *Controller) readyPlayer() (Player, uint64, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	if c.player == nil || c.readiness != core.Ready {
		return nil, 0, ErrNotReady
	}
	return c.player, c.generation, nil
}

// TogglePlay toggles pause on the device.
func (c *Controller) TogglePlay(ctx context.Context) error {
	player, _, err := c.readyPlayer()
	if err != nil {
		return err
	}
	return player.TogglePlay(ctx)
}

// SeekTo moves the playing position and applies it locally once the device accepted it.
func (c *Controller) SeekTo(ctx context.Context, positionMs int) error {
	player, gen, err := c.readyPlayer()
	if err != nil {
		return err
	}
	if err := player.Seek(ctx, positionMs); err != nil {
		return err
	}

	c.mutex.Lock()
	if gen == c.generation {
		c.state.PositionMs = positionMs
	}
	c.mutex.Unlock()
	return nil
}

// SetVolume sets the device volume as a fraction in [0, 1].
func (c *Controller) SetVolume(ctx context.Context, fraction float64) error {
	player, _, err := c.readyPlayer()
	if err != nil {
		return err
	}
	return player.SetVolume(ctx, fraction)
}
