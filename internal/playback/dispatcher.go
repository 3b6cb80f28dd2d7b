// Package playback validates and dispatches playback commands to the device and the backend.
package playback

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"tunechat/internal/core"
	"tunechat/internal/queue"
)

const (
	statusOK           = "ok"
	statusError        = "error"
	statusUnauthorized = "unauthorized"
	statusPending      = "pending"
	statusBoundary     = "boundary"
)

const (
	// DetailNotReady is the detail of errors raised while the device is not ready
	DetailNotReady = "device not ready"
	// DetailNoCredential is the detail of not_authorized errors raised without a credential
	DetailNoCredential = "login required"
)

// Device is the playback device as the dispatcher sees it.
type Device interface {
	Handle() (core.DeviceHandle, bool)
	Readiness() core.Readiness
	State() core.PlaybackState
	TogglePlay(ctx context.Context) error
	SeekTo(ctx context.Context, positionMs int) error
	SetVolume(ctx context.Context, fraction float64) error
}

// Credentials yields the current credential.
type Credentials interface {
	Credential() (string, bool)
}

// Capabilities yields the current account capability.
type Capabilities interface {
	Capability() core.Capability
}

// Config bounds retries and command durations.
type Config struct {
	RetryDelay     time.Duration
	MaxRetries     int
	CommandTimeout time.Duration
}

// Dispatcher exposes the playback command surface.
type Dispatcher struct {
	config       Config
	device       Device
	backend      core.PlaybackBackend
	queue        *queue.Navigator
	credentials  Credentials
	capabilities Capabilities
	errors       core.ErrorSink
	metrics      core.MetricsRecorder
	scheduler    Scheduler
	logger       *zap.Logger

	mutex   sync.Mutex
	epoch   uint64
	pending Stopper
}

// Deps groups the collaborators of a Dispatcher.
type Deps struct {
	Device       Device
	Backend      core.PlaybackBackend
	Queue        *queue.Navigator
	Credentials  Credentials
	Capabilities Capabilities
	Errors       core.ErrorSink
	Metrics      core.MetricsRecorder
	Scheduler    Scheduler
}

// NewDispatcher creates a dispatcher. A nil scheduler uses real timers.
func NewDispatcher(config Config, deps Deps, logger *zap.Logger) *Dispatcher {
	if config.RetryDelay <= 0 {
		config.RetryDelay = core.DefaultPlayRetryDelay
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.CommandTimeout <= 0 {
		config.CommandTimeout = core.DefaultCommandTimeout
	}
	if deps.Scheduler == nil {
		deps.Scheduler = TimerScheduler{}
	}
	if deps.Metrics == nil {
		deps.Metrics = core.NopRecorder{}
	}

	return &Dispatcher{
		config:       config,
		device:       deps.Device,
		backend:      deps.Backend,
		queue:        deps.Queue,
		credentials:  deps.Credentials,
		capabilities: deps.Capabilities,
		errors:       deps.Errors,
		metrics:      deps.Metrics,
		scheduler:    deps.Scheduler,
		logger:       logger,
	}
}

type playOptions struct {
	items    []core.Item
	index    int
	setQueue bool
}

// PlayOption adjusts a PlayItem call.
type PlayOption func(*playOptions)

// WithQueue replaces the queue with items, selecting index, before playing.
func WithQueue(items []core.Item, index int) PlayOption {
	return func(o *playOptions) {
		o.items = items
		o.index = index
		o.setQueue = true
	}
}

// authorize checks the common precondition of every command. A failure is surfaced and
// returned; nothing else happens.
func (d *Dispatcher) authorize(command string) error {
	var detail string
	if _, ok := d.credentials.Credential(); !ok {
		detail = DetailNoCredential
	} else if capability := d.capabilities.Capability(); !capability.Eligible {
		detail = capability.Reason
	} else {
		return nil
	}

	err := core.NewError(core.ErrNotAuthorized, detail)
	d.logger.Info("Command rejected, not authorized",
		zap.String("command", command),
		zap.String("reason", detail))
	d.metrics.RecordCommand(command, statusUnauthorized)
	d.metrics.RecordError(string(core.ErrNotAuthorized))
	d.errors.Report(err)
	return err
}

// PlayItem plays uri on the device. While the device is not ready the call is retried after
// RetryDelay, at most MaxRetries times; a newer PlayItem replaces a pending retry.
func (d *Dispatcher) PlayItem(ctx context.Context, uri string, item *core.Item, opts ...PlayOption) error {
	if err := d.authorize("play"); err != nil {
		return err
	}

	var options playOptions
	for _, opt := range opts {
		opt(&options)
	}
	if options.setQueue {
		if err := d.queue.Set(options.items, options.index); err != nil {
			return fmt.Errorf("invalid queue: %w", err)
		}
	}

	d.mutex.Lock()
	d.epoch++
	epoch := d.epoch
	d.cancelPendingLocked()
	d.mutex.Unlock()

	title := uri
	if item != nil && item.Title != "" {
		title = item.Title
	}
	d.logger.Debug("Play requested", zap.String("uri", uri), zap.String("title", title))

	return d.attemptPlay(ctx, uri, epoch, 0)
}

func (d *Dispatcher) attemptPlay(ctx context.Context, uri string, epoch uint64, attempt int) error {
	handle, ok := d.device.Handle()
	if !ok || d.device.Readiness() != core.Ready {
		return d.schedulePlayRetry(uri, epoch, attempt)
	}

	cmdCtx, cancel := context.WithTimeout(ctx, d.config.CommandTimeout)
	defer cancel()

	if err := d.backend.Play(cmdCtx, handle.ID, uri); err != nil {
		surfaced := core.WrapError(core.ErrPlaybackFailed, "play request failed", err)
		d.logger.Error("Play request failed",
			zap.String("uri", uri),
			zap.String("deviceId", handle.ID),
			zap.Error(err))
		d.metrics.RecordCommand("play", statusError)
		d.metrics.RecordError(string(core.ErrPlaybackFailed))
		d.errors.Report(surfaced)
		return surfaced
	}

	d.logger.Info("Play request accepted", zap.String("uri", uri), zap.String("deviceId", handle.ID))
	d.metrics.RecordCommand("play", statusOK)
	return nil
}

func (d *Dispatcher) schedulePlayRetry(uri string, epoch uint64, attempt int) error {
	d.mutex.Lock()
	if epoch != d.epoch {
		d.mutex.Unlock()
		d.logger.Debug("Dropping superseded play", zap.String("uri", uri))
		return nil
	}

	if attempt >= d.config.MaxRetries {
		d.mutex.Unlock()
		surfaced := core.NewError(core.ErrPlaybackFailed, DetailNotReady)
		d.logger.Warn("Device never became ready, giving up",
			zap.String("uri", uri),
			zap.Int("attempts", attempt))
		d.metrics.RecordCommand("play", statusError)
		d.metrics.RecordError(string(core.ErrPlaybackFailed))
		d.errors.Report(surfaced)
		return surfaced
	}
	defer d.mutex.Unlock()

	d.pending = d.scheduler.AfterFunc(d.config.RetryDelay, func() {
		d.retryPlay(uri, epoch, attempt+1)
	})
	d.logger.Debug("Device not ready, retrying play",
		zap.String("uri", uri),
		zap.Int("attempt", attempt+1),
		zap.Duration("delay", d.config.RetryDelay))
	d.metrics.RecordPlayRetry()
	d.metrics.RecordCommand("play", statusPending)
	return nil
}

func (d *Dispatcher) retryPlay(uri string, epoch uint64, attempt int) {
	d.mutex.Lock()
	if epoch != d.epoch {
		d.mutex.Unlock()
		d.logger.Debug("Dropping superseded play retry", zap.String("uri", uri))
		return
	}
	d.pending = nil
	d.mutex.Unlock()

	if err := d.authorize("play"); err != nil {
		return
	}
	_ = d.attemptPlay(context.Background(), uri, epoch, attempt)
}

// Reset cancels a pending play retry. A retry whose timer already fired becomes inert.
func (d *Dispatcher) Reset() {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.epoch++
	d.cancelPendingLocked()
}

// RetryPending reports whether a play retry is scheduled.
func (d *Dispatcher) RetryPending() bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.pending != nil
}

func (d *Dispatcher) cancelPendingLocked() {
	if d.pending != nil {
		d.pending.Stop()
		d.pending = nil
	}
}

// TogglePlayback pauses or resumes the device.
func (d *Dispatcher) TogglePlayback(ctx context.Context) error {
	if err := d.authorize("toggle"); err != nil {
		return err
	}

	if d.device.Readiness() != core.Ready {
		return d.commandFailed("toggle", core.NewError(core.ErrPlaybackFailed, DetailNotReady))
	}

	cmdCtx, cancel := context.WithTimeout(ctx, d.config.CommandTimeout)
	defer cancel()

	if err := d.device.TogglePlay(cmdCtx); err != nil {
		return d.commandFailed("toggle", core.WrapError(core.ErrPlaybackFailed, "toggle rejected", err))
	}
	d.metrics.RecordCommand("toggle", statusOK)
	return nil
}

// Seek moves playback to positionMs, clamped to the current track. Failures are logged only.
func (d *Dispatcher) Seek(ctx context.Context, positionMs int) error {
	if err := d.authorize("seek"); err != nil {
		return err
	}

	if d.device.Readiness() != core.Ready {
		d.logger.Debug("Seek ignored, device not ready")
		d.metrics.RecordCommand("seek", statusError)
		return core.NewError(core.ErrPlaybackFailed, DetailNotReady)
	}

	target := ClampPosition(positionMs, d.device.State().DurationMs)

	cmdCtx, cancel := context.WithTimeout(ctx, d.config.CommandTimeout)
	defer cancel()

	if err := d.device.SeekTo(cmdCtx, target); err != nil {
		d.logger.Warn("Seek failed", zap.Int("positionMs", target), zap.Error(err))
		d.metrics.RecordCommand("seek", statusError)
		return core.WrapError(core.ErrPlaybackFailed, "seek rejected", err)
	}
	d.metrics.RecordCommand("seek", statusOK)
	return nil
}

// SetVolume sets the device volume to fraction, clamped to [0, 1]. Failures are logged only.
func (d *Dispatcher) SetVolume(ctx context.Context, fraction float64) error {
	if err := d.authorize("volume"); err != nil {
		return err
	}

	if d.device.Readiness() != core.Ready {
		d.logger.Debug("Volume change ignored, device not ready")
		d.metrics.RecordCommand("volume", statusError)
		return core.NewError(core.ErrPlaybackFailed, DetailNotReady)
	}

	cmdCtx, cancel := context.WithTimeout(ctx, d.config.CommandTimeout)
	defer cancel()

	volume := ClampVolume(fraction)
	if err := d.device.SetVolume(cmdCtx, volume); err != nil {
		d.logger.Warn("Volume change failed", zap.Float64("volume", volume), zap.Error(err))
		d.metrics.RecordCommand("volume", statusError)
		return nil
	}
	d.metrics.RecordCommand("volume", statusOK)
	return nil
}

// SkipNext plays the next queued item.
func (d *Dispatcher) SkipNext(ctx context.Context) error {
	return d.skip(ctx, "next", d.queue.Next)
}

// SkipPrevious plays the previous queued item.
func (d *Dispatcher) SkipPrevious(ctx context.Context) error {
	return d.skip(ctx, "previous", d.queue.Previous)
}

func (d *Dispatcher) skip(ctx context.Context, command string, navigate func() (core.Item, core.Queue, error)) error {
	if err := d.authorize(command); err != nil {
		return err
	}

	target, advanced, err := navigate()
	if err != nil {
		d.logger.Debug("Skip hit queue boundary", zap.String("command", command))
		d.metrics.RecordCommand(command, statusBoundary)
		var surfaced *core.Error
		if errors.As(err, &surfaced) {
			d.errors.Report(surfaced)
		}
		return err
	}

	d.metrics.RecordCommand(command, statusOK)
	return d.PlayItem(ctx, target.URI, &target, WithQueue(advanced.Items, advanced.Index))
}

func (d *Dispatcher) commandFailed(command string, err *core.Error) error {
	d.logger.Warn("Command failed", zap.String("command", command), zap.Error(err))
	d.metrics.RecordCommand(command, statusError)
	d.metrics.RecordError(string(err.Kind))
	d.errors.Report(err)
	return err
}

// ClampPosition clamps positionMs into [0, durationMs]. An unknown duration only clamps below.
func ClampPosition(positionMs, durationMs int) int {
	if positionMs < 0 {
		return 0
	}
	if durationMs > 0 && positionMs > durationMs {
		return durationMs
	}
	return positionMs
}

// ClampVolume clamps fraction into [0, 1].
func ClampVolume(fraction float64) float64 {
	if math.IsNaN(fraction) {
		return 0
	}
	return math.Max(0, math.Min(1, fraction))
}
