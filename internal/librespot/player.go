package librespot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tunechat/internal/core"
	"tunechat/internal/device"
)

const (
	// ReconnectDelay is the wait between attempts to reopen a dropped event stream
	ReconnectDelay = 2 * time.Second
)

var errNoCredential = errors.New("player has no credential to connect with")

// SDK constructs players backed by one go-librespot daemon.
type SDK struct {
	host   string
	port   int
	logger *zap.Logger
}

// Loader returns a load function that checks the daemon answers before handing out the SDK.
// Any HTTP response counts, since the check carries no credential.
func Loader(host string, port int, logger *zap.Logger) device.LoadFunc {
	return func(ctx context.Context) (device.SDK, error) {
		client := NewClient(host, port, nil)
		var statusErr *StatusError
		if _, err := client.Status(ctx); err != nil && !errors.As(err, &statusErr) {
			return nil, fmt.Errorf("go-librespot daemon at %s:%d unreachable: %w", host, port, err)
		}
		logger.Info("go-librespot daemon reachable", zap.String("host", host), zap.Int("port", port))
		return &SDK{host: host, port: port, logger: logger}, nil
	}
}

// NewPlayer constructs an unconnected player.
func (s *SDK) NewPlayer(opts device.PlayerOptions) (device.Player, error) {
	if opts.OnEvent == nil {
		return nil, errors.New("player needs an event handler")
	}
	return &Player{
		client:         NewClient(s.host, s.port, opts.Token),
		wsURL:          fmt.Sprintf("ws://%s:%d/events", s.host, s.port),
		opts:           opts,
		logger:         s.logger.With(zap.String("player", opts.Name)),
		reconnectDelay: ReconnectDelay,
		volumeSteps:    DefaultVolumeSteps,
		state:          core.EmptyPlaybackState(),
	}, nil
}

// Player is a go-librespot device. Events are read from the WebSocket on a background
// goroutine and reported through the OnEvent option.
type Player struct {
	client         *Client
	wsURL          string
	opts           device.PlayerOptions
	logger         *zap.Logger
	reconnectDelay time.Duration

	mutex       sync.Mutex
	conn        *websocket.Conn
	cancel      context.CancelFunc
	closed      bool
	volumeSteps int
	state       core.PlaybackState
}

// Connect opens the event stream and reports the device ready. The stream stays open until
// ctx is cancelled or Disconnect is called.
func (p *Player) Connect(ctx context.Context) error {
	if p.opts.Token == nil || p.opts.Token() == "" {
		return errNoCredential
	}

	conn, err := p.dial(ctx)
	if err != nil {
		return p.connectFailed(err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.mutex.Lock()
	if p.closed {
		p.mutex.Unlock()
		cancel()
		conn.Close()
		return errors.New("player disconnected")
	}
	p.conn = conn
	p.cancel = cancel
	p.mutex.Unlock()

	if err := p.announce(ctx); err != nil {
		p.Disconnect()
		return p.connectFailed(err)
	}

	if err := p.SetVolume(ctx, p.opts.Volume); err != nil {
		p.logger.Warn("Failed to apply initial volume", zap.Error(err))
	}

	go p.run(runCtx, conn)
	return nil
}

// Disconnect closes the event stream. It does not wait for the reader to exit.
func (p *Player) Disconnect() {
	p.mutex.Lock()
	if p.closed {
		p.mutex.Unlock()
		return
	}
	p.closed = true
	conn := p.conn
	cancel := p.cancel
	p.conn = nil
	p.mutex.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}
}

func (p *Player) TogglePlay(ctx context.Context) error {
	return p.checked(p.client.PlayPause(ctx))
}

func (p *Player) Seek(ctx context.Context, positionMs int) error {
	return p.checked(p.client.Seek(ctx, positionMs))
}

// SetVolume maps a fraction in [0, 1] onto the daemon's volume steps.
func (p *Player) SetVolume(ctx context.Context, fraction float64) error {
	p.mutex.Lock()
	steps := p.volumeSteps
	p.mutex.Unlock()

	fraction = math.Max(0, math.Min(1, fraction))
	return p.checked(p.client.SetVolume(ctx, int(math.Round(fraction*float64(steps)))))
}

func (p *Player) CurrentState(ctx context.Context) (*core.PlaybackState, error) {
	status, err := p.client.Status(ctx)
	if err != nil {
		return nil, p.checked(err)
	}
	state := status.playbackState()
	return &state, nil
}

func (p *Player) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if token := p.opts.Token(); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, p.wsURL, header)
	if err != nil {
		if errors.Is(err, websocket.ErrBadHandshake) && resp != nil {
			err = statusError(resp)
		}
		return nil, fmt.Errorf("connecting to events WebSocket: %w", err)
	}
	return conn, nil
}

// refusal maps a daemon response that rejects the credential onto a device event.
func refusal(err error) (device.Event, bool) {
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		return device.Event{}, false
	}
	message := statusErr.Message
	if message == "" {
		message = http.StatusText(statusErr.Code)
	}
	switch statusErr.Code {
	case http.StatusUnauthorized:
		return device.Event{Type: device.EventAuthenticationError, Message: message}, true
	case http.StatusForbidden:
		return device.Event{Type: device.EventAccountError, Message: message}, true
	default:
		return device.Event{}, false
	}
}

// report emits the event for a refused credential and reports whether err was one.
func (p *Player) report(err error) bool {
	event, ok := refusal(err)
	if !ok {
		return false
	}
	p.logger.Warn("Daemon refused the credential", zap.String("event", string(event.Type)), zap.Error(err))
	p.opts.OnEvent(event)
	return true
}

func (p *Player) checked(err error) error {
	if err != nil {
		p.report(err)
	}
	return err
}

func (p *Player) connectFailed(err error) error {
	if p.report(err) {
		return fmt.Errorf("%w: %w", device.ErrReported, err)
	}
	return err
}

// announce reads the daemon status and reports the device ready with its state.
func (p *Player) announce(ctx context.Context) error {
	status, err := p.client.Status(ctx)
	if err != nil {
		return fmt.Errorf("reading device status: %w", err)
	}

	p.mutex.Lock()
	if status.VolumeSteps > 0 {
		p.volumeSteps = status.VolumeSteps
	}
	p.state = status.playbackState()
	state := p.state
	p.mutex.Unlock()

	p.opts.OnEvent(device.Event{Type: device.EventReady, DeviceID: status.DeviceID})
	p.opts.OnEvent(device.Event{Type: device.EventPlayerStateChanged, State: &state})
	return nil
}

func (p *Player) run(ctx context.Context, conn *websocket.Conn) {
	for {
		p.readEvents(conn)

		if p.isClosed() || ctx.Err() != nil {
			return
		}
		p.logger.Warn("Event stream dropped")
		p.opts.OnEvent(device.Event{Type: device.EventNotReady})

		conn = p.reconnect(ctx)
		if conn == nil {
			return
		}
	}
}

func (p *Player) reconnect(ctx context.Context) *websocket.Conn {
	ticker := time.NewTicker(p.reconnectDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			conn, err := p.dial(ctx)
			if err != nil {
				if p.report(err) {
					return nil
				}
				p.logger.Debug("Event stream reconnect failed", zap.Error(err))
				continue
			}

			p.mutex.Lock()
			if p.closed {
				p.mutex.Unlock()
				conn.Close()
				return nil
			}
			p.conn = conn
			p.mutex.Unlock()

			if err := p.announce(ctx); err != nil {
				conn.Close()
				if p.report(err) {
					return nil
				}
				p.logger.Debug("Device status unavailable after reconnect", zap.Error(err))
				continue
			}
			p.logger.Info("Event stream reconnected")
			return conn
		}
	}
}

func (p *Player) readEvents(conn *websocket.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var event Event
		if err := json.Unmarshal(msg, &event); err != nil {
			p.logger.Debug("Ignoring malformed event", zap.Error(err))
			continue
		}
		p.handle(event)
	}
}

// handle folds a daemon event into the playback state and reports the result.
func (p *Player) handle(event Event) {
	p.mutex.Lock()
	switch event.Type {
	case eventMetadata:
		var meta EventMetadata
		if err := json.Unmarshal(event.Data, &meta); err != nil {
			p.mutex.Unlock()
			p.logger.Debug("Ignoring malformed metadata event", zap.Error(err))
			return
		}
		p.state.Current = itemFromTrack(meta.URI, meta.Name, meta.ArtistNames, meta.AlbumCover)
		p.state.DurationMs = meta.Duration
		p.state.PositionMs = meta.Position
	case eventPlaying:
		p.state.Paused = false
	case eventPaused, eventNotPlaying:
		p.state.Paused = true
	case eventStopped:
		p.state.Paused = true
		p.state.PositionMs = 0
	case eventSeek:
		var seek EventSeek
		if err := json.Unmarshal(event.Data, &seek); err != nil {
			p.mutex.Unlock()
			p.logger.Debug("Ignoring malformed seek event", zap.Error(err))
			return
		}
		p.state.PositionMs = seek.Position
		if seek.Duration > 0 {
			p.state.DurationMs = seek.Duration
		}
	case eventActive, eventInactive:
		p.mutex.Unlock()
		p.logger.Debug("Device activation changed", zap.String("event", event.Type))
		return
	default:
		p.mutex.Unlock()
		return
	}
	state := p.state
	if state.Current != nil {
		current := *state.Current
		state.Current = &current
	}
	p.mutex.Unlock()

	p.opts.OnEvent(device.Event{Type: device.EventPlayerStateChanged, State: &state})
}

func (p *Player) isClosed() bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.closed
}
