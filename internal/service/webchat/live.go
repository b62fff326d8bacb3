package webchat

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/sppetrol/webchat/internal/model/chat"
)

// LiveState is the live channel's connection state.
type LiveState int32

const (
	LiveClosed LiveState = iota
	LiveConnecting
	LiveOpen
)

func (s LiveState) String() string {
	switch s {
	case LiveConnecting:
		return "connecting"
	case LiveOpen:
		return "open"
	default:
		return "closed"
	}
}

// LiveOptions configures the push connection.
type LiveOptions struct {
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration // extended by every pong and data frame
	WriteTimeout     time.Duration // for control frames
	PingInterval     time.Duration
}

// DefaultLiveOptions returns the keepalive settings used by the widget.
func DefaultLiveOptions() LiveOptions {
	return LiveOptions{
		HandshakeTimeout: 10 * time.Second,
		ReadTimeout:      60 * time.Second,
		WriteTimeout:     10 * time.Second,
		PingInterval:     30 * time.Second,
	}
}

func (o LiveOptions) withDefaults() LiveOptions {
	def := DefaultLiveOptions()
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = def.HandshakeTimeout
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = def.ReadTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = def.WriteTimeout
	}
	if o.PingInterval <= 0 {
		o.PingInterval = def.PingInterval
	}
	return o
}

// LiveChannel is the push connection for one session. It connects once and is
// never reopened; delivery continuity is the poller's job.
type LiveChannel struct {
	url    string
	opts   LiveOptions
	state  atomic.Int32
	used   atomic.Bool
	logger zerolog.Logger
}

// NewLiveChannel prepares a channel for url. Nothing is dialed until Run.
func NewLiveChannel(url string, opts LiveOptions, logger zerolog.Logger) *LiveChannel {
	return &LiveChannel{
		url:    url,
		opts:   opts.withDefaults(),
		logger: logger,
	}
}

// State returns the current connection state.
func (lc *LiveChannel) State() LiveState {
	return LiveState(lc.state.Load())
}

// Run dials the channel and hands every well-formed admin frame to deliver until
// the server closes the connection or ctx is cancelled. It returns nil on a
// clean close or cancellation.
func (lc *LiveChannel) Run(ctx context.Context, deliver func(chat.Message)) error {
	if !lc.used.CompareAndSwap(false, true) {
		return fmt.Errorf("live channel %s already used", lc.url)
	}
	defer lc.state.Store(int32(LiveClosed))

	lc.state.Store(int32(LiveConnecting))
	dialer := &websocket.Dialer{HandshakeTimeout: lc.opts.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, lc.url, nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("websocket dial failed: %w", err)
	}
	defer conn.Close()

	lc.state.Store(int32(LiveOpen))
	lc.logger.Debug().Str("url", lc.url).Msg("live channel open")

	_ = conn.SetReadDeadline(time.Now().Add(lc.opts.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(lc.opts.ReadTimeout))
	})

	done := make(chan struct{})
	defer close(done)
	go lc.keepalive(ctx, conn, done)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				lc.logger.Debug().Msg("live channel closed")
				return nil
			}
			return fmt.Errorf("live channel read: %w", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(lc.opts.ReadTimeout))

		msg, ok := decodeFrame(data)
		if !ok {
			lc.logger.Debug().Int("bytes", len(data)).Msg("discarding live frame")
			continue
		}
		deliver(msg)
	}
}

// keepalive pings the server and closes the connection when ctx ends, which
// unblocks the read loop.
func (lc *LiveChannel) keepalive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(lc.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			deadline := time.Now().Add(lc.opts.WriteTimeout)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			_ = conn.Close()
			return
		case <-ticker.C:
			deadline := time.Now().Add(lc.opts.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

// decodeFrame accepts only {"role":"admin","content":"<non-empty>"} frames.
func decodeFrame(data []byte) (chat.Message, bool) {
	var msg chat.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return chat.Message{}, false
	}
	if !msg.IsAdmin() || msg.Content == "" {
		return chat.Message{}, false
	}
	return msg, true
}
