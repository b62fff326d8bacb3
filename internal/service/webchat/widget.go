package webchat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sppetrol/webchat/internal/logging"
	"github.com/sppetrol/webchat/internal/model/chat"
)

var (
	ErrEmptyMessage = errors.New("message is empty")
	ErrSendInFlight = errors.New("a send is already in flight")
	ErrWidgetClosed = errors.New("widget is closed")
)

const (
	DefaultGreeting      = "Salom! Savollaringizni yozing: narx, yetkazib berish, mahsulotlar va hokazo."
	DefaultFailureNotice = "Ulanishda xatolik. Keyinroq urinib ko‘ring."
)

// Options configures a Widget.
type Options struct {
	// Greeting is shown as an operator message at mount. Empty disables it.
	Greeting string
	// FailureNotice is appended when a send fails.
	FailureNotice string
	PollInterval  time.Duration
	Live          LiveOptions
	// Listener is called for each message appended to the log, in order.
	Listener func(chat.Message)
	Logger   *zerolog.Logger
}

// DefaultOptions returns the options the web widget ships with.
func DefaultOptions() Options {
	return Options{
		Greeting:      DefaultGreeting,
		FailureNotice: DefaultFailureNotice,
		PollInterval:  DefaultPollInterval,
		Live:          DefaultLiveOptions(),
	}
}

// Widget is one mounted chat conversation. It owns the message log, sends
// visitor messages and, once the backend assigns a session, runs the live and
// fallback channels until Close.
type Widget struct {
	backend   Backend
	visitorID string
	opts      Options
	logger    zerolog.Logger
	log       *MessageLog

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	sessionID string
	sending   bool
	live      *LiveChannel
	channels  errgroup.Group
	closeOnce sync.Once
}

// New mounts a widget for visitorID.
func New(backend Backend, visitorID string, opts Options) *Widget {
	if opts.FailureNotice == "" {
		opts.FailureNotice = DefaultFailureNotice
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}

	logger := *logging.L()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	logger = logger.With().
		Str(logging.FieldComponent, "webchat").
		Str(logging.FieldVisitorID, visitorID).
		Logger()

	ctx, cancel := context.WithCancel(context.Background())
	w := &Widget{
		backend:   backend,
		visitorID: visitorID,
		opts:      opts,
		logger:    logger,
		log:       NewMessageLog(),
		ctx:       ctx,
		cancel:    cancel,
	}

	w.log.OnAppend(opts.Listener)
	if opts.Greeting != "" {
		w.log.AppendNotice(opts.Greeting)
	}
	return w
}

// Send posts a visitor message. The message is appended to the log before the
// request is made and is never retracted. A failed request appends the failure
// notice and returns the error; it is not retried.
//
// Empty input returns ErrEmptyMessage and a call made while another send is
// pending returns ErrSendInFlight; neither touches the log or the network.
func (w *Widget) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	w.mu.Lock()
	if w.ctx.Err() != nil {
		w.mu.Unlock()
		return ErrWidgetClosed
	}
	if w.sending {
		w.mu.Unlock()
		return ErrSendInFlight
	}
	w.sending = true
	sessionID := w.sessionID
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.sending = false
		w.mu.Unlock()
	}()

	w.log.AppendUser(text)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(w.ctx, cancel)
	defer stop()

	resp, err := w.backend.SendQuestion(ctx, SendRequest{
		Content:   text,
		UserID:    w.visitorID,
		SessionID: sessionID,
	})
	if err != nil {
		if w.ctx.Err() != nil {
			return ErrWidgetClosed
		}
		w.logger.Warn().Err(err).Msg("send failed")
		w.log.AppendNotice(w.opts.FailureNotice)
		return fmt.Errorf("send question: %w", err)
	}

	if resp.SessionID != "" {
		w.establishSession(resp.SessionID)
	}
	return nil
}

// establishSession records the first session id and starts both delivery
// channels for it. Later ids are ignored.
func (w *Widget) establishSession(sessionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.sessionID != "" || w.ctx.Err() != nil {
		return
	}
	w.sessionID = sessionID

	logger := w.logger.With().Str(logging.FieldSessionID, sessionID).Logger()
	logger.Info().Msg("chat session established")

	live := NewLiveChannel(w.backend.LiveURL(sessionID), w.opts.Live, logger)
	w.live = live
	poller := NewPoller(w.backend, sessionID, w.opts.PollInterval, w.log, logger)

	w.channels.Go(func() error {
		if err := live.Run(w.ctx, w.deliverLive); err != nil {
			logger.Info().Err(err).Msg("live channel unavailable, relying on polling")
		}
		return nil
	})
	w.channels.Go(func() error {
		return poller.Run(w.ctx)
	})
}

func (w *Widget) deliverLive(msg chat.Message) {
	w.log.AcceptAdmin([]chat.Message{msg}, msg.CreatedAt)
}

// Close tears the widget down: the log stops accepting messages, the channels
// and any in-flight send are cancelled, and Close waits for the channel
// goroutines to exit. It is safe to call more than once.
func (w *Widget) Close() error {
	w.closeOnce.Do(func() {
		w.log.Seal()
		w.mu.Lock()
		w.cancel()
		w.mu.Unlock()
		_ = w.channels.Wait()
	})
	return nil
}

// VisitorID returns the visitor identifier the widget sends with.
func (w *Widget) VisitorID() string { return w.visitorID }

// SessionID returns the backend session id, or "" before the first successful
// send.
func (w *Widget) SessionID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sessionID
}

// Messages returns a copy of the message log.
func (w *Widget) Messages() []chat.Message { return w.log.Snapshot() }

// Watermark returns the current poll watermark.
func (w *Widget) Watermark() Watermark { return w.log.Watermark() }

// LiveState reports the live channel state; LiveClosed before a session exists.
func (w *Widget) LiveState() LiveState {
	w.mu.Lock()
	live := w.live
	w.mu.Unlock()
	if live == nil {
		return LiveClosed
	}
	return live.State()
}
