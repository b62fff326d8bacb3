package webchat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sppetrol/webchat/internal/model/chat"
)

type fakeBackend struct {
	mu        sync.Mutex
	sends     []SendRequest
	polls     []string
	sendFn    func(ctx context.Context, req SendRequest) (SendResponse, error)
	pollFn    func(call int, since string) ([]chat.Message, error)
	liveURL   string
	liveCalls []string
}

func (f *fakeBackend) SendQuestion(ctx context.Context, req SendRequest) (SendResponse, error) {
	f.mu.Lock()
	f.sends = append(f.sends, req)
	fn := f.sendFn
	f.mu.Unlock()
	if fn == nil {
		return SendResponse{SessionID: "s-1"}, nil
	}
	return fn(ctx, req)
}

func (f *fakeBackend) Poll(_ context.Context, sessionID, since string) ([]chat.Message, error) {
	f.mu.Lock()
	f.polls = append(f.polls, since)
	call := len(f.polls)
	fn := f.pollFn
	f.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(call, since)
}

func (f *fakeBackend) LiveURL(sessionID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.liveCalls = append(f.liveCalls, sessionID)
	if f.liveURL != "" {
		return f.liveURL
	}
	// nothing listens here; the live channel fails and polling carries delivery
	return "ws://127.0.0.1:1/ws/webchat/" + sessionID + "/"
}

func (f *fakeBackend) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

func (f *fakeBackend) pollSinces() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.polls...)
}

func testOptions() Options {
	nop := zerolog.Nop()
	return Options{
		PollInterval: 20 * time.Millisecond,
		Live:         LiveOptions{HandshakeTimeout: time.Second},
		Logger:       &nop,
	}
}

func newTestWidget(t *testing.T, backend Backend, opts Options) *Widget {
	t.Helper()
	w := New(backend, "visitor-1", opts)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func TestWidgetGreetingAtMount(t *testing.T) {
	opts := testOptions()
	opts.Greeting = DefaultGreeting
	w := newTestWidget(t, &fakeBackend{}, opts)

	msgs := w.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, chat.RoleAdmin, msgs[0].Role)
	assert.Empty(t, msgs[0].CreatedAt)
	assert.False(t, w.Watermark().IsSet())
}

func TestWidgetSendEmptyIsNoop(t *testing.T) {
	backend := &fakeBackend{}
	w := newTestWidget(t, backend, testOptions())

	for _, input := range []string{"", "   ", "\n\t"} {
		assert.ErrorIs(t, w.Send(context.Background(), input), ErrEmptyMessage)
	}
	assert.Empty(t, w.Messages())
	assert.Zero(t, backend.sendCount())
}

func TestWidgetSendAppendsBeforeResponse(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	backend := &fakeBackend{
		sendFn: func(ctx context.Context, req SendRequest) (SendResponse, error) {
			close(entered)
			<-release
			return SendResponse{SessionID: "s-1"}, nil
		},
	}
	w := newTestWidget(t, backend, testOptions())

	done := make(chan error, 1)
	go func() { done <- w.Send(context.Background(), "  hello ") }()

	<-entered
	msgs := w.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, chat.Message{Role: chat.RoleUser, Content: "hello"}, msgs[0])
	assert.Empty(t, w.SessionID())

	// single flight: a second send while the first is pending is dropped
	assert.ErrorIs(t, w.Send(context.Background(), "again"), ErrSendInFlight)
	assert.Len(t, w.Messages(), 1)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, "s-1", w.SessionID())
	assert.Equal(t, 1, backend.sendCount())
}

func TestWidgetSendSuppressedWhileInFlight(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	backend := &fakeBackend{
		sendFn: func(ctx context.Context, req SendRequest) (SendResponse, error) {
			if req.Content == "one" {
				close(entered)
				<-release
			}
			return SendResponse{SessionID: "s-1"}, nil
		},
	}
	w := newTestWidget(t, backend, testOptions())

	done := make(chan error, 1)
	go func() { done <- w.Send(context.Background(), "one") }()
	<-entered

	err := w.Send(context.Background(), "two")
	require.ErrorIs(t, err, ErrSendInFlight)
	assert.Len(t, w.Messages(), 1)
	assert.Equal(t, 1, backend.sendCount())

	close(release)
	require.NoError(t, <-done)

	msgs := w.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "one", msgs[0].Content)
	assert.Equal(t, 1, backend.sendCount())

	// once settled, the next send goes through
	require.NoError(t, w.Send(context.Background(), "three"))
	assert.Equal(t, 2, backend.sendCount())
}

func TestWidgetSessionIDAssignedOnce(t *testing.T) {
	ids := []string{"s-1", "s-2", ""}
	var call int
	backend := &fakeBackend{
		sendFn: func(ctx context.Context, req SendRequest) (SendResponse, error) {
			id := ids[call]
			call++
			return SendResponse{SessionID: id}, nil
		},
	}
	w := newTestWidget(t, backend, testOptions())
	ctx := context.Background()

	require.NoError(t, w.Send(ctx, "one"))
	require.NoError(t, w.Send(ctx, "two"))
	require.NoError(t, w.Send(ctx, "three"))

	assert.Equal(t, "s-1", w.SessionID())

	backend.mu.Lock()
	defer backend.mu.Unlock()
	require.Len(t, backend.sends, 3)
	assert.Empty(t, backend.sends[0].SessionID)
	assert.Equal(t, "s-1", backend.sends[1].SessionID)
	assert.Equal(t, "s-1", backend.sends[2].SessionID)
	assert.Equal(t, "visitor-1", backend.sends[0].UserID)
	assert.Equal(t, []string{"s-1"}, backend.liveCalls, "channels start once per session")
}

func TestWidgetSendFailureAppendsNotice(t *testing.T) {
	backend := &fakeBackend{
		sendFn: func(ctx context.Context, req SendRequest) (SendResponse, error) {
			return SendResponse{}, &StatusError{StatusCode: 502}
		},
	}
	w := newTestWidget(t, backend, testOptions())

	err := w.Send(context.Background(), "salom")
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))

	msgs := w.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, chat.Message{Role: chat.RoleUser, Content: "salom"}, msgs[0])
	assert.Equal(t, chat.Message{Role: chat.RoleAdmin, Content: DefaultFailureNotice}, msgs[1])
	assert.Empty(t, w.SessionID())
	assert.Equal(t, 1, backend.sendCount(), "no automatic retry")
}

func TestWidgetPollAppendsAdminAndAdvancesWatermark(t *testing.T) {
	const t1, t2 = "2024-01-01T00:00:01Z", "2024-01-01T00:00:02Z"
	backend := &fakeBackend{
		pollFn: func(call int, since string) ([]chat.Message, error) {
			switch call {
			case 1:
				return []chat.Message{
					{ID: "1", Role: chat.RoleUser, Content: "narx?", CreatedAt: t1},
					{ID: "2", Role: chat.RoleAdmin, Content: "reply", CreatedAt: t2},
				}, nil
			case 2:
				return nil, errors.New("flaky network")
			default:
				return nil, nil
			}
		},
	}
	w := newTestWidget(t, backend, testOptions())
	require.NoError(t, w.Send(context.Background(), "narx?"))

	require.Eventually(t, func() bool { return len(backend.pollSinces()) >= 4 }, 2*time.Second, 10*time.Millisecond)

	msgs := w.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, chat.RoleUser, msgs[0].Role)
	assert.Equal(t, chat.Message{ID: "2", Role: chat.RoleAdmin, Content: "reply", CreatedAt: t2}, msgs[1])
	assert.Equal(t, t2, w.Watermark().String())

	sinces := backend.pollSinces()
	assert.Equal(t, "", sinces[0], "first poll asks from the beginning")
	for _, since := range sinces[1:] {
		assert.Equal(t, t2, since)
	}
}

func TestWidgetLiveAndPollDeliverOnce(t *testing.T) {
	srv := pushServer(t, false, `{"role":"admin","content":"hi","created_at":"2024-01-01T00:00:01+00:00"}`)
	backend := &fakeBackend{
		liveURL: wsURL(srv, "/ws/webchat/s-1/"),
		pollFn: func(call int, since string) ([]chat.Message, error) {
			if call < 3 {
				return nil, nil
			}
			// the poll catches up with the same reply, formatted differently
			return []chat.Message{{ID: "5", Role: chat.RoleAdmin, Content: "hi", CreatedAt: "2024-01-01T00:00:01Z"}}, nil
		},
	}
	w := newTestWidget(t, backend, testOptions())
	require.NoError(t, w.Send(context.Background(), "salom"))

	require.Eventually(t, func() bool { return len(w.Messages()) == 2 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return len(backend.pollSinces()) >= 5 }, 2*time.Second, 10*time.Millisecond)

	msgs := w.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "hi", msgs[1].Content)
	assert.Equal(t, LiveOpen, w.LiveState())
	assert.True(t, w.Watermark().IsSet())
}

func TestWidgetCloseStopsChannels(t *testing.T) {
	srv := pushServer(t, false)
	backend := &fakeBackend{liveURL: wsURL(srv, "/ws/webchat/s-1/")}
	w := New(backend, "visitor-1", testOptions())

	require.NoError(t, w.Send(context.Background(), "salom"))
	require.Eventually(t, func() bool { return w.LiveState() == LiveOpen }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return len(backend.pollSinces()) >= 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	polls := len(backend.pollSinces())
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, polls, len(backend.pollSinces()), "polling stops at close")
	assert.Equal(t, LiveClosed, w.LiveState())
	assert.ErrorIs(t, w.Send(context.Background(), "late"), ErrWidgetClosed)
	assert.Len(t, w.Messages(), 1)
}

func TestWidgetCloseCancelsInFlightSend(t *testing.T) {
	entered := make(chan struct{})
	backend := &fakeBackend{
		sendFn: func(ctx context.Context, req SendRequest) (SendResponse, error) {
			close(entered)
			<-ctx.Done()
			return SendResponse{}, ctx.Err()
		},
	}
	w := New(backend, "visitor-1", testOptions())

	done := make(chan error, 1)
	go func() { done <- w.Send(context.Background(), "salom") }()
	<-entered
	require.NoError(t, w.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrWidgetClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("send did not settle after close")
	}
	assert.Len(t, w.Messages(), 1, "no failure notice after teardown")
	assert.Empty(t, w.SessionID())
}
