package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wailbentafat/foxglove-hub/websocket"
)

type published struct {
	channel string
	message Message
}

// fakeBroker is an in-memory MessageBroker.
type fakeBroker struct {
	mu         sync.Mutex
	published  []published
	subs       map[string]chan Message
	publishErr error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{subs: make(map[string]chan Message)}
}

func (f *fakeBroker) Publish(_ context.Context, channel string, message Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, published{channel: channel, message: message})
	return nil
}

func (f *fakeBroker) Subscribe(_ context.Context, channel string) (<-chan Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if channel == "unavailable" {
		return nil, errors.New("no such channel")
	}
	ch := make(chan Message)
	f.subs[channel] = ch
	return ch, nil
}

func (f *fakeBroker) Close() error { return nil }

func (f *fakeBroker) source(channel string) (chan Message, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.subs[channel]
	return ch, ok
}

func (f *fakeBroker) messages() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.published...)
}

type fakeOnlineSet struct {
	mu     sync.Mutex
	online map[string]bool
}

func (s *fakeOnlineSet) AddOnlineClient(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online[id] = true
	return nil
}

func (s *fakeOnlineSet) RemoveOnlineClient(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.online, id)
	return nil
}

func TestPresencePublisher(t *testing.T) {
	fb := newFakeBroker()
	online := &fakeOnlineSet{online: map[string]bool{}}
	p := NewPresencePublisher(fb, online, "", zap.NewNop())
	p.now = func() time.Time { return time.Unix(0, 1234) }

	var _ websocket.Observer = p

	p.ClientConnected(context.Background(), "c1")
	assert.True(t, online.online["c1"])
	p.ClientDisconnected(context.Background(), "c1")
	assert.False(t, online.online["c1"])

	assert.Equal(t, []published{
		{channel: DefaultPresenceChannel, message: Message{Type: EventClientConnected, ClientID: "c1", Timestamp: 1234}},
		{channel: DefaultPresenceChannel, message: Message{Type: EventClientDisconnected, ClientID: "c1", Timestamp: 1234}},
	}, fb.messages())
}

func TestPresencePublisherErrorIsNotFatal(t *testing.T) {
	fb := newFakeBroker()
	fb.publishErr = errors.New("redis down")
	p := NewPresencePublisher(fb, nil, "events", zap.NewNop())

	assert.NotPanics(t, func() {
		p.ClientConnected(context.Background(), "c1")
		p.ClientDisconnected(context.Background(), "c1")
	})
	assert.Empty(t, fb.messages())
}

func TestMessageEncoding(t *testing.T) {
	m := Message{Type: EventClientConnected, ClientID: "c1", Timestamp: 7, Data: json.RawMessage(`{"x":1}`)}
	data, err := m.MarshalBinary()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"client_connected","client_id":"c1","timestamp":7,"data":{"x":1}}`, string(data))

	var got Message
	require.NoError(t, got.UnmarshalBinary(data))
	assert.Equal(t, m, got)
}

func TestBridgeForwardsMessages(t *testing.T) {
	hub := websocket.NewBroker(websocket.DefaultOptions())
	t.Cleanup(hub.Close)
	fb := newFakeBroker()

	b := NewBridge(hub, fb, []Route{{
		Source:   "robot-state",
		Topic:    "/state",
		Encoding: "json",
		Latching: true,
	}}, zap.NewNop())
	b.now = func() time.Time { return time.Unix(0, 99) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	var src chan Message
	require.Eventually(t, func() bool {
		var ok bool
		src, ok = fb.source("robot-state")
		return ok && hub.Channels().Len() == 1
	}, 2*time.Second, 5*time.Millisecond)

	channels := hub.Channels().Snapshot()
	require.Len(t, channels, 1)
	assert.Equal(t, "/state", channels[0].Topic)
	id := channels[0].ID

	src <- Message{Timestamp: 5, Data: json.RawMessage(`{"v":1}`)}
	require.Eventually(t, func() bool {
		ts, payload, ok := hub.Channels().LatchedMessage(id)
		return ok && ts == 5 && string(payload) == `{"v":1}`
	}, 2*time.Second, 5*time.Millisecond)

	src <- Message{Data: json.RawMessage(`{"v":2}`)}
	require.Eventually(t, func() bool {
		ts, payload, ok := hub.Channels().LatchedMessage(id)
		return ok && ts == 99 && string(payload) == `{"v":2}`
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not stop")
	}
	assert.Equal(t, 0, hub.Channels().Len())
}

func TestBridgeRouteFailureIsIsolated(t *testing.T) {
	hub := websocket.NewBroker(websocket.DefaultOptions())
	t.Cleanup(hub.Close)
	fb := newFakeBroker()

	b := NewBridge(hub, fb, []Route{
		{Source: "unavailable", Topic: "/x", Encoding: "json"},
		{Source: "feed", Topic: "/feed", Encoding: "json", Latching: true},
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	var src chan Message
	require.Eventually(t, func() bool {
		var ok bool
		src, ok = fb.source("feed")
		return ok && hub.Channels().Len() == 1
	}, 2*time.Second, 5*time.Millisecond)

	channels := hub.Channels().Snapshot()
	require.Len(t, channels, 1)
	assert.Equal(t, "/feed", channels[0].Topic)

	src <- Message{Timestamp: 7, Data: json.RawMessage(`{"ok":true}`)}
	require.Eventually(t, func() bool {
		ts, payload, ok := hub.Channels().LatchedMessage(channels[0].ID)
		return ok && ts == 7 && string(payload) == `{"ok":true}`
	}, 2*time.Second, 5*time.Millisecond)

	select {
	case err := <-done:
		t.Fatalf("bridge stopped after one route failed: %v", err)
	default:
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not stop")
	}
}

func TestBridgeStopsWhenSourceCloses(t *testing.T) {
	hub := websocket.NewBroker(websocket.DefaultOptions())
	t.Cleanup(hub.Close)
	fb := newFakeBroker()

	b := NewBridge(hub, fb, []Route{{Source: "feed", Topic: "/feed", Encoding: "json"}}, zap.NewNop())
	done := make(chan error, 1)
	go func() { done <- b.Run(context.Background()) }()

	var src chan Message
	require.Eventually(t, func() bool {
		var ok bool
		src, ok = fb.source("feed")
		return ok && hub.Channels().Len() == 1
	}, 2*time.Second, 5*time.Millisecond)

	close(src)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not stop")
	}
	assert.Equal(t, 0, hub.Channels().Len())
}
