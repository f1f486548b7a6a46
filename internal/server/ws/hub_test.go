package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fantasymarket/internal/domain"
)

type chanBus struct {
	chans map[string]chan []byte
}

func newChanBus() *chanBus {
	b := &chanBus{chans: make(map[string]chan []byte)}
	for _, ch := range Channels {
		b.chans[ch] = make(chan []byte, 4)
	}
	return b
}

func (b *chanBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.chans[channel] <- payload
	return nil
}

func (b *chanBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	return b.chans[channel], nil
}

func (b *chanBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *chanBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestHubRelaysBusEvents(t *testing.T) {
	bus := newChanBus()
	hub := NewHub(bus, "Full", slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	status := readEnvelope(t, conn)
	assert.Equal(t, "status", status.Type)
	assert.Contains(t, string(status.Payload), `"mode":"full"`)

	require.NoError(t, bus.Publish(ctx, domain.ChannelTransfers, []byte(`{"transferId":"t-1","to":"minted"}`)))
	evt := readEnvelope(t, conn)
	assert.Equal(t, "event", evt.Type)
	assert.Equal(t, domain.ChannelTransfers, evt.Channel)
	assert.JSONEq(t, `{"transferId":"t-1","to":"minted"}`, string(evt.Payload))
}

func TestClientSubscriptionChanges(t *testing.T) {
	c := &client{subs: map[string]bool{domain.ChannelTransfers: true}}
	c.handleSubscription(subscribeMsg{Action: "unsubscribe", Channels: []string{domain.ChannelTransfers}})
	assert.False(t, c.isSubscribed(domain.ChannelTransfers))

	c.handleSubscription(subscribeMsg{Action: "subscribe", Channels: []string{domain.ChannelSettlements}})
	assert.True(t, c.isSubscribed(domain.ChannelSettlements))
}

func TestClientOwnerFilters(t *testing.T) {
	c := &client{
		userID: "u1",
		subs:   map[string]bool{domain.ChannelTransfers: true, domain.ChannelSettlements: true},
	}

	mine, err := frameEvent(domain.ChannelTransfers, []byte(`{"transferId":"t-1","userId":"u1"}`))
	require.NoError(t, err)
	theirs, err := frameEvent(domain.ChannelTransfers, []byte(`{"transferId":"t-2","userId":"u2"}`))
	require.NoError(t, err)
	league, err := frameEvent(domain.ChannelSettlements, []byte(`{"leagueId":"l1","anyFailed":false}`))
	require.NoError(t, err)

	assert.True(t, c.wants(mine))
	assert.False(t, c.wants(theirs))
	assert.True(t, c.wants(league), "settlement events carry no user")

	c.leagueID = "l2"
	assert.False(t, c.wants(league))

	_, err = frameEvent(domain.ChannelTransfers, []byte("not json"))
	assert.Error(t, err)
}

func TestHandleWSAfterShutdown(t *testing.T) {
	hub := NewHub(newChanBus(), "server", slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err, "the hub closes connections once stopped")
}
