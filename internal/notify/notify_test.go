package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	name  string
	err   error
	sends []string
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.sends = append(r.sends, title)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifierFiltersEvents(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{" settlement_failed ", ""}, discardLogger())

	require.NoError(t, n.Notify(context.Background(), "transfer_failed", "ignored", ""))
	require.NoError(t, n.Notify(context.Background(), "settlement_failed", "Settlement failures", "u1"))
	assert.Equal(t, []string{"Settlement failures"}, s.sends)
	assert.True(t, n.Enabled())
}

func TestNotifierContinuesPastFailingSender(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("boom")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discardLogger())

	err := n.Notify(context.Background(), "anything", "t", "m")
	assert.ErrorContains(t, err, "bad: boom")
	assert.Len(t, good.sends, 1)

	assert.NoError(t, NewNotifier(nil, nil, discardLogger()).Notify(context.Background(), "x", "t", "m"))
}

func TestDiscordSender(t *testing.T) {
	var got discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, NewDiscordSender(srv.URL).Send(context.Background(), "Transfer failed", "t-1: reverted"))
	require.Len(t, got.Embeds, 1)
	assert.Equal(t, "Transfer failed", got.Embeds[0].Title)
	assert.Equal(t, "t-1: reverted", got.Embeds[0].Description)
}

func TestTelegramSender(t *testing.T) {
	var path string
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		if got["chat_id"] == "bad" {
			http.Error(w, "chat not found", http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	s := NewTelegramSender("tok", "42")
	s.baseURL = srv.URL
	require.NoError(t, s.Send(context.Background(), "Title", "body"))
	assert.Equal(t, "/bottok/sendMessage", path)
	assert.Equal(t, "*Title*\nbody", got["text"])

	s.chatID = "bad"
	assert.ErrorContains(t, s.Send(context.Background(), "Title", "body"), "chat not found")
}
