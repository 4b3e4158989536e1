package alert

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trigger-keeper/internal/logger"
)

func TestWebhookNotifier_PostsEmbed(t *testing.T) {
	var got map[string][]embed
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, time.Second)
	err := n.Notify(context.Background(), Alert{
		Title:    "execution retries exhausted",
		Message:  "trigger 7 stays active",
		Severity: SeverityCritical,
		Fields:   map[string]string{"trigger_id": "7", "error_kind": "bridge_call_failed"},
	})
	require.NoError(t, err)

	require.Len(t, got["embeds"], 1)
	e := got["embeds"][0]
	assert.Equal(t, "execution retries exhausted", e.Title)
	assert.Equal(t, colorCritical, e.Color)
	require.Len(t, e.Fields, 2)
	assert.Equal(t, "error_kind", e.Fields[0].Name)
}

func TestWebhookNotifier_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewWebhookNotifier(srv.URL, time.Second).Notify(context.Background(), Alert{Title: "x"})
	assert.Error(t, err)
}

func TestWebhookNotifier_DisabledWithoutURL(t *testing.T) {
	assert.NoError(t, NewWebhookNotifier("", time.Second).Notify(context.Background(), Alert{Title: "x"}))
}

type failingNotifier struct{}

func (failingNotifier) Notify(context.Context, Alert) error { return errors.New("down") }

func TestMulti_JoinsErrors(t *testing.T) {
	m := Multi{NewLogNotifier(logger.Discard().WithComponent("test")), failingNotifier{}}
	err := m.Notify(context.Background(), Alert{Title: "x", Severity: SeverityWarning})
	assert.EqualError(t, err, "down")
}
