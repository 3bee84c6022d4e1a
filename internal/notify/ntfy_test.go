package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catflap/catflapd/internal/settings"
)

func newTestStore(t *testing.T, mutate func(*settings.Record)) *settings.Store {
	t.Helper()
	logger := zerolog.Nop()
	store := settings.NewStore(&settings.FileBackend{
		Path: filepath.Join(t.TempDir(), "settings.bin"),
	}, &logger)
	rec := settings.Defaults()
	mutate(rec)
	require.NoError(t, store.Save(rec))
	return store
}

func TestClientSendPayload(t *testing.T) {
	var (
		mu       sync.Mutex
		got      Message
		user, pw string
		authOK   bool
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		user, pw, authOK = r.BasicAuth()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := newTestStore(t, func(rec *settings.Record) {
		rec.Flags = settings.FlagNotifyEnabled
		rec.Ntfy = settings.Ntfy{URL: srv.URL, Topic: "catflap", Username: "flap", Password: "secret"}
	})

	client := NewClient(store)
	err := client.Send(Message{
		Topic:    "catflap",
		Title:    "backdoor",
		Tags:     []string{"unlock", "arrow_left"},
		Priority: 3,
		Message:  "Jones Entry",
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, authOK)
	assert.Equal(t, "flap", user)
	assert.Equal(t, "secret", pw)
	assert.Equal(t, "catflap", got.Topic)
	assert.Equal(t, "backdoor", got.Title)
	assert.Equal(t, []string{"unlock", "arrow_left"}, got.Tags)
	assert.Equal(t, 3, got.Priority)
	assert.Equal(t, "Jones Entry", got.Message)
}

func TestClientSkipsWhenDisabled(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))
	defer srv.Close()

	store := newTestStore(t, func(rec *settings.Record) {
		rec.Ntfy.URL = srv.URL // notify flag not set
	})

	require.NoError(t, NewClient(store).Send(Message{Topic: "catflap"}))
	assert.False(t, called)
}

func TestClientErrorOnBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	store := newTestStore(t, func(rec *settings.Record) {
		rec.Flags = settings.FlagNotifyEnabled
		rec.Ntfy.URL = srv.URL
	})

	assert.Error(t, NewClient(store).Send(Message{Topic: "catflap"}))
}

type recordingSender struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (s *recordingSender) Send(m Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, m)
	return s.err
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func TestPoolDeliversMessages(t *testing.T) {
	sender := &recordingSender{}
	logger := zerolog.Nop()
	pool := NewPool(2, 8, sender, &logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	for i := 0; i < 5; i++ {
		pool.Notify("catflap", "backdoor", []string{"unlock"}, 3, "message %d", i)
	}

	assert.Eventually(t, func() bool {
		return sender.count() == 5
	}, time.Second, 5*time.Millisecond)
}

func TestPoolDropsWhenQueueFull(t *testing.T) {
	sender := &recordingSender{err: errors.New("down")}
	logger := zerolog.Nop()
	pool := NewPool(1, 1, sender, &logger)
	// Pool not started: the queue holds one message, the rest drop.

	pool.Notify("catflap", "backdoor", nil, 3, "first")
	pool.Notify("catflap", "backdoor", nil, 3, "second")
	pool.Notify("catflap", "backdoor", nil, 3, "third")

	assert.Equal(t, 0, sender.count(), "nothing sent while stopped, nothing blocked")
}
