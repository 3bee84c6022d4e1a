package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catflap/catflapd/internal/access"
	"github.com/catflap/catflapd/internal/clock"
	"github.com/catflap/catflapd/internal/controller"
	"github.com/catflap/catflapd/internal/door"
	"github.com/catflap/catflapd/internal/gpio"
	"github.com/catflap/catflapd/internal/history"
	"github.com/catflap/catflapd/internal/ledger"
	"github.com/catflap/catflapd/internal/settings"
	"github.com/catflap/catflapd/internal/wiegand"
)

type nopNotifier struct{}

func (nopNotifier) Notify(string, string, []string, int, string, ...any) {}

type testServer struct {
	srv    *Server
	router http.Handler
	store  *settings.Store
	loop   *controller.Loop
	ledger *ledger.Ledger
	clk    *clock.Fake
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zerolog.Nop()
	clk := clock.NewFake()

	store := settings.NewStore(&settings.FileBackend{
		Path: filepath.Join(t.TempDir(), "settings.bin"),
	}, &logger)
	rec := settings.Defaults()
	rec.Hostname = "backdoor"
	rec.WPAKey = "hunter2"
	rec.Credentials[0] = settings.Credential{
		Name: "Jones", Facility: 10, Card: 500,
		Flags: settings.CredentialEntry,
	}
	require.NoError(t, store.Save(rec))

	led := ledger.New()
	loop := controller.New(controller.Deps{
		Clock:        clk,
		Settings:     store,
		Engine:       access.NewEngine(store),
		EntryCapture: wiegand.NewCapture(clk),
		ExitCapture:  wiegand.NewCapture(clk),
		EntryDoor:    door.NewController("entry", gpio.NewFakeActuator(), door.EntryTimings, &logger),
		ExitDoor:     door.NewController("exit", gpio.NewFakeActuator(), door.ExitTimings, &logger),
		Sensor:       gpio.NewFakeInput(),
		Ledger:       led,
		Notifier:     nopNotifier{},
		Logger:       &logger,
	})

	srv := &Server{
		Loop:     loop,
		Settings: store,
		Ledger:   led,
		Clock:    clk,
	}
	return &testServer{
		srv:    srv,
		router: srv.GetRoutes(),
		store:  store,
		loop:   loop,
		ledger: led,
		clk:    clk,
	}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func TestStatus(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var status StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "backdoor", status.Hostname)
	assert.Equal(t, "locked", status.Entry.State)
	assert.Equal(t, "locked", status.Exit.State)
	assert.False(t, status.Entry.Open)
}

func TestUnlockQueuesEvent(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/doors/entry/unlock", "")
	require.Equal(t, http.StatusOK, rec.Code)

	ts.loop.Tick()
	assert.Equal(t, door.Unlocked, ts.loop.Door(access.Entry).State())
	assert.Equal(t, door.Locked, ts.loop.Door(access.Exit).State())
}

func TestUnlockBadDirection(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/doors/sideways/unlock", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetSettingsHidesSecrets(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/v1/settings", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var data SettingsData
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &data))
	assert.Equal(t, "backdoor", data.Hostname)
	assert.Empty(t, data.WPAKey)
	assert.Empty(t, data.Ntfy.Password)
	require.Len(t, data.Credentials, settings.NumSlots)
	assert.Equal(t, "Jones", data.Credentials[0].Name)
	assert.True(t, data.Credentials[0].Entry)
	assert.False(t, data.Credentials[0].Exit)
}

func TestPutSettings(t *testing.T) {
	ts := newTestServer(t)

	body := `{
		"hostname": "frontdoor",
		"ssid": "cattery",
		"ntpServer": "pool.ntp.org",
		"timezone": "UTC0",
		"notify": true,
		"credentials": [
			{"name": "Ripley", "facility": 10, "card": 501, "entry": true, "exit": true}
		],
		"ntfy": {"url": "https://ntfy.example.com", "topic": "catflap", "username": "flap"}
	}`
	rec := ts.do(t, http.MethodPut, "/api/v1/settings", body)
	require.Equal(t, http.StatusOK, rec.Code)

	saved := ts.store.Record()
	assert.Equal(t, "frontdoor", saved.Hostname)
	assert.True(t, saved.NotifyEnabled())
	assert.Equal(t, "Ripley", saved.Credentials[0].Name)
	assert.True(t, saved.Credentials[0].EntryAllowed())
	assert.True(t, saved.Credentials[0].ExitAllowed())
	assert.Empty(t, saved.Credentials[1].Name, "unsent slots cleared")
	assert.Equal(t, "hunter2", saved.WPAKey, "blank secret keeps the stored value")
}

func TestPutSettingsTooManyCredentials(t *testing.T) {
	ts := newTestServer(t)

	creds := make([]string, settings.NumSlots+1)
	for i := range creds {
		creds[i] = `{"name": "x", "facility": 1, "card": 1}`
	}
	body := `{"hostname": "h", "credentials": [` + strings.Join(creds, ",") + `]}`
	rec := ts.do(t, http.MethodPut, "/api/v1/settings", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLedgerNames(t *testing.T) {
	ts := newTestServer(t)
	ts.ledger.MarkIn(0, ts.clk.Now())

	rec := ts.do(t, http.MethodGet, "/api/v1/ledger", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var entries []LedgerEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "Jones", entries[0].Name)
	assert.True(t, entries[0].In)
}

func TestHistoryEndpoint(t *testing.T) {
	ts := newTestServer(t)
	logger := zerolog.Nop()
	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"), &logger)
	require.NoError(t, err)
	ts.srv.History = store
	require.NoError(t, store.Record(history.AccessEvent{
		Direction: "Entry", Facility: 10, Card: 500, Slot: 0, Name: "Jones", Decision: "permit",
	}))

	rec := ts.do(t, http.MethodGet, "/api/v1/history?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var events []history.AccessEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 1)
	assert.Equal(t, "permit", events[0].Decision)
}

func TestHistoryDisabled(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/v1/history", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t)

	limited := false
	for i := 0; i < 30; i++ {
		if ts.do(t, http.MethodGet, "/api/v1/", "").Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	assert.True(t, limited, "burst of 30 requests must trip the limiter")
}
