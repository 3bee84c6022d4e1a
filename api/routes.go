package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/samber/lo"

	"github.com/catflap/catflapd/internal/access"
	"github.com/catflap/catflapd/internal/door"
	"github.com/catflap/catflapd/internal/ledger"
	"github.com/catflap/catflapd/internal/settings"
)

type MessageResponse struct {
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

type CredentialData struct {
	Name     string `json:"name"`
	Topic    string `json:"topic,omitempty"`
	Facility uint8  `json:"facility"`
	Card     uint16 `json:"card"`
	Entry    bool   `json:"entry"`
	Exit     bool   `json:"exit"`
}

type NtfyData struct {
	URL      string `json:"url"`
	Topic    string `json:"topic"`
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
}

// SettingsData is the API view of the settings record. Secrets (the WPA key
// and the ntfy password) are write-only: blank on GET, and blank on PUT means
// keep the stored value.
type SettingsData struct {
	Hostname    string           `json:"hostname"`
	SSID        string           `json:"ssid"`
	WPAKey      string           `json:"wpaKey,omitempty"`
	NTPServer   string           `json:"ntpServer"`
	Timezone    string           `json:"timezone"`
	Notify      bool             `json:"notify"`
	Credentials []CredentialData `json:"credentials"`
	Ntfy        NtfyData         `json:"ntfy"`
}

func (d *SettingsData) Bind(_ *http.Request) error {
	if len(d.Credentials) > settings.NumSlots {
		return fmt.Errorf("at most %d credentials", settings.NumSlots)
	}
	if len(d.Hostname) > 32 {
		return fmt.Errorf("hostname too long")
	}
	for _, cred := range d.Credentials {
		if len(cred.Name) > 19 {
			return fmt.Errorf("credential name too long: %s", cred.Name)
		}
	}
	return nil
}

type DoorStatus struct {
	State string `json:"state"`
	Open  bool   `json:"open"`
}

type StatusResponse struct {
	Hostname     string     `json:"hostname"`
	UptimeMillis int64      `json:"uptimeMillis"`
	Notify       bool       `json:"notify"`
	Entry        DoorStatus `json:"entry"`
	Exit         DoorStatus `json:"exit"`
}

type LedgerEntry struct {
	Slot   int       `json:"slot"`
	Name   string    `json:"name"`
	In     bool      `json:"in"`
	LastAt time.Time `json:"lastAt"`
}

func (s *Server) GetRoutes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))
	r.Use(s.rateLimit())
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, MessageResponse{Error: "Resource not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		render.Status(r, http.StatusMethodNotAllowed)
		render.JSON(w, r, MessageResponse{Error: "Method not allowed"})
	})
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", s.Index)
		r.With(s.cached(time.Second)).Get("/status", s.getStatus)
		r.Get("/ledger", s.getLedger)
		r.Get("/history", s.getHistory)
		r.Route("/settings", func(r chi.Router) {
			r.Get("/", s.getSettings)
			r.Put("/", s.putSettings)
		})
		r.With(s.validateDirection).Route("/doors/{direction:[a-z]+}", func(r chi.Router) {
			r.Get("/", s.getDoor)
			r.Post("/unlock", s.unlockDoor)
		})
	})
	return r
}

func (s *Server) Index(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, MessageResponse{Message: "Catflap API Index"})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	rec := s.Settings.Record()
	render.Status(r, http.StatusOK)
	render.JSON(w, r, StatusResponse{
		Hostname:     rec.Hostname,
		UptimeMillis: s.Clock.Millis(),
		Notify:       rec.NotifyEnabled(),
		Entry:        doorStatus(s.Loop.Door(access.Entry)),
		Exit:         doorStatus(s.Loop.Door(access.Exit)),
	})
}

func doorStatus(d *door.Controller) DoorStatus {
	return DoorStatus{State: d.State().String(), Open: d.IsOpen()}
}

func (s *Server) getLedger(w http.ResponseWriter, r *http.Request) {
	rec := s.Settings.Record()
	entries := lo.Map(s.Ledger.Snapshot(), func(e ledger.Entry, _ int) LedgerEntry {
		name := rec.Credentials[e.Slot].Name
		if name == "" {
			name = "Unnamed"
		}
		return LedgerEntry{Slot: e.Slot, Name: name, In: e.In, LastAt: e.LastAt}
	})
	render.Status(r, http.StatusOK)
	render.JSON(w, r, entries)
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	if s.History == nil {
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, MessageResponse{Error: "History disabled"})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	events, err := s.History.Recent(limit)
	if err != nil {
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, MessageResponse{Error: "Error reading history"})
		return
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, events)
}

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	rec := s.Settings.Record()
	data := SettingsData{
		Hostname:  rec.Hostname,
		SSID:      rec.SSID,
		NTPServer: rec.NTPServer,
		Timezone:  rec.Timezone,
		Notify:    rec.NotifyEnabled(),
		Credentials: lo.Map(rec.Credentials[:], func(c settings.Credential, _ int) CredentialData {
			return CredentialData{
				Name:     c.Name,
				Topic:    c.Topic,
				Facility: c.Facility,
				Card:     c.Card,
				Entry:    c.EntryAllowed(),
				Exit:     c.ExitAllowed(),
			}
		}),
		Ntfy: NtfyData{
			URL:      rec.Ntfy.URL,
			Topic:    rec.Ntfy.Topic,
			Username: rec.Ntfy.Username,
		},
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, data)
}

func (s *Server) putSettings(w http.ResponseWriter, r *http.Request) {
	data := &SettingsData{}
	if err := render.Bind(r, data); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, MessageResponse{Error: err.Error()})
		return
	}

	current := s.Settings.Record()
	rec := settings.Record{
		Hostname:  data.Hostname,
		SSID:      data.SSID,
		WPAKey:    data.WPAKey,
		NTPServer: data.NTPServer,
		Timezone:  data.Timezone,
		Ntfy: settings.Ntfy{
			URL:      data.Ntfy.URL,
			Topic:    data.Ntfy.Topic,
			Username: data.Ntfy.Username,
			Password: data.Ntfy.Password,
		},
	}
	if data.Notify {
		rec.Flags |= settings.FlagNotifyEnabled
	}
	if rec.WPAKey == "" {
		rec.WPAKey = current.WPAKey
	}
	if rec.Ntfy.Password == "" {
		rec.Ntfy.Password = current.Ntfy.Password
	}
	for i, cred := range data.Credentials {
		var flags uint8
		if cred.Entry {
			flags |= settings.CredentialEntry
		}
		if cred.Exit {
			flags |= settings.CredentialExit
		}
		rec.Credentials[i] = settings.Credential{
			Name:     cred.Name,
			Topic:    cred.Topic,
			Facility: cred.Facility,
			Card:     cred.Card,
			Flags:    flags,
		}
	}

	if err := s.Settings.Save(&rec); err != nil {
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, MessageResponse{Error: "Error saving settings"})
		return
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, MessageResponse{Message: "Settings saved"})
}

func (s *Server) getDoor(w http.ResponseWriter, r *http.Request) {
	dir := directionFrom(r)
	render.Status(r, http.StatusOK)
	render.JSON(w, r, doorStatus(s.Loop.Door(dir)))
}

func (s *Server) unlockDoor(w http.ResponseWriter, r *http.Request) {
	dir := directionFrom(r)
	s.Loop.RequestUnlock(dir)
	render.Status(r, http.StatusOK)
	render.JSON(w, r, MessageResponse{Message: "Unlock queued"})
}
