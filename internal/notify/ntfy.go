// Package notify delivers push notifications through an ntfy server.
// Delivery is fire-and-forget: the control loop never blocks on, retries, or
// even observes a failed send. Logging is the only trace.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/catflap/catflapd/internal/settings"
)

// Message is one notification. Tags are ntfy emoji shortcodes; Priority
// follows the ntfy 1..5 scale.
type Message struct {
	Topic    string   `json:"topic"`
	Title    string   `json:"title"`
	Tags     []string `json:"tags"`
	Priority int      `json:"priority"`
	Message  string   `json:"message"`
}

// Client posts messages to the ntfy service named in the settings record.
// The URL and credentials are re-read per send so settings edits apply
// without a restart.
type Client struct {
	store      *settings.Store
	httpClient *http.Client
}

func NewClient(store *settings.Store) *Client {
	return &Client{
		store: store,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Send publishes one message. Skipped silently when notifications are
// disabled or no service URL is configured.
func (c *Client) Send(m Message) error {
	rec := c.store.Record()
	if !rec.NotifyEnabled() || rec.Ntfy.URL == "" {
		return nil
	}

	body, err := json.Marshal(m)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, rec.Ntfy.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if rec.Ntfy.Username != "" {
		req.SetBasicAuth(rec.Ntfy.Username, rec.Ntfy.Password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy returned status %d", resp.StatusCode)
	}
	return nil
}
