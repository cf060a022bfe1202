// Package notify posts acquisition events to a configured webhook
// endpoint. Notifications are best-effort; a failed post is logged and
// never fails the run that triggered it.
package notify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/sublight/sublight/internal/engine"
)

// Config contains the webhook endpoint configuration.
type Config struct {
	URL      string
	Method   string
	Username string
	Password string
	Headers  map[string]string
}

// Event describes one downloaded subtitle.
type Event struct {
	Video      string `json:"video"`
	Title      string `json:"title"`
	Kind       string `json:"kind"`
	Language   string `json:"language"`
	Provider   string `json:"provider"`
	SubtitleID string `json:"subtitleId"`
}

// Payload is the JSON body posted to the webhook.
type Payload struct {
	EventType    string    `json:"eventType"`
	InstanceName string    `json:"instanceName"`
	Timestamp    time.Time `json:"timestamp"`
	Message      string    `json:"message,omitempty"`
	Downloads    []Event   `json:"downloads,omitempty"`
}

// Notifier sends events to a custom webhook endpoint.
type Notifier struct {
	cfg        Config
	httpClient *http.Client
	logger     zerolog.Logger
}

// New creates a webhook notifier. A nil httpClient gets a default with
// a 30 second timeout.
func New(cfg Config, httpClient *http.Client, logger zerolog.Logger) *Notifier {
	if cfg.Method == "" {
		cfg.Method = "POST"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Notifier{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger.With().Str("notifier", "webhook").Logger(),
	}
}

// Test posts a test event so the endpoint can be verified without
// downloading anything.
func (n *Notifier) Test(ctx context.Context) error {
	return n.send(ctx, Payload{
		EventType:    "test",
		InstanceName: "sublight",
		Timestamp:    time.Now().UTC(),
		Message:      "Test notification from sublight",
	})
}

// Downloaded posts a download event for the given subtitles.
func (n *Notifier) Downloaded(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	return n.send(ctx, Payload{
		EventType:    "download",
		InstanceName: "sublight",
		Timestamp:    time.Now().UTC(),
		Downloads:    events,
	})
}

// FromResult flattens a run result into events, ordered by video name
// then provider and id.
func FromResult(r engine.Result) []Event {
	var events []Event
	for v, subs := range r {
		for _, sub := range subs {
			events = append(events, Event{
				Video:      v.Name,
				Title:      v.Title,
				Kind:       string(v.Kind),
				Language:   sub.Language.String(),
				Provider:   sub.ProviderName,
				SubtitleID: sub.ID,
			})
		}
	}
	sort.Slice(events, func(i, j int) bool {
		if events[i].Video != events[j].Video {
			return events[i].Video < events[j].Video
		}
		if events[i].Provider != events[j].Provider {
			return events[i].Provider < events[j].Provider
		}
		return events[i].SubtitleID < events[j].SubtitleID
	})
	return events
}

func (n *Notifier) send(ctx context.Context, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, n.cfg.Method, n.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	// Add basic auth if configured
	if n.cfg.Username != "" && n.cfg.Password != "" {
		auth := base64.StdEncoding.EncodeToString([]byte(n.cfg.Username + ":" + n.cfg.Password))
		req.Header.Set("Authorization", "Basic "+auth)
	}

	// Add custom headers
	for key, value := range n.cfg.Headers {
		req.Header.Set(key, value)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	n.logger.Debug().Str("event", payload.EventType).Int("downloads", len(payload.Downloads)).Msg("Notification sent")
	return nil
}
