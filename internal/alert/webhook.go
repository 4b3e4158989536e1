package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Embed colors by severity.
const (
	colorWarning  = 0xF1C40F
	colorCritical = 0xE74C3C
)

// WebhookNotifier posts alerts as Discord-style embeds.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a notifier. An empty url disables it.
func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type embed struct {
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Color       int               `json:"color"`
	Fields      []embedField      `json:"fields,omitempty"`
	Footer      map[string]string `json:"footer"`
	Timestamp   string            `json:"timestamp"`
}

// Notify implements Notifier.
func (w *WebhookNotifier) Notify(ctx context.Context, a Alert) error {
	if w.url == "" {
		return nil
	}

	color := colorWarning
	if a.Severity == SeverityCritical {
		color = colorCritical
	}
	at := a.At
	if at.IsZero() {
		at = time.Now()
	}

	e := embed{
		Title:       a.Title,
		Description: a.Message,
		Color:       color,
		Footer:      map[string]string{"text": "trigger-keeper"},
		Timestamp:   at.UTC().Format(time.RFC3339),
	}
	for _, k := range sortedKeys(a.Fields) {
		e.Fields = append(e.Fields, embedField{Name: k, Value: a.Fields[k], Inline: true})
	}

	data, err := json.Marshal(map[string]interface{}{"embeds": []embed{e}})
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status: %d", resp.StatusCode)
	}
	return nil
}
