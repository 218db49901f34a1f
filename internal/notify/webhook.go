// Package notify posts map reports to a Discord webhook.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/tinytelemetry/mapstats/internal/report"
)

const (
	colorBlue = 3447003 // 0x3498DB

	defaultWebhookTimeout = 10 * time.Second

	// Max attempts when rate limited
	maxRetries = 3

	// Discord limits per message
	maxEmbeds         = 10
	maxFieldsPerEmbed = 25
	maxFieldValue     = 1024
)

// WebhookPayload represents a Discord webhook message.
type WebhookPayload struct {
	Content string  `json:"content,omitempty"`
	Embeds  []Embed `json:"embeds,omitempty"`
}

// Embed represents a Discord embed.
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
}

// EmbedField represents a field in a Discord embed.
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// EmbedFooter represents the footer of a Discord embed.
type EmbedFooter struct {
	Text string `json:"text"`
}

// NewReportPayload builds a payload with one embed field per map. Maps past
// Discord's per-message limits are counted in the footer instead.
func NewReportPayload(r *report.Report) WebhookPayload {
	desc := fmt.Sprintf("%d matches in the last %d days with at least %d players", r.Matches, r.Days, r.MinPlayers)
	if r.Map != "" {
		desc += " on " + r.Map
	}

	var embeds []Embed
	current := Embed{
		Title:       "Map report",
		Description: desc,
		Color:       colorBlue,
		Timestamp:   r.GeneratedAt.Format(time.RFC3339),
	}
	omitted := 0
	for _, m := range r.Maps {
		if len(current.Fields) == maxFieldsPerEmbed {
			if len(embeds)+1 == maxEmbeds {
				omitted++
				continue
			}
			embeds = append(embeds, current)
			current = Embed{Color: colorBlue}
		}
		current.Fields = append(current.Fields, mapField(m))
	}
	if omitted > 0 {
		current.Footer = &EmbedFooter{Text: fmt.Sprintf("%d more maps not shown", omitted)}
	}
	embeds = append(embeds, current)

	return WebhookPayload{Embeds: embeds}
}

func mapField(m report.MapReport) EmbedField {
	var b strings.Builder
	fmt.Fprintf(&b, "%d games\nAllies %d (%s)\nAxis %d (%s)", m.Games,
		m.AlliesWins, percent(m.AlliesRatio), m.AxisWins, percent(m.AxisRatio))
	if len(m.Sequences) > 0 {
		names := make([]string, 0, len(m.Sequences[0].Objectives))
		for _, o := range m.Sequences[0].Objectives {
			names = append(names, o.Name)
		}
		fmt.Fprintf(&b, "\nTop: %s (%dx)", strings.Join(names, ", "), m.Sequences[0].Count)
	}
	return EmbedField{Name: m.Name, Value: truncate(b.String(), maxFieldValue), Inline: true}
}

func percent(r float64) string {
	return strconv.FormatFloat(r*100, 'f', 1, 64) + "%"
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}

// WebhookClient sends reports to a Discord webhook.
type WebhookClient struct {
	webhookURL string
	httpClient *http.Client
}

// NewWebhook creates a WebhookClient for url.
func NewWebhook(url string) *WebhookClient {
	return &WebhookClient{
		webhookURL: url,
		httpClient: &http.Client{
			Timeout: defaultWebhookTimeout,
		},
	}
}

// SendReport posts r to the webhook.
func (c *WebhookClient) SendReport(ctx context.Context, r *report.Report) error {
	return c.sendPayload(ctx, NewReportPayload(r))
}

// sendPayload posts payload, waiting out 429 responses up to maxRetries times.
func (c *WebhookClient) sendPayload(ctx context.Context, payload WebhookPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: marshal payload: %w", err)
	}

	for attempt := 0; attempt < maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("notify: create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("notify: request failed: %w", err)
		}
		resp.Body.Close()

		// Discord returns 204 No Content on success
		if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusOK {
			return nil
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryAfter(resp.Header.Get("Retry-After"))):
				continue
			}
		}

		return fmt.Errorf("notify: webhook returned status %d", resp.StatusCode)
	}

	return fmt.Errorf("notify: webhook still rate limited after %d attempts", maxRetries)
}

// retryAfter parses a Retry-After header in (possibly fractional) seconds.
func retryAfter(h string) time.Duration {
	if h == "" {
		return time.Second
	}
	secs, err := strconv.ParseFloat(h, 64)
	if err != nil || secs < 0 {
		return time.Second
	}
	return time.Duration(secs * float64(time.Second))
}
