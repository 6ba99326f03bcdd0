package ticketing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/oncallstack/triage-engine/internal/models"
)

// HTTPProvider talks to an external ticketing service exposing a
// create-or-return-existing endpoint keyed by idempotency key.
type HTTPProvider struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPProvider constructs a client for the configured ticketing service.
func NewHTTPProvider(endpoint, apiKey string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProvider{
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// CreateOrGet posts the ticket with its idempotency key; the service returns
// the existing ticket when the key was seen before.
func (p *HTTPProvider) CreateOrGet(ctx context.Context, key string, priority models.Priority, summary string) (string, error) {
	if p.endpoint == "" {
		return "", fmt.Errorf("ticketing endpoint not configured")
	}

	body, err := json.Marshal(map[string]interface{}{
		"idempotency_key": key,
		"priority":        string(priority),
		"summary":         summary,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/v1/tickets", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", key)
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ticketing service: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var response struct {
		TicketID string `json:"ticket_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", fmt.Errorf("decode ticketing response: %w", err)
	}
	if response.TicketID == "" {
		return "", fmt.Errorf("ticketing service returned empty ticket id")
	}
	return response.TicketID, nil
}
