package classify

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

// LLMReasoner delegates classification to an external reasoning service.
type LLMReasoner struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewLLMReasoner constructs a client for the configured reasoning endpoint.
func NewLLMReasoner(endpoint, apiKey string, timeout time.Duration) *LLMReasoner {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &LLMReasoner{
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Infer posts the evidence to the reasoning service and validates the
// returned class.
func (r *LLMReasoner) Infer(ctx context.Context, evidence string, fields map[string]string) (models.FailureClass, error) {
	if r.endpoint == "" {
		return models.FailureClass{}, fmt.Errorf("reasoning endpoint not configured")
	}

	body, err := json.Marshal(map[string]interface{}{
		"evidence":          evidence,
		"structured_fields": fields,
	})
	if err != nil {
		return models.FailureClass{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/v1/infer", bytes.NewReader(body))
	if err != nil {
		return models.FailureClass{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return models.FailureClass{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return models.FailureClass{}, fmt.Errorf("reasoning service: status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var response struct {
		Class      string  `json:"class"`
		Confidence float64 `json:"confidence"`
		Rationale  string  `json:"rationale"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return models.FailureClass{}, fmt.Errorf("decode reasoning response: %w", err)
	}

	class := models.Class(strings.ToLower(response.Class))
	switch class {
	case models.ClassTransient, models.ClassPermanent, models.ClassUnknown:
	default:
		return models.FailureClass{}, fmt.Errorf("reasoning service returned unknown class %q", response.Class)
	}

	return models.FailureClass{
		Class:      class,
		Confidence: response.Confidence,
		Rationale:  response.Rationale,
	}, nil
}
