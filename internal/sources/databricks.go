package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/oncallstack/triage-engine/internal/config"
	"github.com/oncallstack/triage-engine/internal/models"
)

var (
	databricksJobPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)job[ _]?id\s*[=:]\s*['"]?(\d+)`),
	}
	databricksRunPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)run[ _]?id\s*[=:]\s*['"]?(\d+)`),
	}
)

// DatabricksAdapter talks to the Databricks Jobs 2.1 API.
type DatabricksAdapter struct {
	host       string
	token      string
	httpClient *http.Client
}

// NewDatabricksAdapter constructs an adapter targeting the configured
// Databricks workspace.
func NewDatabricksAdapter(cfg config.DatabricksConfig) *DatabricksAdapter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &DatabricksAdapter{
		host:       strings.TrimRight(cfg.Host, "/"),
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// System identifies the Databricks platform.
func (a *DatabricksAdapter) System() models.SourceSystem { return models.SourceDatabricks }

// ExtractFields scrapes job and run identifiers from Databricks failure
// notifications.
func (a *DatabricksAdapter) ExtractFields(raw string) (map[string]string, error) {
	if !strings.Contains(strings.ToLower(raw), "databricks") {
		return nil, ErrNoMatch
	}

	fields := make(map[string]string)
	if jobID := firstMatch(raw, databricksJobPatterns...); jobID != "" {
		fields[models.FieldJobID] = jobID
	}
	if runID := firstMatch(raw, databricksRunPatterns...); runID != "" {
		fields[models.FieldRunID] = runID
	}
	if len(fields) == 0 {
		return nil, ErrNoMatch
	}
	return fields, nil
}

// TriggerRerun starts a new run of the failed job via run-now. It does not
// wait for the run to complete.
func (a *DatabricksAdapter) TriggerRerun(ctx context.Context, fields map[string]string) (string, error) {
	if a.host == "" {
		return "", fmt.Errorf("databricks host not configured")
	}
	jobID, err := strconv.ParseInt(fields[models.FieldJobID], 10, 64)
	if err != nil {
		return "", fmt.Errorf("databricks rerun requires numeric %s", models.FieldJobID)
	}

	body, err := json.Marshal(map[string]interface{}{"job_id": jobID})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.host+"/api/2.1/jobs/run-now", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("databricks run-now: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var response struct {
		RunID int64 `json:"run_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil && err != io.EOF {
		return "", fmt.Errorf("decode databricks response: %w", err)
	}
	return fmt.Sprintf("run:%d", response.RunID), nil
}
