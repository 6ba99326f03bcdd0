package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/oncallstack/triage-engine/internal/config"
	"github.com/oncallstack/triage-engine/internal/models"
)

var (
	airflowDAGPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)dag[ _]?id\s*[=:]\s*['"]?([\w.\-]+)`),
		regexp.MustCompile(`(?i)\bDAG\s+['"]([\w.\-]+)['"]`),
	}
	airflowTaskPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)task[ _]?id\s*[=:]\s*['"]?([\w.\-]+)`),
		regexp.MustCompile(`(?i)\btask\s+['"]([\w.\-]+)['"]`),
	}
	airflowRunPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:dag_)?run[ _]?id\s*[=:]\s*['"]?([\w.\-+:T]+)`),
	}
)

// AirflowAdapter talks to the Airflow stable REST API.
type AirflowAdapter struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
}

// NewAirflowAdapter constructs an adapter targeting the configured Airflow
// deployment.
func NewAirflowAdapter(cfg config.AirflowConfig) *AirflowAdapter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &AirflowAdapter{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		username:   cfg.Username,
		password:   cfg.Password,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// System identifies the Airflow platform.
func (a *AirflowAdapter) System() models.SourceSystem { return models.SourceAirflow }

// ExtractFields scrapes dag/task/run identifiers out of Airflow callback
// payloads and task logs.
func (a *AirflowAdapter) ExtractFields(raw string) (map[string]string, error) {
	dagID := firstMatch(raw, airflowDAGPatterns...)
	if dagID == "" && !strings.Contains(strings.ToLower(raw), "airflow") {
		return nil, ErrNoMatch
	}

	fields := make(map[string]string)
	if dagID != "" {
		fields[models.FieldDAGID] = dagID
	}
	if taskID := firstMatch(raw, airflowTaskPatterns...); taskID != "" {
		fields[models.FieldTaskID] = taskID
	}
	if runID := firstMatch(raw, airflowRunPatterns...); runID != "" {
		fields[models.FieldRunID] = runID
	}
	if len(fields) == 0 {
		return nil, ErrNoMatch
	}
	return fields, nil
}

// TriggerRerun clears the failed task instance when the run and task are
// known (targeted retry), otherwise triggers a fresh DAG run. Returns once
// the API has accepted the request; it never waits for the re-run itself.
func (a *AirflowAdapter) TriggerRerun(ctx context.Context, fields map[string]string) (string, error) {
	if a.baseURL == "" {
		return "", fmt.Errorf("airflow base URL not configured")
	}
	dagID := fields[models.FieldDAGID]
	if dagID == "" {
		return "", fmt.Errorf("airflow rerun requires %s", models.FieldDAGID)
	}

	runID := fields[models.FieldRunID]
	taskID := fields[models.FieldTaskID]
	if runID != "" && taskID != "" {
		return a.clearTaskInstance(ctx, dagID, runID, taskID)
	}
	return a.triggerDAGRun(ctx, dagID, fields["incident_id"])
}

func (a *AirflowAdapter) clearTaskInstance(ctx context.Context, dagID, runID, taskID string) (string, error) {
	payload := map[string]interface{}{
		"dry_run":            false,
		"task_ids":           []string{taskID},
		"dag_run_id":         runID,
		"include_upstream":   false,
		"include_downstream": false,
		"include_future":     false,
		"include_past":       false,
		"reset_dag_runs":     true,
	}

	if err := a.post(ctx, fmt.Sprintf("/api/v1/dags/%s/clearTaskInstances", dagID), payload, nil); err != nil {
		return "", err
	}
	return fmt.Sprintf("cleared:%s/%s/%s", dagID, runID, taskID), nil
}

func (a *AirflowAdapter) triggerDAGRun(ctx context.Context, dagID, incidentID string) (string, error) {
	conf := map[string]interface{}{}
	if incidentID != "" {
		// Propagated so the new run's failures correlate back to us.
		conf["parent_incident_id"] = incidentID
	}

	var response struct {
		DagRunID string `json:"dag_run_id"`
	}
	if err := a.post(ctx, fmt.Sprintf("/api/v1/dags/%s/dagRuns", dagID), map[string]interface{}{"conf": conf}, &response); err != nil {
		return "", err
	}
	if response.DagRunID == "" {
		return "triggered:" + dagID, nil
	}
	return "triggered:" + dagID + "/" + response.DagRunID, nil
}

func (a *AirflowAdapter) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.username != "" {
		req.SetBasicAuth(a.username, a.password)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("airflow %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			return fmt.Errorf("decode airflow response: %w", err)
		}
	}
	return nil
}
