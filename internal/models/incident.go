package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// SourceSystem identifies the pipeline platform that reported a failure.
type SourceSystem string

const (
	SourceAirflow    SourceSystem = "airflow"
	SourceDatabricks SourceSystem = "databricks"
	SourceSnowflake  SourceSystem = "snowflake"
	// SourceMock is served by the in-process adapter used in mock mode and tests.
	SourceMock SourceSystem = "mock"
)

// Valid reports whether the source system is one of the known platforms.
func (s SourceSystem) Valid() bool {
	switch s {
	case SourceAirflow, SourceDatabricks, SourceSnowflake, SourceMock:
		return true
	}
	return false
}

// Well-known structured field keys populated by source adapters.
const (
	FieldDAGID    = "dag_id"
	FieldTaskID   = "task_id"
	FieldRunID    = "run_id"
	FieldJobID    = "job_id"
	FieldQueryID  = "query_id"
	FieldPipeline = "pipeline"
)

// identityFields participate in incident identity, in this order.
var identityFields = []string{FieldDAGID, FieldTaskID, FieldRunID, FieldJobID, FieldQueryID, FieldPipeline}

// Incident is one normalized record of a pipeline failure. Immutable after
// creation; RetryCount is recomputed by the orchestrator from the audit ledger
// on every remediation cycle.
type Incident struct {
	ID          string            `json:"id"`
	Source      SourceSystem      `json:"source_system"`
	RawEvidence string            `json:"raw_evidence"`
	Fields      map[string]string `json:"structured_fields,omitempty"`
	FirstSeenAt time.Time         `json:"first_seen_at"`
	RetryCount  int               `json:"retry_count"`
}

// CorrelationKey joins the identity fields present on the incident in a fixed
// order, so equivalent reports of the same underlying failure share a key.
func (i Incident) CorrelationKey() string {
	parts := make([]string, 0, len(identityFields))
	for _, key := range identityFields {
		if v := i.Fields[key]; v != "" {
			parts = append(parts, key+"="+v)
		}
	}
	return strings.Join(parts, "/")
}

// PipelineName returns the most specific pipeline identifier available.
func (i Incident) PipelineName() string {
	for _, key := range []string{FieldDAGID, FieldJobID, FieldQueryID, FieldPipeline, FieldTaskID} {
		if v := i.Fields[key]; v != "" {
			return v
		}
	}
	return "unknown-pipeline"
}

// DeriveIncidentID produces a stable incident id from the source system, the
// correlation key, and the first-seen time truncated to the minute. Repeated
// reports of the same failure within the same minute bucket collapse onto one
// id.
func DeriveIncidentID(source SourceSystem, correlationKey string, firstSeen time.Time) string {
	bucket := firstSeen.UTC().Truncate(time.Minute).Format(time.RFC3339)
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s", source, correlationKey, bucket)))
	return "inc-" + hex.EncodeToString(sum[:8])
}
