package models

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestDeriveIncidentIDStableWithinMinute(t *testing.T) {
	base := time.Date(2026, 3, 14, 9, 26, 5, 0, time.UTC)

	id1 := DeriveIncidentID(SourceAirflow, "dag_id=etl/task_id=load", base)
	id2 := DeriveIncidentID(SourceAirflow, "dag_id=etl/task_id=load", base.Add(40*time.Second))

	if id1 != id2 {
		t.Fatalf("expected ids within one minute bucket to match: %s vs %s", id1, id2)
	}
	if !strings.HasPrefix(id1, "inc-") {
		t.Fatalf("expected inc- prefix, got %s", id1)
	}
}

func TestDeriveIncidentIDChangesAcrossBuckets(t *testing.T) {
	base := time.Date(2026, 3, 14, 9, 26, 5, 0, time.UTC)

	id1 := DeriveIncidentID(SourceAirflow, "dag_id=etl", base)
	id2 := DeriveIncidentID(SourceAirflow, "dag_id=etl", base.Add(time.Minute))
	if id1 == id2 {
		t.Fatal("expected different ids across minute buckets")
	}

	id3 := DeriveIncidentID(SourceDatabricks, "dag_id=etl", base)
	if id1 == id3 {
		t.Fatal("expected different ids across source systems")
	}
}

func TestCorrelationKeyFieldOrder(t *testing.T) {
	incident := Incident{
		Source: SourceAirflow,
		Fields: map[string]string{
			FieldRunID:  "manual__2026-03-14",
			FieldDAGID:  "daily_etl",
			FieldTaskID: "load_users",
		},
	}

	want := "dag_id=daily_etl/task_id=load_users/run_id=manual__2026-03-14"
	if got := incident.CorrelationKey(); got != want {
		t.Fatalf("correlation key mismatch:\n got %s\nwant %s", got, want)
	}
}

func TestCorrelationKeySkipsEmptyFields(t *testing.T) {
	incident := Incident{Fields: map[string]string{FieldJobID: "123", FieldRunID: ""}}
	if got := incident.CorrelationKey(); got != "job_id=123" {
		t.Fatalf("expected job_id=123, got %s", got)
	}
}

func TestPipelineName(t *testing.T) {
	cases := []struct {
		fields map[string]string
		want   string
	}{
		{map[string]string{FieldDAGID: "daily_etl", FieldTaskID: "load"}, "daily_etl"},
		{map[string]string{FieldJobID: "42"}, "42"},
		{map[string]string{FieldTaskID: "load"}, "load"},
		{nil, "unknown-pipeline"},
	}

	for _, tc := range cases {
		incident := Incident{Fields: tc.fields}
		if got := incident.PipelineName(); got != tc.want {
			t.Errorf("PipelineName(%v) = %s, want %s", tc.fields, got, tc.want)
		}
	}
}

func TestFailureLabel(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{ErrMalformedEvidence, FailureMalformedEvidence},
		{fmt.Errorf("wrapped: %w", ErrClassificationUnavailable), FailureClassificationUnavailable},
		{ErrExecutionFailed, FailureExecutionFailed},
		{ErrAuditWriteFailed, FailureAuditWriteFailed},
		{errors.New("unrelated"), ""},
		{nil, ""},
	}

	for _, tc := range cases {
		if got := FailureLabel(tc.err); got != tc.want {
			t.Errorf("FailureLabel(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestSourceSystemValid(t *testing.T) {
	for _, s := range []SourceSystem{SourceAirflow, SourceDatabricks, SourceSnowflake, SourceMock} {
		if !s.Valid() {
			t.Errorf("expected %s to be valid", s)
		}
	}
	if SourceSystem("jenkins").Valid() {
		t.Error("expected jenkins to be invalid")
	}
}
