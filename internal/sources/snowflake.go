package sources

import (
	"context"
	"regexp"
	"strings"

	"github.com/oncallstack/triage-engine/internal/config"
	"github.com/oncallstack/triage-engine/internal/models"
)

var snowflakeQueryPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)query[ _]?id\s*[=:]\s*['"]?([\w\-]+)`),
}

// SnowflakeAdapter extracts query identifiers from Snowflake errors. Failed
// queries are re-issued by their owning job, not by this system, so re-runs
// are unsupported and remediation falls through to ticketing or escalation.
type SnowflakeAdapter struct {
	account string
	user    string
}

// NewSnowflakeAdapter constructs the Snowflake adapter.
func NewSnowflakeAdapter(cfg config.SnowflakeConfig) *SnowflakeAdapter {
	return &SnowflakeAdapter{account: cfg.Account, user: cfg.User}
}

// System identifies the Snowflake platform.
func (a *SnowflakeAdapter) System() models.SourceSystem { return models.SourceSnowflake }

// ExtractFields scrapes the query id from Snowflake error text.
func (a *SnowflakeAdapter) ExtractFields(raw string) (map[string]string, error) {
	if !strings.Contains(strings.ToLower(raw), "snowflake") {
		return nil, ErrNoMatch
	}

	fields := make(map[string]string)
	if queryID := firstMatch(raw, snowflakeQueryPatterns...); queryID != "" {
		fields[models.FieldQueryID] = queryID
	}
	if len(fields) == 0 {
		return nil, ErrNoMatch
	}
	return fields, nil
}

// TriggerRerun always fails: Snowflake queries cannot be re-run from here.
func (a *SnowflakeAdapter) TriggerRerun(ctx context.Context, fields map[string]string) (string, error) {
	return "", models.ErrRerunUnsupported
}
