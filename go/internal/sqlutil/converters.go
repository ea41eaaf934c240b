package sqlutil

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sqlc-dev/pqtype"
)

// Helper functions for converting between Go types and sql.Null* types

// ToSqlString converts a Go string to sql.NullString, storing "" as NULL
func ToSqlString(val string) sql.NullString {
	if val == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: val, Valid: true}
}

// FromSqlString converts sql.NullString to Go string with default
func FromSqlString(val sql.NullString, defaultVal string) string {
	if !val.Valid {
		return defaultVal
	}
	return val.String
}

// ToSqlTime converts a Go time pointer to sql.NullTime
func ToSqlTime(val *time.Time) sql.NullTime {
	if val == nil {
		return sql.NullTime{Valid: false}
	}
	return sql.NullTime{Time: *val, Valid: true}
}

// FromSqlTime converts sql.NullTime to a UTC Go time pointer
func FromSqlTime(val sql.NullTime) *time.Time {
	if !val.Valid {
		return nil
	}
	t := val.Time.UTC()
	return &t
}

// ToSqlJSON marshals a string list into a jsonb value; an empty list is NULL
func ToSqlJSON(vals []string) (pqtype.NullRawMessage, error) {
	if len(vals) == 0 {
		return pqtype.NullRawMessage{Valid: false}, nil
	}
	raw, err := json.Marshal(vals)
	if err != nil {
		return pqtype.NullRawMessage{}, fmt.Errorf("marshal json: %w", err)
	}
	return pqtype.NullRawMessage{RawMessage: raw, Valid: true}, nil
}

// FromSqlJSON unmarshals a jsonb string list; NULL yields nil
func FromSqlJSON(val pqtype.NullRawMessage) ([]string, error) {
	if !val.Valid || len(val.RawMessage) == 0 {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal(val.RawMessage, &out); err != nil {
		return nil, fmt.Errorf("unmarshal json: %w", err)
	}
	return out, nil
}
