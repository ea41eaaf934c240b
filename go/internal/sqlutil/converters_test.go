package sqlutil

import (
	"database/sql"
	"testing"
	"time"

	"github.com/sqlc-dev/pqtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStrings(t *testing.T) {
	assert.False(t, ToSqlString("").Valid)
	assert.Equal(t, sql.NullString{String: "p1", Valid: true}, ToSqlString("p1"))
	assert.Equal(t, "fallback", FromSqlString(sql.NullString{}, "fallback"))
	assert.Equal(t, "p1", FromSqlString(sql.NullString{String: "p1", Valid: true}, ""))
}

func TestTimes(t *testing.T) {
	assert.False(t, ToSqlTime(nil).Valid)
	assert.Nil(t, FromSqlTime(sql.NullTime{}))

	local := time.Date(2026, 1, 2, 10, 0, 0, 0, time.FixedZone("CET", 3600))
	got := FromSqlTime(ToSqlTime(&local))
	require.NotNil(t, got)
	assert.True(t, got.Equal(local))
	assert.Equal(t, time.UTC, got.Location())
}

func TestJSON(t *testing.T) {
	empty, err := ToSqlJSON(nil)
	require.NoError(t, err)
	assert.False(t, empty.Valid)

	tags, err := ToSqlJSON([]string{"billable", "q3"})
	require.NoError(t, err)
	assert.JSONEq(t, `["billable","q3"]`, string(tags.RawMessage))

	back, err := FromSqlJSON(tags)
	require.NoError(t, err)
	assert.Equal(t, []string{"billable", "q3"}, back)

	none, err := FromSqlJSON(pqtype.NullRawMessage{})
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = FromSqlJSON(pqtype.NullRawMessage{RawMessage: []byte(`{"a":1}`), Valid: true})
	require.Error(t, err)
}
