package clickhouse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitStatements(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   []string
	}{
		{
			name: "comments and blank lines",
			script: `-- audit tables
CREATE TABLE a (x UInt8) ENGINE = MergeTree ORDER BY x;

-- second
CREATE TABLE b (y String) ENGINE = MergeTree ORDER BY y;
`,
			want: []string{
				"CREATE TABLE a (x UInt8) ENGINE = MergeTree ORDER BY x",
				"CREATE TABLE b (y String) ENGINE = MergeTree ORDER BY y",
			},
		},
		{
			name:   "semicolon in string",
			script: "SELECT 'a;b'; SELECT 2",
			want:   []string{"SELECT 'a;b'", "SELECT 2"},
		},
		{
			name:   "doubled quote",
			script: "SELECT 'it''s; fine';",
			want:   []string{"SELECT 'it''s; fine'"},
		},
		{
			name:   "dashes in string",
			script: "SELECT '--x' -- trailing\n;",
			want:   []string{"SELECT '--x'"},
		},
		{
			name:   "only comments",
			script: "-- nothing\n\n;\n",
			want:   nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitStatements(tt.script))
		})
	}
}

func TestDatabaseFromDSN(t *testing.T) {
	db, err := DatabaseFromDSN("clickhouse://default:@localhost:9000/keeper_audit")
	require.NoError(t, err)
	assert.Equal(t, "keeper_audit", db)

	_, err = DatabaseFromDSN("clickhouse://localhost:9000")
	assert.Error(t, err)
}
