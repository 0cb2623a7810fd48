package sqlxconn

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tomyedwab/gsqlw/gsql"
)

func TestTextDestScan(t *testing.T) {
	tests := []struct {
		name string
		src  any
		null bool
		want string
	}{
		{"null", nil, true, ""},
		{"empty bytes", []byte{}, false, ""},
		{"nil bytes", []byte(nil), false, ""},
		{"empty string", "", false, ""},
		{"bytes", []byte("abc"), false, "abc"},
		{"string", "héllo", false, "héllo"},
		{"int", int64(-42), false, "-42"},
		{"float", 1.5, false, "1.5"},
		{"bool", true, false, "true"},
		{"time", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), false, "2024-01-02T03:04:05Z"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d TextDest
			require.NoError(t, d.Scan(tt.src))
			require.Equal(t, tt.null, d.Null)
			require.Equal(t, tt.want, string(d.Bytes))
			if !tt.null {
				require.NotNil(t, d.Bytes)
			}
		})
	}

	var d TextDest
	require.Error(t, d.Scan(struct{}{}))
}

func TestFillKeepsEmptyTextNonNull(t *testing.T) {
	cells := []gsql.Cell{{Tag: gsql.TagText}, {Tag: gsql.TagInt}, {Tag: gsql.TagText}}
	dest := ScanDest(cells)
	require.NoError(t, dest[0].(*TextDest).Scan(""))
	require.NoError(t, dest[1].(*sql.NullInt64).Scan(nil))
	require.NoError(t, dest[2].(*TextDest).Scan(nil))

	Fill(cells, dest)
	require.False(t, cells[0].Null)
	require.NotNil(t, cells[0].Buf)
	require.Empty(t, cells[0].Buf)
	require.True(t, cells[1].Null)
	require.True(t, cells[2].Null)
}

func TestCountQuery(t *testing.T) {
	require.Equal(t, "SELECT COUNT(*) FROM (SELECT a FROM t) AS gsql_count", CountQuery("SELECT a FROM t;\n"))
}
