package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gonzalop/bbdl"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitList(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"PX_LAST", []string{"PX_LAST"}},
		{"IBM US Equity, 88160RAG6|CUSIP ,", []string{"IBM US Equity", "88160RAG6|CUSIP"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, splitList(tt.in), tt.in)
	}
}

func TestParseDate(t *testing.T) {
	t.Parallel()

	d, err := parseDate("2024-01-02")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), d)

	d, err = parseDate("")
	require.NoError(t, err)
	assert.True(t, d.IsZero())

	_, err = parseDate("01/02/2024")
	assert.Error(t, err)
}

func TestWriteJSON_NonFinite(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"infinity", "inf", `"PX_LAST": "inf"`},
		{"negative infinity", "-Inf", `"PX_LAST": "-Inf"`},
		{"nan", "nan", `"PX_LAST": "nan"`},
		{"finite", "1.5", `"PX_LAST": 1.5`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			reply := "START-OF-FILE\nSTART-OF-FIELDS\nPX_LAST\nEND-OF-FIELDS\nSTART-OF-DATA\n" +
				"IBM US Equity|0|1|" + tt.raw + "|\nEND-OF-DATA\nEND-OF-FILE\n"
			res, err := bbdl.ParseReply(strings.NewReader(reply))
			require.NoError(t, err)

			var buf bytes.Buffer
			require.NoError(t, writeJSON(&buf, res))
			assert.Contains(t, buf.String(), tt.want)
		})
	}
}

func TestRunUpdateFields(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	in := filepath.Join(dir, "full.csv")
	out := filepath.Join(dir, "fields.csv")
	require.NoError(t, os.WriteFile(in, []byte(
		"Field Mnemonic,Data License Category,Field Type,Description\n"+
			"PX_LAST,End of Day Pricing,Price,Last price\n"+
			"ISIN,Security Master,Character,ISIN\n"), 0o644))

	require.NoError(t, runUpdateFields(context.Background(), zerolog.Nop(), []string{"-in", in, "-out", out}))

	catalog, err := bbdl.LoadCatalogFile(out)
	require.NoError(t, err)
	assert.Equal(t, 2, catalog.Len())
	assert.Equal(t, bbdl.TypePrice, catalog.TypeOf("PX_LAST"))
}
