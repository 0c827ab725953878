package bbdl

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFixCase(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"IBM Us Equity", "IBM US Equity"},
		{"ibm us equity", "IBM US Equity"},
		{"01234abc89 Us EQUITY", "01234ABC89 US Equity"},
		{"ibm us m-mkt", "IBM US M-Mkt"},
		{"88160rag6 corp", "88160RAG6 Corp"},
		{"spx index", "SPX Index"},
		{"aapl", "AAPL"},
		{"foo bar baz", "FOO BAR Baz"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, FixCase(tt.in))
		})
	}
}

func TestFixCase_Idempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"IBM Us Equity",
		"ibm US EQUITY",
		"vod ln equity",
		"T 2 1/2 05/31/26 govt",
		"eur curncy",
		"CL1 comdty",
		"xyz pFd",
		"single",
		"a b",
		"  leading",
		"trailing ",
		"ünïcode wörd",
	}
	for _, in := range inputs {
		once := FixCase(in)
		assert.Equal(t, once, FixCase(once), "FixCase(%q)", in)
	}
}

func TestIsBBTicker(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want bool
	}{
		{"IBM US Equity", true},
		{"88160RAG6 Corp", true},
		{"EUR Curncy", true},
		{"IBM US equity", false},
		{"IBM", false},
		{"88160RAG6", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsBBTicker(tt.in), tt.in)
	}
}

func TestNormalizeTicker(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ibm us Equity", normalizeTicker("ibm us EQUITY"))
	assert.Equal(t, "IBM US Foo", normalizeTicker("IBM US Foo"))
	assert.Equal(t, "IBM", normalizeTicker("IBM"))
}
