package bbdl

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// YellowKeys are the Bloomberg market sector suffixes, in their canonical case.
var YellowKeys = []string{
	"Comdty", "Equity", "Muni", "Pfd", "M-Mkt",
	"Govt", "Corp", "Index", "Curncy", "Mtge",
}

// FixCase normalizes the case of a Bloomberg ticker: every word is
// upper-cased except the last one, which is capitalized (or set to the
// canonical spelling when it is a yellow key). A single word is
// upper-cased.
//
//	FixCase("01234abc89 Us EQUITY") // "01234ABC89 US Equity"
//	FixCase("ibm us m-mkt")          // "IBM US M-Mkt"
//
// FixCase is idempotent.
func FixCase(ticker string) string {
	if ticker == "" {
		return ""
	}
	if !strings.Contains(ticker, " ") {
		return strings.ToUpper(ticker)
	}
	bits := strings.Split(ticker, " ")
	last := len(bits) - 1
	for i := range last {
		bits[i] = strings.ToUpper(bits[i])
	}
	bits[last] = fixYellowKey(bits[last])
	return strings.Join(bits, " ")
}

// IsBBTicker reports whether ticker looks like "<ticker> [extra] <yellow key>".
// It is a heuristic, not a validation against Bloomberg.
func IsBBTicker(ticker string) bool {
	if ticker == "" {
		return false
	}
	bits := strings.Split(ticker, " ")
	if len(bits) < 2 {
		return false
	}
	return isYellowKey(bits[len(bits)-1])
}

func isYellowKey(s string) bool {
	for _, k := range YellowKeys {
		if s == k {
			return true
		}
	}
	return false
}

// fixYellowKey returns the canonical yellow key matching word
// case-insensitively, or word capitalized.
func fixYellowKey(word string) string {
	for _, k := range YellowKeys {
		if strings.EqualFold(word, k) {
			return k
		}
	}
	return capitalize(word)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	s = strings.ToLower(s)
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[size:]
}

// normalizeTicker fixes only the yellow key of a ticker, leaving the rest
// untouched. Request files need properly cased yellow keys while the
// security part may legitimately be mixed case.
func normalizeTicker(ticker string) string {
	i := strings.LastIndex(ticker, " ")
	if i < 0 {
		return ticker
	}
	last := ticker[i+1:]
	for _, k := range YellowKeys {
		if strings.EqualFold(last, k) {
			return ticker[:i+1] + k
		}
	}
	return ticker
}
