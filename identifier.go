package bbdl

import (
	"fmt"
	"strconv"
	"strings"
)

// Identifier is one security line of a request file.
//
// A Bloomberg ticker ("IBM US Equity") needs only Value. Other identifiers
// need a Type ("CUSIP", "ISIN", "BB_GLOBAL", ...). Overrides are sent as
// field/value pairs after the type.
type Identifier struct {
	Value     string
	Type      string
	Overrides []Override
}

// Override replaces the value of a Bloomberg field for one security.
type Override struct {
	Field string
	Value string
}

// Ticker returns an Identifier for a Bloomberg ticker.
func Ticker(s string) Identifier {
	return Identifier{Value: s}
}

// ParseIdentifier parses the textual form accepted by Client.Request:
//
//	"IBM US Equity"                          ticker
//	"88160RAG6|CUSIP"                        value and type
//	"IBM US Equity|TICKER|EQY_FUND_CRNCY|EUR" value, type and overrides
func ParseIdentifier(s string) (Identifier, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Identifier{}, &ValidationError{Field: "identifier", Reason: "empty"}
	}
	bits := strings.Split(s, "|")
	switch {
	case len(bits) == 1:
		return Ticker(bits[0]), nil
	case len(bits) == 2:
		return Identifier{Value: bits[0], Type: bits[1]}, nil
	case len(bits)%2 == 0:
		id := Identifier{Value: bits[0], Type: bits[1]}
		for i := 2; i < len(bits); i += 2 {
			id.Overrides = append(id.Overrides, Override{Field: bits[i], Value: bits[i+1]})
		}
		return id, nil
	default:
		return Identifier{}, &ValidationError{
			Field:  "identifier",
			Reason: fmt.Sprintf("unexpected format %q: overrides must be field/value pairs", s),
		}
	}
}

// ParseIdentifiers parses each string with ParseIdentifier.
func ParseIdentifiers(ss []string) ([]Identifier, error) {
	ids := make([]Identifier, 0, len(ss))
	for _, s := range ss {
		id, err := ParseIdentifier(s)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// line renders the identifier as a request file data line.
func (id Identifier) line(delimiter string) string {
	if id.Type == "" {
		return normalizeTicker(id.Value)
	}
	if len(id.Overrides) == 0 {
		return id.Value + delimiter + id.Type
	}
	parts := []string{id.Value, id.Type, strconv.Itoa(len(id.Overrides))}
	for _, o := range id.Overrides {
		parts = append(parts, o.Field, o.Value)
	}
	return strings.Join(parts, delimiter)
}

// String returns the identifier in the form accepted by ParseIdentifier.
func (id Identifier) String() string {
	if id.Type == "" {
		return id.Value
	}
	var b strings.Builder
	b.WriteString(id.Value)
	b.WriteString("|")
	b.WriteString(id.Type)
	for _, o := range id.Overrides {
		b.WriteString("|" + o.Field + "|" + o.Value)
	}
	return b.String()
}
