package bbdl

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrUnknownField is returned by Catalog.Convert for fields missing from the catalog.
var ErrUnknownField = errors.New("bbdl: unknown field")

// Status columns Bloomberg prepends to every reply row. History replies
// add DATE.
const (
	FieldIdentifier = "IDENTIFIER"
	FieldRetCode    = "RETCODE"
	FieldNFields    = "NFIELDS"
	FieldDate       = "DATE"
)

var statusFieldTypes = map[string]FieldType{
	FieldIdentifier: TypeCharacter,
	FieldRetCode:    TypeInteger,
	FieldNFields:    TypeInteger,
	FieldDate:       TypeDate,
}

// BulkFieldKeys names the columns of well-known bulk fields.
var BulkFieldKeys = map[string][]string{
	"CALL_SCHEDULE":                    {"Call Date", "Call Price"},
	"PUT_SCHEDULE":                     {"Put Date", "Put Price"},
	"SOFT_CALL_SCHEDULE":               {"Soft Call Date", "Soft Call Price"},
	"SOFT_CALL_SCHEDULE_EXTENDED":      {"Soft Call Date", "Soft Call Price"},
	"DDIS_AMT_OUTSTANDING_BY_YR_BNDLN": {"Year", "Amount Outstanding - Ultimate Parent"},
	"ISSUE_UNDERWRITER":                {"Role", "Firm", "Abbreviation", "Code", "Description", "Amount", "Order", "Date"},
	"CONVERSION_RESET_SCHEDULE":        {"Reset Date", "Conversion Price", "Floor"},
	"REDEMPTION_UNDERLYING":            {"Ticker", "Type"},
	"REDEMPTION_UNDERLYING_DATA":       {"Ticker", "Weight", "Initial Value", "Strike", "Upper Barrier", "Lower Barrier", "Num Shares"},
}

var nullValues = map[string]bool{
	"":     true,
	"N.A.": true,
	"N.D.": true,
	"N.S.": true,
	"NaN":  true,
	"None": true,
}

// IsNull reports whether v is one of Bloomberg's "no value" markers. A
// slice is null when all its elements are.
func IsNull(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return nullValues[strings.TrimSpace(x)]
	case []string:
		for _, s := range x {
			if !IsNull(s) {
				return false
			}
		}
		return true
	case []any:
		for _, e := range x {
			if !IsNull(e) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// TimeOfDay is the value of a Time field.
type TimeOfDay struct {
	Hour, Minute, Second int
}

// String formats the time as HH:MM:SS.
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

// Bulk is the value of a Bulk Format field: a table of rows. One
// dimensional bulk values have a single column.
type Bulk struct {
	Columns []string
	Rows    [][]any
}

// Values returns the first column of the table, which is the whole value
// for one dimensional bulk fields.
func (b *Bulk) Values() []any {
	out := make([]any, 0, len(b.Rows))
	for _, r := range b.Rows {
		if len(r) > 0 {
			out = append(out, r[0])
		}
	}
	return out
}

// Maps returns each row keyed by column name.
func (b *Bulk) Maps() []map[string]any {
	out := make([]map[string]any, 0, len(b.Rows))
	for _, r := range b.Rows {
		m := make(map[string]any, len(r))
		for i, v := range r {
			if i < len(b.Columns) {
				m[b.Columns[i]] = v
			}
		}
		out = append(out, m)
	}
	return out
}

var (
	dateLayouts = []string{
		"20060102",
		"2006-01-02",
		"01/02/2006",
		"1/2/2006",
		"01/02/06",
		"1/2/06",
	}
	dateTimeLayouts = []string{
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"20060102 15:04:05",
		"01/02/2006 15:04:05",
		"1/2/2006 15:04:05",
		"2006-01-02T15:04:05Z07:00",
	}
	monthYearLayouts = []string{"01/06", "1/06", "01/2006", "1/2006"}
	timeLayouts      = []string{"15:04:05", "15:04"}
)

// Convert turns the raw reply text of field into a Go value:
//
//	Boolean                  bool
//	Bulk Format              *Bulk
//	Character/Long Character string
//	Date/Month/Year          time.Time (UTC midnight)
//	Date or Time             time.Time (or TimeOfDay for a bare time)
//	Integer                  int64
//	Integer/Real/Price/Real  int64 or float64
//	Time                     TimeOfDay
//
// Null markers convert to nil. Unknown fields return ErrUnknownField.
func (c *Catalog) Convert(field, raw string) (any, error) {
	field = strings.ToUpper(field)
	switch field {
	case FieldIdentifier:
		return toStr(raw), nil
	case FieldRetCode, FieldNFields, "CPN":
		return toNumber(raw), nil
	case FieldDate:
		return toDate(raw, dateLayouts)
	case "CNTRY_OF_DOMICILE":
		return CountryCode(raw), nil
	}

	entry, ok := c.fields[field]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownField, field)
	}
	switch entry.Type {
	case TypeBoolean:
		return toBool(raw), nil
	case TypeBulk:
		return parseBulk(field, raw)
	case TypeCharacter, TypeLongCharacter:
		return toStr(raw), nil
	case TypeDate:
		return toDate(raw, dateLayouts)
	case TypeDateTime:
		return toDateTime(raw)
	case TypeInteger, TypeIntegerReal, TypePrice, TypeReal:
		return toNumber(raw), nil
	case TypeMonthYear:
		return toDate(raw, monthYearLayouts)
	case TypeTime:
		return toTime(raw)
	default:
		return nil, fmt.Errorf("unknown type %s for mnemonic %s", entry.Type, field)
	}
}

func toStr(s string) any {
	s = strings.TrimSpace(s)
	if nullValues[s] {
		return nil
	}
	return s
}

func toBool(s string) bool {
	v, ok := toStr(s).(string)
	if !ok {
		return false
	}
	switch strings.ToUpper(v)[0] {
	case '1', 'T', 'Y':
		return true
	}
	return false
}

// toNumber parses integers as int64 and everything else as float64,
// ignoring thousands separators. Unparsable values are nil. Infinities and
// NaN stay text, since encoding/json cannot encode them.
func toNumber(s string) any {
	v, ok := toStr(s).(string)
	if !ok {
		return nil
	}
	v = strings.ReplaceAll(v, ",", "")
	if i, err := strconv.ParseInt(v, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		if math.IsInf(f, 0) || math.IsNaN(f) {
			return v
		}
		return f
	}
	return nil
}

func toDate(s string, layouts []string) (any, error) {
	v, ok := toStr(s).(string)
	if !ok {
		return nil, nil
	}
	for _, l := range layouts {
		if t, err := time.Parse(l, v); err == nil {
			return t, nil
		}
	}
	return nil, fmt.Errorf("unparsable date %q", v)
}

func toDateTime(s string) (any, error) {
	v, ok := toStr(s).(string)
	if !ok {
		return nil, nil
	}
	for _, l := range dateTimeLayouts {
		if t, err := time.Parse(l, v); err == nil {
			return t, nil
		}
	}
	// Bloomberg sends either a date or a time in these fields.
	if d, err := toDate(v, dateLayouts); err == nil {
		return d, nil
	}
	return toTime(v)
}

func toTime(s string) (any, error) {
	v, ok := toStr(s).(string)
	if !ok {
		return nil, nil
	}
	for _, l := range timeLayouts {
		if t, err := time.Parse(l, v); err == nil {
			return TimeOfDay{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second()}, nil
		}
	}
	return nil, fmt.Errorf("unparsable time %q", v)
}

// CountryCode cleans a country field down to its upper-case letters.
// Slices (history values) yield their first non-null code. Anything else
// is nil.
func CountryCode(v any) any {
	switch x := v.(type) {
	case string:
		s, ok := toStr(x).(string)
		if !ok {
			return nil
		}
		var b strings.Builder
		for _, r := range s {
			if r >= 'A' && r <= 'Z' {
				b.WriteRune(r)
			}
		}
		if b.Len() == 0 {
			return nil
		}
		return b.String()
	case []string:
		for _, e := range x {
			if c := CountryCode(e); c != nil {
				return c
			}
		}
	case []any:
		for _, e := range x {
			if c := CountryCode(e); c != nil {
				return c
			}
		}
	}
	return nil
}

// maxBulkColumns bounds the declared width of a bulk value.
const maxBulkColumns = 1024

// parseBulk parses ";dims;rows;[cols;]type;value;...;". Values are
// (type, value) pairs. On malformed input the rows decoded so far are
// returned together with the error.
func parseBulk(field, s string) (any, error) {
	v, ok := toStr(s).(string)
	if !ok || len(v) < 2 || v[0] != ';' {
		return nil, nil
	}
	bits := strings.Split(v[1:len(v)-1], v[:1])
	pop := func() (string, error) {
		if len(bits) == 0 {
			return "", errors.New("truncated bulk value")
		}
		b := bits[0]
		bits = bits[1:]
		return b, nil
	}
	popInt := func() (int, error) {
		b, err := pop()
		if err != nil {
			return 0, err
		}
		return strconv.Atoi(b)
	}

	dims, err := popInt()
	if err != nil {
		return nil, fmt.Errorf("bulk %s: %w", field, err)
	}
	if dims < 1 || dims > 2 {
		return nil, fmt.Errorf("bulk %s: dimension not supported: %d", field, dims)
	}
	rows, err := popInt()
	if err != nil {
		return nil, fmt.Errorf("bulk %s: %w", field, err)
	}
	cols := 1
	if dims > 1 {
		if cols, err = popInt(); err != nil {
			return nil, fmt.Errorf("bulk %s: %w", field, err)
		}
	}

	// every cell needs at least one element left
	if rows < 0 || cols < 1 || cols > maxBulkColumns || rows > len(bits) || rows*cols > len(bits) {
		return nil, fmt.Errorf("bulk %s: invalid shape %d x %d for %d elements", field, rows, cols, len(bits))
	}

	b := &Bulk{Columns: bulkColumns(field, cols)}
	for range rows {
		row := make([]any, 0, cols)
		for range cols {
			code, err := popInt()
			if err != nil {
				return b, fmt.Errorf("bulk %s: %w", field, err)
			}
			raw, err := pop()
			if err != nil {
				return b, fmt.Errorf("bulk %s: %w", field, err)
			}
			val, err := convertBulkValue(field, code, raw)
			if err != nil {
				return b, fmt.Errorf("bulk %s: %w", field, err)
			}
			row = append(row, val)
		}
		b.Rows = append(b.Rows, row)
	}
	return b, nil
}

func bulkColumns(field string, cols int) []string {
	if keys, ok := BulkFieldKeys[field]; ok && len(keys) == cols {
		return keys
	}
	if cols == 1 {
		return []string{field}
	}
	out := make([]string, cols)
	for i := range out {
		out[i] = fmt.Sprintf("Column %d", i+1)
	}
	return out
}

func convertBulkValue(field string, code int, s string) (any, error) {
	switch code {
	case 1, 4, 11:
		return toStr(s), nil
	case 2, 3, 12, 13:
		return toNumber(s), nil
	case 5:
		return toDate(s, dateLayouts)
	case 6:
		return toTime(s)
	case 7:
		return toDateTime(s)
	case 8:
		return parseBulk(field, s)
	case 9:
		return toDate(s, monthYearLayouts)
	case 10:
		return toBool(s), nil
	}
	return nil, fmt.Errorf("unexpected bulk value type %d, value %q", code, s)
}
