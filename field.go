package bbdl

import (
	_ "embed"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"sort"
	"strings"
	"sync"
)

// FieldType is the Data License type of a field, as listed in the
// "Field Type" column of Bloomberg's fields.csv.
type FieldType int

const (
	TypeUnknown FieldType = iota
	TypeBoolean
	TypeBulk
	TypeCharacter
	TypeDate
	TypeDateTime
	TypeInteger
	TypeIntegerReal
	TypeLongCharacter
	TypeMonthYear
	TypePrice
	TypeReal
	TypeTime
)

var fieldTypeNames = map[FieldType]string{
	TypeBoolean:       "Boolean",
	TypeBulk:          "Bulk Format",
	TypeCharacter:     "Character",
	TypeDate:          "Date",
	TypeDateTime:      "Date or Time",
	TypeInteger:       "Integer",
	TypeIntegerReal:   "Integer/Real",
	TypeLongCharacter: "Long Character",
	TypeMonthYear:     "Month/Year",
	TypePrice:         "Price",
	TypeReal:          "Real",
	TypeTime:          "Time",
}

// String returns Bloomberg's name for the type.
func (t FieldType) String() string {
	if s, ok := fieldTypeNames[t]; ok {
		return s
	}
	return "Unknown"
}

// ParseFieldType maps a "Field Type" column value to a FieldType.
func ParseFieldType(s string) (FieldType, error) {
	s = strings.TrimSpace(s)
	for t, name := range fieldTypeNames {
		if name == s {
			return t, nil
		}
	}
	return TypeUnknown, fmt.Errorf("unknown field type %q", s)
}

// Field is one row of the field catalog.
type Field struct {
	Mnemonic string
	Category string
	Type     FieldType
	// AssetClasses holds the per yellow key columns of Bloomberg's
	// fields.csv when present (e.g., "Equity" -> "1").
	AssetClasses map[string]string
}

// Catalog columns.
const (
	ColMnemonic = "Field Mnemonic"
	ColCategory = "Data License Category"
	ColType     = "Field Type"
)

// CatalogHeaders are the columns kept when simplifying Bloomberg's fields.csv.
var CatalogHeaders = append(append([]string{ColMnemonic, ColCategory}, YellowKeys...), ColType)

// Catalog is the set of known Data License fields keyed by mnemonic.
type Catalog struct {
	fields map[string]Field
	order  []string
}

//go:embed assets/fields.csv
var embeddedFields string

var (
	defaultCatalog     *Catalog
	defaultCatalogOnce sync.Once
)

// DefaultCatalog returns the catalog embedded in the package.
func DefaultCatalog() *Catalog {
	defaultCatalogOnce.Do(func() {
		c, err := LoadCatalog(strings.NewReader(embeddedFields))
		if err != nil {
			panic(fmt.Sprintf("bbdl: embedded fields.csv: %v", err))
		}
		defaultCatalog = c
	})
	return defaultCatalog
}

// LoadCatalog reads a fields.csv (simplified or Bloomberg's full file).
// Only the mnemonic, category and type columns are required.
func LoadCatalog(r io.Reader) (*Catalog, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(h)] = i
	}
	for _, col := range []string{ColMnemonic, ColCategory, ColType} {
		if _, ok := idx[col]; !ok {
			return nil, &ValidationError{Field: "catalog", Reason: "missing column " + col}
		}
	}

	c := &Catalog{fields: make(map[string]Field)}
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("failed to read catalog line %d: %w", line, err)
		}
		get := func(col string) string {
			i, ok := idx[col]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}
		mnemonic := strings.ToUpper(get(ColMnemonic))
		if mnemonic == "" {
			continue
		}
		ftype, _ := ParseFieldType(get(ColType))
		f := Field{Mnemonic: mnemonic, Category: get(ColCategory), Type: ftype}
		for _, k := range YellowKeys {
			if v := get(k); v != "" {
				if f.AssetClasses == nil {
					f.AssetClasses = make(map[string]string)
				}
				f.AssetClasses[k] = v
			}
		}
		if _, dup := c.fields[mnemonic]; !dup {
			c.order = append(c.order, mnemonic)
		}
		c.fields[mnemonic] = f
	}
	return c, nil
}

// LoadCatalogFile reads a catalog from a fields.csv on disk.
func LoadCatalogFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	defer f.Close()
	return LoadCatalog(f)
}

// Len returns the number of fields in the catalog.
func (c *Catalog) Len() int { return len(c.order) }

// Lookup returns the catalog entry for mnemonic (case-insensitive).
func (c *Catalog) Lookup(mnemonic string) (Field, bool) {
	f, ok := c.fields[strings.ToUpper(mnemonic)]
	return f, ok
}

// TypeOf returns the type of a field, or TypeUnknown for unknown fields.
func (c *Catalog) TypeOf(mnemonic string) FieldType {
	if t, ok := statusFieldTypes[strings.ToUpper(mnemonic)]; ok {
		return t
	}
	return c.fields[strings.ToUpper(mnemonic)].Type
}

// Categories returns the distinct categories of the catalog, sorted.
func (c *Catalog) Categories() []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range c.order {
		cat := c.fields[m].Category
		if cat != "" && !seen[cat] {
			seen[cat] = true
			out = append(out, cat)
		}
	}
	sort.Strings(out)
	return out
}

// FromCategories returns, in catalog order, the fields that belong to one
// of categories (or, with invert, to none of them). Bloomberg's BH_ and
// LU_ metadata fields are never returned.
func (c *Catalog) FromCategories(categories []string, invert bool) []string {
	var out []string
	for _, m := range c.order {
		if strings.HasPrefix(m, "BH_") || strings.HasPrefix(m, "LU_") {
			continue
		}
		if slices.Contains(categories, c.fields[m].Category) != invert {
			out = append(out, m)
		}
	}
	return out
}

// CategoryBreakdown is the result of ToCategories.
type CategoryBreakdown struct {
	Count  map[string]int
	Detail map[string][]string
}

// ToCategories groups fields by their catalog category. Unknown fields are
// skipped.
func (c *Catalog) ToCategories(fields []string) CategoryBreakdown {
	res := CategoryBreakdown{Count: make(map[string]int), Detail: make(map[string][]string)}
	for _, f := range fields {
		entry, ok := c.Lookup(f)
		if !ok || entry.Category == "" {
			continue
		}
		res.Count[entry.Category]++
		res.Detail[entry.Category] = append(res.Detail[entry.Category], f)
	}
	return res
}

// OpenFields are free identifier fields that may be requested regardless of
// the categories a request is limited to.
var OpenFields = []string{
	"ID_BB_GLOBAL",
	"ID_BB_GLOBAL_SHARE_CLASS_LEVEL",
	"COMPOSITE_ID_BB_GLOBAL",
	"ID_BB_SEC_NUM_DES",
	"TICKER",
	"EXCH_CODE",
	"NAME",
	"MARKET_SECTOR_DES",
	"SECURITY_TYP",
	"SECURITY_TYP2",
	"FEED_SOURCE",
}

// LimitFields filters requested fields to those in categories (plus
// OpenFields when allowOpen), upper-cased, de-duplicated and sorted. It
// exists to avoid expensive mistakes: every category pulled is billed.
// With no categories the fields are only normalized.
func (c *Catalog) LimitFields(fields, categories []string, allowOpen bool) []string {
	allowed := make(map[string]bool)
	for _, f := range c.FromCategories(categories, false) {
		allowed[f] = true
	}
	if allowOpen {
		for _, f := range OpenFields {
			allowed[f] = true
		}
	}
	seen := make(map[string]bool)
	var out []string
	for _, f := range fields {
		f = strings.ToUpper(strings.TrimSpace(f))
		if f == "" || seen[f] {
			continue
		}
		if len(categories) > 0 && !allowed[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// SimplifyCatalog rewrites Bloomberg's full fields.csv into the simplified
// form with only CatalogHeaders columns.
func SimplifyCatalog(r io.Reader, w io.Writer) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(h)] = i
	}
	if _, ok := idx[ColMnemonic]; !ok {
		return &ValidationError{Field: "fields.csv", Reason: "missing column " + ColMnemonic}
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(CatalogHeaders); err != nil {
		return err
	}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read fields.csv: %w", err)
		}
		out := make([]string, len(CatalogHeaders))
		for i, col := range CatalogHeaders {
			if j, ok := idx[col]; ok && j < len(rec) {
				out[i] = strings.TrimSpace(rec[j])
			}
		}
		if err := cw.Write(out); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
