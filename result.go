package bbdl

import "slices"

// Record is one resolved security: field mnemonic to converted value. It
// always carries IDENTIFIER, RETCODE and NFIELDS. In history results every
// non-status field, DATE included, holds a []any with one value per date.
type Record map[string]any

// Identifier returns the IDENTIFIER of the record.
func (r Record) Identifier() string {
	s, _ := r[FieldIdentifier].(string)
	return s
}

// Column describes one column of a Result.
type Column struct {
	Name string
	Type FieldType
}

// Result is the parsed reply of a request: the records Bloomberg resolved
// and the identifiers it could not.
type Result struct {
	// RequestID identifies the Client.Request call that produced the
	// result. Empty for results parsed directly.
	RequestID string

	Data    []Record
	Errors  []SecurityError
	Columns []Column
}

// addColumn appends a column unless a column with that name exists.
func (r *Result) addColumn(c Column) {
	if slices.ContainsFunc(r.Columns, func(x Column) bool { return x.Name == c.Name }) {
		return
	}
	r.Columns = append(r.Columns, c)
}

// Extend merges other into r, which is how replies of a request split
// across several field chunks are joined. Records pair up by identifier
// and occurrence: the nth record for an identifier in other gains the
// fields of, or is merged into, the nth record for it in r. Repeated
// identifiers, such as a ticker requested once plain and once with
// overrides, stay separate records.
func (r *Result) Extend(other *Result) {
	if other == nil {
		return
	}
	index := make(map[string][]int, len(r.Data))
	for i, rec := range r.Data {
		index[rec.Identifier()] = append(index[rec.Identifier()], i)
	}
	seen := make(map[string]int, len(other.Data))
	for _, rec := range other.Data {
		id := rec.Identifier()
		n := seen[id]
		seen[id]++
		if n >= len(index[id]) {
			index[id] = append(index[id], len(r.Data))
			r.Data = append(r.Data, rec)
			continue
		}
		dst := r.Data[index[id][n]]
		for k, v := range rec {
			if _, exists := dst[k]; !exists {
				dst[k] = v
			}
		}
	}
	r.Errors = append(r.Errors, other.Errors...)
	for _, c := range other.Columns {
		r.addColumn(c)
	}
}

// ColumnNames returns the names of r.Columns in order.
func (r *Result) ColumnNames() []string {
	out := make([]string, len(r.Columns))
	for i, c := range r.Columns {
		out[i] = c.Name
	}
	return out
}

// Lookup returns the first record for identifier.
func (r *Result) Lookup(identifier string) (Record, bool) {
	for _, rec := range r.Data {
		if rec.Identifier() == identifier {
			return rec, true
		}
	}
	return nil, false
}
