package bbdl

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// Reply and request file markers.
const (
	markStartOfFile   = "START-OF-FILE"
	markEndOfFile     = "END-OF-FILE"
	markStartOfFields = "START-OF-FIELDS"
	markEndOfFields   = "END-OF-FIELDS"
	markStartOfData   = "START-OF-DATA"
	markEndOfData     = "END-OF-DATA"

	headerHistoryProgram = "PROGRAMNAME=gethistory"
	headerCompress       = "COMPRESS=yes"
)

// maxLineSize bounds a single reply line. Bulk fields can be long.
const maxLineSize = 16 << 20

var statusFields = []string{FieldIdentifier, FieldRetCode, FieldNFields}

// Parser parses reply files.
type Parser struct {
	// Catalog types and converts field values. Nil means DefaultCatalog().
	Catalog *Catalog
	// Logger receives conversion problems and Bloomberg error rows. Nil
	// discards them.
	Logger *slog.Logger
}

// ParseReply parses a reply with the default catalog.
func ParseReply(r io.Reader) (*Result, error) {
	return (&Parser{}).Parse(r)
}

// Parse reads a reply file: the echoed header, the fields block and the
// data block. Rows with return code 0 become records, other rows become
// SecurityErrors. History replies (PROGRAMNAME=gethistory) are pivoted to
// one record per identifier.
func (p *Parser) Parse(r io.Reader) (*Result, error) {
	catalog := p.Catalog
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	logger := p.Logger
	if logger == nil {
		logger = nopLogger()
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	lineNo := 0
	next := func() (string, bool) {
		if !sc.Scan() {
			return "", false
		}
		lineNo++
		return strings.TrimSpace(sc.Text()), true
	}

	// header and fields
	delimiter := "|"
	history := false
	var fields []string
	inFields := false
	for {
		line, ok := next()
		if !ok {
			if err := sc.Err(); err != nil {
				return nil, fmt.Errorf("failed to read reply: %w", err)
			}
			return nil, &ParseError{Line: lineNo, Reason: "missing " + markEndOfFields}
		}
		if !inFields {
			switch {
			case line == headerHistoryProgram:
				history = true
			case strings.HasPrefix(line, "DELIMITER="):
				if d := strings.TrimPrefix(line, "DELIMITER="); len(d) == 1 {
					delimiter = d
				}
			case line == markStartOfFields:
				inFields = true
			}
			continue
		}
		if line == markStartOfFields {
			return nil, &ParseError{Line: lineNo, Text: line, Reason: "nested " + markStartOfFields}
		}
		if line == markEndOfFields {
			break
		}
		if line != "" {
			fields = append(fields, strings.ToUpper(line))
		}
	}

	status := statusFields
	if history {
		status = append(append([]string(nil), statusFields...), FieldDate)
	}
	columns := append(append([]string(nil), status...), fields...)

	res := &Result{}
	inData := false
	for {
		line, ok := next()
		if !ok {
			if err := sc.Err(); err != nil {
				return nil, fmt.Errorf("failed to read reply: %w", err)
			}
			return nil, &ParseError{Line: lineNo, Reason: "missing " + markEndOfData}
		}
		if !inData {
			if line == markStartOfData {
				inData = true
			}
			continue
		}
		if line == markStartOfData {
			return nil, &ParseError{Line: lineNo, Text: line, Reason: "nested " + markStartOfData}
		}
		if line == markEndOfData {
			break
		}
		if line == "" {
			continue
		}

		// rows end with a trailing delimiter
		values := strings.Split(strings.TrimSuffix(line, delimiter), delimiter)
		if len(values) < 2 {
			return nil, &ParseError{Line: lineNo, Text: line, Reason: "expected identifier and return code"}
		}
		rc, err := strconv.Atoi(strings.TrimSpace(values[1]))
		if err != nil {
			return nil, &ParseError{Line: lineNo, Text: line, Reason: "return code is not a number"}
		}

		if ReturnCode(rc) != RCOK {
			se := securityError(values, ReturnCode(rc), history)
			if se.Message != "" {
				logger.Warn("bloomberg error", "code", rc, "message", se.Message, "identifier", se.Identifier)
			} else {
				logger.Warn("bloomberg error", "code", rc, "identifier", se.Identifier)
			}
			res.Errors = append(res.Errors, se)
			continue
		}

		rec := make(Record, len(columns))
		for i, col := range columns {
			if i >= len(values) {
				break
			}
			rec[col] = p.convert(catalog, logger, col, values[i])
			res.addColumn(Column{Name: col, Type: catalog.TypeOf(col)})
		}
		res.Data = append(res.Data, rec)
	}

	if history {
		res.Data = pivotHistory(res.Data)
	}
	return res, nil
}

func (p *Parser) convert(catalog *Catalog, logger *slog.Logger, field, raw string) any {
	v, err := catalog.Convert(field, raw)
	if errors.Is(err, ErrUnknownField) {
		return toStr(raw)
	}
	if err != nil {
		logger.Debug("failed to convert field", "field", field, "value", raw, "error", err)
	}
	return v
}

func securityError(values []string, rc ReturnCode, history bool) SecurityError {
	se := SecurityError{
		Identifier: strings.TrimSpace(values[0]),
		ReturnCode: rc,
		Message:    rc.Message(),
	}
	if len(values) > 2 {
		se.NFields, _ = strconv.Atoi(strings.TrimSpace(values[2]))
	}
	if history && len(values) > 3 {
		if d, err := toDate(values[3], dateLayouts); err == nil {
			se.Date, _ = d.(time.Time)
		}
	}
	return se
}

// pivotHistory turns one row per identifier and date into one record per
// identifier. Status fields stay scalar (first row wins); every other
// field becomes a []any in row order. Identifier order is preserved.
func pivotHistory(rows []Record) []Record {
	var order []string
	byID := make(map[string]Record)
	for _, row := range rows {
		id := row.Identifier()
		rec, ok := byID[id]
		if !ok {
			rec = make(Record, len(row))
			byID[id] = rec
			order = append(order, id)
		}
		for k, v := range row {
			if isStatusField(k) {
				if !ok {
					rec[k] = v
				}
				continue
			}
			list, _ := rec[k].([]any)
			rec[k] = append(list, v)
		}
	}
	out := make([]Record, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out
}

func isStatusField(name string) bool {
	for _, s := range statusFields {
		if s == name {
			return true
		}
	}
	return false
}

// nopLogger discards everything.
func nopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}
