package bbdl

import (
	"bufio"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"
)

// MaxFieldsPerRequest is the number of fields Bloomberg accepts in a single
// request file. Longer field lists are split across several files.
const MaxFieldsPerRequest = 500

// RequestOptions adjust a single request.
type RequestOptions struct {
	// BVAL requests Bloomberg evaluated pricing (BVAL:NY4PM).
	BVAL bool
	// Headers are extra KEY=VALUE header lines.
	Headers []string
	// BegDate and EndDate make the request a history request. A zero
	// EndDate defaults to BegDate.
	BegDate time.Time
	EndDate time.Time
	// AllowOpen lets open fields through the category filter.
	AllowOpen bool
}

// RequestOption configures RequestOptions.
type RequestOption func(*RequestOptions)

// WithBVAL switches the request to the BVAL pricing header.
func WithBVAL() RequestOption {
	return func(o *RequestOptions) { o.BVAL = true }
}

// WithHeaders adds KEY=VALUE header lines to the request file.
func WithHeaders(headers ...string) RequestOption {
	return func(o *RequestOptions) { o.Headers = append(o.Headers, headers...) }
}

// WithDateRange makes the request a gethistory request over [beg, end].
func WithDateRange(beg, end time.Time) RequestOption {
	return func(o *RequestOptions) {
		o.BegDate = beg
		o.EndDate = end
	}
}

// WithoutOpenFields drops open fields that are not in the requested
// categories.
func WithoutOpenFields() RequestOption {
	return func(o *RequestOptions) { o.AllowOpen = false }
}

func newRequestOptions(opts []RequestOption) RequestOptions {
	o := RequestOptions{AllowOpen: true}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// History reports whether the options describe a history request.
func (o RequestOptions) History() bool {
	return !o.BegDate.IsZero() || !o.EndDate.IsZero()
}

func (o RequestOptions) dateRange() (time.Time, time.Time) {
	beg, end := o.BegDate, o.EndDate
	if beg.IsZero() {
		beg = end
	}
	if end.IsZero() {
		end = beg
	}
	return beg, end
}

// BuildRequest writes a request file for identifiers and fields.
//
// The header is the standard getdata header (or the BVAL header), followed
// by extra headers, the history or current-data program lines, the
// compression flag and terminal credentials. The fields and data blocks
// follow, then END-OF-FILE.
func BuildRequest(w io.Writer, s Settings, identifiers []Identifier, fields []string, o RequestOptions) error {
	if len(identifiers) == 0 {
		return &ValidationError{Field: "identifiers", Reason: "at least one identifier is required"}
	}
	if len(fields) == 0 {
		return &ValidationError{Field: "fields", Reason: "at least one field is required"}
	}
	if len(fields) > MaxFieldsPerRequest {
		return &ValidationError{Field: "fields", Reason: fmt.Sprintf("%d fields exceed the limit of %d", len(fields), MaxFieldsPerRequest)}
	}

	headers := slices.Clone(o.Headers)
	if o.History() {
		beg, end := o.dateRange()
		if end.Before(beg) {
			return &ValidationError{Field: "date range", Reason: "begin date is after end date"}
		}
		headers = append(headers,
			headerHistoryProgram,
			"HIST_FORMAT=horizontal",
			fmt.Sprintf("DATERANGE=%s|%s", beg.Format("20060102"), end.Format("20060102")),
		)
	} else {
		headers = append(headers, "SECMASTER=yes", "CLOSINGVALUES=yes", "DERIVED=yes")
	}

	bw := bufio.NewWriter(w)
	writeln := func(line string) {
		bw.WriteString(line)
		bw.WriteByte('\n')
	}

	writeln(markStartOfFile)
	writeln("FIRMNAME=" + s.Username)
	if o.BVAL {
		writeln("DERIVED=yes")
		writeln("DELIMITER=" + s.Delimiter)
		writeln("PRICING_SOURCE=BVAL:NY4PM")
		writeln("SECMASTER=yes")
		writeln("PROGRAMNAME=getdata")
	} else {
		writeln("PROGRAMFLAG=" + s.ProgramFlag)
		writeln("DELIMITER=" + s.Delimiter)
		writeln("ADJUSTED=yes")
		writeln("DATEFORMAT=" + s.DateFormat)
	}
	for _, h := range headers {
		writeln(h)
	}
	if s.Compressed && !slices.Contains(headers, headerCompress) {
		writeln(headerCompress)
	}
	switch {
	case s.SN != "" && s.UserNumber != "":
		ws := s.WS
		if ws == "" {
			ws = "1"
		}
		writeln("USERNUMBER=" + s.UserNumber)
		writeln("SN=" + s.SN)
		writeln("WS=" + ws)
	case s.BBA && s.UserNumber != "":
		writeln("USERNUMBER=" + s.UserNumber)
	}
	writeln("")

	writeln(markStartOfFields)
	for _, f := range fields {
		writeln(f)
	}
	writeln(markEndOfFields)
	writeln("")

	writeln(markStartOfData)
	for _, id := range identifiers {
		writeln(id.line(s.Delimiter))
	}
	writeln(markEndOfData)
	writeln("")
	writeln(markEndOfFile)

	return bw.Flush()
}

// RequestFile is a parsed request file.
type RequestFile struct {
	// Header holds the KEY=VALUE lines after START-OF-FILE, in order.
	Header      []string
	Fields      []string
	Identifiers []Identifier
}

// HeaderValue returns the value of the first header line for key.
func (f *RequestFile) HeaderValue(key string) (string, bool) {
	for _, h := range f.Header {
		k, v, ok := strings.Cut(h, "=")
		if ok && strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

// Delimiter returns the DELIMITER header, "|" when absent.
func (f *RequestFile) Delimiter() string {
	if d, ok := f.HeaderValue("DELIMITER"); ok && len(d) == 1 {
		return d
	}
	return "|"
}

// History reports whether the request is a gethistory request.
func (f *RequestFile) History() bool {
	return slices.Contains(f.Header, headerHistoryProgram)
}

// Compressed reports whether the request asks for a gzipped reply.
func (f *RequestFile) Compressed() bool {
	return slices.Contains(f.Header, headerCompress)
}

// DateRange returns the DATERANGE of a history request.
func (f *RequestFile) DateRange() (beg, end time.Time, err error) {
	v, ok := f.HeaderValue("DATERANGE")
	if !ok {
		return beg, end, &ParseError{Reason: "no DATERANGE header"}
	}
	b, e, ok := strings.Cut(v, "|")
	if !ok {
		return beg, end, &ParseError{Text: v, Reason: "DATERANGE must be begin|end"}
	}
	if beg, err = time.Parse("20060102", b); err != nil {
		return beg, end, &ParseError{Text: v, Reason: err.Error()}
	}
	if end, err = time.Parse("20060102", e); err != nil {
		return beg, end, &ParseError{Text: v, Reason: err.Error()}
	}
	return beg, end, nil
}

// ReadRequest parses a request file written by BuildRequest (or by hand).
func ReadRequest(r io.Reader) (*RequestFile, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	const (
		stateStart = iota
		stateHeader
		stateBetween
		stateFields
		stateData
		stateDone
	)
	f := &RequestFile{}
	state := stateStart
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		switch state {
		case stateStart:
			if line == markStartOfFile {
				state = stateHeader
			} else if line != "" {
				return nil, &ParseError{Line: lineNo, Text: line, Reason: "expected " + markStartOfFile}
			}
		case stateHeader:
			switch {
			case line == "":
				state = stateBetween
			case line == markStartOfFields:
				state = stateFields
			default:
				f.Header = append(f.Header, line)
			}
		case stateBetween:
			switch line {
			case "":
			case markStartOfFields:
				state = stateFields
			case markStartOfData:
				state = stateData
			case markEndOfFile:
				state = stateDone
			default:
				return nil, &ParseError{Line: lineNo, Text: line, Reason: "unexpected line outside of a block"}
			}
		case stateFields:
			switch line {
			case markEndOfFields:
				state = stateBetween
			case "":
			default:
				f.Fields = append(f.Fields, strings.ToUpper(line))
			}
		case stateData:
			switch line {
			case markEndOfData:
				state = stateBetween
			case "":
			default:
				id, err := parseRequestLine(line, f.Delimiter())
				if err != nil {
					return nil, &ParseError{Line: lineNo, Text: line, Reason: err.Error()}
				}
				f.Identifiers = append(f.Identifiers, id)
			}
		case stateDone:
			if line != "" {
				return nil, &ParseError{Line: lineNo, Text: line, Reason: "content after " + markEndOfFile}
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read request: %w", err)
	}
	if state != stateDone {
		return nil, &ParseError{Line: lineNo, Reason: "missing " + markEndOfFile}
	}
	return f, nil
}

// parseRequestLine parses "value", "value|type" or
// "value|type|n|field|value...".
func parseRequestLine(line, delimiter string) (Identifier, error) {
	bits := strings.Split(line, delimiter)
	switch {
	case len(bits) == 1:
		return Ticker(bits[0]), nil
	case len(bits) == 2:
		return Identifier{Value: bits[0], Type: bits[1]}, nil
	}
	n, err := strconv.Atoi(bits[2])
	if err != nil || len(bits) != 3+2*n {
		return Identifier{}, fmt.Errorf("malformed override count in %q", line)
	}
	id := Identifier{Value: bits[0], Type: bits[1]}
	for i := 3; i < len(bits); i += 2 {
		id.Overrides = append(id.Overrides, Override{Field: bits[i], Value: bits[i+1]})
	}
	return id, nil
}
