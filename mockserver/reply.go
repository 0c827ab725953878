package mockserver

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/gonzalop/bbdl"
)

// Reply renders the reply Bloomberg would send for req: the echoed header,
// the fields block and one data row per identifier (per identifier and
// date for history requests).
func (s *Server) Reply(req *bbdl.RequestFile) ([]byte, error) {
	d := req.Delimiter()
	var b bytes.Buffer
	now := time.Now().UTC()

	b.WriteString("START-OF-FILE\n")
	for _, h := range req.Header {
		b.WriteString(h + "\n")
	}
	fmt.Fprintf(&b, "RUNDATE=%s\n\n", now.Format("20060102"))

	b.WriteString("START-OF-FIELDS\n")
	for _, f := range req.Fields {
		b.WriteString(f + "\n")
	}
	b.WriteString("END-OF-FIELDS\n\n")

	fmt.Fprintf(&b, "TIMESTARTED=%s\n", now.Format(time.UnixDate))
	b.WriteString("START-OF-DATA\n")

	var beg, end time.Time
	history := req.History()
	if history {
		var err error
		if beg, end, err = req.DateRange(); err != nil {
			return nil, err
		}
	}

	nfields := len(req.Fields)
	for _, id := range req.Identifiers {
		sec, ok := s.securities[strings.ToUpper(id.Value)]
		if !ok {
			sec = Security{Identifier: id.Value, ReturnCode: 10}
		}
		if sec.ReturnCode != 0 {
			row := []string{id.Value, fmt.Sprint(sec.ReturnCode), fmt.Sprint(nfields)}
			if history {
				row = append(row, beg.Format("01/02/2006"))
			}
			for range req.Fields {
				row = append(row, " ")
			}
			writeRow(&b, row, d)
			continue
		}
		if !history {
			row := []string{id.Value, "0", fmt.Sprint(nfields)}
			for _, f := range req.Fields {
				row = append(row, overridden(id, f, sec.value(f)))
			}
			writeRow(&b, row, d)
			continue
		}
		for _, obs := range observations(sec, beg, end) {
			row := []string{id.Value, "0", fmt.Sprint(nfields), obs.Date.Format("01/02/2006")}
			for _, f := range req.Fields {
				v, ok := obs.Values[f]
				if !ok {
					v = sec.value(f)
				}
				row = append(row, v)
			}
			writeRow(&b, row, d)
		}
	}

	b.WriteString("END-OF-DATA\n")
	fmt.Fprintf(&b, "DATARECORDS=%d\n", len(req.Identifiers))
	fmt.Fprintf(&b, "TIMEFINISHED=%s\n", now.Format(time.UnixDate))
	b.WriteString("END-OF-FILE\n")
	return b.Bytes(), nil
}

func writeRow(b *bytes.Buffer, values []string, delimiter string) {
	b.WriteString(strings.Join(values, delimiter))
	b.WriteString(delimiter + "\n")
}

// overridden returns the override value of field for id, if any.
func overridden(id bbdl.Identifier, field, value string) string {
	for _, o := range id.Overrides {
		if strings.EqualFold(o.Field, field) {
			return o.Value
		}
	}
	return value
}

// observations returns the history of sec within [beg, end], or the
// current values repeated on every weekday of the range.
func observations(sec Security, beg, end time.Time) []Observation {
	var out []Observation
	if len(sec.History) > 0 {
		for _, o := range sec.History {
			if !o.Date.Before(beg) && !o.Date.After(end) {
				out = append(out, o)
			}
		}
		return out
	}
	for d := beg; !d.After(end); d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		out = append(out, Observation{Date: d})
	}
	return out
}
