// Package record decodes delimited trajectory lines into structured records.
//
// A line looks like
//
//	6f1c...|SRID=4326;POINT(116.39 39.91)|2008-02-02 15:36:08|1131
//
// where the geometry may carry an authority prefix and the group key column is
// optional (it is derived from the file name when absent).
package record

import (
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkt"
)

// Record is one decoded row.
type Record struct {
	ID       string
	Geometry geom.T
	SRID     int
	Time     time.Time
	GroupKey int64
	Aux      []string
}

// WKT returns the geometry as plain WKT.
func (r Record) WKT() (string, error) {
	if r.Geometry == nil {
		return "", errors.New("record has no geometry")
	}
	return wkt.Marshal(r.Geometry)
}

// EWKT returns the geometry as "SRID=n;WKT", the form PostGIS accepts in COPY text input.
func (r Record) EWKT() (string, error) {
	s, err := r.WKT()
	if err != nil {
		return "", err
	}
	if r.SRID <= 0 {
		return s, nil
	}
	return "SRID=" + strconv.Itoa(r.SRID) + ";" + s, nil
}

// Layout describes the column layout of a source line.
type Layout struct {
	Delimiter      string
	IDColumn       int
	GeometryColumn int
	TimeColumn     int
	// GroupColumn is the column holding the group key; a negative value derives it from the file name.
	GroupColumn int
	TimeLayout  string
	Location    *time.Location
	DefaultSRID int
	// GenerateIDs assigns a random uuid to rows with an empty identifier instead of rejecting them.
	GenerateIDs bool
}

const (
	DefaultDelimiter  = "|"
	DefaultTimeLayout = "2006-01-02 15:04:05"
	DefaultTimeZone   = "Asia/Shanghai"
	DefaultSRID       = 4326
)

// DefaultLayout is the layout of the .tbl trajectory files: fid|geometry|time, group key from file name.
func DefaultLayout() Layout {
	loc, err := time.LoadLocation(DefaultTimeZone)
	if err != nil {
		loc = time.FixedZone("CST", 8*3600)
	}
	return Layout{
		Delimiter:      DefaultDelimiter,
		IDColumn:       0,
		GeometryColumn: 1,
		TimeColumn:     2,
		GroupColumn:    -1,
		TimeLayout:     DefaultTimeLayout,
		Location:       loc,
		DefaultSRID:    DefaultSRID,
	}
}

func (l Layout) validate() error {
	if l.Delimiter == "" {
		return errors.New("layout delimiter must not be empty")
	}
	if l.IDColumn < 0 || l.GeometryColumn < 0 || l.TimeColumn < 0 {
		return errors.Errorf("layout columns must not be negative: id=%d geometry=%d time=%d", l.IDColumn, l.GeometryColumn, l.TimeColumn)
	}
	if l.IDColumn == l.GeometryColumn || l.IDColumn == l.TimeColumn || l.GeometryColumn == l.TimeColumn {
		return errors.New("layout columns must be distinct")
	}
	if l.TimeLayout == "" {
		return errors.New("layout time format must not be empty")
	}
	return nil
}

// DecodeError describes why one line could not be decoded.
type DecodeError struct {
	Line   int64
	Column string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s: %v", e.Line, e.Column, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Column, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ErrEmptyLine is returned for blank lines, which are skipped without being counted as errors.
var ErrEmptyLine = errors.New("empty line")

// Decoder decodes lines of one layout. It is safe for concurrent use.
type Decoder struct {
	layout   Layout
	maxIndex int
}

// NewDecoder validates the layout and returns a Decoder for it.
func NewDecoder(layout Layout) (*Decoder, error) {
	if err := layout.validate(); err != nil {
		return nil, err
	}
	if layout.Location == nil {
		layout.Location = time.UTC
	}
	max := layout.IDColumn
	for _, c := range []int{layout.GeometryColumn, layout.TimeColumn, layout.GroupColumn} {
		if c > max {
			max = c
		}
	}
	return &Decoder{layout: layout, maxIndex: max}, nil
}

// Layout returns the decoder's layout.
func (d *Decoder) Layout() Layout {
	return d.layout
}

// Decode parses one line. groupKey is used when the layout has no group column.
func (d *Decoder) Decode(line string, groupKey int64) (Record, error) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return Record{}, ErrEmptyLine
	}
	fields := strings.Split(line, d.layout.Delimiter)
	if len(fields) <= d.maxIndex {
		return Record{}, &DecodeError{Column: "line", Err: errors.Errorf("expected at least %d fields, got %d", d.maxIndex+1, len(fields))}
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	rec := Record{GroupKey: groupKey}
	rec.ID = fields[d.layout.IDColumn]
	if rec.ID == "" {
		if !d.layout.GenerateIDs {
			return Record{}, &DecodeError{Column: "id", Err: errors.New("empty identifier")}
		}
		rec.ID = uuid.NewString()
	}

	g, srid, err := ParseGeometry(fields[d.layout.GeometryColumn])
	if err != nil {
		return Record{}, &DecodeError{Column: "geometry", Err: err}
	}
	if srid == 0 {
		srid = d.layout.DefaultSRID
	}
	rec.Geometry, rec.SRID = g, srid

	rec.Time, err = time.ParseInLocation(d.layout.TimeLayout, fields[d.layout.TimeColumn], d.layout.Location)
	if err != nil {
		return Record{}, &DecodeError{Column: "time", Err: err}
	}

	if d.layout.GroupColumn >= 0 {
		rec.GroupKey, err = strconv.ParseInt(fields[d.layout.GroupColumn], 10, 64)
		if err != nil {
			return Record{}, &DecodeError{Column: "group", Err: err}
		}
	}

	for i, f := range fields {
		if i == d.layout.IDColumn || i == d.layout.GeometryColumn || i == d.layout.TimeColumn || i == d.layout.GroupColumn {
			continue
		}
		rec.Aux = append(rec.Aux, f)
	}
	return rec, nil
}

// ParseGeometry parses WKT with an optional "AUTHORITY=NNNN;" prefix and returns the authority code.
func ParseGeometry(s string) (geom.T, int, error) {
	s = strings.TrimSpace(s)
	srid := 0
	if idx := strings.Index(s, ";"); idx >= 0 {
		prefix := s[:idx]
		s = strings.TrimSpace(s[idx+1:])
		if eq := strings.Index(prefix, "="); eq >= 0 {
			code, err := strconv.Atoi(strings.TrimSpace(prefix[eq+1:]))
			if err != nil {
				return nil, 0, errors.Wrapf(err, "bad authority prefix %q", prefix)
			}
			srid = code
		}
	}
	if s == "" {
		return nil, 0, errors.New("empty geometry")
	}
	g, err := wkt.Unmarshal(s)
	if err != nil {
		return nil, 0, errors.Wrap(err, "parse wkt")
	}
	return g, srid, nil
}

// GroupKeyFromName derives the numeric group key from a file name: "taxi_1131.tbl" and
// "1131.tbl" both give 1131. Names without a number give 0.
func GroupKeyFromName(name string) int64 {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	if idx := strings.LastIndex(base, "."); idx > 0 {
		base = base[:idx]
	}
	if idx := strings.LastIndex(base, "_"); idx >= 0 {
		base = base[idx+1:]
	}
	key, err := strconv.ParseInt(base, 10, 64)
	if err != nil {
		return 0
	}
	return key
}
