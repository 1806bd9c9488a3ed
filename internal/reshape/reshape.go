// Package reshape projects upstream JSON records into ordered table rows.
// Nothing here mutates a value that came from upstream; derived display
// fields are written to new keys before projection.
package reshape

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// DateLayout is how derived timestamps are displayed.
const DateLayout = "2006-01-02 15:04:05 UTC"

// Record is one decoded upstream result. Numbers arrive as json.Number.
type Record map[string]any

type Cell struct {
	Key   string
	Value any
}

// Row is a record with a fixed column order.
type Row []Cell

// Keys returns the column keys of r in order.
func (r Row) Keys() []string {
	out := make([]string, len(r))
	for i, c := range r {
		out[i] = c.Key
	}
	return out
}

// Get returns the value at key and whether the column exists.
func (r Row) Get(key string) (any, bool) {
	for _, c := range r {
		if c.Key == key {
			return c.Value, true
		}
	}
	return nil, false
}

// Project returns exactly the columns in fields, in that order. Keys missing
// from rec become nil.
func Project(rec Record, fields []string) Row {
	row := make(Row, len(fields))
	for i, k := range fields {
		row[i] = Cell{Key: k, Value: rec[k]}
	}
	return row
}

func ProjectAll(recs []Record, fields []string) []Row {
	rows := make([]Row, len(recs))
	for i, rec := range recs {
		rows[i] = Project(rec, fields)
	}
	return rows
}

// MoveToEnd moves the named columns to the end of row, in argument order.
// Keys not present are ignored. The input row is not modified.
func MoveToEnd(row Row, keys ...string) Row {
	move := make(map[string]bool, len(keys))
	for _, k := range keys {
		move[k] = true
	}
	out := make(Row, 0, len(row))
	tail := make(map[string]Cell, len(keys))
	for _, c := range row {
		if move[c.Key] {
			tail[c.Key] = c
			continue
		}
		out = append(out, c)
	}
	for _, k := range keys {
		if c, ok := tail[k]; ok {
			out = append(out, c)
			delete(tail, k)
		}
	}
	return out
}

// Header returns column headers for fields.
func Header(fields []string) []string {
	return append([]string(nil), fields...)
}

// Deriver adds display-only fields to a record copy.
type Deriver func(src Record, dst Record)

// Derive returns copies of recs with each deriver applied. Derivers read from
// the original record, so their order does not matter.
func Derive(recs []Record, ds ...Deriver) []Record {
	out := make([]Record, len(recs))
	for i, rec := range recs {
		cp := make(Record, len(rec)+len(ds))
		for k, v := range rec {
			cp[k] = v
		}
		for _, d := range ds {
			d(rec, cp)
		}
		out[i] = cp
	}
	return out
}

// EpochDate formats the numeric epoch at src into dst using DateLayout.
// Values above 1e11 are taken as milliseconds. Non-numeric or missing values
// leave dst unset.
func EpochDate(src, dst string) Deriver {
	return func(rec Record, out Record) {
		f, ok := number(rec[src])
		if !ok || f <= 0 {
			return
		}
		var t time.Time
		if f > 1e11 {
			t = time.UnixMilli(int64(f))
		} else {
			sec, frac := math.Modf(f)
			t = time.Unix(int64(sec), int64(frac*1e9))
		}
		out[dst] = t.UTC().Format(DateLayout)
	}
}

// Link writes fmt.Sprintf(format, id) into dst, where id is the record's
// idKey value. Only integer ids are interpolated so a hostile value cannot
// shape the URL.
func Link(dst, format, idKey string) Deriver {
	return func(rec Record, out Record) {
		f, ok := number(rec[idKey])
		if !ok || f != math.Trunc(f) {
			return
		}
		out[dst] = fmt.Sprintf(format, int64(f))
	}
}

func number(v any) (float64, bool) {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

// Display renders a cell value as table text. nil is the empty string and
// nested values are shown as compact JSON.
func Display(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
