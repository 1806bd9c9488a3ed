// Package form turns submitted form values into typed JSON payloads using a
// declarative per-route schema. A schema is evaluated once per request and
// either yields a complete payload or a ValidationError naming every bad field.
package form

import (
	"fmt"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

type Kind int

const (
	String Kind = iota
	Int
	Float
	Bool
	// IntList wraps one integer in a list; NoFilter yields an empty list.
	IntList
	// StringList splits on commas, trimming blanks.
	StringList
)

// NoFilter is the IntList sentinel meaning "no filter".
const NoFilter = -1

func (k Kind) String() string {
	switch k {
	case String:
		return "string"
	case Int:
		return "int"
	case Float:
		return "float"
	case Bool:
		return "bool"
	case IntList:
		return "int list"
	case StringList:
		return "string list"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Field maps one form input to one payload key.
type Field struct {
	// Name is the form input name.
	Name string
	// Key is the payload key; Name is used when empty.
	Key  string
	Kind Kind
	// Optional fields fall back to Default when absent or blank. Bool fields
	// are always optional.
	Optional bool
	Default  any
	// Check runs on the converted value.
	Check func(v any) error
}

func (f Field) key() string {
	if f.Key != "" {
		return f.Key
	}
	return f.Name
}

// Payload is the JSON body sent upstream.
type Payload map[string]any

type Schema struct {
	Fields []Field
	// Const entries are copied into every payload as-is.
	Const map[string]any
}

// FieldError describes one rejected input. It never carries the raw value.
type FieldError struct {
	Field  string
	Reason string
}

func (e FieldError) Error() string { return e.Field + ": " + e.Reason }

type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Error()
	}
	return "invalid form input: " + strings.Join(parts, "; ")
}

// Names returns the rejected input names, sorted.
func (e *ValidationError) Names() []string {
	out := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		out[i] = f.Field
	}
	sort.Strings(out)
	return out
}

// ParseBool is the single boolean rule for form input: only the literal
// "True" is true.
func ParseBool(s string) bool { return s == "True" }

// Decode evaluates every field of s against vals.
func (s Schema) Decode(vals url.Values) (Payload, error) {
	p := make(Payload, len(s.Fields)+len(s.Const))
	for k, v := range s.Const {
		p[k] = v
	}

	var bad []FieldError
	for _, f := range s.Fields {
		v, err := f.decode(vals)
		if err != nil {
			bad = append(bad, FieldError{Field: f.Name, Reason: err.Error()})
			continue
		}
		p[f.key()] = v
	}
	if len(bad) > 0 {
		return nil, &ValidationError{Fields: bad}
	}
	return p, nil
}

func (f Field) decode(vals url.Values) (any, error) {
	raw, present := vals[f.Name]
	first := ""
	if present && len(raw) > 0 {
		first = raw[0]
	}

	// booleans see the untrimmed value: only the exact literal counts
	if f.Kind == Bool {
		v := ParseBool(first)
		if first == "" && f.Default != nil {
			v, _ = f.Default.(bool)
		}
		return v, f.check(v)
	}

	s := strings.TrimSpace(first)

	if s == "" {
		if f.Optional {
			return f.fallback(), nil
		}
		return nil, fmt.Errorf("required")
	}

	var v any
	switch f.Kind {
	case String:
		v = s
	case Int:
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("must be a whole number")
		}
		v = n
	case Float:
		x, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, fmt.Errorf("must be a finite number")
		}
		v = x
	case IntList:
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("must be a whole number")
		}
		if n == NoFilter {
			v = []int{}
		} else {
			v = []int{n}
		}
	case StringList:
		list := []string{}
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				list = append(list, part)
			}
		}
		if len(list) == 0 && !f.Optional {
			return nil, fmt.Errorf("required")
		}
		v = list
	default:
		return nil, fmt.Errorf("unsupported kind %s", f.Kind)
	}
	return v, f.check(v)
}

func (f Field) fallback() any {
	if f.Default != nil {
		return f.Default
	}
	switch f.Kind {
	case Int:
		return 0
	case Float:
		return 0.0
	case IntList:
		return []int{}
	case StringList:
		return []string{}
	default:
		return ""
	}
}

func (f Field) check(v any) error {
	if f.Check == nil {
		return nil
	}
	return f.Check(v)
}

// Min rejects Int and Float values below n.
func Min(n float64) func(any) error {
	return func(v any) error {
		var x float64
		switch t := v.(type) {
		case int:
			x = float64(t)
		case float64:
			x = t
		default:
			return nil
		}
		if x < n {
			return fmt.Errorf("must be at least %g", n)
		}
		return nil
	}
}

// MaxLen rejects String values longer than n bytes and StringList values with
// more than n entries.
func MaxLen(n int) func(any) error {
	return func(v any) error {
		switch t := v.(type) {
		case string:
			if len(t) > n {
				return fmt.Errorf("must be at most %d characters", n)
			}
		case []string:
			if len(t) > n {
				return fmt.Errorf("must have at most %d entries", n)
			}
		}
		return nil
	}
}
