package upstream

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/saddlebagexchange/saddlebag-web/internal/reshape"
)

// DataKey is the conventional result envelope key.
const DataKey = "data"

// Values returns the list stored under key. A missing key is
// ErrMissingEnvelope; null or [] is ErrEmpty.
func Values(env map[string]json.RawMessage, key string) ([]any, error) {
	raw, ok := env[key]
	if !ok {
		return nil, fmt.Errorf("%w: key %q", ErrMissingEnvelope, key)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var list []any
	if err := dec.Decode(&list); err != nil {
		return nil, fmt.Errorf("%w: key %q is not a list: %w", ErrDecode, key, err)
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("%w: key %q", ErrEmpty, key)
	}
	return list, nil
}

// Data returns the records under key. Every element must be a JSON object.
func Data(env map[string]json.RawMessage, key string) ([]reshape.Record, error) {
	list, err := Values(env, key)
	if err != nil {
		return nil, err
	}
	recs := make([]reshape.Record, len(list))
	for i, v := range list {
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: key %q element %d is %T, want object", ErrDecode, key, i, v)
		}
		recs[i] = reshape.Record(m)
	}
	return recs, nil
}
