// Package form flattens request objects into url.Values for query strings and
// urlencoded bodies.
package form

import (
	"encoding/json"
	"fmt"
	"net/url"
	"reflect"

	"github.com/gorilla/schema"
)

var encoder = schema.NewEncoder()

// Values converts v into url.Values.
//
// Structs (and pointers to structs) are encoded with gorilla/schema, honouring
// `schema:"name,omitempty"` tags. Maps are flattened key by key; slice values
// become repeated keys and nested objects are JSON encoded.
func Values(v any) (url.Values, error) {
	switch t := v.(type) {
	case nil:
		return url.Values{}, nil
	case url.Values:
		return t, nil
	case map[string][]string:
		return url.Values(t), nil
	case map[string]string:
		vals := make(url.Values, len(t))
		for k, s := range t {
			vals.Set(k, s)
		}
		return vals, nil
	case map[string]any:
		vals := make(url.Values, len(t))
		for k, item := range t {
			if err := add(vals, k, item); err != nil {
				return nil, err
			}
		}
		return vals, nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr && !rv.IsNil() {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, fmt.Errorf("form: cannot encode %T", v)
	}
	vals := url.Values{}
	if err := encoder.Encode(rv.Interface(), vals); err != nil {
		return nil, fmt.Errorf("form: %w", err)
	}
	return vals, nil
}

// RenameKeys returns a copy of vals with fn applied to every key.
func RenameKeys(vals url.Values, fn func(string) string) url.Values {
	out := make(url.Values, len(vals))
	for k, v := range vals {
		out[fn(k)] = append(out[fn(k)], v...)
	}
	return out
}

func add(vals url.Values, key string, v any) error {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		vals.Add(key, t)
	case []string:
		for _, s := range t {
			vals.Add(key, s)
		}
	case []any:
		for _, item := range t {
			if err := add(vals, key, item); err != nil {
				return err
			}
		}
	case map[string]any, map[string]string:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("form: %s: %w", key, err)
		}
		vals.Add(key, string(b))
	default:
		vals.Add(key, fmt.Sprint(t))
	}
	return nil
}
