package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/araddon/dateparse"

	"github.com/fruitsalade/dropbox/pkg/protocol"
)

// Keys rewritten by Normalize.
const (
	KeyModified = "modified"
	KeyMtime    = "mtime"
	KeySize     = "size"
)

// DecodeJSON decodes a JSON document into plain Go values and normalizes it.
// Numbers come back as int64 when integral and float64 otherwise.
func DecodeJSON(data []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after JSON value")
	}
	return Normalize(v), nil
}

// DecodeObject is DecodeJSON for documents whose top level must be an object.
func DecodeObject(data []byte) (map[string]interface{}, error) {
	v, err := DecodeJSON(data)
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("expected JSON object, got %T", v)
	}
	return m, nil
}

// Normalize walks a decoded JSON value and applies the wire conversions at
// every nesting level: json.Number becomes int64/float64, "modified" and
// "mtime" become *time.Time (nil for the -1 sentinel) and a "size" of -1
// becomes nil.
func Normalize(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, child := range val {
			child = Normalize(child)
			switch k {
			case KeyModified, KeyMtime:
				if t, ok := ParseTime(child); ok {
					if t == nil {
						out[k] = nil
					} else {
						out[k] = t
					}
				} else {
					out[k] = child
				}
			case KeySize:
				if isSentinel(child) {
					out[k] = nil
				} else {
					out[k] = child
				}
			default:
				out[k] = child
			}
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, child := range val {
			out[i] = Normalize(child)
		}
		return out
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	default:
		return v
	}
}

// ParseTime converts a wire timestamp (date string or epoch seconds) into a
// time. The -1 sentinel and nil yield (nil, true). Unparseable input yields
// (nil, false).
func ParseTime(v interface{}) (*time.Time, bool) {
	switch val := v.(type) {
	case nil:
		return nil, true
	case *time.Time:
		return val, true
	case time.Time:
		return &val, true
	case string:
		if t, err := time.Parse(protocol.ModifiedLayout, val); err == nil {
			return &t, true
		}
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			return epoch(n), true
		}
		t, err := dateparse.ParseAny(val)
		if err != nil {
			return nil, false
		}
		return &t, true
	case int64:
		return epoch(val), true
	case int:
		return epoch(int64(val)), true
	case float64:
		return epoch(int64(val)), true
	case json.Number:
		n, err := val.Int64()
		if err != nil {
			return nil, false
		}
		return epoch(n), true
	}
	return nil, false
}

func epoch(n int64) *time.Time {
	if n == -1 {
		return nil
	}
	t := time.Unix(n, 0)
	return &t
}

func isSentinel(v interface{}) bool {
	switch n := v.(type) {
	case int64:
		return n == -1
	case int:
		return n == -1
	case float64:
		return n == -1
	}
	return false
}

// Int64 reads an integral attribute value.
func Int64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), n == float64(int64(n))
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	}
	return 0, false
}

// Bool reads a boolean attribute value. Non-boolean values are false.
func Bool(v interface{}) bool {
	b, _ := v.(bool)
	return b
}
