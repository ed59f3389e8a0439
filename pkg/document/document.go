// Package document models remote catalog payloads as JSON objects whose known
// fields are read through typed views and whose unknown fields round-trip
// unchanged.
package document

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	ErrNotObject    = errors.New("document: payload is not a JSON object")
	ErrNotList      = errors.New("document: payload is not a JSON list")
	ErrMissingID    = errors.New("document: missing id")
	ErrNonNumericID = errors.New("document: id is not numeric")
)

// Document is a decoded JSON object. Numbers are held as json.Number so that
// re-encoding never loses precision.
type Document map[string]any

// Parse decodes a single JSON object.
func Parse(data []byte) (Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("document: %w", err)
	}
	obj, ok := asObject(v)
	if !ok {
		return nil, ErrNotObject
	}
	return obj, nil
}

// ParseList decodes a JSON array of objects. Elements that are not objects are
// returned as nil entries so callers can count them as invalid.
func ParseList(data []byte) ([]Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw []any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotList, err)
	}

	ret := make([]Document, 0, len(raw))
	for _, v := range raw {
		obj, _ := asObject(v)
		ret = append(ret, obj)
	}
	return ret, nil
}

func (d Document) Marshal() ([]byte, error) {
	return json.Marshal(map[string]any(d))
}

// Hash is a stable digest of the document. encoding/json sorts object keys, so
// equal documents always hash equally.
func (d Document) Hash() (string, error) {
	b, err := d.Marshal()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// Clone returns a deep copy.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return cloneValue(map[string]any(d)).(map[string]any)
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			m[k] = cloneValue(vv)
		}
		return m
	case Document:
		return Document(cloneValue(map[string]any(t)).(map[string]any))
	case []any:
		s := make([]any, len(t))
		for i, vv := range t {
			s[i] = cloneValue(vv)
		}
		return s
	case []Document:
		s := make([]any, len(t))
		for i, vv := range t {
			s[i] = cloneValue(map[string]any(vv))
		}
		return s
	default:
		return v
	}
}

// ID returns the numeric "id" field.
func (d Document) ID() (int64, error) {
	v, ok := d["id"]
	if !ok || v == nil {
		return 0, ErrMissingID
	}
	id, ok := NumericID(v)
	if !ok {
		return 0, fmt.Errorf("%w: %v", ErrNonNumericID, v)
	}
	return id, nil
}

func (d Document) String(key string) string {
	switch t := d[key].(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		return ""
	}
}

// NumericID converts a JSON scalar into a positive integer id.
func NumericID(v any) (int64, bool) {
	var id int64
	switch t := v.(type) {
	case json.Number:
		i, err := t.Int64()
		if err != nil {
			f, ferr := t.Float64()
			if ferr != nil || f != math.Trunc(f) {
				return 0, false
			}
			i = int64(f)
		}
		id = i
	case float64:
		if t != math.Trunc(t) {
			return 0, false
		}
		id = int64(t)
	case int:
		id = int64(t)
	case int64:
		id = t
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, false
		}
		id = i
	default:
		return 0, false
	}
	if id <= 0 {
		return 0, false
	}
	return id, true
}

func asObject(v any) (Document, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case Document:
		return t, true
	default:
		return nil, false
	}
}

func asList(v any) []any {
	switch t := v.(type) {
	case []any:
		return t
	case []Document:
		s := make([]any, len(t))
		for i, d := range t {
			s[i] = map[string]any(d)
		}
		return s
	default:
		return nil
	}
}
