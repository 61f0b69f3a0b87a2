// Package canonical produces the deterministic JSON byte form used for
// signing and hashing every Attestix artifact: NFC-normalized strings,
// lexicographically sorted keys, no whitespace, no HTML escaping, non-ASCII
// retained literally.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"

	"golang.org/x/text/unicode/norm"
)

// ErrEncoding is returned for values that have no canonical JSON form
// (binary blobs, NaN, infinities, channels, functions).
var ErrEncoding = errors.New("canonical: value not serializable")

// Marshal returns the canonical JSON representation of v.
//
// Strategy follows a marshal/decode/re-emit pipeline: marshal v with the
// standard library (so struct tags are respected), decode into generic form
// with json.Number preserved, then re-emit with sorted keys and NFC-normalized
// strings. Numbers keep their shortest round-trippable form because the
// standard library already emits it and json.Number carries it through.
func Marshal(v interface{}) ([]byte, error) {
	if err := validate(reflect.ValueOf(v)); err != nil {
		return nil, err
	}

	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}

	var generic interface{}
	dec := json.NewDecoder(bytes.NewReader(intermediate))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("%w: intermediate decode: %v", ErrEncoding, err)
	}

	return emit(generic)
}

// Hash returns the lowercase SHA-256 hex digest of the canonical form of v.
func Hash(v interface{}) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes returns the lowercase SHA-256 hex digest of raw bytes.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// validate walks v rejecting leaves the canonical form cannot express.
// []byte is rejected rather than silently base64-encoded.
func validate(v reflect.Value) error {
	if !v.IsValid() {
		return nil
	}
	switch v.Kind() {
	case reflect.Interface, reflect.Pointer:
		if v.IsNil() {
			return nil
		}
		return validate(v.Elem())
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: non-finite number", ErrEncoding)
		}
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return fmt.Errorf("%w: binary leaf", ErrEncoding)
		}
		for i := 0; i < v.Len(); i++ {
			if err := validate(v.Index(i)); err != nil {
				return err
			}
		}
	case reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if err := validate(v.Index(i)); err != nil {
				return err
			}
		}
	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			if err := validate(iter.Value()); err != nil {
				return err
			}
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if v.Type().Field(i).IsExported() {
				if err := validate(v.Field(i)); err != nil {
					return err
				}
			}
		}
	case reflect.Chan, reflect.Func, reflect.Complex64, reflect.Complex128:
		return fmt.Errorf("%w: %s leaf", ErrEncoding, v.Kind())
	}
	return nil
}

func emit(v interface{}) ([]byte, error) {
	switch t := v.(type) {
	case nil:
		return []byte("null"), nil
	case bool:
		if t {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case json.Number:
		return []byte(t.String()), nil
	case string:
		return encodeString(norm.NFC.String(t)), nil
	case []interface{}:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, elem := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			b, err := emit(elem)
			if err != nil {
				return nil, err
			}
			buf.Write(b)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case map[string]interface{}:
		// NFC may merge previously distinct keys; that is an encoding fault,
		// not a silent overwrite.
		normed := make(map[string]interface{}, len(t))
		keys := make([]string, 0, len(t))
		for k, val := range t {
			nk := norm.NFC.String(k)
			if _, dup := normed[nk]; dup {
				return nil, fmt.Errorf("%w: duplicate key after NFC normalization: %q", ErrEncoding, nk)
			}
			normed[nk] = val
			keys = append(keys, nk)
		}
		// UTF-8 byte order equals Unicode code point order.
		sort.Strings(keys)

		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.Write(encodeString(k))
			buf.WriteByte(':')
			vb, err := emit(normed[k])
			if err != nil {
				return nil, err
			}
			buf.Write(vb)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("%w: unexpected decoded type %T", ErrEncoding, v)
	}
}

// encodeString JSON-quotes s escaping only what the grammar demands: quote,
// backslash and control characters. Everything else — HTML metacharacters,
// non-ASCII, and the U+2028/U+2029 separators the standard encoder always
// escapes — survives literally.
func encodeString(s string) []byte {
	var buf bytes.Buffer
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(&buf, `\u%04x`, r)
			} else {
				buf.WriteRune(r)
			}
		}
	}
	buf.WriteByte('"')
	return buf.Bytes()
}
