// Package compositeid implements the ordered multi-field key used to
// identify a unified record.
//
// A Composite-ID is any struct whose exported fields are all strings or
// integers (signed or unsigned), in declaration order. The separator is
// passed to Register ("-" when empty). Field order is never alphabetized:
// declaration order is the wire order.
//
// Import Path: clientflow.io/flow/internal/compositeid
package compositeid

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"clientflow.io/flow/internal/pkg/apperrors"
)

const defaultSeparator = "-"

// Codec renders and parses values of one Composite-ID type.
type Codec struct {
	typ       reflect.Type
	separator string
	fields    []fieldSpec
}

type fieldSpec struct {
	index int
	name  string
	kind  reflect.Kind
}

var (
	registryMu sync.RWMutex
	registry   = map[reflect.Type]*Codec{}
)

// IsRegistered reports whether t (after dereferencing a pointer) has been
// registered as a Composite-ID type. The unified schema kernel uses this to
// tell a Composite-ID field apart from an ordinary subschema struct without
// importing every concrete ID type.
func IsRegistered(t reflect.Type) bool {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[t]
	return ok
}

// Lookup returns the Codec registered for t (after dereferencing a
// pointer), if any. Callers that only have a reflect.Type — e.g. an
// ingress adapter inspecting an arbitrary event's first field — use this
// instead of a type-parameterized Register call.
func Lookup(t reflect.Type) (*Codec, bool) {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	registryMu.RLock()
	defer registryMu.RUnlock()
	c, ok := registry[t]
	return c, ok
}

// Register builds (once) and returns the Codec for T. T must be a struct
// with at least one exported field, each of kind string or a basic integer
// kind. Panics on a malformed type — this is the Go analogue of the
// class-definition-time validation the original schema kernel performs, and
// like that check it is meant to fire during package init, not steady
// state.
func Register[T any](separator string) *Codec {
	if separator == "" {
		separator = defaultSeparator
	}
	var zero T
	typ := reflect.TypeOf(zero)
	if typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}

	registryMu.RLock()
	if c, ok := registry[typ]; ok {
		registryMu.RUnlock()
		return c
	}
	registryMu.RUnlock()

	if typ.Kind() != reflect.Struct {
		panic(fmt.Sprintf("compositeid: %s is not a struct", typ))
	}

	var fields []fieldSpec
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		if !f.IsExported() {
			continue
		}
		switch f.Type.Kind() {
		case reflect.String,
			reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			fields = append(fields, fieldSpec{index: i, name: f.Name, kind: f.Type.Kind()})
		default:
			panic(fmt.Sprintf("compositeid: field %s.%s has unsupported kind %s", typ, f.Name, f.Type.Kind()))
		}
	}
	if len(fields) == 0 {
		panic(fmt.Sprintf("compositeid: %s declares no usable fields", typ))
	}

	c := &Codec{typ: typ, separator: separator, fields: fields}

	registryMu.Lock()
	registry[typ] = c
	registryMu.Unlock()

	return c
}

// Type returns the registered struct type.
func (c *Codec) Type() reflect.Type { return c.typ }

// Separator returns the configured separator.
func (c *Codec) Separator() string { return c.separator }

// Arity returns the declared field count.
func (c *Codec) Arity() int { return len(c.fields) }

// Render concatenates id's fields in declaration order with the codec's
// separator. id must be the exact registered struct (or pointer to it).
func (c *Codec) Render(id any) (string, error) {
	v, err := c.valueOf(id)
	if err != nil {
		return "", err
	}

	parts := make([]string, len(c.fields))
	allZero := true
	for i, fs := range c.fields {
		fv := v.Field(fs.index)
		if !fv.IsZero() {
			allZero = false
		}
		parts[i] = renderScalar(fv)
	}
	if allZero {
		return "", apperrors.Wrap(apperrors.ErrUnderspecifiedID, "UNDERSPECIFIED_ID",
			fmt.Sprintf("%s: no fields set", c.typ))
	}
	return strings.Join(parts, c.separator), nil
}

func renderScalar(fv reflect.Value) string {
	switch fv.Kind() {
	case reflect.String:
		return fv.String()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(fv.Uint(), 10)
	default:
		return strconv.FormatInt(fv.Int(), 10)
	}
}

// Parse splits s by the codec's separator and coerces each part into the
// corresponding declared field, returning a new *T (T being the registered
// struct). Fails with FormatError when the part count does not equal the
// declared arity, or a part cannot be coerced to its field's type.
func (c *Codec) Parse(s string) (any, error) {
	parts := strings.Split(s, c.separator)
	if len(parts) != len(c.fields) {
		return nil, apperrors.Format("ID_FORMAT",
			fmt.Sprintf("%s: want %d parts, got %d", c.typ, len(c.fields), len(parts)),
			fmt.Errorf("input %q", s))
	}

	out := reflect.New(c.typ).Elem()
	for i, fs := range c.fields {
		fv := out.Field(fs.index)
		switch fs.kind {
		case reflect.String:
			fv.SetString(parts[i])
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			n, err := strconv.ParseUint(parts[i], 10, fv.Type().Bits())
			if err != nil {
				return nil, apperrors.Format("ID_FORMAT",
					fmt.Sprintf("%s.%s: %q is not an unsigned integer", c.typ, fs.name, parts[i]), err)
			}
			fv.SetUint(n)
		default:
			n, err := strconv.ParseInt(parts[i], 10, 64)
			if err != nil {
				return nil, apperrors.Format("ID_FORMAT",
					fmt.Sprintf("%s.%s: %q is not an integer", c.typ, fs.name, parts[i]), err)
			}
			fv.SetInt(n)
		}
	}
	return out.Addr().Interface(), nil
}

// Equal reports whether a and b render to the same string and share a
// registered type. Two IDs with identical rendered strings but different
// registered types are never equal.
func (c *Codec) Equal(a, b any) bool {
	av, aerr := c.valueOf(a)
	bv, berr := c.valueOf(b)
	if aerr != nil || berr != nil {
		return false
	}
	ra, _ := c.renderValue(av)
	rb, _ := c.renderValue(bv)
	return ra == rb
}

// Hash returns a stable hash key combining the rendered string and the
// registered type name — suitable as a map key alongside other ID types.
func (c *Codec) Hash(id any) (string, error) {
	r, err := c.Render(id)
	if err != nil {
		return "", err
	}
	return c.typ.String() + "#" + r, nil
}

func (c *Codec) valueOf(id any) (reflect.Value, error) {
	v := reflect.ValueOf(id)
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return reflect.Value{}, apperrors.New("ID_FORMAT", "nil id pointer")
		}
		v = v.Elem()
	}
	if v.Type() != c.typ {
		return reflect.Value{}, apperrors.New("ID_FORMAT",
			fmt.Sprintf("value of type %s does not match registered type %s", v.Type(), c.typ))
	}
	return v, nil
}

func (c *Codec) renderValue(v reflect.Value) (string, error) {
	parts := make([]string, len(c.fields))
	for i, fs := range c.fields {
		parts[i] = renderScalar(v.Field(fs.index))
	}
	return strings.Join(parts, c.separator), nil
}
