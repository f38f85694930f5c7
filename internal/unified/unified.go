// Package unified implements the schema kernel for the canonical merged
// document ("unified record") that one entity (a client, a product...) is
// represented by.
//
// A unified record type is any struct whose first field is a
// compositeid-registered ID and whose every other exported field is a
// struct (a "subschema") or pointer-to-struct, or a field of any type
// tagged `unified:"root"`. Register validates this
// shape once, at startup, the closest Go analogue to the
// __init_subclass__ check the original Python models perform at class
// definition time.
//
// Import Path: clientflow.io/flow/internal/unified
package unified

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"clientflow.io/flow/internal/compositeid"
	"clientflow.io/flow/internal/pkg/apperrors"
)

// RootTag is the synthetic subschema name reserved for scalar fields that
// logically live at the root but are reported under this tag in diffs and
// audit entries.
const RootTag = "root"

// Schema describes one registered unified-record type: its ID field and
// the ordered list of top-level fields (subschemas and root-scalar
// exceptions), in declaration order.
type Schema struct {
	typ        reflect.Type
	idField    string
	idIndex    int
	subschemas []SubschemaField
	fields     []TopLevelField
}

// SubschemaField is one non-ID, non-root-scalar top-level field of a
// unified record — a structured subschema.
type SubschemaField struct {
	Name  string
	Index int
	Type  reflect.Type
}

// TopLevelField describes every non-ID field in declaration order, tagging
// whether it is a structured Subschema or a root-scalar exception field
// (a field tagged `unified:"root"`, the Go analogue of the original
// schema's single named "auditoria"-style scalar exception).
type TopLevelField struct {
	Name        string
	Index       int
	IsSubschema bool
}

var (
	registryMu sync.RWMutex
	registry   = map[reflect.Type]*Schema{}
)

// Register validates T's shape and caches its Schema. Panics with a
// SchemaDefinitionError-tagged message on violation: T must be a struct, its
// first exported field must be a registered Composite-ID type, no field may
// be named "root", and every other exported field must itself be a struct
// or pointer-to-struct unless it is tagged `unified:"root"`. A tagged field
// may be a scalar; the diff algorithm reports it under the "root" tag.
func Register[T any]() *Schema {
	var zero T
	typ := reflect.TypeOf(zero)
	if typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}

	registryMu.RLock()
	if s, ok := registry[typ]; ok {
		registryMu.RUnlock()
		return s
	}
	registryMu.RUnlock()

	if typ.Kind() != reflect.Struct {
		panic(schemaErr(typ, "not a struct"))
	}

	var idField string
	idIndex := -1
	var subs []SubschemaField
	var fields []TopLevelField

	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		if !f.IsExported() {
			continue
		}
		ft := f.Type
		deref := ft
		if deref.Kind() == reflect.Ptr {
			deref = deref.Elem()
		}

		if idIndex == -1 {
			if !compositeid.IsRegistered(ft) {
				panic(schemaErr(typ, fmt.Sprintf("first field %s must be a registered compositeid type", f.Name)))
			}
			idField = f.Name
			idIndex = i
			continue
		}

		if strings.EqualFold(f.Name, RootTag) {
			panic(schemaErr(typ, fmt.Sprintf("field name %q collides with the reserved root tag", RootTag)))
		}

		// A field tagged `unified:"root"` is the lone scalar exception the
		// original schema carved out for its "auditoria"-style field: it
		// lives at the root but is not itself a structured subschema.
		if f.Tag.Get("unified") == "root" {
			fields = append(fields, TopLevelField{Name: f.Name, Index: i, IsSubschema: false})
			continue
		}

		if deref.Kind() != reflect.Struct || compositeid.IsRegistered(deref) {
			panic(schemaErr(typ, fmt.Sprintf(`field %s must be a structured subschema, or tagged unified:"root"`, f.Name)))
		}
		subs = append(subs, SubschemaField{Name: f.Name, Index: i, Type: deref})
		fields = append(fields, TopLevelField{Name: f.Name, Index: i, IsSubschema: true})
	}

	if idIndex == -1 {
		panic(schemaErr(typ, "declares no fields"))
	}

	s := &Schema{typ: typ, idField: idField, idIndex: idIndex, subschemas: subs, fields: fields}

	registryMu.Lock()
	registry[typ] = s
	registryMu.Unlock()

	return s
}

func schemaErr(typ reflect.Type, msg string) error {
	return apperrors.Wrap(apperrors.ErrSchemaDefinition, "SCHEMA_DEFINITION",
		fmt.Sprintf("%s: %s", typ, msg))
}

// Type returns the registered struct type.
func (s *Schema) Type() reflect.Type { return s.typ }

// IDFieldName returns the name of the Composite-ID field.
func (s *Schema) IDFieldName() string { return s.idField }

// Subschemas returns the declared subschema fields in declaration order.
func (s *Schema) Subschemas() []SubschemaField { return s.subschemas }

// Fields returns every non-ID top-level field, in declaration order,
// tagging each as subschema or root-scalar.
func (s *Schema) Fields() []TopLevelField { return s.fields }

// SubschemaNames returns just the names, in declaration order.
func (s *Schema) SubschemaNames() []string {
	names := make([]string, len(s.subschemas))
	for i, f := range s.subschemas {
		names[i] = f.Name
	}
	return names
}

// HasSubschema reports whether name is a declared subschema or the
// reserved root tag.
func (s *Schema) HasSubschema(name string) bool {
	if strings.EqualFold(name, RootTag) {
		return true
	}
	for _, f := range s.subschemas {
		if f.Name == name {
			return true
		}
	}
	return false
}

// ID extracts the Composite-ID value from a record (struct or pointer).
func (s *Schema) ID(record any) any {
	v := reflect.ValueOf(record)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	return v.Field(s.idIndex).Interface()
}
