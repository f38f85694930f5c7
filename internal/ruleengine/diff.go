package ruleengine

import (
	"reflect"
	"time"

	"clientflow.io/flow/internal/audit"
	"clientflow.io/flow/internal/unified"
)

// Diff implements the structured, one-level diff algorithm (spec.md
// §4.5.4 / original's detect_changes): for every top-level field of
// schema, in declaration order, compare current against updated and emit
// one ChangeEntry per differing leaf. A nil current means "no prior
// record" — every set field of updated is emitted as a change with
// OldValue nil. If the result is empty, the single "No Changes" sentinel
// is returned instead.
func Diff(schema *unified.Schema, current, updated any, idEntrada string) []audit.ChangeEntry {
	now := time.Now().UTC()
	var changes []audit.ChangeEntry

	updatedVal := indirect(reflect.ValueOf(updated))
	var currentVal reflect.Value
	hasCurrent := current != nil
	if hasCurrent {
		currentVal = indirect(reflect.ValueOf(current))
	}

	for _, field := range schema.Fields() {
		newFieldVal := updatedVal.Field(field.Index)

		if field.IsSubschema {
			newSub, newSet := derefStruct(newFieldVal)
			if !newSet {
				continue // field not set on the merged record, nothing to report
			}

			var oldSub reflect.Value
			oldSet := false
			if hasCurrent {
				oldSub, oldSet = derefStruct(currentVal.Field(field.Index))
			}

			for i := 0; i < newSub.NumField(); i++ {
				sf := newSub.Type().Field(i)
				if !sf.IsExported() {
					continue
				}
				newLeaf := newSub.Field(i).Interface()
				if !oldSet {
					changes = append(changes, entry(idEntrada, field.Name, sf.Name, nil, newLeaf, now))
					continue
				}
				oldLeaf := oldSub.Field(i).Interface()
				if !reflect.DeepEqual(oldLeaf, newLeaf) {
					changes = append(changes, entry(idEntrada, field.Name, sf.Name, oldLeaf, newLeaf, now))
				}
			}
			continue
		}

		// Root-scalar exception field.
		newLeaf := newFieldVal.Interface()
		if !hasCurrent {
			if !newFieldVal.IsZero() {
				changes = append(changes, entry(idEntrada, unified.RootTag, field.Name, nil, newLeaf, now))
			}
			continue
		}
		oldLeaf := currentVal.Field(field.Index).Interface()
		if !reflect.DeepEqual(oldLeaf, newLeaf) {
			changes = append(changes, entry(idEntrada, unified.RootTag, field.Name, oldLeaf, newLeaf, now))
		}
	}

	if len(changes) == 0 {
		return []audit.ChangeEntry{audit.NoChangesEntry(idEntrada)}
	}
	return changes
}

func entry(idEntrada, subesquema, campo string, oldValue, newValue any, when time.Time) audit.ChangeEntry {
	return audit.ChangeEntry{
		IDEntrada:   idEntrada,
		Subesquema:  subesquema,
		Campo:       campo,
		OldValue:    oldValue,
		NewValue:    newValue,
		FechaEvento: when,
	}
}

func indirect(v reflect.Value) reflect.Value {
	if v.Kind() == reflect.Ptr {
		return v.Elem()
	}
	return v
}

// derefStruct dereferences a subschema field value (plain struct or
// pointer-to-struct) and reports whether it is present: a nil pointer is
// "not set", mirroring the original's fields_set tracking.
func derefStruct(v reflect.Value) (reflect.Value, bool) {
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return reflect.Value{}, false
		}
		return v.Elem(), true
	}
	return v, true
}
