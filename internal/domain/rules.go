package domain

import (
	"context"
	"fmt"

	"clientflow.io/flow/internal/ruleengine"
)

// MaestraProcessor merges a MaestraEvent into the current
// ClienteUnificado, creating one from scratch when current is nil.
func MaestraProcessor() ruleengine.UpdateProcessor {
	return ruleengine.UpdateProcessorFunc(func(_ context.Context, event, current any) (any, error) {
		e, ok := event.(*MaestraEvent)
		if !ok {
			return nil, fmt.Errorf("domain: expected *MaestraEvent, got %T", event)
		}

		var rec ClienteUnificado
		if current != nil {
			rec = *current.(*ClienteUnificado)
		} else {
			rec.ID = e.ID
		}
		maestra := e.Maestra
		rec.Maestra = &maestra
		return &rec, nil
	})
}

// AuditoriaProcessor merges an AuditoriaEvent's root-scalar field into
// the current ClienteUnificado.
func AuditoriaProcessor() ruleengine.UpdateProcessor {
	return ruleengine.UpdateProcessorFunc(func(_ context.Context, event, current any) (any, error) {
		e, ok := event.(*AuditoriaEvent)
		if !ok {
			return nil, fmt.Errorf("domain: expected *AuditoriaEvent, got %T", event)
		}

		var rec ClienteUnificado
		if current != nil {
			rec = *current.(*ClienteUnificado)
		} else {
			rec.ID = e.ID
		}
		rec.Auditoria = e.Auditoria
		return &rec, nil
	})
}

// ContactoProcessor merges a ContactoEvent into the current
// ClienteUnificado, creating one from scratch when current is nil.
func ContactoProcessor() ruleengine.UpdateProcessor {
	return ruleengine.UpdateProcessorFunc(func(_ context.Context, event, current any) (any, error) {
		e, ok := event.(*ContactoEvent)
		if !ok {
			return nil, fmt.Errorf("domain: expected *ContactoEvent, got %T", event)
		}

		var rec ClienteUnificado
		if current != nil {
			rec = *current.(*ClienteUnificado)
		} else {
			rec.ID = e.ID
		}
		contacto := e.Contacto
		rec.Contacto = &contacto
		return &rec, nil
	})
}
