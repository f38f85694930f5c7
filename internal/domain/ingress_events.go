package domain

import (
	"context"
	"encoding/json"
	"fmt"

	"clientflow.io/flow/internal/ingress"
)

// MaestraPushEventProcessor decodes one push-ingress body (already
// JSON-decoded into a generic any by the gin handler) into a
// MaestraEvent. The body must carry both a cliente_id/producto_id pair
// and a maestra object; anything else is a validation failure, logged
// and skipped rather than published.
func MaestraPushEventProcessor() ingress.EventProcessor {
	return ingress.EventProcessorFunc(func(_ context.Context, raw any) ([]any, error) {
		body, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("domain: re-encode push body: %w", err)
		}

		var payload struct {
			ClienteID  string   `json:"cliente_id"`
			ProductoID string   `json:"producto_id"`
			Maestra    *Maestra `json:"maestra"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, fmt.Errorf("domain: body does not match maestra event shape: %w", err)
		}
		if payload.ClienteID == "" || payload.ProductoID == "" {
			return nil, fmt.Errorf("domain: maestra event missing cliente_id/producto_id")
		}
		if payload.Maestra == nil {
			return nil, fmt.Errorf("domain: maestra event missing maestra object")
		}

		return []any{&MaestraEvent{
			ID:      ClienteID{ClienteID: payload.ClienteID, ProductoID: payload.ProductoID},
			Maestra: *payload.Maestra,
		}}, nil
	})
}

// ContactoPushEventProcessor decodes one push-ingress body into a
// ContactoEvent.
func ContactoPushEventProcessor() ingress.EventProcessor {
	return ingress.EventProcessorFunc(func(_ context.Context, raw any) ([]any, error) {
		body, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("domain: re-encode push body: %w", err)
		}

		var payload struct {
			ClienteID  string   `json:"cliente_id"`
			ProductoID string   `json:"producto_id"`
			Contacto   Contacto `json:"contacto"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, fmt.Errorf("domain: body does not match contacto event shape: %w", err)
		}
		if payload.ClienteID == "" || payload.ProductoID == "" {
			return nil, fmt.Errorf("domain: contacto event missing cliente_id/producto_id")
		}

		return []any{&ContactoEvent{
			ID:       ClienteID{ClienteID: payload.ClienteID, ProductoID: payload.ProductoID},
			Contacto: payload.Contacto,
		}}, nil
	})
}

// AuditoriaPushEventProcessor decodes one push-ingress body into an
// AuditoriaEvent (spec.md S4).
func AuditoriaPushEventProcessor() ingress.EventProcessor {
	return ingress.EventProcessorFunc(func(_ context.Context, raw any) ([]any, error) {
		body, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("domain: re-encode push body: %w", err)
		}

		var payload struct {
			ClienteID  string `json:"cliente_id"`
			ProductoID string `json:"producto_id"`
			Auditoria  string `json:"auditoria"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, fmt.Errorf("domain: body does not match auditoria event shape: %w", err)
		}
		if payload.ClienteID == "" || payload.ProductoID == "" {
			return nil, fmt.Errorf("domain: auditoria event missing cliente_id/producto_id")
		}

		return []any{&AuditoriaEvent{
			ID:        ClienteID{ClienteID: payload.ClienteID, ProductoID: payload.ProductoID},
			Auditoria: payload.Auditoria,
		}}, nil
	})
}
