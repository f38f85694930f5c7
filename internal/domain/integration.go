package domain

import (
	"fmt"

	"clientflow.io/flow/internal/integration"
)

// ClienteBodyMapper flattens a ClienteUnificado into the JSON body the
// downstream CRM integration expects, dropping subschemas that were
// never set rather than sending them as null.
func ClienteBodyMapper(record any) (any, error) {
	rec, ok := record.(*ClienteUnificado)
	if !ok {
		return nil, fmt.Errorf("domain: expected *ClienteUnificado, got %T", record)
	}

	body := map[string]any{
		"cliente_id":  rec.ID.ClienteID,
		"producto_id": rec.ID.ProductoID,
	}
	if rec.Maestra != nil {
		body["maestra"] = rec.Maestra
	}
	if rec.Contacto != nil {
		body["contacto"] = rec.Contacto
	}
	if rec.Auditoria != "" {
		body["auditoria"] = rec.Auditoria
	}
	return body, nil
}

// NewClienteRESTIntegrator wires the concrete REST strategy for pushing a
// ClienteUnificado to the downstream CRM's PATCH endpoint.
func NewClienteRESTIntegrator(cfg integration.RESTConfig) integration.Integrator {
	return integration.NewRESTIntegrator(cfg, "PATCH", "clientes", ClienteBodyMapper, nil)
}
