// Package domain declares the one concrete unified-record type this
// deployment of the pipeline ships with: a client-product record keyed by
// (cliente_id, producto_id), with "maestra" and "contacto" subschemas —
// the running example spec.md's own end-to-end scenarios use.
//
// Import Path: clientflow.io/flow/internal/domain
package domain

import "clientflow.io/flow/internal/compositeid"

// ClienteID is the Composite-ID for a client-product record:
// "CLI001-PROD001" renders/parses as {ClienteID: "CLI001", ProductoID: "PROD001"}.
type ClienteID struct {
	ClienteID  string
	ProductoID string
}

// Maestra carries the client's master-data fields.
type Maestra struct {
	Info   string `json:"info"`
	Nombre string `json:"nombre,omitempty"`
	Estado string `json:"estado,omitempty"`
}

// Contacto carries the client's contact-data fields.
type Contacto struct {
	Email    string `json:"email,omitempty"`
	Telefono string `json:"telefono,omitempty"`
}

// ClienteUnificado is the unified record: ID plus its declared
// subschemas, in the order the Rule Engine reports them. Auditoria is
// the one scalar root exception (spec.md §4.5.1's "root" tag, S4).
type ClienteUnificado struct {
	ID        ClienteID
	Maestra   *Maestra  `json:"maestra,omitempty"`
	Contacto  *Contacto `json:"contacto,omitempty"`
	Auditoria string    `unified:"root" json:"auditoria,omitempty"`
}

// MaestraEvent is the inbound event shape a source system sends when it
// wants to update a client's Maestra subschema (spec.md S1/S2/S3).
type MaestraEvent struct {
	ID      ClienteID
	Maestra Maestra
}

// ContactoEvent is the inbound event shape for Contacto updates.
type ContactoEvent struct {
	ID       ClienteID
	Contacto Contacto
}

// AuditoriaEvent updates the unified record's root-scalar Auditoria
// field directly (spec.md S4 — a rule whose topics = {"root"}).
type AuditoriaEvent struct {
	ID        ClienteID
	Auditoria string
}

func init() {
	compositeid.Register[ClienteID]("-")
}
