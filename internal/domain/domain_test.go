package domain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"clientflow.io/flow/internal/compositeid"
)

func TestClienteID_RoundTrips(t *testing.T) {
	codec := compositeid.Register[ClienteID]("-")

	id := ClienteID{ClienteID: "CLI001", ProductoID: "PROD001"}
	rendered, err := codec.Render(id)
	require.NoError(t, err)
	require.Equal(t, "CLI001-PROD001", rendered)

	parsed, err := codec.Parse(rendered)
	require.NoError(t, err)
	require.Equal(t, &id, parsed)
}

func TestMaestraProcessor_CreatesRecordWhenCurrentIsNil(t *testing.T) {
	processor := MaestraProcessor()
	event := &MaestraEvent{
		ID:      ClienteID{ClienteID: "CLI001", ProductoID: "PROD001"},
		Maestra: Maestra{Info: "v1", Nombre: "Acme"},
	}

	updated, err := processor.ProcessMessage(context.Background(), event, nil)
	require.NoError(t, err)

	rec := updated.(*ClienteUnificado)
	require.Equal(t, event.ID, rec.ID)
	require.Equal(t, &event.Maestra, rec.Maestra)
	require.Nil(t, rec.Contacto)
}

func TestMaestraProcessor_MergesOntoExistingRecordWithoutTouchingContacto(t *testing.T) {
	processor := MaestraProcessor()
	current := &ClienteUnificado{
		ID:       ClienteID{ClienteID: "CLI001", ProductoID: "PROD001"},
		Contacto: &Contacto{Email: "a@example.com"},
	}
	event := &MaestraEvent{ID: current.ID, Maestra: Maestra{Info: "v2"}}

	updated, err := processor.ProcessMessage(context.Background(), event, current)
	require.NoError(t, err)

	rec := updated.(*ClienteUnificado)
	require.Equal(t, "v2", rec.Maestra.Info)
	require.Equal(t, current.Contacto, rec.Contacto)
}

func TestMaestraProcessor_RejectsWrongEventType(t *testing.T) {
	processor := MaestraProcessor()
	_, err := processor.ProcessMessage(context.Background(), &ContactoEvent{}, nil)
	require.Error(t, err)
}

func TestAuditoriaProcessor_SetsRootScalarWithoutTouchingSubschemas(t *testing.T) {
	processor := AuditoriaProcessor()
	current := &ClienteUnificado{
		ID:      ClienteID{ClienteID: "CLI001", ProductoID: "PROD001"},
		Maestra: &Maestra{Info: "v1"},
	}
	event := &AuditoriaEvent{ID: current.ID, Auditoria: "reviewed-2026-07-30"}

	updated, err := processor.ProcessMessage(context.Background(), event, current)
	require.NoError(t, err)

	rec := updated.(*ClienteUnificado)
	require.Equal(t, "reviewed-2026-07-30", rec.Auditoria)
	require.Equal(t, current.Maestra, rec.Maestra)
}

func TestClienteBodyMapper_OmitsUnsetSubschemas(t *testing.T) {
	rec := &ClienteUnificado{
		ID:      ClienteID{ClienteID: "CLI001", ProductoID: "PROD001"},
		Maestra: &Maestra{Info: "v1"},
	}

	body, err := ClienteBodyMapper(rec)
	require.NoError(t, err)

	m := body.(map[string]any)
	require.Equal(t, "CLI001", m["cliente_id"])
	require.Contains(t, m, "maestra")
	require.NotContains(t, m, "contacto")
	require.NotContains(t, m, "auditoria")
}

func TestClienteBodyMapper_RejectsWrongType(t *testing.T) {
	_, err := ClienteBodyMapper("not a record")
	require.Error(t, err)
}

func TestMaestraPushEventProcessor_RejectsMissingID(t *testing.T) {
	processor := MaestraPushEventProcessor()
	_, err := processor.ProcessEvent(context.Background(), map[string]any{
		"maestra": map[string]any{"info": "v1"},
	})
	require.Error(t, err)
}

func TestMaestraPushEventProcessor_ProducesMaestraEvent(t *testing.T) {
	processor := MaestraPushEventProcessor()
	events, err := processor.ProcessEvent(context.Background(), map[string]any{
		"cliente_id":  "CLI001",
		"producto_id": "PROD001",
		"maestra":     map[string]any{"info": "v1", "nombre": "Acme"},
	})
	require.NoError(t, err)
	require.Len(t, events, 1)

	event := events[0].(*MaestraEvent)
	require.Equal(t, ClienteID{ClienteID: "CLI001", ProductoID: "PROD001"}, event.ID)
	require.Equal(t, "v1", event.Maestra.Info)
}

func TestContactoPullEventProcessor_SkipsMalformedElement(t *testing.T) {
	processor := ContactoPullEventProcessor()
	_, err := processor.ProcessEvent(context.Background(), "not a contacto record")
	require.Error(t, err)
}

func TestContactoPullEventProcessor_ProducesContactoEvent(t *testing.T) {
	processor := ContactoPullEventProcessor()
	events, err := processor.ProcessEvent(context.Background(), contactoRecord{
		ClienteID:  "CLI001",
		ProductoID: "PROD001",
		Email:      "a@example.com",
	})
	require.NoError(t, err)
	require.Len(t, events, 1)

	event := events[0].(*ContactoEvent)
	require.Equal(t, "a@example.com", event.Contacto.Email)
}
