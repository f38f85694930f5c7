package unified

import (
	"testing"

	"clientflow.io/flow/internal/compositeid"
)

type ClienteID struct {
	ClienteID  string
	ProductoID string
}

type Maestra struct {
	Info string `json:"info"`
}

type Contacto struct {
	Email string `json:"email"`
}

type ClienteUnificado struct {
	ID       ClienteID
	Maestra  *Maestra
	Contacto *Contacto
}

func init() {
	compositeid.Register[ClienteID]("-")
}

func TestRegister_ValidSchema(t *testing.T) {
	s := Register[ClienteUnificado]()

	if s.IDFieldName() != "ID" {
		t.Errorf("IDFieldName() = %q, want ID", s.IDFieldName())
	}
	names := s.SubschemaNames()
	if len(names) != 2 || names[0] != "Maestra" || names[1] != "Contacto" {
		t.Errorf("SubschemaNames() = %v, want [Maestra Contacto] in declaration order", names)
	}
	if !s.HasSubschema(RootTag) {
		t.Error("HasSubschema(root) should always be true")
	}
	if !s.HasSubschema("Maestra") {
		t.Error("HasSubschema(Maestra) should be true")
	}
	if s.HasSubschema("Nonexistent") {
		t.Error("HasSubschema(Nonexistent) should be false")
	}
}

func TestRegister_RejectsScalarField(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("Register() should panic for a scalar top-level field")
		}
	}()

	type BadRecord struct {
		ID    ClienteID
		Nota  string
	}
	Register[BadRecord]()
}

func TestRegister_RejectsNonIDFirstField(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("Register() should panic when the first field isn't a registered id type")
		}
	}()

	type BadRecord2 struct {
		ID      Maestra
		Contact *Contacto
	}
	Register[BadRecord2]()
}

func TestRegister_RejectsRootNameCollision(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("Register() should panic when a field is named root")
		}
	}()

	type BadRecord3 struct {
		ID   ClienteID
		Root *Maestra
	}
	Register[BadRecord3]()
}

type ClienteUnificadoConRoot struct {
	ID        ClienteID
	Maestra   *Maestra
	Auditoria string `unified:"root"`
}

func TestRegister_AllowsTaggedRootScalar(t *testing.T) {
	s := Register[ClienteUnificadoConRoot]()

	fields := s.Fields()
	if len(fields) != 2 {
		t.Fatalf("Fields() len = %d, want 2", len(fields))
	}
	if fields[0].Name != "Maestra" || !fields[0].IsSubschema {
		t.Errorf("Fields()[0] = %+v, want Maestra/subschema", fields[0])
	}
	if fields[1].Name != "Auditoria" || fields[1].IsSubschema {
		t.Errorf("Fields()[1] = %+v, want Auditoria/root-scalar", fields[1])
	}
}

func TestSchema_ID(t *testing.T) {
	s := Register[ClienteUnificado]()
	rec := ClienteUnificado{ID: ClienteID{ClienteID: "C1", ProductoID: "P1"}}

	got := s.ID(&rec).(ClienteID)
	if got != rec.ID {
		t.Errorf("ID() = %+v, want %+v", got, rec.ID)
	}
}
