package compositeid

import (
	"errors"
	"reflect"
	"testing"

	"clientflow.io/flow/internal/pkg/apperrors"
)

type ClienteProductoID struct {
	ProductoID string
	Lote       int
}

func TestRenderParse_RoundTrip(t *testing.T) {
	c := Register[ClienteProductoID]("-")

	id := ClienteProductoID{ProductoID: "XYZ123", Lote: 45}
	rendered, err := c.Render(&id)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if rendered != "XYZ123-45" {
		t.Fatalf("Render() = %q, want %q", rendered, "XYZ123-45")
	}

	parsed, err := c.Parse(rendered)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	got := parsed.(*ClienteProductoID)
	if *got != id {
		t.Fatalf("Parse(Render(id)) = %+v, want %+v", *got, id)
	}
}

func TestParse_WrongArityIsFormatError(t *testing.T) {
	c := Register[ClienteProductoID]("-")

	_, err := c.Parse("XYZ123")
	if !errors.Is(err, apperrors.ErrFormat) {
		t.Fatalf("Parse() error = %v, want ErrFormat", err)
	}
}

func TestParse_NonIntegerFieldIsFormatError(t *testing.T) {
	c := Register[ClienteProductoID]("-")

	_, err := c.Parse("XYZ123-notanumber")
	if !errors.Is(err, apperrors.ErrFormat) {
		t.Fatalf("Parse() error = %v, want ErrFormat", err)
	}
}

func TestRender_UnderspecifiedIsRejected(t *testing.T) {
	c := Register[ClienteProductoID]("-")

	_, err := c.Render(&ClienteProductoID{})
	if !errors.Is(err, apperrors.ErrUnderspecifiedID) {
		t.Fatalf("Render() error = %v, want ErrUnderspecifiedID", err)
	}
}

func TestEqual_SameTypeSameRender(t *testing.T) {
	c := Register[ClienteProductoID]("-")

	a := ClienteProductoID{ProductoID: "A", Lote: 1}
	b := ClienteProductoID{ProductoID: "A", Lote: 1}
	if !c.Equal(&a, &b) {
		t.Fatal("Equal() = false, want true for identical fields")
	}
}

func TestIsRegistered(t *testing.T) {
	typ := Register[ClienteProductoID]("-").Type()
	if !IsRegistered(typ) {
		t.Fatal("IsRegistered() = false for a registered type")
	}

	type NeverRegistered struct{ Y string }
	if IsRegistered(reflect.TypeOf(NeverRegistered{})) {
		t.Fatal("IsRegistered() = true for an unregistered type")
	}
}
