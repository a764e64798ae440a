package adapters

import (
	"testing"

	"github.com/vivekkundariya/envctl/internal/domain/failure"
)

func TestRegistry_Adapter(t *testing.T) {
	r := NewRegistry(t.TempDir(), nil)

	for _, name := range []string{"mock", "file-inject"} {
		a, err := r.Adapter(name, nil)
		if err != nil {
			t.Fatalf("Adapter(%s) returned error: %v", name, err)
		}
		if a.Name() != name {
			t.Errorf("Adapter(%s).Name() = %s", name, a.Name())
		}
	}

	_, err := r.Adapter("kubernetes", nil)
	if failure.KindOf(err) != failure.KindValidation {
		t.Fatalf("expected validation failure, got %v", err)
	}
}
