package all

import (
	"testing"
)

func TestRegistry(t *testing.T) {
	reg, err := Registry(nil)
	if err != nil {
		t.Fatalf("Registry failed: %v", err)
	}
	names := reg.Names()
	want := []string{"mysql", "pgsql", "sqlite"}
	if len(names) != len(want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("names = %v, want %v", names, want)
		}
	}

	if _, err := Registry(nil, Drivers(nil)[0]); err == nil {
		t.Fatal("expected duplicate backend to be rejected")
	}
}
