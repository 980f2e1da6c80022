package entity

import "testing"

func TestPutGetDelete(t *testing.T) {
	r := NewRegistry()
	r.Put(Entity{ID: 57, Name: "CCD1", Kind: KindDevice, Host: "host", Port: 6000, TypeCode: 3})

	e, ok := r.Get(57)
	if !ok || e.Name != "CCD1" {
		t.Fatalf("Get(57) = %+v, %v", e, ok)
	}

	found, ok := r.FindByName("CCD1")
	if !ok || found.ID != 57 {
		t.Errorf("FindByName(CCD1) = %+v, %v", found, ok)
	}

	r.Delete(57)
	if _, ok := r.Get(57); ok {
		t.Error("expected entity removed after Delete")
	}
}

func TestAll(t *testing.T) {
	r := NewRegistry()
	r.Put(Entity{ID: 1, Name: "a"})
	r.Put(Entity{ID: 2, Name: "b"})
	if len(r.All()) != 2 {
		t.Errorf("All() len = %d, want 2", len(r.All()))
	}
}
