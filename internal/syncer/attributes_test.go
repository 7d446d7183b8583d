package syncer

import (
	"context"
	"testing"
)

func TestResolveAttributeCreatesOnce(t *testing.T) {
	f := newFakeCatalog(t)
	r := NewAttributeResolver(f.client(), nil)

	id1, err := r.ResolveAttribute(context.Background(), "Colour")
	if err != nil {
		t.Fatalf("ResolveAttribute: %v", err)
	}
	id2, err := r.ResolveAttribute(context.Background(), "Colour")
	if err != nil {
		t.Fatalf("ResolveAttribute second call: %v", err)
	}
	if id1 != id2 {
		t.Errorf("ids differ: %d vs %d", id1, id2)
	}
	if f.attributeCreates != 1 {
		t.Errorf("attribute created %d times, want 1", f.attributeCreates)
	}
}

func TestResolveAttributeCacheSkipsListing(t *testing.T) {
	f := newFakeCatalog(t)
	r := NewAttributeResolver(f.client(), nil)

	if _, err := r.ResolveAttribute(context.Background(), "Size"); err != nil {
		t.Fatal(err)
	}
	listed := f.listCalls
	if _, err := r.ResolveAttribute(context.Background(), "size"); err != nil {
		t.Fatal(err)
	}
	if f.listCalls != listed {
		t.Errorf("cached resolve should not list again (%d -> %d)", listed, f.listCalls)
	}
}

func TestResolveAttributeFindsExistingBySlug(t *testing.T) {
	f := newFakeCatalog(t)
	f.attributes = append(f.attributes, RemoteAttribute{ID: 77, Name: "Colour", Slug: "pa_colour"})

	r := NewAttributeResolver(f.client(), nil)
	id, err := r.ResolveAttribute(context.Background(), "Colour")
	if err != nil {
		t.Fatalf("ResolveAttribute: %v", err)
	}
	if id != 77 {
		t.Errorf("id = %d, want the pre-existing 77", id)
	}
	if f.attributeCreates != 0 {
		t.Errorf("existing attribute should never be re-created (%d creates)", f.attributeCreates)
	}
}

func TestResolveAttributeRecoversFromCreateConflict(t *testing.T) {
	f := newFakeCatalog(t)
	// The create fails with a conflict, and the racing winner shows up in the
	// listing refreshed afterwards.
	f.failAttributeCreate = true
	f.conflictAttribute = &RemoteAttribute{ID: 42, Name: "Colour", Slug: "pa_colour"}

	r := NewAttributeResolver(f.client(), nil)
	id, err := r.ResolveAttribute(context.Background(), "Colour")
	if err != nil {
		t.Fatalf("ResolveAttribute should recover via the post-create lookup: %v", err)
	}
	if id != 42 {
		t.Errorf("id = %d, want the conflicting winner 42", id)
	}
}

func TestTwoResolversNeverDuplicate(t *testing.T) {
	f := newFakeCatalog(t)
	r1 := NewAttributeResolver(f.client(), nil)
	r2 := NewAttributeResolver(f.client(), nil)

	id1, err := r1.ResolveAttribute(context.Background(), "Colour")
	if err != nil {
		t.Fatal(err)
	}
	id2, err := r2.ResolveAttribute(context.Background(), "Colour")
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Errorf("two resolvers returned different ids: %d vs %d", id1, id2)
	}
	if f.attributeCreates != 1 {
		t.Errorf("attribute created %d times across two resolvers, want 1", f.attributeCreates)
	}
}

func TestResolveTermPerAttribute(t *testing.T) {
	f := newFakeCatalog(t)
	r := NewAttributeResolver(f.client(), nil)

	colour, err := r.ResolveAttribute(context.Background(), "Colour")
	if err != nil {
		t.Fatal(err)
	}
	size, err := r.ResolveAttribute(context.Background(), "Size")
	if err != nil {
		t.Fatal(err)
	}

	black1, err := r.ResolveTerm(context.Background(), colour, "Black")
	if err != nil {
		t.Fatalf("ResolveTerm: %v", err)
	}
	black2, err := r.ResolveTerm(context.Background(), colour, "black")
	if err != nil {
		t.Fatal(err)
	}
	if black1 != black2 {
		t.Errorf("case-insensitive term resolve returned %d and %d", black1, black2)
	}
	if f.termCreates != 1 {
		t.Errorf("term created %d times, want 1", f.termCreates)
	}

	// The same value under a different attribute is a distinct term.
	sized, err := r.ResolveTerm(context.Background(), size, "Black")
	if err != nil {
		t.Fatal(err)
	}
	if sized == black1 {
		t.Error("terms are scoped per attribute and must not collide")
	}
}

func TestResolveRejectsEmptyNames(t *testing.T) {
	f := newFakeCatalog(t)
	r := NewAttributeResolver(f.client(), nil)
	if _, err := r.ResolveAttribute(context.Background(), "  "); err == nil {
		t.Error("empty attribute name should error")
	}
	if _, err := r.ResolveTerm(context.Background(), 1, ""); err == nil {
		t.Error("empty term value should error")
	}
}
