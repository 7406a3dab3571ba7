package domain

import (
	"reflect"
	"testing"
	"time"
)

func mk(id string, created, updated time.Time, name string) Product {
	return Product{ID: id, Name: name, CreatedAt: created, LastUpdated: updated}
}

func TestMergeProducts_NewerWins(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	local := mk("a", base, base, "local")
	remote := mk("a", base, base.Add(time.Second), "remote")

	if got := MergeProducts(local, remote); got.Name != "remote" {
		t.Fatalf("newer remote should win, got %q", got.Name)
	}
	if got := MergeProducts(remote, local); got.Name != "remote" {
		t.Fatalf("newer first arg should win, got %q", got.Name)
	}
}

func TestMergeProducts_TieKeepsFirstArg(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	local := mk("a", base, base, "local")
	remote := mk("a", base, base, "remote")

	if got := MergeProducts(local, remote); got.Name != "local" {
		t.Fatalf("exact tie must keep the first argument, got %q", got.Name)
	}
}

func TestMergeSets_UnionAndLWW(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	local := []Product{
		mk("only-local", base.Add(2*time.Hour), base, "l1"),
		mk("both", base.Add(time.Hour), base.Add(time.Minute), "stale"),
	}
	remote := []Product{
		mk("both", base.Add(time.Hour), base.Add(2*time.Minute), "fresh"),
		mk("only-remote", base, base, "r1"),
	}

	got := MergeSets(local, remote)
	if len(got) != 3 {
		t.Fatalf("expected 3 merged records, got %d", len(got))
	}
	byID := map[string]Product{}
	for _, p := range got {
		byID[p.ID] = p
	}
	if byID["both"].Name != "fresh" {
		t.Fatalf("conflicting record should resolve to the fresher copy, got %q", byID["both"].Name)
	}
	if _, ok := byID["only-local"]; !ok {
		t.Fatalf("one-sided local record dropped")
	}
	if _, ok := byID["only-remote"]; !ok {
		t.Fatalf("one-sided remote record dropped")
	}
}

func TestMergeSets_Idempotent(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := []Product{
		mk("x", base, base.Add(time.Minute), "ax"),
		mk("y", base.Add(time.Hour), base, "ay"),
	}
	b := []Product{
		mk("x", base, base.Add(2*time.Minute), "bx"),
		mk("z", base.Add(2*time.Hour), base, "bz"),
	}

	once := MergeSets(a, b)
	twice := MergeSets(once, b)
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("merging the same remote set again changed the result:\nonce:  %+v\ntwice: %+v", once, twice)
	}
}

func TestMergeSets_SortsNewestFirst_ZeroCreatedLast(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	got := MergeSets([]Product{
		mk("old", base, base, "old"),
		mk("unknown", time.Time{}, base, "unknown"),
		mk("new", base.Add(time.Hour), base, "new"),
	}, nil)

	want := []string{"new", "old", "unknown"}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("position %d: got %q want %q (full: %+v)", i, got[i].ID, id, got)
		}
	}
}

func TestApplyPatch_ScalarsAndIdentity(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base.Add(time.Hour)
	dst := Product{ID: "p1", GlobalID: "g1", Name: "Old", Price: "10", CreatedAt: base, LastUpdated: base}

	got := ApplyPatch(dst, Product{ID: "other", Name: "New"}, now)

	if got.ID != "p1" || got.GlobalID != "g1" || !got.CreatedAt.Equal(base) {
		t.Fatalf("identity fields must never be patched: %+v", got)
	}
	if got.Name != "New" {
		t.Fatalf("non-zero scalar should replace, got %q", got.Name)
	}
	if got.Price != "10" {
		t.Fatalf("zero-valued scalar in patch must not clear, got %q", got.Price)
	}
	if !got.LastUpdated.Equal(now) {
		t.Fatalf("LastUpdated not stamped: %v", got.LastUpdated)
	}
}

func TestApplyPatch_DetailsUnion_ArraysWholesale(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	dst := Product{
		ID:      "p1",
		Details: map[string]string{"material": "steel", "weight": "2kg"},
		Images:  []string{"blob:a", "blob:b"},
	}
	patch := Product{
		Details: map[string]string{"weight": "3kg", "colour": "red"},
		Images:  []string{"blob:c"},
	}

	got := ApplyPatch(dst, patch, now)

	wantDetails := map[string]string{"material": "steel", "weight": "3kg", "colour": "red"}
	if !reflect.DeepEqual(got.Details, wantDetails) {
		t.Fatalf("details merge mismatch: %#v", got.Details)
	}
	if !reflect.DeepEqual(got.Images, []string{"blob:c"}) {
		t.Fatalf("images should replace wholesale: %#v", got.Images)
	}

	// Absent array leaves destination untouched.
	got2 := ApplyPatch(dst, Product{Name: "n"}, now)
	if !reflect.DeepEqual(got2.Images, []string{"blob:a", "blob:b"}) {
		t.Fatalf("nil patch slice must not replace: %#v", got2.Images)
	}
}

func TestApplyPatch_DoesNotAliasDestination(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	dst := Product{ID: "p1", Details: map[string]string{"k": "v"}, Images: []string{"blob:a"}}

	got := ApplyPatch(dst, Product{Details: map[string]string{"k2": "v2"}}, now)
	got.Details["k"] = "mutated"
	got.Images[0] = "mutated"

	if dst.Details["k"] != "v" || dst.Images[0] != "blob:a" {
		t.Fatalf("patch result aliases the destination: %+v", dst)
	}
}

func TestClone_DeepCopies(t *testing.T) {
	p := Product{
		ID:      "p1",
		Images:  []string{"blob:a"},
		Reviews: []Review{{ID: "r1", Images: []string{"blob:r"}}},
		Variants: []Variant{{
			Name:     "Colour",
			Values:   []string{"red"},
			Children: []Variant{{Name: "Shade", Values: []string{"dark"}}},
		}},
		Details: map[string]string{"k": "v"},
	}

	c := p.Clone()
	c.Images[0] = "x"
	c.Reviews[0].Images[0] = "x"
	c.Variants[0].Values[0] = "x"
	c.Variants[0].Children[0].Values[0] = "x"
	c.Details["k"] = "x"

	if p.Images[0] != "blob:a" || p.Reviews[0].Images[0] != "blob:r" ||
		p.Variants[0].Values[0] != "red" || p.Variants[0].Children[0].Values[0] != "dark" ||
		p.Details["k"] != "v" {
		t.Fatalf("clone aliases the original: %+v", p)
	}
}
