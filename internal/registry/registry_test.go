package registry

import (
	"strings"
	"testing"
	"time"

	"github.com/storefront-labs/go-catalog-sync/internal/domain"
)

func product(id, name string, created time.Time) domain.Product {
	return domain.Product{ID: id, Name: name, CreatedAt: created, LastUpdated: created}
}

func TestRegister_DerivesSlugRouteCreatedAt(t *testing.T) {
	r := New(t.TempDir(), Caps{})

	id, dropped := r.Register(domain.Product{ID: "p1", Name: "Wireless Headphones"})
	if id != "p1" || dropped != 0 {
		t.Fatalf("Register = (%q, %d)", id, dropped)
	}

	got, ok := r.Get("p1")
	if !ok {
		t.Fatalf("registered record not found")
	}
	if got.Slug != "wireless-headphones" {
		t.Fatalf("slug not derived: %q", got.Slug)
	}
	if got.Route != "/product/wireless-headphones" {
		t.Fatalf("route not derived: %q", got.Route)
	}
	if got.CreatedAt.IsZero() {
		t.Fatalf("created-at not stamped")
	}
}

func TestGet_ByIDSlugAndRoute(t *testing.T) {
	r := New(t.TempDir(), Caps{})
	r.Register(domain.Product{ID: "p1", Name: "Desk Lamp"})

	for _, ident := range []string{"p1", "desk-lamp", "/product/desk-lamp", "product/desk-lamp"} {
		if _, ok := r.Get(ident); !ok {
			t.Fatalf("Get(%q) missed", ident)
		}
	}
	if _, ok := r.Get("nope"); ok {
		t.Fatalf("Get of unknown identifier should miss")
	}
}

func TestGet_ReadThroughBackfill(t *testing.T) {
	dir := t.TempDir()
	first := New(dir, Caps{})
	first.Register(domain.Product{ID: "p1", Name: "Desk Lamp"})

	// Fresh registry over the same dir: empty cache, records on disk.
	second := New(dir, Caps{})
	got, ok := second.Get("desk-lamp")
	if !ok || got.ID != "p1" {
		t.Fatalf("read-through miss: ok=%v got=%+v", ok, got)
	}
	// Second lookup serves from the backfilled cache.
	if _, ok := second.Get("p1"); !ok {
		t.Fatalf("backfilled record not cached")
	}
}

func TestSummaryAndRecord_StayConsistent(t *testing.T) {
	r := New(t.TempDir(), Caps{})
	r.Register(domain.Product{ID: "p1", Name: "Desk Lamp", Price: "30"})

	if _, _, err := r.Update("p1", domain.Product{Name: "Desk Lamp Pro", Price: "45"}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	sums := r.Summaries()
	if len(sums) != 1 {
		t.Fatalf("expected one summary, got %d", len(sums))
	}
	rec, ok := r.Get("p1")
	if !ok {
		t.Fatalf("record lost after update")
	}
	if sums[0].Name != rec.Name || sums[0].Price != rec.Price {
		t.Fatalf("summary diverged from record: %+v vs %+v", sums[0], rec)
	}
}

func TestUpdate_UnknownID(t *testing.T) {
	r := New(t.TempDir(), Caps{})
	if _, _, err := r.Update("ghost", domain.Product{Name: "x"}); err != ErrNotFound {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestGetAll_SortedNewestFirst(t *testing.T) {
	r := New(t.TempDir(), Caps{})
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r.Register(product("old", "Old", base))
	r.Register(product("new", "New", base.Add(time.Hour)))
	r.Register(product("mid", "Mid", base.Add(time.Minute)))

	all := r.GetAll()
	if len(all) != 3 {
		t.Fatalf("GetAll returned %d records", len(all))
	}
	want := []string{"new", "mid", "old"}
	for i, id := range want {
		if all[i].ID != id {
			t.Fatalf("order mismatch at %d: got %q want %q", i, all[i].ID, id)
		}
	}
}

func TestDelete_RemovesEverywhere(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, Caps{})
	r.Register(domain.Product{ID: "p1", Name: "Desk Lamp"})

	if !r.Delete("p1") {
		t.Fatalf("Delete should report true")
	}
	if _, ok := r.Get("p1"); ok {
		t.Fatalf("record survived delete")
	}
	if len(r.Summaries()) != 0 {
		t.Fatalf("summary survived delete")
	}

	// And nothing resurrects through a fresh registry over the same dir.
	if _, ok := New(dir, Caps{}).Get("p1"); ok {
		t.Fatalf("record resurrected from disk after delete")
	}

	// Deleting the unknown still reports true.
	if !r.Delete("ghost") {
		t.Fatalf("Delete of unknown id should still report true")
	}
}

func TestSanitize_CapsPersistedCopyOnly(t *testing.T) {
	r := New(t.TempDir(), Caps{MaxImages: 2, MaxReviews: 1, MaxReviewImages: 1})

	p := domain.Product{
		ID:     "p1",
		Name:   "Camera",
		Images: []string{"blob:a.png", "blob:b.png", "blob:c.png"},
		Reviews: []domain.Review{
			{ID: "r1", Images: []string{"blob:x.png", "blob:y.png"}},
			{ID: "r2"},
		},
	}
	_, dropped := r.Register(p)
	if dropped != 3 { // one image, one review, one review image
		t.Fatalf("dropped = %d; want 3", dropped)
	}

	// The logical record in the cache keeps everything.
	got, _ := r.Get("p1")
	if len(got.Images) != 3 || len(got.Reviews) != 2 {
		t.Fatalf("in-memory record was truncated: %+v", got)
	}
}

func TestSanitize_DropsInlinePayloadsFromImages(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, Caps{})
	r.Register(domain.Product{
		ID:     "p1",
		Name:   "Camera",
		Images: []string{"blob:a.png", "data:image/png;base64,AAAA", "https://example.com/b.png"},
	})

	// Read the persisted copy through a fresh registry.
	got, ok := New(dir, Caps{}).Get("p1")
	if !ok {
		t.Fatalf("persisted record missing")
	}
	for _, img := range got.Images {
		if strings.HasPrefix(img, "data:") {
			t.Fatalf("raw payload leaked into the persisted copy: %q", img)
		}
	}
	if len(got.Images) != 2 {
		t.Fatalf("persisted images = %v", got.Images)
	}
}

func TestMemoryOnly_QuotaDegradation(t *testing.T) {
	// No directory at all: everything works for the session.
	r := New("", Caps{})
	r.Register(domain.Product{ID: "p1", Name: "Desk Lamp"})
	if _, ok := r.Get("p1"); !ok {
		t.Fatalf("memory-only registry lost the record")
	}
	if !r.Delete("p1") {
		t.Fatalf("memory-only delete failed")
	}
}
