package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/storefront-labs/go-catalog-sync/internal/blobstore"
	"github.com/storefront-labs/go-catalog-sync/internal/bus"
	"github.com/storefront-labs/go-catalog-sync/internal/domain"
	"github.com/storefront-labs/go-catalog-sync/internal/localstore"
	"github.com/storefront-labs/go-catalog-sync/internal/registry"
	"github.com/storefront-labs/go-catalog-sync/internal/remote"
)

// fakeRemote is an in-memory remote.Store for facade tests.
type fakeRemote struct {
	mu           sync.Mutex
	healthy      bool
	products     map[string]domain.Product
	syncCalls    int
	flushes      int
	getByIDCalls int
	deletes      []string
}

func newFakeRemote(healthy bool) *fakeRemote {
	return &fakeRemote{healthy: healthy, products: make(map[string]domain.Product)}
}

func (f *fakeRemote) Health(context.Context) (remote.Health, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.healthy {
		return remote.Health{}, remote.ErrUnreachable
	}
	return remote.Health{Status: "ok"}, nil
}

func (f *fakeRemote) Save(_ context.Context, p domain.Product) (domain.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.products[p.ID] = p
	return p, nil
}

func (f *fakeRemote) SaveStrict(ctx context.Context, p domain.Product) (domain.Product, error) {
	return f.Save(ctx, p)
}

func (f *fakeRemote) GetAll(context.Context) []domain.Product {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Product, 0, len(f.products))
	for _, p := range f.products {
		out = append(out, p)
	}
	return out
}

func (f *fakeRemote) GetByID(_ context.Context, id string) (domain.Product, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getByIDCalls++
	p, ok := f.products[id]
	return p, ok
}

func (f *fakeRemote) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.products, id)
	f.deletes = append(f.deletes, id)
	return nil
}

func (f *fakeRemote) UpdateViews(_ context.Context, id string) (int64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[id]
	if !ok {
		return 0, false
	}
	p.PageViews++
	f.products[id] = p
	return p.PageViews, true
}

func (f *fakeRemote) Search(ctx context.Context, query string) []domain.Product {
	return FilterProducts(f.GetAll(ctx), query)
}

func (f *fakeRemote) GetByCategory(ctx context.Context, category string) []domain.Product {
	var out []domain.Product
	for _, p := range f.GetAll(ctx) {
		if p.Category == category {
			out = append(out, p)
		}
	}
	return out
}

func (f *fakeRemote) Sync(_ context.Context, products []domain.Product) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncCalls++
	for _, p := range products {
		stored, ok := f.products[p.ID]
		if !ok || p.LastUpdated.After(stored.LastUpdated) {
			f.products[p.ID] = p
		}
	}
	return len(f.products), nil
}

func (f *fakeRemote) Flush(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
}

func (f *fakeRemote) Pending() int { return 0 }
func (f *fakeRemote) Close()       {}

func testDeps(t *testing.T) Deps {
	t.Helper()
	dir := t.TempDir()
	b := bus.New(bus.Options{Identity: "test-origin", PollInterval: time.Hour})
	t.Cleanup(b.Close)
	return Deps{
		Local:    localstore.New(nil, localstore.Options{DataDir: dir, JarLimit: 5}),
		Registry: registry.New(dir, registry.Caps{}),
		Blobs:    blobstore.New(t.TempDir()),
		Bus:      b,
	}
}

func TestModeSelection(t *testing.T) {
	ctx := context.Background()

	d := testDeps(t)
	if got := New(ctx, d).Mode(); got != ModeLocal {
		t.Fatalf("no remotes: mode = %q", got)
	}

	d = testDeps(t)
	d.Hosted = newFakeRemote(true)
	d.FileServer = newFakeRemote(true)
	if got := New(ctx, d).Mode(); got != ModeHosted {
		t.Fatalf("hosted reachable: mode = %q", got)
	}

	d = testDeps(t)
	d.Hosted = newFakeRemote(false)
	d.FileServer = newFakeRemote(true)
	if got := New(ctx, d).Mode(); got != ModeHybrid {
		t.Fatalf("hosted down, file server up: mode = %q", got)
	}

	d = testDeps(t)
	d.Hosted = newFakeRemote(false)
	d.FileServer = newFakeRemote(false)
	if got := New(ctx, d).Mode(); got != ModeLocal {
		t.Fatalf("all remotes down: mode = %q", got)
	}
}

func TestSwitchMode(t *testing.T) {
	ctx := context.Background()
	hosted := newFakeRemote(false)
	d := testDeps(t)
	d.Hosted = hosted

	c := New(ctx, d)
	if c.Mode() != ModeLocal {
		t.Fatalf("mode = %q", c.Mode())
	}

	hosted.mu.Lock()
	hosted.healthy = true
	hosted.mu.Unlock()
	if got := c.SwitchMode(ctx); got != ModeHosted {
		t.Fatalf("after recovery: mode = %q", got)
	}
}

func TestSaveProduct(t *testing.T) {
	ctx := context.Background()
	rt := newFakeRemote(true)
	d := testDeps(t)
	d.Hosted = rt
	c := New(ctx, d)

	if _, err := c.SaveProduct(ctx, domain.Product{Name: "   "}); !errors.Is(err, ErrInvalidProduct) {
		t.Fatalf("blank name error = %v", err)
	}

	saved, err := c.SaveProduct(ctx, domain.Product{Name: "Wireless Camera"})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.ID == "" || saved.Slug != "wireless-camera" || saved.Route != "/product/wireless-camera" {
		t.Fatalf("identity not derived: %+v", saved)
	}

	// Mirrored to the remote tier and visible locally.
	if _, ok := rt.GetByID(ctx, saved.ID); !ok {
		t.Fatal("record not mirrored to remote tier")
	}
	got, err := c.GetProductByID(ctx, saved.ID)
	if err != nil || got.Name != "Wireless Camera" {
		t.Fatalf("local read-back: %v %+v", err, got)
	}
}

func TestSaveProduct_ConvertsEmbeddedImages(t *testing.T) {
	ctx := context.Background()
	c := New(ctx, testDeps(t))

	const tinyPNG = "data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR4nGNgYGBgAAAABQABXvMqOgAAAABJRU5ErkJggg=="
	saved, err := c.SaveProduct(ctx, domain.Product{Name: "Poster", Images: []string{tinyPNG}})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if len(saved.Images) != 1 || saved.Images[0] == tinyPNG {
		t.Fatalf("embedded payload not converted: %v", saved.Images)
	}
}

func TestGetAllProducts_RemotePreferredWithBackfill(t *testing.T) {
	ctx := context.Background()
	rt := newFakeRemote(true)
	rt.products["r1"] = domain.Product{ID: "r1", Name: "Remote Only", LastUpdated: time.Now().UTC()}

	d := testDeps(t)
	d.FileServer = rt
	c := New(ctx, d)

	all := c.GetAllProducts(ctx)
	if len(all) != 1 || all[0].ID != "r1" {
		t.Fatalf("remote set not preferred: %+v", all)
	}
	// Back-filled into the local tier.
	if _, ok := d.Local.GetByID(ctx, "r1"); !ok {
		t.Fatal("remote record not back-filled locally")
	}
}

func TestGetAllProducts_FallsBackToLocal(t *testing.T) {
	ctx := context.Background()
	d := testDeps(t)
	c := New(ctx, d)

	if _, err := c.SaveProduct(ctx, domain.Product{Name: "Local Lamp"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	all := c.GetAllProducts(ctx)
	if len(all) != 1 || all[0].Name != "Local Lamp" {
		t.Fatalf("local fallback: %+v", all)
	}
}

func TestGetProductByID_RemoteFallbackCaches(t *testing.T) {
	ctx := context.Background()
	rt := newFakeRemote(true)
	rt.products["r1"] = domain.Product{ID: "r1", Name: "Remote Only"}

	d := testDeps(t)
	d.Hosted = rt
	c := New(ctx, d)

	p, err := c.GetProductByID(ctx, "r1")
	if err != nil || p.Name != "Remote Only" {
		t.Fatalf("remote fallback: %v %+v", err, p)
	}
	if _, ok := d.Local.GetByID(ctx, "r1"); !ok {
		t.Fatal("remote hit not cached locally")
	}

	if _, err := c.GetProductByID(ctx, "ghost"); !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("missing id error = %v", err)
	}
}

func TestDeleteProduct_RemovesEveryTier(t *testing.T) {
	ctx := context.Background()
	rt := newFakeRemote(true)
	d := testDeps(t)
	d.Hosted = rt
	c := New(ctx, d)

	saved, err := c.SaveProduct(ctx, domain.Product{Name: "Doomed"})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if !c.DeleteProduct(ctx, saved.ID) {
		t.Fatal("delete reported failure")
	}
	if _, ok := d.Local.GetByID(ctx, saved.ID); ok {
		t.Fatal("still present locally")
	}
	if _, ok := rt.GetByID(ctx, saved.ID); ok {
		t.Fatal("still present remotely")
	}
	// Absent record: the outcome is still "it is gone".
	if !c.DeleteProduct(ctx, "ghost") {
		t.Fatal("absent delete reported failure")
	}
}

func TestUpdateProductViews(t *testing.T) {
	ctx := context.Background()
	rt := newFakeRemote(true)
	d := testDeps(t)
	d.Hosted = rt
	c := New(ctx, d)

	saved, err := c.SaveProduct(ctx, domain.Product{Name: "Popular"})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	if views := c.UpdateProductViews(ctx, saved.ID); views != 1 {
		t.Fatalf("views = %d", views)
	}
	// The remote count is pulled back into the local copy.
	local, _ := d.Local.GetByID(ctx, saved.ID)
	if local.PageViews != 1 {
		t.Fatalf("local copy not synced, pageViews = %d", local.PageViews)
	}

	if views := c.UpdateProductViews(ctx, "ghost"); views != 0 {
		t.Fatalf("missing id views = %d", views)
	}
}

func TestSearchProducts(t *testing.T) {
	ctx := context.Background()
	d := testDeps(t)
	c := New(ctx, d)

	for _, name := range []string{"Wireless Camera", "Desk Lamp"} {
		if _, err := c.SaveProduct(ctx, domain.Product{Name: name}); err != nil {
			t.Fatalf("seed %q: %v", name, err)
		}
	}
	hits := c.SearchProducts(ctx, "camera")
	if len(hits) != 1 || hits[0].Name != "Wireless Camera" {
		t.Fatalf("hits = %+v", hits)
	}
	if hits := c.SearchProducts(ctx, "  "); hits != nil {
		t.Fatalf("blank query hits = %+v", hits)
	}
}

func TestForceSync_ConvergesTiers(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rt := newFakeRemote(true)
	rt.products["shared"] = domain.Product{ID: "shared", Name: "Remote Edit", CreatedAt: base, LastUpdated: base.Add(time.Hour)}
	rt.products["remote-only"] = domain.Product{ID: "remote-only", Name: "Remote Only", CreatedAt: base, LastUpdated: base}

	d := testDeps(t)
	d.Hosted = rt
	c := New(ctx, d)

	if _, err := d.Local.Save(ctx, domain.Product{ID: "shared", Name: "Local Edit", CreatedAt: base, LastUpdated: base}); err != nil {
		t.Fatalf("seed local: %v", err)
	}
	if _, err := d.Local.Save(ctx, domain.Product{ID: "local-only", Name: "Local Only", CreatedAt: base, LastUpdated: base}); err != nil {
		t.Fatalf("seed local: %v", err)
	}

	c.ForceSync(ctx)

	// Later write wins; both tiers hold the merged superset.
	shared, ok := d.Local.GetByID(ctx, "shared")
	if !ok || shared.Name != "Remote Edit" {
		t.Fatalf("local shared after merge: %+v", shared)
	}
	if _, ok := d.Local.GetByID(ctx, "remote-only"); !ok {
		t.Fatal("remote-only record missing locally")
	}
	if _, ok := rt.GetByID(ctx, "local-only"); !ok {
		t.Fatal("local-only record missing remotely")
	}
	rt.mu.Lock()
	syncCalls, flushes := rt.syncCalls, rt.flushes
	rt.mu.Unlock()
	if syncCalls == 0 || flushes == 0 {
		t.Fatalf("remote sync/flush not driven: %d/%d", syncCalls, flushes)
	}
}

// stubTransport hands queued events to the bus on the next poll, standing in
// for another context's published changes.
type stubTransport struct {
	mu     sync.Mutex
	queued []domain.SyncEvent
}

func (s *stubTransport) Name() string { return "stub" }

func (s *stubTransport) Publish(context.Context, domain.SyncEvent) error { return nil }

func (s *stubTransport) Poll(context.Context, string, time.Time) ([]domain.SyncEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.queued
	s.queued = nil
	return out, nil
}

func (s *stubTransport) push(e domain.SyncEvent) {
	s.mu.Lock()
	s.queued = append(s.queued, e)
	s.mu.Unlock()
}

func TestForeignEventsUpdateLocalTiers(t *testing.T) {
	ctx := context.Background()
	rt := newFakeRemote(true)
	tr := &stubTransport{}
	dir := t.TempDir()
	b := bus.New(bus.Options{Identity: "test-origin", PollInterval: time.Hour, Transports: []bus.Transport{tr}})
	t.Cleanup(b.Close)

	d := Deps{
		Local:    localstore.New(nil, localstore.Options{DataDir: dir, JarLimit: 5}),
		Registry: registry.New(dir, registry.Caps{}),
		Blobs:    blobstore.New(t.TempDir()),
		Bus:      b,
		Hosted:   rt,
	}
	c := New(ctx, d)
	c.Start()
	defer c.Close()

	// A record appears remotely and another context announces it.
	rt.products["f1"] = domain.Product{ID: "f1", Name: "Foreign", LastUpdated: time.Now().UTC()}
	tr.push(domain.SyncEvent{Type: domain.EventAdded, ProductID: "f1", OriginID: "elsewhere", Timestamp: time.Now().UTC()})
	b.PollNow(ctx)
	if _, ok := d.Local.GetByID(ctx, "f1"); !ok {
		t.Fatal("foreign add not absorbed")
	}

	tr.push(domain.SyncEvent{Type: domain.EventDeleted, ProductID: "f1", OriginID: "elsewhere", Timestamp: time.Now().UTC()})
	b.PollNow(ctx)
	if _, ok := d.Local.GetByID(ctx, "f1"); ok {
		t.Fatal("foreign delete not applied")
	}
}

func TestOwnBroadcastsAreNotReAbsorbed(t *testing.T) {
	ctx := context.Background()
	rt := newFakeRemote(true)
	d := testDeps(t)
	d.Hosted = rt
	c := New(ctx, d)
	c.Start()
	defer c.Close()

	if _, err := c.SaveProduct(ctx, domain.Product{Name: "Fresh"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	// The save broadcasts its own event; the facade must not loop it back
	// into a remote read plus a second local write.
	rt.mu.Lock()
	reads := rt.getByIDCalls
	rt.mu.Unlock()
	if reads != 0 {
		t.Fatalf("own save event re-read from the remote tier %d times", reads)
	}
}

func TestFilterProducts(t *testing.T) {
	all := []domain.Product{
		{ID: "p1", Name: "Trail Boots", Description: []string{"Waterproof leather"}},
		{ID: "p2", Name: "Desk Lamp", Features: []string{"Dimmable LED"}, Category: "lighting"},
	}
	cases := []struct {
		query string
		want  []string
	}{
		{"boots", []string{"p1"}},
		{"WATERPROOF", []string{"p1"}},
		{"led", []string{"p2"}},
		{"lighting", []string{"p2"}},
		{"zzz", nil},
		{"", nil},
	}
	for _, tc := range cases {
		hits := FilterProducts(all, tc.query)
		if len(hits) != len(tc.want) {
			t.Fatalf("query %q: got %d hits, want %d", tc.query, len(hits), len(tc.want))
		}
		for i, id := range tc.want {
			if hits[i].ID != id {
				t.Fatalf("query %q: hit %d = %q, want %q", tc.query, i, hits[i].ID, id)
			}
		}
	}
}
