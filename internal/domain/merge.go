package domain

import (
	"sort"
	"time"
)

// MergeProducts resolves two copies of the same product by recency: the copy
// with the strictly greater LastUpdated wins. On an exact tie the first
// argument (conventionally the local copy) wins, which keeps the operation
// deterministic regardless of evaluation order.
func MergeProducts(local, remote Product) Product {
	if remote.LastUpdated.After(local.LastUpdated) {
		return remote
	}
	return local
}

// MergeSets merges two record sets keyed by ID using last-write-wins. A
// record present on only one side is kept as-is. The result is sorted by
// CreatedAt descending (unknown CreatedAt sorts last) so callers get a
// stable, presentation-ready order.
//
// MergeSets is idempotent: MergeSets(MergeSets(a, b), b) == MergeSets(a, b).
func MergeSets(local, remote []Product) []Product {
	byID := make(map[string]Product, len(local)+len(remote))
	order := make([]string, 0, len(local)+len(remote))
	for _, p := range local {
		if _, seen := byID[p.ID]; !seen {
			order = append(order, p.ID)
		}
		byID[p.ID] = p
	}
	for _, p := range remote {
		if existing, seen := byID[p.ID]; seen {
			byID[p.ID] = MergeProducts(existing, p)
		} else {
			order = append(order, p.ID)
			byID[p.ID] = p
		}
	}

	out := make([]Product, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	SortByCreatedDesc(out)
	return out
}

// SortByCreatedDesc orders products newest-first by CreatedAt. Zero (unknown)
// CreatedAt values sort after known ones; the sort is stable otherwise.
func SortByCreatedDesc(ps []Product) {
	sort.SliceStable(ps, func(i, j int) bool {
		a, b := ps[i].CreatedAt, ps[j].CreatedAt
		switch {
		case a.IsZero() && b.IsZero():
			return false
		case a.IsZero():
			return false
		case b.IsZero():
			return true
		default:
			return a.After(b)
		}
	})
}

// ApplyPatch merges a partial product into dst using explicit per-field
// rules instead of a generic object spread:
//
//   - scalar fields replace when the patch value is non-zero,
//   - Details is a union-preserving merge (patch keys win on conflict),
//   - slice fields replace wholesale when present in the patch, never
//     element-by-element,
//   - identity and CreatedAt are never patched.
//
// The returned record has LastUpdated stamped to now.
func ApplyPatch(dst Product, patch Product, now time.Time) Product {
	out := dst.Clone()

	if patch.Name != "" {
		out.Name = patch.Name
	}
	if patch.Slug != "" {
		out.Slug = patch.Slug
	}
	if patch.Route != "" {
		out.Route = patch.Route
	}
	if patch.Price != "" {
		out.Price = patch.Price
	}
	if patch.OriginalPrice != "" {
		out.OriginalPrice = patch.OriginalPrice
	}
	if patch.Category != "" {
		out.Category = patch.Category
	}
	if patch.CreatedBy != "" {
		out.CreatedBy = patch.CreatedBy
	}
	if patch.Rating != 0 {
		out.Rating = patch.Rating
	}
	if patch.ReviewCount != 0 {
		out.ReviewCount = patch.ReviewCount
	}
	if patch.PageViews != 0 {
		out.PageViews = patch.PageViews
	}

	if patch.Description != nil {
		out.Description = append([]string(nil), patch.Description...)
	}
	if patch.Features != nil {
		out.Features = append([]string(nil), patch.Features...)
	}
	if patch.Images != nil {
		out.Images = append([]string(nil), patch.Images...)
	}
	if patch.Reviews != nil {
		out.Reviews = append([]Review(nil), patch.Reviews...)
	}
	if patch.Variants != nil {
		out.Variants = append([]Variant(nil), patch.Variants...)
	}

	if patch.Details != nil {
		if out.Details == nil {
			out.Details = make(map[string]string, len(patch.Details))
		}
		for k, v := range patch.Details {
			out.Details[k] = v
		}
	}

	out.LastUpdated = now
	return out
}
