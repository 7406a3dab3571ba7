// Package domain defines the catalog entities shared by every storage tier:
// the full Product record, its bounded Summary projection, and the SyncEvent
// envelope used by the change broadcast bus. It also owns the merge rules
// that keep the tiers eventually consistent.
package domain

import (
	"time"
)

// Review is a customer review nested inside a product. Review images are
// blob references, never raw bytes.
type Review struct {
	ID        string    `json:"id,omitempty"`
	Author    string    `json:"author,omitempty"`
	Rating    float64   `json:"rating,omitempty"`
	Title     string    `json:"title,omitempty"`
	Body      string    `json:"body,omitempty"`
	Images    []string  `json:"images,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Variant is one axis of a product option tree (e.g. "Colour" with its
// values). Values may carry their own nested variants.
type Variant struct {
	Name     string    `json:"name"`
	Values   []string  `json:"values,omitempty"`
	Children []Variant `json:"children,omitempty"`
}

// Product is the full catalog record. Images and review images hold blob
// references or plain URLs, never inline payloads; resolving a reference to
// something renderable is the blobstore's job.
//
// Bookkeeping rules:
//   - CreatedAt is set once and never changes.
//   - LastUpdated is bumped on every write; reconciliation between two
//     copies of the same ID keeps the one with the larger LastUpdated.
//   - Route must be unique among live records. The store preserves whatever
//     route it is given; collision avoidance happens before the record
//     reaches the store.
type Product struct {
	ID       string `json:"id"`
	GlobalID string `json:"global_id,omitempty"`

	Name          string   `json:"name"`
	Slug          string   `json:"slug,omitempty"`
	Route         string   `json:"route,omitempty"`
	Price         string   `json:"price,omitempty"`
	OriginalPrice string   `json:"original_price,omitempty"`
	Description   []string `json:"description,omitempty"`
	Features      []string `json:"features,omitempty"`
	Category      string   `json:"category,omitempty"`

	Images   []string          `json:"images,omitempty"`
	Reviews  []Review          `json:"reviews,omitempty"`
	Variants []Variant         `json:"variants,omitempty"`
	Details  map[string]string `json:"details,omitempty"`

	Rating      float64 `json:"rating,omitempty"`
	ReviewCount int     `json:"review_count,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
	PageViews   int64     `json:"page_views"`
	CreatedBy   string    `json:"created_by,omitempty"`
}

// Clone returns a deep copy of the product so callers can mutate the result
// without aliasing slices or the details map of the original.
func (p Product) Clone() Product {
	out := p
	out.Description = append([]string(nil), p.Description...)
	out.Features = append([]string(nil), p.Features...)
	out.Images = append([]string(nil), p.Images...)
	if p.Reviews != nil {
		out.Reviews = make([]Review, len(p.Reviews))
		for i, r := range p.Reviews {
			r.Images = append([]string(nil), r.Images...)
			out.Reviews[i] = r
		}
	}
	if p.Variants != nil {
		out.Variants = make([]Variant, len(p.Variants))
		for i, v := range p.Variants {
			out.Variants[i] = cloneVariant(v)
		}
	}
	if p.Details != nil {
		out.Details = make(map[string]string, len(p.Details))
		for k, v := range p.Details {
			out.Details[k] = v
		}
	}
	return out
}

func cloneVariant(v Variant) Variant {
	out := v
	out.Values = append([]string(nil), v.Values...)
	if v.Children != nil {
		out.Children = make([]Variant, len(v.Children))
		for i, c := range v.Children {
			out.Children[i] = cloneVariant(c)
		}
	}
	return out
}

// Summary is the bounded projection of a Product kept in the lightweight
// registry index. It carries the image count instead of the images so the
// index never grows with embedded payloads.
type Summary struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug,omitempty"`
	Route       string    `json:"route,omitempty"`
	Price       string    `json:"price,omitempty"`
	OrigPrice   string    `json:"original_price,omitempty"`
	ImageCount  int       `json:"image_count"`
	Category    string    `json:"category,omitempty"`
	Rating      float64   `json:"rating,omitempty"`
	ReviewCount int       `json:"review_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewSummary projects a product down to its Summary.
func NewSummary(p Product) Summary {
	return Summary{
		ID:          p.ID,
		Name:        p.Name,
		Slug:        p.Slug,
		Route:       p.Route,
		Price:       p.Price,
		OrigPrice:   p.OriginalPrice,
		ImageCount:  len(p.Images),
		Category:    p.Category,
		Rating:      p.Rating,
		ReviewCount: p.ReviewCount,
		CreatedAt:   p.CreatedAt,
	}
}
