package localstore

import (
	"encoding/json"
	"time"

	"github.com/storefront-labs/go-catalog-sync/internal/domain"
)

// productRow is the SQLite representation of a product: the full record as
// an opaque JSON document plus a few promoted columns for indexed lookup.
// GlobalID is the primary key so records never collide across
// re-registration of the same caller-assigned ID.
type productRow struct {
	GlobalID    string    `gorm:"column:global_id;type:char(36);primaryKey"`
	ID          string    `gorm:"column:product_id;type:varchar(64);not null;uniqueIndex:ux_products_id"`
	Name        string    `gorm:"column:name;type:varchar(255);not null"`
	Category    string    `gorm:"column:category;type:varchar(128);index"`
	Route       string    `gorm:"column:route;type:varchar(255)"`
	Doc         string    `gorm:"column:doc;type:text;not null"`
	CreatedAt   time.Time `gorm:"column:created_at"`
	LastUpdated time.Time `gorm:"column:last_updated;index"`
}

// TableName returns the database table name for productRow.
func (productRow) TableName() string { return "products" }

func rowFromProduct(p domain.Product) (productRow, error) {
	doc, err := json.Marshal(p)
	if err != nil {
		return productRow{}, err
	}
	return productRow{
		GlobalID:    p.GlobalID,
		ID:          p.ID,
		Name:        p.Name,
		Category:    p.Category,
		Route:       p.Route,
		Doc:         string(doc),
		CreatedAt:   p.CreatedAt,
		LastUpdated: p.LastUpdated,
	}, nil
}

func (r productRow) product() (domain.Product, error) {
	var p domain.Product
	if err := json.Unmarshal([]byte(r.Doc), &p); err != nil {
		return domain.Product{}, err
	}
	return p, nil
}
