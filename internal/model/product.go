package model

import "time"

// Product is a digital good sold from a finite list of stock items.  Each
// stock item is an opaque string (a licence key, an account credential)
// handed to exactly one buyer.  Stock is never serialised to clients; the
// public representation only carries the number of available units.
type Product struct {
    ID          uint64    `json:"id"`                    // products.id
    Name        string    `json:"name"`                  // products.name
    Description *string   `json:"description,omitempty"` // products.description (nullable)
    Price       Cents     `json:"price"`                 // products.price_cents
    Image       *string   `json:"image,omitempty"`       // products.image (nullable)
    Category    string    `json:"category"`              // products.category
    Stock       []string  `json:"-"`                     // product_stock.payload ordered by id
    StockCount  int       `json:"stock"`                 // number of available units
    CreatedAt   time.Time `json:"createdAt"`             // products.created_at
}

// ProductUpdate carries a partial update of a product.  Nil fields are left
// untouched.  When Stock is non-nil the whole stock list is replaced.
type ProductUpdate struct {
    Name        *string
    Description *string
    Price       *Cents
    Image       *string
    Category    *string
    Stock       *[]string
}
