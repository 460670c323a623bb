package model

import "time"

// Purchase records a single unit bought by a user.  Product name and price
// are snapshots taken at purchase time so later product edits or deletion do
// not alter the history.  Rows are write-once.
type Purchase struct {
    ID           uint64    `json:"id"`           // purchases.id
    UserID       uint64    `json:"userId"`       // purchases.user_id
    ProductID    uint64    `json:"productId"`    // purchases.product_id
    ProductName  string    `json:"productName"`  // purchases.product_name
    Price        Cents     `json:"price"`        // purchases.price_cents
    StockData    string    `json:"stockData"`    // purchases.stock_data
    PurchaseDate time.Time `json:"purchaseDate"` // purchases.purchase_date
}
