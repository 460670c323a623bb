package model

import (
    "errors"
    "math"
    "strconv"
)

// Cents is an amount of money in the smallest currency unit.  Balances and
// prices are stored as integer cents so that arithmetic in the ledger and in
// SQL stays exact; JSON renders them as a decimal number (7.50).
type Cents int64

// ErrInvalidAmount is returned by CentsFromAmount for amounts that cannot be
// credited: negative, zero after rounding, NaN or infinite.
var ErrInvalidAmount = errors.New("amount must be a positive finite number")

// CentsFromAmount converts a decimal amount such as 7.5 into cents.
func CentsFromAmount(amount float64) (Cents, error) {
    if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
        return 0, ErrInvalidAmount
    }
    c := math.Round(amount * 100)
    if c < 1 || c > math.MaxInt64/2 {
        return 0, ErrInvalidAmount
    }
    return Cents(c), nil
}

// Float returns the amount in whole currency units.
func (c Cents) Float() float64 { return float64(c) / 100 }

// String formats the amount with two fraction digits.
func (c Cents) String() string {
    neg := c < 0
    if neg {
        c = -c
    }
    s := strconv.FormatInt(int64(c/100), 10) + "." + pad2(int64(c%100))
    if neg {
        return "-" + s
    }
    return s
}

func pad2(n int64) string {
    if n < 10 {
        return "0" + strconv.FormatInt(n, 10)
    }
    return strconv.FormatInt(n, 10)
}

// MarshalJSON writes the amount as a plain JSON number, e.g. 27.50.
func (c Cents) MarshalJSON() ([]byte, error) { return []byte(c.String()), nil }

// UnmarshalJSON accepts a JSON number in currency units.
func (c *Cents) UnmarshalJSON(b []byte) error {
    f, err := strconv.ParseFloat(string(b), 64)
    if err != nil {
        return err
    }
    *c = Cents(math.Round(f * 100))
    return nil
}
