package model

import "time"

// User represents an account as stored in the `users` table.  The
// password hash never leaves the server: it is tagged out of JSON and
// handlers render users through this struct directly.
//
// Fields:
//  ID           – primary key identifier of the user.
//  Email        – unique, lower-cased email address.
//  PasswordHash – bcrypt hashed password.
//  Balance      – wallet balance; mutated only by the ledger.
//  IsAdmin      – grants access to the admin API.
//  IsBanned     – blocks purchases and top-ups.
//  CreatedAt    – timestamp of registration.
type User struct {
    ID           uint64    `json:"id"`        // users.id
    Email        string    `json:"email"`     // users.email
    PasswordHash string    `json:"-"`         // users.password_hash
    Balance      Cents     `json:"balance"`   // users.balance_cents
    IsAdmin      bool      `json:"isAdmin"`   // users.is_admin
    IsBanned     bool      `json:"isBanned"`  // users.is_banned
    CreatedAt    time.Time `json:"createdAt"` // users.created_at
}

// Session models a row in the `sessions` table.  Only the SHA-256 hash of
// the session id embedded in the cookie token is stored.
type Session struct {
    ID        uint64     // sessions.id
    UserID    uint64     // sessions.user_id
    TokenHash string     // sessions.token_hash
    ExpiresAt time.Time  // sessions.expires_at
    RevokedAt *time.Time // sessions.revoked_at (nullable)
    CreatedAt time.Time  // sessions.created_at
}
