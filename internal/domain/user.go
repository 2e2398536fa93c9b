package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// User is an account keyed by its Solana wallet public key. Users are created
// implicitly the first time an unseen wallet identity shows up on a request
// and are never deleted.
type User struct {
	ID        string          `json:"id"` // wallet public key
	Balance   decimal.Decimal `json:"balance"`
	IsAdmin   bool            `json:"isAdmin"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}
