package models

import (
	"time"
)

// Reward transaction types
const (
	TxTypePurchase         = "purchase"
	TxTypeStreamReward     = "stream_reward"
	TxTypeTip              = "tip"
	TxTypeMembership       = "membership"
	TxTypeMembershipRefund = "membership_refund"
	TxTypeClaim            = "claim"
)

// Subscription statuses
const (
	SubscriptionActive    = "active"
	SubscriptionCancelled = "cancelled"
	SubscriptionExpired   = "expired"
)

// RewardTransaction is one row of the platform reward ledger, derived from a
// single decoded program event
type RewardTransaction struct {
	ID             string    `json:"id" db:"id"`
	Signature      string    `json:"signature" db:"signature"`
	Slot           uint64    `json:"slot" db:"slot"`
	LogIndex       uint      `json:"log_index" db:"log_index"`
	EventName      string    `json:"event_name" db:"event_name"`
	TxType         string    `json:"tx_type" db:"tx_type"`
	SourceWallet   string    `json:"source_wallet" db:"source_wallet"`
	DestWallet     string    `json:"dest_wallet" db:"dest_wallet"`
	Asset          *string   `json:"asset,omitempty" db:"asset"`
	AmountLamports uint64    `json:"amount_lamports" db:"amount_lamports"`
	FeeLamports    uint64    `json:"fee_lamports" db:"fee_lamports"`
	Points         uint64    `json:"points" db:"points"`
	Rarity         *string   `json:"rarity,omitempty" db:"rarity"`
	Memo           *string   `json:"memo,omitempty" db:"memo"`
	BlockTime      time.Time `json:"block_time" db:"block_time"`
	Mirrored       bool      `json:"mirrored" db:"mirrored"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// RewardFilter for querying the reward ledger
type RewardFilter struct {
	Wallet    *string    `json:"wallet,omitempty"`
	TxType    *string    `json:"tx_type,omitempty"`
	Asset     *string    `json:"asset,omitempty"`
	Signature *string    `json:"signature,omitempty"`
	MinAmount *uint64    `json:"min_amount,omitempty"`
	FromTime  *time.Time `json:"from_time,omitempty"`
	ToTime    *time.Time `json:"to_time,omitempty"`
	Limit     int        `json:"limit,omitempty"`
	Offset    int        `json:"offset,omitempty"`
}

// RewardSummary aggregates ledger activity for one wallet over a window
type RewardSummary struct {
	Wallet        string            `json:"wallet"`
	WindowStart   time.Time         `json:"window_start"`
	WindowEnd     time.Time         `json:"window_end"`
	TxCount       int64             `json:"tx_count"`
	TotalLamports uint64            `json:"total_lamports"`
	TotalFees     uint64            `json:"total_fees"`
	TotalPoints   uint64            `json:"total_points"`
	ByType        map[string]uint64 `json:"by_type"`
}

// Subscription is one membership row per (subscriber, creator) pair
type Subscription struct {
	ID            string    `json:"id" db:"id"`
	Subscriber    string    `json:"subscriber" db:"subscriber"`
	Creator       string    `json:"creator" db:"creator"`
	Tier          uint8     `json:"tier" db:"tier"`
	Status        string    `json:"status" db:"status"`
	AutoRenew     bool      `json:"auto_renew" db:"auto_renew"`
	StartedAt     time.Time `json:"started_at" db:"started_at"`
	ExpiresAt     time.Time `json:"expires_at" db:"expires_at"`
	LastSignature string    `json:"last_signature" db:"last_signature"`
	LastAmount    uint64    `json:"last_amount" db:"last_amount"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// SubscriptionFilter for querying subscriptions
type SubscriptionFilter struct {
	Subscriber     *string    `json:"subscriber,omitempty"`
	Creator        *string    `json:"creator,omitempty"`
	Status         *string    `json:"status,omitempty"`
	ExpiringBefore *time.Time `json:"expiring_before,omitempty"`
	Limit          int        `json:"limit,omitempty"`
	Offset         int        `json:"offset,omitempty"`
}

// ActiveAt reports whether the subscription grants access at t. Cancelled
// subscriptions keep access until the paid period ends.
func (s *Subscription) ActiveAt(t time.Time) bool {
	if s.Status == SubscriptionExpired {
		return false
	}
	return t.Before(s.ExpiresAt)
}
