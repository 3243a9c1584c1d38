// File: internal/ledger/ledger.go
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/handcraft-labs/handcraft-event-listener/internal/anchor"
	"github.com/handcraft-labs/handcraft-event-listener/internal/config"
	"github.com/handcraft-labs/handcraft-event-listener/internal/models"
	"github.com/handcraft-labs/handcraft-event-listener/internal/storage"
	"github.com/handcraft-labs/handcraft-event-listener/pkg/utils"
)

// Rarity tiers of purchased assets, by on-chain tier byte
var rarityNames = [...]string{"common", "uncommon", "rare", "epic", "legendary"}

// Reward point multipliers per rarity tier
var rarityWeights = [...]uint64{1, 2, 4, 8, 16}

// Claim kinds by on-chain kind byte
var claimKinds = [...]string{"stream", "referral", "points"}

// ApplyResult reports the ledger rows touched by one event
type ApplyResult struct {
	Reward       *models.RewardTransaction `json:"reward,omitempty"`
	RewardNew    bool                      `json:"reward_new"`
	Subscription *models.Subscription      `json:"subscription,omitempty"`
}

// Ledger maps decoded program events onto the reward and subscription tables.
// One event maps to at most one reward row (idempotent by event ID) and at
// most one subscription upsert.
type Ledger struct {
	config  *config.LedgerConfig
	storage storage.Storage
	logger  *logrus.Logger

	// Serializes subscription read-modify-write so concurrent renewals for
	// the same pair cannot interleave
	subMu sync.Mutex
}

// NewLedger creates a ledger bound to a storage backend
func NewLedger(cfg *config.LedgerConfig, store storage.Storage) *Ledger {
	return &Ledger{
		config:  cfg,
		storage: store,
		logger:  utils.GetLogger(),
	}
}

// Apply maps one decoded event onto its ledger rows
func (l *Ledger) Apply(ctx context.Context, event *models.ProgramEvent) (*ApplyResult, error) {
	switch event.EventName {
	case anchor.EventAssetPurchased:
		return l.applyPurchase(ctx, event)
	case anchor.EventStreamRewardVested:
		return l.applyStreamReward(ctx, event)
	case anchor.EventTipSent:
		return l.applyTip(ctx, event)
	case anchor.EventMembershipStarted:
		return l.applyMembershipStarted(ctx, event)
	case anchor.EventMembershipRenewed:
		return l.applyMembershipRenewed(ctx, event)
	case anchor.EventMembershipCancelled:
		return l.applyMembershipCancelled(ctx, event)
	case anchor.EventRewardsClaimed:
		return l.applyClaim(ctx, event)
	default:
		return nil, utils.NewAppError(utils.ErrCodeProcessing, "no ledger mapping for event", event.EventName)
	}
}

func (l *Ledger) applyPurchase(ctx context.Context, event *models.ProgramEvent) (*ApplyResult, error) {
	asset, err := pubkeyField(event.Data, "asset")
	if err != nil {
		return nil, err
	}
	buyer, err := pubkeyField(event.Data, "buyer")
	if err != nil {
		return nil, err
	}
	creator, err := pubkeyField(event.Data, "creator")
	if err != nil {
		return nil, err
	}
	price, err := uintField(event.Data, "price")
	if err != nil {
		return nil, err
	}
	rarity, err := uintField(event.Data, "rarity")
	if err != nil {
		return nil, err
	}

	rarityName, weight := rarityTier(rarity)
	tx := l.newRewardTx(event, models.TxTypePurchase, buyer, creator)
	tx.Asset = &asset
	tx.AmountLamports = price
	tx.FeeLamports = price * l.config.PlatformFeeBps / 10000
	tx.Points = price / l.config.PointsDivisor * weight
	tx.Rarity = &rarityName

	return l.insertReward(ctx, tx)
}

func (l *Ledger) applyStreamReward(ctx context.Context, event *models.ProgramEvent) (*ApplyResult, error) {
	viewer, err := pubkeyField(event.Data, "viewer")
	if err != nil {
		return nil, err
	}
	creator, err := pubkeyField(event.Data, "creator")
	if err != nil {
		return nil, err
	}
	asset, err := pubkeyField(event.Data, "asset")
	if err != nil {
		return nil, err
	}
	rate, err := uintField(event.Data, "rate")
	if err != nil {
		return nil, err
	}
	watched, err := uintField(event.Data, "watched_seconds")
	if err != nil {
		return nil, err
	}
	duration, err := uintField(event.Data, "duration_seconds")
	if err != nil {
		return nil, err
	}

	vested := vestedAmount(rate, watched, duration)
	if vested == 0 {
		l.logger.WithFields(logrus.Fields{
			"event_id": event.ID,
			"viewer":   viewer,
		}).Debug("Stream reward vested nothing, no ledger row")
		return &ApplyResult{}, nil
	}

	tx := l.newRewardTx(event, models.TxTypeStreamReward, creator, viewer)
	tx.Asset = &asset
	tx.AmountLamports = vested
	tx.Points = vested / l.config.PointsDivisor

	return l.insertReward(ctx, tx)
}

func (l *Ledger) applyTip(ctx context.Context, event *models.ProgramEvent) (*ApplyResult, error) {
	sender, err := pubkeyField(event.Data, "sender")
	if err != nil {
		return nil, err
	}
	recipient, err := pubkeyField(event.Data, "recipient")
	if err != nil {
		return nil, err
	}
	asset, err := optionalPubkeyField(event.Data, "asset")
	if err != nil {
		return nil, err
	}
	amount, err := uintField(event.Data, "amount")
	if err != nil {
		return nil, err
	}
	memo, err := stringField(event.Data, "memo")
	if err != nil {
		return nil, err
	}

	tx := l.newRewardTx(event, models.TxTypeTip, sender, recipient)
	tx.Asset = asset
	tx.AmountLamports = amount
	if memo != "" {
		tx.Memo = &memo
	}

	return l.insertReward(ctx, tx)
}

func (l *Ledger) applyMembershipStarted(ctx context.Context, event *models.ProgramEvent) (*ApplyResult, error) {
	subscriber, err := pubkeyField(event.Data, "subscriber")
	if err != nil {
		return nil, err
	}
	creator, err := pubkeyField(event.Data, "creator")
	if err != nil {
		return nil, err
	}
	tier, err := uintField(event.Data, "tier")
	if err != nil {
		return nil, err
	}
	amount, err := uintField(event.Data, "amount")
	if err != nil {
		return nil, err
	}
	periodDays, err := uintField(event.Data, "period_days")
	if err != nil {
		return nil, err
	}
	autoRenew, err := boolField(event.Data, "auto_renew")
	if err != nil {
		return nil, err
	}

	tx := l.newRewardTx(event, models.TxTypeMembership, subscriber, creator)
	tx.AmountLamports = amount
	tx.FeeLamports = amount * l.config.PlatformFeeBps / 10000

	result, err := l.insertReward(ctx, tx)
	if err != nil {
		return nil, err
	}

	l.subMu.Lock()
	defer l.subMu.Unlock()

	existing, err := l.storage.GetSubscription(ctx, subscriber, creator)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	sub := existing
	if sub == nil {
		sub = &models.Subscription{
			ID:         SubscriptionID(subscriber, creator),
			Subscriber: subscriber,
			Creator:    creator,
			CreatedAt:  now,
		}
	}
	sub.Tier = uint8(tier)
	sub.Status = models.SubscriptionActive
	sub.AutoRenew = autoRenew
	sub.StartedAt = event.BlockTime
	sub.ExpiresAt = event.BlockTime.Add(periodDuration(periodDays))
	sub.LastSignature = event.Signature
	sub.LastAmount = amount
	sub.UpdatedAt = now

	if err := l.storage.UpsertSubscription(ctx, sub); err != nil {
		return nil, err
	}
	result.Subscription = sub
	return result, nil
}

func (l *Ledger) applyMembershipRenewed(ctx context.Context, event *models.ProgramEvent) (*ApplyResult, error) {
	subscriber, err := pubkeyField(event.Data, "subscriber")
	if err != nil {
		return nil, err
	}
	creator, err := pubkeyField(event.Data, "creator")
	if err != nil {
		return nil, err
	}
	tier, err := uintField(event.Data, "tier")
	if err != nil {
		return nil, err
	}
	amount, err := uintField(event.Data, "amount")
	if err != nil {
		return nil, err
	}
	periodDays, err := uintField(event.Data, "period_days")
	if err != nil {
		return nil, err
	}

	tx := l.newRewardTx(event, models.TxTypeMembership, subscriber, creator)
	tx.AmountLamports = amount
	tx.FeeLamports = amount * l.config.PlatformFeeBps / 10000

	result, err := l.insertReward(ctx, tx)
	if err != nil {
		return nil, err
	}

	l.subMu.Lock()
	defer l.subMu.Unlock()

	existing, err := l.storage.GetSubscription(ctx, subscriber, creator)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	paidAt := event.BlockTime
	period := periodDuration(periodDays)

	sub := existing
	if sub == nil {
		// Renewal arrived before (or without) the start event. Treat it as a
		// fresh period so the subscriber is not locked out.
		l.logger.WithFields(logrus.Fields{
			"subscriber": subscriber,
			"creator":    creator,
		}).Warn("Renewal for unknown subscription, starting fresh period")
		sub = &models.Subscription{
			ID:         SubscriptionID(subscriber, creator),
			Subscriber: subscriber,
			Creator:    creator,
			AutoRenew:  true,
			StartedAt:  paidAt,
			CreatedAt:  now,
		}
		sub.ExpiresAt = paidAt.Add(period)
	} else if paidAt.Before(sub.ExpiresAt.Add(l.config.RenewalGrace)) {
		// Continuous billing: the new period extends the current one
		base := sub.ExpiresAt
		if paidAt.After(base) {
			base = paidAt
		}
		sub.ExpiresAt = base.Add(period)
	} else {
		// Lapsed beyond grace: a fresh billing period starts at payment time
		sub.StartedAt = paidAt
		sub.ExpiresAt = paidAt.Add(period)
	}

	sub.Tier = uint8(tier)
	sub.Status = models.SubscriptionActive
	sub.LastSignature = event.Signature
	sub.LastAmount = amount
	sub.UpdatedAt = now

	if err := l.storage.UpsertSubscription(ctx, sub); err != nil {
		return nil, err
	}
	result.Subscription = sub
	return result, nil
}

func (l *Ledger) applyMembershipCancelled(ctx context.Context, event *models.ProgramEvent) (*ApplyResult, error) {
	subscriber, err := pubkeyField(event.Data, "subscriber")
	if err != nil {
		return nil, err
	}
	creator, err := pubkeyField(event.Data, "creator")
	if err != nil {
		return nil, err
	}
	refund, err := uintField(event.Data, "refund")
	if err != nil {
		return nil, err
	}

	result := &ApplyResult{}
	if refund > 0 {
		tx := l.newRewardTx(event, models.TxTypeMembershipRefund, creator, subscriber)
		tx.AmountLamports = refund
		result, err = l.insertReward(ctx, tx)
		if err != nil {
			return nil, err
		}
	}

	l.subMu.Lock()
	defer l.subMu.Unlock()

	existing, err := l.storage.GetSubscription(ctx, subscriber, creator)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	sub := existing
	if sub == nil {
		l.logger.WithFields(logrus.Fields{
			"subscriber": subscriber,
			"creator":    creator,
		}).Warn("Cancellation for unknown subscription")
		sub = &models.Subscription{
			ID:         SubscriptionID(subscriber, creator),
			Subscriber: subscriber,
			Creator:    creator,
			StartedAt:  event.BlockTime,
			ExpiresAt:  event.BlockTime,
			CreatedAt:  now,
		}
	}
	sub.Status = models.SubscriptionCancelled
	sub.AutoRenew = false
	sub.LastSignature = event.Signature
	sub.UpdatedAt = now

	if err := l.storage.UpsertSubscription(ctx, sub); err != nil {
		return nil, err
	}
	result.Subscription = sub
	return result, nil
}

func (l *Ledger) applyClaim(ctx context.Context, event *models.ProgramEvent) (*ApplyResult, error) {
	wallet, err := pubkeyField(event.Data, "wallet")
	if err != nil {
		return nil, err
	}
	amount, err := uintField(event.Data, "amount")
	if err != nil {
		return nil, err
	}
	kind, err := uintField(event.Data, "kind")
	if err != nil {
		return nil, err
	}
	claimedAt, err := intField(event.Data, "claimed_at")
	if err != nil {
		return nil, err
	}

	// Claims flow out of the platform vault, so the row has no source wallet
	tx := l.newRewardTx(event, models.TxTypeClaim, "", wallet)
	tx.AmountLamports = amount
	kindName := claimKind(kind)
	tx.Memo = &kindName
	if claimedAt > 0 {
		tx.BlockTime = time.Unix(claimedAt, 0).UTC()
	}

	return l.insertReward(ctx, tx)
}

func (l *Ledger) newRewardTx(event *models.ProgramEvent, txType, source, dest string) *models.RewardTransaction {
	return &models.RewardTransaction{
		ID:           event.ID,
		Signature:    event.Signature,
		Slot:         event.Slot,
		LogIndex:     event.LogIndex,
		EventName:    event.EventName,
		TxType:       txType,
		SourceWallet: source,
		DestWallet:   dest,
		BlockTime:    event.BlockTime,
		CreatedAt:    time.Now().UTC(),
	}
}

func (l *Ledger) insertReward(ctx context.Context, tx *models.RewardTransaction) (*ApplyResult, error) {
	inserted, err := l.storage.InsertRewardTransaction(ctx, tx)
	if err != nil {
		return nil, err
	}
	if !inserted {
		l.logger.WithFields(logrus.Fields{
			"id":        tx.ID,
			"signature": utils.ShortSignature(tx.Signature),
		}).Debug("Reward row already present, skipping")
	}
	return &ApplyResult{Reward: tx, RewardNew: inserted}, nil
}

// SubscriptionID derives the stable row ID for a (subscriber, creator) pair
func SubscriptionID(subscriber, creator string) string {
	sum := sha256.Sum256([]byte(subscriber + "|" + creator))
	return hex.EncodeToString(sum[:])
}

// vestedAmount computes the stream reward earned for a partial view:
// rate * min(watched, duration) / duration with integer floor. Split into
// quotient and remainder terms so the intermediate products cannot overflow
// (watched and duration are u32 on the wire).
func vestedAmount(rate, watched, duration uint64) uint64 {
	if duration == 0 {
		return 0
	}
	if watched > duration {
		watched = duration
	}
	return (rate/duration)*watched + (rate%duration)*watched/duration
}

// rarityTier maps the on-chain rarity byte to its name and point weight
func rarityTier(rarity uint64) (string, uint64) {
	if rarity >= uint64(len(rarityNames)) {
		return "unknown", 1
	}
	return rarityNames[rarity], rarityWeights[rarity]
}

// claimKind maps the on-chain claim kind byte to its name
func claimKind(kind uint64) string {
	if kind >= uint64(len(claimKinds)) {
		return "unknown"
	}
	return claimKinds[kind]
}

// periodDuration converts a period in days to a duration
func periodDuration(days uint64) time.Duration {
	return time.Duration(days) * 24 * time.Hour
}
