// File: internal/processor/processor_test.go
package processor

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/handcraft-labs/handcraft-event-listener/internal/anchor"
	"github.com/handcraft-labs/handcraft-event-listener/internal/config"
	"github.com/handcraft-labs/handcraft-event-listener/internal/ledger"
	"github.com/handcraft-labs/handcraft-event-listener/internal/models"
	"github.com/handcraft-labs/handcraft-event-listener/internal/notification"
	"github.com/handcraft-labs/handcraft-event-listener/internal/storage"
	"github.com/handcraft-labs/handcraft-event-listener/pkg/utils"
)

var (
	testProgram = base58.Encode(bytes.Repeat([]byte{7}, 32))
	buyerKey    = base58.Encode(bytes.Repeat([]byte{1}, 32))
	creatorKey  = base58.Encode(bytes.Repeat([]byte{2}, 32))
	assetKey    = base58.Encode(bytes.Repeat([]byte{3}, 32))
)

// recordingBroadcaster captures broadcast calls for assertions
type recordingBroadcaster struct {
	mu     sync.Mutex
	events []*models.ProgramEvent
}

func (rb *recordingBroadcaster) Broadcast(event *models.ProgramEvent, result *ledger.ApplyResult) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.events = append(rb.events, event)
}

func (rb *recordingBroadcaster) Count() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return len(rb.events)
}

func newTestProcessor(t *testing.T, mutate func(cfg *config.ProcessorConfig)) (*EventProcessor, storage.Storage, *notification.NotificationManager) {
	t.Helper()

	utils.InitLogger("error", "text", "stdout", "")

	storeCfg := &config.StorageConfig{
		Type:             "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "processor_test.db"),
		MaxConnections:   10,
		MaxIdleTime:      15 * time.Minute,
	}
	store, err := storage.NewStorage(storeCfg)
	require.NoError(t, err)
	require.NoError(t, store.Connect())
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate())

	ledgerCfg := &config.LedgerConfig{
		PlatformFeeBps: 250,
		PointsDivisor:  1_000_000,
		RenewalGrace:   72 * time.Hour,
	}
	ldg := ledger.NewLedger(ledgerCfg, store)

	notifyCfg := &config.NotificationConfig{
		Enabled:             true,
		QueueSize:           32,
		RetryDelay:          10 * time.Millisecond,
		MaxRetries:          1,
		DefaultChannel:      "log",
		NotificationTimeout: 2 * time.Second,
	}
	notifier := notification.NewNotificationManager(notifyCfg, store)
	require.NoError(t, notifier.Start(context.Background()))
	t.Cleanup(func() { notifier.Stop() })

	processorCfg := &config.ProcessorConfig{
		QueueSize:               100,
		MaxConcurrentProcessing: 4,
		ProcessingTimeout:       5 * time.Second,
		EnableAggregation:       true,
		AggregationWindow:       24 * time.Hour,
		EnableValidation:        true,
	}
	if mutate != nil {
		mutate(processorCfg)
	}

	processor := NewEventProcessor(store, ldg, anchor.NewTransactionDecoder(testProgram), notifier, processorCfg)
	require.NoError(t, processor.Start(context.Background()))
	t.Cleanup(func() { processor.Stop() })

	return processor, store, notifier
}

func appendU16(b []byte, v uint16) []byte {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	return append(b, buf[:]...)
}

func appendU64(b []byte, v uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return append(b, buf[:]...)
}

func appendPubkey(t *testing.T, b []byte, key string) []byte {
	raw, err := base58.Decode(key)
	require.NoError(t, err)
	require.Len(t, raw, 32)
	return append(b, raw...)
}

// encodePurchase builds a wire-format AssetPurchased payload
func encodePurchase(t *testing.T, price uint64, rarity uint8) string {
	disc := anchor.Discriminator(anchor.EventAssetPurchased)
	payload := append([]byte{}, disc[:]...)
	payload = appendPubkey(t, payload, assetKey)
	payload = appendPubkey(t, payload, buyerKey)
	payload = appendPubkey(t, payload, creatorKey)
	payload = appendU64(payload, price)
	payload = appendU16(payload, 500)
	payload = append(payload, rarity)
	return base64.StdEncoding.EncodeToString(payload)
}

func testSignature(seed byte) string {
	return base58.Encode(bytes.Repeat([]byte{seed}, 64))
}

func purchasePayload(t *testing.T, seed byte, slot uint64, price uint64) *models.TransactionPayload {
	return &models.TransactionPayload{
		Signature: testSignature(seed),
		Slot:      slot,
		Timestamp: 1_756_100_000,
		Logs: []string{
			"Program " + testProgram + " invoke [1]",
			"Program log: Instruction: PurchaseAsset",
			"Program data: " + encodePurchase(t, price, 3),
			"Program " + testProgram + " success",
		},
	}
}

func TestProcessPayloadPurchase(t *testing.T) {
	processor, store, _ := newTestProcessor(t, nil)
	broadcaster := &recordingBroadcaster{}
	processor.SetBroadcaster(broadcaster)
	ctx := context.Background()

	result, err := processor.ProcessPayload(ctx, purchasePayload(t, 10, 351_200_500, 1_500_000_000))
	require.NoError(t, err)

	assert.False(t, result.Skipped)
	assert.Equal(t, 1, result.EventsDecoded)
	assert.Equal(t, 1, result.EventsApplied)
	assert.Equal(t, 1, result.RewardsWritten)
	assert.Empty(t, result.DecodeErrors)
	assert.Empty(t, result.EventErrors)
	assert.False(t, result.Failed())

	// Event persisted and marked processed
	events, err := store.GetEvents(ctx, models.EventFilter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].Processed)
	assert.Equal(t, anchor.EventAssetPurchased, events[0].EventName)

	// Ledger row carries the platform fee
	rewards, err := store.GetRewardTransactions(ctx, models.RewardFilter{})
	require.NoError(t, err)
	require.Len(t, rewards, 1)
	assert.Equal(t, models.TxTypePurchase, rewards[0].TxType)
	assert.Equal(t, uint64(1_500_000_000), rewards[0].AmountLamports)
	assert.Equal(t, uint64(37_500_000), rewards[0].FeeLamports)

	// Slot tracking advanced
	slot, err := store.GetLastProcessedSlot()
	require.NoError(t, err)
	assert.Equal(t, uint64(351_200_500), slot)

	assert.Equal(t, 1, broadcaster.Count())

	stats := processor.GetStats()
	assert.Equal(t, uint64(1), stats.TotalPayloads)
	assert.Equal(t, uint64(1), stats.TotalRewardsWritten)
	assert.Equal(t, uint64(351_200_500), stats.LastProcessedSlot)
	t.Logf("✓ Purchase pipeline wrote %d reward rows", len(rewards))
}

func TestProcessPayloadDuplicateDelivery(t *testing.T) {
	processor, store, _ := newTestProcessor(t, nil)
	ctx := context.Background()

	payload := purchasePayload(t, 11, 351_200_600, 2_000_000_000)

	first, err := processor.ProcessPayload(ctx, payload)
	require.NoError(t, err)
	assert.Equal(t, 1, first.RewardsWritten)

	second, err := processor.ProcessPayload(ctx, payload)
	require.NoError(t, err)
	assert.Equal(t, 1, second.EventsApplied)
	assert.Equal(t, 0, second.RewardsWritten, "redelivery must not write a second ledger row")

	count, err := store.GetRewardCount(ctx, models.RewardFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestProcessPayloadFailedTransaction(t *testing.T) {
	processor, store, _ := newTestProcessor(t, nil)
	ctx := context.Background()

	payload := &models.TransactionPayload{
		Slot: 351_200_700,
		Meta: &models.PayloadMeta{
			Err: json.RawMessage(`{"InstructionError":[0,{"Custom":1}]}`),
			LogMessages: []string{
				"Program " + testProgram + " invoke [1]",
				"Program data: " + encodePurchase(t, 500_000_000, 1),
				"Program " + testProgram + " failed: custom program error: 0x1",
			},
		},
		Transaction: &models.PayloadTransaction{Signatures: []string{testSignature(12)}},
	}

	result, err := processor.ProcessPayload(ctx, payload)
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Equal(t, "transaction failed on chain", result.SkipReason)
	assert.Zero(t, result.EventsDecoded)

	count, err := store.GetRewardCount(ctx, models.RewardFilter{})
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestProcessPayloadPartialDecode(t *testing.T) {
	processor, store, _ := newTestProcessor(t, nil)
	ctx := context.Background()

	disc := anchor.Discriminator(anchor.EventTipSent)
	truncated := base64.StdEncoding.EncodeToString(disc[:])

	payload := &models.TransactionPayload{
		Signature: testSignature(13),
		Slot:      351_200_800,
		Timestamp: 1_756_100_000,
		Logs: []string{
			"Program " + testProgram + " invoke [1]",
			"Program data: " + truncated,
			"Program data: " + encodePurchase(t, 3_000_000_000, 2),
			"Program " + testProgram + " success",
		},
	}

	result, err := processor.ProcessPayload(ctx, payload)
	require.NoError(t, err)

	// The garbled event is reported, the valid one still lands
	assert.Len(t, result.DecodeErrors, 1)
	assert.Equal(t, 1, result.EventsDecoded)
	assert.Equal(t, 1, result.RewardsWritten)
	assert.True(t, result.Failed())

	count, err := store.GetRewardCount(ctx, models.RewardFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestProcessPayloadValidation(t *testing.T) {
	processor, _, _ := newTestProcessor(t, nil)
	ctx := context.Background()

	t.Run("MissingSignature", func(t *testing.T) {
		payload := &models.TransactionPayload{
			Slot: 351_200_900,
			Logs: []string{"Program " + testProgram + " invoke [1]"},
		}
		_, err := processor.ProcessPayload(ctx, payload)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "signature is missing")
	})

	t.Run("MalformedSignature", func(t *testing.T) {
		payload := &models.TransactionPayload{
			Signature: "not-a-signature",
			Slot:      351_200_901,
			Logs:      []string{"Program " + testProgram + " invoke [1]"},
		}
		_, err := processor.ProcessPayload(ctx, payload)
		require.Error(t, err)
	})

	t.Run("MissingSlot", func(t *testing.T) {
		payload := &models.TransactionPayload{
			Signature: testSignature(14),
			Logs:      []string{"Program " + testProgram + " invoke [1]"},
		}
		_, err := processor.ProcessPayload(ctx, payload)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "slot is missing")
	})

	t.Run("DisabledValidationAccepts", func(t *testing.T) {
		relaxed, _, _ := newTestProcessor(t, func(cfg *config.ProcessorConfig) {
			cfg.EnableValidation = false
		})
		payload := &models.TransactionPayload{
			Signature: "not-a-signature",
			Slot:      351_200_902,
			Logs:      []string{"Program log: nothing"},
		}
		result, err := relaxed.ProcessPayload(ctx, payload)
		require.NoError(t, err)
		assert.Zero(t, result.EventsDecoded)
	})
}

func TestProcessBatch(t *testing.T) {
	processor, _, _ := newTestProcessor(t, nil)
	ctx := context.Background()

	failed := &models.TransactionPayload{
		Slot: 351_201_001,
		Meta: &models.PayloadMeta{
			Err:         json.RawMessage(`"AccountInUse"`),
			LogMessages: []string{"Program " + testProgram + " invoke [1]"},
		},
		Transaction: &models.PayloadTransaction{Signatures: []string{testSignature(21)}},
	}

	disc := anchor.Discriminator(anchor.EventRewardsClaimed)
	garbled := &models.TransactionPayload{
		Signature: testSignature(22),
		Slot:      351_201_002,
		Logs: []string{
			"Program " + testProgram + " invoke [1]",
			"Program data: " + base64.StdEncoding.EncodeToString(disc[:]),
			"Program " + testProgram + " success",
		},
	}

	payloads := []*models.TransactionPayload{
		purchasePayload(t, 20, 351_201_000, 1_000_000_000),
		failed,
		garbled,
	}

	result, err := processor.ProcessBatch(ctx, payloads)
	require.NoError(t, err)

	assert.Equal(t, 3, result.TotalPayloads)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, result.EventsDecoded)
	assert.Equal(t, 1, result.RewardsWritten)
	assert.NotEmpty(t, result.Errors)
	t.Logf("✓ Batch outcome: %d processed, %d skipped, %d failed", result.Processed, result.Skipped, result.Failed)
}

func TestNotificationDispatch(t *testing.T) {
	processor, _, notifier := newTestProcessor(t, nil)
	ctx := context.Background()

	// Below the default large-purchase threshold: no notification
	_, err := processor.ProcessPayload(ctx, purchasePayload(t, 30, 351_201_100, 1_000_000_000))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), notifier.GetStats().TotalQueued)

	// 15 SOL purchase trips the default rule
	_, err = processor.ProcessPayload(ctx, purchasePayload(t, 31, 351_201_101, 15_000_000_000))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), notifier.GetStats().TotalQueued)

	require.Eventually(t, func() bool {
		return notifier.GetStats().TotalSent == 1
	}, 2*time.Second, 20*time.Millisecond)

	stats := processor.GetStats()
	assert.Equal(t, uint64(1), stats.TotalNotifications)
}

func TestRuleManagement(t *testing.T) {
	processor, _, _ := newTestProcessor(t, nil)

	baseline := len(processor.GetRules())
	require.Greater(t, baseline, 0, "default rules installed on start")

	rule := &NotificationRule{
		ID:         "tips-over-one-sol",
		Name:       "Large tips",
		Enabled:    true,
		Priority:   7,
		EventNames: []string{anchor.EventTipSent},
		TxTypes:    []string{models.TxTypeTip},
		Channel:    models.NotificationTypeLog,
	}

	t.Run("Add", func(t *testing.T) {
		require.NoError(t, processor.AddRule(rule))
		assert.Len(t, processor.GetRules(), baseline+1)
		assert.False(t, rule.CreatedAt.IsZero())
	})

	t.Run("AddDuplicate", func(t *testing.T) {
		err := processor.AddRule(rule)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already exists")
	})

	t.Run("AddInvalidChannel", func(t *testing.T) {
		err := processor.AddRule(&NotificationRule{ID: "bad", Channel: "sms"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Unknown notification channel")
	})

	t.Run("Update", func(t *testing.T) {
		updated := *rule
		updated.MinLamports = 1_000_000_000
		require.NoError(t, processor.UpdateRule(&updated))

		var found *NotificationRule
		for _, r := range processor.GetRules() {
			if r.ID == rule.ID {
				found = r
			}
		}
		require.NotNil(t, found)
		assert.Equal(t, uint64(1_000_000_000), found.MinLamports)
		assert.Equal(t, rule.CreatedAt.Unix(), found.CreatedAt.Unix())
	})

	t.Run("UpdateMissing", func(t *testing.T) {
		err := processor.UpdateRule(&NotificationRule{ID: "no-such-rule", Channel: models.NotificationTypeLog})
		require.Error(t, err)
	})

	t.Run("Remove", func(t *testing.T) {
		require.NoError(t, processor.RemoveRule(rule.ID))
		assert.Len(t, processor.GetRules(), baseline)
		require.Error(t, processor.RemoveRule(rule.ID))
	})
}

func TestRouterMatch(t *testing.T) {
	router := NewEventRouter()

	event := &models.ProgramEvent{
		ID:        "evt-match-1",
		Signature: testSignature(40),
		Slot:      351_201_200,
		EventName: anchor.EventAssetPurchased,
		Data: map[string]interface{}{
			"price":  uint64(12_000_000_000),
			"rarity": uint64(4),
			"buyer":  buyerKey,
		},
	}
	applied := &ledger.ApplyResult{
		Reward: &models.RewardTransaction{
			TxType:         models.TxTypePurchase,
			AmountLamports: 12_000_000_000,
			SourceWallet:   buyerKey,
			DestWallet:     creatorKey,
		},
		RewardNew: true,
	}

	t.Run("EventNameCaseInsensitive", func(t *testing.T) {
		rules := []*NotificationRule{{
			ID: "r1", Enabled: true, EventNames: []string{"assetpurchased"}, Channel: models.NotificationTypeLog,
		}}
		assert.Len(t, router.Match(event, applied, rules), 1)
	})

	t.Run("DisabledRuleSkipped", func(t *testing.T) {
		rules := []*NotificationRule{{
			ID: "r2", Enabled: false, EventNames: []string{anchor.EventAssetPurchased},
		}}
		assert.Empty(t, router.Match(event, applied, rules))
	})

	t.Run("TxTypeFilter", func(t *testing.T) {
		match := []*NotificationRule{{ID: "r3", Enabled: true, TxTypes: []string{models.TxTypePurchase}}}
		noMatch := []*NotificationRule{{ID: "r4", Enabled: true, TxTypes: []string{models.TxTypeTip}}}
		assert.Len(t, router.Match(event, applied, match), 1)
		assert.Empty(t, router.Match(event, applied, noMatch))
	})

	t.Run("MinLamports", func(t *testing.T) {
		match := []*NotificationRule{{ID: "r5", Enabled: true, MinLamports: 10_000_000_000}}
		noMatch := []*NotificationRule{{ID: "r6", Enabled: true, MinLamports: 20_000_000_000}}
		assert.Len(t, router.Match(event, applied, match), 1)
		assert.Empty(t, router.Match(event, applied, noMatch))
	})

	t.Run("MinLamportsWithoutReward", func(t *testing.T) {
		rules := []*NotificationRule{{ID: "r7", Enabled: true, MinLamports: 1}}
		assert.Empty(t, router.Match(event, &ledger.ApplyResult{}, rules))
	})

	t.Run("DataConditions", func(t *testing.T) {
		cases := []struct {
			condition map[string]string
			matches   bool
		}{
			{map[string]string{"price": ">= 12000000000"}, true},
			{map[string]string{"price": "> 12000000000"}, false},
			{map[string]string{"price": "<= 12000000000"}, true},
			{map[string]string{"price": "< 1000"}, false},
			{map[string]string{"rarity": "4"}, true},
			{map[string]string{"rarity": "!= 4"}, false},
			{map[string]string{"rarity": "!= 3"}, true},
			{map[string]string{"buyer": buyerKey}, true},
			{map[string]string{"missing_field": "1"}, false},
			{map[string]string{"price": ">= 1", "rarity": "4"}, true},
			{map[string]string{"price": ">= 1", "rarity": "2"}, false},
		}

		for i, tc := range cases {
			rules := []*NotificationRule{{
				ID: fmt.Sprintf("dc-%d", i), Enabled: true, DataConditions: tc.condition,
			}}
			matched := router.Match(event, applied, rules)
			if tc.matches {
				assert.Len(t, matched, 1, "condition %v", tc.condition)
			} else {
				assert.Empty(t, matched, "condition %v", tc.condition)
			}
		}
	})

	t.Run("PriorityOrdering", func(t *testing.T) {
		rules := []*NotificationRule{
			{ID: "low", Enabled: true, Priority: 1},
			{ID: "high", Enabled: true, Priority: 10},
			{ID: "mid", Enabled: true, Priority: 5},
		}
		matched := router.Match(event, applied, rules)
		require.Len(t, matched, 3)
		assert.Equal(t, "high", matched[0].ID)
		assert.Equal(t, "mid", matched[1].ID)
		assert.Equal(t, "low", matched[2].ID)
	})
}

func TestBuildNotification(t *testing.T) {
	rule := &NotificationRule{
		ID:      "large-purchase",
		Name:    "Large asset purchase",
		Channel: models.NotificationTypeLog,
	}
	event := &models.ProgramEvent{
		ID:        "evt-build-1",
		Signature: testSignature(41),
		Slot:      351_201_300,
		EventName: anchor.EventAssetPurchased,
		BlockTime: time.Unix(1_756_100_000, 0).UTC(),
	}
	applied := &ledger.ApplyResult{
		Reward: &models.RewardTransaction{
			TxType:         models.TxTypePurchase,
			AmountLamports: 15_000_000_000,
			SourceWallet:   buyerKey,
			DestWallet:     creatorKey,
			Points:         15_000,
		},
	}

	n := buildNotification(rule, event, applied)
	assert.Equal(t, "large-purchase-evt-build-1", n.ID)
	assert.Equal(t, models.NotificationTypeLog, n.Type)
	assert.Equal(t, "evt-build-1", n.EventID)
	assert.Equal(t, "pending", n.Status)
	assert.Contains(t, n.Message, "15.000000000 SOL")
	assert.Equal(t, models.TxTypePurchase, n.Data["tx_type"])
	assert.Equal(t, uint64(15_000), n.Data["points"])

	// Deterministic per (rule, event) so redeliveries collapse
	again := buildNotification(rule, event, applied)
	assert.Equal(t, n.ID, again.ID)
}

func TestValidateEventDetailed(t *testing.T) {
	validator := NewPayloadValidator(testProgram)

	valid := &models.ProgramEvent{
		ID:        "evt-valid",
		Signature: testSignature(50),
		Slot:      351_201_400,
		Program:   testProgram,
		EventName: anchor.EventTipSent,
		Data: map[string]interface{}{
			"sender":    buyerKey,
			"recipient": creatorKey,
			"amount":    uint64(1_000_000),
		},
		BlockTime: time.Unix(1_756_100_000, 0).UTC(),
	}

	t.Run("Valid", func(t *testing.T) {
		result := validator.ValidateEventDetailed(valid)
		assert.True(t, result.Valid)
		assert.Empty(t, result.Errors)
		require.NoError(t, validator.ValidateEvent(valid))
	})

	t.Run("MissingDataField", func(t *testing.T) {
		broken := *valid
		broken.Data = map[string]interface{}{"sender": buyerKey}
		result := validator.ValidateEventDetailed(&broken)
		assert.False(t, result.Valid)

		err := validator.ValidateEvent(&broken)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "recipient")
	})

	t.Run("WrongProgram", func(t *testing.T) {
		foreign := *valid
		foreign.Program = base58.Encode(bytes.Repeat([]byte{9}, 32))
		result := validator.ValidateEventDetailed(&foreign)
		assert.False(t, result.Valid)
	})

	t.Run("ZeroSlot", func(t *testing.T) {
		stuck := *valid
		stuck.Slot = 0
		assert.False(t, validator.ValidateEventDetailed(&stuck).Valid)
	})

	t.Run("UnknownEventNameSkipsDataCheck", func(t *testing.T) {
		unknown := *valid
		unknown.EventName = "SomethingNew"
		unknown.Data = map[string]interface{}{}
		assert.True(t, validator.ValidateEventDetailed(&unknown).Valid)
	})
}

func TestActivityAggregator(t *testing.T) {
	aggregator := NewActivityAggregator(2 * time.Hour)

	now := time.Now().UTC()
	fresh := &models.ProgramEvent{EventName: anchor.EventTipSent, BlockTime: now}
	stale := &models.ProgramEvent{EventName: anchor.EventTipSent, BlockTime: now.Add(-26 * time.Hour)}

	applied := &ledger.ApplyResult{
		Reward: &models.RewardTransaction{
			TxType:         models.TxTypeTip,
			AmountLamports: 5_000_000,
		},
		RewardNew: true,
	}

	aggregator.Record(fresh, applied)
	aggregator.Record(fresh, &ledger.ApplyResult{})
	aggregator.Record(stale, applied)

	summary := aggregator.Snapshot()
	assert.Equal(t, uint64(2), summary.TotalEvents, "stale bucket falls outside the window")
	assert.Equal(t, uint64(2), summary.EventsByName[anchor.EventTipSent])
	assert.Equal(t, uint64(5_000_000), summary.LamportsByType[models.TxTypeTip])
	assert.Equal(t, uint64(1), summary.RewardsRecorded)

	aggregator.Prune()
	summary = aggregator.Snapshot()
	assert.Equal(t, uint64(2), summary.TotalEvents)
}

func TestGetHealth(t *testing.T) {
	processor, store, _ := newTestProcessor(t, nil)

	health := processor.GetHealth()
	assert.True(t, health.Healthy)
	assert.True(t, health.StorageHealthy)
	assert.True(t, health.NotifierHealthy)
	assert.Empty(t, health.Issues)

	require.NoError(t, store.Close())
	health = processor.GetHealth()
	assert.False(t, health.Healthy)
	assert.False(t, health.StorageHealthy)
	assert.NotEmpty(t, health.Issues)
}

func TestStartStop(t *testing.T) {
	processor, _, _ := newTestProcessor(t, nil)

	assert.True(t, processor.IsRunning())
	require.Error(t, processor.Start(context.Background()), "second start must fail")

	require.NoError(t, processor.Stop())
	assert.False(t, processor.IsRunning())
	require.NoError(t, processor.Stop(), "stop is idempotent")
}
