// File: internal/processor/processor.go
package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/handcraft-labs/handcraft-event-listener/internal/anchor"
	"github.com/handcraft-labs/handcraft-event-listener/internal/config"
	"github.com/handcraft-labs/handcraft-event-listener/internal/ledger"
	"github.com/handcraft-labs/handcraft-event-listener/internal/metrics"
	"github.com/handcraft-labs/handcraft-event-listener/internal/models"
	"github.com/handcraft-labs/handcraft-event-listener/internal/notification"
	"github.com/handcraft-labs/handcraft-event-listener/internal/storage"
	"github.com/handcraft-labs/handcraft-event-listener/pkg/utils"
)

// Processor defines the webhook payload processing interface
type Processor interface {
	// Lifecycle management
	Start(ctx context.Context) error
	Stop() error
	IsRunning() bool

	// Payload processing
	ProcessPayload(ctx context.Context, payload *models.TransactionPayload) (*PayloadResult, error)
	ProcessBatch(ctx context.Context, payloads []*models.TransactionPayload) (*BatchResult, error)

	// Notification rule management
	AddRule(rule *NotificationRule) error
	RemoveRule(ruleID string) error
	GetRules() []*NotificationRule
	UpdateRule(rule *NotificationRule) error

	// Statistics and monitoring
	GetStats() *ProcessorStats
	GetHealth() *ProcessorHealth
	ActivitySnapshot() *ActivitySummary
}

// Broadcaster pushes applied events to live stream subscribers
type Broadcaster interface {
	Broadcast(event *models.ProgramEvent, result *ledger.ApplyResult)
}

// RewardSink receives freshly written ledger rows for best-effort replication.
// A sink error leaves the row unmirrored; the reconcile schedule retries it.
type RewardSink interface {
	MirrorReward(ctx context.Context, reward *models.RewardTransaction) error
}

// EventProcessor implements the Processor interface
type EventProcessor struct {
	// Dependencies
	storage     storage.Storage
	ledger      *ledger.Ledger
	decoder     *anchor.TransactionDecoder
	notifier    notification.Notifier
	broadcaster Broadcaster
	rewardSink  RewardSink
	logger      *logrus.Logger

	// Configuration
	config *config.ProcessorConfig

	// State management
	mu       sync.RWMutex
	running  bool
	rules    map[string]*NotificationRule
	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup

	// Processing components
	router     *EventRouter
	aggregator *ActivityAggregator
	validator  *PayloadValidator

	// Instrumentation
	metricsManager *metrics.Manager
	stats          *ProcessorStats
}

// PayloadResult contains the result of processing a single transaction payload
type PayloadResult struct {
	Signature      string        `json:"signature"`
	Slot           uint64        `json:"slot"`
	Skipped        bool          `json:"skipped"`
	SkipReason     string        `json:"skip_reason,omitempty"`
	EventsDecoded  int           `json:"events_decoded"`
	EventsApplied  int           `json:"events_applied"`
	RewardsWritten int           `json:"rewards_written"`
	DecodeErrors   []string      `json:"decode_errors,omitempty"`
	EventErrors    []string      `json:"event_errors,omitempty"`
	ProcessingTime time.Duration `json:"processing_time"`
}

// Failed reports whether any event in the payload failed to decode or apply
func (r *PayloadResult) Failed() bool {
	return len(r.DecodeErrors) > 0 || len(r.EventErrors) > 0
}

// BatchResult contains the result of processing a webhook delivery
type BatchResult struct {
	TotalPayloads  int           `json:"total_payloads"`
	Processed      int           `json:"processed"`
	Failed         int           `json:"failed"`
	Skipped        int           `json:"skipped"`
	EventsDecoded  int           `json:"events_decoded"`
	RewardsWritten int           `json:"rewards_written"`
	ProcessingTime time.Duration `json:"processing_time"`
	Errors         []string      `json:"errors,omitempty"`
}

// ProcessorStats provides processor statistics
type ProcessorStats struct {
	StartTime              time.Time     `json:"start_time"`
	Uptime                 time.Duration `json:"uptime"`
	IsRunning              bool          `json:"is_running"`
	TotalPayloads          uint64        `json:"total_payloads"`
	TotalEventsDecoded     uint64        `json:"total_events_decoded"`
	TotalEventsApplied     uint64        `json:"total_events_applied"`
	TotalRewardsWritten    uint64        `json:"total_rewards_written"`
	TotalNotifications     uint64        `json:"total_notifications"`
	TotalDecodeErrors      uint64        `json:"total_decode_errors"`
	LastProcessedSlot      uint64        `json:"last_processed_slot"`
	ActiveRules            int           `json:"active_rules"`
	AverageProcessingTime  time.Duration `json:"average_processing_time"`
	ProcessingRate         float64       `json:"processing_rate"`
	ErrorCount             uint64        `json:"error_count"`
	LastError              *string       `json:"last_error,omitempty"`
	LastErrorTime          *time.Time    `json:"last_error_time,omitempty"`
}

// ProcessorHealth provides processor health information
type ProcessorHealth struct {
	Healthy         bool     `json:"healthy"`
	StorageHealthy  bool     `json:"storage_healthy"`
	NotifierHealthy bool     `json:"notifier_healthy"`
	Issues          []string `json:"issues,omitempty"`
}

// NewEventProcessor creates a processor over the full pipeline: decode,
// persist, apply to the ledger, notify, broadcast
func NewEventProcessor(
	store storage.Storage,
	ldg *ledger.Ledger,
	decoder *anchor.TransactionDecoder,
	notifier notification.Notifier,
	cfg *config.ProcessorConfig,
) *EventProcessor {
	processor := &EventProcessor{
		storage:  store,
		ledger:   ldg,
		decoder:  decoder,
		notifier: notifier,
		config:   cfg,
		logger:   utils.GetLogger(),
		rules:    make(map[string]*NotificationRule),
		stopChan: make(chan struct{}),
		stats: &ProcessorStats{
			StartTime: time.Now(),
		},
	}

	processor.router = NewEventRouter()
	processor.validator = NewPayloadValidator(decoder.Program())
	processor.aggregator = NewActivityAggregator(cfg.AggregationWindow)

	return processor
}

// SetMetricsManager attaches the metrics manager for pipeline instrumentation
func (ep *EventProcessor) SetMetricsManager(manager *metrics.Manager) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.metricsManager = manager
}

// SetBroadcaster attaches a live event stream
func (ep *EventProcessor) SetBroadcaster(broadcaster Broadcaster) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.broadcaster = broadcaster
}

// SetRewardSink attaches a mirror for freshly written reward rows
func (ep *EventProcessor) SetRewardSink(sink RewardSink) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.rewardSink = sink
}

// Start starts the processor and installs default notification rules when
// none are configured
func (ep *EventProcessor) Start(ctx context.Context) error {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	if ep.running {
		return utils.NewAppError(utils.ErrCodeInternal, "Processor already running", "")
	}

	ep.logger.Info("Starting event processor")

	if len(ep.rules) == 0 {
		for _, rule := range DefaultRules() {
			ep.rules[rule.ID] = rule
		}
	}

	ep.running = true
	ep.stats.StartTime = time.Now()
	ep.stats.IsRunning = true

	if ep.config.EnableAggregation {
		ep.wg.Add(1)
		go ep.pruneLoop()
	}

	ep.logger.WithFields(logrus.Fields{
		"rules":   len(ep.rules),
		"program": ep.decoder.Program(),
	}).Info("Event processor started")

	return nil
}

// pruneLoop periodically evicts expired aggregation buckets
func (ep *EventProcessor) pruneLoop() {
	defer ep.wg.Done()

	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ep.stopChan:
			return
		case <-ticker.C:
			ep.aggregator.Prune()
		}
	}
}

// Stop stops the event processor
func (ep *EventProcessor) Stop() error {
	ep.mu.Lock()
	if !ep.running {
		ep.mu.Unlock()
		return nil
	}
	ep.running = false
	ep.stats.IsRunning = false
	ep.mu.Unlock()

	ep.logger.Info("Stopping event processor")

	ep.stopOnce.Do(func() {
		close(ep.stopChan)
	})
	ep.wg.Wait()

	ep.logger.Info("Event processor stopped")
	return nil
}

// IsRunning returns whether the processor is running
func (ep *EventProcessor) IsRunning() bool {
	ep.mu.RLock()
	defer ep.mu.RUnlock()
	return ep.running
}

// ProcessPayload runs one transaction payload through the pipeline. Decode
// and apply errors are collected per event; they do not abort the remaining
// events of the same transaction.
func (ep *EventProcessor) ProcessPayload(ctx context.Context, payload *models.TransactionPayload) (*PayloadResult, error) {
	startTime := time.Now()

	if ep.config.ProcessingTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ep.config.ProcessingTimeout)
		defer cancel()
	}

	result := &PayloadResult{
		Signature: payload.TxSignature(),
		Slot:      payload.Slot,
	}

	if ep.config.EnableValidation {
		if err := ep.validator.ValidatePayload(payload); err != nil {
			ep.recordError(err)
			return result, err
		}
	}

	// Failed transactions emit logs but must not move the ledger
	if payload.Failed() {
		result.Skipped = true
		result.SkipReason = "transaction failed on chain"
		ep.logger.WithFields(logrus.Fields{
			"signature": utils.ShortSignature(result.Signature),
			"slot":      payload.Slot,
		}).Debug("Skipping failed transaction")
		ep.finishPayload(result, startTime)
		return result, nil
	}

	events, decodeErrs := ep.decoder.DecodeTransaction(payload)
	for _, err := range decodeErrs {
		result.DecodeErrors = append(result.DecodeErrors, err.Error())
		ep.logger.WithFields(logrus.Fields{
			"signature": utils.ShortSignature(result.Signature),
			"error":     err,
		}).Error("Failed to decode event payload")
		if ep.metricsManager != nil {
			ep.metricsManager.GetPrometheusMetrics().RecordDecodeFailure("decode_error")
		}
	}
	result.EventsDecoded = len(events)

	if len(events) > 0 {
		if err := ep.storage.SaveEvents(ctx, events); err != nil {
			ep.recordError(err)
			return result, utils.NewAppError(utils.ErrCodeDatabase, "Failed to persist decoded events", err.Error())
		}

		for _, event := range events {
			if err := ep.applyEvent(ctx, event, result); err != nil {
				result.EventErrors = append(result.EventErrors, err.Error())
			}
		}
	}

	if payload.Slot > 0 {
		if err := ep.storage.SetLastProcessedSlot(payload.Slot); err != nil {
			ep.logger.WithFields(logrus.Fields{"error": err}).Warn("Failed to advance last processed slot")
		}
		ep.trackSlot(payload.Slot)
	}

	ep.finishPayload(result, startTime)
	return result, nil
}

// applyEvent maps one decoded event onto the ledger and fans out
// notifications and stream broadcasts
func (ep *EventProcessor) applyEvent(ctx context.Context, event *models.ProgramEvent, result *PayloadResult) error {
	start := time.Now()

	applied, err := ep.ledger.Apply(ctx, event)
	if err != nil {
		ep.logger.WithFields(logrus.Fields{
			"event_id":   event.ID,
			"event_name": event.EventName,
			"error":      err,
		}).Error("Failed to apply event to ledger")
		ep.recordError(err)
		ep.recordEvent(event, "error", start)
		return err
	}

	if err := ep.storage.MarkEventProcessed(ctx, event.ID, time.Now().UTC()); err != nil {
		ep.logger.WithFields(logrus.Fields{
			"event_id": event.ID,
			"error":    err,
		}).Warn("Failed to mark event processed")
	}

	result.EventsApplied++
	if applied.RewardNew {
		result.RewardsWritten++
		ep.mirrorReward(ctx, applied.Reward)
	}

	if ep.config.EnableAggregation {
		ep.aggregator.Record(event, applied)
	}

	ep.dispatchNotifications(ctx, event, applied)

	ep.mu.RLock()
	broadcaster := ep.broadcaster
	ep.mu.RUnlock()
	if broadcaster != nil {
		broadcaster.Broadcast(event, applied)
	}

	ep.recordEvent(event, "success", start)
	return nil
}

// mirrorReward pushes a new ledger row to the mirror without failing the event
func (ep *EventProcessor) mirrorReward(ctx context.Context, reward *models.RewardTransaction) {
	ep.mu.RLock()
	sink := ep.rewardSink
	ep.mu.RUnlock()
	if sink == nil || reward == nil {
		return
	}

	if err := sink.MirrorReward(ctx, reward); err != nil {
		ep.logger.WithFields(logrus.Fields{
			"reward_id": reward.ID,
			"error":     err,
		}).Warn("Failed to mirror reward row")
	}
}

// dispatchNotifications queues a notification for every matching rule
func (ep *EventProcessor) dispatchNotifications(ctx context.Context, event *models.ProgramEvent, applied *ledger.ApplyResult) {
	if ep.notifier == nil {
		return
	}

	ep.mu.RLock()
	rules := make([]*NotificationRule, 0, len(ep.rules))
	for _, rule := range ep.rules {
		rules = append(rules, rule)
	}
	ep.mu.RUnlock()

	for _, rule := range ep.router.Match(event, applied, rules) {
		n := buildNotification(rule, event, applied)
		if err := ep.notifier.Notify(ctx, n); err != nil {
			ep.logger.WithFields(logrus.Fields{
				"rule_id":  rule.ID,
				"event_id": event.ID,
				"error":    err,
			}).Warn("Failed to queue notification")
			continue
		}

		ep.mu.Lock()
		ep.stats.TotalNotifications++
		ep.mu.Unlock()
	}
}

// ProcessBatch processes one webhook delivery concurrently. A panic in one
// payload is contained and reported without dropping the rest of the batch.
func (ep *EventProcessor) ProcessBatch(ctx context.Context, payloads []*models.TransactionPayload) (*BatchResult, error) {
	startTime := time.Now()

	result := &BatchResult{
		TotalPayloads: len(payloads),
	}

	maxConcurrent := ep.config.MaxConcurrentProcessing
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	semaphore := make(chan struct{}, maxConcurrent)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, payload := range payloads {
		wg.Add(1)
		go func(p *models.TransactionPayload) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					mu.Lock()
					result.Failed++
					result.Errors = append(result.Errors, fmt.Sprintf("panic: %v", r))
					mu.Unlock()
					ep.logger.WithFields(logrus.Fields{"panic": r}).Error("Recovered from payload processing panic")
				}
			}()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			payloadResult, err := ep.ProcessPayload(ctx, p)

			mu.Lock()
			defer mu.Unlock()

			result.EventsDecoded += payloadResult.EventsDecoded
			result.RewardsWritten += payloadResult.RewardsWritten

			switch {
			case err != nil:
				result.Failed++
				result.Errors = append(result.Errors, err.Error())
			case payloadResult.Skipped:
				result.Skipped++
			case payloadResult.Failed():
				result.Failed++
				result.Errors = append(result.Errors, payloadResult.DecodeErrors...)
				result.Errors = append(result.Errors, payloadResult.EventErrors...)
			default:
				result.Processed++
			}
		}(payload)
	}

	wg.Wait()
	result.ProcessingTime = time.Since(startTime)

	ep.logger.WithFields(logrus.Fields{
		"total":           result.TotalPayloads,
		"processed":       result.Processed,
		"failed":          result.Failed,
		"skipped":         result.Skipped,
		"events_decoded":  result.EventsDecoded,
		"rewards_written": result.RewardsWritten,
		"processing_time": result.ProcessingTime,
	}).Info("Webhook batch processed")

	return result, nil
}

// trackSlot keeps the in-memory slot high water mark and gauge current
func (ep *EventProcessor) trackSlot(slot uint64) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	if slot <= ep.stats.LastProcessedSlot {
		return
	}
	ep.stats.LastProcessedSlot = slot
	if ep.metricsManager != nil {
		ep.metricsManager.GetPrometheusMetrics().UpdateLastProcessedSlot(slot)
	}
}

func (ep *EventProcessor) recordEvent(event *models.ProgramEvent, status string, start time.Time) {
	if ep.metricsManager == nil {
		return
	}
	prom := ep.metricsManager.GetPrometheusMetrics()
	prom.RecordEventProcessed(event.Program, event.EventName, status)
	prom.RecordEventProcessingDuration(event.Program, event.EventName, time.Since(start))
}

func (ep *EventProcessor) recordError(err error) {
	message := err.Error()
	now := time.Now()

	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.stats.ErrorCount++
	ep.stats.LastError = &message
	ep.stats.LastErrorTime = &now
}

// finishPayload folds one payload's outcome into the running statistics
func (ep *EventProcessor) finishPayload(result *PayloadResult, startTime time.Time) {
	result.ProcessingTime = time.Since(startTime)

	ep.mu.Lock()
	ep.stats.TotalPayloads++
	ep.stats.TotalEventsDecoded += uint64(result.EventsDecoded)
	ep.stats.TotalEventsApplied += uint64(result.EventsApplied)
	ep.stats.TotalRewardsWritten += uint64(result.RewardsWritten)
	ep.stats.TotalDecodeErrors += uint64(len(result.DecodeErrors))

	n := ep.stats.TotalPayloads
	ep.stats.AverageProcessingTime = time.Duration(
		(int64(ep.stats.AverageProcessingTime)*int64(n-1) + int64(result.ProcessingTime)) / int64(n))
	ep.mu.Unlock()

	if ep.metricsManager != nil {
		prom := ep.metricsManager.GetPrometheusMetrics()
		prom.RecordPayloadProcessed()
		prom.RecordPayloadProcessingDuration(result.ProcessingTime)
	}
}
