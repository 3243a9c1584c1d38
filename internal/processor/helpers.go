// File: internal/processor/helpers.go
package processor

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/handcraft-labs/handcraft-event-listener/internal/models"
	"github.com/handcraft-labs/handcraft-event-listener/pkg/utils"
)

// validateRule rejects rules the router could never evaluate
func validateRule(rule *NotificationRule) error {
	if rule == nil {
		return utils.NewAppError(utils.ErrCodeValidation, "Rule is required", "")
	}
	if rule.ID == "" {
		return utils.NewAppError(utils.ErrCodeValidation, "Rule ID is required", "")
	}
	switch rule.Type() {
	case models.NotificationTypeLog, models.NotificationTypeWebhook, models.NotificationTypeEmail:
	default:
		return utils.NewAppError(utils.ErrCodeValidation, "Unknown notification channel",
			fmt.Sprintf("rule %s requests channel %q", rule.ID, rule.Channel))
	}
	return nil
}

// Type returns the rule's channel, defaulting to the log channel
func (r *NotificationRule) Type() models.NotificationType {
	if r.Channel == "" {
		return models.NotificationTypeLog
	}
	return r.Channel
}

// AddRule adds a notification rule
func (ep *EventProcessor) AddRule(rule *NotificationRule) error {
	if err := validateRule(rule); err != nil {
		return err
	}

	ep.mu.Lock()
	defer ep.mu.Unlock()

	if _, exists := ep.rules[rule.ID]; exists {
		return utils.NewAppError(utils.ErrCodeValidation, "Rule already exists", rule.ID)
	}

	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	ep.rules[rule.ID] = rule

	ep.logger.WithFields(logrus.Fields{
		"rule_id":   rule.ID,
		"rule_name": rule.Name,
	}).Info("Notification rule added")
	return nil
}

// RemoveRule removes a notification rule
func (ep *EventProcessor) RemoveRule(ruleID string) error {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	if _, exists := ep.rules[ruleID]; !exists {
		return utils.NewAppError(utils.ErrCodeNotFound, "Rule not found", ruleID)
	}
	delete(ep.rules, ruleID)

	ep.logger.WithFields(logrus.Fields{"rule_id": ruleID}).Info("Notification rule removed")
	return nil
}

// GetRules returns all notification rules
func (ep *EventProcessor) GetRules() []*NotificationRule {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	rules := make([]*NotificationRule, 0, len(ep.rules))
	for _, rule := range ep.rules {
		rules = append(rules, rule)
	}
	return rules
}

// UpdateRule updates a notification rule
func (ep *EventProcessor) UpdateRule(rule *NotificationRule) error {
	if err := validateRule(rule); err != nil {
		return err
	}

	ep.mu.Lock()
	defer ep.mu.Unlock()

	existing, exists := ep.rules[rule.ID]
	if !exists {
		return utils.NewAppError(utils.ErrCodeNotFound, "Rule not found", rule.ID)
	}

	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now().UTC()
	ep.rules[rule.ID] = rule

	ep.logger.WithFields(logrus.Fields{
		"rule_id":   rule.ID,
		"rule_name": rule.Name,
	}).Info("Notification rule updated")
	return nil
}

// GetStats returns processor statistics
func (ep *EventProcessor) GetStats() *ProcessorStats {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.stats.Uptime = time.Since(ep.stats.StartTime)
	ep.stats.ActiveRules = len(ep.rules)
	if seconds := ep.stats.Uptime.Seconds(); seconds > 0 {
		ep.stats.ProcessingRate = float64(ep.stats.TotalPayloads) / seconds
	}

	statsCopy := *ep.stats
	return &statsCopy
}

// GetHealth returns processor health
func (ep *EventProcessor) GetHealth() *ProcessorHealth {
	health := &ProcessorHealth{
		Healthy: true,
		Issues:  []string{},
	}

	err := ep.storage.Ping()
	health.StorageHealthy = err == nil
	if err != nil {
		health.Healthy = false
		health.Issues = append(health.Issues, "Storage unhealthy: "+err.Error())
	}

	if ep.notifier != nil {
		health.NotifierHealthy = ep.notifier.IsHealthy()
		if !health.NotifierHealthy {
			health.Healthy = false
			health.Issues = append(health.Issues, "Notification system unhealthy")
		}
	} else {
		health.NotifierHealthy = true
	}

	return health
}

// ActivitySnapshot returns the rolling activity summary
func (ep *EventProcessor) ActivitySnapshot() *ActivitySummary {
	return ep.aggregator.Snapshot()
}
