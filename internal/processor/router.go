// File: internal/processor/router.go
package processor

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/handcraft-labs/handcraft-event-listener/internal/anchor"
	"github.com/handcraft-labs/handcraft-event-listener/internal/ledger"
	"github.com/handcraft-labs/handcraft-event-listener/internal/models"
	"github.com/handcraft-labs/handcraft-event-listener/pkg/utils"
)

// NotificationRule maps applied events onto a notification channel
type NotificationRule struct {
	ID             string                  `json:"id"`
	Name           string                  `json:"name"`
	Description    string                  `json:"description,omitempty"`
	Enabled        bool                    `json:"enabled"`
	Priority       int                     `json:"priority"`
	EventNames     []string                `json:"event_names,omitempty"`
	TxTypes        []string                `json:"tx_types,omitempty"`
	MinLamports    uint64                  `json:"min_lamports,omitempty"`
	DataConditions map[string]string       `json:"data_conditions,omitempty"`
	Channel        models.NotificationType `json:"channel"`
	Target         string                  `json:"target,omitempty"`
	CreatedAt      time.Time               `json:"created_at"`
	UpdatedAt      time.Time               `json:"updated_at"`
}

// EventRouter matches applied events against notification rules
type EventRouter struct{}

// NewEventRouter creates a new event router
func NewEventRouter() *EventRouter {
	return &EventRouter{}
}

// Match returns the enabled rules matching this event, highest priority first
func (er *EventRouter) Match(event *models.ProgramEvent, applied *ledger.ApplyResult, rules []*NotificationRule) []*NotificationRule {
	var matched []*NotificationRule
	var dataJSON []byte

	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}

		if len(rule.EventNames) > 0 && !containsFold(rule.EventNames, event.EventName) {
			continue
		}

		if len(rule.TxTypes) > 0 {
			if applied.Reward == nil || !containsFold(rule.TxTypes, applied.Reward.TxType) {
				continue
			}
		}

		if rule.MinLamports > 0 {
			if applied.Reward == nil || applied.Reward.AmountLamports < rule.MinLamports {
				continue
			}
		}

		if len(rule.DataConditions) > 0 {
			if dataJSON == nil {
				dataJSON, _ = json.Marshal(event.Data)
			}
			if !matchesDataConditions(dataJSON, rule.DataConditions) {
				continue
			}
		}

		matched = append(matched, rule)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Priority > matched[j].Priority
	})
	return matched
}

// matchesDataConditions evaluates path conditions against the decoded event
// data. A value starting with ">=", "<=", ">" or "<" compares numerically,
// "!=" compares as string inequality; anything else is an exact string match.
func matchesDataConditions(dataJSON []byte, conditions map[string]string) bool {
	for path, expected := range conditions {
		value := gjson.GetBytes(dataJSON, path)
		if !value.Exists() {
			return false
		}
		if !evaluateCondition(value, expected) {
			return false
		}
	}
	return true
}

func evaluateCondition(value gjson.Result, expected string) bool {
	if strings.HasPrefix(expected, "!=") {
		return value.String() != strings.TrimSpace(expected[2:])
	}

	for _, op := range []string{">=", "<=", ">", "<"} {
		if !strings.HasPrefix(expected, op) {
			continue
		}
		operand, err := strconv.ParseFloat(strings.TrimSpace(expected[len(op):]), 64)
		if err != nil {
			return false
		}
		switch op {
		case ">=":
			return value.Num >= operand
		case "<=":
			return value.Num <= operand
		case ">":
			return value.Num > operand
		default:
			return value.Num < operand
		}
	}

	return value.String() == expected
}

func containsFold(haystack []string, needle string) bool {
	for _, s := range haystack {
		if strings.EqualFold(s, needle) {
			return true
		}
	}
	return false
}

// buildNotification renders a rule match into a queueable notification. The
// ID is deterministic per (rule, event) so webhook re-deliveries do not fan
// out duplicates.
func buildNotification(rule *NotificationRule, event *models.ProgramEvent, applied *ledger.ApplyResult) *models.Notification {
	data := map[string]interface{}{
		"rule":       rule.Name,
		"event_name": event.EventName,
		"signature":  event.Signature,
		"slot":       event.Slot,
		"block_time": event.BlockTime,
	}

	message := fmt.Sprintf("%s at slot %d", event.EventName, event.Slot)
	if applied.Reward != nil {
		reward := applied.Reward
		data["tx_type"] = reward.TxType
		data["amount_lamports"] = reward.AmountLamports
		data["source_wallet"] = reward.SourceWallet
		data["dest_wallet"] = reward.DestWallet
		if reward.Points > 0 {
			data["points"] = reward.Points
		}
		message = fmt.Sprintf("%s: %s to %s", reward.TxType,
			utils.FormatLamports(reward.AmountLamports), utils.ShortSignature(reward.DestWallet))
	}
	if applied.Subscription != nil {
		data["subscription_status"] = applied.Subscription.Status
		data["subscription_expires_at"] = applied.Subscription.ExpiresAt
	}

	return &models.Notification{
		ID:        fmt.Sprintf("%s-%s", rule.ID, event.ID),
		Type:      rule.Channel,
		EventID:   event.ID,
		Title:     fmt.Sprintf("%s: %s", rule.Name, event.EventName),
		Message:   message,
		Data:      data,
		Target:    rule.Target,
		Status:    "pending",
		CreatedAt: time.Now().UTC(),
	}
}

// DefaultRules returns the notification rules installed when none are
// configured
func DefaultRules() []*NotificationRule {
	now := time.Now().UTC()
	return []*NotificationRule{
		{
			ID:          "large-purchase",
			Name:        "Large asset purchase",
			Description: "Purchases of 10 SOL or more",
			Enabled:     true,
			Priority:    10,
			EventNames:  []string{anchor.EventAssetPurchased},
			DataConditions: map[string]string{
				"price": ">= 10000000000",
			},
			Channel:   models.NotificationTypeLog,
			CreatedAt: now,
			UpdatedAt: now,
		},
		{
			ID:          "membership-refund",
			Name:        "Membership refund issued",
			Description: "Cancellations that returned lamports to the subscriber",
			Enabled:     true,
			Priority:    5,
			TxTypes:     []string{models.TxTypeMembershipRefund},
			Channel:     models.NotificationTypeLog,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
	}
}
