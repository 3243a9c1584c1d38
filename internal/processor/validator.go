// File: internal/processor/validator.go
package processor

import (
	"fmt"
	"strings"
	"time"

	"github.com/handcraft-labs/handcraft-event-listener/internal/anchor"
	"github.com/handcraft-labs/handcraft-event-listener/internal/models"
	"github.com/handcraft-labs/handcraft-event-listener/pkg/utils"
)

// PayloadValidator validates incoming transaction payloads and decoded events
type PayloadValidator struct {
	program        string
	requiredFields map[string][]string
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string      `json:"field"`
	Type    string      `json:"type"` // required, format, range
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
}

// ValidationResult contains validation results
type ValidationResult struct {
	Valid  bool               `json:"valid"`
	Errors []*ValidationError `json:"errors,omitempty"`
}

// NewPayloadValidator creates a validator bound to one program ID
func NewPayloadValidator(program string) *PayloadValidator {
	return &PayloadValidator{
		program: program,
		requiredFields: map[string][]string{
			anchor.EventAssetPurchased:      {"asset", "buyer", "creator", "price"},
			anchor.EventStreamRewardVested:  {"viewer", "creator", "rate", "watched_seconds", "duration_seconds"},
			anchor.EventTipSent:             {"sender", "recipient", "amount"},
			anchor.EventMembershipStarted:   {"subscriber", "creator", "amount", "period_days"},
			anchor.EventMembershipRenewed:   {"subscriber", "creator", "amount", "period_days"},
			anchor.EventMembershipCancelled: {"subscriber", "creator", "refund"},
			anchor.EventRewardsClaimed:      {"wallet", "amount", "kind"},
		},
	}
}

// ValidatePayload checks a webhook payload before decoding
func (pv *PayloadValidator) ValidatePayload(payload *models.TransactionPayload) error {
	signature := payload.TxSignature()
	if signature == "" {
		return utils.NewAppError(utils.ErrCodeValidation,
			"Payload validation failed", "transaction signature is missing")
	}
	if !utils.IsValidSignature(signature) {
		return utils.NewAppError(utils.ErrCodeValidation,
			"Payload validation failed",
			fmt.Sprintf("malformed transaction signature: %s", utils.ShortSignature(signature)))
	}
	if payload.Slot == 0 {
		return utils.NewAppError(utils.ErrCodeValidation,
			"Payload validation failed", "slot is missing")
	}
	if len(payload.LogMessages()) == 0 {
		return utils.NewAppError(utils.ErrCodeValidation,
			"Payload validation failed", "payload carries no log messages")
	}
	return nil
}

// ValidateEvent validates a decoded event
func (pv *PayloadValidator) ValidateEvent(event *models.ProgramEvent) error {
	result := pv.ValidateEventDetailed(event)
	if !result.Valid {
		var errorMessages []string
		for _, err := range result.Errors {
			errorMessages = append(errorMessages, fmt.Sprintf("%s: %s", err.Field, err.Message))
		}
		return utils.NewAppError(utils.ErrCodeValidation,
			"Event validation failed",
			strings.Join(errorMessages, "; "))
	}
	return nil
}

// ValidateEventDetailed validates an event and returns detailed results
func (pv *PayloadValidator) ValidateEventDetailed(event *models.ProgramEvent) *ValidationResult {
	result := &ValidationResult{
		Valid:  true,
		Errors: []*ValidationError{},
	}

	pv.validateRequiredFields(event, result)
	pv.validateFormats(event, result)
	pv.validateBusinessLogic(event, result)
	pv.validateEventData(event, result)

	result.Valid = len(result.Errors) == 0
	return result
}

func (pv *PayloadValidator) validateRequiredFields(event *models.ProgramEvent, result *ValidationResult) {
	if event.ID == "" {
		result.Errors = append(result.Errors, &ValidationError{
			Field:   "id",
			Type:    "required",
			Message: "Event ID is required",
		})
	}

	if event.Signature == "" {
		result.Errors = append(result.Errors, &ValidationError{
			Field:   "signature",
			Type:    "required",
			Message: "Transaction signature is required",
		})
	}

	if event.EventName == "" {
		result.Errors = append(result.Errors, &ValidationError{
			Field:   "event_name",
			Type:    "required",
			Message: "Event name is required",
		})
	}

	if event.Program == "" {
		result.Errors = append(result.Errors, &ValidationError{
			Field:   "program",
			Type:    "required",
			Message: "Program ID is required",
		})
	}
}

func (pv *PayloadValidator) validateFormats(event *models.ProgramEvent, result *ValidationResult) {
	if event.Signature != "" && !utils.IsValidSignature(event.Signature) {
		result.Errors = append(result.Errors, &ValidationError{
			Field:   "signature",
			Type:    "format",
			Message: "signature is not base58 of 64 bytes",
			Value:   event.Signature,
		})
	}

	if event.Program != "" && !utils.IsValidPubkey(event.Program) {
		result.Errors = append(result.Errors, &ValidationError{
			Field:   "program",
			Type:    "format",
			Message: "program ID is not base58 of 32 bytes",
			Value:   event.Program,
		})
	}

	if pv.program != "" && event.Program != "" && event.Program != pv.program {
		result.Errors = append(result.Errors, &ValidationError{
			Field:   "program",
			Type:    "format",
			Message: fmt.Sprintf("event belongs to program %s, expected %s", event.Program, pv.program),
			Value:   event.Program,
		})
	}
}

func (pv *PayloadValidator) validateBusinessLogic(event *models.ProgramEvent, result *ValidationResult) {
	if event.Slot == 0 {
		result.Errors = append(result.Errors, &ValidationError{
			Field:   "slot",
			Type:    "range",
			Message: "Slot must be greater than 0",
			Value:   event.Slot,
		})
	}

	if !event.BlockTime.IsZero() && event.BlockTime.After(time.Now().Add(1*time.Hour)) {
		result.Errors = append(result.Errors, &ValidationError{
			Field:   "block_time",
			Type:    "range",
			Message: "Block time is too far in the future",
			Value:   event.BlockTime,
		})
	}

	// A single transaction never carries this many program logs
	if event.LogIndex > 10000 {
		result.Errors = append(result.Errors, &ValidationError{
			Field:   "log_index",
			Type:    "range",
			Message: "Log index is unusually high",
			Value:   event.LogIndex,
		})
	}
}

func (pv *PayloadValidator) validateEventData(event *models.ProgramEvent, result *ValidationResult) {
	required, known := pv.requiredFields[event.EventName]
	if !known {
		return
	}

	for _, field := range required {
		if _, exists := event.Data[field]; !exists {
			result.Errors = append(result.Errors, &ValidationError{
				Field:   field,
				Type:    "required",
				Message: fmt.Sprintf("%s event is missing %q", event.EventName, field),
			})
		}
	}
}
