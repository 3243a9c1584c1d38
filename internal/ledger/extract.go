// File: internal/ledger/extract.go
package ledger

import (
	"fmt"
	"strconv"

	"github.com/handcraft-labs/handcraft-event-listener/pkg/utils"
)

// Field accessors tolerate both freshly decoded events (native uint64/int64)
// and events re-read from JSON storage (float64, string), so replayed events
// map identically.

func uintField(data map[string]interface{}, name string) (uint64, error) {
	value, ok := data[name]
	if !ok {
		return 0, utils.NewAppError(utils.ErrCodeValidation, "missing event field", name)
	}
	switch v := value.(type) {
	case uint64:
		return v, nil
	case int64:
		if v < 0 {
			return 0, utils.NewAppError(utils.ErrCodeValidation, "negative value for unsigned field", name)
		}
		return uint64(v), nil
	case float64:
		if v < 0 || v != float64(uint64(v)) {
			return 0, utils.NewAppError(utils.ErrCodeValidation, "non-integral value for unsigned field", name)
		}
		return uint64(v), nil
	case string:
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return 0, utils.NewAppError(utils.ErrCodeValidation, "unparsable value for unsigned field", name)
		}
		return parsed, nil
	default:
		return 0, utils.NewAppError(utils.ErrCodeValidation, "unexpected type for unsigned field",
			fmt.Sprintf("%s: %T", name, value))
	}
}

func intField(data map[string]interface{}, name string) (int64, error) {
	value, ok := data[name]
	if !ok {
		return 0, utils.NewAppError(utils.ErrCodeValidation, "missing event field", name)
	}
	switch v := value.(type) {
	case int64:
		return v, nil
	case uint64:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case string:
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, utils.NewAppError(utils.ErrCodeValidation, "unparsable value for signed field", name)
		}
		return parsed, nil
	default:
		return 0, utils.NewAppError(utils.ErrCodeValidation, "unexpected type for signed field",
			fmt.Sprintf("%s: %T", name, value))
	}
}

func boolField(data map[string]interface{}, name string) (bool, error) {
	value, ok := data[name]
	if !ok {
		return false, utils.NewAppError(utils.ErrCodeValidation, "missing event field", name)
	}
	b, ok := value.(bool)
	if !ok {
		return false, utils.NewAppError(utils.ErrCodeValidation, "unexpected type for bool field",
			fmt.Sprintf("%s: %T", name, value))
	}
	return b, nil
}

func stringField(data map[string]interface{}, name string) (string, error) {
	value, ok := data[name]
	if !ok {
		return "", utils.NewAppError(utils.ErrCodeValidation, "missing event field", name)
	}
	s, ok := value.(string)
	if !ok {
		return "", utils.NewAppError(utils.ErrCodeValidation, "unexpected type for string field",
			fmt.Sprintf("%s: %T", name, value))
	}
	return s, nil
}

func pubkeyField(data map[string]interface{}, name string) (string, error) {
	s, err := stringField(data, name)
	if err != nil {
		return "", err
	}
	if !utils.IsValidPubkey(s) {
		return "", utils.NewAppError(utils.ErrCodeValidation, "invalid pubkey in event field", name)
	}
	return s, nil
}

func optionalPubkeyField(data map[string]interface{}, name string) (*string, error) {
	value, ok := data[name]
	if !ok || value == nil {
		return nil, nil
	}
	s, ok := value.(string)
	if !ok {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "unexpected type for optional pubkey field",
			fmt.Sprintf("%s: %T", name, value))
	}
	if !utils.IsValidPubkey(s) {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "invalid pubkey in event field", name)
	}
	return &s, nil
}
