// File: internal/anchor/logs.go
package anchor

import (
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/handcraft-labs/handcraft-event-listener/internal/models"
	"github.com/handcraft-labs/handcraft-event-listener/pkg/utils"
)

// Log line prefixes written by the Solana runtime
const (
	programDataPrefix = "Program data: "
	programPrefix     = "Program "
)

// DataEntry is one program-data log line attributed to its emitting program
type DataEntry struct {
	Program  string
	LogIndex uint
	Payload  string // base64
}

// ExtractProgramData walks transaction log lines in order and returns the
// data entries emitted by program. Data lines are attributed by tracking the
// program invocation stack: "Program X invoke [n]" pushes, "Program X
// success" or "Program X failed: ..." pops. Data emitted by inner programs
// (CPI) is ignored unless the inner program is the tracked one.
func ExtractProgramData(logs []string, program string) []DataEntry {
	var (
		entries []DataEntry
		stack   []string
	)

	for i, line := range logs {
		switch {
		case strings.HasPrefix(line, programDataPrefix):
			if len(stack) == 0 || stack[len(stack)-1] != program {
				continue
			}
			entries = append(entries, DataEntry{
				Program:  program,
				LogIndex: uint(i),
				Payload:  strings.TrimPrefix(line, programDataPrefix),
			})
		case strings.HasPrefix(line, programPrefix):
			fields := strings.Fields(line[len(programPrefix):])
			if len(fields) < 2 {
				continue
			}
			switch fields[1] {
			case "invoke":
				stack = append(stack, fields[0])
			case "success", "failed:":
				if len(stack) > 0 && stack[len(stack)-1] == fields[0] {
					stack = stack[:len(stack)-1]
				}
			}
		}
	}

	return entries
}

// TransactionDecoder decodes the tracked program's events out of webhook
// payloads
type TransactionDecoder struct {
	program string
	decoder *Decoder
	logger  *logrus.Logger
}

// NewTransactionDecoder creates a decoder bound to one program ID
func NewTransactionDecoder(program string) *TransactionDecoder {
	return &TransactionDecoder{
		program: program,
		decoder: NewDecoder(NewRegistry()),
		logger:  utils.GetLogger(),
	}
}

// Program returns the tracked program ID
func (td *TransactionDecoder) Program() string {
	return td.program
}

// DecodeTransaction extracts and decodes all tracked events from one
// payload. Unknown discriminators are skipped with a debug log; payloads
// that match a known event but fail to decode are returned as errors
// alongside whatever did decode.
func (td *TransactionDecoder) DecodeTransaction(payload *models.TransactionPayload) ([]*models.ProgramEvent, []error) {
	signature := payload.TxSignature()
	blockTime := payload.BlockTimestamp()

	var (
		events []*models.ProgramEvent
		errs   []error
	)

	for _, entry := range ExtractProgramData(payload.LogMessages(), td.program) {
		name, data, err := td.decoder.DecodeBase64(entry.Payload)
		if err != nil {
			if errors.Is(err, ErrUnknownEvent) {
				td.logger.WithFields(logrus.Fields{
					"signature": utils.ShortSignature(signature),
					"log_index": entry.LogIndex,
				}).Debug("Skipping untracked event")
				continue
			}
			errs = append(errs, err)
			continue
		}

		events = append(events, &models.ProgramEvent{
			ID:         utils.CreateEventID(signature, entry.LogIndex),
			Signature:  signature,
			Slot:       payload.Slot,
			LogIndex:   entry.LogIndex,
			Program:    entry.Program,
			EventName:  name,
			Data:       data,
			BlockTime:  blockTime,
			ReceivedAt: time.Now().UTC(),
		})
	}

	return events, errs
}
