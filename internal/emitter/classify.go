package emitter

import (
	"fmt"

	"github.com/goran-ethernal/chainwatch/pkg/buffer"
	"github.com/goran-ethernal/chainwatch/pkg/chain"
)

// eventKey identifies a log by its confirmation-buffer primary key.
type eventKey struct {
	txHash   string
	logIndex uint
}

func keyOf(l chain.LogRecord) eventKey {
	return eventKey{txHash: l.TransactionHash.Hex(), logIndex: l.LogIndex}
}

// filterByEventName keeps only logs whose EventName is in events. It
// is a no-op when events is empty (the Topics filter, applied
// server-side, is preferred whenever it is configured).
func filterByEventName(logs []chain.LogRecord, events []string) []chain.LogRecord {
	if len(events) == 0 {
		return logs
	}

	wanted := make(map[string]struct{}, len(events))
	for _, e := range events {
		wanted[e] = struct{}{}
	}

	filtered := make([]chain.LogRecord, 0, len(logs))
	for _, l := range logs {
		if _, ok := wanted[l.EventName]; ok {
			filtered = append(filtered, l)
		}
	}
	return filtered
}

// classify splits logs into those already past the configured
// confirmation depth (confirmed, to be yielded immediately) and those
// still shallower (to be durably buffered). confirmations == 0 routes
// every log to confirmed.
func classify(logs []chain.LogRecord, currentNumber, confirmations uint64) (confirmed []chain.LogRecord, buffered []buffer.Event, err error) {
	for _, l := range logs {
		if confirmations == 0 || isConfirmedAt(l.BlockNumber, currentNumber, confirmations) {
			confirmed = append(confirmed, l)
			continue
		}

		content, encErr := EncodeLogRecord(l)
		if encErr != nil {
			return nil, nil, fmt.Errorf("failed to encode log record for buffering: %w", encErr)
		}

		buffered = append(buffered, buffer.Event{
			ContractAddress:    l.Address,
			BlockNumber:        l.BlockNumber,
			BlockHash:          l.BlockHash,
			TransactionHash:    l.TransactionHash,
			LogIndex:           l.LogIndex,
			EventName:          l.EventName,
			TargetConfirmation: confirmations,
			Emitted:            false,
			Content:            content,
		})
	}
	return confirmed, buffered, nil
}

// isConfirmedAt reports whether a log at blockNumber has already
// reached confirmations depth relative to currentNumber.
func isConfirmedAt(blockNumber, currentNumber, confirmations uint64) bool {
	if blockNumber > currentNumber {
		return false
	}
	return blockNumber <= currentNumber-confirmations
}

// numBatches computes ceil((to-from+1)/batchSize).
func numBatches(from, to, batchSize uint64) uint64 {
	span := to - from + 1
	return (span + batchSize - 1) / batchSize
}

// batchRange returns the closed interval batch i covers, given the
// overall [from, to] range and batchSize. The first batch starts
// exactly at from; subsequent batches never overlap the prior
// boundary.
func batchRange(from, to, batchSize, i uint64) (stepFrom, stepTo uint64) {
	stepFrom = from + i*batchSize
	stepTo = stepFrom + batchSize - 1
	if stepTo > to {
		stepTo = to
	}
	return stepFrom, stepTo
}
