package emitter

import (
	"encoding/json"
	"fmt"

	"github.com/goran-ethernal/chainwatch/pkg/chain"
)

// EncodeLogRecord serializes a log record for storage in a buffered
// row's opaque content column.
func EncodeLogRecord(l chain.LogRecord) ([]byte, error) {
	b, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("failed to encode log record: %w", err)
	}
	return b, nil
}

// DecodeLogRecord is the inverse of EncodeLogRecord, used by the
// Confirmator when promoting a buffered row to newEvent.
func DecodeLogRecord(content []byte) (chain.LogRecord, error) {
	var l chain.LogRecord
	if err := json.Unmarshal(content, &l); err != nil {
		return chain.LogRecord{}, fmt.Errorf("failed to decode log record: %w", err)
	}
	return l, nil
}
