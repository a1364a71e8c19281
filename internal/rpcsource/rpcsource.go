// Package rpcsource is the default chain.LogSource: it wraps a
// go-ethereum JSON-RPC connection, retries transient failures with
// exponential backoff, and recursively splits an eth_getLogs range
// that a node rejects for returning too many results.
//
// It has no ABI awareness. LogRecord.EventName is filled with the hex
// topic0 signature, not a decoded human name — callers that need
// name-based filtering should prefer the server-side Topics filter
// (hashed at construction time) or wrap this source with their own
// decoder.
package rpcsource

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/goran-ethernal/chainwatch/internal/logger"
	"github.com/goran-ethernal/chainwatch/pkg/chain"
	"github.com/goran-ethernal/chainwatch/pkg/config"
)

// Source is the default chain.LogSource implementation.
type Source struct {
	eth   EthClient
	retry *config.RetryConfig
	log   *logger.Logger
}

var _ chain.LogSource = (*Source)(nil)

// New dials endpoint and returns a ready-to-use Source. retry may be
// nil, in which case RPC calls are attempted exactly once.
func New(ctx context.Context, endpoint string, retry *config.RetryConfig, log *logger.Logger) (*Source, error) {
	c, err := dial(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rpc endpoint: %w", err)
	}

	return newSource(c, retry, log), nil
}

// newSource builds a Source over an already-connected EthClient,
// letting tests substitute a fake.
func newSource(eth EthClient, retry *config.RetryConfig, log *logger.Logger) *Source {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	return &Source{
		eth:   eth,
		retry: retry,
		log:   log.WithComponent("rpc-source"),
	}
}

// Close releases the underlying RPC connection.
func (s *Source) Close() {
	s.eth.Close()
}

// GetBlockHeader fetches a header by number, or the chain head when
// number equals chain.LatestBlockTag.
func (s *Source) GetBlockHeader(ctx context.Context, number uint64) (chain.BlockRef, error) {
	var header *types.Header

	err := retryWithBackoff(ctx, s.retry, "get_block_header", func() error {
		var callErr error
		start := time.Now()

		if number == chain.LatestBlockTag {
			header, callErr = s.eth.GetLatestBlockHeader(ctx)
		} else {
			header, callErr = s.eth.GetBlockHeader(ctx, number)
		}

		rpcMethodInc("get_block_header")
		rpcMethodDuration("get_block_header", time.Since(start))
		if callErr != nil {
			rpcMethodError("get_block_header", classifyError(callErr))
		}
		return callErr
	})
	if err != nil {
		return chain.BlockRef{}, fmt.Errorf("failed to get block header: %w", err)
	}

	return chain.BlockRef{Number: header.Number.Uint64(), Hash: header.Hash()}, nil
}

// GetPastLogs fetches logs over the closed interval [fromBlock, toBlock],
// recursively splitting the range if the node rejects the call for
// returning too many results.
func (s *Source) GetPastLogs(
	ctx context.Context,
	fromBlock, toBlock uint64,
	address ethcommon.Address,
	topics [][]ethcommon.Hash,
) ([]chain.LogRecord, error) {
	logs, err := s.fetchLogsWithRetry(ctx, fromBlock, toBlock, address, topics)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch logs: %w", err)
	}

	records := make([]chain.LogRecord, 0, len(logs))
	for _, l := range logs {
		records = append(records, toLogRecord(l))
	}

	return records, nil
}

// fetchLogsWithRetry fetches logs for [fromBlock, toBlock] and, on a
// "too many results" rejection, recursively retries with either the
// node-suggested range or half the original range.
func (s *Source) fetchLogsWithRetry(
	ctx context.Context,
	fromBlock, toBlock uint64,
	address ethcommon.Address,
	topics [][]ethcommon.Hash,
) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: big.NewInt(int64(fromBlock)),
		ToBlock:   big.NewInt(int64(toBlock)),
		Addresses: []ethcommon.Address{address},
		Topics:    topics,
	}

	var logs []types.Log
	err := retryWithBackoff(ctx, s.retry, "get_logs", func() error {
		start := time.Now()
		var callErr error
		logs, callErr = s.eth.GetLogs(ctx, query)

		rpcMethodInc("get_logs")
		rpcMethodDuration("get_logs", time.Since(start))
		if callErr != nil {
			rpcMethodError("get_logs", classifyError(callErr))
		}
		return callErr
	})
	if err == nil {
		return logs, nil
	}

	kind, errData := classifyRPCError(err)
	if kind != kindTooManyResults {
		return nil, err
	}

	rpcSplitRetryInc(address.Hex())

	var newFrom, newTo uint64
	if suggestedFrom, suggestedTo, ok := parseSuggestedBlockRange(errData); ok {
		s.log.Infof("too many logs, retrying with suggested range [%d, %d] (original [%d, %d])",
			suggestedFrom, suggestedTo, fromBlock, toBlock)
		newFrom, newTo = suggestedFrom, suggestedTo
	} else {
		const splitBy = 2
		mid := (fromBlock + toBlock) / splitBy

		if mid == fromBlock {
			return nil, fmt.Errorf("cannot split range further, single block %d has too many logs", fromBlock)
		}

		s.log.Infof("too many logs, retrying with smaller range [%d, %d] (original [%d, %d])",
			fromBlock, mid, fromBlock, toBlock)
		newFrom, newTo = fromBlock, mid
	}

	return s.fetchLogsWithRetry(ctx, newFrom, newTo, address, topics)
}

// toLogRecord converts a raw go-ethereum log into the pipeline's
// chain-agnostic record. EventName is the hex topic0 signature, since
// ABI decoding is out of scope for this adapter.
func toLogRecord(l types.Log) chain.LogRecord {
	var eventName string
	if len(l.Topics) > 0 {
		eventName = l.Topics[0].Hex()
	}

	return chain.LogRecord{
		BlockNumber:     l.BlockNumber,
		BlockHash:       l.BlockHash,
		TransactionHash: l.TxHash,
		LogIndex:        l.Index,
		Address:         l.Address,
		EventName:       eventName,
		Topics:          l.Topics,
		DecodedPayload:  l.Data,
	}
}

// classifyError buckets an RPC error for the error_type metric label.
func classifyError(err error) string {
	kind, _ := classifyRPCError(err)
	return kind.String()
}
