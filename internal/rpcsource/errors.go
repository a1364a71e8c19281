package rpcsource

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/goran-ethernal/chainwatch/internal/common"
)

// rpcFailureKind classifies an RPC error for both retry decisions and
// metrics labeling, so the two never disagree about the same error.
type rpcFailureKind int

const (
	// kindPermanent covers anything retrying won't fix: malformed
	// filters, reverted calls, anything not matched below.
	kindPermanent rpcFailureKind = iota
	// kindTransient covers network/timeout/rate-limit/server errors
	// that are worth retrying with backoff.
	kindTransient
	// kindTooManyResults is a node-side rejection of an eth_getLogs
	// call for returning more rows than it's willing to return; the
	// fix is to split the range, not to retry it unchanged.
	kindTooManyResults
)

func (k rpcFailureKind) String() string {
	switch k {
	case kindTransient:
		return "transient"
	case kindTooManyResults:
		return "too_many_results"
	default:
		return "permanent"
	}
}

var tooManyResultsPattern = regexp.MustCompile(`Query returned more than \d+ results`)

var transientPatterns = []string{
	"timeout",
	"deadline exceeded",
	"context deadline exceeded",
	"429",
	"too many requests",
	"rate limit",
	"502",
	"503",
	"504",
	"bad gateway",
	"service unavailable",
	"gateway timeout",
	"connection pool",
	"no available connection",
}

// classifyRPCError buckets an error from an RPC call: too-many-results
// rejections take priority over generic transient detection since a
// "too many results" error can otherwise also match network/timeout
// substrings embedded in the node's message.
func classifyRPCError(err error) (kind rpcFailureKind, errData string) {
	if err == nil {
		return kindPermanent, ""
	}

	if ok, data := isTooManyResultsError(err); ok {
		return kindTooManyResults, data
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return kindTransient, ""
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return kindTransient, ""
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return kindTransient, ""
		}
	}

	return kindPermanent, ""
}

// isTooManyResultsError reports whether err is a node-side "too many
// results" rejection of an eth_getLogs call, returning the raw error
// data so the caller can try to recover a suggested block range from
// it.
func isTooManyResultsError(err error) (bool, string) {
	if err == nil {
		return false, ""
	}

	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		errData := fmt.Sprintf("%v", dataErr.ErrorData())
		return tooManyResultsPattern.MatchString(errData), errData
	}

	return false, ""
}

var suggestedRangePattern = regexp.MustCompile(`\[(0x[0-9a-fA-F]+),\s*(0x[0-9a-fA-F]+)\]`)

// parseSuggestedBlockRange extracts a node-suggested retry range from
// a "too many results" error, e.g.
// "Query returned more than 20000 results. Try with this block range [0x7dfd25, 0x7e0fcc]."
func parseSuggestedBlockRange(errData string) (fromBlock, toBlock uint64, ok bool) {
	if errData == "" {
		return 0, 0, false
	}

	matches := suggestedRangePattern.FindStringSubmatch(errData)
	const expectedMatches = 3 // full match + 2 groups
	if len(matches) != expectedMatches {
		return 0, 0, false
	}

	from, err1 := common.ParseUint64orHex(&matches[1])
	to, err2 := common.ParseUint64orHex(&matches[2])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}

	return from, to, true
}

// PermanentRPCError wraps an RPC failure that classifyRPCError judged
// not worth retrying, so a caller can distinguish it from a transient
// failure via errors.As without re-running the same string matching.
type PermanentRPCError struct {
	Op  string
	Err error
}

func (e *PermanentRPCError) Error() string {
	return fmt.Sprintf("rpcsource: permanent failure in %s: %v", e.Op, e.Err)
}

func (e *PermanentRPCError) Unwrap() error { return e.Err }
