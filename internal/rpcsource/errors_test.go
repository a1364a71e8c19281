package rpcsource

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// rpcDataError mimics the shape go-ethereum's rpc.Client returns for a
// JSON-RPC error object carrying a `data` field, without pulling in the
// real rpc package just to get an error value.
type rpcDataError struct {
	data any
	msg  string
}

func (e *rpcDataError) Error() string  { return e.msg }
func (e *rpcDataError) ErrorData() any { return e.data }

func TestIsTooManyResultsError(t *testing.T) {
	t.Parallel()

	tooManyMsg := "Query returned more than 20000 results. Try with this block range [0x7dfd25, 0x7e0fcc]."

	tests := []struct {
		name      string
		err       error
		wantMatch bool
		wantData  string
	}{
		{name: "nil error does not match"},
		{
			name: "plain error without ErrorData does not match",
			err:  errors.New("connection refused"),
		},
		{
			name:     "DataError unrelated to result limits does not match",
			err:      &rpcDataError{data: "nonce too low", msg: "nonce too low"},
			wantData: "nonce too low",
		},
		{
			name:      "DataError reporting too many results matches",
			err:       &rpcDataError{data: tooManyMsg, msg: tooManyMsg},
			wantMatch: true,
			wantData:  tooManyMsg,
		},
		{
			name:     "message that merely resembles the limit error does not match",
			err:      &rpcDataError{data: "Query returned less than 20000 results.", msg: "Query returned less than 20000 results."},
			wantData: "Query returned less than 20000 results.",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			gotMatch, gotData := isTooManyResultsError(tt.err)

			require.Equal(t, tt.wantMatch, gotMatch)
			require.Equal(t, tt.wantData, gotData)
		})
	}
}

func TestClassifyRPCError(t *testing.T) {
	t.Parallel()

	tooManyMsg := "Query returned more than 20000 results. Try with this block range [0x1, 0x2]."

	tests := []struct {
		name     string
		err      error
		wantKind rpcFailureKind
	}{
		{name: "nil error is permanent", err: nil, wantKind: kindPermanent},
		{name: "unrecognized error is permanent", err: errors.New("execution reverted"), wantKind: kindPermanent},
		{name: "timeout is transient", err: errors.New("request timeout after 30s"), wantKind: kindTransient},
		{name: "rate limit is transient", err: errors.New("429 too many requests"), wantKind: kindTransient},
		{
			name:     "too many results takes priority over transient substrings",
			err:      &rpcDataError{data: tooManyMsg, msg: tooManyMsg},
			wantKind: kindTooManyResults,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			kind, _ := classifyRPCError(tt.err)
			require.Equal(t, tt.wantKind, kind)
		})
	}
}

func TestParseSuggestedBlockRange(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		errMsg   string
		wantFrom uint64
		wantTo   uint64
		wantOK   bool
	}{
		{name: "empty message yields no range"},
		{
			name:   "message without a bracketed range yields no range",
			errMsg: "Query returned more than 20000 results.",
		},
		{
			name:     "standard suggested range parses",
			errMsg:   "Query returned more than 20000 results. Try with this block range [0x7dfd25, 0x7e0fcc].",
			wantFrom: 8256805,
			wantTo:   8261580,
			wantOK:   true,
		},
		{
			name:     "extra whitespace around the bounds is tolerated",
			errMsg:   "Try with this block range [0x1aBc,   0x2DEF].",
			wantFrom: 6844,
			wantTo:   11759,
			wantOK:   true,
		},
		{
			name:   "non-hex bound fails to parse",
			errMsg: "Try with this block range [0xZZZZ, 0x1234].",
		},
		{
			name:   "missing brackets fails to parse",
			errMsg: "Try with this block range 0x1234, 0x5678.",
		},
		{
			name:     "only the first of several ranges is taken",
			errMsg:   "Try with these ranges [0x10, 0x20] and [0x30, 0x40].",
			wantFrom: 16,
			wantTo:   32,
			wantOK:   true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			from, to, ok := parseSuggestedBlockRange(tt.errMsg)

			require.Equal(t, tt.wantOK, ok)
			require.Equal(t, tt.wantFrom, from)
			require.Equal(t, tt.wantTo, to)
		})
	}
}
