package emitter

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_ApplyDefaults_HashesEventSignatures(t *testing.T) {
	cfg := Config{
		EventSignatures: []string{
			"Transfer(address,address,uint256)",
			"Approval(address,address,uint256)",
		},
	}
	cfg.ApplyDefaults()

	require.Len(t, cfg.Topics, 1)
	require.Len(t, cfg.Topics[0], 2)
	assert.Equal(t, crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)")), cfg.Topics[0][0])
	assert.Equal(t, crypto.Keccak256Hash([]byte("Approval(address,address,uint256)")), cfg.Topics[0][1])
}

func TestConfig_ApplyDefaults_EventSignaturesMergeIntoExistingTopics(t *testing.T) {
	transferTopic := crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
	indexedArg := common.HexToHash("0x000000000000000000000000abcabcabcabcabcabcabcabcabcabcabcabcabc")

	cfg := Config{
		Topics:          [][]common.Hash{{transferTopic}, {indexedArg}},
		EventSignatures: []string{"Approval(address,address,uint256)"},
	}
	cfg.ApplyDefaults()

	require.Len(t, cfg.Topics, 2)
	assert.ElementsMatch(t, []common.Hash{
		transferTopic,
		crypto.Keccak256Hash([]byte("Approval(address,address,uint256)")),
	}, cfg.Topics[0])
	assert.Equal(t, []common.Hash{indexedArg}, cfg.Topics[1])
}

func TestConfig_Validate(t *testing.T) {
	t.Run("rejects config with no filter at all", func(t *testing.T) {
		cfg := Config{BatchSize: 1}
		var cfgErr *ConfigurationError
		require.ErrorAs(t, cfg.Validate(), &cfgErr)
	})

	t.Run("accepts EventSignatures once folded into Topics", func(t *testing.T) {
		cfg := Config{EventSignatures: []string{"Transfer(address,address,uint256)"}}
		cfg.ApplyDefaults()
		require.NoError(t, cfg.Validate())
	})

	t.Run("rejects non-positive BatchSize", func(t *testing.T) {
		cfg := Config{Events: []string{"Transfer"}, BatchSize: 0}
		var cfgErr *ConfigurationError
		require.ErrorAs(t, cfg.Validate(), &cfgErr)
	})
}
