package adapter

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

// TestParseTransferAmount asserts that only the transfer of the right token
// to the right recipient is picked out of a receipt, and that a receipt
// without one is a hard error.
func TestParseTransferAmount(t *testing.T) {
	otherToken := common.HexToAddress("0x01")
	otherRecipient := common.HexToAddress("0x02")

	amount := new(big.Int)
	amount.SetString("12500000000000000000", 10)

	makeLog := func(token, to common.Address,
		value *big.Int) *types.Log {

		return &types.Log{
			Address: token,
			Topics: []common.Hash{
				transferTopic,
				common.Hash{},
				common.BytesToHash(to.Bytes()),
			},
			Data: common.BigToHash(value).Bytes(),
		}
	}

	receipt := &types.Receipt{
		TxHash: common.HexToHash("0xaa"),
		Logs: []*types.Log{
			// Same recipient, different token.
			makeLog(otherToken, testRecipient, big.NewInt(1)),

			// Right token, different recipient.
			makeLog(testToken, otherRecipient, big.NewInt(2)),

			// Right token, wrong event.
			{
				Address: testToken,
				Topics: []common.Hash{
					common.HexToHash("0x03"),
					common.Hash{},
					common.BytesToHash(
						testRecipient.Bytes(),
					),
				},
				Data: common.BigToHash(
					big.NewInt(3),
				).Bytes(),
			},

			// The transfer we are after.
			makeLog(testToken, testRecipient, amount),
		},
	}

	got, err := ParseTransferAmount(receipt, testToken, testRecipient)
	require.NoError(t, err)
	require.Equal(t, amount, got)

	// No matching log at all.
	_, err = ParseTransferAmount(
		&types.Receipt{TxHash: common.HexToHash("0xbb")},
		testToken, testRecipient,
	)
	require.Error(t, err)

	// Burns are transfers to the zero address.
	receipt.Logs = append(receipt.Logs, makeLog(
		testToken, common.Address{}, big.NewInt(42),
	))

	burned, err := ParseBurnAmount(receipt, testToken)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(42), burned)
}
