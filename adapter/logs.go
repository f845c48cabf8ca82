package adapter

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// transferTopic is the topic hash of the erc20 Transfer event.
var transferTopic = crypto.Keccak256Hash(
	[]byte("Transfer(address,address,uint256)"),
)

// burnAddress is where burned tokens are transferred to.
var burnAddress = common.Address{}

// ParseTransferAmount extracts the amount the given token transferred to the
// given recipient from a settlement receipt. A successful settlement always
// emits exactly this transfer, so a receipt without a matching log means the
// settlement did not deliver funds and is treated as a hard error rather
// than a zero amount.
func ParseTransferAmount(receipt *types.Receipt, token common.Address,
	recipient common.Address) (*big.Int, error) {

	for _, txLog := range receipt.Logs {
		if txLog.Address != token {
			continue
		}
		if len(txLog.Topics) != 3 {
			continue
		}
		if txLog.Topics[0] != transferTopic {
			continue
		}

		to := common.BytesToAddress(txLog.Topics[2].Bytes())
		if to != recipient {
			continue
		}

		return new(big.Int).SetBytes(txLog.Data), nil
	}

	return nil, fmt.Errorf("no transfer of %v to %v in tx %v", token,
		recipient, receipt.TxHash)
}

// ParseBurnAmount extracts the amount of tokens destroyed in a burn receipt.
// A burn shows up as a transfer to the zero address.
func ParseBurnAmount(receipt *types.Receipt,
	token common.Address) (*big.Int, error) {

	return ParseTransferAmount(receipt, token, burnAddress)
}
