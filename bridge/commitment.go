package bridge

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Commitment is the canonical, hashable description of a trade's fixed
// terms. The bridge derives the deposit address from the commitment hash and
// the adapter contract binds the settlement to the same hash, which ties the
// on-chain settlement to a specific off-chain deposit.
type Commitment struct {
	// SrcToken is the Ethereum-representation contract of the source
	// token.
	SrcToken common.Address

	// DstToken is the Ethereum-representation contract of the
	// destination token.
	DstToken common.Address

	// MinDstAmount is the least acceptable destination amount in base
	// units.
	MinDstAmount *big.Int

	// ToAddress is the Ethereum destination of a mint settlement. For
	// burns this is the adapter itself.
	ToAddress common.Address

	// RefundBlockNumber is the Ethereum block after which the deposit
	// becomes refundable.
	RefundBlockNumber uint64

	// RefundAddress is the foreign-chain address the deposit is refunded
	// to, as raw address bytes.
	RefundAddress []byte
}

// commitmentArgs is the ABI tuple the commitment is encoded as before
// hashing. The field order is fixed; two commitments with equal fields
// always encode, and therefore hash, identically.
var commitmentArgs = mustArguments(
	"address", "address", "uint256", "address", "uint256", "bytes",
)

func mustArguments(types ...string) abi.Arguments {
	args := make(abi.Arguments, 0, len(types))
	for _, t := range types {
		abiType, err := abi.NewType(t, "", nil)
		if err != nil {
			panic(fmt.Sprintf("bad abi type %q: %v", t, err))
		}

		args = append(args, abi.Argument{Type: abiType})
	}

	return args
}

// Hash returns the keccak256 hash of the ABI-encoded commitment. The hash is
// a pure function of the commitment fields: no nonce, no timestamp. Hashing
// the same commitment twice yields the same value, which is what makes
// deposit address derivation repeatable after a restart.
func (c *Commitment) Hash() (common.Hash, error) {
	if c.MinDstAmount == nil {
		return common.Hash{}, fmt.Errorf("commitment without " +
			"minimum destination amount")
	}

	encoded, err := commitmentArgs.Pack(
		c.SrcToken, c.DstToken, c.MinDstAmount, c.ToAddress,
		new(big.Int).SetUint64(c.RefundBlockNumber), c.RefundAddress,
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("encode commitment: %w", err)
	}

	return crypto.Keccak256Hash(encoded), nil
}
