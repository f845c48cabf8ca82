package bridge

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

// TestCommitmentHash asserts that the commitment hash only depends on the
// commitment fields, so the same trade parameters always derive the same
// deposit address.
func TestCommitmentHash(t *testing.T) {
	base := Commitment{
		SrcToken: common.HexToAddress(
			"0xC4375B7De8af5a38a93548eb8453a498222C4fF2",
		),
		DstToken: common.HexToAddress(
			"0x6B175474E89094C44Da98b954EedeAC495271d0F",
		),
		MinDstAmount: big.NewInt(12375000),
		ToAddress: common.HexToAddress(
			"0x05523aedA0B62Be5B19162dEbA043Ab7bab37Ed5",
		),
		RefundBlockNumber: 10976,
		RefundAddress: []byte(
			"mfcHP2WMCVLsVZA8yrovmhMgxNFW9r98xw",
		),
	}

	hash1, err := base.Hash()
	require.NoError(t, err)

	same := base
	same.MinDstAmount = big.NewInt(12375000)

	hash2, err := same.Hash()
	require.NoError(t, err)
	require.Equal(t, hash1, hash2)

	// Every field participates in the hash.
	perturbations := []func(c *Commitment){
		func(c *Commitment) {
			c.SrcToken = common.HexToAddress("0x01")
		},
		func(c *Commitment) {
			c.DstToken = common.HexToAddress("0x02")
		},
		func(c *Commitment) {
			c.MinDstAmount = big.NewInt(12375001)
		},
		func(c *Commitment) {
			c.ToAddress = common.HexToAddress("0x03")
		},
		func(c *Commitment) {
			c.RefundBlockNumber = 10977
		},
		func(c *Commitment) {
			c.RefundAddress = []byte("t1HsdDMzmJfq4vc7T17XYjEk" +
				"LMLvbgM1fCi")
		},
	}

	for _, perturb := range perturbations {
		c := base
		perturb(&c)

		hash, err := c.Hash()
		require.NoError(t, err)
		require.NotEqual(t, hash1, hash)
	}
}

// TestCommitmentHashRequiresAmount asserts that an unset minimum amount is
// rejected rather than hashed as zero.
func TestCommitmentHashRequiresAmount(t *testing.T) {
	c := Commitment{}

	_, err := c.Hash()
	require.Error(t, err)
}
