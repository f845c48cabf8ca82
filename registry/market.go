package registry

import (
	"errors"
	"fmt"
)

var (
	// ErrSameChainPair is returned for token pairs that settle without
	// crossing the bridge. Direct Ethereum-to-Ethereum settlement is not
	// offered.
	ErrSameChainPair = errors.New("pair does not cross the bridge")
)

// Direction is the lifecycle shape of a trade.
type Direction uint8

const (
	// DirectionMint trades a foreign-chain source into an Ethereum-based
	// destination. Requires a deposit and a bridge signature before
	// settlement.
	DirectionMint Direction = 0

	// DirectionBurn trades an Ethereum-based source into a foreign-chain
	// destination. Settles directly on Ethereum, followed by a
	// foreign-chain payout.
	DirectionBurn Direction = 1
)

// String returns a string representation of the trade direction.
func (d Direction) String() string {
	switch d {
	case DirectionMint:
		return "Mint"

	case DirectionBurn:
		return "Burn"

	default:
		return "Unknown"
	}
}

// Market is an ordered pair of tradeable tokens.
type Market struct {
	// Src is the token sent by the user.
	Src Token

	// Dst is the token received by the user.
	Dst Token
}

// String returns the market as a "SRC/DST" pair string.
func (m Market) String() string {
	return fmt.Sprintf("%v/%v", m.Src, m.Dst)
}

// Direction classifies the market into a mint or burn lifecycle. Pairs where
// both tokens live on the same chain are rejected.
func (m Market) Direction() (Direction, error) {
	src, err := Lookup(m.Src)
	if err != nil {
		return 0, err
	}
	dst, err := Lookup(m.Dst)
	if err != nil {
		return 0, err
	}

	switch {
	case !src.Ethereum() && dst.Ethereum():
		return DirectionMint, nil

	case src.Ethereum() && !dst.Ethereum():
		return DirectionBurn, nil

	default:
		return 0, fmt.Errorf("%w: %v", ErrSameChainPair, m)
	}
}

// ForeignToken returns the market's non-Ethereum leg.
func (m Market) ForeignToken() (TokenInfo, error) {
	dir, err := m.Direction()
	if err != nil {
		return TokenInfo{}, err
	}

	if dir == DirectionMint {
		return Lookup(m.Src)
	}

	return Lookup(m.Dst)
}
