package registry

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/ethereum/go-ethereum/common"
)

// ErrInvalidAddress is returned when an address fails validation for the
// token's chain.
var ErrInvalidAddress = errors.New("invalid address")

// zcash transparent address version bytes. Shielded addresses are not
// accepted; the bridge only observes the transparent pool.
var (
	zcashMainnetP2PKH = [2]byte{0x1c, 0xb8}
	zcashMainnetP2SH  = [2]byte{0x1c, 0xbd}
	zcashTestnetP2PKH = [2]byte{0x1d, 0x25}
	zcashTestnetP2SH  = [2]byte{0x1c, 0xba}
)

// ChainParams returns the Bitcoin chain parameters for the network.
func ChainParams(net Network) *chaincfg.Params {
	switch net {
	case Mainnet:
		return &chaincfg.MainNetParams

	case Testnet:
		return &chaincfg.TestNet3Params

	default:
		return &chaincfg.RegressionNetParams
	}
}

// ValidateAddress checks that addr is a well-formed destination for the
// token's native chain on the given network.
func ValidateAddress(net Network, symbol Token, addr string) error {
	info, err := Lookup(symbol)
	if err != nil {
		return err
	}

	switch info.Chain {
	case ChainEthereum:
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("%w: %q is not an Ethereum address",
				ErrInvalidAddress, addr)
		}
		return nil

	case ChainBitcoin:
		_, err := btcutil.DecodeAddress(addr, ChainParams(net))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidAddress, err)
		}
		return nil

	case ChainZcash:
		return validateZcashAddress(net, addr)

	default:
		return fmt.Errorf("%w: unknown chain %v", ErrInvalidAddress,
			info.Chain)
	}
}

// validateZcashAddress checks a transparent zcash address: a two byte
// version, a 20 byte hash and a 4 byte double-sha256 checksum.
func validateZcashAddress(net Network, addr string) error {
	decoded := base58.Decode(addr)
	if len(decoded) != 26 {
		return fmt.Errorf("%w: %q is not a transparent zcash address",
			ErrInvalidAddress, addr)
	}

	var version [2]byte
	copy(version[:], decoded[:2])

	switch net {
	case Mainnet:
		if version != zcashMainnetP2PKH && version != zcashMainnetP2SH {
			return fmt.Errorf("%w: wrong zcash address version "+
				"for %v", ErrInvalidAddress, net)
		}

	default:
		if version != zcashTestnetP2PKH && version != zcashTestnetP2SH {
			return fmt.Errorf("%w: wrong zcash address version "+
				"for %v", ErrInvalidAddress, net)
		}
	}

	payload, checksum := decoded[:22], decoded[22:]
	expected := chainhash.DoubleHashB(payload)[:4]
	if !bytes.Equal(checksum, expected) {
		return fmt.Errorf("%w: bad zcash address checksum",
			ErrInvalidAddress)
	}

	return nil
}

// Tx tags a transaction hash with the chain it was observed on, so that the
// inbound and outbound legs of a trade can be told apart and linked to the
// right explorer.
type Tx struct {
	// Hash is the chain-specific transaction id, hex encoded.
	Hash string `json:"hash"`

	// Chain is the chain the transaction lives on.
	Chain Chain `json:"chain"`
}

// ExplorerURL builds a block explorer link for the transaction.
func (t Tx) ExplorerURL(net Network) string {
	base, ok := explorerBases[net][t.Chain]
	if !ok {
		return ""
	}

	return base + t.Hash
}

var explorerBases = map[Network]map[Chain]string{
	Mainnet: {
		ChainEthereum: "https://etherscan.io/tx/",
		ChainBitcoin:  "https://blockstream.info/tx/",
		ChainZcash:    "https://zcashblockexplorer.com/transactions/",
	},
	Testnet: {
		ChainEthereum: "https://kovan.etherscan.io/tx/",
		ChainBitcoin:  "https://blockstream.info/testnet/tx/",
		ChainZcash:    "https://testnet.zcashblockexplorer.com/transactions/",
	},
}
