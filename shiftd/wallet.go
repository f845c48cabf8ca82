package shiftd

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shiftex/shift/adapter"
)

// keystoreWallet signs adapter transactions with a key loaded from an
// encrypted geth keystore file.
type keystoreWallet struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

var _ adapter.Wallet = (*keystoreWallet)(nil)

// newKeystoreWallet decrypts the keystore file at keyPath with the password
// read from passwordPath. An empty passwordPath means an empty password.
func newKeystoreWallet(keyPath, passwordPath string) (*keystoreWallet,
	error) {

	keyJSON, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read keystore: %w", err)
	}

	var password string
	if passwordPath != "" {
		raw, err := os.ReadFile(passwordPath)
		if err != nil {
			return nil, fmt.Errorf("read password file: %w", err)
		}
		password = strings.TrimSpace(string(raw))
	}

	key, err := keystore.DecryptKey(keyJSON, password)
	if err != nil {
		return nil, fmt.Errorf("decrypt keystore: %w", err)
	}

	return &keystoreWallet{
		key:     key.PrivateKey,
		address: crypto.PubkeyToAddress(key.PrivateKey.PublicKey),
	}, nil
}

func (w *keystoreWallet) Address() common.Address {
	return w.address
}

func (w *keystoreWallet) SignTx(tx *types.Transaction,
	chainID *big.Int) (*types.Transaction, error) {

	return types.SignTx(
		tx, types.LatestSignerForChainID(chainID), w.key,
	)
}
