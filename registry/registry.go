package registry

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Chain identifies the chain an asset natively lives on.
type Chain string

const (
	ChainBitcoin  Chain = "bitcoin"
	ChainZcash    Chain = "zcash"
	ChainEthereum Chain = "ethereum"
)

// Token is the symbol of a supported token.
type Token string

const (
	BTC  Token = "BTC"
	ZEC  Token = "ZEC"
	DAI  Token = "DAI"
	REN  Token = "REN"
	WBTC Token = "WBTC"
)

// Network selects the set of deployed contract addresses and chain
// parameters.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
	Regtest Network = "regtest"
)

// TokenInfo describes a supported token.
type TokenInfo struct {
	// Symbol is the short token symbol, e.g. "BTC".
	Symbol Token

	// Name is the display name of the token.
	Name string

	// Chain is the chain the asset natively lives on. Foreign-chain
	// assets are represented on Ethereum by a shifted ERC20.
	Chain Chain

	// Decimals is the number of decimal places of the token's base unit.
	Decimals int32

	// MinVolume is the minimum amount accepted as the source of a trade,
	// in whole token units.
	MinVolume decimal.Decimal
}

// Ethereum reports whether the token is Ethereum based.
func (t TokenInfo) Ethereum() bool {
	return t.Chain == ChainEthereum
}

var tokens = map[Token]TokenInfo{
	BTC: {
		Symbol:    BTC,
		Name:      "Bitcoin",
		Chain:     ChainBitcoin,
		Decimals:  8,
		MinVolume: decimal.RequireFromString("0.00015"),
	},
	ZEC: {
		Symbol:    ZEC,
		Name:      "Zcash",
		Chain:     ChainZcash,
		Decimals:  8,
		MinVolume: decimal.RequireFromString("0.0002"),
	},
	DAI: {
		Symbol:    DAI,
		Name:      "Dai",
		Chain:     ChainEthereum,
		Decimals:  18,
		MinVolume: decimal.RequireFromString("0.1"),
	},
	REN: {
		Symbol:    REN,
		Name:      "Ren",
		Chain:     ChainEthereum,
		Decimals:  18,
		MinVolume: decimal.RequireFromString("1"),
	},
	WBTC: {
		Symbol:    WBTC,
		Name:      "Wrapped Bitcoin",
		Chain:     ChainEthereum,
		Decimals:  8,
		MinVolume: decimal.RequireFromString("0.00015"),
	},
}

// Lookup returns the token info for the given symbol.
func Lookup(symbol Token) (TokenInfo, error) {
	info, ok := tokens[symbol]
	if !ok {
		return TokenInfo{}, fmt.Errorf("unsupported token %q", symbol)
	}

	return info, nil
}

// Tokens returns the full set of supported tokens.
func Tokens() []TokenInfo {
	all := make([]TokenInfo, 0, len(tokens))
	for _, info := range tokens {
		all = append(all, info)
	}

	return all
}

// BaseUnits converts a whole-unit amount to the token's base units. It fails
// on amounts with more fractional digits than the token carries.
func BaseUnits(symbol Token, amount decimal.Decimal) (decimal.Decimal, error) {
	info, err := Lookup(symbol)
	if err != nil {
		return decimal.Zero, err
	}

	base := amount.Shift(info.Decimals)
	if !base.IsInteger() {
		return decimal.Zero, fmt.Errorf("amount %v exceeds %v "+
			"decimal places of %v", amount, info.Decimals, symbol)
	}

	return base, nil
}

// FromBaseUnits converts a base-unit amount to whole token units.
func FromBaseUnits(symbol Token, base decimal.Decimal) (decimal.Decimal,
	error) {

	info, err := Lookup(symbol)
	if err != nil {
		return decimal.Zero, err
	}

	return base.Shift(-info.Decimals), nil
}

// TokenAddress resolves the on-chain contract address of an Ethereum
// representation of a token: the ERC20 contract for Ethereum-based tokens,
// the shifted-token contract for foreign assets.
func TokenAddress(net Network, symbol Token) (common.Address, error) {
	addrs, ok := contractAddresses[net]
	if !ok {
		return common.Address{}, fmt.Errorf("unknown network %q", net)
	}

	addr, ok := addrs.tokens[symbol]
	if !ok {
		return common.Address{}, fmt.Errorf("no %v contract deployed "+
			"on %v", symbol, net)
	}

	return addr, nil
}

// AdapterAddress returns the exchange adapter contract address for the
// network.
func AdapterAddress(net Network) (common.Address, error) {
	addrs, ok := contractAddresses[net]
	if !ok {
		return common.Address{}, fmt.Errorf("unknown network %q", net)
	}

	return addrs.adapter, nil
}

// ReserveAddress returns the liquidity reserve contract for a token pair.
// Reserves are keyed by the pair's Ethereum-representation tokens,
// direction independent.
func ReserveAddress(net Network, a, b Token) (common.Address, error) {
	addrs, ok := contractAddresses[net]
	if !ok {
		return common.Address{}, fmt.Errorf("unknown network %q", net)
	}

	if addr, ok := addrs.reserves[pairKey(a, b)]; ok {
		return addr, nil
	}
	if addr, ok := addrs.reserves[pairKey(b, a)]; ok {
		return addr, nil
	}

	return common.Address{}, fmt.Errorf("no %v/%v reserve deployed on %v",
		a, b, net)
}

func pairKey(a, b Token) string {
	return string(a) + "/" + string(b)
}

type deployment struct {
	adapter  common.Address
	tokens   map[Token]common.Address
	reserves map[string]common.Address
}

var contractAddresses = map[Network]deployment{
	Mainnet: {
		adapter: common.HexToAddress(
			"0x5d0a1c0e581e62405bd4e19850fa0e44743b4d37",
		),
		tokens: map[Token]common.Address{
			DAI: common.HexToAddress(
				"0x6b175474e89094c44da98b954eedeac495271d0f",
			),
			REN: common.HexToAddress(
				"0x408e41876cccdc0f92210600ef50372656052a38",
			),
			WBTC: common.HexToAddress(
				"0x2260fac5e5542a773aa44fbcfedf7c193bc2c599",
			),
			BTC: common.HexToAddress(
				"0xeb4c2781e4eba804ce9a9803c67d0893436bb27d",
			),
			ZEC: common.HexToAddress(
				"0x1c5db575e2ff833e46a2e9864c22f4b22e0b37c2",
			),
		},
		reserves: map[string]common.Address{
			pairKey(BTC, DAI): common.HexToAddress(
				"0x3cc1a3c082fd5ad29e7cee04fa84bba1e23c9d1f",
			),
			pairKey(ZEC, DAI): common.HexToAddress(
				"0xc6ae1db6c66d722435e08ec310d9aa1b301dda45",
			),
			pairKey(BTC, REN): common.HexToAddress(
				"0x04aa1c7f2c8c27f0a125ccb9b9f1cd4f73b28e96",
			),
			pairKey(BTC, WBTC): common.HexToAddress(
				"0x41f357a6761f9d6b94d37062ac6615ff6a19d1ae",
			),
		},
	},
	Testnet: {
		adapter: common.HexToAddress(
			"0x2341d49c839fa4e9f9b3dd60da34f9f3f988bde2",
		),
		tokens: map[Token]common.Address{
			DAI: common.HexToAddress(
				"0xc4375b7de8af5a38a93548eb8453a498222c4ff2",
			),
			REN: common.HexToAddress(
				"0x2cd647668494c1b15743ab283a0f980d90a87394",
			),
			WBTC: common.HexToAddress(
				"0xa1d3e0ddf8e4a2e35a39f7bb0bbf7b1b2cdb6e71",
			),
			BTC: common.HexToAddress(
				"0x916b8012e1813e5924a3eca400dbe6c7055a8484",
			),
			ZEC: common.HexToAddress(
				"0x71a32c1e6adb6c5acf1186f3b4e0e800b1b365b5",
			),
		},
		reserves: map[string]common.Address{
			pairKey(BTC, DAI): common.HexToAddress(
				"0xb19b47539ee9dbde7c8f1b3a26d154322be990d0",
			),
			pairKey(ZEC, DAI): common.HexToAddress(
				"0x7f0bb35cfcf596cbb08c37ffcca9a41e0f9a58c3",
			),
			pairKey(BTC, REN): common.HexToAddress(
				"0xd41ba1fe4b29a0dcc2bbd2f09cf9a54bd1d7c28c",
			),
			pairKey(BTC, WBTC): common.HexToAddress(
				"0xe1a42e1d3d9c1b080a1c0a6c0b62fe7cbb0e3eb7",
			),
		},
	},
	Regtest: {
		adapter: common.HexToAddress(
			"0x0000000000000000000000000000000000000064",
		),
		tokens: map[Token]common.Address{
			DAI: common.HexToAddress(
				"0x0000000000000000000000000000000000000001",
			),
			REN: common.HexToAddress(
				"0x0000000000000000000000000000000000000002",
			),
			WBTC: common.HexToAddress(
				"0x0000000000000000000000000000000000000003",
			),
			BTC: common.HexToAddress(
				"0x0000000000000000000000000000000000000004",
			),
			ZEC: common.HexToAddress(
				"0x0000000000000000000000000000000000000005",
			),
		},
		reserves: map[string]common.Address{
			pairKey(BTC, DAI): common.HexToAddress(
				"0x0000000000000000000000000000000000000010",
			),
			pairKey(ZEC, DAI): common.HexToAddress(
				"0x0000000000000000000000000000000000000011",
			),
			pairKey(BTC, REN): common.HexToAddress(
				"0x0000000000000000000000000000000000000012",
			),
			pairKey(BTC, WBTC): common.HexToAddress(
				"0x0000000000000000000000000000000000000013",
			),
		},
	},
}
