package shiftd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/shiftex/shift/registry"
)

var (
	shiftDirBase = btcutil.AppDataDir("shift", false)

	defaultNetwork     = string(registry.Mainnet)
	defaultLogLevel    = "info"
	defaultLogDirname  = "logs"
	defaultLogFilename = "shiftd.log"
	defaultLogDir      = filepath.Join(shiftDirBase, defaultLogDirname)
	defaultConfigFile  = filepath.Join(shiftDirBase, defaultConfigFilename)
)

type ethConfig struct {
	Addr         string `long:"addr" description:"Ethereum node rpc address"`
	Keystore     string `long:"keystore" description:"Path to the encrypted keystore file of the trading account"`
	PasswordFile string `long:"passwordfile" description:"Path to a file containing the keystore password"`
}

type bridgeConfig struct {
	URL string `long:"url" description:"Bridge gateway json-rpc url"`
}

type Config struct {
	ShowVersion bool   `long:"version" description:"Display version information and exit"`
	Network     string `long:"network" description:"network to run on" choice:"regtest" choice:"testnet" choice:"mainnet"`
	RESTListen  string `long:"restlisten" description:"Address to listen on for REST clients"`
	CORSOrigin  string `long:"corsorigin" description:"The value to send in the Access-Control-Allow-Origin header. Header will be omitted if empty."`

	ShiftDir   string `long:"shiftdir" description:"The directory for all of shift's data."`
	ConfigFile string `long:"configfile" description:"Path to configuration file."`
	DataDir    string `long:"datadir" description:"Directory for the trade database."`
	LogDir     string `long:"logdir" description:"Directory to log output."`

	DebugLevel string `long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems"`

	OracleURL string `long:"oracleurl" description:"Price ticker api base url. Leave empty to disable price fetching."`

	Eth    *ethConfig    `group:"eth" namespace:"eth"`
	Bridge *bridgeConfig `group:"bridge" namespace:"bridge"`
}

const (
	mainnetBridge = "https://bridge.shiftex.io/rpc"
	testnetBridge = "https://bridge.testnet.shiftex.io/rpc"
)

// DefaultConfig returns all default values for the Config struct.
func DefaultConfig() Config {
	return Config{
		Network:    defaultNetwork,
		RESTListen: "localhost:8082",
		ShiftDir:   shiftDirBase,
		ConfigFile: defaultConfigFile,
		DataDir:    shiftDirBase,
		LogDir:     defaultLogDir,
		DebugLevel: defaultLogLevel,
		Eth: &ethConfig{
			Addr: "http://localhost:8545",
		},
		Bridge: &bridgeConfig{},
	}
}

// Validate cleans up paths in the config provided and validates it.
func Validate(cfg *Config) error {
	cfg.ShiftDir = cleanAndExpandPath(cfg.ShiftDir)
	cfg.DataDir = cleanAndExpandPath(cfg.DataDir)
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)

	// Since our shift directory overrides our log/data dir values, make
	// sure that they are not set when shift dir is set. We fail here
	// rather than overwriting and potentially confusing the user.
	logDirSet := cfg.LogDir != defaultLogDir
	dataDirSet := cfg.DataDir != shiftDirBase
	shiftDirSet := cfg.ShiftDir != shiftDirBase

	if shiftDirSet {
		if logDirSet {
			return fmt.Errorf("shiftdir overwrites logdir, " +
				"please only set one value")
		}

		if dataDirSet {
			return fmt.Errorf("shiftdir overwrites datadir, " +
				"please only set one value")
		}

		cfg.DataDir = cfg.ShiftDir
		cfg.LogDir = filepath.Join(cfg.ShiftDir, defaultLogDirname)
	}

	// Append the network type to the data and log directory so they are
	// "namespaced" per network.
	cfg.DataDir = filepath.Join(cfg.DataDir, cfg.Network)
	cfg.LogDir = filepath.Join(cfg.LogDir, cfg.Network)

	if err := os.MkdirAll(cfg.DataDir, os.ModePerm); err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.LogDir, os.ModePerm); err != nil {
		return err
	}

	if cfg.Bridge.URL == "" {
		switch registry.Network(cfg.Network) {
		case registry.Mainnet:
			cfg.Bridge.URL = mainnetBridge
		case registry.Testnet:
			cfg.Bridge.URL = testnetBridge
		default:
			return fmt.Errorf("no bridge url specified")
		}
	}

	if cfg.Eth.Keystore == "" {
		return fmt.Errorf("eth.keystore is required")
	}

	return nil
}

// cleanAndExpandPath expands environment variables and a leading ~ in the
// passed path, then cleans the result.
func cleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}

	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[1:])
		}
	}

	return filepath.Clean(os.ExpandEnv(path))
}
