package shift

import (
	"fmt"

	"github.com/btcsuite/btclog"
	"github.com/ethereum/go-ethereum/common"
)

// Subsystem defines the sub system name of this package.
const Subsystem = "SHIFT"

// log is a logger that is initialized with no output filters. This means the
// package will not perform any logging by default until the caller requests
// it.
var log = btclog.Disabled

// UseLogger uses a specified Logger to output package logging info. This
// should be used in preference to SetLogWriter if the caller is also using
// btclog.
func UseLogger(logger btclog.Logger) {
	log = logger
}

// TradeLog logs with a short trade hash prefix.
type TradeLog struct {
	// Logger is the underlying based logger.
	Logger btclog.Logger

	// Hash identifies the target trade.
	Hash common.Hash
}

// Infof formats message according to format specifier and writes to
// log with LevelInfo.
func (t *TradeLog) Infof(format string, params ...interface{}) {
	t.Logger.Infof(
		fmt.Sprintf("%v %s", ShortHash(t.Hash), format),
		params...,
	)
}

// Warnf formats message according to format specifier and writes to log with
// LevelWarn.
func (t *TradeLog) Warnf(format string, params ...interface{}) {
	t.Logger.Warnf(
		fmt.Sprintf("%v %s", ShortHash(t.Hash), format),
		params...,
	)
}

// Errorf formats message according to format specifier and writes to log
// with LevelError.
func (t *TradeLog) Errorf(format string, params ...interface{}) {
	t.Logger.Errorf(
		fmt.Sprintf("%v %s", ShortHash(t.Hash), format),
		params...,
	)
}

// ShortHash returns a shortened version of the hash suitable for use in
// logging.
func ShortHash(hash common.Hash) string {
	return hash.Hex()[2:8]
}
