package shiftd

import (
	"fmt"
	"io"
	"strings"

	"github.com/btcsuite/btclog"
	shift "github.com/shiftex/shift"
	"github.com/shiftex/shift/adapter"
	"github.com/shiftex/shift/bridge"
	"github.com/shiftex/shift/rates"
	"github.com/shiftex/shift/shiftdb"
)

const Subsystem = "SFTD"

var (
	log        = btclog.Disabled
	subsystems = make(map[string]btclog.Logger)
)

// SetupLoggers initializes all package-global logger variables and directs
// their output to w.
func SetupLoggers(w io.Writer) {
	backend := btclog.NewBackend(w)

	register := func(tag string, use func(btclog.Logger)) {
		logger := backend.Logger(tag)
		subsystems[tag] = logger
		use(logger)
	}

	log = backend.Logger(Subsystem)
	subsystems[Subsystem] = log

	register(shift.Subsystem, shift.UseLogger)
	register(shiftdb.Subsystem, shiftdb.UseLogger)
	register(bridge.Subsystem, bridge.UseLogger)
	register(adapter.Subsystem, adapter.UseLogger)
	register(rates.Subsystem, rates.UseLogger)
}

// SetLogLevels applies a debug level specification of the form "level" or
// "subsystem=level,subsystem2=level2,...".
func SetLogLevels(spec string) error {
	if !strings.Contains(spec, "=") {
		level, ok := btclog.LevelFromString(spec)
		if !ok {
			return fmt.Errorf("invalid log level: %v", spec)
		}

		for _, logger := range subsystems {
			logger.SetLevel(level)
		}

		return nil
	}

	for _, entry := range strings.Split(spec, ",") {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid log level entry: %v", entry)
		}

		logger, ok := subsystems[strings.ToUpper(parts[0])]
		if !ok {
			return fmt.Errorf("unknown subsystem: %v", parts[0])
		}

		level, ok := btclog.LevelFromString(parts[1])
		if !ok {
			return fmt.Errorf("invalid log level: %v", parts[1])
		}

		logger.SetLevel(level)
	}

	return nil
}
