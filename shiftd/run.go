package shiftd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	flags "github.com/jessevdk/go-flags"
	shift "github.com/shiftex/shift"
)

const defaultConfigFilename = "shiftd.conf"

// Run starts the shift daemon: it parses the configuration, sets up logging
// and runs the daemon until a shutdown signal is received.
func Run() error {
	config := DefaultConfig()

	// Parse command line flags.
	parser := flags.NewParser(&config, flags.Default)
	_, err := parser.Parse()
	if err != nil {
		if flagErr, ok := err.(*flags.Error); ok &&
			flagErr.Type == flags.ErrHelp {

			return nil
		}
		return err
	}

	// Parse ini file.
	shiftDir := cleanAndExpandPath(config.ShiftDir)
	configFile := cleanAndExpandPath(config.ConfigFile)
	if config.ShiftDir != shiftDirBase &&
		config.ConfigFile == defaultConfigFile {

		configFile = filepath.Join(shiftDir, defaultConfigFilename)
	}

	if err := flags.IniParse(configFile, &config); err != nil {
		// File not existing is OK.
		if _, ok := err.(*os.PathError); !ok {
			return err
		}
	}

	// Parse command line flags again to restore flags overwritten by ini
	// parse.
	_, err = parser.Parse()
	if err != nil {
		return err
	}

	// Show the version and exit if the version flag was specified.
	if config.ShowVersion {
		fmt.Printf("shiftd version %v\n", shift.Version())
		return nil
	}

	// Validate our config before we proceed.
	if err := Validate(&config); err != nil {
		return err
	}

	// Direct logging to both stdout and the log file.
	logFile, err := os.OpenFile(
		filepath.Join(config.LogDir, defaultLogFilename),
		os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644,
	)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	SetupLoggers(io.MultiWriter(os.Stdout, logFile))
	if err := SetLogLevels(config.DebugLevel); err != nil {
		return err
	}

	log.Infof("Version: %v", shift.Version())
	log.Infof("Network: %v", config.Network)

	ctx, stop := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM,
	)
	defer stop()

	return daemon(ctx, &config)
}
