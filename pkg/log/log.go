package log

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide root logger. Init replaces it; before
// Init it writes JSON to stdout so early startup errors are not lost.
var Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

// Level names accepted in config files and on the command line
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init configures the root logger. An unknown level falls back to
// info rather than failing startup.
func Init(cfg Config) {
	level, err := zerolog.ParseLevel(strings.ToLower(string(cfg.Level)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if !cfg.JSONOutput {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	Logger = zerolog.New(out).With().Timestamp().Logger()
}

// WithComponent returns a child logger tagged with the subsystem name
// (mdm, sds, sdc, rebuild, discovery, ...).
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithNodeID tags records with the cluster node emitting them
func WithNodeID(nodeID string) zerolog.Logger {
	return Logger.With().Str("node_id", nodeID).Logger()
}

// WithVolumeID tags records with the volume they concern
func WithVolumeID(volumeID uint64) zerolog.Logger {
	return Logger.With().Uint64("volume_id", volumeID).Logger()
}

// WithPoolID tags records with the storage pool they concern
func WithPoolID(poolID uint64) zerolog.Logger {
	return Logger.With().Uint64("pool_id", poolID).Logger()
}

// Shorthands for one-off messages on the root logger.

func Debug(msg string) { Logger.Debug().Msg(msg) }
func Info(msg string)  { Logger.Info().Msg(msg) }
func Warn(msg string)  { Logger.Warn().Msg(msg) }
func Error(msg string) { Logger.Error().Msg(msg) }
func Fatal(msg string) { Logger.Fatal().Msg(msg) }

// Errorf logs msg with err attached as the error field
func Errorf(msg string, err error) { Logger.Error().Err(err).Msg(msg) }
