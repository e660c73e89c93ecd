package cli

import (
	"os"
	"time"

	"github.com/illmade-knight/go-redelivery/pkg/config"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	cfgPath string
	isDebug bool
)

var rootCmd = &cobra.Command{
	Use:   "redeliveryd",
	Short: "Kafka consumer with batch redelivery and dead-letter recovery",
	Long: `redeliveryd consumes Kafka topics in batches, retries transient failures with a
bounded backoff and quarantines records that cannot be processed on a
dead-letter topic, committing offsets only once every record is resolved.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("redeliveryd failed")
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (defaults and environment only when empty)")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging with a console writer")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(provisionCmd)
	rootCmd.AddCommand(produceCmd)
	rootCmd.AddCommand(loadgenCmd)
}

// loadConfig reads .env, then the config file, and builds the logger.
func loadConfig() (*config.Config, zerolog.Logger, error) {
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, zerolog.New(os.Stderr).With().Timestamp().Logger(), err
	}
	return cfg, newLogger(cfg.LogLevel), nil
}

// newLogger also replaces the global logger so errors returned from commands are
// reported in the same format.
func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
	if isDebug {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
			Level(zerolog.DebugLevel).With().Timestamp().Logger()
	}
	log.Logger = logger
	return logger
}
