package cmd

import (
	"os"
	"time"

	"github.com/kinopsis/agensalud-mvp-sub003/core/config"
	"github.com/kinopsis/agensalud-mvp-sub003/pkg/utils"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "channels",
	Short: "Channel instance lifecycle and connection orchestration",
	Long: `Manages tenant-owned messaging channel instances against an external
WhatsApp gateway: provisioning, connection, QR pairing, webhook ingestion
and status reconciliation.`,
}

func init() {
	// Load environment variables first
	utils.LoadConfig(".")

	time.Local = time.UTC

	rootCmd.CompletionOptions.DisableDefaultCmd = true

	initFlags()

	cobra.OnInitialize(initEnvConfig)
}

func initFlags() {
	flags := rootCmd.PersistentFlags()
	flags.Bool("debug", false, "Enable debug logging and request logs")
	flags.String("db-driver", "", "Database driver: sqlite or postgres")
	flags.String("db-name", "", "SQLite file path or Postgres database name")
	flags.String("gateway-url", "", "Base URL of the WhatsApp gateway")

	_ = viper.BindPFlag("app_debug", flags.Lookup("debug"))
	_ = viper.BindPFlag("db_driver", flags.Lookup("db-driver"))
	_ = viper.BindPFlag("db_name", flags.Lookup("db-name"))
	_ = viper.BindPFlag("gateway_base_url", flags.Lookup("gateway-url"))
}

// initEnvConfig loads configuration from the environment, then lets
// explicit flags win.
func initEnvConfig() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("[CONFIG] Invalid configuration: %v", err)
	}

	if flagChanged("debug") {
		cfg.App.Debug = viper.GetBool("app_debug")
	}
	if flagChanged("db-driver") {
		cfg.Database.Driver = viper.GetString("db_driver")
	}
	if flagChanged("db-name") {
		cfg.Database.Name = viper.GetString("db_name")
	}
	if flagChanged("gateway-url") {
		cfg.Gateway.BaseURL = viper.GetString("gateway_base_url")
	}

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if cfg.App.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.InfoLevel)
	}
	logrus.WithFields(logrus.Fields(config.GetAllSettings())).Debug("[CONFIG] Settings loaded")
}

func flagChanged(name string) bool {
	f := rootCmd.PersistentFlags().Lookup(name)
	return f != nil && f.Changed
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
