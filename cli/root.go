// Package cli provides the admin/operator command-line interface for the
// conversational orchestration core: loading and toggling flow
// definitions, clearing stuck sessions, and starting the long-running
// server process. Grounded on the teacher's cobra+viper root command
// (flag/env/config-file precedence, persistent flags bound via
// viper.BindPFlag) and on cli/consumer.go's graceful-shutdown-on-signal
// idiom, rewired from RabbitMQ/CouchDB onto this module's own
// config.OrchestrationConfig.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Exit codes per spec §6.7.
const (
	ExitOK                  = 0
	ExitValidationError     = 2
	ExitPersistenceError    = 3
	ExitUpstreamUnavailable = 4
)

var cfgFile string

// RootCmd is the orchestration core's admin CLI entry point.
var RootCmd = &cobra.Command{
	Use:   "orchctl",
	Short: "admin CLI for the conversational orchestration core",
	Long: `orchctl manages the conversational orchestration core:

  - loading and toggling flow definitions
  - clearing a recipient's session state
  - starting the long-running inbound/outbound server

Configuration is resolved from flags, then environment variables, then an
optional YAML config file, in that order of precedence.`,
}

func init() {
	cobra.OnInitialize(initConfig)

	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.orchctl.yaml)")

	RootCmd.PersistentFlags().String("session-redis-url", "", "Session Store Redis URL")
	RootCmd.PersistentFlags().String("postgres-url", "", "Postgres DSN for flow/run/profile persistence")
	RootCmd.PersistentFlags().String("nlu-url", "", "NLU classification service base URL")
	RootCmd.PersistentFlags().String("llm-url", "", "LLM chat-completions service base URL")
	RootCmd.PersistentFlags().String("llm-model", "", "LLM model name")
	RootCmd.PersistentFlags().String("rabbitmq-url", "", "RabbitMQ URL for the training-sample sink")
	RootCmd.PersistentFlags().String("jwt-secret", "", "Admin JWT signing secret")
	RootCmd.PersistentFlags().String("admin-api-key", "", "API key required on /admin/state routes")
	RootCmd.PersistentFlags().String("port", "8080", "HTTP port for the serve command")

	viper.BindPFlag("session_redis_url", RootCmd.PersistentFlags().Lookup("session-redis-url"))
	viper.BindPFlag("postgres_url", RootCmd.PersistentFlags().Lookup("postgres-url"))
	viper.BindPFlag("nlu_url", RootCmd.PersistentFlags().Lookup("nlu-url"))
	viper.BindPFlag("llm_url", RootCmd.PersistentFlags().Lookup("llm-url"))
	viper.BindPFlag("llm_model", RootCmd.PersistentFlags().Lookup("llm-model"))
	viper.BindPFlag("rabbitmq_url", RootCmd.PersistentFlags().Lookup("rabbitmq-url"))
	viper.BindPFlag("jwt_secret", RootCmd.PersistentFlags().Lookup("jwt-secret"))
	viper.BindPFlag("admin_api_key", RootCmd.PersistentFlags().Lookup("admin-api-key"))
	viper.BindPFlag("port", RootCmd.PersistentFlags().Lookup("port"))

	RootCmd.AddCommand(flowsCmd, sessionCmd, serveCmd, versionCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".orchctl")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "using config file:", viper.ConfigFileUsed())
	}
}
