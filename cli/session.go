package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"flowline.dev/log"
	"flowline.dev/session"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "manage session state",
}

var sessionClearCmd = &cobra.Command{
	Use:   "clear <recipient-id>",
	Short: "delete a recipient's session, forcing a fresh start on their next message",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := resolveConfig()
		if err := validate(cfg, false); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(ExitValidationError)
		}

		logger := log.New(log.DefaultConfig(), "orchctl-session")
		store, err := session.NewRedisStore(cfg.SessionRedisURL, cfg.SessionTTL, logger)
		if err != nil {
			fmt.Fprintln(os.Stderr, "connect to session store:", err)
			os.Exit(ExitUpstreamUnavailable)
		}

		if err := store.Clear(context.Background(), args[0]); err != nil {
			fmt.Fprintln(os.Stderr, "clear session:", err)
			os.Exit(ExitPersistenceError)
		}

		fmt.Printf("cleared session for %s\n", args[0])
	},
}

func init() {
	sessionCmd.AddCommand(sessionClearCmd)
}
