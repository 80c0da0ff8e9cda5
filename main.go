// Command orchctl runs the conversational orchestration core's admin CLI
// and HTTP server: loading/listing/toggling flow definitions, clearing a
// recipient's session, and starting the webhook/admin server (see
// cli/root.go). Exit codes follow spec §6.7: 0 ok, 2 validation error,
// 3 persistence error, 4 upstream unavailable.
package main

import (
	"fmt"
	"os"

	"flowline.dev/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
