package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"flowline.dev/flow"
	"flowline.dev/persistence"
)

var flowsCmd = &cobra.Command{
	Use:   "flows",
	Short: "manage flow definitions",
}

var flowsLoadCmd = &cobra.Command{
	Use:   "load <file.json>",
	Short: "upsert a flow definition from a JSON file",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			fmt.Fprintln(os.Stderr, "read flow file:", err)
			os.Exit(ExitValidationError)
		}

		var def flow.FlowDefinition
		if err := json.Unmarshal(raw, &def); err != nil {
			fmt.Fprintln(os.Stderr, "decode flow definition:", err)
			os.Exit(ExitValidationError)
		}
		if err := def.Validate(); err != nil {
			fmt.Fprintln(os.Stderr, "invalid flow definition:", err)
			os.Exit(ExitValidationError)
		}

		cfg := resolveConfig()
		if err := validate(cfg, true); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(ExitValidationError)
		}

		ctx := context.Background()
		pool, err := persistence.Open(ctx, cfg.PostgresURL)
		if err != nil {
			fmt.Fprintln(os.Stderr, "connect to postgres:", err)
			os.Exit(ExitUpstreamUnavailable)
		}
		defer pool.Close()

		if err := persistence.Migrate(ctx, pool); err != nil {
			fmt.Fprintln(os.Stderr, "migrate:", err)
			os.Exit(ExitPersistenceError)
		}

		repo := persistence.NewFlowRepository(pool)
		if err := repo.Save(ctx, def); err != nil {
			fmt.Fprintln(os.Stderr, "save flow:", err)
			os.Exit(ExitPersistenceError)
		}

		fmt.Printf("loaded flow %s (module=%s trigger=%s version=%d)\n", def.ID, def.Module, def.Trigger, def.Version)
	},
}

var (
	flowsListModule  string
	flowsListEnabled bool
	flowsListRemote  bool
)

var flowsListCmd = &cobra.Command{
	Use:   "list",
	Short: "list flow definitions",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := resolveConfig()

		var defs []flow.FlowDefinition
		if flowsListRemote {
			d, err := fetchRemoteFlows(cfg.RemoteURL, cfg.AdminUsername, cfg.AdminPassword)
			if err != nil {
				fmt.Fprintln(os.Stderr, "fetch remote flows:", err)
				os.Exit(ExitUpstreamUnavailable)
			}
			defs = d
		} else {
			if err := validate(cfg, true); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(ExitValidationError)
			}

			ctx := context.Background()
			pool, err := persistence.Open(ctx, cfg.PostgresURL)
			if err != nil {
				fmt.Fprintln(os.Stderr, "connect to postgres:", err)
				os.Exit(ExitUpstreamUnavailable)
			}
			defer pool.Close()

			repo := persistence.NewFlowRepository(pool)
			defs, err = repo.LoadAll(ctx)
			if err != nil {
				fmt.Fprintln(os.Stderr, "load flows:", err)
				os.Exit(ExitPersistenceError)
			}
		}

		for _, def := range defs {
			if flowsListModule != "" && def.Module != flowsListModule {
				continue
			}
			if flowsListEnabled && !def.Enabled {
				continue
			}
			fmt.Printf("%-24s module=%-12s trigger=%-20s v%-3d enabled=%v\n",
				def.ID, def.Module, def.Trigger, def.Version, def.Enabled)
		}
	},
}

// fetchRemoteFlows exercises the admin JWT path (auth.AuthService, mounted
// by cli/serve.go's /admin/auth/login and /admin/remote/flows): log in with
// the operator credentials, then list flows over HTTP instead of hitting
// Postgres directly.
func fetchRemoteFlows(baseURL, username, password string) ([]flow.FlowDefinition, error) {
	client := &http.Client{Timeout: 10 * time.Second}

	loginBody, err := json.Marshal(map[string]string{"username": username, "password": password})
	if err != nil {
		return nil, fmt.Errorf("encode login request: %w", err)
	}
	loginResp, err := client.Post(baseURL+"/admin/auth/login", "application/json", bytes.NewReader(loginBody))
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	defer loginResp.Body.Close()
	if loginResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("login: unexpected status %d", loginResp.StatusCode)
	}
	var login struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(loginResp.Body).Decode(&login); err != nil {
		return nil, fmt.Errorf("decode login response: %w", err)
	}

	req, err := http.NewRequest(http.MethodGet, baseURL+"/admin/remote/flows", nil)
	if err != nil {
		return nil, fmt.Errorf("build remote flows request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+login.AccessToken)
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list remote flows: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list remote flows: unexpected status %d", resp.StatusCode)
	}

	var defs []flow.FlowDefinition
	if err := json.NewDecoder(resp.Body).Decode(&defs); err != nil {
		return nil, fmt.Errorf("decode remote flows: %w", err)
	}
	return defs, nil
}

var flowsToggleCmd = &cobra.Command{
	Use:   "toggle <flow-id> [true|false]",
	Short: "enable or disable a flow definition",
	Args:  cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		enabled := true
		if len(args) == 2 {
			enabled = args[1] != "false"
		}

		cfg := resolveConfig()
		if err := validate(cfg, true); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(ExitValidationError)
		}

		ctx := context.Background()
		pool, err := persistence.Open(ctx, cfg.PostgresURL)
		if err != nil {
			fmt.Fprintln(os.Stderr, "connect to postgres:", err)
			os.Exit(ExitUpstreamUnavailable)
		}
		defer pool.Close()

		repo := persistence.NewFlowRepository(pool)
		if err := repo.SetEnabled(ctx, args[0], enabled); err != nil {
			fmt.Fprintln(os.Stderr, "toggle flow:", err)
			os.Exit(ExitPersistenceError)
		}

		fmt.Printf("flow %s enabled=%v\n", args[0], enabled)
	},
}

var flowsHistoryCmd = &cobra.Command{
	Use:   "history <flow-id>",
	Short: "list a flow's saved revisions (flow_versions audit trail)",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := resolveConfig()
		if err := validate(cfg, true); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(ExitValidationError)
		}

		ctx := context.Background()
		pool, err := persistence.Open(ctx, cfg.PostgresURL)
		if err != nil {
			fmt.Fprintln(os.Stderr, "connect to postgres:", err)
			os.Exit(ExitUpstreamUnavailable)
		}
		defer pool.Close()

		repo := persistence.NewFlowRepository(pool)
		versions, err := repo.History(ctx, args[0])
		if err != nil {
			fmt.Fprintln(os.Stderr, "load flow history:", err)
			os.Exit(ExitPersistenceError)
		}

		for _, v := range versions {
			fmt.Printf("v%-3d saved_at=%s enabled=%v\n", v.Version, v.SavedAt.Format(time.RFC3339), v.Definition.Enabled)
		}
	},
}

func init() {
	flowsListCmd.Flags().StringVar(&flowsListModule, "module", "", "filter by module")
	flowsListCmd.Flags().BoolVar(&flowsListEnabled, "enabled", false, "only show enabled flows")
	flowsListCmd.Flags().BoolVar(&flowsListRemote, "remote", false, "list flows over the admin JWT API (REMOTE_URL) instead of Postgres directly")
	flowsCmd.AddCommand(flowsLoadCmd, flowsListCmd, flowsToggleCmd, flowsHistoryCmd)
}
