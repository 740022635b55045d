// Command token mints an access/refresh pair for an API client.
//
//	token --user 42
//	token --user ops-1 --role admin
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"callbilling/internal/auth"
	"callbilling/internal/config"
	"callbilling/internal/rbac"

	"github.com/spf13/cobra"
)

func newRootCmd(load func() (config.AuthConfig, error)) *cobra.Command {
	var userID, role string

	cmd := &cobra.Command{
		Use:           "token",
		Short:         "Issue a JWT pair for a billing user",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user is required")
			}
			if role != rbac.RoleUser && role != rbac.RoleAdmin {
				return fmt.Errorf("--role must be %q or %q, got %q", rbac.RoleUser, rbac.RoleAdmin, role)
			}
			cfg, err := load()
			if err != nil {
				return err
			}
			m, err := auth.NewManager(cfg)
			if err != nil {
				return err
			}
			pair, err := m.IssuePair(time.Now(), userID, role)
			if err != nil {
				return fmt.Errorf("issue token: %w", err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]string{
				"access_token":  pair.AccessToken,
				"refresh_token": pair.RefreshToken,
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "billing user id")
	cmd.Flags().StringVar(&role, "role", rbac.RoleUser, "role claim (user or admin)")
	return cmd
}

func main() {
	if err := newRootCmd(config.LoadAuth).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "token:", err)
		os.Exit(1)
	}
}
