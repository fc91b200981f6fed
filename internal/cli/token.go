package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aiox-platform/companion/internal/auth"
)

func init() {
	var (
		scopes []string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token <service>",
		Short: "Issue a service token for an API caller",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tm, err := auth.NewTokenManager(cfg.Auth.ServiceSecret, cfg.Auth.Issuer)
			if err != nil {
				return err
			}
			token, err := tm.Issue(args[0], scopes, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&scopes, "scope", "s",
		[]string{auth.ScopeTurns}, "Granted scopes (turns, incidents, memory)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")

	RootCmd.AddCommand(cmd)
}
