package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"coursecast/internal/app"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Inspect or clear the observed anti-forgery token",
}

var tokenShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current token snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			snap := a.Tokens().Latest()
			if snap.Chosen == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "no token observed; open the platform in a browser tab first")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "token: %s\n", mask(snap.Chosen))
			if snap.Header != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "  header: %s (%s)\n", mask(snap.Header.Value), snap.Header.ObservedAt.Format("2006-01-02 15:04:05"))
			}
			if snap.Cookie != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "  cookie: %s (%s)\n", mask(snap.Cookie.Value), snap.Cookie.ObservedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		})
	},
}

var tokenClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Forget all observed token values",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			a.Tokens().Clear()
			fmt.Fprintln(cmd.OutOrStdout(), "token state cleared")
			return nil
		})
	},
}

func init() {
	tokenCmd.AddCommand(tokenShowCmd)
	tokenCmd.AddCommand(tokenClearCmd)
	rootCmd.AddCommand(tokenCmd)
}

func mask(v string) string {
	if len(v) <= 8 {
		return "********"
	}
	return v[:4] + "..." + v[len(v)-4:]
}
