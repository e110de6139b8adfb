// Package cli is the command surface: a long-running serve command for
// the daemon plus one-shot commands that reuse the same wiring.
package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"coursecast/internal/app"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "coursecast",
	Short: "Coursecast - course-wide recruiting messages through the campus LMS",
	Long: `Coursecast sends a recruiting message to every active student in a
course, section by section, through the LMS conversations API.

Sends are deduplicated across machines by a claim store: each
(course, section, term) unit is delivered at most once no matter how
many people trigger the same broadcast.

The daemon (coursecast serve) exposes a loopback API the desktop UI
drives; the other commands are one-shot equivalents for scripting.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

func Execute() error {
	return rootCmd.Execute()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("coursecast v0.3.1")
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.coursecast/config.yaml)")
	rootCmd.AddCommand(versionCmd)
}

func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".coursecast", "config.yaml")
}

// withApp builds the full wiring, runs fn, then tears down. One-shot
// commands go through the same assembly the daemon uses so behavior
// never diverges between the two.
func withApp(ctx context.Context, fn func(ctx context.Context, a *app.App) error) error {
	a, err := app.New(configPath())
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = a.Stop(sctx)
	}()
	return fn(ctx, a)
}
