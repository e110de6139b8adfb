package cli

import (
	"context"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"coursecast/internal/app"
)

var coursesTerm string

var coursesCmd = &cobra.Command{
	Use:   "courses",
	Short: "List active courses, optionally filtered by term",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			courses, err := a.Gateway().ListCourses(ctx, coursesTerm)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCODE\tTERM\tNAME")
			for _, c := range courses {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", c.ID, c.CourseCode, c.TermLabel(), c.Name)
			}
			return w.Flush()
		})
	},
}

var sectionsCmd = &cobra.Command{
	Use:   "sections <course-id>",
	Short: "List sections of a course",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		courseID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid course id %q", args[0])
		}
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			sections, err := a.Gateway().ListSections(ctx, courseID)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME")
			for _, s := range sections {
				fmt.Fprintf(w, "%d\t%s\n", s.ID, s.Name)
			}
			return w.Flush()
		})
	},
}

func init() {
	coursesCmd.Flags().StringVar(&coursesTerm, "term", "", `term filter (e.g. "Spring 2026"); defaults to platform.default_term`)
	rootCmd.AddCommand(coursesCmd)
	rootCmd.AddCommand(sectionsCmd)
}
