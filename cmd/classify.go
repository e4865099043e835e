package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/breakdown-cli/internal/assets"
)

var classifyCmd = &cobra.Command{
	Use:   "classify <path>...",
	Short: "Print the asset category of each path",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		formatCategories(os.Stdout, args)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(classifyCmd)
}

func formatCategories(out io.Writer, paths []string) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, p := range paths {
		_, _ = fmt.Fprintf(w, "%s\t%s\n", assets.Categorize(p), p)
	}
	_ = w.Flush()
}
