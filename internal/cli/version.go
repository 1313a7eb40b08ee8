package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

func newVersionCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the wgpanel version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res := map[string]string{"version": Version, "go": runtime.Version()}
			return writeOut(cmd, app, res, func() error {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wgpanel %s (%s)\n", Version, runtime.Version())
				return nil
			})
		},
	}
}
