package commands

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/conduit-lang/datasource/internal/app"
	"github.com/conduit-lang/datasource/internal/cli/ui"
)

// NewRoutesCommand creates the routes command
func NewRoutesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "List the HTTP routes served for the configured resources",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			// The database is opened lazily, so no connection is made
			a, err := app.Open(cfg, zap.NewNop())
			if err != nil {
				return err
			}
			defer a.Close()

			table := ui.NewTable(cmd.OutOrStdout(), []string{"METHOD", "PATTERN", "NAME"}, noColor)
			for _, route := range a.Router().Routes() {
				table.AddRow(route.Method, route.Pattern, route.Name)
			}
			table.Render()
			return nil
		},
	}
}
