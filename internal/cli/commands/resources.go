package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/conduit-lang/datasource/internal/cli/ui"
	"github.com/conduit-lang/datasource/internal/orm/schema"
)

// NewResourcesCommand creates the resources command
func NewResourcesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resources",
		Short: "List the configured resources",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			registry, err := schema.Load(cfg.Definitions())
			if err != nil {
				return fmt.Errorf("failed to load resources: %w", err)
			}

			table := ui.NewTable(cmd.OutOrStdout(), []string{"RESOURCE", "TABLE", "PRIMARY KEY", "ASSOCIATIONS"}, noColor)
			for _, name := range registry.List() {
				entity, _ := registry.Entity(name)
				var assocs []string
				for _, assoc := range entity.Associations() {
					assocs = append(assocs, fmt.Sprintf("%s (%s %s)", assoc.Name, assoc.Type, assoc.Target.Name()))
				}
				table.AddRow(name, entity.Table(), entity.PrimaryKey(), strings.Join(assocs, ", "))
			}
			table.Render()
			return nil
		},
	}
}
