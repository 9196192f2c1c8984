package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/giantswarm/mcpgate/internal/config"
	"github.com/giantswarm/mcpgate/internal/tools"
	pkgstrings "github.com/giantswarm/mcpgate/pkg/strings"
)

var (
	toolsConfigPath  string
	toolsCatalogFile string
)

func newToolsCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "tools",
		Short: "Inspect the tool catalog",
	}
	c.PersistentFlags().StringVar(&toolsConfigPath, "config-path", "", "Configuration directory (default ~/.config/mcpgate)")
	c.PersistentFlags().StringVar(&toolsCatalogFile, "file", "", "Catalog file (default <config-path>/tools.yaml)")

	c.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the tools the gateway would serve",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, source, err := loadCatalogForCLI()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", text.FgHiBlack.Sprint("Source: "+source))
			renderToolsTable(cmd.OutOrStdout(), catalog.List())
			return nil
		},
	})

	c.AddCommand(&cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a tool catalog file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := catalogPath()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				path = args[0]
			}
			catalog, err := tools.LoadCatalogFile(path, 1)
			if err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", text.FgRed.Sprint("invalid:"), path)
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%d tools)\n", text.FgGreen.Sprint("valid:"), path, catalog.Len())
			return nil
		},
	})
	return c
}

// catalogPath resolves the catalog file the same way serve does without
// requiring a complete config.yaml.
func catalogPath() (string, error) {
	if toolsCatalogFile != "" {
		return toolsCatalogFile, nil
	}
	dir := toolsConfigPath
	if dir == "" {
		var err error
		if dir, err = config.GetDefaultConfigPath(); err != nil {
			return "", err
		}
	}
	return config.ResolvePath(dir, config.GetDefaultConfig().Tools.CatalogFile), nil
}

func loadCatalogForCLI() (*tools.Catalog, string, error) {
	path, err := catalogPath()
	if err != nil {
		return nil, "", err
	}
	catalog, err := tools.LoadCatalogFile(path, 1)
	if errors.Is(err, os.ErrNotExist) && toolsCatalogFile == "" {
		catalog, err = tools.NewCatalog(1, tools.DefaultCatalog())
		return catalog, "builtin", err
	}
	return catalog, path, err
}

func renderToolsTable(w io.Writer, descriptors []tools.Descriptor) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Name", "Backend", "Parameters", "Timeout", "Description"})
	for _, d := range descriptors {
		timeout := "-"
		if d.Backend.Timeout > 0 {
			timeout = d.Backend.Timeout.String()
		}
		t.AppendRow(table.Row{
			text.FgCyan.Sprint(d.Name),
			string(d.Backend.Kind),
			formatParameters(d.Parameters),
			timeout,
			pkgstrings.TruncateDescription(d.Description, pkgstrings.DefaultDescriptionMaxLen),
		})
	}
	t.AppendFooter(table.Row{"", "", "", "Total", len(descriptors)})
	t.Render()
}

func formatParameters(params []tools.Parameter) string {
	if len(params) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(params))
	for _, p := range params {
		s := p.Name + ":" + string(p.Type)
		if p.Required {
			s += "*"
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, ", ")
}

func init() {
	rootCmd.AddCommand(newToolsCmd())
}
