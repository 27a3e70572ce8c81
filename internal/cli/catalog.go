package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openmediakit/msclient/internal/output"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "List the server content catalog",
	Long: `Fetch the content catalog and print it as a table, as a channel
tree or as CSV.

Examples:
  msc catalog
  msc catalog --tree
  msc catalog --csv > catalog.csv`,
	Args: cobra.NoArgs,
	RunE: runCatalog,
}

var (
	catalogTree bool
	catalogCSV  bool
)

func init() {
	catalogCmd.Flags().BoolVar(&catalogTree, "tree", false, "Nest items under their channels")
	catalogCmd.Flags().BoolVar(&catalogCSV, "csv", false, "Print the raw CSV export")
}

func runCatalog(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if catalogCSV {
		csv, err := client.GetCatalogCSV(ctx)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), csv)
		return nil
	}

	catalog, err := client.GetCatalog(ctx, catalogTree)
	if err != nil {
		return err
	}
	if catalogTree || printer.IsJSON() {
		return printer.JSON(catalog)
	}

	types := make([]string, 0, len(catalog))
	for t := range catalog {
		types = append(types, t)
	}
	sort.Strings(types)

	table := output.NewTableWriter(cmd.OutOrStdout(), []string{"OID", "TYPE", "TITLE"}, printer.IsQuiet())
	for _, t := range types {
		for _, item := range catalog.Items(t) {
			table.Append([]string{
				item.Str("oid"),
				strings.TrimSuffix(t, "s"),
				item.Str("title"),
			})
		}
	}
	table.Render()
	printer.Printf("%d items\n", table.Len())
	return nil
}
