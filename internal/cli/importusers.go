package cli

import (
	"github.com/spf13/cobra"
)

var importUsersCmd = &cobra.Command{
	Use:   "import-users [file.csv]",
	Short: "Create users from a CSV file",
	Long: `Create one account per CSV row and gather the new accounts in a
group named after the import date. Rows hold
"first name;last name;email;company", the first line being a header.

Example:
  msc import-users ./students.csv`,
	Args: cobra.ExactArgs(1),
	RunE: runImportUsers,
}

func runImportUsers(cmd *cobra.Command, args []string) error {
	count, err := client.ImportUsersCSV(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if printer.IsJSON() {
		return printer.JSON(map[string]any{"created": count})
	}
	printer.Success("%d users created", count)
	return nil
}
