package cli

import (
	"bufio"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete all content on the server",
	Long: `Delete every channel with its media, repeating until the channel
tree is empty. Asks for the server host to be typed back unless --force
is given.`,
	Args: cobra.NoArgs,
	RunE: runPurge,
}

var purgeForce bool

func init() {
	purgeCmd.Flags().BoolVar(&purgeForce, "force", false, "Skip the confirmation prompt")
}

func runPurge(cmd *cobra.Command, args []string) error {
	if !purgeForce {
		if printer.IsQuiet() || printer.IsJSON() {
			return errors.New("purge requires interactive confirmation, pass --force to skip it")
		}
		host := conf.ServerURL
		if u, err := url.Parse(conf.ServerURL); err == nil && u.Host != "" {
			host = u.Host
		}
		printer.Warn("this deletes every channel and media on %s", host)
		printer.Printf("Type the server host to confirm: ")
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read confirmation: %w", err)
		}
		if strings.TrimSpace(line) != host {
			return errors.New("confirmation did not match, nothing deleted")
		}
	}

	if err := client.RemoveAllContent(cmd.Context()); err != nil {
		return err
	}
	printer.Success("all content removed")
	return nil
}
