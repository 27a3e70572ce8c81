package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/openmediakit/msclient/internal/output"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check the server connection",
	Long:  `Check that the server answers with the configured credentials and report its version.`,
	Args:  cobra.NoArgs,
	RunE:  runPing,
}

func runPing(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	spin := output.NewSpinner("Contacting "+conf.ServerURL, printer.IsQuiet() || printer.IsJSON())
	start := time.Now()
	_, err := client.CheckServer(ctx)
	spin.Finish()
	if err != nil {
		return err
	}
	latency := time.Since(start)

	serverVersion, err := client.ServerVersion(ctx)
	if err != nil {
		return err
	}

	if printer.IsJSON() {
		return printer.JSON(map[string]any{
			"server":     conf.ServerURL,
			"version":    serverVersion.String(),
			"latency_ms": latency.Milliseconds(),
		})
	}
	printer.Success("%s is up (version %s, %s)", conf.ServerURL, serverVersion, latency.Round(time.Millisecond))
	return nil
}
