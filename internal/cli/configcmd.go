package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openmediakit/msclient"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the client configuration",
	Long:  `View and edit the configuration file used to reach the server.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Set a configuration value",
	Long: `Write a value into the configuration file.

Available keys:
  SERVER_URL         Server base URL
  API_KEY            API key of the account to act as
  CLIENT_ID          Client identification string
  LANGUAGE           Language header sent with requests
  TIMEOUT            Request timeout, e.g. 30s
  VERIFY_SSL         Whether TLS certificates are checked
  MAX_RETRY          Retries after a transient failure
  UPLOAD_CHUNK_SIZE  Upload chunk size in bytes
  UPLOAD_MAX_FILES   Parallel chunks of an HLS upload
  LOG_LEVEL          Log verbosity

Examples:
  msc config set SERVER_URL https://my.mediaserver.net
  msc config set MAX_RETRY 5`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the configuration file path",
	RunE:  runConfigPath,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a commented configuration template",
	RunE:  runConfigInit,
}

var configInitForce bool

func init() {
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "Overwrite an existing file")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configInitCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	if printer.IsJSON() {
		return printer.JSON(map[string]any{
			"file":              resolveConfPath(),
			"server_url":        conf.ServerURL,
			"api_key":           maskKey(conf.APIKey),
			"client_id":         conf.ClientID,
			"language":          conf.Language,
			"timeout":           conf.Timeout.String(),
			"verify_ssl":        conf.VerifySSL,
			"max_retry":         conf.MaxRetry,
			"upload_chunk_size": conf.UploadChunkSize,
			"upload_max_files":  conf.UploadMaxFiles,
			"log_level":         conf.LogLevel,
		})
	}

	printer.Section("Configuration")
	printer.KeyValue("File", resolveConfPath())
	printer.KeyValue("Server URL", conf.ServerURL)
	printer.KeyValue("API key", maskKey(conf.APIKey))
	printer.KeyValue("Client ID", conf.ClientID)
	printer.KeyValue("Language", conf.Language)
	printer.KeyValue("Timeout", conf.Timeout.String())
	printer.KeyValue("Verify SSL", fmt.Sprintf("%v", conf.VerifySSL))
	printer.KeyValue("Max retry", fmt.Sprintf("%d", conf.MaxRetry))
	printer.KeyValue("Upload chunk size", fmt.Sprintf("%d", conf.UploadChunkSize))
	printer.KeyValue("Upload max files", fmt.Sprintf("%d", conf.UploadMaxFiles))
	printer.KeyValue("Log level", conf.LogLevel)
	return nil
}

var configKeys = map[string]bool{
	"SERVER_URL":        true,
	"API_KEY":           true,
	"CLIENT_ID":         true,
	"LANGUAGE":          true,
	"TIMEOUT":           true,
	"VERIFY_SSL":        true,
	"MAX_RETRY":         true,
	"UPLOAD_CHUNK_SIZE": true,
	"UPLOAD_MAX_FILES":  true,
	"LOG_LEVEL":         true,
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := strings.ToUpper(args[0])
	if !configKeys[key] {
		return fmt.Errorf("unknown config key: %s", args[0])
	}
	path := resolveConfPath()
	if err := msclient.UpdateConfigFile(path, key, args[1]); err != nil {
		return err
	}
	printer.Success("Set %s = %s in %s", key, args[1], path)
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	path := resolveConfPath()
	if printer.IsJSON() {
		return printer.JSON(map[string]string{"path": path})
	}
	printer.Println(path)
	return nil
}

const confTemplate = `{
	"SERVER_URL": "https://my.mediaserver.net",
	"API_KEY": "",
	"VERIFY_SSL": true
}
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := resolveConfPath()
	if _, err := os.Stat(path); err == nil && !configInitForce {
		return fmt.Errorf("%s already exists, pass --force to overwrite it", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(confTemplate), 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	printer.Success("Wrote %s", path)
	return nil
}

// maskKey hides the middle of an API key for display.
func maskKey(key string) string {
	if key == "" {
		return "(not set)"
	}
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
