package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/openmediakit/msclient"
	"github.com/openmediakit/msclient/internal/output"
	"github.com/openmediakit/msclient/internal/tracing"
)

var backupCmd = &cobra.Command{
	Use:   "backup [oid...]",
	Short: "Back up media into local zip archives",
	Long: `Download each media as a self contained zip holding its metadata,
its channel path and its best resource file. Archives that already exist
with the expected content are not downloaded again.

Examples:
  msc backup v126abc v126def
  msc backup v126abc --dir ./archive --playable`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBackup,
}

var (
	backupDir      string
	backupPlayable bool
	backupTree     bool
)

func init() {
	backupCmd.Flags().StringVarP(&backupDir, "dir", "d", "", "Target directory (default backup-<date>)")
	backupCmd.Flags().BoolVar(&backupPlayable, "playable", false, "Prefer resources usable by a player")
	backupCmd.Flags().BoolVar(&backupTree, "tree", false, "Replicate the channel hierarchy locally")
}

func runBackup(cmd *cobra.Command, args []string) error {
	dir := backupDir
	if dir == "" {
		dir = "backup-" + time.Now().Format("2006-01-02")
	}

	ctx, span := tracing.StartSpan(cmd.Context(), "msc.backup")
	defer span.End()

	opts := msclient.BackupOptions{
		Playable:      backupPlayable,
		ReplicateTree: backupTree,
	}

	progress := output.NewProgress(len(args), "Backing up",
		output.ProgressWithQuiet(printer.IsQuiet() || printer.IsJSON()))

	type backupEntry struct {
		Oid  string `json:"oid"`
		Path string `json:"path,omitempty"`
		Err  string `json:"error,omitempty"`
	}
	entries := make([]backupEntry, 0, len(args))
	failed := 0

	for _, oid := range args {
		item := mediaInfo(ctx, oid)
		path, err := client.BackupMedia(ctx, item, dir, opts)
		progress.Increment()
		if err != nil {
			tracing.RecordError(ctx, err)
			printer.ItemFailed(oid, err)
			entries = append(entries, backupEntry{Oid: oid, Err: err.Error()})
			failed++
			continue
		}
		printer.Success("%s backed up to %s", oid, filepath.Base(path))
		entries = append(entries, backupEntry{Oid: oid, Path: path})
	}
	progress.Finish()

	if printer.IsJSON() {
		return printer.JSON(map[string]any{
			"results":    entries,
			"total":      len(args),
			"successful": len(args) - failed,
			"failed":     failed,
		})
	}

	printer.Summary(len(args)-failed, failed)
	if failed > 0 {
		return fmt.Errorf("%d backups failed", failed)
	}
	return nil
}

// mediaInfo fetches the media metadata used to name the backup archive.
// A media that cannot be fetched is still backed up under its bare oid.
func mediaInfo(ctx context.Context, oid string) msclient.Result {
	result, err := client.Api(ctx, "medias/get/", msclient.WithParam("oid", oid))
	if err == nil {
		if info := result.Sub("info"); info != nil {
			return info
		}
	}
	return msclient.Result{"oid": oid}
}
