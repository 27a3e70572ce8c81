package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openmediakit/msclient"
	"github.com/openmediakit/msclient/internal/output"
	"github.com/openmediakit/msclient/internal/tracing"
)

var uploadCmd = &cobra.Command{
	Use:   "upload [file]",
	Short: "Add a media from a local file",
	Long: `Upload a file in chunks and create a media out of it. An .m3u8
playlist is uploaded as HLS together with its fragments.

Examples:
  msc upload talk.mp4
  msc upload talk.mp4 --title "Spring keynote" --channel c126
  msc upload slides.pdf --meta speaker="Ada Lovelace"
  msc upload stream/playlist.m3u8`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

var (
	uploadTitle   string
	uploadChannel string
	uploadMeta    []string
)

func init() {
	uploadCmd.Flags().StringVarP(&uploadTitle, "title", "t", "", "Media title (default: the file name)")
	uploadCmd.Flags().StringVarP(&uploadChannel, "channel", "c", "", "Parent channel oid")
	uploadCmd.Flags().StringArrayVarP(&uploadMeta, "meta", "m", nil, "Extra metadata field (key=value, repeatable)")
}

func runUpload(cmd *cobra.Command, args []string) error {
	filePath := args[0]
	info, err := os.Stat(filePath)
	if err != nil {
		return err
	}

	ctx, span := tracing.StartSpan(cmd.Context(), "msc.upload")
	defer span.End()

	if strings.EqualFold(filepath.Ext(filePath), ".m3u8") {
		dirName, err := client.UploadHLS(ctx, filePath)
		if err != nil {
			tracing.RecordError(ctx, err)
			printer.ItemFailed(filePath, err)
			return err
		}
		if printer.IsJSON() {
			return printer.JSON(map[string]any{"dir_name": dirName})
		}
		printer.MediaCreated(filepath.Base(filePath), dirName)
		return nil
	}

	metadata := map[string]any{}
	for _, kv := range uploadMeta {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("invalid metadata %q, expected key=value", kv)
		}
		metadata[key] = value
	}
	if uploadChannel != "" {
		metadata["channel"] = uploadChannel
	}

	title := uploadTitle
	if title == "" {
		title = filepath.Base(filePath)
	}

	bar := output.NewByteProgress(info.Size(), "Uploading", printer.IsQuiet() || printer.IsJSON())
	result, err := client.AddMedia(ctx, title, filePath, metadata,
		msclient.WithProgress(bar.SetFraction),
	)
	bar.Finish()
	if err != nil {
		tracing.RecordError(ctx, err)
		printer.ItemFailed(filePath, err)
		return err
	}

	oid := result.Str("oid")
	if printer.IsJSON() {
		return printer.JSON(map[string]any{"oid": oid, "title": title, "size": info.Size()})
	}
	printer.MediaCreated(filepath.Base(filePath), oid)
	return nil
}
