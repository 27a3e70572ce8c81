package cli

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/h2non/filetype"
	"github.com/spf13/cobra"

	"github.com/openmediakit/msclient/internal/output"
)

var massUploadCmd = &cobra.Command{
	Use:   "mass-upload [directory]",
	Short: "Upload every media file of a directory",
	Long: `Scan a directory for media files and add each one as a media.
Files are identified by content, not extension. Uploads run in parallel
across files; the chunks of one file stay sequential.

Examples:
  msc mass-upload ./recordings
  msc mass-upload ./recordings --recursive --channel c126 --parallel 8`,
	Args: cobra.ExactArgs(1),
	RunE: runMassUpload,
}

var (
	massParallel  int
	massChannel   string
	massRecursive bool
)

func init() {
	massUploadCmd.Flags().IntVarP(&massParallel, "parallel", "p", 4, "Concurrent uploads")
	massUploadCmd.Flags().StringVarP(&massChannel, "channel", "c", "", "Parent channel oid")
	massUploadCmd.Flags().BoolVarP(&massRecursive, "recursive", "r", false, "Walk subdirectories")
}

type massResult struct {
	File string
	Oid  string
	Err  error
}

func runMassUpload(cmd *cobra.Command, args []string) error {
	files, err := collectMediaFiles(args[0], massRecursive)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no media files in %s", args[0])
	}
	parallel := massParallel
	if parallel < 1 {
		parallel = 1
	}

	printer.Printf("Uploading %d files...\n", len(files))

	ctx := cmd.Context()
	results := make(chan massResult, len(files))
	sem := make(chan struct{}, parallel)
	var wg sync.WaitGroup

	progress := output.NewProgress(len(files), "Uploading",
		output.ProgressWithQuiet(printer.IsQuiet() || printer.IsJSON()))

	for _, file := range files {
		wg.Add(1)
		go func(f string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			metadata := map[string]any{}
			if massChannel != "" {
				metadata["channel"] = massChannel
			}
			result, err := client.AddMedia(ctx, filepath.Base(f), f, metadata)
			if err != nil {
				results <- massResult{File: f, Err: err}
			} else {
				results <- massResult{File: f, Oid: result.Str("oid")}
			}
			progress.Increment()
		}(file)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var uploaded, failed []massResult
	for result := range results {
		if result.Err != nil {
			failed = append(failed, result)
			printer.ItemFailed(result.File, result.Err)
		} else {
			uploaded = append(uploaded, result)
			printer.MediaCreated(filepath.Base(result.File), result.Oid)
		}
	}
	progress.Finish()

	if printer.IsJSON() {
		entries := make([]map[string]any, 0, len(files))
		for _, r := range uploaded {
			entries = append(entries, map[string]any{"file": r.File, "oid": r.Oid})
		}
		for _, r := range failed {
			entries = append(entries, map[string]any{"file": r.File, "error": r.Err.Error()})
		}
		return printer.JSON(map[string]any{
			"results":    entries,
			"total":      len(files),
			"successful": len(uploaded),
			"failed":     len(failed),
		})
	}

	printer.Summary(len(uploaded), len(failed))
	if len(failed) > 0 {
		return fmt.Errorf("%d uploads failed", len(failed))
	}
	return nil
}

// collectMediaFiles keeps the files whose content identifies a video, audio
// or image format. Extension checks would miss renamed files.
func collectMediaFiles(dir string, recursive bool) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && !recursive {
				return fs.SkipDir
			}
			return nil
		}
		ok, err := isMediaFile(path)
		if err != nil {
			printer.Warn("skipping unreadable file %s: %v", path, err)
			return nil
		}
		if ok {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// isMediaFile sniffs the magic bytes of a file.
func isMediaFile(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer func() { _ = f.Close() }()

	head := make([]byte, 261)
	n, err := f.Read(head)
	if err != nil && err != io.EOF {
		return false, err
	}
	head = head[:n]
	return filetype.IsVideo(head) || filetype.IsAudio(head) || filetype.IsImage(head), nil
}
