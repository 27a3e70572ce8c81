package msclient

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/openmediakit/msclient/internal/metrics"
)

// DownloadOptions adjusts metadata and resource downloads. The zero value
// asks for a full download skipped only when the destination file already
// exists with the size reported by the server.
type DownloadOptions struct {
	// FilePrefix overrides the automatic "<title> - <oid>" file name prefix.
	FilePrefix string
	// CurrentSize skips the download when the remote file has exactly this
	// size. Zero means the size of an existing destination file is used.
	CurrentSize int64
	// Force downloads the file even when a file with the expected size is
	// already there.
	Force bool
	// Annotations selects which annotations go into the metadata zip:
	// "all" (the default), "editorial" or "none".
	Annotations string
	// SkipResourceLinks leaves the resource links out of the metadata zip.
	SkipResourceLinks bool
	// Playable restricts resource selection to files usable by a player.
	Playable bool
}

// BackupOptions adjusts media backups.
type BackupOptions struct {
	// Playable restricts the backed up resource to files usable by a player.
	Playable bool
	// ReplicateTree recreates the channel hierarchy under the target
	// directory instead of writing all archives side by side.
	ReplicateTree bool
}

// DownloadMetadataZip downloads the metadata archive of a media into
// dirPath and returns the file path. An empty path with a nil error means
// the download was skipped because the file was already there with the
// expected size.
func (c *Client) DownloadMetadataZip(ctx context.Context, item Result, dirPath string, opts DownloadOptions) (string, error) {
	oid := item.Str("oid")
	if oid == "" {
		return "", errors.New("an object id is required to download the metadata zip")
	}
	annotations := opts.Annotations
	if annotations == "" {
		annotations = "all"
	}
	switch annotations {
	case "all", "editorial", "none":
	default:
		return "", fmt.Errorf("invalid annotations value %q, expected all, editorial or none", annotations)
	}
	resources := "yes"
	if opts.SkipResourceLinks {
		resources = "no"
	}

	c.log.Info().Str("item", itemRepr(item)).Msg("downloading media metadata")

	params := url.Values{}
	params.Set("oid", oid)
	params.Set("annotations", annotations)
	params.Set("resources", resources)

	version, err := c.ServerVersion(ctx)
	if err != nil {
		return "", err
	}
	path := "download/metadata/"
	if version.LessThan(versionDownloadMetadata) {
		path = "medias/get/zip/"
	}

	if err := os.MkdirAll(dirPath, 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", dirPath, err)
	}
	prefix := opts.FilePrefix
	if prefix == "" {
		prefix = filePrefix(item)
	}
	dest := filepath.Join(dirPath, prefix+".zip")

	if c.skipExisting(ctx, dest, path, params, true, opts) {
		return "", nil
	}

	begin := time.Now()
	written, err := c.streamToFile(ctx, path, params, dest, true)
	if err != nil {
		return "", err
	}
	c.log.Info().
		Str("file", filepath.Base(dest)).
		Str("bandwidth", bandwidthRepr(written, time.Since(begin))).
		Msg("download finished")

	if err := verifyZip(dest); err != nil {
		return "", err
	}
	return dest, nil
}

// DownloadBestResource downloads the largest usable resource file of a
// media into dirPath and returns the file path. Non-video items and videos
// without resources are skipped, returning an empty path. For external
// videos the video id or embed code is written out instead of a media file.
func (c *Client) DownloadBestResource(ctx context.Context, item Result, dirPath string, opts DownloadOptions) (string, error) {
	oid := item.Str("oid")
	if oid == "" {
		return "", errors.New("an object id is required to download a resource")
	}
	if !strings.HasPrefix(oid, "v") {
		c.log.Info().Str("oid", oid).Msg("not a video, skipping resource download")
		return "", nil
	}

	c.log.Info().Str("item", itemRepr(item)).Msg("downloading media resource")

	listing, err := c.Api(ctx, "medias/resources-list/", WithParam("oid", oid))
	if err != nil {
		return "", err
	}
	all := listing.Items("resources")
	if len(all) == 0 {
		c.log.Info().Str("oid", oid).Msg("the media has no resource")
		return "", nil
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].Int("file_size") > all[j].Int("file_size")
	})
	var best Result
	for _, res := range all {
		// m3u8 playlists reference fragments instead of holding the video
		if res.Str("format") != "m3u8" && (!opts.Playable || res.Bool("used_for_display")) {
			best = res
			break
		}
	}
	if best == nil {
		return "", fmt.Errorf("no downloadable resource for video %s", oid)
	}
	c.log.Info().Str("oid", oid).Str("file", best.Str("file")).Msg("best quality file selected")

	if err := os.MkdirAll(dirPath, 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", dirPath, err)
	}
	prefix := opts.FilePrefix
	if prefix == "" {
		prefix = filePrefix(item)
	}
	name := fmt.Sprintf("%s-%dx%d.%s", prefix, best.Int("width"), best.Int("height"), best.Str("format"))
	dest := filepath.Join(dirPath, name)

	if format := best.Str("format"); format == "youtube" || format == "embed" {
		data := []byte(best.Str("file"))
		currentSize := c.existingSize(dest, opts)
		if !opts.Force && currentSize > 0 && currentSize == int64(len(data)) {
			c.log.Info().Str("file", name).Msg("skipping download, the file already exists with the expected size")
			return "", nil
		}
		if err := os.WriteFile(dest, data, 0o644); err != nil {
			return "", fmt.Errorf("failed to write %s: %w", dest, err)
		}
		return dest, nil
	}

	resolved, err := c.Api(ctx, "download/", WithParams(url.Values{
		"oid":      {oid},
		"url":      {best.Str("path")},
		"redirect": {"no"},
	}))
	if err != nil {
		return "", err
	}
	fileURL := resolved.Str("url")
	if fileURL == "" {
		return "", fmt.Errorf("no download url in server response for video %s", oid)
	}

	// The resolved URL carries its own signature, no API authentication.
	if c.skipExisting(ctx, dest, fileURL, nil, false, opts) {
		return "", nil
	}

	begin := time.Now()
	written, err := c.streamToFile(ctx, fileURL, nil, dest, false)
	if err != nil {
		return "", err
	}
	c.log.Info().
		Str("file", name).
		Str("bandwidth", bandwidthRepr(written, time.Since(begin))).
		Msg("download finished")
	return dest, nil
}

// BackupMedia downloads the metadata archive and the best resource of a
// media and bundles them into a single zip file named after the media.
// Existing archives are reused: when both parts still have the recorded
// sizes nothing is downloaded again. Returns the archive path.
func (c *Client) BackupMedia(ctx context.Context, item Result, dirPath string, opts BackupOptions) (string, error) {
	oid := item.Str("oid")
	if oid == "" {
		return "", errors.New("an object id is required to back up a media")
	}

	c.log.Info().Str("item", itemRepr(item)).Msg("backing up media")

	pathResp, err := c.Api(ctx, "channels/path/", WithParam("oid", oid))
	if err != nil {
		return "", err
	}
	channels := pathResp.Items("path")
	chanPath := make([]string, 0, len(channels))
	for _, channel := range channels {
		chanPath = append(chanPath, strings.ReplaceAll(channel.Str("title"), "/", "|"))
	}

	backupDir := dirPath
	if opts.ReplicateTree {
		parts := []string{dirPath}
		for _, channel := range channels {
			parts = append(parts, filePrefix(channel))
		}
		backupDir = filepath.Join(parts...)
	}
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", backupDir, err)
	}

	zipPath := filepath.Join(backupDir, filePrefix(item)+".zip")

	// Sizes recorded in an existing archive let us skip unchanged downloads.
	var metadataZipSize, bestResourceSize int64
	if reader, err := zip.OpenReader(zipPath); err == nil {
		for _, f := range reader.File {
			if f.Name == "metadata-size.txt" {
				if rc, err := f.Open(); err == nil {
					data, _ := io.ReadAll(rc)
					_ = rc.Close()
					metadataZipSize, _ = strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
				}
			} else if strings.HasPrefix(f.Name, "resource-") {
				bestResourceSize = int64(f.UncompressedSize64)
			}
		}
		_ = reader.Close()
		c.log.Info().
			Str("file", filepath.Base(zipPath)).
			Int64("metadata_size", metadataZipSize).
			Int64("resource_size", bestResourceSize).
			Msg("the backup archive already exists")
	}

	tmpPrefix := "tmp-" + oid
	metaPath, err := c.DownloadMetadataZip(ctx, item, backupDir, DownloadOptions{
		FilePrefix:        tmpPrefix,
		CurrentSize:       metadataZipSize,
		Force:             metadataZipSize == 0,
		SkipResourceLinks: true,
	})
	if err != nil {
		return "", err
	}
	resPath, err := c.DownloadBestResource(ctx, item, backupDir, DownloadOptions{
		FilePrefix:  tmpPrefix,
		CurrentSize: bestResourceSize,
		Force:       metaPath != "" || bestResourceSize == 0,
		Playable:    opts.Playable,
	})
	if err != nil {
		return "", err
	}
	if resPath != "" && metaPath == "" {
		// The resource changed but the metadata was skipped, fetch it anyway
		// so the rebuilt archive is complete.
		metaPath, err = c.DownloadMetadataZip(ctx, item, backupDir, DownloadOptions{
			FilePrefix:        tmpPrefix,
			Force:             true,
			SkipResourceLinks: true,
		})
		if err != nil {
			return "", err
		}
	}

	if metaPath == "" && resPath == "" {
		c.log.Info().
			Str("file", filepath.Base(zipPath)).
			Msg("the backup archive was already existing with the expected sizes")
		return zipPath, nil
	}
	if metaPath == "" {
		return "", errors.New("the metadata and the resource should have been downloaded")
	}

	info, err := os.Stat(metaPath)
	if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", metaPath, err)
	}
	if err := appendBackupEntries(metaPath, resPath, tmpPrefix, info.Size(), strings.Join(chanPath, "/")); err != nil {
		return "", err
	}
	if err := verifyZip(metaPath); err != nil {
		return "", err
	}
	if err := os.Rename(metaPath, zipPath); err != nil {
		return "", fmt.Errorf("failed to move the backup archive: %w", err)
	}
	if resPath != "" {
		_ = os.Remove(resPath)
	}

	c.log.Info().Str("file", filepath.Base(zipPath)).Msg("the backup archive has been created")
	return zipPath, nil
}

// appendBackupEntries rebuilds the archive with the size and channel path
// records plus the resource file. The zip format cannot grow in place.
func appendBackupEntries(zipPath, resourcePath, tmpPrefix string, metadataSize int64, channelPath string) error {
	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("failed to open zip file %s: %w", zipPath, err)
	}
	defer func() { _ = reader.Close() }()

	tmpPath := zipPath + ".tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmpPath, err)
	}
	defer func() { _ = out.Close() }()

	writer := zip.NewWriter(out)
	for _, f := range reader.File {
		if err := writer.Copy(f); err != nil {
			return fmt.Errorf("failed to copy zip entry %s: %w", f.Name, err)
		}
	}
	w, err := writer.Create("metadata-size.txt")
	if err == nil {
		_, err = w.Write([]byte(strconv.FormatInt(metadataSize, 10)))
	}
	if err != nil {
		return fmt.Errorf("failed to write zip entry: %w", err)
	}
	w, err = writer.Create("metadata-path.txt")
	if err == nil {
		_, err = w.Write([]byte(channelPath))
	}
	if err != nil {
		return fmt.Errorf("failed to write zip entry: %w", err)
	}
	if resourcePath != "" {
		name := "resource" + strings.TrimPrefix(filepath.Base(resourcePath), tmpPrefix)
		f, err := os.Open(resourcePath)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", resourcePath, err)
		}
		w, err := writer.Create(name)
		if err == nil {
			_, err = io.Copy(w, f)
		}
		_ = f.Close()
		if err != nil {
			return fmt.Errorf("failed to write zip entry %s: %w", name, err)
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finish zip file: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to finish zip file: %w", err)
	}
	if err := os.Rename(tmpPath, zipPath); err != nil {
		return fmt.Errorf("failed to replace zip file: %w", err)
	}
	return nil
}

// existingSize resolves the size to compare against the remote file, either
// the explicit one or the size of the file already on disk.
func (c *Client) existingSize(dest string, opts DownloadOptions) int64 {
	if opts.Force {
		return 0
	}
	if opts.CurrentSize > 0 {
		return opts.CurrentSize
	}
	if info, err := os.Stat(dest); err == nil {
		return info.Size()
	}
	return 0
}

// skipExisting reports whether the download can be skipped because dest
// already holds a file of the size the server reports. Failing to learn the
// remote size is only worth a warning, the download then proceeds.
func (c *Client) skipExisting(ctx context.Context, dest, path string, params url.Values, authenticated bool, opts DownloadOptions) bool {
	currentSize := c.existingSize(dest, opts)
	if currentSize == 0 {
		return false
	}
	size, err := c.remoteSize(ctx, path, params, authenticated)
	if err != nil {
		c.log.Warn().Str("file", filepath.Base(dest)).Err(err).Msg("failed to get the expected file size")
		return false
	}
	if size != currentSize {
		return false
	}
	c.log.Info().
		Str("file", filepath.Base(dest)).
		Msg("skipping download, the file already exists with the expected size")
	return true
}

// remoteSize asks the server for the size of a downloadable file.
func (c *Client) remoteSize(ctx context.Context, path string, params url.Values, authenticated bool) (int64, error) {
	opts := []RequestOption{WithMethod(http.MethodHead)}
	if params != nil {
		opts = append(opts, WithParams(params))
	}
	if !authenticated {
		opts = append(opts, withoutAuth())
	}
	resp, err := c.Stream(ctx, path, opts...)
	if err != nil {
		return 0, err
	}
	_ = resp.Body.Close()
	if resp.ContentLength <= 0 {
		return 0, errors.New("no content length in response")
	}
	return resp.ContentLength, nil
}

// streamToFile downloads a file to dest and returns the number of bytes
// written.
func (c *Client) streamToFile(ctx context.Context, path string, params url.Values, dest string, authenticated bool) (int64, error) {
	opts := []RequestOption{}
	if params != nil {
		opts = append(opts, WithParams(params))
	}
	if !authenticated {
		opts = append(opts, withoutAuth())
	}
	resp, err := c.Stream(ctx, path, opts...)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	out, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", dest, err)
	}
	written, err := io.CopyBuffer(out, resp.Body, make([]byte, c.conf.DownloadChunkSize))
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(dest)
		return 0, fmt.Errorf("failed to download to %s: %w", dest, err)
	}
	metrics.RecordDownloadBytes(written)
	return written, nil
}

// verifyZip reads every archive entry in full so the checksums are checked.
func verifyZip(path string) error {
	reader, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("invalid zip file %s: %w", path, err)
	}
	defer func() { _ = reader.Close() }()
	for _, f := range reader.File {
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("corrupted entry %s in zip file %s: %w", f.Name, path, err)
		}
		_, err = io.Copy(io.Discard, rc)
		_ = rc.Close()
		if err != nil {
			return fmt.Errorf("corrupted entry %s in zip file %s: %w", f.Name, path, err)
		}
	}
	return nil
}

// itemRepr identifies an item in logs.
func itemRepr(item Result) string {
	txt := item.Str("oid")
	if title := item.Str("title"); title != "" {
		txt += " " + title
	}
	return txt
}

// filePrefix builds a file name prefix out of an item's title and oid,
// folded to ASCII so the names survive any filesystem.
func filePrefix(item Result) string {
	title := item.Str("title")
	if r := []rune(title); len(r) > 57 {
		title = string(r[:57])
	}
	title = strings.ReplaceAll(title, "/", "|")
	title = strings.Trim(title, " -")
	return foldASCII(title+" - ") + item.Str("oid")
}

var asciiFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// foldASCII strips diacritics and drops anything still outside ASCII.
func foldASCII(s string) string {
	folded, _, err := transform.String(asciiFolder, s)
	if err != nil {
		folded = s
	}
	return strings.Map(func(r rune) rune {
		if r > unicode.MaxASCII {
			return -1
		}
		return r
	}, folded)
}
