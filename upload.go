package msclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/openmediakit/msclient/internal/metrics"
)

// Upload defaults. Chunk calls move a lot more data than plain API calls,
// so they get a longer timeout and a higher retry bound.
const (
	DefaultUploadTimeout  = 5 * time.Minute
	DefaultHLSTimeout     = 10 * time.Minute
	DefaultUploadMaxRetry = 10
)

var (
	remotePathRe = regexp.MustCompile(`^[A-Za-z0-9_-]{10,50}/.+$`)
	remoteDirRe  = regexp.MustCompile(`^[A-Za-z0-9_-]{10,50}$`)
)

type uploadSettings struct {
	remotePath string
	chunkSize  int64
	timeout    time.Duration
	maxRetry   int
	progress   func(fraction float64)
}

// UploadOption adjusts a chunked or HLS upload.
type UploadOption func(*uploadSettings)

// WithRemotePath stores the upload under the given remote path instead of an
// automatic location. For Upload the format is "<dir>/<name>"; for UploadHLS
// only the directory part is given.
func WithRemotePath(path string) UploadOption {
	return func(s *uploadSettings) {
		s.remotePath = path
	}
}

// WithChunkSize overrides the configured chunk size for this upload.
func WithChunkSize(n int64) UploadOption {
	return func(s *uploadSettings) {
		if n > 0 {
			s.chunkSize = n
		}
	}
}

// WithUploadTimeout overrides the per-chunk timeout.
func WithUploadTimeout(d time.Duration) UploadOption {
	return func(s *uploadSettings) {
		s.timeout = d
	}
}

// WithUploadMaxRetry overrides the per-chunk retry bound.
func WithUploadMaxRetry(n int) UploadOption {
	return func(s *uploadSettings) {
		if n >= 0 {
			s.maxRetry = n
		}
	}
}

// WithProgress registers a callback receiving the upload progress as a
// fraction between 0 and 1. It is called from the uploading goroutine.
func WithProgress(f func(fraction float64)) UploadOption {
	return func(s *uploadSettings) {
		s.progress = f
	}
}

func (c *Client) uploadSettings(opts []UploadOption, defaultTimeout time.Duration) *uploadSettings {
	settings := &uploadSettings{
		chunkSize: c.conf.UploadChunkSize,
		timeout:   defaultTimeout,
		maxRetry:  DefaultUploadMaxRetry,
	}
	for _, opt := range opts {
		opt(settings)
	}
	return settings
}

// Chunked upload session states.
type uploadState int

const (
	statePreparing uploadState = iota
	stateUploading
	stateFinalizing
	stateDone
	stateFailed
)

// uploadSession tracks one in-progress chunked upload: the source file, how
// far it got and the remote resource identifier once the first chunk is
// acknowledged. It is driven by a single goroutine.
type uploadSession struct {
	client     *Client
	file       *os.File
	path       string
	remotePath string
	urlPrefix  string

	state     uploadState
	uploadID  string
	totalSize int64
	chunkSize int64
	offset    int64

	timeout  time.Duration
	maxRetry int
	progress func(float64)
}

// Upload sends a local file through the chunked upload API and returns the
// upload id of the stored resource. The file is split into fixed-size
// chunks sent strictly in order, each carrying its byte range; a chunk hit
// by a transient failure is re-sent, which the server accepts idempotently.
// After the last chunk the resource is finalized in a separate call. On
// failure the remote side may keep a partial resource; cleaning it up is the
// caller's responsibility.
func (c *Client) Upload(ctx context.Context, filePath string, opts ...UploadOption) (string, error) {
	settings := c.uploadSettings(opts, DefaultUploadTimeout)
	if settings.remotePath != "" && !remotePathRe.MatchString(settings.remotePath) {
		return "", &UploadError{Path: filePath, Message: "invalid remote path, expected \"<dir>/<name>\" with a 10-50 character dir"}
	}
	if err := c.checkConf(); err != nil {
		return "", err
	}

	version, err := c.ServerVersion(ctx)
	if err != nil {
		return "", err
	}
	urlPrefix := ""
	if version.LessThan(versionUploadPath) {
		urlPrefix = "medias/resource/"
	}

	file, err := os.Open(filePath)
	if err != nil {
		return "", &UploadError{Path: filePath, Message: "failed to open file", Err: err}
	}

	session := &uploadSession{
		client:     c,
		file:       file,
		path:       filePath,
		remotePath: settings.remotePath,
		urlPrefix:  urlPrefix,
		state:      statePreparing,
		chunkSize:  settings.chunkSize,
		timeout:    settings.timeout,
		maxRetry:   settings.maxRetry,
		progress:   settings.progress,
	}
	return session.run(ctx)
}

// run drives the session to Done or Failed. The file handle is released on
// every exit path.
func (s *uploadSession) run(ctx context.Context) (string, error) {
	defer func() { _ = s.file.Close() }()

	fail := func(err error) (string, error) {
		s.state = stateFailed
		metrics.RecordUpload("failure", s.totalSize, 0)
		return "", err
	}

	stat, err := s.file.Stat()
	if err != nil {
		return fail(&UploadError{Path: s.path, Message: "failed to stat file", Err: err})
	}
	s.totalSize = stat.Size()
	if s.totalSize == 0 {
		return fail(&UploadError{Path: s.path, Message: "file is empty"})
	}

	s.client.log.Info().
		Str("file", filepath.Base(s.path)).
		Int64("size", s.totalSize).
		Msg("uploading file")

	chunksTotal := int((s.totalSize + s.chunkSize - 1) / s.chunkSize)
	buffer := make([]byte, s.chunkSize)
	begin := time.Now()

	for index := 1; s.offset < s.totalSize; index++ {
		n, err := io.ReadFull(s.file, buffer)
		if err == io.EOF {
			break
		}
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
			return fail(&UploadError{Path: s.path, Message: fmt.Sprintf("failed to read chunk %d", index), Err: err})
		}

		if err := s.sendChunk(ctx, index, chunksTotal, buffer[:n]); err != nil {
			return fail(err)
		}

		s.offset += int64(n)
		if s.progress != nil {
			s.progress(0.9 * float64(s.offset-1) / float64(s.totalSize))
		}
	}

	s.state = stateFinalizing
	if err := s.finalize(ctx); err != nil {
		return fail(err)
	}
	s.state = stateDone

	elapsed := time.Since(begin)
	metrics.RecordUpload("success", s.totalSize, elapsed.Seconds())
	s.client.log.Info().
		Str("file", filepath.Base(s.path)).
		Str("bandwidth", bandwidthRepr(s.totalSize, elapsed)).
		Msg("upload finished")

	if s.progress != nil {
		s.progress(1.0)
	}
	return s.uploadID, nil
}

// sendChunk uploads one chunk, retrying transient failures in place. A 400
// answer whose reported offset sits right after this chunk means a previous
// attempt did arrive and only its response was lost; the chunk counts as
// sent then. Any other 400 is final: re-sending identical bytes cannot
// change the verdict.
func (s *uploadSession) sendChunk(ctx context.Context, index, chunksTotal int, chunk []byte) error {
	startOffset := s.offset
	endOffset := startOffset + int64(len(chunk)) - 1
	s.client.log.Debug().
		Int("chunk", index).
		Int("chunks_total", chunksTotal).
		Int64("start", startOffset).
		Msg("uploading chunk")

	tried := 0
	for {
		tried++

		data := map[string]any{}
		if s.uploadID != "" {
			data["upload_id"] = s.uploadID
		}
		result, err := s.client.Api(ctx, s.urlPrefix+"upload/",
			WithMethod(http.MethodPost),
			WithData(data),
			WithFile("file", filepath.Base(s.path), bytes.NewReader(chunk)),
			WithHeader("Content-Range", fmt.Sprintf("bytes %d-%d/%d", startOffset, endOffset, s.totalSize)),
			WithTimeout(s.timeout),
			WithMaxRetry(0),
		)
		if err == nil {
			if s.uploadID == "" {
				s.uploadID = result.Str("upload_id")
				if s.uploadID == "" {
					return &UploadError{Path: s.path, Message: "no upload id in server response"}
				}
				s.state = stateUploading
			}
			metrics.RecordChunk("sent", int64(len(chunk)))
			return nil
		}

		if StatusCode(err) == http.StatusBadRequest {
			if tried > 1 && s.uploadID != "" && rejectedOffset(err) == endOffset+1 {
				s.client.log.Info().
					Int64("offset", endOffset+1).
					Msg("chunk already received by server, ignoring error")
				metrics.RecordChunk("recovered", int64(len(chunk)))
				return nil
			}
			metrics.RecordChunk("failed", int64(len(chunk)))
			return &UploadError{Path: s.path, Message: fmt.Sprintf("chunk %d rejected", index), Err: err}
		}
		if !IsTransient(err) {
			metrics.RecordChunk("failed", int64(len(chunk)))
			return &UploadError{Path: s.path, Message: fmt.Sprintf("chunk %d failed", index), Err: err}
		}
		if tried > s.maxRetry {
			metrics.RecordChunk("failed", int64(len(chunk)))
			return &UploadError{
				Path:    s.path,
				Message: fmt.Sprintf("chunk %d failed after %d attempts", index, tried),
				Err:     err,
			}
		}

		delay := s.client.backoff(uint(tried - 1))
		s.client.log.Warn().
			Int("tried", tried).
			Int("max_retry", s.maxRetry).
			Dur("delay", delay).
			Err(err).
			Msg("chunk upload failed, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// rejectedOffset reads the next expected byte offset out of a 400 response,
// or -1 when the server did not report one.
func rejectedOffset(err error) int64 {
	var te *TransportError
	if !errors.As(err, &te) || te.Response == nil {
		return -1
	}
	if _, ok := te.Response["offset"]; !ok {
		return -1
	}
	return te.Response.Int("offset")
}

func (s *uploadSession) finalize(ctx context.Context) error {
	data := map[string]any{
		"upload_id": s.uploadID,
		// md5 verification is deprecated server-side, announce we skip it
		"no_md5":        "yes",
		"expected_size": strconv.FormatInt(s.totalSize, 10),
	}
	if s.remotePath != "" {
		data["path"] = s.remotePath
	}
	_, err := s.client.Api(ctx, s.urlPrefix+"upload/complete/",
		WithMethod(http.MethodPost),
		WithData(data),
		WithTimeout(s.timeout),
		WithMaxRetry(s.maxRetry),
	)
	if err != nil {
		return &UploadError{Path: s.path, Message: "failed to finalize upload", Err: err}
	}
	return nil
}

// UploadHLS sends an HLS playlist and its fragment directory, batching many
// small files per request instead of going through the chunked upload. The
// directory holding the ts fragments must carry the playlist's name without
// extension. Returns the remote directory name.
func (c *Client) UploadHLS(ctx context.Context, m3u8Path string, opts ...UploadOption) (string, error) {
	settings := c.uploadSettings(opts, DefaultHLSTimeout)
	remoteDir := settings.remotePath
	if remoteDir != "" && !remoteDirRe.MatchString(remoteDir) {
		return "", &UploadError{Path: m3u8Path, Message: "invalid remote dir, expected 10-50 characters of [A-Za-z0-9_-]"}
	}
	if err := c.checkConf(); err != nil {
		return "", err
	}

	version, err := c.ServerVersion(ctx)
	if err != nil {
		return "", err
	}
	if version.LessThan(versionUploadPath) {
		return "", &UploadError{Path: m3u8Path, Message: "the server version does not support HLS upload"}
	}

	info, err := os.Stat(m3u8Path)
	if err != nil || info.IsDir() {
		return "", &UploadError{Path: m3u8Path, Message: "the m3u8 file does not exist"}
	}
	base := filepath.Base(m3u8Path)
	tsDir := filepath.Join(filepath.Dir(m3u8Path), strings.TrimSuffix(strings.Trim(base, "."), filepath.Ext(strings.Trim(base, "."))))
	dirInfo, err := os.Stat(tsDir)
	if err != nil || !dirInfo.IsDir() {
		return "", &UploadError{Path: m3u8Path, Message: fmt.Sprintf("the ts directory %q of the playlist does not exist", tsDir)}
	}

	entries, err := os.ReadDir(tsDir)
	if err != nil {
		return "", &UploadError{Path: m3u8Path, Message: "failed to list the ts directory", Err: err}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	c.log.Info().Str("playlist", base).Int("fragments", len(entries)).Msg("uploading HLS")

	hlsName := filepath.Base(tsDir)
	totalFiles := len(entries) + 1
	sentFiles := 0
	var totalBytes int64
	begin := time.Now()

	sendBatch := func(batch []string, batchBytes int64) error {
		data := map[string]any{
			"dir_name": remoteDir,
			"hls_name": hlsName,
		}
		opts := []RequestOption{
			WithMethod(http.MethodPost),
			WithData(data),
			WithTimeout(settings.timeout),
			WithMaxRetry(settings.maxRetry),
		}
		for _, path := range batch {
			// Load fragments in memory instead of keeping handles open, a
			// batch can hold up to UPLOAD_MAX_FILES of them.
			content, err := os.ReadFile(path)
			if err != nil {
				return &UploadError{Path: path, Message: "failed to read fragment", Err: err}
			}
			name := filepath.Base(path)
			data[name] = strconv.Itoa(len(content))
			opts = append(opts, WithFile(name, name, bytes.NewReader(content)))
		}

		result, err := c.Api(ctx, "upload/hls/", opts...)
		if err != nil {
			return &UploadError{Path: m3u8Path, Message: "failed to upload HLS batch", Err: err}
		}
		if remoteDir == "" {
			remoteDir = result.Str("dir_name")
		}
		totalBytes += batchBytes
		sentFiles += len(batch)
		if settings.progress != nil && totalFiles > 0 {
			settings.progress(float64(sentFiles) / float64(totalFiles))
		}
		return nil
	}

	var batch []string
	var batchBytes int64
	for _, entry := range entries {
		if entry.IsDir() {
			c.log.Warn().Str("name", entry.Name()).Msg("ignoring non-file element in ts directory")
			continue
		}
		path := filepath.Join(tsDir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			return "", &UploadError{Path: path, Message: "failed to stat fragment", Err: err}
		}
		batch = append(batch, path)
		batchBytes += info.Size()

		if batchBytes > settings.chunkSize || len(batch) >= c.conf.UploadMaxFiles {
			if err := sendBatch(batch, batchBytes); err != nil {
				return "", err
			}
			batch = nil
			batchBytes = 0
		}
	}

	// Last request carries the playlist itself along with whatever is left.
	batch = append(batch, m3u8Path)
	batchBytes += info.Size()
	if err := sendBatch(batch, batchBytes); err != nil {
		return "", err
	}

	elapsed := time.Since(begin)
	metrics.RecordUpload("success", totalBytes, elapsed.Seconds())
	c.log.Info().
		Str("dir_name", remoteDir).
		Int("files", sentFiles).
		Str("bandwidth", bandwidthRepr(totalBytes, elapsed)).
		Msg("HLS upload finished")

	if settings.progress != nil {
		settings.progress(1.0)
	}
	return remoteDir, nil
}

func bandwidthRepr(size int64, elapsed time.Duration) string {
	if elapsed <= 0 {
		elapsed = time.Nanosecond
	}
	perSecond := float64(size) / elapsed.Seconds()
	return BytesRepr(int64(perSecond)) + "/s"
}
