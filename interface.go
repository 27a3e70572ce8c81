package msclient

import (
	"context"
	"net/http"

	"github.com/Masterminds/semver/v3"
)

// ClientInterface defines all client operations for mocking in tests.
// The Client struct implements this interface.
type ClientInterface interface {
	// Conf returns a copy of the active configuration
	Conf() Config

	// Server checks
	CheckServer(ctx context.Context) (Result, error)
	ServerVersion(ctx context.Context) (*semver.Version, error)

	// Raw API access
	Api(ctx context.Context, path string, opts ...RequestOption) (Result, error)
	Stream(ctx context.Context, path string, opts ...RequestOption) (*http.Response, error)

	// Uploads
	Upload(ctx context.Context, filePath string, opts ...UploadOption) (string, error)
	UploadHLS(ctx context.Context, m3u8Path string, opts ...UploadOption) (string, error)
	AddMedia(ctx context.Context, title, filePath string, metadata map[string]any, opts ...UploadOption) (Result, error)

	// Content
	GetCatalog(ctx context.Context, asTree bool) (Result, error)
	GetCatalogCSV(ctx context.Context) (string, error)
	RemoveAllContent(ctx context.Context) error

	// Downloads
	DownloadMetadataZip(ctx context.Context, item Result, dirPath string, opts DownloadOptions) (string, error)
	DownloadBestResource(ctx context.Context, item Result, dirPath string, opts DownloadOptions) (string, error)
	BackupMedia(ctx context.Context, item Result, dirPath string, opts BackupOptions) (string, error)

	// Users
	ImportUsersCSV(ctx context.Context, csvPath string) (int, error)
}

// Ensure Client implements ClientInterface at compile time
var _ ClientInterface = (*Client)(nil)
