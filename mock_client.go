package msclient

import (
	"context"
	"net/http"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/mock"
)

// MockClient is a mock implementation of ClientInterface for testing.
// Variadic options are passed to expectations as a single slice argument.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) Conf() Config {
	args := m.Called()
	return args.Get(0).(Config)
}

func (m *MockClient) CheckServer(ctx context.Context) (Result, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(Result), args.Error(1)
}

func (m *MockClient) ServerVersion(ctx context.Context) (*semver.Version, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*semver.Version), args.Error(1)
}

func (m *MockClient) Api(ctx context.Context, path string, opts ...RequestOption) (Result, error) {
	args := m.Called(ctx, path, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(Result), args.Error(1)
}

func (m *MockClient) Stream(ctx context.Context, path string, opts ...RequestOption) (*http.Response, error) {
	args := m.Called(ctx, path, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*http.Response), args.Error(1)
}

func (m *MockClient) Upload(ctx context.Context, filePath string, opts ...UploadOption) (string, error) {
	args := m.Called(ctx, filePath, opts)
	return args.String(0), args.Error(1)
}

func (m *MockClient) UploadHLS(ctx context.Context, m3u8Path string, opts ...UploadOption) (string, error) {
	args := m.Called(ctx, m3u8Path, opts)
	return args.String(0), args.Error(1)
}

func (m *MockClient) AddMedia(ctx context.Context, title, filePath string, metadata map[string]any, opts ...UploadOption) (Result, error) {
	args := m.Called(ctx, title, filePath, metadata, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(Result), args.Error(1)
}

func (m *MockClient) GetCatalog(ctx context.Context, asTree bool) (Result, error) {
	args := m.Called(ctx, asTree)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(Result), args.Error(1)
}

func (m *MockClient) GetCatalogCSV(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockClient) RemoveAllContent(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockClient) DownloadMetadataZip(ctx context.Context, item Result, dirPath string, opts DownloadOptions) (string, error) {
	args := m.Called(ctx, item, dirPath, opts)
	return args.String(0), args.Error(1)
}

func (m *MockClient) DownloadBestResource(ctx context.Context, item Result, dirPath string, opts DownloadOptions) (string, error) {
	args := m.Called(ctx, item, dirPath, opts)
	return args.String(0), args.Error(1)
}

func (m *MockClient) BackupMedia(ctx context.Context, item Result, dirPath string, opts BackupOptions) (string, error) {
	args := m.Called(ctx, item, dirPath, opts)
	return args.String(0), args.Error(1)
}

func (m *MockClient) ImportUsersCSV(ctx context.Context, csvPath string) (int, error) {
	args := m.Called(ctx, csvPath)
	return args.Int(0), args.Error(1)
}

// Ensure MockClient implements ClientInterface
var _ ClientInterface = (*MockClient)(nil)
