// Package msclient is a client library for the MediaServer HTTP API. It
// covers generic API calls with retry on transient transport failures,
// chunked and HLS file uploads, media and catalog management, downloads and
// CSV user imports.
//
// A Client is built from a Config, which can be loaded from an in-memory
// mapping, a JSON or YAML file, or the settings of a locally installed
// MediaServer instance:
//
//	conf, err := msclient.LoadConfig(msclient.FromFile("ms-config.json"))
//	if err != nil { ... }
//	client, err := msclient.New(conf)
//	if err != nil { ... }
//	result, err := client.Api(ctx, "users/add/",
//		msclient.WithMethod(http.MethodPost),
//		msclient.WithData(map[string]any{"email": "user@example.com"}))
package msclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"
)

// Version of this library, reported in the User-Agent header.
const Version = "4.0.0"

// Servers older than 6.6 do not report their version; this one is assumed.
const fallbackServerVersion = "6.5.4"

// Server version gates for behavior that changed across releases.
var (
	versionHeaderAuth       = semver.MustParse("11.0.0")
	versionUploadPath       = semver.MustParse("8.2.0")
	versionCatalog          = semver.MustParse("12.3.0")
	versionDownloadMetadata = semver.MustParse("13.2.0")
)

// Client talks to one MediaServer instance. It is safe for concurrent use
// for plain API calls; a single chunked upload must be driven by one
// goroutine at a time.
type Client struct {
	conf          *Config
	httpClient    *http.Client
	log           zerolog.Logger
	backoff       func(attempt uint) time.Duration
	wrapTransport func(http.RoundTripper) http.RoundTripper

	mu            sync.Mutex
	confChecked   bool
	serverVersion *semver.Version
}

// Option configures a Client at construction.
type Option func(*Client)

// WithLogger attaches a logger to the client. The default logger discards
// everything. The API key is never logged at any level.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// WithHTTPClient replaces the underlying HTTP client, for tests and for
// instrumented transports. The replacement is used as is; TIMEOUT,
// VERIFY_SSL and PROXIES from the configuration are not applied to it.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTransportWrapper wraps the transport built from the configuration,
// e.g. with tracing instrumentation. Ignored when WithHTTPClient is used.
func WithTransportWrapper(wrap func(http.RoundTripper) http.RoundTripper) Option {
	return func(c *Client) {
		c.wrapTransport = wrap
	}
}

// New builds a Client from an already loaded configuration. The
// configuration is copied; mutating conf afterwards does not affect the
// client. Validation is cheap and happens before the first request, so a
// client with a broken configuration is constructed fine but fails every
// call with a ConfigError.
func New(conf *Config, opts ...Option) (*Client, error) {
	if conf == nil {
		return nil, &ConfigError{Message: "no configuration loaded"}
	}

	cc := conf.clone()
	cc.fillDefaults()
	cc.normalize()

	c := &Client{
		conf:    cc,
		log:     zerolog.Nop(),
		backoff: quadraticBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		var tr http.RoundTripper = newTransport(cc)
		if c.wrapTransport != nil {
			tr = c.wrapTransport(tr)
		}
		c.httpClient = &http.Client{Transport: tr}
	}
	return c, nil
}

// NewFromFile builds a Client from a configuration file path.
func NewFromFile(path string, opts ...Option) (*Client, error) {
	conf, err := LoadConfig(FromFile(path))
	if err != nil {
		return nil, err
	}
	return New(conf, opts...)
}

// NewFromMap builds a Client from an in-memory configuration mapping.
func NewFromMap(values map[string]any, opts ...Option) (*Client, error) {
	conf, err := LoadConfig(FromMap(values))
	if err != nil {
		return nil, err
	}
	return New(conf, opts...)
}

// Conf returns a copy of the active configuration.
func (c *Client) Conf() Config {
	return *c.conf.clone()
}

func (c *Config) clone() *Config {
	cc := *c
	if c.Proxies != nil {
		cc.Proxies = make(map[string]string, len(c.Proxies))
		for scheme, proxy := range c.Proxies {
			cc.Proxies[scheme] = proxy
		}
	}
	return &cc
}

// fillDefaults replaces zero values that would break the client with the
// built-in defaults. MaxRetry stays untouched: zero means retries disabled.
func (c *Config) fillDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.UploadChunkSize <= 0 {
		c.UploadChunkSize = DefaultUploadChunkSize
	}
	if c.DownloadChunkSize <= 0 {
		c.DownloadChunkSize = DefaultDownloadChunkSize
	}
	if c.UploadMaxFiles <= 0 {
		c.UploadMaxFiles = DefaultUploadMaxFiles
	}
	if c.ClientID == "" {
		c.ClientID = "msclient-go_<host>"
	}
}

func newTransport(conf *Config) *http.Transport {
	tr := &http.Transport{Proxy: http.ProxyFromEnvironment}
	if !conf.VerifySSL {
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	if conf.Proxies != nil {
		tr.Proxy = proxyFunc(conf.Proxies)
	}
	return tr
}

// proxyFunc picks a proxy by request scheme, following the configuration
// convention: {"http": url, "https": url}, where an empty value disables the
// proxy for that scheme and a missing key falls back to the environment.
func proxyFunc(proxies map[string]string) func(*http.Request) (*url.URL, error) {
	return func(req *http.Request) (*url.URL, error) {
		raw, ok := proxies[req.URL.Scheme]
		if !ok {
			return http.ProxyFromEnvironment(req)
		}
		if raw == "" {
			return nil, nil
		}
		return url.Parse(raw)
	}
}

// checkConf validates the configuration once and remembers the verdict.
// Every call goes through here before anything touches the network.
func (c *Client) checkConf() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.confChecked {
		return nil
	}
	if err := c.conf.Validate(); err != nil {
		return err
	}
	c.confChecked = true
	return nil
}

// CheckServer performs an authenticated liveness call against the API root.
func (c *Client) CheckServer(ctx context.Context) (Result, error) {
	return c.Api(ctx, "/")
}

// ServerVersion returns the MediaServer version, fetched unauthenticated
// from the API root on first use and cached for the lifetime of the client.
func (c *Client) ServerVersion(ctx context.Context) (*semver.Version, error) {
	c.mu.Lock()
	cached := c.serverVersion
	c.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	result, err := c.Api(ctx, "/", withoutAuth())
	if err != nil {
		return nil, fmt.Errorf("failed to get server version: %w", err)
	}

	raw := result.Str("mediaserver")
	version, parseErr := semver.NewVersion(raw)
	if raw == "" || parseErr != nil {
		version = semver.MustParse(fallbackServerVersion)
	}

	c.mu.Lock()
	c.serverVersion = version
	c.mu.Unlock()
	c.log.Debug().Str("server_version", version.String()).Msg("detected server version")
	return version, nil
}
