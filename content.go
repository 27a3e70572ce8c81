package msclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"time"
)

// AddMedia creates a media on the server. Either a title or a file path must
// be given; when a file is given it goes through the chunked upload first
// and the new media is linked to it. Additional fields of the add call, such
// as "channel" or "validated", go in metadata.
func (c *Client) AddMedia(ctx context.Context, title, filePath string, metadata map[string]any, opts ...UploadOption) (Result, error) {
	if title == "" && filePath == "" {
		return nil, errors.New("a title or a file is required to create a media")
	}
	if err := c.checkConf(); err != nil {
		return nil, err
	}

	data := make(map[string]any, len(metadata)+3)
	for k, v := range metadata {
		data[k] = v
	}
	data["origin"] = c.conf.ClientID
	if title != "" {
		data["title"] = title
	}
	if filePath != "" {
		info, err := os.Stat(filePath)
		if err != nil {
			return nil, &UploadError{Path: filePath, Message: "failed to stat file", Err: err}
		}
		if info.Size() == 0 {
			return nil, &UploadError{Path: filePath, Message: "file is empty"}
		}
		code, err := c.Upload(ctx, filePath, opts...)
		if err != nil {
			return nil, err
		}
		data["code"] = code
	}

	return c.Api(ctx, "medias/add/",
		WithMethod(http.MethodPost),
		WithData(data),
		WithTimeout(time.Hour),
	)
}

// GetCatalog returns the full content catalog. With asTree the channels
// carry their sub channels and media; otherwise all objects come in flat
// lists per type. Recent servers only return the flat form, the tree is
// rebuilt here from the parent oids.
func (c *Client) GetCatalog(ctx context.Context, asTree bool) (Result, error) {
	version, err := c.ServerVersion(ctx)
	if err != nil {
		return nil, err
	}

	if version.LessThan(versionCatalog) {
		format := "flat"
		if asTree {
			format = "tree"
		}
		return c.Api(ctx, "catalog/get-all/",
			WithParam("format", format),
			WithTimeout(2*time.Minute),
		)
	}

	catalog, err := c.Api(ctx, "catalog/get-all/",
		WithParam("format", "json"),
		WithTimeout(2*time.Minute),
	)
	if err != nil || !asTree {
		return catalog, err
	}
	return c.buildCatalogTree(catalog), nil
}

// GetCatalogCSV returns the content catalog as CSV text.
func (c *Client) GetCatalogCSV(ctx context.Context) (string, error) {
	resp, err := c.Stream(ctx, "catalog/get-all/",
		WithParam("format", "csv"),
	)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &TransportError{
			StatusCode: resp.StatusCode,
			URL:        redactURL(resp.Request.URL.String()),
			Message:    "response body interrupted",
			Err:        err,
		}
	}
	return string(data), nil
}

// buildCatalogTree nests the flat per-type object lists under their parent
// channels. Objects whose parent channel is missing from the catalog are
// dropped with a warning.
func (c *Client) buildCatalogTree(catalog Result) Result {
	channels := make(map[string]Result)
	for _, channel := range catalog.Items("channels") {
		if oid := channel.Str("oid"); oid != "" {
			channels[oid] = channel
		}
	}

	roots := []any{}
	for modelType, raw := range catalog {
		objects, ok := raw.([]any)
		if !ok {
			continue
		}
		for _, obj := range objects {
			item, ok := obj.(map[string]any)
			if !ok {
				continue
			}
			parentOID, _ := item["parent_oid"].(string)
			if modelType == "channels" && parentOID == "" {
				roots = append(roots, obj)
				continue
			}
			parent, ok := channels[parentOID]
			if !ok {
				c.log.Warn().
					Str("oid", Result(item).Str("oid")).
					Str("parent_oid", parentOID).
					Msg("orphan item in catalog")
				continue
			}
			list, _ := parent[modelType].([]any)
			parent[modelType] = append(list, obj)
		}
	}
	return Result{"channels": roots}
}

// RemoveAllContent deletes every channel with its content, repeating until
// the channel tree is empty.
func (c *Client) RemoveAllContent(ctx context.Context) error {
	c.log.Info().Msg("removing all content")
	for {
		tree, err := c.Api(ctx, "channels/tree/")
		if err != nil {
			return err
		}
		channels := tree.Items("channels")
		if len(channels) == 0 {
			return nil
		}
		for _, channel := range channels {
			oid := channel.Str("oid")
			_, err := c.Api(ctx, "channels/delete/",
				WithMethod(http.MethodPost),
				WithData(map[string]any{"oid": oid, "delete_content": "yes"}),
			)
			if err != nil {
				return err
			}
			c.log.Info().Str("oid", oid).Msg("deleted channel")
		}
	}
}
