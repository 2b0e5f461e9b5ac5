package consumer

import (
	"context"
	"net/url"
	"strings"
	"sync"
)

type mediaEntry struct {
	id          string
	contentType string
}

// mediaCache remembers provider media ids per source URL for the life of
// the process. There is no eviction; growth is bounded by URL diversity.
type mediaCache struct {
	api API

	mu      sync.Mutex
	entries map[string]mediaEntry
}

func newMediaCache(api API) *mediaCache {
	return &mediaCache{
		api:     api,
		entries: map[string]mediaEntry{},
	}
}

// ID returns the provider media id and source content type for a URL,
// fetching and uploading on first use.
func (c *mediaCache) ID(ctx context.Context, mediaURL string) (string, string, error) {
	c.mu.Lock()
	entry, ok := c.entries[mediaURL]
	c.mu.Unlock()
	if ok {
		return entry.id, entry.contentType, nil
	}

	data, contentType, err := c.api.FetchMedia(ctx, mediaURL)
	if err != nil {
		return "", "", err
	}
	id, err := c.api.UploadMedia(ctx, contentType, data)
	if err != nil {
		return "", "", err
	}

	c.mu.Lock()
	c.entries[mediaURL] = mediaEntry{id: id, contentType: contentType}
	c.mu.Unlock()
	return id, contentType, nil
}

// filenameFromURL derives a download filename from the final path segment,
// percent- and plus-decoded.
func filenameFromURL(mediaURL string) string {
	segment := mediaURL
	if u, err := url.Parse(mediaURL); err == nil {
		segment = u.Path
	}
	if idx := strings.LastIndex(segment, "/"); idx >= 0 {
		segment = segment[idx+1:]
	}
	if decoded, err := url.QueryUnescape(segment); err == nil {
		return decoded
	}
	return segment
}
