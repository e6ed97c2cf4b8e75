package symbolicate

import (
	"context"
	"encoding/json"
	"errors"
	"path"
	"strings"

	"github.com/Priya8975/error-ingest/internal/blob"
	"github.com/Priya8975/error-ingest/internal/metrics"
	"github.com/Priya8975/error-ingest/internal/release"
	"github.com/go-sourcemap/sourcemap"
)

var errInvalidManifest = errors.New("manifest is not a JSON object of file mappings")

// manifest maps generated files to their source-map objects.
type manifest struct {
	bucket string
	exact  map[string]string
	byBase map[string]string
}

// parseManifest accepts {"files": {"<generated>": "<map>"}} or the bare
// inner object. Map paths are relative to the manifest's directory unless
// they start with "/".
func parseManifest(data []byte, bucket, manifestPath string) (*manifest, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil || top == nil {
		return nil, errInvalidManifest
	}

	files := map[string]string{}
	if inner, ok := top["files"]; ok {
		if err := json.Unmarshal(inner, &files); err != nil {
			return nil, errInvalidManifest
		}
	} else if err := json.Unmarshal(data, &files); err != nil {
		return nil, errInvalidManifest
	}

	dir := path.Dir(strings.TrimPrefix(manifestPath, "/"))
	m := &manifest{
		bucket: bucket,
		exact:  make(map[string]string, len(files)),
		byBase: make(map[string]string, len(files)),
	}
	for generated, mapPath := range files {
		mapPath = strings.TrimSpace(mapPath)
		if mapPath == "" {
			continue
		}
		if strings.HasPrefix(mapPath, "/") {
			mapPath = strings.TrimPrefix(mapPath, "/")
		} else if dir != "." {
			mapPath = path.Join(dir, mapPath)
		}

		key := release.NormalizePath(generated)
		m.exact[key] = mapPath
		base := release.Basename(key)
		if existing, ok := m.byBase[base]; !ok || mapPath < existing {
			m.byBase[base] = mapPath
		}
	}
	return m, nil
}

// lookup finds the map for a frame file: exact normalized path first, then
// the file's basename.
func (m *manifest) lookup(file string) (string, bool) {
	key := release.NormalizePath(file)
	if key == "" {
		return "", false
	}
	if p, ok := m.exact[key]; ok {
		return p, true
	}
	p, ok := m.byBase[release.Basename(key)]
	return p, ok
}

// mapCache holds parsed consumers for the duration of one symbolication
// call. Failed downloads are remembered so a broken map is fetched once;
// an open circuit is not remembered.
type mapCache struct {
	blobs     blob.Store
	metrics   *metrics.Collector
	consumers map[string]*sourcemap.Consumer
	fetches   int
}

func newMapCache(blobs blob.Store, m *metrics.Collector) *mapCache {
	return &mapCache{
		blobs:     blobs,
		metrics:   m,
		consumers: make(map[string]*sourcemap.Consumer),
	}
}

func (c *mapCache) get(ctx context.Context, bucket, mapPath string) *sourcemap.Consumer {
	key := bucket + "/" + mapPath
	if consumer, ok := c.consumers[key]; ok {
		return consumer
	}

	c.fetches++
	data, err := c.blobs.Get(ctx, bucket, mapPath)
	c.metrics.BlobFetched("map", err)
	if errors.Is(err, blob.ErrUnavailable) {
		return nil
	}
	if err != nil {
		c.consumers[key] = nil
		return nil
	}
	consumer, err := sourcemap.Parse("", data)
	if err != nil {
		c.consumers[key] = nil
		return nil
	}
	c.consumers[key] = consumer
	return consumer
}

// Close drops every consumer held by the cache.
func (c *mapCache) Close() {
	for key := range c.consumers {
		delete(c.consumers, key)
	}
}
