package firmware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/singleflight"

	"github.com/autopeer-io/otabridge/pkg/log"
)

// Image is one entry of the firmware index.
type Image struct {
	Model       string `json:"model"`
	ImageType   uint16 `json:"imageType,omitempty"`
	FileVersion int64  `json:"fileVersion"`

	// URL is a direct download link. When empty, ObjectKey names the image in the bucket.
	URL       string `json:"url,omitempty"`
	ObjectKey string `json:"objectKey,omitempty"`
}

type document struct {
	Images []Image `json:"images"`
}

// ErrNoStorage is returned when an image only has an object key and no storage is configured.
var ErrNoStorage = errors.New("image is stored in object storage, but none is configured")

// Index is the catalog of the latest firmware images, keyed by device model.
type Index struct {
	source  Source
	store   *ObjectStore
	refresh time.Duration
	logger  log.Logger

	group singleflight.Group

	mu     sync.RWMutex
	images map[string][]Image
	loaded bool
}

// IndexOption configures an Index.
type IndexOption func(*Index)

// WithObjectStore signs URLs for images that carry an object key.
func WithObjectStore(s *ObjectStore) IndexOption {
	return func(x *Index) { x.store = s }
}

// WithRefreshInterval re-reads remote sources periodically while Start runs.
func WithRefreshInterval(d time.Duration) IndexOption {
	return func(x *Index) { x.refresh = d }
}

// WithIndexLogger sets the logger.
func WithIndexLogger(l log.Logger) IndexOption {
	return func(x *Index) { x.logger = l }
}

// NewIndex returns an Index reading from source. Nothing is loaded until first use.
func NewIndex(source Source, opts ...IndexOption) *Index {
	x := &Index{
		source: source,
		logger: log.Std().WithName("firmware"),
		images: make(map[string][]Image),
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// reloadTimeout bounds one shared fetch, independent of the callers waiting on it.
const reloadTimeout = time.Minute

// Reload fetches and parses the index. Concurrent calls share one fetch, which
// outlives any single caller; a caller whose ctx ends stops waiting for it.
func (x *Index) Reload(ctx context.Context) error {
	ch := x.group.DoChan("reload", func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reloadTimeout)
		defer cancel()

		data, err := x.source.Fetch(fetchCtx)
		if err != nil {
			return nil, fmt.Errorf("failed to read firmware index %s: %w", x.source, err)
		}
		images, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("invalid firmware index %s: %w", x.source, err)
		}

		x.mu.Lock()
		x.images = images
		x.loaded = true
		x.mu.Unlock()

		x.logger.Info("Loaded firmware index", "source", x.source.String(), "models", len(images))
		return nil, nil
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Latest returns the newest image for model. imageType 0 matches any type.
func (x *Index) Latest(ctx context.Context, model string, imageType uint16) (Image, bool, error) {
	x.mu.RLock()
	loaded := x.loaded
	x.mu.RUnlock()
	if !loaded {
		if err := x.Reload(ctx); err != nil {
			return Image{}, false, err
		}
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	var (
		best  Image
		found bool
	)
	for _, img := range x.images[model] {
		if imageType != 0 && img.ImageType != 0 && img.ImageType != imageType {
			continue
		}
		if !found || img.FileVersion > best.FileVersion {
			best, found = img, true
		}
	}
	return best, found, nil
}

// DownloadURL returns where a device can fetch img.
func (x *Index) DownloadURL(ctx context.Context, img Image) (string, error) {
	if img.URL != "" {
		return img.URL, nil
	}
	if x.store == nil {
		return "", ErrNoStorage
	}
	return x.store.PresignedURL(ctx, img.ObjectKey)
}

// Start loads the index, then keeps it current until ctx is done: local files
// are watched, remote sources are re-read every refresh interval.
func (x *Index) Start(ctx context.Context) error {
	if err := x.Reload(ctx); err != nil {
		// Lookups retry the load.
		x.logger.Error(err, "Initial firmware index load failed")
	}

	if fs, ok := x.source.(*FileSource); ok {
		return x.watch(ctx, fs.Path)
	}
	if x.refresh <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(x.refresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := x.Reload(ctx); err != nil {
				x.logger.Warn("Firmware index refresh failed", "error", err)
			}
		}
	}
}

// watch reloads path whenever it changes. The directory is watched so that
// editors replacing the file by rename are noticed.
func (x *Index) watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create index watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}
	target := filepath.Clean(path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := x.Reload(ctx); err != nil {
				x.logger.Warn("Firmware index reload failed", "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			x.logger.Warn("Firmware index watcher error", "error", err)
		}
	}
}

// Parse decodes an index document into images grouped by model.
func Parse(data []byte) (map[string][]Image, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	out := make(map[string][]Image)
	for i, img := range doc.Images {
		switch {
		case img.Model == "":
			return nil, fmt.Errorf("image %d: model is required", i)
		case img.FileVersion < 0:
			return nil, fmt.Errorf("image %d: negative fileVersion", i)
		case img.URL == "" && img.ObjectKey == "":
			return nil, fmt.Errorf("image %d: url or objectKey is required", i)
		}
		out[img.Model] = append(out[img.Model], img)
	}
	return out, nil
}
