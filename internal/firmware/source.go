package firmware

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const objectScheme = "s3://"

// Source yields the raw bytes of an index document.
type Source interface {
	Fetch(ctx context.Context) ([]byte, error)
	String() string
}

// NewSource picks a Source for location: s3://{key} in store, an http(s) URL, or a local path.
func NewSource(location string, store *ObjectStore) (Source, error) {
	switch {
	case location == "":
		return nil, errors.New("empty firmware index location")
	case strings.HasPrefix(location, objectScheme):
		if store == nil {
			return nil, fmt.Errorf("index %q needs object storage, but no s3 endpoint is configured", location)
		}
		return &objectSource{store: store, key: strings.TrimPrefix(location, objectScheme)}, nil
	case strings.HasPrefix(location, "http://"), strings.HasPrefix(location, "https://"):
		return &httpSource{url: location, client: &http.Client{Timeout: 30 * time.Second}}, nil
	}
	return &FileSource{Path: location}, nil
}

// FileSource reads a local index file.
type FileSource struct {
	Path string
}

func (s *FileSource) Fetch(_ context.Context) ([]byte, error) {
	return os.ReadFile(s.Path)
}

func (s *FileSource) String() string { return s.Path }

type httpSource struct {
	url    string
	client *http.Client
}

func (s *httpSource) Fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "otabridge")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch index: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (s *httpSource) String() string { return s.url }

type objectSource struct {
	store *ObjectStore
	key   string
}

func (s *objectSource) Fetch(ctx context.Context) ([]byte, error) {
	return s.store.Get(ctx, s.key)
}

func (s *objectSource) String() string { return objectScheme + s.key }
