package firmware

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/otabridge/pkg/log"
)

const sampleIndex = `{
	"images": [
		{"model": "bulb", "imageType": 1, "fileVersion": 5, "url": "https://fw.example/bulb-5.ota"},
		{"model": "bulb", "imageType": 1, "fileVersion": 7, "url": "https://fw.example/bulb-7.ota"},
		{"model": "bulb", "imageType": 2, "fileVersion": 9, "url": "https://fw.example/bulb-9.ota"},
		{"model": "plug", "fileVersion": 3, "objectKey": "plug/3.ota"}
	]
}`

type countingSource struct {
	data  []byte
	err   error
	calls atomic.Int32
}

func (s *countingSource) Fetch(context.Context) ([]byte, error) {
	s.calls.Add(1)
	return s.data, s.err
}

func (s *countingSource) String() string { return "memory" }

// gatedSource blocks in Fetch until release is closed and fails if its ctx ends first.
type gatedSource struct {
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (s *gatedSource) Fetch(ctx context.Context) ([]byte, error) {
	s.calls.Add(1)
	close(s.entered)
	select {
	case <-s.release:
		return []byte(sampleIndex), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *gatedSource) String() string { return "gated" }

func TestParse(t *testing.T) {
	images, err := Parse([]byte(sampleIndex))
	require.NoError(t, err)
	assert.Len(t, images["bulb"], 3)
	assert.Len(t, images["plug"], 1)

	tests := []struct {
		name string
		doc  string
	}{
		{"not json", `images`},
		{"no model", `{"images":[{"fileVersion":1,"url":"x"}]}`},
		{"negative version", `{"images":[{"model":"m","fileVersion":-1,"url":"x"}]}`},
		{"no location", `{"images":[{"model":"m","fileVersion":1}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestIndexLatest(t *testing.T) {
	src := &countingSource{data: []byte(sampleIndex)}
	x := NewIndex(src, WithIndexLogger(log.NewNopLogger()))
	ctx := context.Background()

	img, ok, err := x.Latest(ctx, "bulb", 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(7), img.FileVersion)

	img, ok, err = x.Latest(ctx, "bulb", 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(9), img.FileVersion, "type 0 matches any image type")

	_, ok, err = x.Latest(ctx, "switch", 0)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, int32(1), src.calls.Load(), "index is loaded once")
}

func TestIndexLoadError(t *testing.T) {
	src := &countingSource{err: errors.New("unreachable")}
	x := NewIndex(src, WithIndexLogger(log.NewNopLogger()))

	_, _, err := x.Latest(context.Background(), "bulb", 0)
	assert.ErrorContains(t, err, "unreachable")

	src.err = nil
	src.data = []byte(sampleIndex)
	_, ok, err := x.Latest(context.Background(), "bulb", 0)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDownloadURL(t *testing.T) {
	x := NewIndex(&countingSource{}, WithIndexLogger(log.NewNopLogger()))

	u, err := x.DownloadURL(context.Background(), Image{URL: "https://fw.example/a.ota"})
	require.NoError(t, err)
	assert.Equal(t, "https://fw.example/a.ota", u)

	_, err = x.DownloadURL(context.Background(), Image{ObjectKey: "a.ota"})
	assert.ErrorIs(t, err, ErrNoStorage)
}

func TestNewSource(t *testing.T) {
	s, err := NewSource("/etc/otabridge/index.json", nil)
	require.NoError(t, err)
	assert.IsType(t, &FileSource{}, s)

	s, err = NewSource("https://fw.example/index.json", nil)
	require.NoError(t, err)
	assert.Equal(t, "https://fw.example/index.json", s.String())

	_, err = NewSource("s3://index.json", nil)
	assert.Error(t, err)

	_, err = NewSource("", nil)
	assert.Error(t, err)
}

func TestIndexWatchesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"images":[{"model":"bulb","fileVersion":1,"url":"u1"}]}`), 0o644))

	x := NewIndex(&FileSource{Path: path}, WithIndexLogger(log.NewNopLogger()))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- x.Start(ctx) }()

	require.Eventually(t, func() bool {
		img, ok, _ := x.Latest(ctx, "bulb", 0)
		return ok && img.FileVersion == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte(`{"images":[{"model":"bulb","fileVersion":2,"url":"u2"}]}`), 0o644))

	assert.Eventually(t, func() bool {
		img, _, _ := x.Latest(ctx, "bulb", 0)
		return img.FileVersion == 2
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestReloadOutlivesCaller(t *testing.T) {
	src := &gatedSource{entered: make(chan struct{}), release: make(chan struct{})}
	x := NewIndex(src, WithIndexLogger(log.NewNopLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- x.Reload(ctx) }()

	<-src.entered
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller kept waiting")
	}

	close(src.release)
	img, ok, err := x.Latest(context.Background(), "bulb", 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(7), img.FileVersion)
	assert.Equal(t, int32(1), src.calls.Load(), "the shared fetch was not abandoned")
}
