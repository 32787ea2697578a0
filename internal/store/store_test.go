package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scanner-research/hwang/internal/config"
	"github.com/scanner-research/hwang/internal/index"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(config.StoreConfig{
		Enabled: true,
		Driver:  "sqlite",
		DSN:     filepath.Join(t.TempDir(), "index.db"),
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testIndex() *index.VideoIndex {
	return index.NewVideoIndex(90000, 450000, 1280, 720, "avc1",
		[]uint64{48, 5048, 6248},
		[]uint64{5000, 1200, 800},
		[]uint64{0},
		[]byte{1, 0x64, 0x00, 0x1F})
}

func TestPutGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	vi := testIndex()
	id, err := s.Put(ctx, "/videos/a.mp4", 123456, vi)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	got, err := s.Get(ctx, "/videos/a.mp4", 123456)
	require.NoError(t, err)
	assert.Equal(t, vi.Frames(), got.Frames())
	assert.Equal(t, vi.SampleOffsets(), got.SampleOffsets())
	assert.Equal(t, vi.Format(), got.Format())
	assert.Equal(t, vi.MetadataBytes(), got.MetadataBytes())
}

func TestGetMissing(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Get(context.Background(), "/videos/missing.mp4", 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPutReplacesExisting(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Put(ctx, "/videos/a.mp4", 100, testIndex())
	require.NoError(t, err)

	vi2 := index.NewVideoIndex(600, 0, 320, 240, "hev1",
		[]uint64{0}, []uint64{10}, []uint64{0}, nil)
	_, err = s.Put(ctx, "/videos/a.mp4", 100, vi2)
	require.NoError(t, err)

	got, err := s.Get(ctx, "/videos/a.mp4", 100)
	require.NoError(t, err)
	assert.Equal(t, "hev1", got.Format())

	recs, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Put(ctx, "/videos/a.mp4", 1, testIndex())
	require.NoError(t, err)
	_, err = s.Put(ctx, "/videos/b.mp4", 2, testIndex())
	require.NoError(t, err)

	recs, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	for _, rec := range recs {
		assert.NotEmpty(t, rec.ID)
		assert.Equal(t, uint64(3), rec.Frames)
		// List omits the payload.
		assert.Empty(t, rec.IndexBytes)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(config.StoreConfig{Driver: "postgres", DSN: "x"}, nil)
	assert.Error(t, err)
}
