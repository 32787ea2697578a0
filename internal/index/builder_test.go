package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scanner-research/hwang/internal/testutil"
)

// runBuilder drives the feed loop over an in-memory file the way a
// caller with random access would.
func runBuilder(t *testing.T, file []byte) *Builder {
	t.Helper()
	b := NewBuilder(uint64(len(file)), nil)
	for i := 0; !b.IsDone(); i++ {
		require.Less(t, i, 10000, "builder did not terminate")
		offset, size := b.NextRequest()
		require.LessOrEqual(t, offset+size, uint64(len(file)))
		b.Feed(file[offset : offset+size])
	}
	return b
}

func TestBuildClassicIndex(t *testing.T) {
	sizes := []uint32{5000, 1200, 800, 4800, 900, 1100, 5100, 700}
	file, wantOffsets := testutil.BuildClassicMP4(testutil.ClassicConfig{
		Width: 1280, Height: 720,
		Timescale: 90000, Duration: 8 * 3000,
		SampleSizes:     sizes,
		SamplesPerChunk: 3,
		SyncSamples:     []uint32{1, 4, 7},
	})

	b := runBuilder(t, file)
	require.False(t, b.IsError(), b.ErrorMessage())

	vi, err := b.VideoIndex()
	require.NoError(t, err)

	assert.Equal(t, uint64(len(sizes)), vi.Frames())
	assert.Equal(t, wantOffsets, vi.SampleOffsets())
	wantSizes := make([]uint64, len(sizes))
	for i, s := range sizes {
		wantSizes[i] = uint64(s)
	}
	assert.Equal(t, wantSizes, vi.SampleSizes())
	assert.Equal(t, []uint64{0, 3, 6}, vi.KeyframeIndices())
	assert.Equal(t, uint32(1280), vi.FrameWidth())
	assert.Equal(t, uint32(720), vi.FrameHeight())
	assert.Equal(t, "avc1", vi.Format())
	assert.Equal(t, uint32(90000), vi.Timescale())
	assert.Equal(t, uint64(8*3000), vi.Duration())
	assert.Equal(t, testutil.AVCCRecord(), vi.MetadataBytes())
}

func TestBuildClassicIndexNoStss(t *testing.T) {
	sizes := []uint32{100, 200, 300}
	file, _ := testutil.BuildClassicMP4(testutil.ClassicConfig{
		Width: 320, Height: 240,
		Timescale:   600,
		SampleSizes: sizes,
	})

	b := runBuilder(t, file)
	require.False(t, b.IsError(), b.ErrorMessage())
	vi, err := b.VideoIndex()
	require.NoError(t, err)

	// Without stss every sample is a random-access point.
	assert.Equal(t, []uint64{0, 1, 2}, vi.KeyframeIndices())
}

func TestBuildFragmentedIndex(t *testing.T) {
	file, wantOffsets := testutil.BuildFragmentedMP4(testutil.FragmentedConfig{
		Width: 640, Height: 480,
		Timescale: 15360,
		Fragments: [][]testutil.FragmentSample{
			{{Size: 4000, Keyframe: true}, {Size: 500}, {Size: 600}},
			{{Size: 3800, Keyframe: true}, {Size: 450}},
		},
	})

	b := runBuilder(t, file)
	require.False(t, b.IsError(), b.ErrorMessage())
	vi, err := b.VideoIndex()
	require.NoError(t, err)

	assert.Equal(t, uint64(5), vi.Frames())
	assert.Equal(t, wantOffsets, vi.SampleOffsets())
	assert.Equal(t, []uint64{4000, 500, 600, 3800, 450}, vi.SampleSizes())
	assert.Equal(t, []uint64{0, 3}, vi.KeyframeIndices())
	assert.Equal(t, uint32(640), vi.FrameWidth())
}

func TestBuilderTruncatedFile(t *testing.T) {
	// moov after mdat, then the file loses its last 16 bytes: the moov
	// header promises more bytes than the file holds.
	file, _ := testutil.BuildClassicMP4(testutil.ClassicConfig{
		Width: 320, Height: 240,
		Timescale:   600,
		SampleSizes: []uint32{100, 100},
		MoovAtEnd:   true,
	})
	truncated := file[:len(file)-16]

	b := NewBuilder(uint64(len(truncated)), nil)
	for i := 0; !b.IsDone(); i++ {
		require.Less(t, i, 10000)
		offset, size := b.NextRequest()
		b.Feed(truncated[offset : offset+size])
	}
	require.True(t, b.IsError())
	assert.Equal(t, "EOF in middle of box", b.ErrorMessage())
}

func TestBuilderTruncationMidBox(t *testing.T) {
	// Claimed file size ends inside the moov box.
	file, _ := testutil.BuildClassicMP4(testutil.ClassicConfig{
		Width: 320, Height: 240,
		Timescale:   600,
		SampleSizes: []uint32{100, 100},
	})
	shortSize := uint64(60) // inside moov, which follows the 24-byte ftyp

	b := NewBuilder(shortSize, nil)
	for i := 0; !b.IsDone(); i++ {
		require.Less(t, i, 10000)
		offset, size := b.NextRequest()
		b.Feed(file[offset : offset+size])
	}
	require.True(t, b.IsError())
	assert.Equal(t, "EOF in middle of box", b.ErrorMessage())
}

func TestBuilderUnsupportedBrand(t *testing.T) {
	file, _ := testutil.BuildClassicMP4(testutil.ClassicConfig{
		Width: 320, Height: 240,
		Timescale:        600,
		SampleSizes:      []uint32{100},
		CompatibleBrands: []string{"qt  "},
	})
	// Rewrite the major brand too so nothing matches.
	copy(file[8:12], "qt  ")

	b := NewBuilder(uint64(len(file)), nil)
	for i := 0; !b.IsDone(); i++ {
		require.Less(t, i, 10000)
		offset, size := b.NextRequest()
		b.Feed(file[offset : offset+size])
	}
	require.True(t, b.IsError())
	assert.Contains(t, b.ErrorMessage(), "No supported mp4 brands")
}

func TestBuilderSmallChunkRequests(t *testing.T) {
	// Feeding exactly what the builder asks for must converge even when
	// the moov is larger than the initial read-ahead.
	sizes := make([]uint32, 200)
	syncs := make([]uint32, 0, 20)
	for i := range sizes {
		sizes[i] = uint32(100 + i)
		if i%10 == 0 {
			syncs = append(syncs, uint32(i+1))
		}
	}
	file, wantOffsets := testutil.BuildClassicMP4(testutil.ClassicConfig{
		Width: 1920, Height: 1080,
		Timescale:       24000,
		SampleSizes:     sizes,
		SamplesPerChunk: 7,
		SyncSamples:     syncs,
	})

	b := runBuilder(t, file)
	require.False(t, b.IsError(), b.ErrorMessage())
	vi, err := b.VideoIndex()
	require.NoError(t, err)
	assert.Equal(t, wantOffsets, vi.SampleOffsets())
	assert.Len(t, vi.KeyframeIndices(), 20)
}
