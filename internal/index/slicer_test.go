package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// contiguousIndex builds an index whose samples are byte-adjacent
// throughout, with keyframes every gop samples.
func contiguousIndex(t *testing.T, frames, gop int) *VideoIndex {
	t.Helper()
	offsets := make([]uint64, frames)
	sizes := make([]uint64, frames)
	var keyframes []uint64
	cur := uint64(48)
	for i := 0; i < frames; i++ {
		offsets[i] = cur
		sizes[i] = uint64(100 + i%7)
		cur += sizes[i]
		if i%gop == 0 {
			keyframes = append(keyframes, uint64(i))
		}
	}
	return NewVideoIndex(90000, 0, 640, 480, "avc1", offsets, sizes, keyframes, nil)
}

func TestSliceSingleSegment(t *testing.T) {
	vi := contiguousIndex(t, 100, 10)

	intervals, err := SliceIntoVideoIntervals(vi, []uint64{0, 1, 2, 3})
	require.NoError(t, err)
	require.Len(t, intervals.SampleIndexIntervals, 1)
	assert.Equal(t, SampleInterval{Start: 0, End: 10}, intervals.SampleIndexIntervals[0])
	assert.Equal(t, []uint64{0, 1, 2, 3}, intervals.ValidFrames[0])
}

func TestSliceAllFrames(t *testing.T) {
	vi := contiguousIndex(t, 50, 10)
	rows := make([]uint64, 50)
	for i := range rows {
		rows[i] = uint64(i)
	}

	intervals, err := SliceIntoVideoIntervals(vi, rows)
	require.NoError(t, err)
	// Adjacent keyframes with no skips: one segment covers everything.
	require.Len(t, intervals.SampleIndexIntervals, 1)
	assert.Equal(t, SampleInterval{Start: 0, End: 50}, intervals.SampleIndexIntervals[0])
	assert.Equal(t, rows, intervals.ValidFrames[0])
}

func TestSliceSkippedKeyframeSplits(t *testing.T) {
	vi := contiguousIndex(t, 100, 10)

	intervals, err := SliceIntoVideoIntervals(vi, []uint64{5, 55})
	require.NoError(t, err)
	require.Len(t, intervals.SampleIndexIntervals, 2)
	assert.Equal(t, SampleInterval{Start: 0, End: 10}, intervals.SampleIndexIntervals[0])
	assert.Equal(t, SampleInterval{Start: 50, End: 60}, intervals.SampleIndexIntervals[1])
	assert.Equal(t, []uint64{5}, intervals.ValidFrames[0])
	assert.Equal(t, []uint64{55}, intervals.ValidFrames[1])
}

func TestSliceSpanningAdjacentKeyframe(t *testing.T) {
	vi := contiguousIndex(t, 100, 10)

	// 8 and 12 straddle the keyframe at 10 without skipping it.
	intervals, err := SliceIntoVideoIntervals(vi, []uint64{8, 12})
	require.NoError(t, err)
	require.Len(t, intervals.SampleIndexIntervals, 1)
	assert.Equal(t, SampleInterval{Start: 0, End: 20}, intervals.SampleIndexIntervals[0])
	assert.Equal(t, []uint64{8, 12}, intervals.ValidFrames[0])
}

func TestSliceNonAdjacentBytesSplit(t *testing.T) {
	// Two GOPs of 10 with a byte gap before the second keyframe, as when
	// other media sits between the video chunks.
	offsets := make([]uint64, 20)
	sizes := make([]uint64, 20)
	cur := uint64(0)
	for i := 0; i < 20; i++ {
		if i == 10 {
			cur += 999 // interstitial bytes
		}
		offsets[i] = cur
		sizes[i] = 100
		cur += 100
	}
	vi := NewVideoIndex(600, 0, 64, 64, "avc1", offsets, sizes, []uint64{0, 10}, nil)

	intervals, err := SliceIntoVideoIntervals(vi, []uint64{8, 12})
	require.NoError(t, err)
	require.Len(t, intervals.SampleIndexIntervals, 2)
	assert.Equal(t, SampleInterval{Start: 0, End: 10}, intervals.SampleIndexIntervals[0])
	assert.Equal(t, SampleInterval{Start: 10, End: 20}, intervals.SampleIndexIntervals[1])
}

func TestSliceStridedRanges(t *testing.T) {
	vi := contiguousIndex(t, 1000, 100)

	var rows []uint64
	for _, r := range [][2]uint64{{0, 10}, {100, 115}, {300, 450}, {700, 900}} {
		for f := r[0]; f < r[1]; f++ {
			rows = append(rows, f)
		}
	}
	require.Len(t, rows, 375)

	intervals, err := SliceIntoVideoIntervals(vi, rows)
	require.NoError(t, err)
	// [0,10) and [100,115) share a segment: the keyframe at 100 is the
	// first segment's natural end and the bytes are adjacent. The jumps
	// to 300 and 700 skip keyframes and force new segments.
	require.Len(t, intervals.SampleIndexIntervals, 3)
	assert.Equal(t, SampleInterval{Start: 0, End: 200}, intervals.SampleIndexIntervals[0])
	assert.Equal(t, SampleInterval{Start: 300, End: 500}, intervals.SampleIndexIntervals[1])
	assert.Equal(t, SampleInterval{Start: 700, End: 900}, intervals.SampleIndexIntervals[2])

	total := 0
	keyframes := vi.KeyframeIndices()
	for i, interval := range intervals.SampleIndexIntervals {
		// Every segment begins at a keyframe.
		assert.Contains(t, keyframes, interval.Start)
		for _, f := range intervals.ValidFrames[i] {
			assert.GreaterOrEqual(t, f, interval.Start)
			assert.Less(t, f, interval.End)
		}
		total += len(intervals.ValidFrames[i])
	}
	assert.Equal(t, 375, total)
}

func TestSliceSingleFrame(t *testing.T) {
	vi := contiguousIndex(t, 1000, 100)

	intervals, err := SliceIntoVideoIntervals(vi, []uint64{500})
	require.NoError(t, err)
	require.Len(t, intervals.SampleIndexIntervals, 1)
	assert.Equal(t, SampleInterval{Start: 500, End: 600}, intervals.SampleIndexIntervals[0])
	assert.Equal(t, []uint64{500}, intervals.ValidFrames[0])
}

func TestSliceLastGOP(t *testing.T) {
	vi := contiguousIndex(t, 95, 10)

	intervals, err := SliceIntoVideoIntervals(vi, []uint64{94})
	require.NoError(t, err)
	require.Len(t, intervals.SampleIndexIntervals, 1)
	// The final segment's end is the frame count, not a keyframe.
	assert.Equal(t, SampleInterval{Start: 90, End: 95}, intervals.SampleIndexIntervals[0])
}

func TestSliceInvalidRequests(t *testing.T) {
	vi := contiguousIndex(t, 10, 5)

	_, err := SliceIntoVideoIntervals(vi, nil)
	assert.Error(t, err)

	_, err = SliceIntoVideoIntervals(vi, []uint64{3, 3})
	assert.Error(t, err)

	_, err = SliceIntoVideoIntervals(vi, []uint64{10})
	assert.Error(t, err)
}
