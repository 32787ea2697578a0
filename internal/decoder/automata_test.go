package decoder_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scanner-research/hwang/internal/decoder"
	"github.com/scanner-research/hwang/internal/testutil"
)

const (
	testWidth     = 4
	testHeight    = 2
	testFrameSize = testWidth * testHeight * 3
	sampleBytes   = 16
)

// makeSegment builds a decode segment covering samples [start, end).
// Sample i's bytes all equal byte(i), so the expected output frame for
// frame i is byte(i) repeated.
func makeSegment(start, end uint64, keyframes, valid []uint64) decoder.EncodedData {
	n := end - start
	buf := make([]byte, 0, n*sampleBytes)
	offsets := make([]uint64, 0, n)
	sizes := make([]uint64, 0, n)
	base := uint64(1000) + start*sampleBytes
	for i := uint64(0); i < n; i++ {
		offsets = append(offsets, base+i*sampleBytes)
		sizes = append(sizes, sampleBytes)
		buf = append(buf, bytes.Repeat([]byte{byte(start + i)}, sampleBytes)...)
	}
	return decoder.EncodedData{
		EncodedVideo:  buf,
		Width:         testWidth,
		Height:        testHeight,
		Format:        "h264",
		StartKeyframe: start,
		EndKeyframe:   end,
		SampleOffsets: offsets,
		SampleSizes:   sizes,
		Keyframes:     append(append([]uint64(nil), keyframes...), end),
		ValidFrames:   valid,
	}
}

// wantFrame is the expected pixel payload of frame i.
func wantFrame(i uint64) []byte {
	return bytes.Repeat([]byte{byte(i)}, testFrameSize)
}

// newTestAutomata wires a fake decoder into an automata and registers
// cleanup.
func newTestAutomata(t *testing.T, fake *testutil.FakeDecoder) *decoder.DecoderAutomata {
	t.Helper()
	a := decoder.NewAutomata(decoder.CPUDevice, 1, fake, nil)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestGetFramesAll(t *testing.T) {
	fake := testutil.NewFakeDecoder(3)
	a := newTestAutomata(t, fake)

	valid := rangeFrames(0, 10)
	seg := makeSegment(0, 10, []uint64{0}, valid)
	require.NoError(t, a.Initialize([]decoder.EncodedData{seg}, []byte{1, 2, 3}))

	buf := make([]byte, 10*testFrameSize)
	require.NoError(t, a.GetFrames(buf, 10))

	for i := uint64(0); i < 10; i++ {
		assert.Equal(t, wantFrame(i), buf[i*testFrameSize:(i+1)*testFrameSize], "frame %d", i)
	}
}

func TestGetFramesOneAtATime(t *testing.T) {
	fake := testutil.NewFakeDecoder(2)
	a := newTestAutomata(t, fake)

	valid := rangeFrames(0, 8)
	seg := makeSegment(0, 8, []uint64{0, 4}, valid)
	require.NoError(t, a.Initialize([]decoder.EncodedData{seg}, []byte{9}))

	buf := make([]byte, testFrameSize)
	for i := uint64(0); i < 8; i++ {
		require.NoError(t, a.GetFrames(buf, 1), "frame %d", i)
		assert.Equal(t, wantFrame(i), buf, "frame %d", i)
	}
}

func TestGetFramesDiscardsUnrequested(t *testing.T) {
	fake := testutil.NewFakeDecoder(3)
	a := newTestAutomata(t, fake)

	seg := makeSegment(0, 10, []uint64{0}, []uint64{3, 7})
	require.NoError(t, a.Initialize([]decoder.EncodedData{seg}, nil))

	buf := make([]byte, 2*testFrameSize)
	require.NoError(t, a.GetFrames(buf, 2))
	assert.Equal(t, wantFrame(3), buf[:testFrameSize])
	assert.Equal(t, wantFrame(7), buf[testFrameSize:])
}

func TestGetFramesAcrossSegments(t *testing.T) {
	fake := testutil.NewFakeDecoder(3)
	a := newTestAutomata(t, fake)

	segments := []decoder.EncodedData{
		makeSegment(0, 10, []uint64{0}, []uint64{5}),
		makeSegment(50, 60, []uint64{50}, []uint64{52, 59}),
	}
	require.NoError(t, a.Initialize(segments, nil))

	buf := make([]byte, 3*testFrameSize)
	require.NoError(t, a.GetFrames(buf, 3))
	assert.Equal(t, wantFrame(5), buf[:testFrameSize])
	assert.Equal(t, wantFrame(52), buf[testFrameSize:2*testFrameSize])
	assert.Equal(t, wantFrame(59), buf[2*testFrameSize:])
}

func TestGetFramesSplitRequestsAcrossSegments(t *testing.T) {
	fake := testutil.NewFakeDecoder(1)
	a := newTestAutomata(t, fake)

	segments := []decoder.EncodedData{
		makeSegment(0, 4, []uint64{0}, []uint64{0, 1, 2, 3}),
		makeSegment(20, 24, []uint64{20}, []uint64{21, 23}),
	}
	require.NoError(t, a.Initialize(segments, nil))

	buf := make([]byte, 4*testFrameSize)
	require.NoError(t, a.GetFrames(buf, 4))
	for i := uint64(0); i < 4; i++ {
		assert.Equal(t, wantFrame(i), buf[i*testFrameSize:(i+1)*testFrameSize])
	}

	require.NoError(t, a.GetFrames(buf, 2))
	assert.Equal(t, wantFrame(21), buf[:testFrameSize])
	assert.Equal(t, wantFrame(23), buf[testFrameSize:2*testFrameSize])
}

func TestInitializeTwice(t *testing.T) {
	fake := testutil.NewFakeDecoder(2)
	a := newTestAutomata(t, fake)

	seg := makeSegment(0, 6, []uint64{0}, rangeFrames(0, 6))
	require.NoError(t, a.Initialize([]decoder.EncodedData{seg}, nil))
	buf := make([]byte, 6*testFrameSize)
	require.NoError(t, a.GetFrames(buf, 6))

	// Reinitialize with a different segment list and decode again.
	seg2 := makeSegment(30, 36, []uint64{30}, []uint64{31, 34})
	require.NoError(t, a.Initialize([]decoder.EncodedData{seg2}, nil))
	require.NoError(t, a.GetFrames(buf, 2))
	assert.Equal(t, wantFrame(31), buf[:testFrameSize])
	assert.Equal(t, wantFrame(34), buf[testFrameSize:2*testFrameSize])
}

func TestFeederErrorSurfaces(t *testing.T) {
	fake := testutil.NewFakeDecoder(2)
	fake.FeedErrAfter = 3
	a := newTestAutomata(t, fake)

	seg := makeSegment(0, 10, []uint64{0}, rangeFrames(0, 10))
	require.NoError(t, a.Initialize([]decoder.EncodedData{seg}, nil))

	buf := make([]byte, 10*testFrameSize)
	done := make(chan error, 1)
	go func() { done <- a.GetFrames(buf, 10) }()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "scripted feed failure")
	case <-time.After(10 * time.Second):
		t.Fatal("GetFrames did not return after feeder failure")
	}
}

func TestInitializeValidation(t *testing.T) {
	fake := testutil.NewFakeDecoder(1)
	a := newTestAutomata(t, fake)

	require.Error(t, a.Initialize(nil, nil))

	// Empty valid frames.
	seg := makeSegment(0, 4, []uint64{0}, nil)
	require.Error(t, a.Initialize([]decoder.EncodedData{seg}, nil))

	// Non-monotonic valid frames.
	seg = makeSegment(0, 4, []uint64{0}, []uint64{2, 1})
	require.Error(t, a.Initialize([]decoder.EncodedData{seg}, nil))

	// Valid frame outside the segment.
	seg = makeSegment(0, 4, []uint64{0}, []uint64{4})
	require.Error(t, a.Initialize([]decoder.EncodedData{seg}, nil))

	// Segment that does not start at a keyframe.
	seg = makeSegment(0, 4, []uint64{1}, []uint64{2})
	require.Error(t, a.Initialize([]decoder.EncodedData{seg}, nil))
}

func TestGetFramesBufferTooSmall(t *testing.T) {
	fake := testutil.NewFakeDecoder(1)
	a := newTestAutomata(t, fake)

	seg := makeSegment(0, 4, []uint64{0}, []uint64{0})
	require.NoError(t, a.Initialize([]decoder.EncodedData{seg}, nil))

	buf := make([]byte, testFrameSize-1)
	assert.Error(t, a.GetFrames(buf, 1))
}

func TestCloseWithoutUse(t *testing.T) {
	fake := testutil.NewFakeDecoder(1)
	a := decoder.NewAutomata(decoder.CPUDevice, 1, fake, nil)
	require.NoError(t, a.Close())
	assert.True(t, fake.Closed())
}

func TestCloseAfterPartialRetrieve(t *testing.T) {
	fake := testutil.NewFakeDecoder(2)
	a := decoder.NewAutomata(decoder.CPUDevice, 1, fake, nil)

	seg := makeSegment(0, 10, []uint64{0}, rangeFrames(0, 10))
	require.NoError(t, a.Initialize([]decoder.EncodedData{seg}, nil))
	buf := make([]byte, 3*testFrameSize)
	require.NoError(t, a.GetFrames(buf, 3))

	require.NoError(t, a.Close())
	assert.True(t, fake.Closed())
}

func rangeFrames(start, end uint64) []uint64 {
	out := make([]uint64, 0, end-start)
	for f := start; f < end; f++ {
		out = append(out, f)
	}
	return out
}
