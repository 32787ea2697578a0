package index

import (
	"fmt"
)

// SampleInterval is a half-open run of sample indices. Start is always a
// keyframe index; End is a keyframe index or the total frame count.
type SampleInterval struct {
	Start uint64
	End   uint64
}

// VideoIntervals pairs each decode interval with the frames the caller
// wants out of it. The two slices are parallel.
type VideoIntervals struct {
	SampleIndexIntervals []SampleInterval
	ValidFrames          [][]uint64
}

// SliceIntoVideoIntervals converts a strictly increasing list of desired
// frame indices into decode segments consistent with the index's keyframe
// structure. A segment covers the span from the keyframe at or before its
// first desired frame up to the next keyframe past its last desired frame.
// A new segment starts whenever a keyframe is skipped entirely or the next
// keyframe's bytes are not adjacent to the previous sample's bytes in the
// file (interstitial bytes belong to other media and must not reach the
// codec).
func SliceIntoVideoIntervals(index *VideoIndex, rows []uint64) (VideoIntervals, error) {
	if len(rows) == 0 {
		return VideoIntervals{}, fmt.Errorf("index: no frames requested")
	}
	frames := index.Frames()
	for i, row := range rows {
		if row >= frames {
			return VideoIntervals{}, fmt.Errorf("index: requested frame %d out of range [0, %d)", row, frames)
		}
		if i > 0 && row <= rows[i-1] {
			return VideoIntervals{}, fmt.Errorf("index: requested frames must be strictly increasing")
		}
	}

	// Segment boundaries are the keyframes plus a sentinel at the end of
	// the track.
	keyframePositions := append(append([]uint64(nil), index.KeyframeIndices()...), frames)
	if len(keyframePositions) < 2 {
		return VideoIntervals{}, fmt.Errorf("index: no keyframes")
	}
	offsets := index.SampleOffsets()
	sizes := index.SampleSizes()

	var info VideoIntervals
	startKeyframeIndex := 0
	endKeyframeIndex := 1
	nextKeyframe := keyframePositions[endKeyframeIndex]
	var validFrames []uint64

	for _, row := range rows {
		if row >= nextKeyframe {
			// The desired frame is past the segment's current end keyframe.
			// Extending is only allowed when that keyframe's bytes follow
			// the previous sample's bytes directly.
			lastEndpoint := offsets[nextKeyframe-1] + sizes[nextKeyframe-1]
			isAdjacent := lastEndpoint == offsets[nextKeyframe]

			endKeyframeIndex++
			nextKeyframe = keyframePositions[endKeyframeIndex]

			if row >= nextKeyframe || !isAdjacent {
				// Skipped a keyframe or hit a byte gap: close out the
				// current segment and start fresh at the keyframe that
				// covers row.
				if len(validFrames) > 0 {
					info.SampleIndexIntervals = append(info.SampleIndexIntervals, SampleInterval{
						Start: keyframePositions[startKeyframeIndex],
						End:   keyframePositions[endKeyframeIndex-1],
					})
					info.ValidFrames = append(info.ValidFrames, validFrames)
				}
				for row >= keyframePositions[endKeyframeIndex] {
					endKeyframeIndex++
				}
				validFrames = nil
				startKeyframeIndex = endKeyframeIndex - 1
				nextKeyframe = keyframePositions[endKeyframeIndex]
			}
		}
		validFrames = append(validFrames, row)
	}
	info.SampleIndexIntervals = append(info.SampleIndexIntervals, SampleInterval{
		Start: keyframePositions[startKeyframeIndex],
		End:   keyframePositions[endKeyframeIndex],
	})
	info.ValidFrames = append(info.ValidFrames, validFrames)
	return info, nil
}
