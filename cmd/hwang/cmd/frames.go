package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/scanner-research/hwang"
)

var (
	framesSpec   string
	framesOutput string
	framesDryRun bool
)

var framesCmd = &cobra.Command{
	Use:   "frames <file.mp4>",
	Short: "Decode selected frames to raw RGB24",
	Long: `frames slices the requested frame indices into keyframe-aligned decode
segments and runs them through the decoder, writing the frames as
concatenated raw RGB24 images to --output. With --dry-run it only
reports the decode segments.

The frame specification is a comma-separated list of indices and
inclusive ranges, e.g. "0,10,100-115".`,
	Args: cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		path := args[0]
		rows, err := parseFrameSpec(framesSpec)
		if err != nil {
			return err
		}

		vi, _, err := buildIndex(path)
		if err != nil {
			return err
		}
		intervals, err := hwang.SliceIntoVideoIntervals(vi, rows)
		if err != nil {
			return err
		}
		for i, interval := range intervals.SampleIndexIntervals {
			slog.Info("decode segment",
				slog.Int("segment", i),
				slog.Uint64("start_keyframe", interval.Start),
				slog.Uint64("end_keyframe", interval.End),
				slog.Int("valid_frames", len(intervals.ValidFrames[i])))
		}
		if framesDryRun {
			return nil
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		segments, err := hwang.SegmentsForIntervals(vi, intervals, f)
		if err != nil {
			return err
		}

		device := hwang.DeviceHandle{Type: hwang.CPUDevice.Type, ID: int32(cfg.Decoder.Device)}
		automata, err := hwang.NewDecoderAutomata(device, int32(cfg.Decoder.NumUnits),
			hwang.DecoderKind(cfg.Decoder.Kind), slog.Default())
		if err != nil {
			return err
		}
		defer automata.Close()

		if err := automata.Initialize(segments, vi.MetadataBytes()); err != nil {
			return err
		}

		frameSize := uint64(vi.FrameWidth()) * uint64(vi.FrameHeight()) * 3
		buf := make([]byte, frameSize*uint64(len(rows)))
		if err := automata.GetFrames(buf, len(rows)); err != nil {
			return err
		}

		out := framesOutput
		if out == "" {
			out = path + ".rgb"
		}
		if err := os.WriteFile(out, buf, 0o644); err != nil {
			return fmt.Errorf("writing frames: %w", err)
		}
		slog.Info("frames written",
			slog.String("path", out),
			slog.Int("frames", len(rows)),
			slog.Uint64("frame_bytes", frameSize))
		return nil
	},
}

func init() {
	framesCmd.Flags().StringVar(&framesSpec, "frames", "0", "frame indices to decode, e.g. 0,10,100-115")
	framesCmd.Flags().StringVarP(&framesOutput, "output", "o", "", "output path for raw RGB24 frames")
	framesCmd.Flags().BoolVar(&framesDryRun, "dry-run", false, "only report the decode segments")
	rootCmd.AddCommand(framesCmd)
}

// parseFrameSpec expands "0,10,100-115" into a sorted list of frame
// indices. Indices must be strictly increasing across the spec.
func parseFrameSpec(spec string) ([]uint64, error) {
	var rows []uint64
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if lo, hi, ok := strings.Cut(part, "-"); ok {
			start, err := strconv.ParseUint(lo, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid frame range %q", part)
			}
			end, err := strconv.ParseUint(hi, 10, 64)
			if err != nil || end < start {
				return nil, fmt.Errorf("invalid frame range %q", part)
			}
			for f := start; f <= end; f++ {
				rows = append(rows, f)
			}
			continue
		}
		f, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid frame index %q", part)
		}
		rows = append(rows, f)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no frames requested")
	}
	for i := 1; i < len(rows); i++ {
		if rows[i] <= rows[i-1] {
			return nil, fmt.Errorf("frame indices must be strictly increasing")
		}
	}
	return rows, nil
}
