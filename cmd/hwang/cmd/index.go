package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/scanner-research/hwang"
	"github.com/scanner-research/hwang/internal/store"
)

var (
	indexOutput  string
	indexToStore bool
)

var indexCmd = &cobra.Command{
	Use:   "index <file.mp4>",
	Short: "Build a Video Index for an MP4 file",
	Long: `index streams an MP4 file through the resumable parser and writes the
serialized Video Index next to the source (or to --output). With --store
the index is also recorded in the configured index store.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		vi, fileSize, err := buildIndex(path)
		if err != nil {
			return err
		}

		out := indexOutput
		if out == "" {
			out = path + ".hwi"
		}
		if err := os.WriteFile(out, vi.Serialize(), 0o644); err != nil {
			return fmt.Errorf("writing index: %w", err)
		}
		slog.Info("index written",
			slog.String("path", out),
			slog.Uint64("frames", vi.Frames()),
			slog.Int("keyframes", len(vi.KeyframeIndices())))

		if indexToStore {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			s, err := store.Open(cfg.Store, slog.Default())
			if err != nil {
				return err
			}
			defer s.Close()
			id, err := s.Put(cmd.Context(), path, fileSize, vi)
			if err != nil {
				return err
			}
			slog.Info("index cached", slog.String("id", id))
		}
		return nil
	},
}

func init() {
	indexCmd.Flags().StringVarP(&indexOutput, "output", "o", "", "output path for the serialized index")
	indexCmd.Flags().BoolVar(&indexToStore, "store", false, "also record the index in the index store")
	rootCmd.AddCommand(indexCmd)
}

// buildIndex streams a file through the index builder at the offsets it
// requests.
func buildIndex(path string) (*hwang.VideoIndex, uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, 0, err
	}
	fileSize := uint64(info.Size())

	b := hwang.NewMP4IndexBuilder(fileSize, slog.Default())
	buf := make([]byte, 0)
	for !b.IsDone() {
		offset, size := b.NextRequest()
		if uint64(cap(buf)) < size {
			buf = make([]byte, size)
		}
		buf = buf[:size]
		n, err := f.ReadAt(buf, int64(offset))
		if err != nil && !(errors.Is(err, io.EOF) && uint64(n) == size) {
			return nil, 0, fmt.Errorf("reading %d bytes at %d: %w", size, offset, err)
		}
		b.Feed(buf)
	}
	if b.IsError() {
		return nil, 0, fmt.Errorf("indexing %s: %s", path, b.ErrorMessage())
	}
	vi, err := b.VideoIndex()
	if err != nil {
		return nil, 0, err
	}
	return vi, fileSize, nil
}
