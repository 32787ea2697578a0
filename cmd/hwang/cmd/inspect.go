package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/scanner-research/hwang"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <file.mp4|file.hwi>",
	Short: "Print a summary of a Video Index",
	Long: `inspect prints the dimensions, codec, timing, and keyframe structure of
a Video Index. Given an .hwi file it deserializes it directly; given an
MP4 it builds the index first.`,
	Args: cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		path := args[0]

		var vi *hwang.VideoIndex
		if strings.HasSuffix(path, ".hwi") {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			vi, err = hwang.DeserializeVideoIndex(data)
			if err != nil {
				return err
			}
		} else {
			var err error
			vi, _, err = buildIndex(path)
			if err != nil {
				return err
			}
		}

		fmt.Printf("format:      %s\n", vi.Format())
		fmt.Printf("dimensions:  %dx%d\n", vi.FrameWidth(), vi.FrameHeight())
		fmt.Printf("frames:      %d\n", vi.Frames())
		fmt.Printf("keyframes:   %d\n", len(vi.KeyframeIndices()))
		fmt.Printf("timescale:   %d\n", vi.Timescale())
		fmt.Printf("duration:    %d", vi.Duration())
		if vi.Timescale() > 0 {
			fmt.Printf(" (%.2fs)", float64(vi.Duration())/float64(vi.Timescale()))
		}
		fmt.Println()
		fmt.Printf("extradata:   %d bytes\n", len(vi.MetadataBytes()))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}
