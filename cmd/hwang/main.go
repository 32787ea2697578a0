// hwang is a CLI for indexing MP4 video files and extracting arbitrary
// frames from them without decoding more than necessary.
package main

import (
	"fmt"
	"os"

	"github.com/scanner-research/hwang/cmd/hwang/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
