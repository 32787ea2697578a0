package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrameSpec(t *testing.T) {
	tests := []struct {
		name     string
		spec     string
		expected []uint64
		wantErr  bool
	}{
		{"single", "5", []uint64{5}, false},
		{"list", "0,3,9", []uint64{0, 3, 9}, false},
		{"range", "4-7", []uint64{4, 5, 6, 7}, false},
		{"mixed", "0,10,100-103", []uint64{0, 10, 100, 101, 102, 103}, false},
		{"spaces", " 1, 2 ", []uint64{1, 2}, false},
		{"empty", "", nil, true},
		{"descending", "5,3", nil, true},
		{"duplicate", "3,3", nil, true},
		{"inverted range", "7-4", nil, true},
		{"garbage", "a-b", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := parseFrameSpec(tt.spec)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, rows)
		})
	}
}
