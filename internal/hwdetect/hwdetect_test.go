package hwdetect

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectCachesResult(t *testing.T) {
	d := NewDetector(nil)
	ctx := context.Background()

	first := d.Detect(ctx)
	require.NotNil(t, first)
	second := d.Detect(ctx)
	assert.Same(t, first, second)
	assert.False(t, first.DetectedAt.IsZero())
}

func TestDecodeThreadsBounds(t *testing.T) {
	d := NewDetector(nil)
	threads := d.DecodeThreads(context.Background())
	assert.GreaterOrEqual(t, threads, 1)
	assert.LessOrEqual(t, threads, 4)
}
