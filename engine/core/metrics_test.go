package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMetricsFrameReportsAverages(t *testing.T) {
	require.NoError(t, MetricsInitialize())

	// Two seconds of steady 60 fps frames.
	for i := 0; i < 120; i++ {
		MetricsUpdate(1.0 / 60.0)
	}

	fps, frameTimeMS := MetricsFrame()
	require.InDelta(t, 60.0, fps, 1.0)
	require.InDelta(t, 1000.0/60.0, frameTimeMS, 0.05)
}
