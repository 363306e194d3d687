package core

import "sync"

// Frame times are averaged over a sliding window so the reported number
// stays readable at high frame rates.
const frameWindow = 30

type frameMetrics struct {
	samples     [frameWindow]float64
	sampleIndex int
	frameTimeMS float64
	frames      int
	accumMS     float64
	fps         float64
}

var (
	metricsOnce  sync.Once
	metricsState *frameMetrics
)

func MetricsInitialize() error {
	metricsOnce.Do(func() {
		metricsState = &frameMetrics{}
	})
	return nil
}

// MetricsUpdate records one frame's wall time in seconds. Call once per
// rendered frame.
func MetricsUpdate(elapsed float64) {
	m := metricsState
	ms := elapsed * 1000.0

	m.samples[m.sampleIndex] = ms
	m.sampleIndex = (m.sampleIndex + 1) % frameWindow
	if m.sampleIndex == 0 {
		total := 0.0
		for _, sample := range m.samples {
			total += sample
		}
		m.frameTimeMS = total / frameWindow
	}

	m.accumMS += ms
	if m.accumMS > 1000 {
		m.fps = float64(m.frames)
		m.accumMS -= 1000
		m.frames = 0
	}
	m.frames++
}

// MetricsFrame reports the last measured frames per second and the windowed
// average frame time in milliseconds. Both are zero until enough frames
// have been recorded.
func MetricsFrame() (fps, frameTimeMS float64) {
	return metricsState.fps, metricsState.frameTimeMS
}
