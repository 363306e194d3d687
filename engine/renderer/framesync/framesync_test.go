package framesync

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/emberengine/ember/engine/renderer/gpu"
	"github.com/emberengine/ember/engine/renderer/gpu/gputest"
)

func TestAdvanceCyclesInOrder(t *testing.T) {
	device := gputest.New()

	fs, err := New(device, 2)
	require.NoError(t, err)
	defer fs.Teardown(device)

	for i := 0; i < 10; i++ {
		require.Equal(t, i%2, fs.Advance())
		require.Equal(t, i%2, fs.Index())
	}
}

func TestAdvanceSingleSlot(t *testing.T) {
	device := gputest.New()

	fs, err := New(device, 1)
	require.NoError(t, err)
	defer fs.Teardown(device)

	for i := 0; i < 5; i++ {
		require.Equal(t, 0, fs.Advance())
	}
}

func TestNewRejectsZeroSlots(t *testing.T) {
	device := gputest.New()

	_, err := New(device, 0)
	require.True(t, errors.Is(err, gpu.ErrInvalidArgument))
	require.Zero(t, device.LiveFences)
	require.Zero(t, device.LiveSemaphores)
}

func TestTeardownReleasesEverySlot(t *testing.T) {
	device := gputest.New()

	fs, err := New(device, 2)
	require.NoError(t, err)
	require.Equal(t, 2, device.LiveFences)
	require.Equal(t, 4, device.LiveSemaphores)

	fs.Teardown(device)
	require.Zero(t, device.LiveFences)
	require.Zero(t, device.LiveSemaphores)
}

func TestDoubleTeardownPanics(t *testing.T) {
	device := gputest.New()

	fs, err := New(device, 2)
	require.NoError(t, err)
	fs.Teardown(device)

	require.Panics(t, func() { fs.Teardown(device) })
}

func TestUseAfterTeardownPanics(t *testing.T) {
	device := gputest.New()

	fs, err := New(device, 2)
	require.NoError(t, err)
	fs.Teardown(device)

	require.Panics(t, func() { fs.Advance() })
	require.Panics(t, func() { fs.Fence() })
}

func TestSlotsAreDistinct(t *testing.T) {
	device := gputest.New()

	fs, err := New(device, 2)
	require.NoError(t, err)
	defer fs.Teardown(device)

	fs.Advance()
	firstFence := fs.Fence()
	firstAvailable := fs.ImageAvailable()
	fs.Advance()
	require.NotSame(t, firstFence, fs.Fence())
	require.NotSame(t, firstAvailable, fs.ImageAvailable())
}
