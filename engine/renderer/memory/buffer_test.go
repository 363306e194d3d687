package memory

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/emberengine/ember/engine/renderer/gpu"
	"github.com/emberengine/ember/engine/renderer/gpu/gputest"
)

func TestZeroCountNeverAllocates(t *testing.T) {
	device := gputest.New()

	_, err := New[uint16](device, 0, gpu.BufferUsageIndex)
	require.True(t, errors.Is(err, gpu.ErrInvalidArgument))
	require.Zero(t, device.LiveBuffers)

	_, err = New[uint16](device, -3, gpu.BufferUsageIndex)
	require.True(t, errors.Is(err, gpu.ErrInvalidArgument))
	require.Zero(t, device.LiveBuffers)
}

func TestWriteReadRoundTrip(t *testing.T) {
	device := gputest.New()

	for _, count := range []int{1, 2, 7, 256} {
		data := make([]uint32, count)
		for i := range data {
			data[i] = uint32(i * 31)
		}

		buf, err := New[uint32](device, count, gpu.BufferUsageVertex)
		require.NoError(t, err)
		require.NoError(t, buf.Write(device, data))

		out := make([]uint32, count)
		require.NoError(t, buf.Read(device, out))
		require.Equal(t, data, out)

		buf.Free(device)
	}
	require.Zero(t, device.LiveBuffers)
}

func TestWriteAfterPromoteIsImmutable(t *testing.T) {
	device := gputest.New()

	buf, err := New[uint16](device, 6, gpu.BufferUsageIndex)
	require.NoError(t, err)
	require.NoError(t, buf.Write(device, []uint16{0, 1, 2, 2, 3, 0}))

	promoted, err := buf.PromoteToDeviceLocal(device)
	require.NoError(t, err)
	defer promoted.Free(device)

	require.False(t, promoted.Dynamic())
	err = promoted.Write(device, []uint16{9, 9, 9, 9, 9, 9})
	require.True(t, errors.Is(err, gpu.ErrImmutableBuffer))
}

func TestPromoteConsumesOriginal(t *testing.T) {
	device := gputest.New()

	buf, err := New[uint16](device, 3, gpu.BufferUsageIndex)
	require.NoError(t, err)
	require.NoError(t, buf.Write(device, []uint16{1, 2, 3}))

	promoted, err := buf.PromoteToDeviceLocal(device)
	require.NoError(t, err)
	defer promoted.Free(device)

	// Only the promoted buffer remains live on the device.
	require.Equal(t, 1, device.LiveBuffers)
	require.Panics(t, func() { buf.Handle() })
	require.Panics(t, func() { buf.Free(device) })
}

func TestDoubleFreePanics(t *testing.T) {
	device := gputest.New()

	buf, err := New[uint32](device, 1, gpu.BufferUsageUniform)
	require.NoError(t, err)
	buf.Free(device)

	require.Panics(t, func() { buf.Free(device) })
}

func TestUseAfterFreePanics(t *testing.T) {
	device := gputest.New()

	buf, err := New[uint32](device, 1, gpu.BufferUsageUniform)
	require.NoError(t, err)
	buf.Free(device)

	require.Panics(t, func() { buf.Handle() })
	require.Panics(t, func() { _ = buf.Write(device, []uint32{1}) })
}

func TestOverflowingWriteFails(t *testing.T) {
	device := gputest.New()

	buf, err := New[uint32](device, 2, gpu.BufferUsageVertex)
	require.NoError(t, err)
	defer buf.Free(device)

	err = buf.Write(device, []uint32{1, 2, 3})
	require.True(t, errors.Is(err, gpu.ErrInvalidArgument))
}

func TestAllocationFailureSurfaces(t *testing.T) {
	device := gputest.New()
	device.FailCreateBuffer = errors.Wrap(gpu.ErrDevice, "out of memory")

	_, err := New[uint32](device, 4, gpu.BufferUsageVertex)
	require.True(t, errors.Is(err, gpu.ErrDevice))
	require.Zero(t, device.LiveBuffers)
}
