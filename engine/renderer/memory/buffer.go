/*
Package memory implements the GPU buffer ownership model. An
AllocatedBuffer owns exactly one device buffer and its backing allocation,
starts host-mappable ("dynamic") and can be promoted once to device-local
memory through a staged copy. Every buffer must be released with exactly one
Free call; double frees, use after free, and letting a live buffer become
unreachable are programmer errors and abort.
*/
package memory

import (
	"fmt"
	"runtime"
	"unsafe"

	"github.com/cockroachdb/errors"

	"github.com/emberengine/ember/engine/renderer/gpu"
)

// AllocatedBuffer is a device buffer sized for count elements of T.
type AllocatedBuffer[T any] struct {
	handle  gpu.Buffer
	count   int
	usage   gpu.BufferUsage
	dynamic bool
	freed   bool
}

// New allocates a host-visible buffer for count elements of T. The usage is
// always extended with transfer-source capability so the buffer can later be
// staged to device-local memory.
func New[T any](device gpu.Device, count int, usage gpu.BufferUsage) (*AllocatedBuffer[T], error) {
	if count < 1 {
		return nil, errors.Wrapf(gpu.ErrInvalidArgument, "buffer must hold at least one element, requested %d", count)
	}

	usage |= gpu.BufferUsageTransferSrc
	var zero T
	size := int(unsafe.Sizeof(zero)) * count

	handle, err := device.CreateBuffer(size, usage, gpu.MemoryHostVisible)
	if err != nil {
		return nil, errors.Wrapf(err, "allocating buffer for %d elements", count)
	}

	b := &AllocatedBuffer[T]{
		handle:  handle,
		count:   count,
		usage:   usage,
		dynamic: true,
	}
	setLeakFinalizer(b)
	return b, nil
}

func setLeakFinalizer[T any](b *AllocatedBuffer[T]) {
	runtime.SetFinalizer(b, func(b *AllocatedBuffer[T]) {
		if !b.freed {
			var zero T
			panic(fmt.Sprintf("memory: AllocatedBuffer[%T] became unreachable without Free", zero))
		}
	})
}

func (b *AllocatedBuffer[T]) mustLive(op string) {
	if b.freed {
		var zero T
		panic(fmt.Sprintf("memory: %s on freed AllocatedBuffer[%T]", op, zero))
	}
}

// Write copies the whole slice into the buffer. There are no partial
// writes: either every element lands or the call fails.
func (b *AllocatedBuffer[T]) Write(device gpu.Device, data []T) error {
	b.mustLive("Write")
	if !b.dynamic {
		return errors.Wrap(gpu.ErrImmutableBuffer, "cannot write to gpu-only memory")
	}
	if len(data) == 0 {
		return nil
	}
	if len(data) > b.count {
		return errors.Wrapf(gpu.ErrInvalidArgument, "write of %d elements into buffer of %d", len(data), b.count)
	}
	return device.WriteBuffer(b.handle, asBytes(data))
}

// Read copies the first len(out) elements back from the buffer. Only
// dynamic buffers can be read back.
func (b *AllocatedBuffer[T]) Read(device gpu.Device, out []T) error {
	b.mustLive("Read")
	if !b.dynamic {
		return errors.Wrap(gpu.ErrImmutableBuffer, "cannot read gpu-only memory")
	}
	if len(out) == 0 {
		return nil
	}
	return device.ReadBuffer(b.handle, asBytes(out))
}

// PromoteToDeviceLocal moves the contents into a freshly allocated
// device-local buffer through a one-shot staged copy and frees the
// original. The transition consumes the receiver: the returned handle is
// the only valid one afterwards, and it is no longer writable.
func (b *AllocatedBuffer[T]) PromoteToDeviceLocal(device gpu.Device) (*AllocatedBuffer[T], error) {
	b.mustLive("PromoteToDeviceLocal")

	size := b.SizeBytes()
	handle, err := device.CreateBuffer(size, b.usage|gpu.BufferUsageTransferDst, gpu.MemoryDeviceLocal)
	if err != nil {
		return nil, errors.Wrap(err, "allocating device-local buffer")
	}
	if err := device.CopyBuffer(b.handle, handle, size); err != nil {
		device.DestroyBuffer(handle)
		return nil, errors.Wrap(err, "staging copy")
	}

	promoted := &AllocatedBuffer[T]{
		handle:  handle,
		count:   b.count,
		usage:   b.usage | gpu.BufferUsageTransferDst,
		dynamic: false,
	}
	setLeakFinalizer(promoted)

	b.Free(device)
	return promoted, nil
}

// Free releases the buffer and its allocation. Exactly one Free per buffer;
// a second call aborts.
func (b *AllocatedBuffer[T]) Free(device gpu.Device) {
	if b.freed {
		var zero T
		panic(fmt.Sprintf("memory: double free of AllocatedBuffer[%T]", zero))
	}
	device.DestroyBuffer(b.handle)
	b.handle = nil
	b.freed = true
	runtime.SetFinalizer(b, nil)
}

// Handle returns the device buffer for binding. Using the handle after Free
// is a programmer error.
func (b *AllocatedBuffer[T]) Handle() gpu.Buffer {
	b.mustLive("Handle")
	return b.handle
}

func (b *AllocatedBuffer[T]) Count() int {
	return b.count
}

func (b *AllocatedBuffer[T]) Dynamic() bool {
	return b.dynamic
}

func (b *AllocatedBuffer[T]) SizeBytes() int {
	var zero T
	return int(unsafe.Sizeof(zero)) * b.count
}

func asBytes[T any](data []T) []byte {
	var zero T
	return unsafe.Slice((*byte)(unsafe.Pointer(&data[0])), len(data)*int(unsafe.Sizeof(zero)))
}
