/*
Package framesync owns the per-frame synchronization triples: one completion
fence and two semaphores for every frame that may be in flight. The number
of slots bounds CPU lookahead: it is the maximum number of frames the CPU
may prepare before being forced to block on the GPU.
*/
package framesync

import (
	"runtime"

	"github.com/cockroachdb/errors"

	"github.com/emberengine/ember/engine/renderer/gpu"
)

type slot struct {
	fence          gpu.Fence
	imageAvailable gpu.Semaphore
	renderFinished gpu.Semaphore
}

// FrameSync is a fixed ring of synchronization slots with a round-robin
// cursor. It must be released with Teardown before it becomes unreachable;
// a collected, un-torn-down FrameSync aborts the program.
type FrameSync struct {
	slots []slot
	index int
	freed bool
}

func New(device gpu.Device, framesInFlight int) (*FrameSync, error) {
	if framesInFlight < 1 {
		return nil, errors.Wrapf(gpu.ErrInvalidArgument, "frames in flight must be at least 1, got %d", framesInFlight)
	}

	fs := &FrameSync{
		slots: make([]slot, framesInFlight),
		// First Advance lands on slot zero.
		index: framesInFlight - 1,
	}

	for i := range fs.slots {
		// The fence starts signaled so the first frame through a slot does
		// not wait on work that was never submitted.
		fence, err := device.CreateFence(true)
		if err != nil {
			fs.destroyPartial(device, i)
			return nil, err
		}
		imageAvailable, err := device.CreateSemaphore()
		if err != nil {
			device.DestroyFence(fence)
			fs.destroyPartial(device, i)
			return nil, err
		}
		renderFinished, err := device.CreateSemaphore()
		if err != nil {
			device.DestroySemaphore(imageAvailable)
			device.DestroyFence(fence)
			fs.destroyPartial(device, i)
			return nil, err
		}
		fs.slots[i] = slot{
			fence:          fence,
			imageAvailable: imageAvailable,
			renderFinished: renderFinished,
		}
	}

	runtime.SetFinalizer(fs, func(fs *FrameSync) {
		if !fs.freed {
			panic("framesync: FrameSync became unreachable without Teardown")
		}
	})

	return fs, nil
}

func (fs *FrameSync) destroyPartial(device gpu.Device, created int) {
	for i := 0; i < created; i++ {
		device.DestroySemaphore(fs.slots[i].renderFinished)
		device.DestroySemaphore(fs.slots[i].imageAvailable)
		device.DestroyFence(fs.slots[i].fence)
	}
}

func (fs *FrameSync) mustLive(op string) {
	if fs.freed {
		panic("framesync: " + op + " after Teardown")
	}
}

// Advance moves the cursor to the next slot and returns its index. Pure CPU
// state, never blocks.
func (fs *FrameSync) Advance() int {
	fs.mustLive("Advance")
	fs.index = (fs.index + 1) % len(fs.slots)
	return fs.index
}

func (fs *FrameSync) Index() int {
	fs.mustLive("Index")
	return fs.index
}

func (fs *FrameSync) FramesInFlight() int {
	return len(fs.slots)
}

// Fence is the current slot's completion fence: signaled by the GPU when
// the frame submitted from this slot retires.
func (fs *FrameSync) Fence() gpu.Fence {
	fs.mustLive("Fence")
	return fs.slots[fs.index].fence
}

// ImageAvailable is signaled when the acquired swapchain image is ready to
// be written.
func (fs *FrameSync) ImageAvailable() gpu.Semaphore {
	fs.mustLive("ImageAvailable")
	return fs.slots[fs.index].imageAvailable
}

// RenderFinished is signaled when rendering completes and presentation may
// proceed.
func (fs *FrameSync) RenderFinished() gpu.Semaphore {
	fs.mustLive("RenderFinished")
	return fs.slots[fs.index].renderFinished
}

// Teardown destroys every slot's fence and semaphores. Calling it twice is
// a programmer error.
func (fs *FrameSync) Teardown(device gpu.Device) {
	if fs.freed {
		panic("framesync: Teardown called twice")
	}
	for i := range fs.slots {
		device.DestroySemaphore(fs.slots[i].renderFinished)
		device.DestroySemaphore(fs.slots[i].imageAvailable)
		device.DestroyFence(fs.slots[i].fence)
	}
	fs.freed = true
	runtime.SetFinalizer(fs, nil)
}
