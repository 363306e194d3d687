package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/emberengine/ember/engine/renderer/gpu"
)

const waitForever = ^uint64(0)

func (d *Device) CreateFence(signaled bool) (gpu.Fence, error) {
	info := vk.FenceCreateInfo{SType: vk.StructureTypeFenceCreateInfo}
	if signaled {
		info.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	var fence vk.Fence
	if err := ok(vk.CreateFence(d.device, &info, nil, &fence), "creating fence"); err != nil {
		return nil, err
	}
	return fence, nil
}

func (d *Device) DestroyFence(fence gpu.Fence) {
	vk.DestroyFence(d.device, fence.(vk.Fence), nil)
}

func (d *Device) WaitForFence(fence gpu.Fence) error {
	return ok(vk.WaitForFences(d.device, 1, []vk.Fence{fence.(vk.Fence)}, vk.True, waitForever), "waiting for fence")
}

func (d *Device) ResetFence(fence gpu.Fence) error {
	return ok(vk.ResetFences(d.device, 1, []vk.Fence{fence.(vk.Fence)}), "resetting fence")
}

func (d *Device) CreateSemaphore() (gpu.Semaphore, error) {
	info := vk.SemaphoreCreateInfo{SType: vk.StructureTypeSemaphoreCreateInfo}
	var semaphore vk.Semaphore
	if err := ok(vk.CreateSemaphore(d.device, &info, nil, &semaphore), "creating semaphore"); err != nil {
		return nil, err
	}
	return semaphore, nil
}

func (d *Device) DestroySemaphore(semaphore gpu.Semaphore) {
	vk.DestroySemaphore(d.device, semaphore.(vk.Semaphore), nil)
}
