package vulkan

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/emberengine/ember/engine/renderer/gpu"
)

// buffer pairs a vk.Buffer with its dedicated allocation. The renderer's
// working set is small enough that one allocation per buffer is fine; a
// sub-allocating arena can replace this behind the same interface.
type buffer struct {
	handle      vk.Buffer
	memory      vk.DeviceMemory
	size        vk.DeviceSize
	hostVisible bool
}

func (d *Device) CreateBuffer(size int, usage gpu.BufferUsage, memory gpu.MemoryMode) (gpu.Buffer, error) {
	if size <= 0 {
		return nil, errors.Wrapf(gpu.ErrInvalidArgument, "buffer size %d", size)
	}

	info := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       bufferUsageFlags(usage),
		SharingMode: vk.SharingModeExclusive,
	}
	var handle vk.Buffer
	if err := ok(vk.CreateBuffer(d.device, &info, nil, &handle), "creating buffer"); err != nil {
		return nil, err
	}

	var requirements vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.device, handle, &requirements)
	requirements.Deref()

	properties := vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)
	hostVisible := memory == gpu.MemoryHostVisible
	if hostVisible {
		properties = vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit) |
			vk.MemoryPropertyFlags(vk.MemoryPropertyHostCoherentBit)
	}

	memoryIndex, err := d.findMemoryIndex(requirements.MemoryTypeBits, properties)
	if err != nil {
		vk.DestroyBuffer(d.device, handle, nil)
		return nil, err
	}

	allocateInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  requirements.Size,
		MemoryTypeIndex: memoryIndex,
	}
	var deviceMemory vk.DeviceMemory
	if err := ok(vk.AllocateMemory(d.device, &allocateInfo, nil, &deviceMemory), "allocating buffer memory"); err != nil {
		vk.DestroyBuffer(d.device, handle, nil)
		return nil, err
	}
	if err := ok(vk.BindBufferMemory(d.device, handle, deviceMemory, 0), "binding buffer memory"); err != nil {
		vk.FreeMemory(d.device, deviceMemory, nil)
		vk.DestroyBuffer(d.device, handle, nil)
		return nil, err
	}

	return &buffer{
		handle:      handle,
		memory:      deviceMemory,
		size:        vk.DeviceSize(size),
		hostVisible: hostVisible,
	}, nil
}

func (d *Device) DestroyBuffer(b gpu.Buffer) {
	buf := b.(*buffer)
	vk.DestroyBuffer(d.device, buf.handle, nil)
	vk.FreeMemory(d.device, buf.memory, nil)
	buf.handle = vk.NullBuffer
	buf.memory = vk.NullDeviceMemory
}

func (d *Device) WriteBuffer(b gpu.Buffer, data []byte) error {
	buf := b.(*buffer)
	if !buf.hostVisible {
		return errors.Wrap(gpu.ErrImmutableBuffer, "write to device-local buffer")
	}
	if len(data) > int(buf.size) {
		return errors.Wrapf(gpu.ErrInvalidArgument, "write of %d bytes into %d byte buffer", len(data), buf.size)
	}

	var mapped unsafe.Pointer
	if err := ok(vk.MapMemory(d.device, buf.memory, 0, vk.DeviceSize(len(data)), 0, &mapped), "mapping buffer"); err != nil {
		return err
	}
	vk.Memcopy(mapped, data)
	vk.UnmapMemory(d.device, buf.memory)
	return nil
}

func (d *Device) ReadBuffer(b gpu.Buffer, out []byte) error {
	buf := b.(*buffer)
	if !buf.hostVisible {
		return errors.Wrap(gpu.ErrImmutableBuffer, "read from device-local buffer")
	}
	if len(out) > int(buf.size) {
		return errors.Wrapf(gpu.ErrInvalidArgument, "read of %d bytes from %d byte buffer", len(out), buf.size)
	}

	var mapped unsafe.Pointer
	if err := ok(vk.MapMemory(d.device, buf.memory, 0, vk.DeviceSize(len(out)), 0, &mapped), "mapping buffer"); err != nil {
		return err
	}
	copy(out, unsafe.Slice((*byte)(mapped), len(out)))
	vk.UnmapMemory(d.device, buf.memory)
	return nil
}

// CopyBuffer records a one-shot transfer on the graphics queue and blocks
// until it retires.
func (d *Device) CopyBuffer(src, dst gpu.Buffer, size int) error {
	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        d.commandPool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	commandBuffers := make([]vk.CommandBuffer, 1)
	if err := ok(vk.AllocateCommandBuffers(d.device, &allocateInfo, commandBuffers), "allocating transfer command buffer"); err != nil {
		return err
	}
	defer vk.FreeCommandBuffers(d.device, d.commandPool, 1, commandBuffers)

	cb := commandBuffers[0]
	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if err := ok(vk.BeginCommandBuffer(cb, &beginInfo), "beginning transfer"); err != nil {
		return err
	}
	region := vk.BufferCopy{Size: vk.DeviceSize(size)}
	vk.CmdCopyBuffer(cb, src.(*buffer).handle, dst.(*buffer).handle, 1, []vk.BufferCopy{region})
	if err := ok(vk.EndCommandBuffer(cb), "ending transfer"); err != nil {
		return err
	}

	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    commandBuffers,
	}
	if err := ok(vk.QueueSubmit(d.graphicsQueue, 1, []vk.SubmitInfo{submitInfo}, vk.NullFence), "submitting transfer"); err != nil {
		return err
	}
	return ok(vk.QueueWaitIdle(d.graphicsQueue), "waiting for transfer")
}

func (d *Device) findMemoryIndex(typeFilter uint32, properties vk.MemoryPropertyFlags) (uint32, error) {
	var memoryProperties vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(d.physicalDevice, &memoryProperties)
	memoryProperties.Deref()

	for i := uint32(0); i < memoryProperties.MemoryTypeCount; i++ {
		memoryProperties.MemoryTypes[i].Deref()
		if typeFilter&(1<<i) != 0 && memoryProperties.MemoryTypes[i].PropertyFlags&properties == properties {
			return i, nil
		}
	}
	return 0, errors.Wrap(gpu.ErrDevice, "no suitable memory type")
}

func bufferUsageFlags(usage gpu.BufferUsage) vk.BufferUsageFlags {
	var flags vk.BufferUsageFlags
	if usage&gpu.BufferUsageVertex != 0 {
		flags |= vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit)
	}
	if usage&gpu.BufferUsageIndex != 0 {
		flags |= vk.BufferUsageFlags(vk.BufferUsageIndexBufferBit)
	}
	if usage&gpu.BufferUsageUniform != 0 {
		flags |= vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit)
	}
	if usage&gpu.BufferUsageTransferSrc != 0 {
		flags |= vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit)
	}
	if usage&gpu.BufferUsageTransferDst != 0 {
		flags |= vk.BufferUsageFlags(vk.BufferUsageTransferDstBit)
	}
	return flags
}
