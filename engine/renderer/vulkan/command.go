package vulkan

import (
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/emberengine/ember/engine/renderer/gpu"
)

func (d *Device) AllocateCommandBuffers(count int) ([]gpu.CommandBuffer, error) {
	info := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        d.commandPool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: uint32(count),
	}
	buffers := make([]vk.CommandBuffer, count)
	if err := ok(vk.AllocateCommandBuffers(d.device, &info, buffers), "allocating command buffers"); err != nil {
		return nil, err
	}
	out := make([]gpu.CommandBuffer, count)
	for i := range buffers {
		out[i] = buffers[i]
	}
	return out, nil
}

func (d *Device) FreeCommandBuffers(buffers []gpu.CommandBuffer) {
	raw := make([]vk.CommandBuffer, len(buffers))
	for i := range buffers {
		raw[i] = buffers[i].(vk.CommandBuffer)
	}
	vk.FreeCommandBuffers(d.device, d.commandPool, uint32(len(raw)), raw)
}

func (d *Device) ResetCommandBuffer(cb gpu.CommandBuffer) error {
	return ok(vk.ResetCommandBuffer(cb.(vk.CommandBuffer), 0), "resetting command buffer")
}

func (d *Device) BeginCommandBuffer(cb gpu.CommandBuffer) error {
	info := vk.CommandBufferBeginInfo{SType: vk.StructureTypeCommandBufferBeginInfo}
	return ok(vk.BeginCommandBuffer(cb.(vk.CommandBuffer), &info), "beginning command buffer")
}

func (d *Device) EndCommandBuffer(cb gpu.CommandBuffer) error {
	return ok(vk.EndCommandBuffer(cb.(vk.CommandBuffer)), "ending command buffer")
}

func (d *Device) CmdBeginRenderPass(cb gpu.CommandBuffer, pass gpu.RenderPass, framebuffer gpu.Framebuffer, extent gpu.Extent2D, clear gpu.ClearValues) {
	var clearValues [2]vk.ClearValue
	clearValues[0].SetColor(clear.Color[:])
	clearValues[1].SetDepthStencil(clear.Depth, clear.Stencil)

	info := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  pass.(vk.RenderPass),
		Framebuffer: framebuffer.(vk.Framebuffer),
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{},
			Extent: vk.Extent2D{Width: extent.Width, Height: extent.Height},
		},
		ClearValueCount: uint32(len(clearValues)),
		PClearValues:    clearValues[:],
	}
	vk.CmdBeginRenderPass(cb.(vk.CommandBuffer), &info, vk.SubpassContentsInline)
}

func (d *Device) CmdEndRenderPass(cb gpu.CommandBuffer) {
	vk.CmdEndRenderPass(cb.(vk.CommandBuffer))
}

func (d *Device) CmdBindPipeline(cb gpu.CommandBuffer, p gpu.Pipeline) {
	vk.CmdBindPipeline(cb.(vk.CommandBuffer), vk.PipelineBindPointGraphics, p.(*pipeline).handle)
}

func (d *Device) CmdBindDescriptorSet(cb gpu.CommandBuffer, p gpu.Pipeline, set gpu.DescriptorSet) {
	vk.CmdBindDescriptorSets(
		cb.(vk.CommandBuffer),
		vk.PipelineBindPointGraphics,
		p.(*pipeline).layout,
		0, 1,
		[]vk.DescriptorSet{set.(vk.DescriptorSet)},
		0, nil)
}

func (d *Device) CmdBindVertexBuffer(cb gpu.CommandBuffer, vertices gpu.Buffer) {
	vk.CmdBindVertexBuffers(
		cb.(vk.CommandBuffer),
		0, 1,
		[]vk.Buffer{vertices.(*buffer).handle},
		[]vk.DeviceSize{0})
}

func (d *Device) CmdBindIndexBuffer(cb gpu.CommandBuffer, indices gpu.Buffer) {
	vk.CmdBindIndexBuffer(cb.(vk.CommandBuffer), indices.(*buffer).handle, 0, vk.IndexTypeUint16)
}

func (d *Device) CmdPushConstants(cb gpu.CommandBuffer, p gpu.Pipeline, data []byte) {
	vk.CmdPushConstants(
		cb.(vk.CommandBuffer),
		p.(*pipeline).layout,
		vk.ShaderStageFlags(vk.ShaderStageVertexBit),
		0, uint32(len(data)),
		unsafe.Pointer(&data[0]))
}

func (d *Device) CmdDrawIndexed(cb gpu.CommandBuffer, indexCount uint32) {
	vk.CmdDrawIndexed(cb.(vk.CommandBuffer), indexCount, 1, 0, 0, 0)
}

// Submit queues one frame's command buffer: it waits on imageAvailable at
// color-attachment output, signals renderFinished for presentation and fence
// for CPU-side reuse of the slot.
func (d *Device) Submit(cb gpu.CommandBuffer, imageAvailable gpu.Semaphore, renderFinished gpu.Semaphore, fence gpu.Fence) error {
	info := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{imageAvailable.(vk.Semaphore)},
		PWaitDstStageMask: []vk.PipelineStageFlags{
			vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		},
		CommandBufferCount:   1,
		PCommandBuffers:      []vk.CommandBuffer{cb.(vk.CommandBuffer)},
		SignalSemaphoreCount: 1,
		PSignalSemaphores:    []vk.Semaphore{renderFinished.(vk.Semaphore)},
	}
	return ok(vk.QueueSubmit(d.graphicsQueue, 1, []vk.SubmitInfo{info}, fence.(vk.Fence)), "submitting command buffer")
}
