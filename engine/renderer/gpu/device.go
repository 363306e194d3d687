/*
Package gpu is the boundary between the engine core and the graphics API.

Device is the explicit capability object every core component receives:
device/instance bootstrap, the graphics queue, the command pool and the
surface all live behind it. The production implementation is
engine/renderer/vulkan; gputest carries an in-memory fake used by the core's
tests.
*/
package gpu

// Device exposes the primitive operations the frame synchronizer, the
// swapchain manager, the buffer allocator and the frame orchestrator are
// built on. All calls are driven from a single CPU thread.
type Device interface {
	// Synchronization primitives.
	CreateFence(signaled bool) (Fence, error)
	DestroyFence(fence Fence)
	// WaitForFence blocks until the fence is signaled by the GPU.
	WaitForFence(fence Fence) error
	// ResetFence returns a signaled fence to the unsignaled state. Fences
	// are edge-triggered and must be reset before every submission that
	// signals them.
	ResetFence(fence Fence) error
	CreateSemaphore() (Semaphore, error)
	DestroySemaphore(semaphore Semaphore)
	// WaitIdle blocks until every submitted command buffer has retired.
	WaitIdle() error

	// Buffers and memory.
	CreateBuffer(size int, usage BufferUsage, memory MemoryMode) (Buffer, error)
	DestroyBuffer(buffer Buffer)
	// WriteBuffer maps a host-visible buffer, copies data in full and
	// unmaps. The buffer must have been created MemoryHostVisible.
	WriteBuffer(buffer Buffer, data []byte) error
	// ReadBuffer maps a host-visible buffer and copies its first len(out)
	// bytes back out.
	ReadBuffer(buffer Buffer, out []byte) error
	// CopyBuffer records and submits a one-shot transfer from src to dst
	// and blocks until the queue is idle.
	CopyBuffer(src, dst Buffer, size int) error

	// Shaders, descriptors, pipelines.
	CreateShaderModule(code []byte) (ShaderModule, error)
	DestroyShaderModule(module ShaderModule)
	CreateDescriptorSetLayout() (DescriptorSetLayout, error)
	DestroyDescriptorSetLayout(layout DescriptorSetLayout)
	AllocateDescriptorSets(layout DescriptorSetLayout, count int) ([]DescriptorSet, error)
	// BindUniformBuffer points a descriptor set's single uniform binding at
	// the given buffer.
	BindUniformBuffer(set DescriptorSet, buffer Buffer, size int)
	CreatePipeline(config PipelineConfig) (Pipeline, error)
	DestroyPipeline(pipeline Pipeline)

	// Surface and swapchain.
	SurfaceCapabilities() (SurfaceCaps, error)
	CreateSwapchain(config SwapchainConfig) (Swapchain, []Image, error)
	DestroySwapchain(swapchain Swapchain)
	CreateImageView(image Image) (ImageView, error)
	DestroyImageView(view ImageView)
	CreateDepthTarget(extent Extent2D) (DepthTarget, error)
	DestroyDepthTarget(target DepthTarget)
	CreateRenderPass() (RenderPass, error)
	DestroyRenderPass(pass RenderPass)
	CreateFramebuffer(pass RenderPass, color ImageView, depth DepthTarget, extent Extent2D) (Framebuffer, error)
	DestroyFramebuffer(framebuffer Framebuffer)
	// AcquireNextImage requests the next presentable image index, to be
	// signaled on imageAvailable. The second return is true when the
	// surface is out of date; that is a recoverable condition, not an
	// error.
	AcquireNextImage(swapchain Swapchain, imageAvailable Semaphore) (uint32, bool, error)
	// Present queues the image for presentation once renderFinished
	// signals. The first return is true when the surface is out of date.
	Present(swapchain Swapchain, imageIndex uint32, renderFinished Semaphore) (bool, error)

	// Command recording and submission.
	AllocateCommandBuffers(count int) ([]CommandBuffer, error)
	FreeCommandBuffers(buffers []CommandBuffer)
	ResetCommandBuffer(buffer CommandBuffer) error
	BeginCommandBuffer(buffer CommandBuffer) error
	EndCommandBuffer(buffer CommandBuffer) error
	CmdBeginRenderPass(buffer CommandBuffer, pass RenderPass, framebuffer Framebuffer, extent Extent2D, clear ClearValues)
	CmdEndRenderPass(buffer CommandBuffer)
	CmdBindPipeline(buffer CommandBuffer, pipeline Pipeline)
	CmdBindDescriptorSet(buffer CommandBuffer, pipeline Pipeline, set DescriptorSet)
	CmdBindVertexBuffer(buffer CommandBuffer, vertices Buffer)
	CmdBindIndexBuffer(buffer CommandBuffer, indices Buffer)
	CmdPushConstants(buffer CommandBuffer, pipeline Pipeline, data []byte)
	CmdDrawIndexed(buffer CommandBuffer, indexCount uint32)
	// Submit queues the command buffer: it waits on imageAvailable at the
	// color-attachment-output stage, signals renderFinished when rendering
	// completes, and signals fence when the whole submission retires.
	Submit(buffer CommandBuffer, imageAvailable Semaphore, renderFinished Semaphore, fence Fence) error
}
