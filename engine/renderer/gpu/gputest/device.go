/*
Package gputest provides an in-memory gpu.Device for unit tests: resources
are plain structs, submissions retire instantly, and every recorded command
is kept for inspection. Stale acquires and presents can be armed to exercise
the swapchain invalidation paths without a real surface.
*/
package gputest

import (
	"github.com/cockroachdb/errors"

	"github.com/emberengine/ember/engine/renderer/gpu"
)

// Submission is the record of one submitted command buffer.
type Submission struct {
	PipelineBinds   []gpu.Pipeline
	DescriptorBinds int
	VertexBinds     []gpu.Buffer
	IndexBinds      []gpu.Buffer
	PushConstants   [][]byte
	Draws           []uint32
	Clear           gpu.ClearValues
}

type fakeFence struct {
	signaled bool
	freed    bool
}

type fakeSemaphore struct{ freed bool }

type fakeBuffer struct {
	data        []byte
	hostVisible bool
	usage       gpu.BufferUsage
	freed       bool
}

type fakeImage struct{ index int }

type fakeImageView struct {
	freed bool
}

type fakeDepthTarget struct{ freed bool }

type fakeShaderModule struct {
	code  []byte
	freed bool
}

type fakePipeline struct {
	config gpu.PipelineConfig
	freed  bool
}

type fakeRenderPass struct{ freed bool }

type fakeFramebuffer struct{ freed bool }

type fakeSwapchain struct {
	imageCount int
	acquireAt  uint32
	freed      bool
}

type fakeCommandBuffer struct {
	recording *Submission
	freed     bool
}

type fakeDescriptorLayout struct{ freed bool }

type fakeDescriptorSet struct {
	uniform gpu.Buffer
}

// Device implements gpu.Device entirely on the host.
type Device struct {
	Caps       gpu.SurfaceCaps
	ImageCount int

	// Armed failure and staleness injection. FailCreateBufferAt narrows
	// FailCreateBuffer to the Nth CreateBuffer call, counting from 1; zero
	// fails every call.
	StaleAcquires      int
	StalePresents      int
	FailCreatePipeline error
	FailCreateBuffer   error
	FailCreateBufferAt int

	// Observability for assertions.
	LiveFences        int
	LiveSemaphores    int
	LiveBuffers       int
	LiveImageViews    int
	LiveDepthTargets  int
	LiveShaderModules int
	LivePipelines     int
	LiveRenderPasses  int
	LiveFramebuffers  int
	LiveSwapchains    int
	SwapchainBuilds   int
	WaitIdleCalls     int
	BufferCreates     int
	FenceWaits        int
	FenceWaitLog      []gpu.Fence
	Submissions       []Submission
	Presented         []uint32
}

var _ gpu.Device = (*Device)(nil)

func New() *Device {
	return &Device{
		Caps: gpu.SurfaceCaps{
			CurrentExtent: gpu.Extent2D{Width: 800, Height: 600},
			MinImageCount: 2,
			MaxImageCount: 0,
		},
		ImageCount: 3,
	}
}

// LastSubmission returns the most recently submitted frame's record.
func (d *Device) LastSubmission() Submission {
	if len(d.Submissions) == 0 {
		return Submission{}
	}
	return d.Submissions[len(d.Submissions)-1]
}

func (d *Device) CreateFence(signaled bool) (gpu.Fence, error) {
	d.LiveFences++
	return &fakeFence{signaled: signaled}, nil
}

func (d *Device) DestroyFence(fence gpu.Fence) {
	f := fence.(*fakeFence)
	if f.freed {
		panic("gputest: fence destroyed twice")
	}
	f.freed = true
	d.LiveFences--
}

func (d *Device) WaitForFence(fence gpu.Fence) error {
	f := fence.(*fakeFence)
	if f.freed {
		panic("gputest: wait on destroyed fence")
	}
	d.FenceWaits++
	d.FenceWaitLog = append(d.FenceWaitLog, fence)
	// Work retires instantly, an unsignaled fence can only mean a pending
	// submission that already completed.
	f.signaled = true
	return nil
}

func (d *Device) ResetFence(fence gpu.Fence) error {
	fence.(*fakeFence).signaled = false
	return nil
}

func (d *Device) CreateSemaphore() (gpu.Semaphore, error) {
	d.LiveSemaphores++
	return &fakeSemaphore{}, nil
}

func (d *Device) DestroySemaphore(semaphore gpu.Semaphore) {
	s := semaphore.(*fakeSemaphore)
	if s.freed {
		panic("gputest: semaphore destroyed twice")
	}
	s.freed = true
	d.LiveSemaphores--
}

func (d *Device) WaitIdle() error {
	d.WaitIdleCalls++
	return nil
}

func (d *Device) CreateBuffer(size int, usage gpu.BufferUsage, memory gpu.MemoryMode) (gpu.Buffer, error) {
	d.BufferCreates++
	if d.FailCreateBuffer != nil && (d.FailCreateBufferAt == 0 || d.BufferCreates == d.FailCreateBufferAt) {
		return nil, d.FailCreateBuffer
	}
	if size <= 0 {
		return nil, errors.Wrapf(gpu.ErrInvalidArgument, "buffer size %d", size)
	}
	d.LiveBuffers++
	return &fakeBuffer{
		data:        make([]byte, size),
		hostVisible: memory == gpu.MemoryHostVisible,
		usage:       usage,
	}, nil
}

func (d *Device) DestroyBuffer(buffer gpu.Buffer) {
	b := buffer.(*fakeBuffer)
	if b.freed {
		panic("gputest: buffer destroyed twice")
	}
	b.freed = true
	d.LiveBuffers--
}

func (d *Device) WriteBuffer(buffer gpu.Buffer, data []byte) error {
	b := buffer.(*fakeBuffer)
	if b.freed {
		panic("gputest: write to destroyed buffer")
	}
	if !b.hostVisible {
		return errors.Wrap(gpu.ErrImmutableBuffer, "write")
	}
	if len(data) > len(b.data) {
		return errors.Wrapf(gpu.ErrInvalidArgument, "write of %d bytes into %d byte buffer", len(data), len(b.data))
	}
	copy(b.data, data)
	return nil
}

func (d *Device) ReadBuffer(buffer gpu.Buffer, out []byte) error {
	b := buffer.(*fakeBuffer)
	if b.freed {
		panic("gputest: read from destroyed buffer")
	}
	if !b.hostVisible {
		return errors.Wrap(gpu.ErrImmutableBuffer, "read")
	}
	copy(out, b.data)
	return nil
}

func (d *Device) CopyBuffer(src, dst gpu.Buffer, size int) error {
	s := src.(*fakeBuffer)
	t := dst.(*fakeBuffer)
	if s.freed || t.freed {
		panic("gputest: copy with destroyed buffer")
	}
	copy(t.data, s.data[:size])
	return nil
}

func (d *Device) CreateShaderModule(code []byte) (gpu.ShaderModule, error) {
	if len(code) == 0 {
		return nil, errors.Wrap(gpu.ErrInvalidArgument, "empty shader module")
	}
	d.LiveShaderModules++
	return &fakeShaderModule{code: code}, nil
}

func (d *Device) DestroyShaderModule(module gpu.ShaderModule) {
	m := module.(*fakeShaderModule)
	if m.freed {
		panic("gputest: shader module destroyed twice")
	}
	m.freed = true
	d.LiveShaderModules--
}

func (d *Device) CreateDescriptorSetLayout() (gpu.DescriptorSetLayout, error) {
	return &fakeDescriptorLayout{}, nil
}

func (d *Device) DestroyDescriptorSetLayout(layout gpu.DescriptorSetLayout) {
	l := layout.(*fakeDescriptorLayout)
	if l.freed {
		panic("gputest: descriptor set layout destroyed twice")
	}
	l.freed = true
}

func (d *Device) AllocateDescriptorSets(layout gpu.DescriptorSetLayout, count int) ([]gpu.DescriptorSet, error) {
	sets := make([]gpu.DescriptorSet, count)
	for i := range sets {
		sets[i] = &fakeDescriptorSet{}
	}
	return sets, nil
}

func (d *Device) BindUniformBuffer(set gpu.DescriptorSet, buffer gpu.Buffer, size int) {
	set.(*fakeDescriptorSet).uniform = buffer
}

func (d *Device) CreatePipeline(config gpu.PipelineConfig) (gpu.Pipeline, error) {
	if d.FailCreatePipeline != nil {
		return nil, d.FailCreatePipeline
	}
	d.LivePipelines++
	return &fakePipeline{config: config}, nil
}

func (d *Device) DestroyPipeline(pipeline gpu.Pipeline) {
	p := pipeline.(*fakePipeline)
	if p.freed {
		panic("gputest: pipeline destroyed twice")
	}
	p.freed = true
	d.LivePipelines--
}

func (d *Device) SurfaceCapabilities() (gpu.SurfaceCaps, error) {
	return d.Caps, nil
}

func (d *Device) CreateSwapchain(config gpu.SwapchainConfig) (gpu.Swapchain, []gpu.Image, error) {
	count := d.ImageCount
	if config.MinImageCount > uint32(count) {
		count = int(config.MinImageCount)
	}
	d.LiveSwapchains++
	d.SwapchainBuilds++
	images := make([]gpu.Image, count)
	for i := range images {
		images[i] = &fakeImage{index: i}
	}
	return &fakeSwapchain{imageCount: count}, images, nil
}

func (d *Device) DestroySwapchain(swapchain gpu.Swapchain) {
	s := swapchain.(*fakeSwapchain)
	if s.freed {
		panic("gputest: swapchain destroyed twice")
	}
	s.freed = true
	d.LiveSwapchains--
}

func (d *Device) CreateImageView(image gpu.Image) (gpu.ImageView, error) {
	d.LiveImageViews++
	return &fakeImageView{}, nil
}

func (d *Device) DestroyImageView(view gpu.ImageView) {
	v := view.(*fakeImageView)
	if v.freed {
		panic("gputest: image view destroyed twice")
	}
	v.freed = true
	d.LiveImageViews--
}

func (d *Device) CreateDepthTarget(extent gpu.Extent2D) (gpu.DepthTarget, error) {
	d.LiveDepthTargets++
	return &fakeDepthTarget{}, nil
}

func (d *Device) DestroyDepthTarget(target gpu.DepthTarget) {
	t := target.(*fakeDepthTarget)
	if t.freed {
		panic("gputest: depth target destroyed twice")
	}
	t.freed = true
	d.LiveDepthTargets--
}

func (d *Device) CreateRenderPass() (gpu.RenderPass, error) {
	d.LiveRenderPasses++
	return &fakeRenderPass{}, nil
}

func (d *Device) DestroyRenderPass(pass gpu.RenderPass) {
	p := pass.(*fakeRenderPass)
	if p.freed {
		panic("gputest: render pass destroyed twice")
	}
	p.freed = true
	d.LiveRenderPasses--
}

func (d *Device) CreateFramebuffer(pass gpu.RenderPass, color gpu.ImageView, depth gpu.DepthTarget, extent gpu.Extent2D) (gpu.Framebuffer, error) {
	d.LiveFramebuffers++
	return &fakeFramebuffer{}, nil
}

func (d *Device) DestroyFramebuffer(framebuffer gpu.Framebuffer) {
	f := framebuffer.(*fakeFramebuffer)
	if f.freed {
		panic("gputest: framebuffer destroyed twice")
	}
	f.freed = true
	d.LiveFramebuffers--
}

func (d *Device) AcquireNextImage(swapchain gpu.Swapchain, imageAvailable gpu.Semaphore) (uint32, bool, error) {
	if d.StaleAcquires > 0 {
		d.StaleAcquires--
		return 0, true, nil
	}
	s := swapchain.(*fakeSwapchain)
	index := s.acquireAt
	s.acquireAt = (s.acquireAt + 1) % uint32(s.imageCount)
	return index, false, nil
}

func (d *Device) Present(swapchain gpu.Swapchain, imageIndex uint32, renderFinished gpu.Semaphore) (bool, error) {
	if d.StalePresents > 0 {
		d.StalePresents--
		return true, nil
	}
	d.Presented = append(d.Presented, imageIndex)
	return false, nil
}

func (d *Device) AllocateCommandBuffers(count int) ([]gpu.CommandBuffer, error) {
	buffers := make([]gpu.CommandBuffer, count)
	for i := range buffers {
		buffers[i] = &fakeCommandBuffer{}
	}
	return buffers, nil
}

func (d *Device) FreeCommandBuffers(buffers []gpu.CommandBuffer) {
	for _, cb := range buffers {
		cb.(*fakeCommandBuffer).freed = true
	}
}

func (d *Device) ResetCommandBuffer(buffer gpu.CommandBuffer) error {
	buffer.(*fakeCommandBuffer).recording = nil
	return nil
}

func (d *Device) BeginCommandBuffer(buffer gpu.CommandBuffer) error {
	buffer.(*fakeCommandBuffer).recording = &Submission{}
	return nil
}

func (d *Device) EndCommandBuffer(buffer gpu.CommandBuffer) error {
	return nil
}

func (d *Device) recordingOf(buffer gpu.CommandBuffer) *Submission {
	cb := buffer.(*fakeCommandBuffer)
	if cb.recording == nil {
		panic("gputest: command recorded outside begin/end")
	}
	return cb.recording
}

func (d *Device) CmdBeginRenderPass(buffer gpu.CommandBuffer, pass gpu.RenderPass, framebuffer gpu.Framebuffer, extent gpu.Extent2D, clear gpu.ClearValues) {
	d.recordingOf(buffer).Clear = clear
}

func (d *Device) CmdEndRenderPass(buffer gpu.CommandBuffer) {}

func (d *Device) CmdBindPipeline(buffer gpu.CommandBuffer, pipeline gpu.Pipeline) {
	rec := d.recordingOf(buffer)
	rec.PipelineBinds = append(rec.PipelineBinds, pipeline)
}

func (d *Device) CmdBindDescriptorSet(buffer gpu.CommandBuffer, pipeline gpu.Pipeline, set gpu.DescriptorSet) {
	d.recordingOf(buffer).DescriptorBinds++
}

func (d *Device) CmdBindVertexBuffer(buffer gpu.CommandBuffer, vertices gpu.Buffer) {
	rec := d.recordingOf(buffer)
	rec.VertexBinds = append(rec.VertexBinds, vertices)
}

func (d *Device) CmdBindIndexBuffer(buffer gpu.CommandBuffer, indices gpu.Buffer) {
	rec := d.recordingOf(buffer)
	rec.IndexBinds = append(rec.IndexBinds, indices)
}

func (d *Device) CmdPushConstants(buffer gpu.CommandBuffer, pipeline gpu.Pipeline, data []byte) {
	rec := d.recordingOf(buffer)
	rec.PushConstants = append(rec.PushConstants, append([]byte(nil), data...))
}

func (d *Device) CmdDrawIndexed(buffer gpu.CommandBuffer, indexCount uint32) {
	rec := d.recordingOf(buffer)
	rec.Draws = append(rec.Draws, indexCount)
}

func (d *Device) Submit(buffer gpu.CommandBuffer, imageAvailable gpu.Semaphore, renderFinished gpu.Semaphore, fence gpu.Fence) error {
	rec := d.recordingOf(buffer)
	d.Submissions = append(d.Submissions, *rec)
	// The fake GPU retires work as soon as it is submitted.
	if fence != nil {
		fence.(*fakeFence).signaled = true
	}
	return nil
}
