/*
Package swapchain manages one generation of presentable surface state: the
swapchain itself, a view and framebuffer per image, the shared depth target
and render pass, and the graphics pipelines compiled against this
generation's extent. When the surface goes stale the whole generation is
torn down and a new one is built from the surface's current capabilities.
*/
package swapchain

import (
	"runtime"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/emberengine/ember/engine/core"
	"github.com/emberengine/ember/engine/renderer/gpu"
	"github.com/emberengine/ember/engine/renderer/material"
)

// PresentableImage is one image of the swapchain together with its
// attachments and the fence of the frame that last rendered into it. The
// fence is nil until the image has been written at least once.
type PresentableImage struct {
	view        gpu.ImageView
	framebuffer gpu.Framebuffer
	lastWriter  gpu.Fence
}

func (p *PresentableImage) Framebuffer() gpu.Framebuffer {
	return p.framebuffer
}

// Swapchain is a single generation. It owns everything it references except
// the materials' shader modules and the hazard fences, which belong to the
// frame synchronizer.
type Swapchain struct {
	tag        string
	handle     gpu.Swapchain
	renderPass gpu.RenderPass
	extent     gpu.Extent2D
	depth      gpu.DepthTarget
	images     []*PresentableImage
	pipelines  map[material.ID]gpu.Pipeline
	freed      bool
}

// Build creates a full generation from the surface's current capabilities,
// compiling one pipeline per registered material. On any failure everything
// created so far is released and the error is returned.
func Build(device gpu.Device, layout gpu.DescriptorSetLayout, materials map[material.ID]*material.Material) (*Swapchain, error) {
	caps, err := device.SurfaceCapabilities()
	if err != nil {
		return nil, errors.Wrap(err, "querying surface capabilities")
	}

	imageCount := caps.MinImageCount + 1
	if caps.MaxImageCount != 0 && imageCount > caps.MaxImageCount {
		imageCount = caps.MaxImageCount
	}

	s := &Swapchain{
		tag:       uuid.NewString(),
		extent:    caps.CurrentExtent,
		pipelines: map[material.ID]gpu.Pipeline{},
	}

	s.depth, err = device.CreateDepthTarget(s.extent)
	if err != nil {
		return nil, errors.Wrap(err, "creating depth target")
	}
	s.renderPass, err = device.CreateRenderPass()
	if err != nil {
		s.release(device)
		return nil, errors.Wrap(err, "creating render pass")
	}

	handle, images, err := device.CreateSwapchain(gpu.SwapchainConfig{
		Extent:        s.extent,
		MinImageCount: imageCount,
	})
	if err != nil {
		s.release(device)
		return nil, errors.Wrap(err, "creating swapchain")
	}
	s.handle = handle

	for _, image := range images {
		view, err := device.CreateImageView(image)
		if err != nil {
			s.release(device)
			return nil, errors.Wrap(err, "creating image view")
		}
		framebuffer, err := device.CreateFramebuffer(s.renderPass, view, s.depth, s.extent)
		if err != nil {
			device.DestroyImageView(view)
			s.release(device)
			return nil, errors.Wrap(err, "creating framebuffer")
		}
		s.images = append(s.images, &PresentableImage{view: view, framebuffer: framebuffer})
	}

	ids := maps.Keys(materials)
	slices.Sort(ids)
	for _, id := range ids {
		pipeline, err := materials[id].BuildPipeline(device, s.renderPass, layout, s.extent)
		if err != nil {
			s.release(device)
			return nil, errors.Wrapf(err, "compiling pipeline for material %d", id)
		}
		s.pipelines[id] = pipeline
	}

	runtime.SetFinalizer(s, func(s *Swapchain) {
		if !s.freed {
			panic("swapchain: Swapchain became unreachable without Teardown")
		}
	})

	core.LogDebug("built swapchain %s: %dx%d, %d images, %d pipelines",
		s.tag, s.extent.Width, s.extent.Height, len(s.images), len(s.pipelines))
	return s, nil
}

func (s *Swapchain) Extent() gpu.Extent2D {
	return s.extent
}

func (s *Swapchain) RenderPass() gpu.RenderPass {
	return s.renderPass
}

func (s *Swapchain) ImageCount() int {
	return len(s.images)
}

func (s *Swapchain) PipelineCount() int {
	return len(s.pipelines)
}

// Pipeline returns the compiled pipeline for a material in this generation.
func (s *Swapchain) Pipeline(id material.ID) (gpu.Pipeline, bool) {
	s.mustLive("Pipeline")
	pipeline, ok := s.pipelines[id]
	return pipeline, ok
}

// AddPipeline compiles a pipeline for the material against this generation,
// replacing any existing one for the same ID.
func (s *Swapchain) AddPipeline(device gpu.Device, id material.ID, mat *material.Material, layout gpu.DescriptorSetLayout) error {
	s.mustLive("AddPipeline")
	pipeline, err := mat.BuildPipeline(device, s.renderPass, layout, s.extent)
	if err != nil {
		return errors.Wrapf(err, "compiling pipeline for material %d", id)
	}
	if old, ok := s.pipelines[id]; ok {
		device.DestroyPipeline(old)
	}
	s.pipelines[id] = pipeline
	return nil
}

// RemovePipeline drops the material's pipeline from this generation. Removing
// an unknown ID is a no-op.
func (s *Swapchain) RemovePipeline(device gpu.Device, id material.ID) {
	s.mustLive("RemovePipeline")
	if pipeline, ok := s.pipelines[id]; ok {
		device.DestroyPipeline(pipeline)
		delete(s.pipelines, id)
	}
}

// AcquireImage requests the next presentable image. The boolean is true when
// the surface is out of date and the generation must be rebuilt.
//
// Before handing the image out, AcquireImage waits for the fence of the frame
// that last wrote to it, so the caller may overwrite its contents freely, and
// records completionFence as the image's new last writer.
func (s *Swapchain) AcquireImage(device gpu.Device, imageAvailable gpu.Semaphore, completionFence gpu.Fence) (uint32, *PresentableImage, bool, error) {
	s.mustLive("AcquireImage")

	index, stale, err := device.AcquireNextImage(s.handle, imageAvailable)
	if err != nil {
		return 0, nil, false, errors.Wrap(err, "acquiring swapchain image")
	}
	if stale {
		return 0, nil, true, nil
	}
	if int(index) >= len(s.images) {
		return 0, nil, false, errors.Wrapf(gpu.ErrDevice, "acquired image %d of %d", index, len(s.images))
	}

	image := s.images[index]
	if image.lastWriter != nil {
		if err := device.WaitForFence(image.lastWriter); err != nil {
			return 0, nil, false, errors.Wrapf(err, "waiting for image %d writer", index)
		}
	}
	image.lastWriter = completionFence
	return index, image, false, nil
}

// Present queues the image for presentation. The boolean is true when the
// surface went stale during presentation.
func (s *Swapchain) Present(device gpu.Device, index uint32, renderFinished gpu.Semaphore) (bool, error) {
	s.mustLive("Present")
	stale, err := device.Present(s.handle, index, renderFinished)
	if err != nil {
		return false, errors.Wrapf(err, "presenting image %d", index)
	}
	return stale, nil
}

func (s *Swapchain) mustLive(op string) {
	if s.freed {
		panic("swapchain: " + op + " on torn-down Swapchain")
	}
}

// Teardown waits for the device to go idle, then releases every resource of
// this generation. Exactly one call per generation.
func (s *Swapchain) Teardown(device gpu.Device) {
	if s.freed {
		panic("swapchain: double teardown of Swapchain")
	}
	if err := device.WaitIdle(); err != nil {
		core.LogError("wait-idle before swapchain teardown: %v", err)
	}
	s.release(device)
	s.freed = true
	runtime.SetFinalizer(s, nil)
	core.LogDebug("tore down swapchain %s", s.tag)
}

// release destroys whatever has been created so far, in reverse creation
// order. Used both by Teardown and by Build's failure paths.
func (s *Swapchain) release(device gpu.Device) {
	ids := maps.Keys(s.pipelines)
	slices.Sort(ids)
	for _, id := range ids {
		device.DestroyPipeline(s.pipelines[id])
	}
	s.pipelines = map[material.ID]gpu.Pipeline{}

	for _, image := range s.images {
		device.DestroyFramebuffer(image.framebuffer)
		device.DestroyImageView(image.view)
	}
	s.images = nil

	if s.handle != nil {
		device.DestroySwapchain(s.handle)
		s.handle = nil
	}
	if s.renderPass != nil {
		device.DestroyRenderPass(s.renderPass)
		s.renderPass = nil
	}
	if s.depth != nil {
		device.DestroyDepthTarget(s.depth)
		s.depth = nil
	}
}
