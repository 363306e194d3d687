package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/emberengine/ember/engine/renderer/gpu"
)

// depthTarget bundles the depth image with its allocation and view; the
// three always live and die together.
type depthTarget struct {
	image  vk.Image
	memory vk.DeviceMemory
	view   vk.ImageView
}

func (d *Device) SurfaceCapabilities() (gpu.SurfaceCaps, error) {
	var caps vk.SurfaceCapabilities
	if err := ok(vk.GetPhysicalDeviceSurfaceCapabilities(d.physicalDevice, d.surface, &caps), "querying surface capabilities"); err != nil {
		return gpu.SurfaceCaps{}, err
	}
	caps.Deref()
	caps.CurrentExtent.Deref()

	extent := gpu.Extent2D{
		Width:  caps.CurrentExtent.Width,
		Height: caps.CurrentExtent.Height,
	}
	// A special extent means the surface takes its size from the swapchain;
	// fall back to the framebuffer.
	if extent.Width == ^uint32(0) {
		extent = d.FramebufferExtent()
	}

	return gpu.SurfaceCaps{
		CurrentExtent: extent,
		MinImageCount: caps.MinImageCount,
		MaxImageCount: caps.MaxImageCount,
	}, nil
}

func (d *Device) CreateSwapchain(config gpu.SwapchainConfig) (gpu.Swapchain, []gpu.Image, error) {
	var caps vk.SurfaceCapabilities
	if err := ok(vk.GetPhysicalDeviceSurfaceCapabilities(d.physicalDevice, d.surface, &caps), "querying surface capabilities"); err != nil {
		return nil, nil, err
	}
	caps.Deref()

	info := vk.SwapchainCreateInfo{
		SType:           vk.StructureTypeSwapchainCreateInfo,
		Surface:         d.surface,
		MinImageCount:   config.MinImageCount,
		ImageFormat:     d.surfaceFormat.Format,
		ImageColorSpace: d.surfaceFormat.ColorSpace,
		ImageExtent: vk.Extent2D{
			Width:  config.Extent.Width,
			Height: config.Extent.Height,
		},
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
		PreTransform:     caps.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		// FIFO is the only mode every driver supports; it also caps the
		// frame rate at the display's refresh.
		PresentMode: vk.PresentModeFifo,
		Clipped:     vk.True,
	}
	if d.graphicsQueueIndex != d.presentQueueIndex {
		info.ImageSharingMode = vk.SharingModeConcurrent
		info.QueueFamilyIndexCount = 2
		info.PQueueFamilyIndices = []uint32{d.graphicsQueueIndex, d.presentQueueIndex}
	} else {
		info.ImageSharingMode = vk.SharingModeExclusive
	}

	var swapchain vk.Swapchain
	if err := ok(vk.CreateSwapchain(d.device, &info, nil, &swapchain), "creating swapchain"); err != nil {
		return nil, nil, err
	}

	var imageCount uint32
	if err := ok(vk.GetSwapchainImages(d.device, swapchain, &imageCount, nil), "counting swapchain images"); err != nil {
		vk.DestroySwapchain(d.device, swapchain, nil)
		return nil, nil, err
	}
	images := make([]vk.Image, imageCount)
	if err := ok(vk.GetSwapchainImages(d.device, swapchain, &imageCount, images), "getting swapchain images"); err != nil {
		vk.DestroySwapchain(d.device, swapchain, nil)
		return nil, nil, err
	}

	out := make([]gpu.Image, imageCount)
	for i := range images {
		out[i] = images[i]
	}
	return swapchain, out, nil
}

func (d *Device) DestroySwapchain(swapchain gpu.Swapchain) {
	vk.DestroySwapchain(d.device, swapchain.(vk.Swapchain), nil)
}

func (d *Device) CreateImageView(image gpu.Image) (gpu.ImageView, error) {
	info := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    image.(vk.Image),
		ViewType: vk.ImageViewType2d,
		Format:   d.surfaceFormat.Format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LevelCount: 1,
			LayerCount: 1,
		},
	}
	var view vk.ImageView
	if err := ok(vk.CreateImageView(d.device, &info, nil, &view), "creating image view"); err != nil {
		return nil, err
	}
	return view, nil
}

func (d *Device) DestroyImageView(view gpu.ImageView) {
	vk.DestroyImageView(d.device, view.(vk.ImageView), nil)
}

func (d *Device) CreateDepthTarget(extent gpu.Extent2D) (gpu.DepthTarget, error) {
	imageInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    d.depthFormat,
		Extent: vk.Extent3D{
			Width:  extent.Width,
			Height: extent.Height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}
	var image vk.Image
	if err := ok(vk.CreateImage(d.device, &imageInfo, nil, &image), "creating depth image"); err != nil {
		return nil, err
	}

	var requirements vk.MemoryRequirements
	vk.GetImageMemoryRequirements(d.device, image, &requirements)
	requirements.Deref()

	memoryIndex, err := d.findMemoryIndex(requirements.MemoryTypeBits, vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))
	if err != nil {
		vk.DestroyImage(d.device, image, nil)
		return nil, err
	}
	allocateInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  requirements.Size,
		MemoryTypeIndex: memoryIndex,
	}
	var memory vk.DeviceMemory
	if err := ok(vk.AllocateMemory(d.device, &allocateInfo, nil, &memory), "allocating depth memory"); err != nil {
		vk.DestroyImage(d.device, image, nil)
		return nil, err
	}
	if err := ok(vk.BindImageMemory(d.device, image, memory, 0), "binding depth memory"); err != nil {
		vk.FreeMemory(d.device, memory, nil)
		vk.DestroyImage(d.device, image, nil)
		return nil, err
	}

	viewInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    image,
		ViewType: vk.ImageViewType2d,
		Format:   d.depthFormat,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectDepthBit),
			LevelCount: 1,
			LayerCount: 1,
		},
	}
	var view vk.ImageView
	if err := ok(vk.CreateImageView(d.device, &viewInfo, nil, &view), "creating depth view"); err != nil {
		vk.FreeMemory(d.device, memory, nil)
		vk.DestroyImage(d.device, image, nil)
		return nil, err
	}

	return &depthTarget{image: image, memory: memory, view: view}, nil
}

func (d *Device) DestroyDepthTarget(target gpu.DepthTarget) {
	t := target.(*depthTarget)
	vk.DestroyImageView(d.device, t.view, nil)
	vk.FreeMemory(d.device, t.memory, nil)
	vk.DestroyImage(d.device, t.image, nil)
}

// CreateRenderPass builds the single forward pass: color cleared and stored
// for presentation, depth cleared and discarded.
func (d *Device) CreateRenderPass() (gpu.RenderPass, error) {
	attachments := []vk.AttachmentDescription{
		{
			Format:         d.surfaceFormat.Format,
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOpClear,
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutUndefined,
			FinalLayout:    vk.ImageLayoutPresentSrc,
		},
		{
			Format:         d.depthFormat,
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOpClear,
			StoreOp:        vk.AttachmentStoreOpDontCare,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutUndefined,
			FinalLayout:    vk.ImageLayoutDepthStencilAttachmentOptimal,
		},
	}

	colorRef := vk.AttachmentReference{
		Attachment: 0,
		Layout:     vk.ImageLayoutColorAttachmentOptimal,
	}
	depthRef := vk.AttachmentReference{
		Attachment: 1,
		Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
	}
	subpass := vk.SubpassDescription{
		PipelineBindPoint:       vk.PipelineBindPointGraphics,
		ColorAttachmentCount:    1,
		PColorAttachments:       []vk.AttachmentReference{colorRef},
		PDepthStencilAttachment: &depthRef,
	}

	dependency := vk.SubpassDependency{
		SrcSubpass: vk.SubpassExternal,
		DstSubpass: 0,
		SrcStageMask: vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit) |
			vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit),
		SrcAccessMask: 0,
		DstStageMask: vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit) |
			vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit),
		DstAccessMask: vk.AccessFlags(vk.AccessColorAttachmentWriteBit) |
			vk.AccessFlags(vk.AccessDepthStencilAttachmentWriteBit),
	}

	info := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies:   []vk.SubpassDependency{dependency},
	}
	var pass vk.RenderPass
	if err := ok(vk.CreateRenderPass(d.device, &info, nil, &pass), "creating render pass"); err != nil {
		return nil, err
	}
	return pass, nil
}

func (d *Device) DestroyRenderPass(pass gpu.RenderPass) {
	vk.DestroyRenderPass(d.device, pass.(vk.RenderPass), nil)
}

func (d *Device) CreateFramebuffer(pass gpu.RenderPass, color gpu.ImageView, depth gpu.DepthTarget, extent gpu.Extent2D) (gpu.Framebuffer, error) {
	attachments := []vk.ImageView{
		color.(vk.ImageView),
		depth.(*depthTarget).view,
	}
	info := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      pass.(vk.RenderPass),
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		Width:           extent.Width,
		Height:          extent.Height,
		Layers:          1,
	}
	var framebuffer vk.Framebuffer
	if err := ok(vk.CreateFramebuffer(d.device, &info, nil, &framebuffer), "creating framebuffer"); err != nil {
		return nil, err
	}
	return framebuffer, nil
}

func (d *Device) DestroyFramebuffer(framebuffer gpu.Framebuffer) {
	vk.DestroyFramebuffer(d.device, framebuffer.(vk.Framebuffer), nil)
}

func (d *Device) AcquireNextImage(swapchain gpu.Swapchain, imageAvailable gpu.Semaphore) (uint32, bool, error) {
	var index uint32
	res := vk.AcquireNextImage(d.device, swapchain.(vk.Swapchain), waitForever, imageAvailable.(vk.Semaphore), vk.NullFence, &index)
	if stale(res) {
		return 0, true, nil
	}
	if err := ok(res, "acquiring next image"); err != nil {
		return 0, false, err
	}
	return index, false, nil
}

func (d *Device) Present(swapchain gpu.Swapchain, imageIndex uint32, renderFinished gpu.Semaphore) (bool, error) {
	info := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{renderFinished.(vk.Semaphore)},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{swapchain.(vk.Swapchain)},
		PImageIndices:      []uint32{imageIndex},
	}
	res := vk.QueuePresent(d.presentQueue, &info)
	if stale(res) {
		return true, nil
	}
	if err := ok(res, "presenting image"); err != nil {
		return false, err
	}
	return false, nil
}
