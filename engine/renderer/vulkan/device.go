/*
Package vulkan is the production gpu.Device. One Device owns the instance,
surface, logical device, queues, and the pools every other handle is carved
from. All methods are driven from the main thread; goki/vulkan is a cgo
binding and GLFW already pins us there.
*/
package vulkan

import (
	"runtime"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"

	"github.com/emberengine/ember/engine/core"
	"github.com/emberengine/ember/engine/renderer/gpu"
)

const descriptorPoolCapacity = 64

type Device struct {
	window   *glfw.Window
	instance vk.Instance
	surface  vk.Surface

	physicalDevice vk.PhysicalDevice
	device         vk.Device

	graphicsQueueIndex uint32
	presentQueueIndex  uint32
	graphicsQueue      vk.Queue
	presentQueue       vk.Queue

	commandPool    vk.CommandPool
	descriptorPool vk.DescriptorPool

	surfaceFormat vk.SurfaceFormat
	depthFormat   vk.Format
}

var _ gpu.Device = (*Device)(nil)

// New bootstraps Vulkan against the window: instance, surface, physical
// device selection, logical device, queues and pools.
func New(window *glfw.Window, applicationName string) (*Device, error) {
	vk.SetGetInstanceProcAddr(glfw.GetVulkanGetInstanceProcAddress())
	if err := vk.Init(); err != nil {
		return nil, errors.Wrap(err, "initializing vulkan loader")
	}

	d := &Device{window: window}

	appInfo := vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		PApplicationName:   safeString(applicationName),
		ApplicationVersion: vk.MakeVersion(1, 0, 0),
		PEngineName:        safeString("Ember"),
		EngineVersion:      vk.MakeVersion(1, 0, 0),
		ApiVersion:         vk.ApiVersion11,
	}

	extensions := safeStrings(window.GetRequiredInstanceExtensions())
	instanceInfo := vk.InstanceCreateInfo{
		SType:                   vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo:        &appInfo,
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: extensions,
	}

	var instance vk.Instance
	if err := ok(vk.CreateInstance(&instanceInfo, nil, &instance), "creating instance"); err != nil {
		return nil, err
	}
	d.instance = instance
	vk.InitInstance(instance)

	surfacePtr, err := window.CreateWindowSurface(instance, nil)
	if err != nil {
		d.Close()
		return nil, errors.Wrap(err, "creating window surface")
	}
	d.surface = vk.SurfaceFromPointer(surfacePtr)

	if err := d.selectPhysicalDevice(); err != nil {
		d.Close()
		return nil, err
	}
	if err := d.createLogicalDevice(); err != nil {
		d.Close()
		return nil, err
	}
	if err := d.createPools(); err != nil {
		d.Close()
		return nil, err
	}

	core.LogInfo("vulkan device ready")
	return d, nil
}

func (d *Device) selectPhysicalDevice() error {
	var count uint32
	if err := ok(vk.EnumeratePhysicalDevices(d.instance, &count, nil), "enumerating physical devices"); err != nil {
		return err
	}
	if count == 0 {
		return errors.Wrap(gpu.ErrDevice, "no Vulkan-capable devices found")
	}
	devices := make([]vk.PhysicalDevice, count)
	if err := ok(vk.EnumeratePhysicalDevices(d.instance, &count, devices), "enumerating physical devices"); err != nil {
		return err
	}

	for _, candidate := range devices {
		graphics, present, found := d.findQueueFamilies(candidate)
		if !found {
			continue
		}
		if !d.supportsSwapchainExtension(candidate) {
			continue
		}

		var properties vk.PhysicalDeviceProperties
		vk.GetPhysicalDeviceProperties(candidate, &properties)
		properties.Deref()

		d.physicalDevice = candidate
		d.graphicsQueueIndex = graphics
		d.presentQueueIndex = present

		if err := d.chooseSurfaceFormat(); err != nil {
			return err
		}
		if err := d.detectDepthFormat(); err != nil {
			return err
		}
		core.LogInfo("selected device: '%s'", string(properties.DeviceName[:firstZero(properties.DeviceName[:])]))
		return nil
	}
	return errors.Wrap(gpu.ErrDevice, "no physical device meets the requirements")
}

func (d *Device) findQueueFamilies(device vk.PhysicalDevice) (graphics, present uint32, found bool) {
	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &count, nil)
	families := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &count, families)

	haveGraphics, havePresent := false, false
	for i := range families {
		families[i].Deref()
		if vk.QueueFlagBits(families[i].QueueFlags)&vk.QueueGraphicsBit != 0 && !haveGraphics {
			graphics = uint32(i)
			haveGraphics = true
		}
		var supported vk.Bool32
		vk.GetPhysicalDeviceSurfaceSupport(device, uint32(i), d.surface, &supported)
		if supported == vk.True && !havePresent {
			present = uint32(i)
			havePresent = true
		}
	}
	return graphics, present, haveGraphics && havePresent
}

func (d *Device) supportsSwapchainExtension(device vk.PhysicalDevice) bool {
	var count uint32
	if vk.EnumerateDeviceExtensionProperties(device, "", &count, nil) != vk.Success {
		return false
	}
	available := make([]vk.ExtensionProperties, count)
	if vk.EnumerateDeviceExtensionProperties(device, "", &count, available) != vk.Success {
		return false
	}
	for i := range available {
		available[i].Deref()
		name := string(available[i].ExtensionName[:firstZero(available[i].ExtensionName[:])])
		if name+"\x00" == vk.KhrSwapchainExtensionName || name == vk.KhrSwapchainExtensionName {
			return true
		}
	}
	return false
}

func (d *Device) chooseSurfaceFormat() error {
	var count uint32
	if err := ok(vk.GetPhysicalDeviceSurfaceFormats(d.physicalDevice, d.surface, &count, nil), "querying surface formats"); err != nil {
		return err
	}
	if count == 0 {
		return errors.Wrap(gpu.ErrDevice, "surface reports no formats")
	}
	formats := make([]vk.SurfaceFormat, count)
	if err := ok(vk.GetPhysicalDeviceSurfaceFormats(d.physicalDevice, d.surface, &count, formats), "querying surface formats"); err != nil {
		return err
	}

	for i := range formats {
		formats[i].Deref()
		if formats[i].Format == vk.FormatB8g8r8a8Unorm && formats[i].ColorSpace == vk.ColorSpaceSrgbNonlinear {
			d.surfaceFormat = formats[i]
			return nil
		}
	}
	d.surfaceFormat = formats[0]
	return nil
}

func (d *Device) detectDepthFormat() error {
	candidates := []vk.Format{
		vk.FormatD32Sfloat,
		vk.FormatD32SfloatS8Uint,
		vk.FormatD24UnormS8Uint,
	}
	required := vk.FormatFeatureDepthStencilAttachmentBit
	for _, candidate := range candidates {
		var properties vk.FormatProperties
		vk.GetPhysicalDeviceFormatProperties(d.physicalDevice, candidate, &properties)
		properties.Deref()
		if vk.FormatFeatureFlagBits(properties.OptimalTilingFeatures)&required == required {
			d.depthFormat = candidate
			return nil
		}
	}
	return errors.Wrap(gpu.ErrDevice, "no supported depth format")
}

func (d *Device) createLogicalDevice() error {
	indices := []uint32{d.graphicsQueueIndex}
	if d.presentQueueIndex != d.graphicsQueueIndex {
		indices = append(indices, d.presentQueueIndex)
	}

	queueInfos := make([]vk.DeviceQueueCreateInfo, len(indices))
	priority := []float32{1.0}
	for i, index := range indices {
		queueInfos[i] = vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: index,
			QueueCount:       1,
			PQueuePriorities: priority,
		}
	}

	deviceInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PQueueCreateInfos:       queueInfos,
		EnabledExtensionCount:   1,
		PpEnabledExtensionNames: safeStrings([]string{vk.KhrSwapchainExtensionName}),
	}

	var device vk.Device
	if err := ok(vk.CreateDevice(d.physicalDevice, &deviceInfo, nil, &device), "creating logical device"); err != nil {
		return err
	}
	d.device = device

	var graphicsQueue, presentQueue vk.Queue
	vk.GetDeviceQueue(d.device, d.graphicsQueueIndex, 0, &graphicsQueue)
	vk.GetDeviceQueue(d.device, d.presentQueueIndex, 0, &presentQueue)
	d.graphicsQueue = graphicsQueue
	d.presentQueue = presentQueue
	return nil
}

func (d *Device) createPools() error {
	poolInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: d.graphicsQueueIndex,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	var commandPool vk.CommandPool
	if err := ok(vk.CreateCommandPool(d.device, &poolInfo, nil, &commandPool), "creating command pool"); err != nil {
		return err
	}
	d.commandPool = commandPool

	descriptorPoolInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       descriptorPoolCapacity,
		Flags:         vk.DescriptorPoolCreateFlags(vk.DescriptorPoolCreateFreeDescriptorSetBit),
		PoolSizeCount: 1,
		PPoolSizes: []vk.DescriptorPoolSize{{
			Type:            vk.DescriptorTypeUniformBuffer,
			DescriptorCount: descriptorPoolCapacity,
		}},
	}
	var descriptorPool vk.DescriptorPool
	if err := ok(vk.CreateDescriptorPool(d.device, &descriptorPoolInfo, nil, &descriptorPool), "creating descriptor pool"); err != nil {
		return err
	}
	d.descriptorPool = descriptorPool
	return nil
}

// WaitIdle blocks until every queue on the device has drained.
func (d *Device) WaitIdle() error {
	return ok(vk.DeviceWaitIdle(d.device), "device wait idle")
}

// FramebufferExtent reads the window's current framebuffer size, used when
// the surface reports a zero current extent.
func (d *Device) FramebufferExtent() gpu.Extent2D {
	width, height := d.window.GetFramebufferSize()
	return gpu.Extent2D{Width: uint32(width), Height: uint32(height)}
}

// Close destroys the device-level objects. Tolerates the partial states of
// New's failure paths.
func (d *Device) Close() {
	if d.device != nil {
		vk.DeviceWaitIdle(d.device)
	}
	if d.descriptorPool != vk.NullDescriptorPool {
		vk.DestroyDescriptorPool(d.device, d.descriptorPool, nil)
		d.descriptorPool = vk.NullDescriptorPool
	}
	if d.commandPool != vk.NullCommandPool {
		vk.DestroyCommandPool(d.device, d.commandPool, nil)
		d.commandPool = vk.NullCommandPool
	}
	if d.device != nil {
		vk.DestroyDevice(d.device, nil)
		d.device = nil
	}
	if d.surface != vk.NullSurface {
		vk.DestroySurface(d.instance, d.surface, nil)
		d.surface = vk.NullSurface
	}
	if d.instance != nil {
		vk.DestroyInstance(d.instance, nil)
		d.instance = nil
	}
	core.LogInfo("vulkan device closed")
}

func init() {
	// The Vulkan loader and GLFW both require the main OS thread.
	runtime.LockOSThread()
}

var end = "\x00"

func safeString(s string) string {
	if len(s) == 0 || s[len(s)-1] != '\x00' {
		return s + end
	}
	return s
}

func safeStrings(list []string) []string {
	out := make([]string, len(list))
	for i := range list {
		out[i] = safeString(list[i])
	}
	return out
}

func firstZero(arr []byte) int {
	for i, b := range arr {
		if b == 0 {
			return i
		}
	}
	return len(arr)
}
