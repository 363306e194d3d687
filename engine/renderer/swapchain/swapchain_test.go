package swapchain

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/emberengine/ember/engine/renderer/gpu"
	"github.com/emberengine/ember/engine/renderer/gpu/gputest"
	"github.com/emberengine/ember/engine/renderer/material"
)

var shaderCode = []byte{0x03, 0x02, 0x23, 0x07}

func newLayout(t *testing.T, device *gputest.Device) gpu.DescriptorSetLayout {
	t.Helper()
	layout, err := device.CreateDescriptorSetLayout()
	require.NoError(t, err)
	return layout
}

func newMaterial(t *testing.T, device *gputest.Device, drawType material.DrawType) *material.Material {
	t.Helper()
	m, err := material.New(device, shaderCode, shaderCode, drawType)
	require.NoError(t, err)
	t.Cleanup(func() { m.Free(device) })
	return m
}

func TestBuildCreatesOnePipelinePerMaterial(t *testing.T) {
	device := gputest.New()
	layout := newLayout(t, device)

	materials := map[material.ID]*material.Material{
		1: newMaterial(t, device, material.DrawTriangles),
		2: newMaterial(t, device, material.DrawLines),
	}

	s, err := Build(device, layout, materials)
	require.NoError(t, err)
	defer s.Teardown(device)

	require.Equal(t, 2, s.PipelineCount())
	require.Equal(t, 1, device.SwapchainBuilds)
	require.Equal(t, gpu.Extent2D{Width: 800, Height: 600}, s.Extent())

	_, ok := s.Pipeline(1)
	require.True(t, ok)
	_, ok = s.Pipeline(3)
	require.False(t, ok)
}

func TestBuildRequestsMinPlusOneImages(t *testing.T) {
	device := gputest.New()
	device.Caps.MinImageCount = 3
	device.ImageCount = 2 // fake returns max(requested, ImageCount)
	layout := newLayout(t, device)

	s, err := Build(device, layout, nil)
	require.NoError(t, err)
	defer s.Teardown(device)

	require.Equal(t, 4, s.ImageCount())
}

func TestBuildClampsToMaxImageCount(t *testing.T) {
	device := gputest.New()
	device.Caps.MinImageCount = 2
	device.Caps.MaxImageCount = 2
	device.ImageCount = 1
	layout := newLayout(t, device)

	s, err := Build(device, layout, nil)
	require.NoError(t, err)
	defer s.Teardown(device)

	require.Equal(t, 2, s.ImageCount())
}

func TestBuildFailureReleasesEverything(t *testing.T) {
	device := gputest.New()
	device.FailCreatePipeline = gpu.ErrDevice
	layout := newLayout(t, device)

	materials := map[material.ID]*material.Material{
		1: newMaterial(t, device, material.DrawTriangles),
	}

	_, err := Build(device, layout, materials)
	require.Error(t, err)
	require.Zero(t, device.LiveSwapchains)
	require.Zero(t, device.LiveImageViews)
	require.Zero(t, device.LiveFramebuffers)
	require.Zero(t, device.LiveRenderPasses)
	require.Zero(t, device.LiveDepthTargets)
	require.Zero(t, device.LivePipelines)
}

func TestAcquireWaitsForLastWriter(t *testing.T) {
	device := gputest.New()
	device.ImageCount = 2
	layout := newLayout(t, device)

	s, err := Build(device, layout, nil)
	require.NoError(t, err)
	defer s.Teardown(device)

	sem, err := device.CreateSemaphore()
	require.NoError(t, err)
	defer device.DestroySemaphore(sem)
	fenceA, err := device.CreateFence(false)
	require.NoError(t, err)
	defer device.DestroyFence(fenceA)
	fenceB, err := device.CreateFence(false)
	require.NoError(t, err)
	defer device.DestroyFence(fenceB)

	// First pass over each image: nothing has written them yet, no waits.
	for i := 0; i < s.ImageCount(); i++ {
		_, _, stale, err := s.AcquireImage(device, sem, fenceA)
		require.NoError(t, err)
		require.False(t, stale)
	}
	require.Zero(t, device.FenceWaits)

	// Second pass reuses images and must wait for their recorded writers.
	index, _, stale, err := s.AcquireImage(device, sem, fenceB)
	require.NoError(t, err)
	require.False(t, stale)
	require.Equal(t, uint32(0), index)
	require.Equal(t, 1, device.FenceWaits)
}

func TestAcquireReportsStaleWithoutHazardWait(t *testing.T) {
	device := gputest.New()
	layout := newLayout(t, device)

	s, err := Build(device, layout, nil)
	require.NoError(t, err)
	defer s.Teardown(device)

	sem, err := device.CreateSemaphore()
	require.NoError(t, err)
	defer device.DestroySemaphore(sem)
	fence, err := device.CreateFence(false)
	require.NoError(t, err)
	defer device.DestroyFence(fence)

	device.StaleAcquires = 1
	_, img, stale, err := s.AcquireImage(device, sem, fence)
	require.NoError(t, err)
	require.True(t, stale)
	require.Nil(t, img)
	require.Zero(t, device.FenceWaits)
}

func TestPresentReportsStale(t *testing.T) {
	device := gputest.New()
	layout := newLayout(t, device)

	s, err := Build(device, layout, nil)
	require.NoError(t, err)
	defer s.Teardown(device)

	sem, err := device.CreateSemaphore()
	require.NoError(t, err)
	defer device.DestroySemaphore(sem)

	device.StalePresents = 1
	stale, err := s.Present(device, 0, sem)
	require.NoError(t, err)
	require.True(t, stale)
	require.Empty(t, device.Presented)

	stale, err = s.Present(device, 0, sem)
	require.NoError(t, err)
	require.False(t, stale)
	require.Equal(t, []uint32{0}, device.Presented)
}

func TestAddPipelineReplacesExisting(t *testing.T) {
	device := gputest.New()
	layout := newLayout(t, device)

	mat := newMaterial(t, device, material.DrawTriangles)
	s, err := Build(device, layout, map[material.ID]*material.Material{7: mat})
	require.NoError(t, err)
	defer s.Teardown(device)

	first, _ := s.Pipeline(7)
	require.NoError(t, s.AddPipeline(device, 7, mat, layout))
	second, _ := s.Pipeline(7)

	require.NotSame(t, first, second)
	require.Equal(t, 1, s.PipelineCount())
	require.Equal(t, 1, device.LivePipelines)
}

func TestRemovePipeline(t *testing.T) {
	device := gputest.New()
	layout := newLayout(t, device)

	mat := newMaterial(t, device, material.DrawTriangles)
	s, err := Build(device, layout, map[material.ID]*material.Material{4: mat})
	require.NoError(t, err)
	defer s.Teardown(device)

	s.RemovePipeline(device, 4)
	require.Zero(t, s.PipelineCount())
	require.Zero(t, device.LivePipelines)

	// Removing an unknown ID is harmless.
	s.RemovePipeline(device, 4)
}

func TestTeardownWaitsIdleAndReleasesAll(t *testing.T) {
	device := gputest.New()
	layout := newLayout(t, device)

	mat := newMaterial(t, device, material.DrawTriangles)
	s, err := Build(device, layout, map[material.ID]*material.Material{1: mat})
	require.NoError(t, err)

	s.Teardown(device)
	require.Equal(t, 1, device.WaitIdleCalls)
	require.Zero(t, device.LiveSwapchains)
	require.Zero(t, device.LiveImageViews)
	require.Zero(t, device.LiveFramebuffers)
	require.Zero(t, device.LiveRenderPasses)
	require.Zero(t, device.LiveDepthTargets)
	require.Zero(t, device.LivePipelines)

	require.Panics(t, func() { s.Teardown(device) })
	require.Panics(t, func() { s.AcquireImage(device, nil, nil) })
}
