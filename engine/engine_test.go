package engine

import (
	"encoding/binary"
	gomath "math"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/emberengine/ember/engine/math"
	"github.com/emberengine/ember/engine/renderer/gpu"
	"github.com/emberengine/ember/engine/renderer/gpu/gputest"
	"github.com/emberengine/ember/engine/renderer/material"
)

var shaderCode = []byte{0x03, 0x02, 0x23, 0x07}

var quadVertices = []math.Vertex{
	{Position: math.Vec3{X: -0.5, Y: -0.5}},
	{Position: math.Vec3{X: 0.5, Y: -0.5}},
	{Position: math.Vec3{X: 0.5, Y: 0.5}},
	{Position: math.Vec3{X: -0.5, Y: 0.5}},
}

var quadIndices = []uint16{0, 1, 2, 2, 3, 0}

func newEngine(t *testing.T, device *gputest.Device) *Engine {
	t.Helper()
	e, err := New(device, 2, [4]float32{0, 0, 0.2, 1})
	require.NoError(t, err)
	t.Cleanup(func() {
		if !e.shutdown {
			e.Shutdown()
		}
	})
	return e
}

func loadMaterial(t *testing.T, e *Engine) material.ID {
	t.Helper()
	id, err := e.LoadMaterial(shaderCode, shaderCode, material.DrawTriangles)
	require.NoError(t, err)
	return id
}

func addQuad(t *testing.T, e *Engine, mat material.ID, dynamic bool) ObjectID {
	t.Helper()
	id, err := e.AddObject(mat, quadVertices, quadIndices, math.NewMat4Identity(), dynamic)
	require.NoError(t, err)
	return id
}

func TestRenderFrameBuildsSwapchainOnce(t *testing.T) {
	device := gputest.New()
	e := newEngine(t, device)

	for i := 0; i < 5; i++ {
		require.NoError(t, e.RenderFrame())
	}
	require.Equal(t, 1, device.SwapchainBuilds)
	require.Len(t, device.Presented, 5)
}

func TestStaleAcquireDropsFrameAndRebuilds(t *testing.T) {
	device := gputest.New()
	e := newEngine(t, device)

	require.NoError(t, e.RenderFrame())
	require.Equal(t, 1, device.SwapchainBuilds)

	device.StaleAcquires = 1
	require.NoError(t, e.RenderFrame())
	// The stale frame was dropped: nothing new submitted or presented.
	require.Len(t, device.Submissions, 1)
	require.Len(t, device.Presented, 1)

	require.NoError(t, e.RenderFrame())
	require.Equal(t, 2, device.SwapchainBuilds)
	require.Len(t, device.Presented, 2)
}

func TestStalePresentDropsFrameAndRebuilds(t *testing.T) {
	device := gputest.New()
	e := newEngine(t, device)

	device.StalePresents = 1
	require.NoError(t, e.RenderFrame())
	require.Empty(t, device.Presented)
	require.Zero(t, device.LiveSwapchains)

	require.NoError(t, e.RenderFrame())
	require.Equal(t, 2, device.SwapchainBuilds)
	require.Len(t, device.Presented, 1)
}

func TestQuadDrawsOnceWithSingleBind(t *testing.T) {
	device := gputest.New()
	e := newEngine(t, device)

	mat := loadMaterial(t, e)
	addQuad(t, e, mat, false)
	require.NoError(t, e.RenderFrame())

	sub := device.LastSubmission()
	require.Len(t, sub.PipelineBinds, 1)
	require.Equal(t, 1, sub.DescriptorBinds)
	require.Equal(t, []uint32{6}, sub.Draws)
	require.Len(t, sub.PushConstants, 1)
	require.Len(t, sub.PushConstants[0], 64)
	require.Equal(t, [4]float32{0, 0, 0.2, 1}, sub.Clear.Color)
}

func TestObjectsGroupByMaterial(t *testing.T) {
	device := gputest.New()
	e := newEngine(t, device)

	matA := loadMaterial(t, e)
	matB := loadMaterial(t, e)
	addQuad(t, e, matA, false)
	addQuad(t, e, matA, false)
	addQuad(t, e, matB, false)
	require.NoError(t, e.RenderFrame())

	sub := device.LastSubmission()
	// Two pipelines bound, three draws: matA's objects share one bind.
	require.Len(t, sub.PipelineBinds, 2)
	require.Equal(t, 2, sub.DescriptorBinds)
	require.Equal(t, []uint32{6, 6, 6}, sub.Draws)
}

func TestLoadMaterialOnLiveSwapchainCompilesPipeline(t *testing.T) {
	device := gputest.New()
	e := newEngine(t, device)

	require.NoError(t, e.RenderFrame())
	require.Zero(t, device.LivePipelines)

	loadMaterial(t, e)
	require.Equal(t, 1, device.LivePipelines)
}

func TestSwapchainRebuildRecompilesAllPipelines(t *testing.T) {
	device := gputest.New()
	e := newEngine(t, device)

	loadMaterial(t, e)
	loadMaterial(t, e)
	require.NoError(t, e.RenderFrame())
	require.Equal(t, 2, device.LivePipelines)

	device.StaleAcquires = 1
	require.NoError(t, e.RenderFrame())
	require.Zero(t, device.LivePipelines)

	require.NoError(t, e.RenderFrame())
	require.Equal(t, 2, device.LivePipelines)
}

func TestStaticMeshIsPromoted(t *testing.T) {
	device := gputest.New()
	e := newEngine(t, device)

	mat := loadMaterial(t, e)
	id := addQuad(t, e, mat, false)

	err := e.ReuploadVertices(id, quadVertices)
	require.True(t, errors.Is(err, gpu.ErrImmutableBuffer))
}

func TestDynamicMeshCanReupload(t *testing.T) {
	device := gputest.New()
	e := newEngine(t, device)

	mat := loadMaterial(t, e)
	id := addQuad(t, e, mat, true)

	moved := make([]math.Vertex, len(quadVertices))
	copy(moved, quadVertices)
	moved[0].Position.X = -1
	require.NoError(t, e.ReuploadVertices(id, moved))
}

func TestRemoveObjectWaitsForInFlightFrames(t *testing.T) {
	device := gputest.New()
	e := newEngine(t, device)

	mat := loadMaterial(t, e)
	id := addQuad(t, e, mat, false)
	require.NoError(t, e.RenderFrame())

	buffersBefore := device.LiveBuffers
	idleBefore := device.WaitIdleCalls
	require.NoError(t, e.RemoveObject(id))
	require.Equal(t, idleBefore+1, device.WaitIdleCalls)
	require.Equal(t, buffersBefore-2, device.LiveBuffers)

	err := e.RemoveObject(id)
	require.True(t, errors.Is(err, gpu.ErrInvalidArgument))
}

func TestUnloadMaterialRefusedWhileReferenced(t *testing.T) {
	device := gputest.New()
	e := newEngine(t, device)

	mat := loadMaterial(t, e)
	id := addQuad(t, e, mat, false)

	err := e.UnloadMaterial(mat)
	require.True(t, errors.Is(err, gpu.ErrInvalidArgument))

	require.NoError(t, e.RemoveObject(id))
	require.NoError(t, e.UnloadMaterial(mat))
	require.Zero(t, device.LiveShaderModules)
}

func TestUnloadMaterialRemovesLivePipeline(t *testing.T) {
	device := gputest.New()
	e := newEngine(t, device)

	matA := loadMaterial(t, e)
	matB := loadMaterial(t, e)
	addQuad(t, e, matB, false)
	require.NoError(t, e.RenderFrame())
	require.Equal(t, 2, device.LivePipelines)

	require.NoError(t, e.UnloadMaterial(matA))
	require.Equal(t, 1, device.LivePipelines)

	require.NoError(t, e.RenderFrame())
	sub := device.LastSubmission()
	require.Len(t, sub.PipelineBinds, 1)
}

func TestReloadMaterialRebuildsPipeline(t *testing.T) {
	device := gputest.New()
	e := newEngine(t, device)

	mat := loadMaterial(t, e)
	require.NoError(t, e.RenderFrame())
	require.Equal(t, 1, device.LivePipelines)

	require.NoError(t, e.ReloadMaterial(mat, shaderCode, shaderCode))
	require.Equal(t, 1, device.LivePipelines)
	require.Equal(t, 2, device.LiveShaderModules)
}

func TestAddObjectValidation(t *testing.T) {
	device := gputest.New()
	e := newEngine(t, device)

	_, err := e.AddObject(99, quadVertices, quadIndices, math.NewMat4Identity(), false)
	require.True(t, errors.Is(err, gpu.ErrInvalidArgument))

	mat := loadMaterial(t, e)
	_, err = e.AddObject(mat, nil, quadIndices, math.NewMat4Identity(), false)
	require.True(t, errors.Is(err, gpu.ErrInvalidArgument))
	_, err = e.AddObject(mat, quadVertices, nil, math.NewMat4Identity(), false)
	require.True(t, errors.Is(err, gpu.ErrInvalidArgument))
}

func TestAddObjectPromoteFailureFreesStagingBuffers(t *testing.T) {
	boom := errors.New("out of device memory")

	cases := []struct {
		name string
		// CreateBuffer call that fails, counting the two per-slot uniform
		// buffers: 3 = vertex staging, 4 = vertex device-local,
		// 5 = index staging, 6 = index device-local.
		failAt int
	}{
		{name: "vertex promote", failAt: 4},
		{name: "index promote", failAt: 6},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			device := gputest.New()
			e := newEngine(t, device)
			mat := loadMaterial(t, e)

			device.FailCreateBuffer = boom
			device.FailCreateBufferAt = tc.failAt
			_, err := e.AddObject(mat, quadVertices, quadIndices, math.NewMat4Identity(), false)
			require.True(t, errors.Is(err, boom))
			// Only the per-slot uniform buffers survive the failed add.
			require.Equal(t, 2, device.LiveBuffers)
		})
	}
}

func TestFrameAdmissionWaitsOnOwningSlotFence(t *testing.T) {
	device := gputest.New()
	e := newEngine(t, device)

	for i := 0; i < 3; i++ {
		require.NoError(t, e.RenderFrame())
	}
	// Three distinct images were acquired, so every recorded wait is an
	// admission wait. The third frame wraps back onto the first slot and
	// must block on that slot's fence, not a fresh one.
	require.Len(t, device.FenceWaitLog, 3)
	require.Same(t, device.FenceWaitLog[0], device.FenceWaitLog[2])
	require.NotSame(t, device.FenceWaitLog[0], device.FenceWaitLog[1])
}

func TestSetTransformReachesPushConstants(t *testing.T) {
	device := gputest.New()
	e := newEngine(t, device)

	mat := loadMaterial(t, e)
	id := addQuad(t, e, mat, false)
	require.NoError(t, e.SetTransform(id, math.NewMat4Translation(math.Vec3{X: 3})))
	require.NoError(t, e.RenderFrame())

	sub := device.LastSubmission()
	require.Len(t, sub.PushConstants, 1)
	// Column-major layout puts the X translation in element 12.
	bits := binary.LittleEndian.Uint32(sub.PushConstants[0][12*4:])
	require.Equal(t, float32(3), gomath.Float32frombits(bits))
}

func TestShutdownReleasesEverything(t *testing.T) {
	device := gputest.New()
	e := newEngine(t, device)

	mat := loadMaterial(t, e)
	addQuad(t, e, mat, false)
	addQuad(t, e, mat, true)
	require.NoError(t, e.RenderFrame())

	e.Shutdown()
	require.Zero(t, device.LiveBuffers)
	require.Zero(t, device.LiveFences)
	require.Zero(t, device.LiveSemaphores)
	require.Zero(t, device.LiveShaderModules)
	require.Zero(t, device.LivePipelines)
	require.Zero(t, device.LiveSwapchains)
	require.Zero(t, device.LiveImageViews)
	require.Zero(t, device.LiveFramebuffers)
	require.Zero(t, device.LiveDepthTargets)
	require.Zero(t, device.LiveRenderPasses)

	require.Panics(t, func() { e.Shutdown() })
	require.Panics(t, func() { _ = e.RenderFrame() })
}

func TestObjectIDsAreNeverRecycled(t *testing.T) {
	device := gputest.New()
	e := newEngine(t, device)

	mat := loadMaterial(t, e)
	first := addQuad(t, e, mat, false)
	require.NoError(t, e.RemoveObject(first))
	second := addQuad(t, e, mat, false)
	require.NotEqual(t, first, second)
}
