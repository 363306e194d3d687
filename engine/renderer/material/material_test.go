package material

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/emberengine/ember/engine/renderer/gpu"
	"github.com/emberengine/ember/engine/renderer/gpu/gputest"
)

var (
	vertCode = []byte{0x03, 0x02, 0x23, 0x07}
	fragCode = []byte{0x03, 0x02, 0x23, 0x07, 0x00, 0x00, 0x00, 0x00}
)

func TestNewCompilesBothStages(t *testing.T) {
	device := gputest.New()

	m, err := New(device, vertCode, fragCode, DrawTriangles)
	require.NoError(t, err)
	require.Equal(t, 2, device.LiveShaderModules)

	m.Free(device)
	require.Zero(t, device.LiveShaderModules)
}

func TestNewRejectsEmptyCode(t *testing.T) {
	device := gputest.New()

	_, err := New(device, nil, fragCode, DrawTriangles)
	require.True(t, errors.Is(err, gpu.ErrInvalidArgument))
	require.Zero(t, device.LiveShaderModules)
}

func TestDoubleFreePanics(t *testing.T) {
	device := gputest.New()

	m, err := New(device, vertCode, fragCode, DrawLines)
	require.NoError(t, err)
	m.Free(device)
	require.Panics(t, func() { m.Free(device) })
}

func TestBuildPipelineUsesGeneration(t *testing.T) {
	device := gputest.New()

	m, err := New(device, vertCode, fragCode, DrawPoints)
	require.NoError(t, err)
	defer m.Free(device)

	pass, err := device.CreateRenderPass()
	require.NoError(t, err)
	defer device.DestroyRenderPass(pass)
	layout, err := device.CreateDescriptorSetLayout()
	require.NoError(t, err)
	defer device.DestroyDescriptorSetLayout(layout)

	pipeline, err := m.BuildPipeline(device, pass, layout, gpu.Extent2D{Width: 640, Height: 480})
	require.NoError(t, err)
	require.Equal(t, 1, device.LivePipelines)
	device.DestroyPipeline(pipeline)
}

func TestReloadKeepsModuleCountStable(t *testing.T) {
	device := gputest.New()

	m, err := New(device, vertCode, fragCode, DrawTriangles)
	require.NoError(t, err)
	defer m.Free(device)

	require.NoError(t, m.Reload(device, fragCode, vertCode))
	require.Equal(t, 2, device.LiveShaderModules)
}
