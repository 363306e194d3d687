/*
Package material holds drawing configurations: a compiled vertex/fragment
shader pair plus a draw topology. Materials outlive swapchain generations;
their pipelines do not, so compilation against a specific render pass and
extent lives here as well.
*/
package material

import (
	"runtime"
	"unsafe"

	"github.com/cockroachdb/errors"

	"github.com/emberengine/ember/engine/math"
	"github.com/emberengine/ember/engine/renderer/gpu"
)

// ID identifies a material in the engine registry. IDs are monotonically
// increasing and never recycled.
type ID uint32

type DrawType int

const (
	DrawTriangles DrawType = iota
	DrawLines
	DrawPoints
)

// PushConstantSize is the per-draw payload: one model transform matrix.
const PushConstantSize = uint32(unsafe.Sizeof(math.Mat4{}))

// Material owns its two shader modules until Free is called. Dropping a
// live material aborts, like any other device allocation.
type Material struct {
	vertex   gpu.ShaderModule
	fragment gpu.ShaderModule
	drawType DrawType
	freed    bool
}

func New(device gpu.Device, vertexCode, fragmentCode []byte, drawType DrawType) (*Material, error) {
	if len(vertexCode) == 0 || len(fragmentCode) == 0 {
		return nil, errors.Wrap(gpu.ErrInvalidArgument, "material requires vertex and fragment byte-code")
	}

	vertex, err := device.CreateShaderModule(vertexCode)
	if err != nil {
		return nil, errors.Wrap(err, "compiling vertex module")
	}
	fragment, err := device.CreateShaderModule(fragmentCode)
	if err != nil {
		device.DestroyShaderModule(vertex)
		return nil, errors.Wrap(err, "compiling fragment module")
	}

	m := &Material{
		vertex:   vertex,
		fragment: fragment,
		drawType: drawType,
	}
	runtime.SetFinalizer(m, func(m *Material) {
		if !m.freed {
			panic("material: Material became unreachable without Free")
		}
	})
	return m, nil
}

func (m *Material) DrawType() DrawType {
	return m.drawType
}

// Reload swaps in freshly compiled shader modules, keeping the draw type.
// Pipelines compiled from the old modules stay valid until rebuilt; callers
// re-add the material's pipeline on the live swapchain afterwards.
func (m *Material) Reload(device gpu.Device, vertexCode, fragmentCode []byte) error {
	m.mustLive("Reload")
	replacement, err := New(device, vertexCode, fragmentCode, m.drawType)
	if err != nil {
		return err
	}
	device.DestroyShaderModule(m.vertex)
	device.DestroyShaderModule(m.fragment)
	m.vertex = replacement.vertex
	m.fragment = replacement.fragment
	// The replacement's modules now belong to the receiver.
	replacement.freed = true
	runtime.SetFinalizer(replacement, nil)
	return nil
}

// BuildPipeline compiles a graphics pipeline for this material against one
// swapchain generation's render pass and extent.
func (m *Material) BuildPipeline(device gpu.Device, pass gpu.RenderPass, layout gpu.DescriptorSetLayout, extent gpu.Extent2D) (gpu.Pipeline, error) {
	m.mustLive("BuildPipeline")

	topology := gpu.TopologyTriangles
	switch m.drawType {
	case DrawLines:
		topology = gpu.TopologyLines
	case DrawPoints:
		topology = gpu.TopologyPoints
	}

	return device.CreatePipeline(gpu.PipelineConfig{
		RenderPass:       pass,
		Vertex:           m.vertex,
		Fragment:         m.fragment,
		Topology:         topology,
		Extent:           extent,
		Layout:           layout,
		PushConstantSize: PushConstantSize,
		VertexStride:     uint32(unsafe.Sizeof(math.Vertex{})),
		VertexAttributes: vertexAttributes(),
	})
}

func vertexAttributes() []gpu.VertexAttribute {
	var v math.Vertex
	return []gpu.VertexAttribute{
		{Location: 0, Offset: uint32(unsafe.Offsetof(v.Position)), Format: gpu.AttributeFloat3},
		{Location: 1, Offset: uint32(unsafe.Offsetof(v.Colour)), Format: gpu.AttributeFloat3},
		{Location: 2, Offset: uint32(unsafe.Offsetof(v.Texcoord)), Format: gpu.AttributeFloat2},
	}
}

func (m *Material) mustLive(op string) {
	if m.freed {
		panic("material: " + op + " on freed Material")
	}
}

// Free destroys both shader modules. Exactly one call per material.
func (m *Material) Free(device gpu.Device) {
	if m.freed {
		panic("material: double free of Material")
	}
	device.DestroyShaderModule(m.fragment)
	device.DestroyShaderModule(m.vertex)
	m.freed = true
	runtime.SetFinalizer(m, nil)
}
