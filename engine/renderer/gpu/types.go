package gpu

// Opaque handles to device-owned objects. The concrete values are supplied
// and understood only by the Device implementation that created them; the
// core never inspects them.
type (
	Fence               interface{}
	Semaphore           interface{}
	Buffer              interface{}
	Image               interface{}
	ImageView           interface{}
	DepthTarget         interface{}
	ShaderModule        interface{}
	Pipeline            interface{}
	RenderPass          interface{}
	Framebuffer         interface{}
	Swapchain           interface{}
	CommandBuffer       interface{}
	DescriptorSetLayout interface{}
	DescriptorSet       interface{}
)

type Extent2D struct {
	Width  uint32
	Height uint32
}

// SurfaceCaps is the subset of surface capabilities the swapchain manager
// needs: the current extent and the allowed image count range. MaxImageCount
// of zero means unbounded.
type SurfaceCaps struct {
	CurrentExtent Extent2D
	MinImageCount uint32
	MaxImageCount uint32
}

type SwapchainConfig struct {
	Extent        Extent2D
	MinImageCount uint32
}

type BufferUsage uint32

const (
	BufferUsageVertex BufferUsage = 1 << iota
	BufferUsageIndex
	BufferUsageUniform
	BufferUsageTransferSrc
	BufferUsageTransferDst
)

type MemoryMode int

const (
	// MemoryHostVisible requests host-visible, coherent memory that can be
	// mapped and written from the CPU.
	MemoryHostVisible MemoryMode = iota
	// MemoryDeviceLocal requests device-local memory, reachable only
	// through a staged copy.
	MemoryDeviceLocal
)

type Topology int

const (
	TopologyTriangles Topology = iota
	TopologyLines
	TopologyPoints
)

type AttributeFormat int

const (
	AttributeFloat2 AttributeFormat = iota
	AttributeFloat3
)

type VertexAttribute struct {
	Location uint32
	Offset   uint32
	Format   AttributeFormat
}

type PipelineConfig struct {
	RenderPass       RenderPass
	Vertex           ShaderModule
	Fragment         ShaderModule
	Topology         Topology
	Extent           Extent2D
	Layout           DescriptorSetLayout
	PushConstantSize uint32
	VertexStride     uint32
	VertexAttributes []VertexAttribute
}

type ClearValues struct {
	Color   [4]float32
	Depth   float32
	Stencil uint32
}
