package vulkan

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/emberengine/ember/engine/renderer/gpu"
)

// pipeline keeps the layout next to the handle: push constants and
// descriptor binds need it at record time.
type pipeline struct {
	handle vk.Pipeline
	layout vk.PipelineLayout
}

func (d *Device) CreateShaderModule(code []byte) (gpu.ShaderModule, error) {
	if len(code) == 0 || len(code)%4 != 0 {
		return nil, errors.Wrapf(gpu.ErrInvalidArgument, "%d bytes is not a whole number of SPIR-V words", len(code))
	}
	info := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code)),
		PCode:    bytesToWords(code),
	}
	var module vk.ShaderModule
	if err := ok(vk.CreateShaderModule(d.device, &info, nil, &module), "creating shader module"); err != nil {
		return nil, err
	}
	return module, nil
}

func (d *Device) DestroyShaderModule(module gpu.ShaderModule) {
	vk.DestroyShaderModule(d.device, module.(vk.ShaderModule), nil)
}

// CreateDescriptorSetLayout describes the single per-frame uniform block at
// binding 0, visible to the vertex stage.
func (d *Device) CreateDescriptorSetLayout() (gpu.DescriptorSetLayout, error) {
	binding := vk.DescriptorSetLayoutBinding{
		Binding:         0,
		DescriptorType:  vk.DescriptorTypeUniformBuffer,
		DescriptorCount: 1,
		StageFlags:      vk.ShaderStageFlags(vk.ShaderStageVertexBit),
	}
	info := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: 1,
		PBindings:    []vk.DescriptorSetLayoutBinding{binding},
	}
	var layout vk.DescriptorSetLayout
	if err := ok(vk.CreateDescriptorSetLayout(d.device, &info, nil, &layout), "creating descriptor set layout"); err != nil {
		return nil, err
	}
	return layout, nil
}

func (d *Device) DestroyDescriptorSetLayout(layout gpu.DescriptorSetLayout) {
	vk.DestroyDescriptorSetLayout(d.device, layout.(vk.DescriptorSetLayout), nil)
}

func (d *Device) AllocateDescriptorSets(layout gpu.DescriptorSetLayout, count int) ([]gpu.DescriptorSet, error) {
	layouts := make([]vk.DescriptorSetLayout, count)
	for i := range layouts {
		layouts[i] = layout.(vk.DescriptorSetLayout)
	}
	info := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     d.descriptorPool,
		DescriptorSetCount: uint32(count),
		PSetLayouts:        layouts,
	}
	sets := make([]vk.DescriptorSet, count)
	if err := ok(vk.AllocateDescriptorSets(d.device, &info, &sets[0]), "allocating descriptor sets"); err != nil {
		return nil, err
	}
	out := make([]gpu.DescriptorSet, count)
	for i := range sets {
		out[i] = sets[i]
	}
	return out, nil
}

func (d *Device) BindUniformBuffer(set gpu.DescriptorSet, b gpu.Buffer, size int) {
	bufferInfo := vk.DescriptorBufferInfo{
		Buffer: b.(*buffer).handle,
		Offset: 0,
		Range:  vk.DeviceSize(size),
	}
	write := vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          set.(vk.DescriptorSet),
		DstBinding:      0,
		DescriptorType:  vk.DescriptorTypeUniformBuffer,
		DescriptorCount: 1,
		PBufferInfo:     []vk.DescriptorBufferInfo{bufferInfo},
	}
	vk.UpdateDescriptorSets(d.device, 1, []vk.WriteDescriptorSet{write}, 0, nil)
}

func (d *Device) CreatePipeline(config gpu.PipelineConfig) (gpu.Pipeline, error) {
	layoutInfo := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: 1,
		PSetLayouts:    []vk.DescriptorSetLayout{config.Layout.(vk.DescriptorSetLayout)},
	}
	if config.PushConstantSize > 0 {
		layoutInfo.PushConstantRangeCount = 1
		layoutInfo.PPushConstantRanges = []vk.PushConstantRange{{
			StageFlags: vk.ShaderStageFlags(vk.ShaderStageVertexBit),
			Offset:     0,
			Size:       config.PushConstantSize,
		}}
	}
	var layout vk.PipelineLayout
	if err := ok(vk.CreatePipelineLayout(d.device, &layoutInfo, nil, &layout), "creating pipeline layout"); err != nil {
		return nil, err
	}

	stages := []vk.PipelineShaderStageCreateInfo{
		{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageVertexBit,
			Module: config.Vertex.(vk.ShaderModule),
			PName:  safeString("main"),
		},
		{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageFragmentBit,
			Module: config.Fragment.(vk.ShaderModule),
			PName:  safeString("main"),
		},
	}

	attributes := make([]vk.VertexInputAttributeDescription, len(config.VertexAttributes))
	for i, attribute := range config.VertexAttributes {
		attributes[i] = vk.VertexInputAttributeDescription{
			Location: attribute.Location,
			Binding:  0,
			Format:   attributeFormat(attribute.Format),
			Offset:   attribute.Offset,
		}
	}
	vertexInput := vk.PipelineVertexInputStateCreateInfo{
		SType:                         vk.StructureTypePipelineVertexInputStateCreateInfo,
		VertexBindingDescriptionCount: 1,
		PVertexBindingDescriptions: []vk.VertexInputBindingDescription{{
			Binding:   0,
			Stride:    config.VertexStride,
			InputRate: vk.VertexInputRateVertex,
		}},
		VertexAttributeDescriptionCount: uint32(len(attributes)),
		PVertexAttributeDescriptions:    attributes,
	}

	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:    vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology: primitiveTopology(config.Topology),
	}

	viewport := vk.Viewport{
		X:        0,
		Y:        0,
		Width:    float32(config.Extent.Width),
		Height:   float32(config.Extent.Height),
		MinDepth: 0,
		MaxDepth: 1,
	}
	scissor := vk.Rect2D{
		Offset: vk.Offset2D{},
		Extent: vk.Extent2D{Width: config.Extent.Width, Height: config.Extent.Height},
	}
	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		PViewports:    []vk.Viewport{viewport},
		ScissorCount:  1,
		PScissors:     []vk.Rect2D{scissor},
	}

	rasterization := vk.PipelineRasterizationStateCreateInfo{
		SType:       vk.StructureTypePipelineRasterizationStateCreateInfo,
		PolygonMode: vk.PolygonModeFill,
		LineWidth:   1,
		CullMode:    vk.CullModeFlags(vk.CullModeBackBit),
		FrontFace:   vk.FrontFaceCounterClockwise,
	}

	multisample := vk.PipelineMultisampleStateCreateInfo{
		SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
		RasterizationSamples: vk.SampleCount1Bit,
	}

	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType:            vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthTestEnable:  vk.True,
		DepthWriteEnable: vk.True,
		DepthCompareOp:   vk.CompareOpLess,
	}

	blendAttachment := vk.PipelineColorBlendAttachmentState{
		ColorWriteMask: vk.ColorComponentFlags(
			vk.ColorComponentRBit | vk.ColorComponentGBit |
				vk.ColorComponentBBit | vk.ColorComponentABit),
	}
	colorBlend := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		AttachmentCount: 1,
		PAttachments:    []vk.PipelineColorBlendAttachmentState{blendAttachment},
	}

	info := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stages)),
		PStages:             stages,
		PVertexInputState:   &vertexInput,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterization,
		PMultisampleState:   &multisample,
		PDepthStencilState:  &depthStencil,
		PColorBlendState:    &colorBlend,
		Layout:              layout,
		RenderPass:          config.RenderPass.(vk.RenderPass),
		Subpass:             0,
	}

	pipelines := make([]vk.Pipeline, 1)
	if err := ok(vk.CreateGraphicsPipelines(d.device, vk.NullPipelineCache, 1, []vk.GraphicsPipelineCreateInfo{info}, nil, pipelines), "creating graphics pipeline"); err != nil {
		vk.DestroyPipelineLayout(d.device, layout, nil)
		return nil, err
	}
	return &pipeline{handle: pipelines[0], layout: layout}, nil
}

func (d *Device) DestroyPipeline(p gpu.Pipeline) {
	pl := p.(*pipeline)
	vk.DestroyPipeline(d.device, pl.handle, nil)
	vk.DestroyPipelineLayout(d.device, pl.layout, nil)
	pl.handle = vk.NullPipeline
	pl.layout = vk.NullPipelineLayout
}

func attributeFormat(format gpu.AttributeFormat) vk.Format {
	switch format {
	case gpu.AttributeFloat2:
		return vk.FormatR32g32Sfloat
	case gpu.AttributeFloat3:
		return vk.FormatR32g32b32Sfloat
	}
	return vk.FormatUndefined
}

func primitiveTopology(topology gpu.Topology) vk.PrimitiveTopology {
	switch topology {
	case gpu.TopologyLines:
		return vk.PrimitiveTopologyLineList
	case gpu.TopologyPoints:
		return vk.PrimitiveTopologyPointList
	}
	return vk.PrimitiveTopologyTriangleList
}

func bytesToWords(code []byte) []uint32 {
	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(code[i*4:])
	}
	return words
}
