/*
Package engine drives the frame loop. It owns the registries of materials
and renderable objects, the frames-in-flight synchronizer, the per-slot
uniform buffers and command buffers, and the current swapchain generation.

A stale surface is never an error here: the frame that observes it is
dropped, the generation is torn down, and the next RenderFrame builds a
fresh one from the surface's current capabilities.
*/
package engine

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/emberengine/ember/engine/core"
	"github.com/emberengine/ember/engine/math"
	"github.com/emberengine/ember/engine/renderer/framesync"
	"github.com/emberengine/ember/engine/renderer/gpu"
	"github.com/emberengine/ember/engine/renderer/material"
	"github.com/emberengine/ember/engine/renderer/memory"
	"github.com/emberengine/ember/engine/renderer/swapchain"
)

// ObjectID identifies a renderable object. IDs are monotonically increasing
// and never recycled.
type ObjectID uint32

// UniformData is the per-frame uniform block shared by every pipeline:
// binding 0, set 0 in the shaders. Field order and padding match the
// std140 layout declared there.
type UniformData struct {
	ViewProjection math.Mat4
	Time           float32
	_              [3]float32
}

type object struct {
	materialID material.ID
	vertices   *memory.AllocatedBuffer[math.Vertex]
	indices    *memory.AllocatedBuffer[uint16]
	indexCount uint32
	transform  math.Mat4
}

// Engine is the frame orchestrator. All methods are driven from a single
// thread; the renderer has no internal locking.
type Engine struct {
	device gpu.Device
	sync   *framesync.FrameSync

	layout         gpu.DescriptorSetLayout
	sets           []gpu.DescriptorSet
	uniforms       []*memory.AllocatedBuffer[UniformData]
	commandBuffers []gpu.CommandBuffer

	materials    map[material.ID]*material.Material
	nextMaterial material.ID
	objects      map[ObjectID]*object
	nextObject   ObjectID

	// chain is nil whenever the surface is known stale; RenderFrame
	// rebuilds it lazily.
	chain *swapchain.Swapchain

	viewProjection math.Mat4
	clearColor     [4]float32
	clock          *core.Clock
	lastElapsed    float64
	shutdown       bool
}

// New builds the orchestrator's per-slot state: one fence, two semaphores,
// one command buffer, one uniform buffer and one descriptor set per frame in
// flight. The swapchain itself is not built until the first RenderFrame.
func New(device gpu.Device, framesInFlight int, clearColor [4]float32) (*Engine, error) {
	sync, err := framesync.New(device, framesInFlight)
	if err != nil {
		return nil, errors.Wrap(err, "creating frame synchronizer")
	}

	e := &Engine{
		device:         device,
		sync:           sync,
		materials:      map[material.ID]*material.Material{},
		objects:        map[ObjectID]*object{},
		viewProjection: math.NewMat4Identity(),
		clearColor:     clearColor,
		clock:          core.NewClock(),
	}

	fail := func(err error) (*Engine, error) {
		e.releaseSlots()
		e.sync.Teardown(device)
		return nil, err
	}

	e.layout, err = device.CreateDescriptorSetLayout()
	if err != nil {
		return fail(errors.Wrap(err, "creating descriptor set layout"))
	}
	e.sets, err = device.AllocateDescriptorSets(e.layout, framesInFlight)
	if err != nil {
		return fail(errors.Wrap(err, "allocating descriptor sets"))
	}
	e.commandBuffers, err = device.AllocateCommandBuffers(framesInFlight)
	if err != nil {
		return fail(errors.Wrap(err, "allocating command buffers"))
	}

	for i := 0; i < framesInFlight; i++ {
		uniform, err := memory.New[UniformData](device, 1, gpu.BufferUsageUniform)
		if err != nil {
			return fail(errors.Wrapf(err, "allocating uniform buffer for slot %d", i))
		}
		e.uniforms = append(e.uniforms, uniform)
		device.BindUniformBuffer(e.sets[i], uniform.Handle(), uniform.SizeBytes())
	}

	if err := core.MetricsInitialize(); err != nil {
		return fail(errors.Wrap(err, "initializing metrics"))
	}
	e.clock.Start()
	core.LogInfo("engine ready: %d frames in flight", framesInFlight)
	return e, nil
}

// SetViewProjection replaces the camera matrix used from the next frame on.
func (e *Engine) SetViewProjection(m math.Mat4) {
	e.viewProjection = m
}

// LoadMaterial compiles a shader pair into the registry and, when a
// swapchain generation is live, compiles its pipeline immediately.
func (e *Engine) LoadMaterial(vertexCode, fragmentCode []byte, drawType material.DrawType) (material.ID, error) {
	e.mustLive("LoadMaterial")

	mat, err := material.New(e.device, vertexCode, fragmentCode, drawType)
	if err != nil {
		return 0, err
	}
	e.nextMaterial++
	id := e.nextMaterial
	e.materials[id] = mat

	if e.chain != nil {
		if err := e.chain.AddPipeline(e.device, id, mat, e.layout); err != nil {
			mat.Free(e.device)
			delete(e.materials, id)
			return 0, err
		}
	}
	core.LogDebug("loaded material %d", id)
	return id, nil
}

// UnloadMaterial frees a material and its live pipeline. Materials still
// referenced by objects cannot be unloaded.
func (e *Engine) UnloadMaterial(id material.ID) error {
	e.mustLive("UnloadMaterial")

	mat, ok := e.materials[id]
	if !ok {
		return errors.Wrapf(gpu.ErrInvalidArgument, "unknown material %d", id)
	}
	for objectID, obj := range e.objects {
		if obj.materialID == id {
			return errors.Wrapf(gpu.ErrInvalidArgument, "material %d still used by object %d", id, objectID)
		}
	}

	if err := e.device.WaitIdle(); err != nil {
		return errors.Wrap(err, "wait-idle before material unload")
	}
	if e.chain != nil {
		e.chain.RemovePipeline(e.device, id)
	}
	mat.Free(e.device)
	delete(e.materials, id)
	return nil
}

// ReloadMaterial swaps in freshly compiled shaders for a registered material
// and rebuilds its pipeline on the live generation.
func (e *Engine) ReloadMaterial(id material.ID, vertexCode, fragmentCode []byte) error {
	e.mustLive("ReloadMaterial")

	mat, ok := e.materials[id]
	if !ok {
		return errors.Wrapf(gpu.ErrInvalidArgument, "unknown material %d", id)
	}
	if err := e.device.WaitIdle(); err != nil {
		return errors.Wrap(err, "wait-idle before material reload")
	}
	if err := mat.Reload(e.device, vertexCode, fragmentCode); err != nil {
		return err
	}
	if e.chain != nil {
		if err := e.chain.AddPipeline(e.device, id, mat, e.layout); err != nil {
			return err
		}
	}
	core.LogInfo("reloaded material %d", id)
	return nil
}

// AddObject uploads a mesh and registers it for drawing. Static meshes are
// promoted to device-local memory; dynamic ones stay host-mappable so
// ReuploadVertices can rewrite them. Index data is always promoted.
func (e *Engine) AddObject(materialID material.ID, vertices []math.Vertex, indices []uint16, transform math.Mat4, dynamic bool) (ObjectID, error) {
	e.mustLive("AddObject")

	if _, ok := e.materials[materialID]; !ok {
		return 0, errors.Wrapf(gpu.ErrInvalidArgument, "unknown material %d", materialID)
	}
	if len(vertices) == 0 || len(indices) == 0 {
		return 0, errors.Wrap(gpu.ErrInvalidArgument, "object requires vertices and indices")
	}

	vertexBuffer, err := memory.New[math.Vertex](e.device, len(vertices), gpu.BufferUsageVertex)
	if err != nil {
		return 0, errors.Wrap(err, "allocating vertex buffer")
	}
	if err := vertexBuffer.Write(e.device, vertices); err != nil {
		vertexBuffer.Free(e.device)
		return 0, errors.Wrap(err, "uploading vertices")
	}
	if !dynamic {
		promoted, err := vertexBuffer.PromoteToDeviceLocal(e.device)
		if err != nil {
			// A failed promotion leaves the host-visible source alive.
			vertexBuffer.Free(e.device)
			return 0, errors.Wrap(err, "promoting vertex buffer")
		}
		vertexBuffer = promoted
	}

	indexBuffer, err := memory.New[uint16](e.device, len(indices), gpu.BufferUsageIndex)
	if err != nil {
		vertexBuffer.Free(e.device)
		return 0, errors.Wrap(err, "allocating index buffer")
	}
	if err := indexBuffer.Write(e.device, indices); err != nil {
		indexBuffer.Free(e.device)
		vertexBuffer.Free(e.device)
		return 0, errors.Wrap(err, "uploading indices")
	}
	promotedIndices, err := indexBuffer.PromoteToDeviceLocal(e.device)
	if err != nil {
		indexBuffer.Free(e.device)
		vertexBuffer.Free(e.device)
		return 0, errors.Wrap(err, "promoting index buffer")
	}
	indexBuffer = promotedIndices

	e.nextObject++
	id := e.nextObject
	e.objects[id] = &object{
		materialID: materialID,
		vertices:   vertexBuffer,
		indices:    indexBuffer,
		indexCount: uint32(len(indices)),
		transform:  transform,
	}
	core.LogDebug("added object %d: %d vertices, %d indices", id, len(vertices), len(indices))
	return id, nil
}

// RemoveObject waits for in-flight frames that may still reference the
// object's buffers, then frees them and drops the object.
func (e *Engine) RemoveObject(id ObjectID) error {
	e.mustLive("RemoveObject")

	obj, ok := e.objects[id]
	if !ok {
		return errors.Wrapf(gpu.ErrInvalidArgument, "unknown object %d", id)
	}
	if err := e.device.WaitIdle(); err != nil {
		return errors.Wrap(err, "wait-idle before object removal")
	}
	obj.indices.Free(e.device)
	obj.vertices.Free(e.device)
	delete(e.objects, id)
	return nil
}

// SetTransform replaces an object's model matrix, effective next frame.
func (e *Engine) SetTransform(id ObjectID, transform math.Mat4) error {
	e.mustLive("SetTransform")

	obj, ok := e.objects[id]
	if !ok {
		return errors.Wrapf(gpu.ErrInvalidArgument, "unknown object %d", id)
	}
	obj.transform = transform
	return nil
}

// ReuploadVertices rewrites a dynamic object's vertex data in place. Static
// objects were promoted to device-local memory and report ErrImmutableBuffer.
func (e *Engine) ReuploadVertices(id ObjectID, vertices []math.Vertex) error {
	e.mustLive("ReuploadVertices")

	obj, ok := e.objects[id]
	if !ok {
		return errors.Wrapf(gpu.ErrInvalidArgument, "unknown object %d", id)
	}
	return obj.vertices.Write(e.device, vertices)
}

// RenderFrame renders and presents one frame. A stale surface drops the
// frame and tears the generation down; the next call rebuilds it. Both
// outcomes return nil.
func (e *Engine) RenderFrame() error {
	e.mustLive("RenderFrame")

	if e.chain == nil {
		chain, err := swapchain.Build(e.device, e.layout, e.materials)
		if err != nil {
			return errors.Wrap(err, "building swapchain")
		}
		e.chain = chain
	}

	slot := e.sync.Advance()
	if err := e.device.WaitForFence(e.sync.Fence()); err != nil {
		return errors.Wrapf(err, "waiting for slot %d fence", slot)
	}

	index, image, stale, err := e.chain.AcquireImage(e.device, e.sync.ImageAvailable(), e.sync.Fence())
	if err != nil {
		return err
	}
	if stale {
		e.invalidate()
		return nil
	}

	e.clock.Update()
	elapsed := e.clock.Elapsed()
	uniform := UniformData{ViewProjection: e.viewProjection, Time: float32(elapsed)}
	if err := e.uniforms[slot].Write(e.device, []UniformData{uniform}); err != nil {
		return errors.Wrapf(err, "updating slot %d uniforms", slot)
	}

	cb := e.commandBuffers[slot]
	if err := e.record(cb, image); err != nil {
		return err
	}

	if err := e.device.ResetFence(e.sync.Fence()); err != nil {
		return errors.Wrapf(err, "resetting slot %d fence", slot)
	}
	if err := e.device.Submit(cb, e.sync.ImageAvailable(), e.sync.RenderFinished(), e.sync.Fence()); err != nil {
		return errors.Wrap(err, "submitting frame")
	}

	stale, err = e.chain.Present(e.device, index, e.sync.RenderFinished())
	if err != nil {
		return err
	}
	if stale {
		e.invalidate()
		return nil
	}

	core.MetricsUpdate(elapsed - e.lastElapsed)
	e.lastElapsed = elapsed
	return nil
}

// FrameStats reports the presented frame rate and the averaged frame time
// in milliseconds, as accumulated by RenderFrame.
func (e *Engine) FrameStats() (fps, frameTimeMS float64) {
	return core.MetricsFrame()
}

// record replays the whole object registry into the command buffer, grouped
// by material so each pipeline and descriptor set is bound once.
func (e *Engine) record(cb gpu.CommandBuffer, image *swapchain.PresentableImage) error {
	if err := e.device.ResetCommandBuffer(cb); err != nil {
		return errors.Wrap(err, "resetting command buffer")
	}
	if err := e.device.BeginCommandBuffer(cb); err != nil {
		return errors.Wrap(err, "beginning command buffer")
	}

	e.device.CmdBeginRenderPass(cb, e.chain.RenderPass(), image.Framebuffer(), e.chain.Extent(), gpu.ClearValues{
		Color: e.clearColor,
		Depth: 1.0,
	})

	objectIDs := maps.Keys(e.objects)
	slices.Sort(objectIDs)
	materialIDs := maps.Keys(e.materials)
	slices.Sort(materialIDs)

	set := e.sets[e.sync.Index()]
	for _, materialID := range materialIDs {
		bound := false
		var pipeline gpu.Pipeline
		for _, objectID := range objectIDs {
			obj := e.objects[objectID]
			if obj.materialID != materialID {
				continue
			}
			if !bound {
				var ok bool
				pipeline, ok = e.chain.Pipeline(materialID)
				if !ok {
					return errors.Wrapf(gpu.ErrDevice, "no pipeline for material %d", materialID)
				}
				e.device.CmdBindPipeline(cb, pipeline)
				e.device.CmdBindDescriptorSet(cb, pipeline, set)
				bound = true
			}
			e.device.CmdBindVertexBuffer(cb, obj.vertices.Handle())
			e.device.CmdBindIndexBuffer(cb, obj.indices.Handle())
			e.device.CmdPushConstants(cb, pipeline, mat4Bytes(&obj.transform))
			e.device.CmdDrawIndexed(cb, obj.indexCount)
		}
	}

	e.device.CmdEndRenderPass(cb)
	if err := e.device.EndCommandBuffer(cb); err != nil {
		return errors.Wrap(err, "ending command buffer")
	}
	return nil
}

// invalidate tears down the current generation after a stale acquire or
// present.
func (e *Engine) invalidate() {
	core.LogDebug("surface out of date, dropping frame")
	e.chain.Teardown(e.device)
	e.chain = nil
}

func (e *Engine) mustLive(op string) {
	if e.shutdown {
		panic("engine: " + op + " after Shutdown")
	}
}

// Shutdown waits for the device to go idle and releases everything the
// engine owns, in reverse dependency order. Exactly one call per engine.
func (e *Engine) Shutdown() {
	if e.shutdown {
		panic("engine: double Shutdown")
	}
	if err := e.device.WaitIdle(); err != nil {
		core.LogError("wait-idle during shutdown: %v", err)
	}

	if e.chain != nil {
		e.chain.Teardown(e.device)
		e.chain = nil
	}

	objectIDs := maps.Keys(e.objects)
	slices.Sort(objectIDs)
	for _, id := range objectIDs {
		obj := e.objects[id]
		obj.indices.Free(e.device)
		obj.vertices.Free(e.device)
	}
	e.objects = map[ObjectID]*object{}

	materialIDs := maps.Keys(e.materials)
	slices.Sort(materialIDs)
	for _, id := range materialIDs {
		e.materials[id].Free(e.device)
	}
	e.materials = map[material.ID]*material.Material{}

	e.releaseSlots()
	e.sync.Teardown(e.device)
	e.clock.Stop()
	e.shutdown = true
	core.LogInfo("engine shut down")
}

// releaseSlots frees the per-slot state New created, tolerating the partial
// states of New's own failure paths.
func (e *Engine) releaseSlots() {
	for _, uniform := range e.uniforms {
		uniform.Free(e.device)
	}
	e.uniforms = nil
	if e.commandBuffers != nil {
		e.device.FreeCommandBuffers(e.commandBuffers)
		e.commandBuffers = nil
	}
	if e.layout != nil {
		e.device.DestroyDescriptorSetLayout(e.layout)
		e.layout = nil
	}
	e.sets = nil
}

func mat4Bytes(m *math.Mat4) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(m)), int(unsafe.Sizeof(*m)))
}
