package main

import (
	"os"

	"github.com/emberengine/ember/engine"
	"github.com/emberengine/ember/engine/assets"
	"github.com/emberengine/ember/engine/config"
	"github.com/emberengine/ember/engine/core"
	"github.com/emberengine/ember/engine/math"
	"github.com/emberengine/ember/engine/platform"
	"github.com/emberengine/ember/engine/renderer/material"
	"github.com/emberengine/ember/engine/renderer/vulkan"
)

const demoShader = "basic"

func main() {
	cfg, err := config.Load("ember.toml")
	if err != nil {
		core.LogFatal("loading configuration: %v", err)
	}
	core.SetLogLevel(cfg.Renderer.LogLevel)

	p := platform.New()
	if err := p.Startup(cfg.App.Name, uint32(cfg.App.Width), uint32(cfg.App.Height)); err != nil {
		core.LogFatal("platform startup: %v", err)
	}
	defer p.Shutdown()

	device, err := vulkan.New(p.Window, cfg.App.Name)
	if err != nil {
		core.LogFatal("creating vulkan device: %v", err)
	}
	defer device.Close()

	e, err := engine.New(device, cfg.Renderer.FramesInFlight, cfg.Renderer.ClearColor)
	if err != nil {
		core.LogFatal("creating engine: %v", err)
	}
	defer e.Shutdown()

	vertexCode, fragmentCode, err := assets.LoadShaderPair(cfg.Renderer.ShaderDir, demoShader)
	if err != nil {
		core.LogFatal("loading shaders: %v", err)
	}
	mat, err := e.LoadMaterial(vertexCode, fragmentCode, material.DrawTriangles)
	if err != nil {
		core.LogFatal("loading material: %v", err)
	}

	quad, err := e.AddObject(mat, []math.Vertex{
		{Position: math.NewVec3(-0.5, -0.5, 0), Colour: math.NewVec3(1, 0, 0)},
		{Position: math.NewVec3(0.5, -0.5, 0), Colour: math.NewVec3(0, 1, 0)},
		{Position: math.NewVec3(0.5, 0.5, 0), Colour: math.NewVec3(0, 0, 1)},
		{Position: math.NewVec3(-0.5, 0.5, 0), Colour: math.NewVec3(1, 1, 1)},
	}, []uint16{0, 1, 2, 2, 3, 0}, math.NewMat4Identity(), false)
	if err != nil {
		core.LogFatal("adding quad: %v", err)
	}

	aspect := float32(cfg.App.Width) / float32(cfg.App.Height)
	projection := math.NewMat4Perspective(45.0*3.14159265/180.0, aspect, 0.1, 100.0)
	view := math.NewMat4LookAt(math.NewVec3(0, 0, 2), math.NewVec3Zero(), math.NewVec3Up())
	e.SetViewProjection(projection.Mul(view))

	watcher, err := assets.NewShaderWatcher(cfg.Renderer.ShaderDir)
	if err != nil {
		core.LogWarn("shader hot reload disabled: %v", err)
	} else {
		defer watcher.Close()
	}

	clock := core.NewClock()
	clock.Start()
	nextStats := 1.0

	for !p.ShouldClose() {
		p.PumpMessages()

		if watcher != nil {
			select {
			case name := <-watcher.Events:
				if name != demoShader {
					break
				}
				vertexCode, fragmentCode, err := assets.LoadShaderPair(cfg.Renderer.ShaderDir, name)
				if err != nil {
					core.LogError("reloading %s: %v", name, err)
					break
				}
				if err := e.ReloadMaterial(mat, vertexCode, fragmentCode); err != nil {
					core.LogError("reloading material: %v", err)
				}
			default:
			}
		}

		clock.Update()
		if err := e.SetTransform(quad, math.NewMat4EulerY(float32(clock.Elapsed()))); err != nil {
			core.LogError("updating transform: %v", err)
		}
		if err := e.RenderFrame(); err != nil {
			core.LogError("rendering frame: %v", err)
			os.Exit(1)
		}

		if clock.Elapsed() >= nextStats {
			fps, frameMS := e.FrameStats()
			core.LogDebug("%.0f fps, %.2f ms/frame", fps, frameMS)
			nextStats = clock.Elapsed() + 1.0
		}
	}
}
