package assets

import (
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"

	"github.com/emberengine/ember/engine/core"
)

// ShaderWatcher reports shaders recompiled while the engine runs. Each value
// on Events is a shader name as accepted by LoadShaderPair: writing either
// stage's .spv file reports the pair once per write.
type ShaderWatcher struct {
	watcher *fsnotify.Watcher

	Events chan string
}

func NewShaderWatcher(dir string) (*ShaderWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "creating shader watcher")
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, errors.Wrapf(err, "watching shader directory %s", dir)
	}

	w := &ShaderWatcher{
		watcher: watcher,
		Events:  make(chan string, 8),
	}
	go w.run()
	core.LogInfo("watching %s for shader changes", dir)
	return w, nil
}

func (w *ShaderWatcher) run() {
	defer close(w.Events)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			name, ok := shaderName(event.Name)
			if !ok {
				continue
			}
			select {
			case w.Events <- name:
			default:
				// A reload for this shader is already pending.
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			core.LogError("shader watcher: %v", err)
		}
	}
}

// shaderName maps "path/to/basic.vert.spv" to "basic".
func shaderName(path string) (string, bool) {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, ".spv") {
		return "", false
	}
	base = strings.TrimSuffix(base, ".spv")
	base = strings.TrimSuffix(base, ".vert")
	base = strings.TrimSuffix(base, ".frag")
	if base == "" {
		return "", false
	}
	return base, true
}

func (w *ShaderWatcher) Close() error {
	return w.watcher.Close()
}
