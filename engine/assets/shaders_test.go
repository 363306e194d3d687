package assets

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func spirvWords(words ...uint32) []byte {
	out := make([]byte, 0, 4*(len(words)+1))
	out = binary.LittleEndian.AppendUint32(out, spirvMagic)
	for _, w := range words {
		out = binary.LittleEndian.AppendUint32(out, w)
	}
	return out
}

func TestLoadShaderValidModule(t *testing.T) {
	dir := t.TempDir()
	code := spirvWords(0x00010000, 0)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "basic.vert.spv"), code, 0o644))

	loaded, err := LoadShader(dir, "basic.vert.spv")
	require.NoError(t, err)
	require.Equal(t, code, loaded)
}

func TestLoadShaderRejectsPartialWords(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.frag.spv"), []byte{1, 2, 3}, 0o644))

	_, err := LoadShader(dir, "bad.frag.spv")
	require.Error(t, err)
}

func TestLoadShaderRejectsWrongMagic(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.vert.spv"), []byte{0, 0, 0, 0}, 0o644))

	_, err := LoadShader(dir, "bad.vert.spv")
	require.Error(t, err)
}

func TestLoadShaderPair(t *testing.T) {
	dir := t.TempDir()
	vert := spirvWords(1)
	frag := spirvWords(2)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "basic.vert.spv"), vert, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "basic.frag.spv"), frag, 0o644))

	v, f, err := LoadShaderPair(dir, "basic")
	require.NoError(t, err)
	require.Equal(t, vert, v)
	require.Equal(t, frag, f)

	_, _, err = LoadShaderPair(dir, "missing")
	require.Error(t, err)
}

func TestShaderName(t *testing.T) {
	name, ok := shaderName("shaders/basic.vert.spv")
	require.True(t, ok)
	require.Equal(t, "basic", name)

	name, ok = shaderName("shaders/basic.frag.spv")
	require.True(t, ok)
	require.Equal(t, "basic", name)

	_, ok = shaderName("shaders/basic.vert")
	require.False(t, ok)
	_, ok = shaderName("shaders/.spv")
	require.False(t, ok)
}

func TestWatcherReportsRecompiledShader(t *testing.T) {
	dir := t.TempDir()
	w, err := NewShaderWatcher(dir)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "basic.frag.spv"), spirvWords(1), 0o644))

	select {
	case name := <-w.Events:
		require.Equal(t, "basic", name)
	case <-time.After(5 * time.Second):
		t.Fatal("no shader event received")
	}
}
