// Package assets loads compiled shader byte-code and watches it for
// changes.
package assets

import (
	"encoding/binary"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
)

const spirvMagic = 0x07230203

// LoadShader reads a compiled SPIR-V module from the shader directory and
// sanity-checks it before it reaches the device.
func LoadShader(dir, name string) ([]byte, error) {
	path := filepath.Join(dir, name)
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading shader %s", path)
	}
	if len(code) == 0 || len(code)%4 != 0 {
		return nil, errors.Newf("shader %s: %d bytes is not a whole number of SPIR-V words", path, len(code))
	}
	if binary.LittleEndian.Uint32(code) != spirvMagic {
		return nil, errors.Newf("shader %s: bad SPIR-V magic", path)
	}
	return code, nil
}

// LoadShaderPair reads the vertex and fragment modules of one shader,
// following the <name>.vert.spv / <name>.frag.spv naming convention.
func LoadShaderPair(dir, name string) (vertex, fragment []byte, err error) {
	vertex, err = LoadShader(dir, name+".vert.spv")
	if err != nil {
		return nil, nil, err
	}
	fragment, err = LoadShader(dir, name+".frag.spv")
	if err != nil {
		return nil, nil, err
	}
	return vertex, fragment, nil
}
