package loaders

import (
	"github.com/pkg/errors"
)

const spirvMagic uint32 = 0x07230203

var ErrInvalidSPIRV = errors.New("invalid SPIR-V module")

// ShaderLoader reads compiled SPIR-V and returns it as []uint32.
type ShaderLoader struct {
	binary BinaryLoader
}

func (sl *ShaderLoader) Load(path string, params interface{}) (*Resource, error) {
	res, err := sl.binary.Load(path, params)
	if err != nil {
		return nil, err
	}
	code, err := DecodeSPIRV(res.Data.([]byte))
	if err != nil {
		return nil, errors.Wrapf(err, "shader %s", path)
	}
	res.Type = ResourceTypeShader
	res.Data = code
	return res, nil
}

func (sl *ShaderLoader) Unload(*Resource) error {
	return nil
}

// DecodeSPIRV checks the module header and converts it to words.
func DecodeSPIRV(b []byte) ([]uint32, error) {
	if len(b) < 20 || len(b)%4 != 0 {
		return nil, errors.Wrapf(ErrInvalidSPIRV, "size %d", len(b))
	}
	code := bytesToBytecode(b)
	if code[0] != spirvMagic {
		return nil, errors.Wrapf(ErrInvalidSPIRV, "magic %#08x", code[0])
	}
	return code, nil
}
