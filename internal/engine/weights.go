package engine

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/23skdu/longbow-neox/internal/config"
	"github.com/23skdu/longbow-neox/internal/logger"
	"github.com/23skdu/longbow-neox/internal/quant"
	"github.com/23skdu/longbow-neox/internal/tensor"
)

// metadataFile sits next to the parameter buffers and records how many
// buffers the directory holds.
const metadataFile = "ndarray-cache.json"

type cacheMetadata struct {
	ParamSize int `json:"ParamSize"`
}

func bufferPath(dir string, idx int) string {
	return filepath.Join(dir, fmt.Sprintf("param_%d.bin", idx))
}

// LoadModel reads a quantized parameter directory and assembles the
// model. Buffers are numbered in ParamSpecs order; quantized
// parameters occupy two consecutive buffers (packed indices, then
// scale/bias words).
func LoadModel(dir string, cfg config.Config) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	specs := ParamSpecs(cfg)
	want := 0
	for _, s := range specs {
		want += s.Buffers()
	}
	if err := checkMetadata(dir, want); err != nil {
		return nil, err
	}

	params := make(map[string]paramValue, len(specs))
	idx := 0
	for _, s := range specs {
		switch s.Kind {
		case KindFloat32:
			data, err := readFloat32Buffer(bufferPath(dir, idx), s.Elements())
			if err != nil {
				return nil, fmt.Errorf("load %s: %w", s.Name, err)
			}
			params[s.Name] = paramValue{f: tensor.FromSlice(data, s.Shape...)}
			idx++
		case KindQuantized:
			rows, cols := s.Shape[0], s.Shape[1]
			packed, err := readUint32Buffer(bufferPath(dir, idx), rows*cols/8)
			if err != nil {
				return nil, fmt.Errorf("load %s (packed): %w", s.Name, err)
			}
			sb, err := readUint32Buffer(bufferPath(dir, idx+1), rows*cols/cfg.GroupSize)
			if err != nil {
				return nil, fmt.Errorf("load %s (scale/bias): %w", s.Name, err)
			}
			params[s.Name] = paramValue{q: &quant.Weight{
				Rows: rows, Cols: cols, GroupSize: cfg.GroupSize,
				Packed: packed, ScaleBias: sb,
			}}
			idx += 2
		}
	}
	logger.Info("weights loaded", "dir", dir, "buffers", idx)
	return NewModel(cfg, params)
}

// LoadFloatCheckpoint reads an unquantized directory: one float32
// buffer per logical parameter, same order and metadata layout.
func LoadFloatCheckpoint(dir string, cfg config.Config) (map[string]*tensor.Tensor, error) {
	specs := ParamSpecs(cfg)
	if err := checkMetadata(dir, len(specs)); err != nil {
		return nil, err
	}
	out := make(map[string]*tensor.Tensor, len(specs))
	for idx, s := range specs {
		data, err := readFloat32Buffer(bufferPath(dir, idx), s.Elements())
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", s.Name, err)
		}
		out[s.Name] = tensor.FromSlice(data, s.Shape...)
	}
	return out, nil
}

// QuantizeCheckpoint converts a float32 checkpoint into the packed
// serving format, encoding every matrix parameter with the model's
// group size.
func QuantizeCheckpoint(inDir, outDir string, cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	floats, err := LoadFloatCheckpoint(inDir, cfg)
	if err != nil {
		return err
	}
	codec, err := quant.NewCodec(cfg.GroupSize)
	if err != nil {
		return err
	}
	params := make(map[string]paramValue, len(floats))
	for _, s := range ParamSpecs(cfg) {
		t := floats[s.Name]
		if s.Kind == KindFloat32 {
			params[s.Name] = paramValue{f: t}
			continue
		}
		qw, err := codec.Encode(t)
		if err != nil {
			return fmt.Errorf("quantize %s: %w", s.Name, err)
		}
		params[s.Name] = paramValue{q: qw}
	}
	return SaveParams(outDir, cfg, params)
}

// SaveParams writes a parameter map to dir in the serving format.
func SaveParams(dir string, cfg config.Config, params map[string]paramValue) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	idx := 0
	for _, s := range ParamSpecs(cfg) {
		v, ok := params[s.Name]
		if !ok {
			return fmt.Errorf("save: missing parameter %q", s.Name)
		}
		switch s.Kind {
		case KindFloat32:
			if v.f == nil {
				return fmt.Errorf("save: %q is not a float parameter", s.Name)
			}
			if err := writeFloat32Buffer(bufferPath(dir, idx), v.f.Data()); err != nil {
				return err
			}
			idx++
		case KindQuantized:
			if v.q == nil {
				return fmt.Errorf("save: %q is not a quantized parameter", s.Name)
			}
			if err := writeUint32Buffer(bufferPath(dir, idx), v.q.Packed); err != nil {
				return err
			}
			if err := writeUint32Buffer(bufferPath(dir, idx+1), v.q.ScaleBias); err != nil {
				return err
			}
			idx += 2
		}
	}
	meta, err := json.Marshal(cacheMetadata{ParamSize: idx})
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, metadataFile), meta, 0o644); err != nil {
		return err
	}
	logger.Info("weights written", "dir", dir, "buffers", idx)
	return nil
}

// SaveFloatCheckpoint writes an unquantized checkpoint, one float32
// buffer per parameter.
func SaveFloatCheckpoint(dir string, cfg config.Config, params map[string]*tensor.Tensor) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	specs := ParamSpecs(cfg)
	for idx, s := range specs {
		t, ok := params[s.Name]
		if !ok {
			return fmt.Errorf("save: missing parameter %q", s.Name)
		}
		if err := writeFloat32Buffer(bufferPath(dir, idx), t.Data()); err != nil {
			return err
		}
	}
	meta, err := json.Marshal(cacheMetadata{ParamSize: len(specs)})
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, metadataFile), meta, 0o644)
}

func checkMetadata(dir string, want int) error {
	raw, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err != nil {
		return fmt.Errorf("weights: %w", err)
	}
	var meta cacheMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return fmt.Errorf("weights: bad metadata: %w", err)
	}
	if meta.ParamSize != want {
		return fmt.Errorf("weights: metadata declares %d buffers, model needs %d", meta.ParamSize, want)
	}
	return nil
}

func readFloat32Buffer(path string, elems int) ([]float32, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(raw) != elems*4 {
		return nil, fmt.Errorf("%s: got %d bytes, want %d", filepath.Base(path), len(raw), elems*4)
	}
	out := make([]float32, elems)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out, nil
}

func readUint32Buffer(path string, elems int) ([]uint32, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(raw) != elems*4 {
		return nil, fmt.Errorf("%s: got %d bytes, want %d", filepath.Base(path), len(raw), elems*4)
	}
	out := make([]uint32, elems)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(raw[i*4:])
	}
	return out, nil
}

func writeFloat32Buffer(path string, data []float32) error {
	raw := make([]byte, len(data)*4)
	for i, v := range data {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
	}
	return os.WriteFile(path, raw, 0o644)
}

func writeUint32Buffer(path string, data []uint32) error {
	raw := make([]byte, len(data)*4)
	for i, v := range data {
		binary.LittleEndian.PutUint32(raw[i*4:], v)
	}
	return os.WriteFile(path, raw, 0o644)
}
