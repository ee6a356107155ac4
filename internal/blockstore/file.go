package blockstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/meridianchain/ledgerd/internal/nodeerr"
)

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(1<<20))
)

const zstdMagic0, zstdMagic1, zstdMagic2, zstdMagic3 = 0x28, 0xB5, 0x2F, 0xFD

func looksCompressed(data []byte) bool {
	return len(data) >= 4 && data[0] == zstdMagic0 && data[1] == zstdMagic1 && data[2] == zstdMagic2 && data[3] == zstdMagic3
}

// FilePath returns the block file path for {dataPath, nodeName, index}
// (spec.md §6): NNNNNN.json, or NNNNNN.json.zst when compressed.
func FilePath(dataPath, nodeName string, index int64, compressed bool) string {
	name := fmt.Sprintf("%06d.json", index)
	if compressed {
		name += ".zst"
	}
	return filepath.Join(dataPath, nodeName, name)
}

// WriteFile serializes b to path, creating parent directories as needed.
// A block file is written exactly once (spec.md §6) — callers check
// existence themselves via Exists before calling WriteFile for a fresh
// index.
func WriteFile(path string, b *Block, compress bool) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal block %d: %w", b.Index, err)
	}
	if compress {
		data = zstdEncoder.EncodeAll(data, nil)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create block dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write block file %s: %w", path, err)
	}
	return nil
}

// ReadFile reads and decodes the block at path (transparently decompressing
// a zstd-framed file regardless of its extension), then verifies the loaded
// hash against a freshly recomputed one — a mismatch means the file was
// tampered with or corrupted on disk.
func ReadFile(path string) (*Block, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if looksCompressed(raw) {
		raw, err = zstdDecoder.DecodeAll(raw, nil)
		if err != nil {
			return nil, fmt.Errorf("decompress block file %s: %w", path, err)
		}
	}
	var b Block
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("unmarshal block file %s: %w", path, err)
	}
	ok, err := b.Verify()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", nodeerr.ErrBlockFileTampered, path)
	}
	return &b, nil
}

// Exists reports whether a block file is already on disk at path — callers
// use this to enforce the spec's write-once rule before calling WriteFile.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
