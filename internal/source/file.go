package source

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	icommon "github.com/goran-ethernal/StarboardIndexor/internal/common"
	"github.com/goran-ethernal/StarboardIndexor/internal/logger"
	"github.com/goran-ethernal/StarboardIndexor/pkg/source"
)

// Compile-time check to ensure FileSource implements the source.Source interface.
var _ source.Source = (*FileSource)(nil)

const maxLineSize = 64 * 1024 * 1024

// FileSource serves blocks from a newline delimited JSON file, one block per line.
type FileSource struct {
	blocks []source.Block
	log    *logger.Logger
}

// NewFileSource loads every block of the file at path.
func NewFileSource(path string, log *logger.Logger) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open block file: %w", err)
	}
	defer f.Close()

	blocks, err := ReadBlocks(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	s := NewStaticSource(blocks, log)
	s.log.Infow("loaded block file", "path", path, "blocks", len(blocks))
	return s, nil
}

// NewStaticSource serves the given blocks. They must be in strictly ascending height order.
func NewStaticSource(blocks []source.Block, log *logger.Logger) *FileSource {
	return &FileSource{blocks: blocks, log: log.WithComponent(icommon.ComponentSource)}
}

// ReadBlocks decodes newline delimited JSON blocks and checks their order.
func ReadBlocks(r io.Reader) ([]source.Block, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var blocks []source.Block
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var b source.Block
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if n := len(blocks); n > 0 && b.Height <= blocks[n-1].Height {
			return nil, fmt.Errorf("line %d: block %d is not after block %d", line, b.Height, blocks[n-1].Height)
		}
		blocks = append(blocks, b)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read blocks: %w", err)
	}

	return blocks, nil
}

// WriteBlocks encodes blocks as newline delimited JSON.
func WriteBlocks(w io.Writer, blocks []source.Block) error {
	enc := json.NewEncoder(w)
	for _, b := range blocks {
		if err := enc.Encode(b); err != nil {
			return fmt.Errorf("failed to encode block %d: %w", b.Height, err)
		}
	}
	return nil
}

// Fetch returns up to limit blocks with height >= fromHeight. Heights missing
// from the file are skipped, so the result is only contiguous when the file is.
func (s *FileSource) Fetch(ctx context.Context, fromHeight, limit uint64) ([]source.Block, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	i := sort.Search(len(s.blocks), func(i int) bool { return s.blocks[i].Height >= fromHeight })

	end := len(s.blocks)
	if remaining := uint64(end - i); limit < remaining {
		end = i + int(limit) //nolint:gosec
	}

	out := make([]source.Block, end-i)
	copy(out, s.blocks[i:end])
	return out, nil
}

// Close is a no-op.
func (s *FileSource) Close() error {
	return nil
}
