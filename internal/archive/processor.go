package archive

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/mleenorris/ComicMaintainer-sub003/internal/catalog"
)

// issuePattern extracts a trailing issue number from names like
// "Series Name 012.cbz" or "Series Name #12.cbz".
var issuePattern = regexp.MustCompile(`^(.*?)[ _-]+#?(\d{1,4})$`)

// Processor normalizes archive metadata for one item at a time. It
// satisfies catalog.ItemProcessor for the executor.
type Processor struct {
	reader catalog.TagReader
	writer catalog.TagWriter
	logger *zap.Logger
}

// NewProcessor wires the tag collaborators.
func NewProcessor(reader catalog.TagReader, writer catalog.TagWriter, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{reader: reader, writer: writer, logger: logger}
}

// Process reads the archive's tags, fills series/title/number from the
// filename when absent, and writes back only when something changed.
func (p *Processor) Process(ctx context.Context, item string) error {
	meta, err := p.reader.ReadTags(ctx, item)
	if err != nil {
		return fmt.Errorf("read tags: %w", err)
	}
	updated := normalize(item, meta)
	if !updated {
		p.logger.Debug("tags already normalized", zap.String("item", item))
		return nil
	}
	if err := p.writer.WriteTags(ctx, item, meta); err != nil {
		return fmt.Errorf("write tags: %w", err)
	}
	p.logger.Debug("tags updated", zap.String("item", item))
	return nil
}

// normalize fills gaps in meta from the filename and reports whether it
// changed anything.
func normalize(path string, meta catalog.Metadata) bool {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	series := base
	number := ""
	if m := issuePattern.FindStringSubmatch(base); m != nil {
		series = strings.TrimSpace(m[1])
		number = strings.TrimLeft(m[2], "0")
		if number == "" {
			number = "0"
		}
	}

	changed := false
	if meta["series"] == "" && series != "" {
		meta["series"] = series
		changed = true
	}
	if meta["number"] == "" && number != "" {
		meta["number"] = number
		changed = true
	}
	if meta["title"] == "" {
		meta["title"] = base
		changed = true
	}
	return changed
}
