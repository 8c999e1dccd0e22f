// Package inventory lists the archives under the library root and
// derives the enriched file view served through the cache coordinator.
package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mleenorris/ComicMaintainer-sub003/internal/cache"
	"github.com/mleenorris/ComicMaintainer-sub003/internal/catalog"
)

// FS lists archives on the local filesystem.
type FS struct {
	root string
	exts []string
}

// NewFS constructs an inventory over the library root. extensions is the
// default extension set used when a filter does not name its own; empty
// means .cbz only.
func NewFS(root string, extensions []string) *FS {
	return &FS{root: root, exts: extensions}
}

// ListFiles walks the root and returns matching archives sorted by path.
func (f *FS) ListFiles(ctx context.Context, filter catalog.FileFilter) ([]catalog.FileRecord, error) {
	exts := filter.Extensions
	if len(exts) == 0 {
		exts = f.exts
	}
	if len(exts) == 0 {
		exts = []string{".cbz"}
	}
	var out []catalog.FileRecord
	err := filepath.WalkDir(f.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		matched := false
		for _, want := range exts {
			if ext == strings.ToLower(want) {
				matched = true
				break
			}
		}
		if !matched {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, catalog.FileRecord{
			Path:    path,
			Size:    info.Size(),
			ModTime: info.ModTime().UTC(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk library root: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// EnrichedFile is one row of the derived view: an inventory record plus
// its archive tags.
type EnrichedFile struct {
	Path    string           `json:"path"`
	Size    int64            `json:"size"`
	ModTime time.Time        `json:"mod_time"`
	Tags    catalog.Metadata `json:"tags,omitempty"`
}

// Enricher builds the enriched inventory payload. Building is expensive
// (one archive read per file), which is exactly why it sits behind the
// cache coordinator.
type Enricher struct {
	inventory catalog.Inventory
	tags      catalog.TagReader
	logger    *zap.Logger
}

// NewEnricher wires the collaborators.
func NewEnricher(inv catalog.Inventory, tags catalog.TagReader, logger *zap.Logger) *Enricher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enricher{inventory: inv, tags: tags, logger: logger}
}

// InputsHash digests the current inventory (paths, sizes, mod times) so
// the coordinator can detect when the cached view is current.
func (e *Enricher) InputsHash(ctx context.Context) (string, error) {
	files, err := e.inventory.ListFiles(ctx, catalog.FileFilter{})
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, len(files))
	for _, f := range files {
		parts = append(parts, f.Path+"|"+strconv.FormatInt(f.Size, 10)+"|"+strconv.FormatInt(f.ModTime.UnixNano(), 10))
	}
	return cache.HashInputs(parts...), nil
}

// Build produces the JSON payload. A file whose tags cannot be read
// still appears in the view, without tags.
func (e *Enricher) Build(ctx context.Context) ([]byte, error) {
	files, err := e.inventory.ListFiles(ctx, catalog.FileFilter{})
	if err != nil {
		return nil, err
	}
	out := make([]EnrichedFile, 0, len(files))
	for _, f := range files {
		row := EnrichedFile{Path: f.Path, Size: f.Size, ModTime: f.ModTime}
		meta, err := e.tags.ReadTags(ctx, f.Path)
		if err != nil {
			e.logger.Debug("tags unavailable for file", zap.String("path", f.Path), zap.Error(err))
		} else if len(meta) > 0 {
			row.Tags = meta
		}
		out = append(out, row)
	}
	payload, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode enriched inventory: %w", err)
	}
	return payload, nil
}
