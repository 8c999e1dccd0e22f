package catalog

import (
	"context"
	"time"
)

// Metadata is the tag set embedded in a comic archive.
type Metadata map[string]string

// FileRecord describes one archive in the inventory.
type FileRecord struct {
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// FileFilter narrows inventory listings.
type FileFilter struct {
	// Extensions limits results to the given suffixes (e.g. ".cbz").
	// Empty means no restriction.
	Extensions []string
}

// TagReader loads archive metadata.
type TagReader interface {
	ReadTags(ctx context.Context, path string) (Metadata, error)
}

// TagWriter persists archive metadata.
type TagWriter interface {
	WriteTags(ctx context.Context, path string, meta Metadata) error
}

// Inventory lists the files the maintainer operates on.
type Inventory interface {
	ListFiles(ctx context.Context, filter FileFilter) ([]FileRecord, error)
}

// ItemProcessor performs the batch work for a single item. Implementations
// must honor ctx and return an error for per-item failures; the executor
// records the error and continues with the next item.
type ItemProcessor interface {
	Process(ctx context.Context, item string) error
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator mints job identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
