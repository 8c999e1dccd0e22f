// Package archive reads and writes the metadata embedded in comic book
// archives (ComicInfo.xml inside .cbz files) and adapts that work to the
// executor's item-processing contract.
package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mleenorris/ComicMaintainer-sub003/internal/catalog"
)

const metadataFileName = "ComicInfo.xml"

// comicInfo mirrors the subset of the ComicInfo schema the maintainer
// manages.
type comicInfo struct {
	XMLName xml.Name `xml:"ComicInfo"`
	Series  string   `xml:"Series,omitempty"`
	Title   string   `xml:"Title,omitempty"`
	Number  string   `xml:"Number,omitempty"`
	Volume  string   `xml:"Volume,omitempty"`
	Writer  string   `xml:"Writer,omitempty"`
	Summary string   `xml:"Summary,omitempty"`
}

func (ci comicInfo) toMetadata() catalog.Metadata {
	meta := catalog.Metadata{}
	for key, val := range map[string]string{
		"series":  ci.Series,
		"title":   ci.Title,
		"number":  ci.Number,
		"volume":  ci.Volume,
		"writer":  ci.Writer,
		"summary": ci.Summary,
	} {
		if val != "" {
			meta[key] = val
		}
	}
	return meta
}

func fromMetadata(meta catalog.Metadata) comicInfo {
	return comicInfo{
		Series:  meta["series"],
		Title:   meta["title"],
		Number:  meta["number"],
		Volume:  meta["volume"],
		Writer:  meta["writer"],
		Summary: meta["summary"],
	}
}

// Tagger implements catalog.TagReader and catalog.TagWriter over cbz
// archives.
type Tagger struct{}

// NewTagger constructs a Tagger.
func NewTagger() *Tagger {
	return &Tagger{}
}

// ReadTags extracts ComicInfo.xml from the archive. An archive without
// one yields empty metadata, not an error.
func (t *Tagger) ReadTags(ctx context.Context, path string) (catalog.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", path, err)
	}
	defer r.Close()
	for _, f := range r.File {
		if !strings.EqualFold(filepath.Base(f.Name), metadataFileName) {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open metadata in %s: %w", path, err)
		}
		raw, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read metadata in %s: %w", path, err)
		}
		var ci comicInfo
		if err := xml.Unmarshal(raw, &ci); err != nil {
			return nil, fmt.Errorf("decode metadata in %s: %w", path, err)
		}
		return ci.toMetadata(), nil
	}
	return catalog.Metadata{}, nil
}

// WriteTags rewrites the archive with the given metadata as its
// ComicInfo.xml, replacing any existing one. The rewrite goes through a
// temp file and rename so a crash never corrupts the archive.
func (t *Tagger) WriteTags(ctx context.Context, path string, meta catalog.Metadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	src, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("open archive %s: %w", path, err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(filepath.Dir(path), ".maintainer-*")
	if err != nil {
		return fmt.Errorf("create temp archive: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	w := zip.NewWriter(tmp)
	for _, f := range src.File {
		if strings.EqualFold(filepath.Base(f.Name), metadataFileName) {
			continue
		}
		if err := copyZipEntry(w, f); err != nil {
			tmp.Close()
			return err
		}
	}

	raw, err := xml.MarshalIndent(fromMetadata(meta), "", "  ")
	if err != nil {
		tmp.Close()
		return fmt.Errorf("encode metadata: %w", err)
	}
	entry, err := w.Create(metadataFileName)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("create metadata entry: %w", err)
	}
	if _, err := entry.Write(append([]byte(xml.Header), raw...)); err != nil {
		tmp.Close()
		return fmt.Errorf("write metadata entry: %w", err)
	}
	if err := w.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("finalize archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp archive: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replace archive %s: %w", path, err)
	}
	return nil
}

func copyZipEntry(w *zip.Writer, f *zip.File) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open entry %s: %w", f.Name, err)
	}
	defer rc.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, rc); err != nil {
		return fmt.Errorf("read entry %s: %w", f.Name, err)
	}
	header := f.FileHeader
	out, err := w.CreateHeader(&header)
	if err != nil {
		return fmt.Errorf("create entry %s: %w", f.Name, err)
	}
	if _, err := out.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write entry %s: %w", f.Name, err)
	}
	return nil
}
