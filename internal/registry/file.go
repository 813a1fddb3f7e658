package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/jpalmerr/pulsewatch/internal/atomicfile"
)

// document is the on-disk shape of the target list.
type document struct {
	URLs []string `json:"urls"`
}

// FileSource reads and writes the JSON target list document.
type FileSource struct {
	Path string
}

// NewFileSource returns a source backed by the document at path.
func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

// Targets reads the document. A missing file yields an empty list.
func (f *FileSource) Targets(_ context.Context) ([]string, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read target list: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse target list %s: %w", f.Path, err)
	}
	return doc.URLs, nil
}

// Save rewrites the whole document with urls.
func (f *FileSource) Save(urls []string) error {
	if urls == nil {
		urls = []string{}
	}
	data, err := json.MarshalIndent(document{URLs: urls}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode target list: %w", err)
	}
	data = append(data, '\n')

	if err := atomicfile.Write(f.Path, data); err != nil {
		return fmt.Errorf("failed to write target list: %w", err)
	}
	return nil
}

// Add validates url and appends it to the document. Adding a URL that is
// already present is an error.
func (f *FileSource) Add(ctx context.Context, url string) error {
	if err := check(url); err != nil {
		return err
	}
	urls, err := f.Targets(ctx)
	if err != nil {
		return err
	}
	if slices.Contains(urls, url) {
		return fmt.Errorf("target %q already registered", url)
	}
	return f.Save(append(urls, url))
}

// Remove deletes url from the document. It reports whether it was present.
func (f *FileSource) Remove(ctx context.Context, url string) (bool, error) {
	urls, err := f.Targets(ctx)
	if err != nil {
		return false, err
	}
	kept := slices.DeleteFunc(slices.Clone(urls), func(u string) bool { return u == url })
	if len(kept) == len(urls) {
		return false, nil
	}
	return true, f.Save(kept)
}
