// Package converter turns raw documents into Markdown.
package converter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/ragchat/internal/rag"
)

// ErrConversionFailed indicates a converter could not produce Markdown.
var ErrConversionFailed = errors.New("conversion failed")

// Converter converts one document to Markdown. ok is false with a nil error
// when the document's format is not handled.
type Converter interface {
	Convert(ctx context.Context, path string) (ok bool, markdown string, err error)
}

// Router dispatches documents to converters by lower-cased extension.
type Router struct {
	routes map[string]Converter
	logger *zap.Logger
}

// NewRouter creates an empty Router.
func NewRouter(logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{routes: make(map[string]Converter), logger: logger}
}

// Handle routes ext (with or without the dot) to c.
func (r *Router) Handle(ext string, c Converter) {
	r.routes[normalizeExt(ext)] = c
}

// Extensions returns the routed extensions, sorted.
func (r *Router) Extensions() []string {
	exts := make([]string, 0, len(r.routes))
	for ext := range r.routes {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Supports reports whether path has a routed extension.
func (r *Router) Supports(path string) bool {
	_, ok := r.routes[normalizeExt(filepath.Ext(path))]
	return ok
}

// Convert implements Converter.
func (r *Router) Convert(ctx context.Context, path string) (bool, string, error) {
	c, ok := r.routes[normalizeExt(filepath.Ext(path))]
	if !ok {
		r.logger.Warn("unsupported file format", zap.String("file", filepath.Base(path)))
		return false, "", nil
	}
	return c.Convert(ctx, path)
}

// OutputName is the converted file name for a raw document. Markdown keeps
// its name; other formats keep their extension in the stem (cv.pdf becomes
// cv.pdf.md) so cv.pdf and cv.docx never overwrite each other.
func OutputName(name string) string {
	if normalizeExt(filepath.Ext(name)) == ".md" {
		return name
	}
	return name + ".md"
}

// ConvertFile converts src and writes OutputName(src) into outDir, returning
// the written file's name.
func (r *Router) ConvertFile(ctx context.Context, src, outDir string) (string, error) {
	name := filepath.Base(src)
	ok, md, err := r.Convert(ctx, src)
	if err != nil {
		return "", fmt.Errorf("converting %s: %w", name, err)
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", rag.ErrUnsupportedFormat, name)
	}

	outName := OutputName(name)
	if err := writeAtomic(outDir, outName, md); err != nil {
		return "", err
	}
	r.logger.Info("converted document", zap.String("file", name), zap.String("output", outName))
	return outName, nil
}

func writeAtomic(dir, name, content string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: creating %s: %v", rag.ErrIO, dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: writing %s: %v", rag.ErrIO, name, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: writing %s: %v", rag.ErrIO, name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: writing %s: %v", rag.ErrIO, name, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("%w: writing %s: %v", rag.ErrIO, name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, name)); err != nil {
		return fmt.Errorf("%w: writing %s: %v", rag.ErrIO, name, err)
	}
	return nil
}

// ConvertFolder converts the named files in srcDir into outDir with at most
// concurrency conversions in flight. The first failure cancels the rest.
// Output names are returned in input order. Two inputs that map to the same
// output name are rejected with rag.ErrValidation before anything is
// converted.
func (r *Router) ConvertFolder(ctx context.Context, srcDir string, names []string, outDir string, concurrency int) ([]string, error) {
	if concurrency <= 0 {
		concurrency = 1
	}

	seen := make(map[string]string, len(names))
	for _, name := range names {
		outName := OutputName(filepath.Base(name))
		if prev, dup := seen[outName]; dup {
			return nil, fmt.Errorf("%w: %s and %s both convert to %s", rag.ErrValidation, prev, name, outName)
		}
		seen[outName] = name
	}

	out := make([]string, len(names))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, name := range names {
		g.Go(func() error {
			outName, err := r.ConvertFile(ctx, filepath.Join(srcDir, name), outDir)
			if err != nil {
				return err
			}
			mu.Lock()
			out[i] = outName
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// Markdown passes .md documents through unchanged.
type Markdown struct{}

// Convert implements Converter.
func (Markdown) Convert(ctx context.Context, path string) (bool, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, "", fmt.Errorf("%w: %s", rag.ErrNotFound, path)
		}
		return false, "", fmt.Errorf("%w: reading %s: %v", rag.ErrIO, path, err)
	}
	return true, string(data), nil
}
