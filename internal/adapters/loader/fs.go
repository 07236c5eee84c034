package loader

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/manthysbr/olorin/internal/core/services"
)

// textExtensions lists the file types treated as archive sources.
var textExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".rst":      true,
}

// FSLoader reads archive source files from a directory tree.
type FSLoader struct {
	logger *slog.Logger
}

// NewFSLoader creates a filesystem-backed archive loader.
func NewFSLoader(logger *slog.Logger) *FSLoader {
	return &FSLoader{logger: logger}
}

var _ services.ArchiveLoader = (*FSLoader)(nil)

// Load walks root and returns every readable text file as a source.
// Hidden directories are skipped; unreadable files are logged and dropped.
func (l *FSLoader) Load(ctx context.Context, root string) ([]services.SourceFile, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("archive dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("archive dir is not a directory: %s", root)
	}

	var out []services.SourceFile
	err = filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			if strings.HasPrefix(entry.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if !textExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			l.logger.Warn("skipping unreadable file", "path", path, "error", err)
			return nil
		}
		text := strings.TrimSpace(string(data))
		if text == "" {
			return nil
		}

		out = append(out, services.SourceFile{
			Title: titleFromPath(path),
			Path:  path,
			Text:  text,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("archive sources loaded", "root", root, "files", len(out))
	return out, nil
}

func titleFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
