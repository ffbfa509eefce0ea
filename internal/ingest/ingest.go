// Package ingest discovers input audio on disk and hands it to the
// decoder: path walking and extension-to-MIME mapping. Magic-byte
// sniffing happens in the decoder and the inline size guard in the
// semantic collaborator.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// SupportedFormats maps extensions to the MIME hints the decoder
// accepts.
var SupportedFormats = map[string]string{
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
	".m4a":  "audio/mp4",
	".mp4":  "audio/mp4",
}

// Source is one discovered input file with its raw bytes.
type Source struct {
	Path string
	Name string
	MIME string
	Size int64
	Data []byte
}

// Collect expands the given paths: files are taken as-is, directories
// are walked recursively for supported extensions. Unreadable entries
// are logged and skipped; only an empty result is an error.
func Collect(ctx context.Context, logger *slog.Logger, paths []string) ([]*Source, error) {
	var sources []*Source

	add := func(path string) {
		ext := strings.ToLower(filepath.Ext(path))
		mime, ok := SupportedFormats[ext]
		if !ok {
			return
		}
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("skipping unreadable file", "path", path, "error", err)
			return
		}
		sources = append(sources, &Source{
			Path: path,
			Name: strings.TrimSuffix(filepath.Base(path), ext),
			MIME: mime,
			Size: int64(len(data)),
			Data: data,
		})
	}

	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := os.Stat(p)
		if err != nil {
			logger.Warn("skipping missing path", "path", p, "error", err)
			continue
		}
		if !info.IsDir() {
			add(p)
			continue
		}
		err = filepath.WalkDir(p, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return nil // unreadable subtree, keep scanning
			}
			if cerr := ctx.Err(); cerr != nil {
				return cerr
			}
			if !d.IsDir() {
				add(path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	if len(sources) == 0 {
		return nil, fmt.Errorf("no supported audio files under %v", paths)
	}
	return sources, nil
}
