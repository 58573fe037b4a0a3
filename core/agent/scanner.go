package agent

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"radiotiker/core/audio"
	"radiotiker/core/identity"
	"radiotiker/logger"
	"radiotiker/model"
)

// Scanner walks a library directory and builds track records.
type Scanner struct {
	root       string
	extensions map[string]bool

	// FFprobePath enables duration probing when set.
	FFprobePath string
}

func NewScanner(root string, extensions []string) *Scanner {
	exts := make(map[string]bool, len(extensions))
	for _, e := range extensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts[e] = true
	}
	return &Scanner{root: root, extensions: exts}
}

// Root returns the absolute library directory.
func (s *Scanner) Root() (string, error) {
	return filepath.Abs(s.root)
}

// Scan returns every audio file under the root. Hidden files and
// directories are skipped, as are files that cannot be stat'ed.
func (s *Scanner) Scan(ctx context.Context) ([]model.Track, error) {
	root, err := s.Root()
	if err != nil {
		return nil, fmt.Errorf("resolve library root: %w", err)
	}

	var tracks []model.Track
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			logger.Warn("skipping unreadable path", logger.String("path", path), logger.ErrorField(err))
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !s.extensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}

		track, err := s.track(ctx, root, path, d)
		if err != nil {
			logger.Warn("skipping file", logger.String("path", path), logger.ErrorField(err))
			return nil
		}
		tracks = append(tracks, track)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tracks, nil
}

func (s *Scanner) track(ctx context.Context, root, path string, d fs.DirEntry) (model.Track, error) {
	info, err := d.Info()
	if err != nil {
		return model.Track{}, err
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return model.Track{}, err
	}
	rel = filepath.ToSlash(rel)

	size := info.Size()
	mtime := info.ModTime().Unix()
	track := model.Track{
		TrackID:  identity.Fingerprint(rel, size, mtime),
		Title:    strings.TrimSuffix(d.Name(), filepath.Ext(d.Name())),
		Path:     path,
		RelPath:  identity.NormalizeRelPath(rel),
		FileSize: &size,
		MTime:    &mtime,
	}

	if s.FFprobePath != "" {
		if dur, err := audio.Duration(ctx, s.FFprobePath, path); err == nil {
			track.DurationSec = &dur
		} else {
			logger.Debug("duration probe failed", logger.String("path", path), logger.ErrorField(err))
		}
	}
	return track, nil
}
