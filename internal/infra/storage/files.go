package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"thumbnail-service/internal/domain"
	"thumbnail-service/internal/domain/model"
)

const (
	originalsDir  = "originals"
	thumbnailsDir = "thumbnails"
	thumbSuffix   = "_thumb.jpg"
)

var allowedTypes = map[string]model.MediaKind{
	"image/jpeg":      model.MediaKindImage,
	"image/png":       model.MediaKindImage,
	"image/gif":       model.MediaKindImage,
	"image/webp":      model.MediaKindImage,
	"video/mp4":       model.MediaKindVideo,
	"video/webm":      model.MediaKindVideo,
	"video/quicktime": model.MediaKindVideo,
}

// KindFor maps an upload's content type onto the media kind it is processed
// as. Types outside the allowlist report false.
func KindFor(contentType string) (model.MediaKind, bool) {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	kind, ok := allowedTypes[ct]
	return kind, ok
}

// Files lays uploads out under root: originals/<uuid><ext> and
// thumbnails/<uuid>_thumb.jpg.
type Files struct {
	root string
	log  *zerolog.Logger
}

func NewFiles(root string, logger *zerolog.Logger) (*Files, error) {
	f := &Files{root: root, log: logger}
	for _, dir := range []string{f.OriginalsDir(), f.ThumbnailsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return f, nil
}

func (f *Files) OriginalsDir() string  { return filepath.Join(f.root, originalsDir) }
func (f *Files) ThumbnailsDir() string { return filepath.Join(f.root, thumbnailsDir) }

// StoredName returns a collision-free name that keeps the original extension.
func StoredName(originalName string) string {
	return uuid.NewString() + strings.ToLower(filepath.Ext(originalName))
}

// ThumbnailName derives the thumbnail file name from a stored name.
func ThumbnailName(storedName string) string {
	base := filepath.Base(storedName)
	return strings.TrimSuffix(base, filepath.Ext(base)) + thumbSuffix
}

func (f *Files) OriginalPath(storedName string) string {
	return filepath.Join(f.OriginalsDir(), filepath.Base(storedName))
}

func (f *Files) ThumbnailPath(storedName string) string {
	return filepath.Join(f.ThumbnailsDir(), ThumbnailName(storedName))
}

// SaveOriginal copies r to a freshly named file and returns its path. A
// partially written file is removed on error.
func (f *Files) SaveOriginal(r io.Reader, originalName string) (string, error) {
	if strings.TrimSpace(originalName) == "" {
		return "", fmt.Errorf("%w: empty file name", domain.ErrInvalidArgument)
	}
	path := f.OriginalPath(StoredName(originalName))
	out, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("create original: %w", err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		f.Remove(path)
		return "", fmt.Errorf("write original: %w", err)
	}
	if err := out.Close(); err != nil {
		f.Remove(path)
		return "", fmt.Errorf("close original: %w", err)
	}
	return path, nil
}

// Remove deletes path, logging instead of failing.
func (f *Files) Remove(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		f.log.Warn().Err(err).Str("path", path).Msg("failed to remove file")
	}
}
