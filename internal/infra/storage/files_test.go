package storage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thumbnail-service/internal/domain"
	"thumbnail-service/internal/domain/model"
)

func TestKindFor(t *testing.T) {
	cases := []struct {
		ct   string
		kind model.MediaKind
		ok   bool
	}{
		{"image/png", model.MediaKindImage, true},
		{"IMAGE/JPEG", model.MediaKindImage, true},
		{"video/mp4; codecs=avc1", model.MediaKindVideo, true},
		{"video/quicktime", model.MediaKindVideo, true},
		{"application/pdf", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		kind, ok := KindFor(c.ct)
		assert.Equal(t, c.ok, ok, c.ct)
		assert.Equal(t, c.kind, kind, c.ct)
	}
}

func TestNames(t *testing.T) {
	name := StoredName("Holiday.PNG")
	assert.True(t, strings.HasSuffix(name, ".png"))
	assert.Len(t, name, 36+len(".png"))
	assert.NotEqual(t, name, StoredName("Holiday.PNG"))

	assert.Equal(t, "abc_thumb.jpg", ThumbnailName("abc.mp4"))
	assert.Equal(t, "abc_thumb.jpg", ThumbnailName("/x/y/abc.png"))
	assert.Equal(t, "noext_thumb.jpg", ThumbnailName("noext"))
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestFiles(t *testing.T) {
	logger := zerolog.Nop()
	root := t.TempDir()
	f, err := NewFiles(root, &logger)
	require.NoError(t, err)

	t.Run("should create both directories", func(t *testing.T) {
		for _, d := range []string{f.OriginalsDir(), f.ThumbnailsDir()} {
			st, err := os.Stat(d)
			require.NoError(t, err)
			assert.True(t, st.IsDir())
		}
	})

	t.Run("should save the original under a generated name", func(t *testing.T) {
		path, err := f.SaveOriginal(strings.NewReader("pixels"), "cat.jpg")
		require.NoError(t, err)
		assert.Equal(t, f.OriginalsDir(), filepath.Dir(path))
		assert.NotEqual(t, "cat.jpg", filepath.Base(path))

		b, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "pixels", string(b))

		thumb := f.ThumbnailPath(filepath.Base(path))
		assert.Equal(t, f.ThumbnailsDir(), filepath.Dir(thumb))
		assert.True(t, strings.HasSuffix(thumb, "_thumb.jpg"))
	})

	t.Run("should clean up after a failed copy", func(t *testing.T) {
		_, err := f.SaveOriginal(failingReader{}, "cat.jpg")
		require.Error(t, err)
		entries, err := os.ReadDir(f.OriginalsDir())
		require.NoError(t, err)
		for _, e := range entries {
			b, _ := os.ReadFile(filepath.Join(f.OriginalsDir(), e.Name()))
			assert.Equal(t, "pixels", string(b))
		}
	})

	t.Run("should reject empty names", func(t *testing.T) {
		_, err := f.SaveOriginal(strings.NewReader("x"), "  ")
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	})

	t.Run("should ignore missing files on remove", func(t *testing.T) {
		f.Remove(filepath.Join(root, "nope"))
	})
}
