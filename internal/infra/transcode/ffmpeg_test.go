package transcode

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thumbnail-service/internal/domain/model"
)

// writeScript drops an executable shell script standing in for a binary.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return p
}

const writeLastArg = `for last; do :; done
echo "$@" > "$last.args"
echo thumb > "$last"`

func newFake(t *testing.T, ffmpegBody, ffprobeBody string) (*FFmpeg, string) {
	t.Helper()
	dir := t.TempDir()
	logger := zerolog.Nop()
	return NewFFmpeg(
		writeScript(t, dir, "ffmpeg", ffmpegBody),
		writeScript(t, dir, "ffprobe", ffprobeBody),
		&logger,
	), dir
}

func TestFFmpegTranscode(t *testing.T) {
	ctx := context.Background()

	t.Run("should render an image thumbnail", func(t *testing.T) {
		f, dir := newFake(t, writeLastArg, "exit 1")
		dst := filepath.Join(dir, "out", "a_thumb.jpg")

		require.NoError(t, f.Transcode(ctx, "a.png", dst, model.MediaKindImage))
		_, err := os.Stat(dst)
		assert.NoError(t, err)
	})

	t.Run("should seek to half the probed duration for videos", func(t *testing.T) {
		f, dir := newFake(t, writeLastArg, `echo '{"format":{"duration":"10.000000"}}'`)
		dst := filepath.Join(dir, "clip_thumb.jpg")

		require.NoError(t, f.Transcode(ctx, "clip.mp4", dst, model.MediaKindVideo))
		args, err := os.ReadFile(dst + ".args")
		require.NoError(t, err)
		assert.Contains(t, string(args), "-ss 5.000")
	})

	t.Run("should surface the ffmpeg diagnostic", func(t *testing.T) {
		f, dir := newFake(t, "echo 'frame decode' >&2\necho 'Invalid data found when processing input' >&2\nexit 1", "exit 1")
		err := f.Transcode(ctx, "broken.png", filepath.Join(dir, "x.jpg"), model.MediaKindImage)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Invalid data found when processing input")
	})

	t.Run("should fail when ffprobe finds no duration", func(t *testing.T) {
		f, dir := newFake(t, writeLastArg, `echo '{"format":{}}'`)
		err := f.Transcode(ctx, "clip.mp4", filepath.Join(dir, "x.jpg"), model.MediaKindVideo)
		assert.Error(t, err)
	})

	t.Run("should stop at the deadline", func(t *testing.T) {
		f, dir := newFake(t, "exec sleep 5", "exit 1")
		ctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		defer cancel()
		err := f.Transcode(ctx, "a.png", filepath.Join(dir, "x.jpg"), model.MediaKindImage)
		assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
	})

	t.Run("should reject unknown kinds", func(t *testing.T) {
		f, dir := newFake(t, writeLastArg, "exit 1")
		assert.Error(t, f.Transcode(ctx, "a.wav", filepath.Join(dir, "x.jpg"), model.MediaKind("audio")))
	})
}

func TestArgs(t *testing.T) {
	img := imageArgs("in.png", "out.jpg")
	assert.Equal(t, "out.jpg", img[len(img)-1])
	assert.Contains(t, img, "scale=128:128:force_original_aspect_ratio=increase,crop=128:128")

	vid := videoArgs("in.mp4", "out.jpg", 2.5)
	assert.Equal(t, []string{"-v", "error", "-ss", "2.500"}, vid[:4])
}
