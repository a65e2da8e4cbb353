package transcode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"thumbnail-service/internal/domain/model"
	"thumbnail-service/internal/domain/ports/adapter"
)

var _ adapter.Transcoder = (*FFmpeg)(nil)

const (
	thumbSize = 128
	// mjpeg qscale; 3 is roughly libjpeg quality 85
	jpegQScale = 3
)

// FFmpeg renders thumbnails with the ffmpeg and ffprobe binaries: images are
// cover-cropped to 128x128, videos contribute the frame at half duration.
type FFmpeg struct {
	ffmpeg  string
	ffprobe string
	log     *zerolog.Logger
}

func NewFFmpeg(ffmpegPath, ffprobePath string, logger *zerolog.Logger) *FFmpeg {
	return &FFmpeg{ffmpeg: ffmpegPath, ffprobe: ffprobePath, log: logger}
}

func (f *FFmpeg) Transcode(ctx context.Context, src, dst string, kind model.MediaKind) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	var args []string
	switch kind {
	case model.MediaKindImage:
		args = imageArgs(src, dst)
	case model.MediaKindVideo:
		duration, err := f.probeDuration(ctx, src)
		if err != nil {
			return err
		}
		args = videoArgs(src, dst, duration/2)
	default:
		return fmt.Errorf("unsupported media kind %q", kind)
	}

	f.log.Debug().Str("src", src).Str("dst", dst).Strs("args", args).Msg("running ffmpeg")
	if _, err := run(ctx, f.ffmpeg, args); err != nil {
		return fmt.Errorf("ffmpeg: %w", err)
	}
	return nil
}

func scaleFilter() string {
	return fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d", thumbSize, thumbSize, thumbSize, thumbSize)
}

func imageArgs(src, dst string) []string {
	return []string{
		"-v", "error",
		"-i", src,
		"-vf", scaleFilter(),
		"-frames:v", "1",
		"-q:v", strconv.Itoa(jpegQScale),
		"-f", "image2",
		"-y",
		dst,
	}
}

func videoArgs(src, dst string, offset float64) []string {
	return []string{
		"-v", "error",
		"-ss", strconv.FormatFloat(offset, 'f', 3, 64),
		"-i", src,
		"-vf", scaleFilter(),
		"-frames:v", "1",
		"-q:v", strconv.Itoa(jpegQScale),
		"-f", "image2",
		"-y",
		dst,
	}
}

func (f *FFmpeg) probeDuration(ctx context.Context, src string) (float64, error) {
	out, err := run(ctx, f.ffprobe, []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		src,
	})
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}

	var probe struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(out, &probe); err != nil {
		return 0, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}
	d, err := strconv.ParseFloat(probe.Format.Duration, 64)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("ffprobe reported no duration for %s", filepath.Base(src))
	}
	return d, nil
}

// run executes bin and folds the last stderr line into the error.
func run(ctx context.Context, bin string, args []string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if msg := lastLine(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}
