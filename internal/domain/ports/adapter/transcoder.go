package adapter

import (
	"context"

	"thumbnail-service/internal/domain/model"
)

type Transcoder interface {
	Transcode(ctx context.Context, src, dst string, kind model.MediaKind) error
}
