package service

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"time"

	a "bitwise74/canvas-api/aws"
	"bitwise74/canvas-api/internal/snapshot"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// Archiver periodically exports a full binary snapshot to S3, feeding
// offline timelapse rendering. Failures are logged and retried on the
// next tick, never fatal.
type Archiver struct {
	S3      *a.S3Client
	Builder *snapshot.Builder
}

// Archive attaches the export ticker. Mirrors the shape of the other
// periodic services.
func Archive(t time.Duration, s3c *a.S3Client, b *snapshot.Builder) {
	arch := &Archiver{S3: s3c, Builder: b}
	ticker := time.NewTicker(t)

	zap.L().Debug("Snapshot archiver attached", zap.Duration("tick_every", t))

	go func() {
		for range ticker.C {
			if err := arch.Export(context.Background()); err != nil {
				zap.L().Error("Failed to export snapshot archive", zap.Error(err))
			}
		}
	}()
}

// Export encodes the current canvas and uploads it under
// snapshots/<unix>.bin.
func (ar *Archiver) Export(ctx context.Context) error {
	snap, err := ar.Builder.Build(0)
	if err != nil {
		return fmt.Errorf("failed to build archive snapshot, %w", err)
	}

	buf, err := snapshot.Encode(snap)
	if err != nil {
		return fmt.Errorf("failed to encode archive snapshot, %w", err)
	}

	key := "snapshots/" + strconv.FormatInt(time.Now().Unix(), 10) + ".bin"

	uploader := manager.NewUploader(ar.S3.C)
	_, err = uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      ar.S3.Bucket,
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload snapshot archive, %w", err)
	}

	zap.L().Info("Snapshot archive uploaded",
		zap.String("key", key),
		zap.Int("points", len(snap.Points)),
		zap.Int("bytes", len(buf)))

	return nil
}
