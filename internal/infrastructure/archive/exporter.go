package archive

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/meridianid/audit-ledger-backend/internal/domain/errors"
	"github.com/meridianid/audit-ledger-backend/internal/domain/ledger"
	"github.com/meridianid/audit-ledger-backend/internal/infrastructure/config"
)

// Exporter writes sealed ledger ranges to S3 as gzip-compressed JSONL
// objects and answers durability checks against the uploaded objects.
type Exporter struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
	logger   *zap.Logger
}

// ExportResult describes one uploaded archive object
type ExportResult struct {
	ObjectKey        string
	FileName         string
	FileSize         int64
	CompressionRatio float64
	StorageLocation  string
}

// NewExporter builds an Exporter from the archive configuration. A custom
// endpoint routes to S3-compatible stores in development.
func NewExporter(ctx context.Context, cfg config.ArchiveConfig, logger *zap.Logger) (*Exporter, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 10 * 1024 * 1024
		u.Concurrency = 3
	})

	return &Exporter{
		client:   client,
		uploader: uploader,
		bucket:   cfg.Bucket,
		prefix:   cfg.Prefix,
		logger:   logger,
	}, nil
}

// Export compresses and uploads a contiguous event range. day names the
// object; events must already be ordered by sequence.
func (e *Exporter) Export(ctx context.Context, chainID string, day time.Time, events []*ledger.Event) (*ExportResult, error) {
	if len(events) == 0 {
		return nil, errors.NewValidationError("EMPTY_ARCHIVE",
			"cannot export an empty event range")
	}

	compressed, rawSize, err := EncodeArchive(events)
	if err != nil {
		return nil, err
	}

	fileName := fmt.Sprintf("%s-%s.jsonl.gz", chainID, day.Format("20060102"))
	objectKey := fmt.Sprintf("%s/%s/%s/%s",
		e.prefix, chainID, day.Format("2006/01"), fileName)

	_, err = e.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(e.bucket),
		Key:             aws.String(objectKey),
		Body:            bytes.NewReader(compressed),
		ContentType:     aws.String("application/gzip"),
		ContentEncoding: aws.String("gzip"),
		Metadata: map[string]string{
			"chain-id":       chainID,
			"event-count":    fmt.Sprintf("%d", len(events)),
			"sequence-start": events[0].SequenceID.String(),
			"sequence-end":   events[len(events)-1].SequenceID.String(),
		},
	})
	if err != nil {
		return nil, errors.NewExternalError("s3",
			fmt.Sprintf("failed to upload archive %s", objectKey)).WithCause(err)
	}

	ratio := 0.0
	if len(compressed) > 0 {
		ratio = float64(rawSize) / float64(len(compressed))
	}

	e.logger.Info("archive uploaded",
		zap.String("chain_id", chainID),
		zap.String("object_key", objectKey),
		zap.Int("events", len(events)),
		zap.Int64("compressed_bytes", int64(len(compressed))))

	return &ExportResult{
		ObjectKey:        objectKey,
		FileName:         fileName,
		FileSize:         int64(len(compressed)),
		CompressionRatio: ratio,
		StorageLocation:  fmt.Sprintf("s3://%s", e.bucket),
	}, nil
}

// Confirm checks that an uploaded object is durably present, comparing the
// stored size against the metadata recorded at seal time
func (e *Exporter) Confirm(ctx context.Context, objectKey string, expectedSize int64) (bool, error) {
	head, err := e.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(e.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		e.logger.Warn("archive confirmation failed",
			zap.String("object_key", objectKey), zap.Error(err))
		return false, nil
	}
	if head.ContentLength != nil && *head.ContentLength != expectedSize {
		e.logger.Warn("archive size mismatch",
			zap.String("object_key", objectKey),
			zap.Int64("stored", *head.ContentLength),
			zap.Int64("expected", expectedSize))
		return false, nil
	}
	return true, nil
}

// Fetch downloads and decodes an archived range
func (e *Exporter) Fetch(ctx context.Context, objectKey string) ([]*ledger.Event, error) {
	buf := manager.NewWriteAtBuffer(nil)
	downloader := manager.NewDownloader(e.client)
	_, err := downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(e.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		return nil, errors.NewExternalError("s3",
			fmt.Sprintf("failed to download archive %s", objectKey)).WithCause(err)
	}
	return DecodeArchive(buf.Bytes())
}
