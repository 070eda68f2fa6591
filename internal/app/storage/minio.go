// Package storage archives finished transcripts to object storage.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"innervoice/internal/app/model"
)

// Config holds the MinIO connection settings.
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
	// Prefix is prepended to every object key.
	Prefix string `yaml:"prefix"`
}

// DefaultConfig points at a local MinIO with its stock credentials. Disabled.
func DefaultConfig() Config {
	return Config{
		Endpoint:  "localhost:9000",
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		Bucket:    "innervoice-transcripts",
		Prefix:    "transcripts",
	}
}

type objectStore interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64,
		opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Archive writes each terminal report with output as a JSON object and a plain text object.
type Archive struct {
	store   objectStore
	bucket  string
	prefix  string
	logger  *zap.Logger
	timeout time.Duration
	now     func() time.Time
}

// NewArchive connects to MinIO and makes sure the bucket exists.
func NewArchive(ctx context.Context, cfg Config, logger *zap.Logger) (*Archive, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}
	return newArchive(ctx, client, cfg, logger)
}

func newArchive(ctx context.Context, store objectStore, cfg Config, logger *zap.Logger) (*Archive, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Bucket == "" {
		cfg.Bucket = DefaultConfig().Bucket
	}

	exists, err := store.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		if err := store.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
		logger.Info("created archive bucket", zap.String("bucket", cfg.Bucket))
	}

	return &Archive{
		store:   store,
		bucket:  cfg.Bucket,
		prefix:  strings.Trim(cfg.Prefix, "/"),
		logger:  logger,
		timeout: 30 * time.Second,
		now:     time.Now,
	}, nil
}

// Key returns the object key without extension for a report.
func (a *Archive) Key(r model.Report) string {
	key := fmt.Sprintf("%s/%s", r.OwnerID, r.JobID)
	if a.prefix != "" {
		key = a.prefix + "/" + key
	}
	return key
}

// Store uploads the report. Reports without output are skipped.
func (a *Archive) Store(ctx context.Context, r model.Report) error {
	if r.Output == nil {
		return nil
	}
	key := a.Key(r)
	meta := map[string]string{
		"owner-id":    r.OwnerID,
		"job-id":      r.JobID,
		"status":      string(r.Status),
		"archived-at": a.now().UTC().Format(time.RFC3339),
	}

	doc, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := a.put(ctx, key+".json", "application/json", doc, meta); err != nil {
		return err
	}
	return a.put(ctx, key+".txt", "text/plain; charset=utf-8", []byte(RenderText(r.Output)), meta)
}

func (a *Archive) put(ctx context.Context, key, contentType string, body []byte, meta map[string]string) error {
	_, err := a.store.PutObject(ctx, a.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: meta,
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s to MinIO: %w", key, err)
	}
	return nil
}

// Sink adapts Store to a queue completion callback.
func (a *Archive) Sink() func(model.Report) {
	return func(r model.Report) {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		if err := a.Store(ctx, r); err != nil {
			a.logger.Error("failed to archive transcript",
				zap.String("job_id", r.JobID), zap.String("owner_id", r.OwnerID), zap.Error(err))
			return
		}
		if r.Output != nil {
			a.logger.Debug("transcript archived", zap.String("job_id", r.JobID), zap.String("key", a.Key(r)))
		}
	}
}

// RenderText lays out the sections under capitalized headings.
func RenderText(out *model.AssembledOutput) string {
	var b strings.Builder
	for i, s := range out.Sections {
		if i > 0 {
			b.WriteString("\n\n")
		}
		name := string(s.Kind)
		b.WriteString(strings.ToUpper(name[:1]) + name[1:])
		b.WriteString(":\n")
		b.WriteString(s.Text)
	}
	return b.String()
}
