package archive

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"lora-backend/internal/config"
)

// Uploader nahrává archivní soubory do jednoho bucketu.
type Uploader struct {
	mc     *minio.Client
	bucket string
}

// NewUploader vytvoří MinIO klienta. Síť se zatím nekontaktuje.
func NewUploader(cfg config.ArchiveConfig) (*Uploader, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("archive: chybí MINIO_ENDPOINT")
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, err
	}
	return &Uploader{mc: mc, bucket: cfg.Bucket}, nil
}

// Bucket vrací jméno cílového bucketu.
func (u *Uploader) Bucket() string { return u.bucket }

// EnsureBucket založí bucket, pokud neexistuje.
func (u *Uploader) EnsureBucket(ctx context.Context) error {
	exists, err := u.mc.BucketExists(ctx, u.bucket)
	if err != nil {
		return err
	}
	if !exists {
		return u.mc.MakeBucket(ctx, u.bucket, minio.MakeBucketOptions{})
	}
	return nil
}

// Upload streamuje r (o velikosti size) do objectName.
func (u *Uploader) Upload(ctx context.Context, objectName string, r io.Reader, size int64, contentType string) error {
	_, err := u.mc.PutObject(ctx, u.bucket, objectName, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}

// BuildObjectPath: <base>/year=YYYY/month=MM/day=DD/<file> podle UTC dne t.
func BuildObjectPath(basePath string, t time.Time, file string) string {
	t = t.UTC()
	return fmt.Sprintf("%s/year=%04d/month=%02d/day=%02d/%s",
		basePath, t.Year(), t.Month(), t.Day(), file)
}
