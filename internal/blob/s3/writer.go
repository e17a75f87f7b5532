package s3blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/alanyoungcy/fusionbot/internal/domain"
)

// minPartSize is the smallest part S3 accepts in a multipart upload.
const minPartSize int64 = 5 << 20

// Writer implements domain.BlobWriter on the client's bucket.
type Writer struct {
	api    *s3.Client
	bucket string
}

func NewWriter(c *Client) *Writer {
	return &Writer{api: c.S3(), bucket: c.Bucket()}
}

func (w *Writer) object(path string, body io.Reader) *s3.PutObjectInput {
	return &s3.PutObjectInput{
		Bucket: aws.String(w.bucket),
		Key:    aws.String(path),
		Body:   body,
	}
}

// Put uploads data in a single PutObject request.
func (w *Writer) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	in := w.object(path, data)
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if _, err := w.api.PutObject(ctx, in); err != nil {
		return fmt.Errorf("s3blob: put %s: %w", path, err)
	}
	return nil
}

// PutMultipart streams data through the upload manager in parts of at least
// 5 MiB.
func (w *Writer) PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error {
	uploader := manager.NewUploader(w.api, func(u *manager.Uploader) {
		u.PartSize = max(partSize, minPartSize)
	})
	in := w.object(path, data)
	in.ContentType = aws.String(archiveContentType)
	if _, err := uploader.Upload(ctx, in); err != nil {
		return fmt.Errorf("s3blob: multipart put %s: %w", path, err)
	}
	return nil
}

// Exists reports whether an object is stored at path.
func (w *Writer) Exists(ctx context.Context, path string) (bool, error) {
	_, err := w.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(w.bucket),
		Key:    aws.String(path),
	})
	switch {
	case err == nil:
		return true, nil
	case isNotFound(err):
		return false, nil
	default:
		return false, fmt.Errorf("s3blob: head %s: %w", path, err)
	}
}

// isNotFound covers the typed SDK errors and the bare 404 some
// S3-compatible stores send for HEAD requests.
func isNotFound(err error) bool {
	var (
		noKey    *types.NoSuchKey
		notFound *types.NotFound
		noBucket *types.NoSuchBucket
		status   interface{ HTTPStatusCode() int }
	)
	switch {
	case errors.As(err, &noKey), errors.As(err, &notFound), errors.As(err, &noBucket):
		return true
	case errors.As(err, &status):
		return status.HTTPStatusCode() == http.StatusNotFound
	}
	return false
}

var _ domain.BlobWriter = (*Writer)(nil)
