package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"

	"pkt.systems/pslog"
	"pkt.systems/scrollback/core"
	"pkt.systems/scrollback/schema"
)

// GCSOpener uploads exports to Google Cloud Storage objects addressed as
// gs://bucket/object.
type GCSOpener struct {
	client *storage.Client
}

var _ core.SinkOpener = (*GCSOpener)(nil)

// NewGCSOpener constructs an opener over an existing client.
func NewGCSOpener(client *storage.Client) *GCSOpener {
	return &GCSOpener{client: client}
}

// Open implements core.SinkOpener.
func (o *GCSOpener) Open(_ context.Context, dest schema.Destination) (core.Sink, error) {
	if o.client == nil {
		return nil, errors.New("gcs client not configured")
	}
	bucket, object, err := ParseGCSURL(dest.URL)
	if err != nil {
		return nil, err
	}
	obj := o.client.Bucket(bucket).Object(object)
	contentType := dest.Format.ContentType()
	return newPumpSink("gcs", transferFunc(func(ctx context.Context, src *Reader) error {
		wctx, cancel := context.WithCancel(ctx)
		defer cancel()
		writer := obj.NewWriter(wctx)
		writer.ContentType = contentType
		if _, err := io.Copy(writer, src); err != nil {
			// Canceling before Close abandons the upload.
			cancel()
			_ = writer.Close()
			return fmt.Errorf("failed to write to GCS: %w", err)
		}
		if err := writer.Close(); err != nil {
			return fmt.Errorf("failed to finalize GCS object: %w", err)
		}
		pslog.Ctx(ctx).Info("export object written", "bucket", bucket, "object", object, "bytes", src.Total())
		return nil
	})), nil
}

// ParseGCSURL splits gs://bucket/object.
func ParseGCSURL(raw string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(raw, "gs://")
	if !ok {
		return "", "", fmt.Errorf("%w: %s", schema.ErrInvalidDestination, raw)
	}
	bucket, object, _ = strings.Cut(rest, "/")
	if bucket == "" || object == "" || strings.HasSuffix(object, "/") {
		return "", "", fmt.Errorf("%w: %s needs a bucket and an object name", schema.ErrInvalidDestination, raw)
	}
	return bucket, object, nil
}
