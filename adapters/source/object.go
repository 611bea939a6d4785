package source

import (
	"context"
	"fmt"
	"io"

	"github.com/Skryldev/image-stream/core"
	apperrors "github.com/Skryldev/image-stream/errors"
	"github.com/Skryldev/image-stream/utils"
)

// ObjectClient is the minimal object-store interface the adapter needs.  This
// allows injection of an aws-sdk-go-v2 S3 client wrapper, MinIO, or a test
// double.
type ObjectClient interface {
	// GetObject returns the object body and its size, or -1 if unknown.
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error)
}

// Object opens images stored in an S3-compatible bucket.
type Object struct {
	client ObjectClient
	bucket string
	window int
}

// NewObject creates an object-store opener.  client must not be nil.
func NewObject(client ObjectClient, defaultBucket string, window int) (*Object, error) {
	if client == nil {
		return nil, fmt.Errorf("object source: client must not be nil")
	}
	return &Object{client: client, bucket: defaultBucket, window: window}, nil
}

// Open starts streaming bucket/key.  An empty bucket uses the default one.
func (o *Object) Open(ctx context.Context, bucket, key string) (*Resource, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategorySource, "object.open", err)
	}
	if bucket == "" {
		bucket = o.bucket
	}
	body, size, err := o.client.GetObject(ctx, bucket, key)
	if err != nil {
		return nil, apperrors.Transient("object.get", err)
	}
	expected := core.Unbounded
	if size >= 0 {
		expected = size
	}
	return &Resource{
		Stream:   NewStream(body, o.window),
		Name:     bucket + "/" + key,
		Expected: expected,
		Format:   core.Format(utils.FormatFromName(key)),
	}, nil
}
