package storageutil

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/pierrec/lz4/v4"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// ErrObjectNotFound indicates an object was not found.
var ErrObjectNotFound = errors.New("object not found")

const operationTimeout = 5 * time.Second

// CompressedWrite compresses and writes data to a bucket.
func CompressedWrite(ctx context.Context, b *blob.Bucket, objectName string, d interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	ow, err := b.NewWriter(ctx, objectName, nil)
	if err != nil {
		return err
	}
	zw := lz4.NewWriter(ow)
	_ = zw.Apply(lz4.CompressionLevelOption(lz4.Level9))
	err = json.NewEncoder(zw).Encode(d)
	if err != nil {
		_ = ow.Close()
		return err
	}
	err = zw.Close()
	if err != nil {
		_ = ow.Close()
		return err
	}
	return ow.Close()
}

// UnmarshalCompressed reads compressed JSON data from a bucket and unmarshals it.
// If the object doesn't exist, it returns an error wrapping ErrObjectNotFound.
func UnmarshalCompressed(ctx context.Context, b *blob.Bucket, objectName string, d interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	or, err := b.NewReader(ctx, objectName, nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return fmt.Errorf("%w: %s", ErrObjectNotFound, objectName)
		}
		return err
	}
	defer or.Close()
	zr := lz4.NewReader(or)
	return json.NewDecoder(zr).Decode(d)
}
