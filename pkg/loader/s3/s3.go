package s3

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/sync/singleflight"

	"github.com/OFFIS-RIT/batchgraph/pkg/loader"
)

// ObjectGetter is the part of *s3.Client the loader uses.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3FileLoader loads file contents from an S3 bucket. Paths are either plain
// keys in the default bucket or s3://bucket/key URIs.
type S3FileLoader struct {
	bucket string
	client ObjectGetter

	cache   map[string][]byte
	cacheMu sync.RWMutex
	group   singleflight.Group
}

func NewS3FileLoaderWithClient(bucket string, client ObjectGetter) *S3FileLoader {
	return &S3FileLoader{
		bucket: bucket,
		client: client,
		cache:  make(map[string][]byte),
	}
}

func (l *S3FileLoader) locate(path string) (string, string) {
	if bucket, key, ok := loader.SplitS3URI(path); ok {
		return bucket, key
	}
	return l.bucket, path
}

// GetFile downloads the object. Results are cached per bucket and key.
func (l *S3FileLoader) GetFile(ctx context.Context, path string) ([]byte, error) {
	bucket, key := l.locate(path)
	cacheKey := bucket + "/" + key

	l.cacheMu.RLock()
	if cached, ok := l.cache[cacheKey]; ok {
		l.cacheMu.RUnlock()
		return cached, nil
	}
	l.cacheMu.RUnlock()

	result, err, _ := l.group.Do(cacheKey, func() (any, error) {
		out, err := l.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to get %s from S3: %w", cacheKey, err)
		}
		defer out.Body.Close()

		data, err := io.ReadAll(out.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", cacheKey, err)
		}

		l.cacheMu.Lock()
		l.cache[cacheKey] = data
		l.cacheMu.Unlock()

		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}
