// Package loader reads event log files from the local filesystem or from S3
// and parses them into events.
package loader

import (
	"context"
	"strings"
)

// FileLoader fetches the raw content of a file.
type FileLoader interface {
	GetFile(ctx context.Context, path string) ([]byte, error)
}

// SplitS3URI splits s3://bucket/key into bucket and key. ok is false for any
// other path.
func SplitS3URI(path string) (bucket, key string, ok bool) {
	rest, found := strings.CutPrefix(path, "s3://")
	if !found {
		return "", "", false
	}
	bucket, key, found = strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}
