// Package storage exports high level graph snapshots to S3 compatible object
// storage.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/OFFIS-RIT/batchgraph/internal/util"
	"github.com/OFFIS-RIT/batchgraph/pkg/common"
	"github.com/OFFIS-RIT/batchgraph/pkg/logger"
	"github.com/OFFIS-RIT/batchgraph/pkg/store"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const snapshotPrefix = "snapshots"

// ObjectStore is the part of *s3.Client the exporter uses.
type ObjectStore interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

func NewS3Client(ctx context.Context) (*s3.Client, error) {
	region := util.GetEnv("AWS_REGION")
	endpoint := util.GetEnv("AWS_ENDPOINT")
	accessKey := util.GetEnv("AWS_ACCESS_KEY")
	secretKey := util.GetEnv("AWS_SECRET_KEY")
	cfg, err := config.LoadDefaultConfig(
		ctx,
		config.WithRegion(region),
		config.WithBaseEndpoint(endpoint),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKey,
			secretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load S3 config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})
	return client, nil
}

// Snapshot is the exported view of one resource, optionally narrowed to a day.
type Snapshot struct {
	ResourceID string                  `json:"resource_id"`
	Date       string                  `json:"date,omitempty"`
	ExportedAt time.Time               `json:"exported_at"`
	Batches    []common.Batch          `json:"batches"`
	BatchEdges []common.ResourceEdge   `json:"batch_edges"`
	Nodes      []common.HighLevelBatch `json:"high_level_batches"`
	Edges      []common.HighLevelEdge  `json:"high_level_edges"`
}

type Exporter struct {
	client ObjectStore
	bucket string
	now    func() time.Time
}

func NewExporter(client ObjectStore, bucket string) *Exporter {
	return &Exporter{client: client, bucket: bucket, now: time.Now}
}

// NewExporterFromEnv builds an exporter on AWS_BUCKET.
func NewExporterFromEnv(ctx context.Context) (*Exporter, error) {
	client, err := NewS3Client(ctx)
	if err != nil {
		return nil, err
	}
	return NewExporter(client, util.GetEnv("AWS_BUCKET")), nil
}

// SnapshotKey is snapshots/<resource>/<yyyy-mm-dd>.json, or all.json when
// date is zero.
func SnapshotKey(resourceID string, date time.Time) string {
	name := "all"
	if !date.IsZero() {
		name = common.DayOf(date).Format(time.DateOnly)
	}
	return fmt.Sprintf("%s/%s/%s.json", snapshotPrefix, url.PathEscape(resourceID), name)
}

// Collect reads the snapshot of resourceID from repo.
func Collect(ctx context.Context, repo store.GraphRepository, resourceID string, date time.Time) (Snapshot, error) {
	snap := Snapshot{ResourceID: resourceID}
	if !date.IsZero() {
		snap.Date = common.DayOf(date).Format(time.DateOnly)
	}

	var err error
	if snap.Batches, err = repo.ListBatches(ctx, store.BatchFilter{ResourceID: resourceID, Date: date}); err != nil {
		return snap, fmt.Errorf("failed to list batches: %w", err)
	}
	if snap.BatchEdges, err = repo.ListResourceEdges(ctx, store.ResourceEdgeFilter{ResourceID: resourceID, Date: date}); err != nil {
		return snap, fmt.Errorf("failed to list batch edges: %w", err)
	}
	filter := store.HighLevelFilter{ResourceID: resourceID, Date: date}
	if snap.Nodes, err = repo.ListHighLevelBatches(ctx, filter); err != nil {
		return snap, fmt.Errorf("failed to list high level batches: %w", err)
	}
	if snap.Edges, err = repo.ListHighLevelEdges(ctx, filter); err != nil {
		return snap, fmt.Errorf("failed to list high level edges: %w", err)
	}
	return snap, nil
}

// Export uploads the snapshot of resourceID and returns its key.
func (e *Exporter) Export(ctx context.Context, repo store.GraphRepository, resourceID string, date time.Time) (string, error) {
	snap, err := Collect(ctx, repo, resourceID, date)
	if err != nil {
		return "", err
	}
	snap.ExportedAt = e.now().UTC()

	body, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}

	key := SnapshotKey(resourceID, date)
	_, err = e.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(e.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload snapshot to S3: %w", err)
	}

	logger.Info("[Storage] Snapshot exported", "resource", resourceID, "key", key,
		"nodes", len(snap.Nodes), "edges", len(snap.Edges))
	return key, nil
}

// Fetch downloads a previously exported snapshot.
func (e *Exporter) Fetch(ctx context.Context, key string) (Snapshot, error) {
	var snap Snapshot
	result, err := e.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(e.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return snap, fmt.Errorf("failed to get snapshot from S3: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return snap, fmt.Errorf("failed to read snapshot: %w", err)
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return snap, nil
}
