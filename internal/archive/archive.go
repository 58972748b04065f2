package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Archive keeps every generated automation revision for audit. A nil
// *Archive is a valid no-op: callers never branch on configuration.
type Archive struct {
	client     *minio.Client
	bucketName string
	region     string
	initOnce   sync.Once
	initErr    error
}

type Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

func New(cfg Config) (*Archive, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("archive: endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("archive: access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("archive: bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("archive: init client: %w", err)
	}
	return &Archive{client: client, bucketName: bucket, region: region}, nil
}

func (a *Archive) ensureBucket(ctx context.Context) error {
	if a == nil || a.client == nil {
		return fmt.Errorf("archive: not configured")
	}
	a.initOnce.Do(func() {
		exists, err := a.client.BucketExists(ctx, a.bucketName)
		if err != nil {
			a.initErr = err
			return
		}
		if exists {
			return
		}
		a.initErr = a.client.MakeBucket(ctx, a.bucketName, minio.MakeBucketOptions{Region: a.region})
	})
	return a.initErr
}

// PutRevision stores one generated YAML revision for a suggestion.
func (a *Archive) PutRevision(ctx context.Context, suggestionID string, revision int, code string) error {
	if a == nil {
		return nil
	}
	if err := a.ensureBucket(ctx); err != nil {
		return err
	}
	key := revisionKey(suggestionID, revision)
	_, err := a.client.PutObject(ctx, a.bucketName, key,
		bytes.NewReader([]byte(code)), int64(len(code)),
		minio.PutObjectOptions{ContentType: "application/yaml"})
	if err != nil {
		return fmt.Errorf("archive: put %s: %w", key, err)
	}
	return nil
}

// GetRevision fetches one archived revision.
func (a *Archive) GetRevision(ctx context.Context, suggestionID string, revision int) (string, error) {
	if a == nil {
		return "", fmt.Errorf("archive: not configured")
	}
	if err := a.ensureBucket(ctx); err != nil {
		return "", err
	}
	key := revisionKey(suggestionID, revision)
	obj, err := a.client.GetObject(ctx, a.bucketName, key, minio.GetObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("archive: get %s: %w", key, err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return "", fmt.Errorf("archive: read %s: %w", key, err)
	}
	return string(data), nil
}

// ListRevisions returns the archived revision numbers for a suggestion,
// ascending.
func (a *Archive) ListRevisions(ctx context.Context, suggestionID string) ([]int, error) {
	if a == nil {
		return nil, nil
	}
	if err := a.ensureBucket(ctx); err != nil {
		return nil, err
	}
	prefix := fmt.Sprintf("suggestions/%s/", suggestionID)
	var out []int
	for obj := range a.client.ListObjects(ctx, a.bucketName, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		var rev int
		name := strings.TrimPrefix(obj.Key, prefix)
		if _, err := fmt.Sscanf(name, "rev-%d.yaml", &rev); err == nil {
			out = append(out, rev)
		}
	}
	sort.Ints(out)
	return out, nil
}

func revisionKey(suggestionID string, revision int) string {
	return fmt.Sprintf("suggestions/%s/rev-%d.yaml", suggestionID, revision)
}
