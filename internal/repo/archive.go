package repo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Archive stores raw tool output and reports per run.
type Archive interface {
	Put(ctx context.Context, runID, name string, content []byte, contentType string) error
	List(ctx context.Context, runID string) ([]string, error)
}

// NoopArchive discards everything.
type NoopArchive struct{}

// Put discards content.
func (NoopArchive) Put(context.Context, string, string, []byte, string) error { return nil }

// List reports nothing.
func (NoopArchive) List(context.Context, string) ([]string, error) { return nil, nil }

// S3Config holds the S3-compatible endpoint settings.
type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// S3Archive writes run artefacts to a MinIO/S3 bucket under "<run>/<name>".
type S3Archive struct {
	client   *minio.Client
	bucket   string
	region   string
	initOnce sync.Once
	initErr  error
}

// NewS3Archive validates cfg and builds the client. No request is made until
// the first Put.
func NewS3Archive(cfg S3Config) (*S3Archive, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("archive endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, errors.New("archive access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, errors.New("archive bucket is required")
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
		return nil, fmt.Errorf("init archive client: %w", err)
	}
	return &S3Archive{client: client, bucket: bucket, region: region}, nil
}

func (a *S3Archive) ensureBucket(ctx context.Context) error {
	a.initOnce.Do(func() {
		exists, err := a.client.BucketExists(ctx, a.bucket)
		if err != nil {
			a.initErr = err
			return
		}
		if exists {
			return
		}
		a.initErr = a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{Region: a.region})
	})
	return a.initErr
}

// Put uploads content as <runID>/<name>.
func (a *S3Archive) Put(ctx context.Context, runID, name string, content []byte, contentType string) error {
	key, err := ObjectKey(runID, name)
	if err != nil {
		return err
	}
	if err := a.ensureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err = a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(content), int64(len(content)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// List returns the object names stored for runID, sorted.
func (a *S3Archive) List(ctx context.Context, runID string) ([]string, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, errors.New("run id is required")
	}
	if err := a.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket: %w", err)
	}
	prefix := runID + "/"
	var names []string
	for obj := range a.client.ListObjects(ctx, a.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		if obj.Key != "" {
			names = append(names, strings.TrimPrefix(obj.Key, prefix))
		}
	}
	sort.Strings(names)
	return names, nil
}

// ObjectKey joins runID and name, refusing names that climb out of the run prefix.
func ObjectKey(runID, name string) (string, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" || strings.Contains(runID, "/") {
		return "", fmt.Errorf("invalid run id %q", runID)
	}
	clean := path.Clean("/" + strings.TrimSpace(name))
	if clean == "/" {
		return "", errors.New("object name is required")
	}
	return runID + clean, nil
}

// OutputName is the object name for the raw output of one invocation.
func OutputName(toolID string, n int) string {
	return fmt.Sprintf("%s/%d.out", toolID, n)
}

// ReportName is the object name of the run report.
const ReportName = "report.json"
