package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	"github.com/trackvault/api/internal/config"
	"github.com/trackvault/api/internal/model"
)

// ErrOutsideNamespace is returned when a ref does not resolve inside the
// caller's storage namespace.
var ErrOutsideNamespace = errors.New("object outside owner namespace")

// ErrRangeNotSatisfiable is returned by Fetch when the requested byte
// range is malformed or lies outside the object.
var ErrRangeNotSatisfiable = errors.New("requested range not satisfiable")

// StoredObject is a ranged or full read of one stored audio object.
type StoredObject struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
	ContentRange  string // set on partial reads
}

// StorageClient is the remote upload sink. All operations are scoped to
// an owner namespace prefix; refs outside the prefix are refused.
type StorageClient interface {
	Upload(ctx context.Context, prefix, name string, body io.Reader, contentType string) (string, error)
	List(ctx context.Context, prefix string) ([]model.Track, error)
	Fetch(ctx context.Context, prefix, ref, rangeHeader string) (*StoredObject, error)
	Delete(ctx context.Context, prefix, ref string) error
}

// R2Client implements StorageClient for Cloudflare R2
type R2Client struct {
	s3Client   *s3.Client
	bucketName string
}

// NewR2Client creates a new R2 storage client
func NewR2Client(cfg *config.R2Config) (*R2Client, error) {
	if cfg.AccountID == "" || cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, fmt.Errorf("R2 configuration incomplete")
	}

	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)

	r2Resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{
			URL: endpoint,
		}, nil
	})

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithEndpointResolverWithOptions(r2Resolver),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		awsconfig.WithRegion("auto"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &R2Client{
		s3Client:   s3.NewFromConfig(awsCfg),
		bucketName: cfg.BucketName,
	}, nil
}

// resolveKey validates that ref lives inside the owner prefix and
// returns the full object key.
func resolveKey(prefix, ref string) (string, error) {
	if ref == "" || strings.Contains(ref, "..") {
		return "", ErrOutsideNamespace
	}
	key := ref
	if !strings.HasPrefix(key, prefix+"/") {
		key = prefix + "/" + ref
	}
	if !strings.HasPrefix(key, prefix+"/") {
		return "", ErrOutsideNamespace
	}
	return key, nil
}

// Upload streams body into a new object under the owner prefix and
// returns its ref. The body is piped through without buffering.
func (c *R2Client) Upload(ctx context.Context, prefix, name string, body io.Reader, contentType string) (string, error) {
	ref := fmt.Sprintf("%s/%s-%s", prefix, uuid.New().String()[:8], name)

	input := &s3.PutObjectInput{
		Bucket:      aws.String(c.bucketName),
		Key:         aws.String(ref),
		Body:        body,
		ContentType: aws.String(contentType),
	}

	if _, err := c.s3Client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("failed to upload to R2: %w", err)
	}
	return ref, nil
}

// List returns the owner's stored tracks, newest first.
func (c *R2Client) List(ctx context.Context, prefix string) ([]model.Track, error) {
	var tracks []model.Track

	paginator := s3.NewListObjectsV2Paginator(c.s3Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucketName),
		Prefix: aws.String(prefix + "/"),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list R2 objects: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			created := time.Time{}
			if obj.LastModified != nil {
				created = *obj.LastModified
			}
			tracks = append(tracks, model.Track{
				Ref:       key,
				Name:      displayName(key),
				Size:      aws.ToInt64(obj.Size),
				CreatedAt: created,
			})
		}
	}
	return tracks, nil
}

// displayName strips the owner prefix and the uuid fragment from a key.
func displayName(key string) string {
	base := key
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[i+1:]
	}
	if i := strings.Index(base, "-"); i == 8 {
		base = base[9:]
	}
	return base
}

// Fetch opens a stored object, optionally as a byte range. rangeHeader
// is passed through in HTTP Range format ("bytes=start-end").
func (c *R2Client) Fetch(ctx context.Context, prefix, ref, rangeHeader string) (*StoredObject, error) {
	key, err := resolveKey(prefix, ref)
	if err != nil {
		return nil, err
	}

	input := &s3.GetObjectInput{
		Bucket: aws.String(c.bucketName),
		Key:    aws.String(key),
	}
	if rangeHeader != "" {
		input.Range = aws.String(rangeHeader)
	}

	out, err := c.s3Client.GetObject(ctx, input)
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.ErrorCode() {
			case "InvalidRange":
				return nil, ErrRangeNotSatisfiable
			case "NoSuchKey":
				return nil, ErrObjectNotFound
			}
		}
		return nil, fmt.Errorf("failed to fetch from R2: %w", err)
	}

	return &StoredObject{
		Body:          out.Body,
		ContentType:   aws.ToString(out.ContentType),
		ContentLength: aws.ToInt64(out.ContentLength),
		ContentRange:  aws.ToString(out.ContentRange),
	}, nil
}

// Delete removes a stored object from the owner namespace.
func (c *R2Client) Delete(ctx context.Context, prefix, ref string) error {
	key, err := resolveKey(prefix, ref)
	if err != nil {
		return err
	}

	input := &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucketName),
		Key:    aws.String(key),
	}

	if _, err := c.s3Client.DeleteObject(ctx, input); err != nil {
		return fmt.Errorf("failed to delete from R2: %w", err)
	}
	return nil
}

// IsConfigured returns true if the client has valid configuration
func (c *R2Client) IsConfigured() bool {
	return c.s3Client != nil && c.bucketName != ""
}
