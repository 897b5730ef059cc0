package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rotisserie/eris"
)

// S3Config holds S3/MinIO connection settings.
type S3Config struct {
	Endpoint        string `yaml:"endpoint"` // e.g. http://localhost:9000
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Bucket          string `yaml:"bucket"`
	UseSSL          bool   `yaml:"use_ssl"`
	Region          string `yaml:"region"`
	Prefix          string `yaml:"prefix"`
}

// Enabled reports whether the config is complete enough to connect.
func (c S3Config) Enabled() bool {
	return c.Endpoint != "" && c.AccessKeyID != "" && c.SecretAccessKey != ""
}

// NormalizeEndpoint adds a scheme to a bare host:port endpoint.
func NormalizeEndpoint(endpoint string, useSSL bool) string {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return ""
	}
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}

// S3Client wraps an S3 client bound to one bucket.
type S3Client struct {
	client *s3.Client
	bucket string
}

// NewS3Client creates a path-style client for cfg.
func NewS3Client(cfg S3Config) (*S3Client, error) {
	if cfg.Endpoint == "" {
		return nil, eris.New("storage: S3 endpoint required")
	}
	if cfg.Bucket == "" {
		return nil, eris.New("storage: S3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	client := s3.NewFromConfig(aws.Config{
		Region:      region,
		Credentials: credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
	}, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(NormalizeEndpoint(cfg.Endpoint, cfg.UseSSL))
		o.UsePathStyle = true // required for MinIO
	})
	return &S3Client{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the bucket if it does not exist.
func (c *S3Client) EnsureBucket(ctx context.Context) error {
	if _, err := c.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)}); err == nil {
		return nil
	}
	_, err := c.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(c.bucket)})
	if err != nil {
		// created concurrently
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			return nil
		}
		return eris.Wrapf(err, "create bucket %s", c.bucket)
	}
	return nil
}

// Put writes an object.
func (c *S3Client) Put(ctx context.Context, key string, body io.Reader) error {
	_, err := c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
		Body:   body,
	})
	return eris.Wrapf(err, "put %q", key)
}

// Get reads an object. Missing keys yield ErrNotFound.
func (c *S3Client) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		var notFound *types.NotFound
		if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
			return nil, eris.Wrapf(ErrNotFound, "%q", key)
		}
		return nil, eris.Wrapf(err, "get %q", key)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	return data, eris.Wrapf(err, "read %q", key)
}

// List pages through every key under prefix.
func (c *S3Client) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	p := s3.NewListObjectsV2Paginator(c.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		out, err := p.NextPage(ctx)
		if err != nil {
			return nil, eris.Wrapf(err, "list %q", prefix)
		}
		for _, obj := range out.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
	}
	return keys, nil
}

// S3Store is an ObjectStore over an S3Client with an optional key prefix.
type S3Store struct {
	client *S3Client
	prefix string
}

// NewS3Store returns a store writing below prefix.
func NewS3Store(client *S3Client, prefix string) *S3Store {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &S3Store{client: client, prefix: prefix}
}

func (s *S3Store) Put(ctx context.Context, key string, data []byte) error {
	return s.client.Put(ctx, s.prefix+key, bytes.NewReader(data))
}

func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	return s.client.Get(ctx, s.prefix+key)
}

// List returns keys relative to the store prefix.
func (s *S3Store) List(ctx context.Context, prefix string) ([]string, error) {
	all, err := s.client.List(ctx, s.prefix+prefix)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(all))
	for _, k := range all {
		if k = strings.TrimPrefix(k, s.prefix); k != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
