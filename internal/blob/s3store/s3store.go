// Package s3store keeps blobs in an S3 (or S3-compatible) bucket.
package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/mohammed-shakir/estate-geolayers/internal/blob"
)

// API is the subset of *s3.Client the store uses.
type API interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type Config struct {
	Bucket    string
	Region    string
	Endpoint  string // non-empty for MinIO and friends; forces path-style
	Prefix    string
	AccessKey string
	SecretKey string
}

type Store struct {
	api    API
	bucket string
	prefix string
}

func New(api API, bucket, prefix string) *Store {
	return &Store{api: api, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// Connect builds an S3 client from the default AWS chain, overridden by
// any static credentials or endpoint in cfg.
func Connect(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3store: bucket is required")
	}
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return New(client, cfg.Bucket, cfg.Prefix), nil
}

func (s *Store) key(p string) (string, error) {
	c, err := blob.Clean(p)
	if err != nil {
		return "", err
	}
	if s.prefix == "" {
		return c, nil
	}
	return s.prefix + "/" + c, nil
}

func (s *Store) Exists(ctx context.Context, p string) (bool, error) {
	k, err := s.key(p)
	if err != nil {
		return false, err
	}
	_, err = s.api.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(k)})
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("s3 HEAD %q: %w", k, err)
	}
	return true, nil
}

func (s *Store) Get(ctx context.Context, p string) ([]byte, error) {
	k, err := s.key(p)
	if err != nil {
		return nil, err
	}
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(k)})
	if isNotFound(err) {
		return nil, fmt.Errorf("s3 GET %q: %w", k, blob.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("s3 GET %q: %w", k, err)
	}
	defer func() { _ = out.Body.Close() }()
	b, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3 GET %q: read body: %w", k, err)
	}
	return b, nil
}

func (s *Store) Put(ctx context.Context, p string, data []byte) error {
	k, err := s.key(p)
	if err != nil {
		return err
	}
	_, err = s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(k),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/geo+json"),
	})
	if err != nil {
		return fmt.Errorf("s3 PUT %q: %w", k, err)
	}
	return nil
}

// MakeDirectory only validates dir; S3 prefixes exist implicitly.
func (s *Store) MakeDirectory(_ context.Context, dir string) error {
	_, err := s.key(dir)
	return err
}

func (s *Store) Delete(ctx context.Context, paths ...string) error {
	for _, p := range paths {
		k, err := s.key(p)
		if err != nil {
			return err
		}
		_, err = s.api.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(k)})
		if err != nil && !isNotFound(err) {
			return fmt.Errorf("s3 DELETE %q: %w", k, err)
		}
	}
	return nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}
