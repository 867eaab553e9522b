package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"video-subtitler/internal/config"
	"video-subtitler/internal/domain"
	"video-subtitler/internal/domain/ports/repository"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

var _ repository.ArtifactStore = (*S3Store)(nil)

// s3API is the subset of the S3 client used here.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Store keeps artifacts in a bucket and downloads them to a temp dir on Fetch.
type S3Store struct {
	api     s3API
	bucket  string
	prefix  string
	tempDir string
}

func NewS3Store(ctx context.Context, cfg config.S3Config, tempDir string) (*S3Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
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
	return newS3Store(client, cfg.Bucket, cfg.Prefix, tempDir), nil
}

func newS3Store(api s3API, bucket, prefix, tempDir string) *S3Store {
	return &S3Store{api: api, bucket: bucket, prefix: prefix, tempDir: tempDir}
}

func (s *S3Store) key(ref string) string { return path.Join(s.prefix, ref) }

func (s *S3Store) Put(ctx context.Context, ref string, r io.Reader) error {
	_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(ref)),
		Body:   r,
	})
	if err != nil {
		return fmt.Errorf("s3 put %s: %w", ref, err)
	}
	return nil
}

func (s *S3Store) Fetch(ctx context.Context, ref string) (string, func(), error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(ref)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return "", nil, fmt.Errorf("%w: %s", domain.ErrArtifactNotFound, ref)
		}
		return "", nil, fmt.Errorf("s3 get %s: %w", ref, err)
	}
	defer out.Body.Close()

	f, err := os.CreateTemp(s.tempDir, "artifact-*"+path.Ext(ref))
	if err != nil {
		return "", nil, err
	}
	release := func() { _ = os.Remove(f.Name()) }
	if _, err := io.Copy(f, out.Body); err != nil {
		f.Close()
		release()
		return "", nil, fmt.Errorf("s3 download %s: %w", ref, err)
	}
	if err := f.Close(); err != nil {
		release()
		return "", nil, err
	}
	return f.Name(), release, nil
}

func (s *S3Store) Delete(ctx context.Context, ref string) error {
	_, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(ref)),
	})
	if err != nil {
		return fmt.Errorf("s3 delete %s: %w", ref, err)
	}
	return nil
}
