package documents

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"workorders/internal/apperr"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type S3Store struct {
	bucket string
	client s3API
}

func NewS3Store(ctx context.Context, region, bucket string) (*S3Store, error) {
	if bucket == "" {
		return nil, errors.New("documents: S3 bucket is empty")
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("documents: load aws config: %w", err)
	}
	return &S3Store{bucket: bucket, client: s3.NewFromConfig(cfg)}, nil
}

func (s *S3Store) Store(ctx context.Context, filename string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.New("documents: empty file")
	}
	key := newID(filename)
	contentType := ContentType(key, data)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: &contentType,
	})
	if err != nil {
		return "", fmt.Errorf("documents: put %s: %w", key, err)
	}
	return key, nil
}

func (s *S3Store) Retrieve(ctx context.Context, id string) ([]byte, error) {
	if !validID(id) {
		return nil, apperr.NotFound("document %s not found", id)
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(id),
	})
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return nil, apperr.NotFound("document %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("documents: get %s: %w", id, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (s *S3Store) Remove(ctx context.Context, id string) error {
	if !validID(id) {
		return nil
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(id),
	})
	return err
}
