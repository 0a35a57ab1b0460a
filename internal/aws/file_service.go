package aws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"keywords/internal/storage"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"
)

// FileService stores spreadsheets in an S3 bucket under <prefix>/<area>/<name>
type FileService struct {
	s3       *s3.Client
	uploader *manager.Uploader
	bucket   string
	region   string
	prefix   string
}

func NewFileService(ctx context.Context, accessKey, secretKey, bucketName, region, prefix string) (*FileService, error) {
	// Create custom credentials
	credProvider := aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
		return aws.Credentials{
			AccessKeyID:     accessKey,
			SecretAccessKey: secretKey,
		}, nil
	})

	// Create custom config with credentials and region
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(credProvider),
	)
	if err != nil {
		return nil, err
	}

	// Create an Amazon S3 service client
	client := s3.NewFromConfig(cfg)

	log.Info().
		Str("bucket", bucketName).
		Str("region", region).
		Str("prefix", prefix).
		Msg("S3 file service initialized")

	return &FileService{
		s3:       client,
		uploader: manager.NewUploader(client),
		bucket:   bucketName,
		region:   region,
		prefix:   prefix,
	}, nil
}

func (s *FileService) key(area storage.Area, name string) (string, error) {
	if err := storage.ValidateName(name); err != nil {
		return "", err
	}
	return path.Join(s.prefix, string(area), name), nil
}

func (s *FileService) Put(ctx context.Context, area storage.Area, name string, file io.Reader) error {
	key, err := s.key(area, name)
	if err != nil {
		return err
	}

	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   file,
	})
	if err != nil {
		log.Error().Err(err).Str("bucket", s.bucket).Str("key", key).Msg("Failed to upload file")
		return err
	}

	log.Debug().Str("bucket", s.bucket).Str("key", key).Msg("Uploaded file")
	return nil
}

func (s *FileService) Open(ctx context.Context, area storage.Area, name string) (io.ReadCloser, error) {
	key, err := s.key(area, name)
	if err != nil {
		return nil, err
	}

	out, err := s.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotExist, name)
		}
		log.Error().Err(err).Str("bucket", s.bucket).Str("key", key).Msg("Failed to get file")
		return nil, err
	}

	return out.Body, nil
}

func (s *FileService) Health(ctx context.Context) error {
	// Try to list objects with max 1 result to test the connection
	_, err := s.s3.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(s.prefix),
		MaxKeys: aws.Int32(1), // Only fetch 1 key to minimize data transfer
	})
	if err != nil {
		log.Error().Err(err).Str("bucket", s.bucket).Msg("AWS S3 health check failed")
		return err
	}

	return nil
}
