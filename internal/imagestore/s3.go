package imagestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3 stores images as objects of one bucket under a key prefix.
type S3 struct {
	client s3API
	bucket string
	prefix string
}

// S3Options describe how to reach the bucket. An empty BaseEndpoint means AWS itself;
// otherwise path-style addressing is used, as MinIO expects.
type S3Options struct {
	Bucket       string
	Region       string
	BaseEndpoint string
	AccessKey    string
	SecretKey    string
}

var loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

// NewS3 builds the S3 client from the options.
func NewS3(ctx context.Context, options S3Options) (*S3, error) {
	loadOptions := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(options.Region),
	}
	if options.AccessKey != "" {
		loadOptions = append(loadOptions, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(options.AccessKey, options.SecretKey, ""),
		))
	}

	cfg, err := loadDefaultAWSConfig(ctx, loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("in internal/imagestore/s3.go/NewS3(): error while `config.LoadDefaultConfig()` calling: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if options.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(options.BaseEndpoint)
			o.UsePathStyle = true
		}
	})

	return newS3WithClient(client, options.Bucket), nil
}

func newS3WithClient(client s3API, bucket string) *S3 {
	return &S3{
		client: client,
		bucket: bucket,
		prefix: "uploads/",
	}
}

func (s *S3) key(name string) (string, error) {
	clean, err := CleanName(name)
	if err != nil {
		return "", err
	}

	return s.prefix + clean, nil
}

// Save uploads the image. The content is buffered because the SDK needs
// a seekable body to sign plain HTTP requests.
func (s *S3) Save(ctx context.Context, name string, content io.Reader) error {
	key, err := s.key(name)
	if err != nil {
		return err
	}

	data, err := io.ReadAll(content)
	if err != nil {
		return err
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})

	return err
}

func (s *S3) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	key, err := s.key(name)
	if err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, ErrNotExist
		}
		return nil, err
	}

	return out.Body, nil
}

// Delete removes the object. It reports false without error when the object is absent.
func (s *S3) Delete(ctx context.Context, name string) (bool, error) {
	key, err := s.key(name)
	if err != nil {
		return false, err
	}

	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, err
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return false, err
	}

	return true, nil
}
