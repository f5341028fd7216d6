package yosegi

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Client wraps the S3 client used to publish build artifacts to an
// S3-compatible bucket (the producer side of the HTTP build cache).
type S3Client struct {
	Client     *s3.Client
	BucketName string
}

// NewS3Client initializes a client from the upload configuration.
func NewS3Client(uc *UploadConfig) (*S3Client, error) {
	if uc.Endpoint == "" || uc.AccessKey == "" || uc.SecretKey == "" || uc.Bucket == "" {
		return nil, fmt.Errorf("upload credentials missing in configuration (endpoint, access_key, secret_key, bucket)")
	}

	region := uc.Region
	if region == "" {
		region = "auto"
	}

	options := []func(*config.LoadOptions) error{
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(uc.AccessKey, uc.SecretKey, "")),
		config.WithRegion(region),
	}

	if Debug {
		options = append(options, config.WithClientLogMode(aws.LogRetries|aws.LogRequest|aws.LogResponse))
	}

	awsCfg, err := config.LoadDefaultConfig(context.TODO(), options...)
	if err != nil {
		return nil, fmt.Errorf("failed to load upload config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(uc.Endpoint)
		o.UsePathStyle = true
	})

	return &S3Client{
		Client:     client,
		BucketName: uc.Bucket,
	}, nil
}

// UploadLocalFile uploads a file from disk.
func (c *S3Client) UploadLocalFile(ctx context.Context, key, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return err
	}

	contentType := "application/octet-stream"
	if strings.HasSuffix(key, ".tar") {
		contentType = "application/x-tar"
	}

	_, err = c.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.BucketName),
		Key:           aws.String(key),
		Body:          file,
		ContentLength: aws.Int64(stat.Size()),
		ContentType:   aws.String(contentType),
	})
	return err
}

// UploadBytes uploads an in-memory object.
func (c *S3Client) UploadBytes(ctx context.Context, key string, body []byte) error {
	_, err := c.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.BucketName),
		Key:           aws.String(key),
		Body:          strings.NewReader(string(body)),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String("application/octet-stream"),
	})
	return err
}
