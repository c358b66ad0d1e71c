package batch

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/logflow/dqengine/pkg/config"
	dqerrors "github.com/logflow/dqengine/pkg/errors"
)

// ObjectFetcher downloads remote objects.
type ObjectFetcher interface {
	Fetch(ctx context.Context, bucket, key string, w io.Writer) (int64, error)
}

// GetObjectAPI is the subset of the S3 client used for downloads.
type GetObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Fetcher downloads objects with the AWS SDK.
type S3Fetcher struct {
	api     GetObjectAPI
	timeout time.Duration
}

// NewS3Fetcher creates a fetcher from configuration. Explicit credentials are
// used when both keys are set, otherwise the default chain applies.
func NewS3Fetcher(ctx context.Context, cfg config.S3Config) (*S3Fetcher, error) {
	var opts []func(*awsconfig.LoadOptions) error

	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, dqerrors.Wrap(err, dqerrors.CodeStorage, "failed to load AWS config")
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return NewS3FetcherWithAPI(s3.NewFromConfig(awsCfg, s3Opts...)), nil
}

// NewS3FetcherWithAPI wraps an existing client.
func NewS3FetcherWithAPI(api GetObjectAPI) *S3Fetcher {
	return &S3Fetcher{api: api, timeout: 5 * time.Minute}
}

// Fetch copies the object body into w.
func (f *S3Fetcher) Fetch(ctx context.Context, bucket, key string, w io.Writer) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	out, err := f.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, dqerrors.Wrap(err, dqerrors.CodeStorage, fmt.Sprintf("failed to get object %s/%s", bucket, key))
	}
	defer out.Body.Close()

	n, err := io.Copy(w, out.Body)
	if err != nil {
		return n, dqerrors.Wrap(err, dqerrors.CodeStorage, "failed to download object")
	}
	return n, nil
}
