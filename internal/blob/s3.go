package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/vdavid/vmail/mailcore/internal/mailerr"
)

// filenameMetadataKey is the object metadata entry holding the original file name.
const filenameMetadataKey = "filename"

// S3Options configures an S3Store. Endpoint and the static keys are optional;
// without keys the default AWS credential chain is used.
type S3Options struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// S3Store reads attachment blobs from an S3 bucket. Object keys are blob IDs.
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store creates a store for opts.Bucket. A custom endpoint switches to
// path-style addressing, which S3-compatible servers expect.
func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(opts.Region)}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Store(client, opts.Bucket), nil
}

func newS3Store(client *s3.Client, bucket string) *S3Store {
	return &S3Store{client: client, bucket: bucket}
}

// Open implements Store. The caller closes the returned reader.
func (s *S3Store) Open(ctx context.Context, id string) (io.ReadCloser, *Info, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(id),
	})
	if err != nil {
		return nil, nil, classifyS3Error(id, err)
	}

	info := &Info{
		ID:          id,
		Filename:    out.Metadata[filenameMetadataKey],
		ContentType: aws.ToString(out.ContentType),
		Size:        aws.ToInt64(out.ContentLength),
	}
	if info.Filename == "" {
		info.Filename = id
	}
	return out.Body, info, nil
}

func classifyS3Error(id string, err error) error {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return mailerr.NotFound("attachment %s not found", id)
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		switch code := respErr.HTTPStatusCode(); {
		case code == http.StatusNotFound:
			return mailerr.NotFound("attachment %s not found", id)
		case code >= 500:
			return mailerr.Connection("open attachment", err)
		}
	}

	return fmt.Errorf("failed to open attachment %s: %w", id, err)
}
