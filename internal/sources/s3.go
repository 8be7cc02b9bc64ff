package sources

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/surge-downloader/surgemirror/internal/engine/types"
	"github.com/surge-downloader/surgemirror/internal/utils"
)

// DefaultPresignExpiry is how long a presigned candidate stays valid
const DefaultPresignExpiry = time.Hour

// S3 offers presigned GET URLs for objects mirrored into a bucket under
// <prefix>/<owner>/<name>/<version>/<file>.
type S3 struct {
	Bucket   string
	Prefix   string
	Priority int
	Expiry   time.Duration

	client  *s3.Client
	presign *s3.PresignClient
}

// NewS3 loads the default AWS configuration (AWS_PROFILE honoured) and
// returns a provider for bucket.
func NewS3(ctx context.Context, bucket, prefix string) (*S3, error) {
	opts := []func(*config.LoadOptions) error{config.WithRetryMode(aws.RetryModeAdaptive)}
	if profile := os.Getenv("AWS_PROFILE"); profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.DisableLogOutputChecksumValidationSkipped = true
	})
	return NewS3FromClient(client, bucket, prefix), nil
}

// NewS3FromClient wraps an existing client
func NewS3FromClient(client *s3.Client, bucket, prefix string) *S3 {
	return &S3{
		Bucket:   bucket,
		Prefix:   strings.Trim(prefix, "/"),
		Priority: PriorityCDN,
		Expiry:   DefaultPresignExpiry,
		client:   client,
		presign:  s3.NewPresignClient(client),
	}
}

func (p *S3) Name() string { return "s3" }

// ObjectKey is where id is expected in the bucket
func (p *S3) ObjectKey(id types.FileIdentity) string {
	version := id.Version
	if id.Latest() {
		version = "latest"
	}
	parts := []string{id.Owner(), id.Name(), version, id.File}
	if p.Prefix != "" {
		parts = append([]string{p.Prefix}, parts...)
	}
	return strings.Join(parts, "/")
}

func (p *S3) DownloadURLs(ctx context.Context, id types.FileIdentity) ([]types.CandidateURL, error) {
	key := p.ObjectKey(id)

	head, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("s3 head %s/%s: %w", p.Bucket, key, err)
	}

	req, err := p.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(p.Expiry))
	if err != nil {
		return nil, fmt.Errorf("s3 presign %s/%s: %w", p.Bucket, key, err)
	}
	utils.Debug("s3: presigned %s/%s for %s", p.Bucket, key, p.Expiry)

	return []types.CandidateURL{{
		URL:            req.URL,
		SourceName:     p.Name(),
		Priority:       p.Priority,
		KnownSize:      aws.ToInt64(head.ContentLength),
		SupportsRanges: true,
	}}, nil
}

func (p *S3) HealthCheck(ctx context.Context) error {
	_, err := p.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(p.Bucket)})
	return err
}

func isNotFound(err error) bool {
	var nf *s3types.NotFound
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nf) || errors.As(err, &nsk) {
		return true
	}
	var re *awshttp.ResponseError
	return errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound
}
