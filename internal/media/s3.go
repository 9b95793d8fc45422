package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// DefaultPresignTTL is how long presigned GET URLs stay valid.
const DefaultPresignTTL = 15 * time.Minute

// S3Options configures an S3-compatible bucket.
type S3Options struct {
	Bucket          string
	Region          string
	Endpoint        string // empty for AWS itself
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
	UsePathStyle    bool
}

// buildableClient carries the dial and TLS settings of base over to an SDK
// client. The SDK can only add AWS_CA_BUNDLE roots to a BuildableClient.
func buildableClient(base *http.Client) *awshttp.BuildableClient {
	client := awshttp.NewBuildableClient().WithTimeout(base.Timeout)

	tr, ok := base.Transport.(*http.Transport)
	if !ok || tr == nil {
		return client
	}

	return client.WithTransportOptions(func(t *http.Transport) {
		if tr.Proxy != nil {
			t.Proxy = tr.Proxy
		}

		if tr.DialContext != nil {
			t.DialContext = tr.DialContext
		}

		if tr.TLSHandshakeTimeout > 0 {
			t.TLSHandshakeTimeout = tr.TLSHandshakeTimeout
		}

		if tr.TLSClientConfig != nil {
			t.TLSClientConfig = tr.TLSClientConfig.Clone()
		}
	})
}

// S3 keeps objects in an S3-compatible bucket.
type S3 struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	prefix  string
	nowFunc func() time.Time
}

// NewS3 creates an S3 provider. Static keys are used when given, otherwise
// the default AWS credential chain applies.
func NewS3(ctx context.Context, opts S3Options, httpClient *http.Client) (*S3, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("media: s3 bucket is required")
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(opts.Region)}

	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")))
	}

	if httpClient != nil {
		loadOpts = append(loadOpts, config.WithHTTPClient(buildableClient(httpClient)))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("media: loading s3 config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}

		o.UsePathStyle = opts.UsePathStyle
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})

	return &S3{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  opts.Bucket,
		prefix:  opts.Prefix,
		nowFunc: time.Now,
	}, nil
}

func (s *S3) Kind() Kind { return KindS3 }

func (s *S3) objectKey(key string) string {
	if s.prefix == "" {
		return key
	}

	return path.Join(s.prefix, key)
}

// Upload puts the object. Request signing needs a seekable body of known
// length, so other readers are spooled to a temp file first.
func (s *S3) Upload(ctx context.Context, key string, r io.Reader, contentType string) (Metadata, error) {
	body, size, cleanup, err := seekable(r)
	if err != nil {
		return Metadata{}, err
	}
	defer cleanup()

	in := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.objectKey(key)),
		Body:          body,
		ContentLength: aws.Int64(size),
	}

	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}

	if _, err := s.client.PutObject(ctx, in); err != nil {
		return Metadata{}, fmt.Errorf("media: s3 put %q: %w", key, err)
	}

	return Metadata{Key: key, Size: size, ContentType: contentType, ModTime: s.nowFunc().UTC()}, nil
}

func (s *S3) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return nil, s.classify("get", key, err)
	}

	return out.Body, nil
}

func (s *S3) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if err := s.classify("delete", key, err); !isNotFound(err) {
			return err
		}
	}

	return nil
}

func (s *S3) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Metadata(ctx, key)
	if err == nil {
		return true, nil
	}

	if isNotFound(err) {
		return false, nil
	}

	return false, err
}

func (s *S3) Metadata(ctx context.Context, key string) (Metadata, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return Metadata{}, s.classify("head", key, err)
	}

	md := Metadata{
		Key:         key,
		Size:        aws.ToInt64(out.ContentLength),
		ContentType: aws.ToString(out.ContentType),
	}

	if out.LastModified != nil {
		md.ModTime = out.LastModified.UTC()
	}

	return md, nil
}

// ResolveURL presigns a GET for the object.
func (s *S3) ResolveURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultPresignTTL
	}

	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("media: presigning %q: %w", key, err)
	}

	return req.URL, nil
}

func (s *S3) classify(op, key string, err error) error {
	var status interface{ HTTPStatusCode() int }
	if errors.As(err, &status) && status.HTTPStatusCode() == http.StatusNotFound {
		return notFound(KindS3, key)
	}

	return fmt.Errorf("media: s3 %s %q: %w", op, key, err)
}

// seekable returns r as a ReadSeeker with its remaining length.
func seekable(r io.Reader) (io.ReadSeeker, int64, func(), error) {
	noop := func() {}

	if rs, ok := r.(io.ReadSeeker); ok {
		cur, err := rs.Seek(0, io.SeekCurrent)
		if err == nil {
			end, err := rs.Seek(0, io.SeekEnd)
			if err == nil {
				if _, err := rs.Seek(cur, io.SeekStart); err == nil {
					return rs, end - cur, noop, nil
				}
			}
		}
	}

	tmp, err := os.CreateTemp("", "tonies-media-*")
	if err != nil {
		return nil, 0, noop, fmt.Errorf("media: creating spool file: %w", err)
	}

	cleanup := func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}

	n, err := io.Copy(tmp, r)
	if err != nil {
		cleanup()
		return nil, 0, noop, fmt.Errorf("media: spooling upload: %w", err)
	}

	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		cleanup()
		return nil, 0, noop, fmt.Errorf("media: rewinding spool file: %w", err)
	}

	return tmp, n, cleanup, nil
}
