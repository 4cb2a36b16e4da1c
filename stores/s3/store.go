// Package s3 is the Store of tablespaces having protocol "s3".
package s3

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.lakehouse.dev/core/stores"
)

// StoreQueryArgs are the query arguments of an s3:// store URL. The s3
// options of a tablespace are passed through as arguments of the same name.
type StoreQueryArgs struct {
	Region   string
	Endpoint string
	// AllowHTTP permits a plain-text Endpoint, as with a local MinIO.
	AllowHTTP       bool   `schema:"allow_http"`
	AccessKeyID     string `schema:"access_key_id"`
	SecretAccessKey string `schema:"secret_access_key"`
	// Profile of the shared credentials file, used without static keys.
	Profile string
	// SSE is a server-side encryption mode, such as "AES256" or "aws:kms".
	SSE string
}

type store struct {
	bucket string
	prefix string
	args   StoreQueryArgs
	client *s3.S3
}

// New returns an S3 Store of the bucket and prefix of |ep|.
func New(ep *url.URL) (stores.Store, error) {
	var args StoreQueryArgs
	if err := stores.ParseQueryArgs(ep, &args); err != nil {
		return nil, err
	}
	var bucket, prefix = stores.SplitBucket(ep)

	var sess, err = session.NewSessionWithOptions(session.Options{
		Config:  *awsConfig(args),
		Profile: args.Profile,
	})
	if err != nil {
		return nil, errors.WithMessage(err, "building AWS session")
	}
	// The SDK defers region errors until the first request. Surface them
	// when the tablespace is first used instead.
	if aws.StringValue(sess.Config.Region) == "" {
		return nil, errors.Errorf("s3 bucket %q has no region (set the tablespace region option)", bucket)
	}
	creds, err := sess.Config.Credentials.Get()
	if err != nil {
		return nil, errors.WithMessagef(err, "resolving AWS credentials of profile %q", args.Profile)
	}

	log.WithFields(log.Fields{
		"bucket":   bucket,
		"prefix":   prefix,
		"region":   aws.StringValue(sess.Config.Region),
		"endpoint": args.Endpoint,
		"provider": creds.ProviderName,
	}).Info("opened s3 store")

	return &store{bucket: bucket, prefix: prefix, args: args, client: s3.New(sess)}, nil
}

func awsConfig(args StoreQueryArgs) *aws.Config {
	var cfg = aws.NewConfig().WithCredentialsChainVerboseErrors(true)

	if args.Region != "" {
		cfg = cfg.WithRegion(args.Region)
	}
	if args.AccessKeyID != "" && args.SecretAccessKey != "" {
		cfg = cfg.WithCredentials(credentials.NewStaticCredentials(args.AccessKeyID, args.SecretAccessKey, ""))
	}
	if args.Endpoint == "" {
		// Data files carry their own compression. Don't let the transport
		// negotiate and transparently undo a gzip encoding.
		return cfg.WithHTTPClient(&http.Client{Transport: &http.Transport{DisableCompression: true}})
	}
	// Virtual-hosted buckets don't resolve against a custom endpoint.
	return cfg.WithEndpoint(args.Endpoint).
		WithDisableSSL(args.AllowHTTP).
		WithS3ForcePathStyle(true)
}

func (s *store) Provider() string { return "s3" }

func (s *store) key(path string) *string { return aws.String(s.prefix + path) }

func (s *store) Exists(ctx context.Context, path string) (bool, error) {
	var _, err = s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    s.key(path),
	})
	if isStatus(err, http.StatusNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *store) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	var out, err = s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    s.key(path),
	})
	if err != nil {
		return nil, err
	}
	return out.Body, nil
}

func (s *store) Put(ctx context.Context, path string, content io.ReaderAt, contentLength int64, contentEncoding string) error {
	var in = &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    s.key(path),
		Body:   io.NewSectionReader(content, 0, contentLength),
	}
	if s.args.SSE != "" {
		in.ServerSideEncryption = aws.String(s.args.SSE)
	}
	if contentEncoding != "" {
		in.ContentEncoding = aws.String(contentEncoding)
	}
	var _, err = s.client.PutObjectWithContext(ctx, in)
	return err
}

func (s *store) List(ctx context.Context, prefix string, callback func(path string, modTime time.Time) error) error {
	var full = s.prefix + prefix
	var cbErr error

	var err = s.client.ListObjectsV2PagesWithContext(ctx,
		&s3.ListObjectsV2Input{Bucket: aws.String(s.bucket), Prefix: aws.String(full)},
		func(page *s3.ListObjectsV2Output, _ bool) bool {
			for _, obj := range page.Contents {
				var key = aws.StringValue(obj.Key)
				if strings.HasSuffix(key, "/") {
					continue // Prefix marker.
				}
				if cbErr = callback(strings.TrimPrefix(key, full), aws.TimeValue(obj.LastModified)); cbErr != nil {
					return false
				}
			}
			return true
		})

	if cbErr != nil {
		return cbErr
	}
	return err
}

func (s *store) Remove(ctx context.Context, path string) error {
	var _, err = s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    s.key(path),
	})
	return err
}

func (s *store) IsAuthError(err error) bool {
	var awsErr awserr.Error
	if !errors.As(err, &awsErr) {
		return false
	}
	switch awsErr.Code() {
	case s3.ErrCodeNoSuchBucket, s3ErrCodeAccessDenied:
		return true
	}
	return isStatus(err, http.StatusForbidden)
}

func isStatus(err error, status int) bool {
	var rf awserr.RequestFailure
	return errors.As(err, &rf) && rf.StatusCode() == status
}

// Not among the SDK's generated error code constants.
const s3ErrCodeAccessDenied = "AccessDenied"
