package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/quiin/skip-key-provider/interfaces"
)

// S3Backend stores key records in an S3 or S3-compatible bucket. Objects are
// written private; the bucket is expected to be dedicated to the key
// provider and locked down accordingly.
type S3Backend struct {
	client      *s3.S3
	bucketName  string
	prefix      string
	log         *slog.Logger
	locationURI string
}

// NewS3Backend creates an S3 backend for the given bucket and key prefix.
// Credentials are optional; without them the SDK falls back to its default
// credential chain (environment, instance profile).
func NewS3Backend(bucketName, prefix, region, endpoint, accessKey, secretKey string, log *slog.Logger) (*S3Backend, error) {
	uri := fmt.Sprintf("s3://%s/%s?region=%s", bucketName, prefix, region)
	if accessKey != "" {
		uri = fmt.Sprintf("s3://%s:***@%s/%s?region=%s", accessKey, bucketName, prefix, region)
	}
	if endpoint != "" {
		uri += fmt.Sprintf("&endpoint=%s", endpoint)
	}

	cfg := aws.Config{
		Region: aws.String(region),
	}
	if endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
		cfg.S3ForcePathStyle = aws.Bool(true)
	}
	if accessKey != "" && secretKey != "" {
		cfg.Credentials = credentials.NewStaticCredentials(accessKey, secretKey, "")
	}

	sess, err := session.NewSession(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &S3Backend{
		client:      s3.New(sess),
		bucketName:  bucketName,
		prefix:      strings.TrimSuffix(prefix, "/"),
		log:         log,
		locationURI: uri,
	}, nil
}

func (b *S3Backend) objectKey(id interfaces.KeyID) string {
	name := id.String() + ".json"
	if b.prefix == "" {
		return name
	}
	return path.Join(b.prefix, name)
}

// Put stores or overwrites the record for its key ID.
func (b *S3Backend) Put(ctx context.Context, record *interfaces.KeyRecord) error {
	data, err := encodeRecord(record)
	if err != nil {
		return err
	}

	key := b.objectKey(record.KeyID)
	_, err = b.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
		ACL:    aws.String("private"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload key record to S3: %w", err)
	}

	b.log.Debug("Stored key record in S3",
		slog.String("keyId", record.KeyID.String()),
		slog.String("bucket", b.bucketName),
		slog.String("key", key))
	return nil
}

// Get retrieves a record by key ID.
func (b *S3Backend) Get(ctx context.Context, id interfaces.KeyID) (*interfaces.KeyRecord, error) {
	result, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(b.objectKey(id)),
	})
	if err != nil {
		if awsErr, ok := err.(awserr.Error); ok && awsErr.Code() == s3.ErrCodeNoSuchKey {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get key record from S3: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read S3 object body: %w", err)
	}

	return decodeRecord(data)
}

// Delete removes a record object. S3 treats deleting an absent object as
// success, matching the interface contract.
func (b *S3Backend) Delete(ctx context.Context, id interfaces.KeyID) error {
	_, err := b.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(b.objectKey(id)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete key record from S3: %w", err)
	}
	return nil
}

// List returns the IDs of all stored records under the configured prefix.
func (b *S3Backend) List(ctx context.Context) ([]interfaces.KeyID, error) {
	var ids []interfaces.KeyID

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucketName),
	}
	if b.prefix != "" {
		input.Prefix = aws.String(b.prefix + "/")
	}

	err := b.client.ListObjectsV2PagesWithContext(ctx, input,
		func(page *s3.ListObjectsV2Output, lastPage bool) bool {
			for _, obj := range page.Contents {
				name := strings.TrimSuffix(path.Base(aws.StringValue(obj.Key)), ".json")
				id, err := interfaces.ParseKeyID(name)
				if err != nil {
					continue
				}
				ids = append(ids, id)
			}
			return true
		})
	if err != nil {
		return nil, fmt.Errorf("failed to list key records in S3: %w", err)
	}

	return ids, nil
}

// Available checks bucket accessibility with a HEAD request.
func (b *S3Backend) Available(ctx context.Context) bool {
	_, err := b.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.bucketName),
	})
	if err != nil {
		b.log.Warn("S3 backend unavailable",
			slog.String("bucket", b.bucketName),
			"err", err)
		return false
	}
	return true
}

// Name returns a backend identifier including the bucket.
func (b *S3Backend) Name() string {
	return fmt.Sprintf("s3-%s", b.bucketName)
}

// LocationURI returns the URI this backend was created from, with the secret
// key redacted.
func (b *S3Backend) LocationURI() string {
	return b.locationURI
}
