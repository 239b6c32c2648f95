// Package s3 implements clusterfs.FS on Amazon S3.
//
// S3 has no rename, so Move is a copy followed by a delete. On its own that
// leaves a window in which two racing movers both copy; with identical,
// immutable payloads that is harmless. Configure a DynamoDB claim ledger to
// make Move strictly first-writer-wins:
//
//	aws dynamodb create-table \
//	  --table-name refstore-claims \
//	  --attribute-definitions AttributeName=name,AttributeType=S \
//	  --key-schema AttributeName=name,KeyType=HASH \
//	  --billing-mode PAY_PER_REQUEST
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/andreyvit/refstore/clusterfs"
)

// Client is the subset of *s3.Client used by FS.
type Client interface {
	manager.UploadAPIClient
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// LedgerClient is the subset of *dynamodb.Client used for move claims.
type LedgerClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

type Options struct {
	// Ledger and LedgerTable enable DynamoDB claims for Move.
	Ledger      LedgerClient
	LedgerTable string
	Now         func() time.Time
}

type FS struct {
	client   Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
	ledger   LedgerClient
	table    string
	owner    string
	now      func() time.Time
}

var _ clusterfs.FS = (*FS)(nil)

// New creates an S3-backed FS. rootPrefix is prepended to all keys
// (e.g. "refstore/").
func New(client Client, bucket, rootPrefix string, opt Options) *FS {
	if opt.Now == nil {
		opt.Now = time.Now
	}
	return &FS{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   rootPrefix,
		ledger:   opt.Ledger,
		table:    opt.LedgerTable,
		owner:    uuid.NewString(),
		now:      opt.Now,
	}
}

func (f *FS) key(name string) string {
	return path.Join(f.prefix, name)
}

func (f *FS) Exists(ctx context.Context, name string) (bool, error) {
	_, err := f.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(f.key(name)),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (f *FS) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	resp, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(f.key(name)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, clusterfs.ErrNotFound
		}
		return nil, err
	}
	return resp.Body, nil
}

// Put uploads r, switching to a multipart upload for large bodies.
// S3 makes the object visible only once the upload completes.
func (f *FS) Put(ctx context.Context, name string, r io.Reader) error {
	_, err := f.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(f.key(name)),
		Body:   r,
	})
	if err != nil {
		return fmt.Errorf("s3: put %s: %w", name, err)
	}
	return nil
}

func (f *FS) Move(ctx context.Context, from, to string) error {
	if f.ledger != nil {
		if err := f.claim(ctx, to); err != nil {
			return err
		}
	} else {
		exists, err := f.Exists(ctx, to)
		if err != nil {
			return err
		}
		if exists {
			return clusterfs.ErrExists
		}
	}

	_, err := f.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(f.bucket),
		Key:        aws.String(f.key(to)),
		CopySource: aws.String(copySource(f.bucket, f.key(from))),
	})
	if err != nil {
		if f.ledger != nil {
			if rerr := f.unclaim(context.WithoutCancel(ctx), to); rerr != nil {
				err = errors.Join(err, rerr)
			}
		}
		if isNotFound(err) {
			return clusterfs.ErrNotFound
		}
		return fmt.Errorf("s3: move %s to %s: %w", from, to, err)
	}
	return f.Remove(ctx, from)
}

// claim records ownership of a destination name in DynamoDB. Only the first
// claimant succeeds.
func (f *FS) claim(ctx context.Context, name string) error {
	_, err := f.ledger.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(f.table),
		Item: map[string]ddbtypes.AttributeValue{
			"name":       &ddbtypes.AttributeValueMemberS{Value: f.claimKey(name)},
			"owner":      &ddbtypes.AttributeValueMemberS{Value: f.owner},
			"claimed_at": &ddbtypes.AttributeValueMemberS{Value: f.now().UTC().Format(time.RFC3339)},
		},
		ConditionExpression: aws.String("attribute_not_exists(#n)"),
		ExpressionAttributeNames: map[string]string{
			"#n": "name",
		},
	})
	if err != nil {
		var condErr *ddbtypes.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return clusterfs.ErrExists
		}
		return fmt.Errorf("s3: claim %s: %w", name, err)
	}
	return nil
}

// unclaim drops a claim this FS holds on a name it failed to write.
func (f *FS) unclaim(ctx context.Context, name string) error {
	_, err := f.ledger.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(f.table),
		Key: map[string]ddbtypes.AttributeValue{
			"name": &ddbtypes.AttributeValueMemberS{Value: f.claimKey(name)},
		},
		ConditionExpression:      aws.String("#o = :o"),
		ExpressionAttributeNames: map[string]string{"#o": "owner"},
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":o": &ddbtypes.AttributeValueMemberS{Value: f.owner},
		},
	})
	if err != nil {
		var condErr *ddbtypes.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return nil
		}
		return fmt.Errorf("s3: unclaim %s: %w", name, err)
	}
	return nil
}

func (f *FS) claimKey(name string) string {
	return f.bucket + "/" + f.key(name)
}

func (f *FS) Remove(ctx context.Context, name string) error {
	_, err := f.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(f.key(name)),
	})
	if err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

func (f *FS) List(ctx context.Context, prefix string) ([]string, error) {
	root := strings.TrimSuffix(f.prefix, "/")
	fullPrefix := prefix
	if root != "" {
		fullPrefix = root + "/" + prefix
	}

	var names []string
	paginator := s3.NewListObjectsV2Paginator(f.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(f.bucket),
		Prefix: aws.String(fullPrefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			name := aws.ToString(obj.Key)
			if root != "" {
				name = strings.TrimPrefix(strings.TrimPrefix(name, root), "/")
			}
			if name != "" {
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names, nil
}

func copySource(bucket, key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return bucket + "/" + strings.Join(parts, "/")
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	return errors.As(err, &nsk)
}
