// Package s3mirror copies content backups to an S3 bucket.
package s3mirror

import (
	"bytes"
	"context"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/keithlinneman/linnemanlabs-cv/internal/cryptoutil"
	"github.com/keithlinneman/linnemanlabs-cv/internal/log"
	"github.com/keithlinneman/linnemanlabs-cv/internal/xerrors"
)

// PutObjectAPI is the subset of *s3.Client the mirror needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type Options struct {
	Logger log.Logger
	Client PutObjectAPI

	// backups land at s3://{Bucket}/{Prefix}/{name}
	Bucket string
	Prefix string

	// SSE mode; empty leaves the bucket default
	ServerSideEncryption types.ServerSideEncryption
}

type Mirror struct {
	client PutObjectAPI
	bucket string
	prefix string
	sse    types.ServerSideEncryption
	logger log.Logger
}

func New(opts Options) (*Mirror, error) {
	if opts.Client == nil {
		return nil, xerrors.New("s3mirror: Client is required")
	}
	if opts.Bucket == "" {
		return nil, xerrors.New("s3mirror: Bucket is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	return &Mirror{
		client: opts.Client,
		bucket: opts.Bucket,
		prefix: strings.Trim(opts.Prefix, "/"),
		sse:    opts.ServerSideEncryption,
		logger: opts.Logger,
	}, nil
}

// Key returns the object key for a backup name.
func (m *Mirror) Key(name string) string {
	if m.prefix == "" {
		return name
	}
	return path.Join(m.prefix, name)
}

// PutBackup uploads one backup file. The object carries the SHA-256 of the
// bytes as metadata so a restore can be checked against it.
func (m *Mirror) PutBackup(ctx context.Context, name string, data []byte) error {
	key := m.Key(name)
	sum := cryptoutil.SHA256Hex(data)

	in := &s3.PutObjectInput{
		Bucket:        aws.String(m.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/json"),
		Metadata:      map[string]string{"sha256": sum},
	}
	if m.sse != "" {
		in.ServerSideEncryption = m.sse
	}

	if _, err := m.client.PutObject(ctx, in); err != nil {
		return xerrors.Wrapf(err, "put s3://%s/%s", m.bucket, key)
	}
	m.logger.Debug(ctx, "backup mirrored", "bucket", m.bucket, "key", key, "sha256", sum, "bytes", len(data))
	return nil
}
