// Copyright 2025 Winnow Data.
// SPDX-License-Identifier: Apache-2.0

// Package store reads dataset objects from an S3-compatible object
// store. The Store interface is the seam between the pipeline and the
// AWS SDK; tests substitute an in-memory implementation.
package store

import (
	"bytes"
	"context"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/pkg/errors"

	"github.com/winnowdata/winnow"
)

// Store is the read-only view of the remote dataset the pipeline needs.
type Store interface {
	// List returns every column-store object under prefix, sorted by
	// key. Two calls against an unchanged container return identical
	// listings; list order assigns shard indices. Any listing failure
	// is fatal, because a partial list would silently truncate the
	// dataset.
	List(ctx context.Context, prefix string) ([]winnow.SourceObject, error)

	// Get returns the full contents of one object.
	Get(ctx context.Context, key string) ([]byte, error)
}

// S3Store implements Store against an S3 bucket.
type S3Store struct {
	api    s3iface.S3API
	bucket string
}

// NewS3Store wraps an existing S3 client. The s3iface indirection keeps
// the client mockable.
func NewS3Store(api s3iface.S3API, bucket string) *S3Store {
	return &S3Store{api: api, bucket: bucket}
}

// S3Options configures OpenS3. Credentials come from the standard AWS
// chain (env, shared config, instance role); Endpoint supports
// S3-compatible stores like MinIO.
type S3Options struct {
	Region   string
	Endpoint string
}

// OpenS3 builds an S3Store from a fresh SDK session.
func OpenS3(bucket string, opts S3Options) (*S3Store, error) {
	cfg := aws.NewConfig()
	if opts.Region != "" {
		cfg = cfg.WithRegion(opts.Region)
	}
	if opts.Endpoint != "" {
		cfg = cfg.WithEndpoint(opts.Endpoint).WithS3ForcePathStyle(true)
	}
	sess, err := session.NewSessionWithOptions(session.Options{
		Config:            *cfg,
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating AWS session")
	}
	return NewS3Store(s3.New(sess), bucket), nil
}

// Bucket returns the bucket this store reads from.
func (s *S3Store) Bucket() string { return s.bucket }

// List walks every page of the bucket listing and keeps the parquet
// objects. The result is sorted so that an unchanged bucket always
// yields a byte-identical listing.
func (s *S3Store) List(ctx context.Context, prefix string) ([]winnow.SourceObject, error) {
	var objects []winnow.SourceObject
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
	}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}
	err := s.api.ListObjectsV2PagesWithContext(ctx, input,
		func(page *s3.ListObjectsV2Output, lastPage bool) bool {
			for _, obj := range page.Contents {
				key := aws.StringValue(obj.Key)
				if !strings.HasSuffix(key, winnow.ShardExt) {
					continue
				}
				objects = append(objects, winnow.SourceObject{
					Key:  key,
					Size: aws.Int64Value(obj.Size),
				})
			}
			return true
		})
	if err != nil {
		return nil, errors.Wrapf(err, "listing s3://%s/%s", s.bucket, prefix)
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

// Get downloads one object fully into memory.
func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.api.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "fetching s3://%s/%s", s.bucket, key)
	}
	defer out.Body.Close()

	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(out.Body); err != nil {
		return nil, errors.Wrapf(err, "reading s3://%s/%s", s.bucket, key)
	}
	return buf.Bytes(), nil
}
