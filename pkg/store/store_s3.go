package store

import (
	"bytes"
	"io"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/cenkalti/backoff/v4"
	"go.ytsaurus.tech/library/go/core/xerrors"
)

var (
	_ Store       = (*S3)(nil)
	_ StoreConfig = (*S3Config)(nil)
)

type S3Config struct {
	Endpoint         string
	TablePath        string
	Region           string
	AccessKey        string
	S3ForcePathStyle bool
	Secret           string
	Bucket           string
	UseSSL           bool
	VerifySSL        bool

	// PutRetries bounds upload retries; uploads must eventually surface errors
	// to fail the checkpoint rather than hang it.
	PutRetries uint64
}

func (s S3Config) isStoreConfig() {}

func (s *S3Config) WithDefaults() {
	if s.PutRetries == 0 {
		s.PutRetries = 5
	}
}

type S3 struct {
	config *S3Config
	client *s3.S3
}

func (s *S3) Root() string {
	return s.config.TablePath
}

func (s *S3) Read(path string) (io.ReadCloser, error) {
	data, err := s.client.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(path),
	})
	if aerr, ok := err.(awserr.Error); ok {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey:
			return nil, ErrFileNotFound
		}
	}
	if err != nil {
		return nil, xerrors.Errorf("unable to read object: %s: %w", path, err)
	}
	return data.Body, nil
}

func (s *S3) Put(path string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return xerrors.Errorf("unable to read body for: %s: %w", path, err)
	}
	upload := func() error {
		_, err := s.client.PutObject(&s3.PutObjectInput{
			Bucket: aws.String(s.config.Bucket),
			Key:    aws.String(path),
			Body:   bytes.NewReader(data),
		})
		return err
	}
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), s.config.PutRetries)
	if err := backoff.Retry(upload, policy); err != nil {
		return xerrors.Errorf("unable to put object: %s: %w", path, err)
	}
	return nil
}

func (s *S3) List(prefix string) ([]*FileMeta, error) {
	var res []*FileMeta
	err := s.client.ListObjectsPages(&s3.ListObjectsInput{
		Bucket: aws.String(s.config.Bucket),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsOutput, lastPage bool) bool {
		for _, object := range page.Contents {
			modified := time.Time{}
			if object.LastModified != nil {
				modified = *object.LastModified
			}
			res = append(res, &FileMeta{
				Path:         *object.Key,
				Size:         uint64(*object.Size),
				TimeModified: modified,
			})
		}
		return true
	})
	if err != nil {
		return nil, xerrors.Errorf("unable to list objects: %s: %w", prefix, err)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Path < res[j].Path })
	return res, nil
}

func NewStoreS3(config *S3Config) (*S3, error) {
	config.WithDefaults()
	sess, err := session.NewSession(&aws.Config{
		Endpoint:         aws.String(config.Endpoint),
		Region:           aws.String(config.Region),
		S3ForcePathStyle: aws.Bool(config.S3ForcePathStyle),
		Credentials: credentials.NewStaticCredentials(
			config.AccessKey, config.Secret, "",
		),
	})
	if err != nil {
		return nil, xerrors.Errorf("unable to init aws session: %w", err)
	}
	return &S3{
		config: config,
		client: s3.New(sess),
	}, nil
}
