package recordings

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink uploads recordings to bucket under prefix/<run>/.
type S3Sink struct {
	client putObjectAPI
	bucket string
	prefix string
}

// NewS3Sink builds a client from the default AWS credential chain.
func NewS3Sink(ctx context.Context, bucket, prefix, run string) (*S3Sink, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("recordings: s3 bucket is required")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("recordings: load aws config: %w", err)
	}
	return newS3Sink(s3.NewFromConfig(cfg), bucket, prefix, run), nil
}

func newS3Sink(client putObjectAPI, bucket, prefix, run string) *S3Sink {
	parts := make([]string, 0, 2)
	if p := strings.Trim(prefix, "/"); p != "" {
		parts = append(parts, p)
	}
	if r := strings.Trim(run, "/"); r != "" {
		parts = append(parts, r)
	}
	return &S3Sink{client: client, bucket: bucket, prefix: strings.Join(parts, "/")}
}

// Key returns the object key used for name.
func (s *S3Sink) Key(name string) string {
	if s.prefix == "" {
		return name
	}
	return s.prefix + "/" + name
}

func (s *S3Sink) Save(ctx context.Context, name string, body io.Reader, contentType string) (int64, error) {
	if err := validName(name); err != nil {
		return 0, err
	}

	counted := &countingReader{r: body}
	in := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.Key(name)),
		Body:   counted,
	}
	if seeker, ok := body.(io.ReadSeeker); ok {
		// A seekable body lets the SDK compute the payload hash and length.
		in.Body = &countingReadSeeker{countingReader: counted, s: seeker}
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}

	if _, err := s.client.PutObject(ctx, in); err != nil {
		return 0, fmt.Errorf("recordings: put s3://%s/%s: %w", s.bucket, s.Key(name), err)
	}
	return counted.n, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

type countingReadSeeker struct {
	*countingReader
	s io.ReadSeeker
}

// Seek resets the count when the SDK rewinds to the start.
func (c *countingReadSeeker) Seek(offset int64, whence int) (int64, error) {
	pos, err := c.s.Seek(offset, whence)
	if err == nil {
		c.n = pos
	}
	return pos, err
}
