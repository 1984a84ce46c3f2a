// Package s3fs implements the storage capability boundary on S3/MinIO.
// A key prefix stands in for a directory; objects under it are files.
package s3fs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/baselight/baselight/internal/capability"
	"github.com/baselight/baselight/internal/logging"
)

// Config is the S3 picker configuration.
type Config struct {
	Endpoint  string `json:"endpoint"`
	Bucket    string `json:"bucket"`
	Prefix    string `json:"prefix"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Region    string `json:"region"`
	UseSSL    bool   `json:"use_ssl"`
}

// Picker implements capability.Picker using S3/MinIO.
type Picker struct {
	client *s3.Client
	bucket string
	prefix string
}

// New creates a new S3 picker.
func New(ctx context.Context, cfg Config) (*Picker, error) {
	resolver := aws.EndpointResolverWithOptionsFunc(
		func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{
				URL:               cfg.Endpoint,
				HostnameImmutable: true,
			}, nil
		},
	)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithEndpointResolverWithOptions(resolver),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	p := &Picker{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}

	if err := p.ensureBucket(ctx); err != nil {
		logging.Error("bucket check failed", zap.Error(err))
	}

	return p, nil
}

func (p *Picker) ensureBucket(ctx context.Context) error {
	_, err := p.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(p.bucket),
	})
	if err != nil {
		_, createErr := p.client.CreateBucket(ctx, &s3.CreateBucketInput{
			Bucket: aws.String(p.bucket),
		})
		if createErr != nil {
			return fmt.Errorf("bucket %s does not exist and cannot create: %w", p.bucket, createErr)
		}
		logging.Info("created S3 bucket", zap.String("bucket", p.bucket))
	}
	return nil
}

// Supported reports true once the picker is constructed.
func (p *Picker) Supported() bool { return true }

// Backend returns "s3".
func (p *Picker) Backend() string { return "s3" }

// PickDirectory resolves a hint to a prefix under the configured scope.
// An empty hint is a dismissal. Directories are implicit in S3, so picking
// mutates no storage.
func (p *Picker) PickDirectory(_ context.Context, hint string) (capability.Directory, error) {
	if strings.TrimSpace(hint) == "" {
		return nil, capability.ErrUserCancelled
	}

	clean := path.Clean("/" + strings.ReplaceAll(hint, "\\", "/"))
	if clean == "/" || strings.Contains(clean, "..") {
		return nil, fmt.Errorf("hint %q outside consent scope: %w", hint, capability.ErrAccessDenied)
	}

	key := strings.TrimPrefix(clean, "/")
	if p.prefix != "" {
		key = p.prefix + "/" + key
	}
	return &Dir{client: p.client, bucket: p.bucket, key: key}, nil
}

// Dir implements capability.Directory for an S3 key prefix.
type Dir struct {
	client *s3.Client
	bucket string
	key    string
}

// Name returns the prefix's base name.
func (d *Dir) Name() string { return path.Base(d.key) }

// GetOrCreateChild resolves a child prefix. S3 directories are implicit,
// so no object is written; the operation is trivially idempotent.
func (d *Dir) GetOrCreateChild(_ context.Context, name string) (capability.Directory, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	return &Dir{client: d.client, bucket: d.bucket, key: d.key + "/" + name}, nil
}

// ListEntries enumerates direct children: common prefixes are directory-kind,
// objects are file-kind.
func (d *Dir) ListEntries(ctx context.Context) ([]capability.Entry, error) {
	var entries []capability.Entry
	prefix := d.key + "/"

	paginator := s3.NewListObjectsV2Paginator(d.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(d.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, wrapS3Error("list", d.key, err)
		}
		for _, cp := range page.CommonPrefixes {
			key := strings.TrimSuffix(aws.ToString(cp.Prefix), "/")
			entries = append(entries, &entry{
				client: d.client,
				bucket: d.bucket,
				key:    key,
				isDir:  true,
			})
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key == prefix {
				continue // the prefix itself, if a marker object exists
			}
			entries = append(entries, &entry{
				client: d.client,
				bucket: d.bucket,
				key:    key,
				isDir:  false,
			})
		}
	}
	return entries, nil
}

// GetOrCreateFile resolves a child file capability. The object comes into
// existence when its sink is closed.
func (d *Dir) GetOrCreateFile(_ context.Context, name string) (capability.File, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	return &File{client: d.client, bucket: d.bucket, key: d.key + "/" + name}, nil
}

// entry is one enumerated prefix entry.
type entry struct {
	client *s3.Client
	bucket string
	key    string
	isDir  bool
}

func (e *entry) Name() string { return path.Base(e.key) }

func (e *entry) Kind() capability.EntryKind {
	if e.isDir {
		return capability.EntryDirectory
	}
	return capability.EntryFile
}

func (e *entry) AsFile() (capability.File, error) {
	if e.isDir {
		return nil, fmt.Errorf("%s is a directory", e.Name())
	}
	return &File{client: e.client, bucket: e.bucket, key: e.key}, nil
}

func (e *entry) AsDirectory() (capability.Directory, error) {
	if !e.isDir {
		return nil, fmt.Errorf("%s is not a directory", e.Name())
	}
	return &Dir{client: e.client, bucket: e.bucket, key: e.key}, nil
}

// File implements capability.File for an S3 object.
type File struct {
	client *s3.Client
	bucket string
	key    string
}

// Name returns the object key's base name.
func (f *File) Name() string { return path.Base(f.key) }

// OpenWriter returns a scoped writable sink. Content is buffered and put
// as a single object on Close, so the overwrite is all-or-nothing.
func (f *File) OpenWriter(ctx context.Context) (io.WriteCloser, error) {
	return &putSink{ctx: ctx, file: f}, nil
}

// Read returns the object's full content and metadata.
func (f *File) Read(ctx context.Context) (capability.Content, error) {
	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(f.key),
	})
	if err != nil {
		return capability.Content{}, wrapS3Error("get object", f.key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return capability.Content{}, fmt.Errorf("read object %s: %w", f.key, err)
	}

	mimeType := aws.ToString(out.ContentType)
	if mimeType == "" || mimeType == "application/octet-stream" {
		if t := mime.TypeByExtension(path.Ext(f.key)); t != "" {
			mimeType = t
		}
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	return capability.Content{
		Name:     f.Name(),
		Size:     int64(len(data)),
		MIMEType: mimeType,
		Bytes:    data,
	}, nil
}

// putSink buffers writes and uploads the object on Close.
type putSink struct {
	ctx    context.Context
	file   *File
	buf    bytes.Buffer
	closed bool
}

func (s *putSink) Write(p []byte) (int, error) {
	return s.buf.Write(p)
}

func (s *putSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	contentType := mime.TypeByExtension(path.Ext(s.file.key))
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.file.bucket),
		Key:           aws.String(s.file.key),
		Body:          bytes.NewReader(s.buf.Bytes()),
		ContentLength: aws.Int64(int64(s.buf.Len())),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := s.file.client.PutObject(s.ctx, input); err != nil {
		return wrapS3Error("put object", s.file.key, err)
	}
	logging.Debug("s3 put object",
		zap.String("key", s.file.key),
		zap.Int("size", s.buf.Len()))
	return nil
}

func validateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("invalid entry name %q: %w", name, capability.ErrAccessDenied)
	}
	return nil
}

func wrapS3Error(op, key string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "AccessDenied" {
		return fmt.Errorf("%s %s: %w", op, key, capability.ErrAccessDenied)
	}
	return fmt.Errorf("%s %s: %w", op, key, err)
}
