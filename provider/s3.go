package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// s3DeleteBatch is the most keys DeleteObjects accepts per request.
const s3DeleteBatch = 1000

// ensure interface is implemented
var _ Provider = (*S3Provider)(nil)

// s3API is the subset of *s3.Client the provider uses. The uploader needs
// the multipart calls as well.
type s3API interface {
	manager.UploadAPIClient
	s3.ListObjectsV2APIClient
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// S3Config describes the bucket an S3Provider works against.
type S3Config struct {
	Bucket string
	Prefix string
	Region string

	// Endpoint points at an S3-compatible service such as MinIO.
	// Path-style addressing is used whenever it is set.
	Endpoint string

	// AccessKey and SecretKey override the default credential chain.
	AccessKey string
	SecretKey string
}

// S3Provider stores entries as objects below an optional key prefix.
// S3 keeps no creation time, so Created mirrors LastModified. Rename is a
// copy followed by a delete and is not atomic.
type S3Provider struct {
	client   s3API
	uploader *manager.Uploader
	bucket   string
	prefix   string
	opts     options
}

// NewS3Provider creates a new S3Provider from the default AWS configuration
// chain, optionally overridden by cfg.
func NewS3Provider(ctx context.Context, cfg S3Config, opts ...Option) (*S3Provider, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: s3 bucket is empty", ErrInvalidArgument)
	}

	var loadOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
	}

	return newS3Provider(s3.NewFromConfig(awsCfg, s3Opts...), cfg.Bucket, cfg.Prefix, opts...), nil
}

func newS3Provider(client s3API, bucket, prefix string, opts ...Option) *S3Provider {
	return &S3Provider{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
		opts:     buildOptions(opts),
	}
}

// buildKey constructs the full S3 key based on the provider's prefix
func (p *S3Provider) buildKey(key string) string {
	if p.prefix == "" {
		return key
	}
	return path.Join(p.prefix, key)
}

// relKey strips the provider prefix from an object key.
func (p *S3Provider) relKey(objectKey string) string {
	if p.prefix == "" {
		return objectKey
	}
	return strings.TrimPrefix(objectKey, p.prefix+"/")
}

func (p *S3Provider) listPrefix(prefix string) string {
	if p.prefix == "" {
		return prefix
	}
	return p.prefix + "/" + prefix
}

func isS3NotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

func (p *S3Provider) head(ctx context.Context, key string) (*FileSpec, error) {
	out, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.buildKey(key)),
	})
	if isS3NotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat failed for %q: %w", key, err)
	}
	spec := FileSpec{Path: key, Size: aws.ToInt64(out.ContentLength)}
	if out.LastModified != nil {
		spec.Modified = out.LastModified.UTC()
		spec.Created = spec.Modified
	}
	return &spec, nil
}

// GetFileStream opens an object for streaming reads.
func (p *S3Provider) GetFileStream(ctx context.Context, pth string) (io.ReadCloser, error) {
	key, err := NormalizePath(pth)
	if err != nil {
		return nil, err
	}
	out, err := p.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.buildKey(key)),
	})
	if isS3NotFound(err) {
		return nil, notFound(key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open read %q: %w", key, err)
	}
	return out.Body, nil
}

func (p *S3Provider) GetFileInfo(ctx context.Context, pth string) (*FileSpec, error) {
	key, err := NormalizePath(pth)
	if err != nil {
		return nil, err
	}
	return p.head(ctx, key)
}

func (p *S3Provider) Exists(ctx context.Context, pth string) (bool, error) {
	spec, err := p.GetFileInfo(ctx, pth)
	return spec != nil, err
}

// SaveFile streams r through the multipart uploader.
func (p *S3Provider) SaveFile(ctx context.Context, pth string, r io.Reader) (bool, error) {
	key, err := NormalizePath(pth)
	if err != nil {
		return false, err
	}
	_, err = p.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.buildKey(key)),
		Body:   &contextReader{ctx: ctx, r: r},
	})
	if err != nil {
		return false, fmt.Errorf("s3 upload failed for %q: %w", key, err)
	}
	p.opts.log.Debug("Uploaded object", slog.String("bucket", p.bucket), slog.String("path", key))
	return true, nil
}

func (p *S3Provider) copyObject(ctx context.Context, src, dst string) error {
	source := p.bucket + "/" + escapeKey(p.buildKey(src))
	_, err := p.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(p.bucket),
		CopySource: aws.String(source),
		Key:        aws.String(p.buildKey(dst)),
	})
	if err != nil {
		return fmt.Errorf("failed to copy %q to %q: %w", src, dst, err)
	}
	return nil
}

// escapeKey URL-encodes each segment of an object key for CopySource.
func escapeKey(key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

func (p *S3Provider) deleteObject(ctx context.Context, key string) error {
	_, err := p.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.buildKey(key)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %q: %w", key, err)
	}
	return nil
}

func (p *S3Provider) RenameFile(ctx context.Context, pth, newPath string) (bool, error) {
	keys, err := checkPaths(pth, newPath)
	if err != nil {
		return false, err
	}
	spec, err := p.head(ctx, keys[0])
	if err != nil || spec == nil {
		return false, err
	}
	if keys[0] == keys[1] {
		return true, nil
	}
	if err := p.copyObject(ctx, keys[0], keys[1]); err != nil {
		return false, err
	}
	if err := p.deleteObject(ctx, keys[0]); err != nil {
		return false, err
	}
	return true, nil
}

func (p *S3Provider) CopyFile(ctx context.Context, pth, targetPath string) (bool, error) {
	keys, err := checkPaths(pth, targetPath)
	if err != nil {
		return false, err
	}
	spec, err := p.head(ctx, keys[0])
	if err != nil || spec == nil {
		return false, err
	}
	// S3 rejects copying an object onto itself without a metadata change.
	if keys[0] == keys[1] {
		return true, nil
	}
	if err := p.copyObject(ctx, keys[0], keys[1]); err != nil {
		return false, err
	}
	return true, nil
}

// DeleteFile checks for the object first; S3 deletes succeed for missing keys.
func (p *S3Provider) DeleteFile(ctx context.Context, pth string) (bool, error) {
	key, err := NormalizePath(pth)
	if err != nil {
		return false, err
	}
	spec, err := p.head(ctx, key)
	if err != nil || spec == nil {
		return false, err
	}
	if err := p.deleteObject(ctx, key); err != nil {
		return false, err
	}
	return true, nil
}

func (p *S3Provider) DeleteFiles(ctx context.Context, pattern Pattern) error {
	m, err := pattern.Compile()
	if err != nil {
		return err
	}
	matched, err := collectAll(matching(p.entries(ctx, m.Prefix()), m))
	if err != nil {
		return err
	}

	for start := 0; start < len(matched); start += s3DeleteBatch {
		end := min(start+s3DeleteBatch, len(matched))
		ids := make([]types.ObjectIdentifier, 0, end-start)
		for _, spec := range matched[start:end] {
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(p.buildKey(spec.Path))})
		}
		out, err := p.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(p.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("failed to delete objects matching %q: %w", pattern, err)
		}
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			return fmt.Errorf("failed to delete %d objects matching %q, first %q: %s",
				len(out.Errors), pattern, aws.ToString(first.Key), aws.ToString(first.Message))
		}
	}
	p.opts.log.Debug("Deleted objects", slog.String("bucket", p.bucket),
		slog.String("pattern", pattern.String()), slog.Int("count", len(matched)))
	return nil
}

func (p *S3Provider) GetFileList(ctx context.Context, opts ListOptions) ([]FileSpec, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	m, err := opts.Pattern.Compile()
	if err != nil {
		return nil, err
	}
	return Paginate(matching(p.entries(ctx, m.Prefix()), m), opts.Skip, opts.Limit)
}

// entries pages through ListObjectsV2 lazily; S3 returns keys in UTF-8
// binary order.
func (p *S3Provider) entries(ctx context.Context, prefix string) iter.Seq2[FileSpec, error] {
	return func(yield func(FileSpec, error) bool) {
		pager := s3.NewListObjectsV2Paginator(p.client, &s3.ListObjectsV2Input{
			Bucket: aws.String(p.bucket),
			Prefix: aws.String(p.listPrefix(prefix)),
		})
		for pager.HasMorePages() {
			out, err := pager.NextPage(ctx)
			if err != nil {
				yield(FileSpec{}, fmt.Errorf("failed to list %q: %w", prefix, err))
				return
			}
			for _, obj := range out.Contents {
				key := p.relKey(aws.ToString(obj.Key))
				if key == "" || strings.HasSuffix(key, "/") {
					continue // folder placeholders
				}
				spec := FileSpec{Path: key, Size: aws.ToInt64(obj.Size)}
				if obj.LastModified != nil {
					spec.Modified = obj.LastModified.UTC()
					spec.Created = spec.Modified
				}
				if !yield(spec, nil) {
					return
				}
			}
		}
	}
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (p *S3Provider) Close() error {
	return nil
}
