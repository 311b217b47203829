package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

var _ Provider = (*GCSProvider)(nil)

// gcsBucket abstracts a GCS bucket handle for testability.
type gcsBucket interface {
	Objects(ctx context.Context, q *storage.Query) gcsObjectIterator
	Object(name string) gcsObject
	Copy(ctx context.Context, src, dst string) error
}

// gcsObjectIterator abstracts a GCS object iterator.
type gcsObjectIterator interface {
	Next() (*storage.ObjectAttrs, error)
}

// gcsObject abstracts a GCS object handle.
type gcsObject interface {
	NewReader(ctx context.Context) (io.ReadCloser, error)
	NewWriter(ctx context.Context) io.WriteCloser
	Delete(ctx context.Context) error
	Attrs(ctx context.Context) (*storage.ObjectAttrs, error)
}

// realBucket wraps *storage.BucketHandle to satisfy gcsBucket.
type realBucket struct{ bh *storage.BucketHandle }

func (r *realBucket) Objects(ctx context.Context, q *storage.Query) gcsObjectIterator {
	return r.bh.Objects(ctx, q)
}

func (r *realBucket) Object(name string) gcsObject {
	return &realObject{r.bh.Object(name)}
}

func (r *realBucket) Copy(ctx context.Context, src, dst string) error {
	_, err := r.bh.Object(dst).CopierFrom(r.bh.Object(src)).Run(ctx)
	return err
}

// realObject wraps *storage.ObjectHandle to satisfy gcsObject.
type realObject struct{ oh *storage.ObjectHandle }

func (r *realObject) NewReader(ctx context.Context) (io.ReadCloser, error) {
	return r.oh.NewReader(ctx)
}

func (r *realObject) NewWriter(ctx context.Context) io.WriteCloser {
	return r.oh.NewWriter(ctx)
}

func (r *realObject) Delete(ctx context.Context) error { return r.oh.Delete(ctx) }

func (r *realObject) Attrs(ctx context.Context) (*storage.ObjectAttrs, error) {
	return r.oh.Attrs(ctx)
}

// GCSConfig describes the bucket a GCSProvider works against.
type GCSConfig struct {
	Bucket string
	Prefix string

	// CredentialsFile is a service account JSON key. Application default
	// credentials are used when empty.
	CredentialsFile string

	// Endpoint overrides the API endpoint, e.g. for fake-gcs-server.
	Endpoint string
}

// GCSProvider stores entries as objects in a Google Cloud Storage bucket.
type GCSProvider struct {
	client *storage.Client
	bucket gcsBucket
	name   string
	prefix string
	opts   options
}

// NewGCSProvider creates a GCS client for cfg.Bucket.
func NewGCSProvider(ctx context.Context, cfg GCSConfig, opts ...Option) (*GCSProvider, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: gcs bucket is empty", ErrInvalidArgument)
	}
	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithAuthCredentialsFile(option.ServiceAccount, cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	}

	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	p := newGCSProvider(&realBucket{client.Bucket(cfg.Bucket)}, cfg.Bucket, cfg.Prefix, opts...)
	p.client = client
	return p, nil
}

func newGCSProvider(bucket gcsBucket, name, prefix string, opts ...Option) *GCSProvider {
	return &GCSProvider{
		bucket: bucket,
		name:   name,
		prefix: strings.Trim(prefix, "/"),
		opts:   buildOptions(opts),
	}
}

func (p *GCSProvider) objectName(key string) string {
	if p.prefix == "" {
		return key
	}
	return p.prefix + "/" + key
}

func (p *GCSProvider) relKey(name string) string {
	if p.prefix == "" {
		return name
	}
	return strings.TrimPrefix(name, p.prefix+"/")
}

func (p *GCSProvider) spec(key string, attrs *storage.ObjectAttrs) FileSpec {
	return FileSpec{
		Path:     key,
		Created:  attrs.Created.UTC(),
		Modified: attrs.Updated.UTC(),
		Size:     attrs.Size,
	}
}

func (p *GCSProvider) attrs(ctx context.Context, key string) (*FileSpec, error) {
	attrs, err := p.bucket.Object(p.objectName(key)).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat object %q: %w", key, err)
	}
	spec := p.spec(key, attrs)
	return &spec, nil
}

func (p *GCSProvider) GetFileStream(ctx context.Context, path string) (io.ReadCloser, error) {
	key, err := NormalizePath(path)
	if err != nil {
		return nil, err
	}
	r, err := p.bucket.Object(p.objectName(key)).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, notFound(key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get object %q: %w", key, err)
	}
	return r, nil
}

func (p *GCSProvider) GetFileInfo(ctx context.Context, path string) (*FileSpec, error) {
	key, err := NormalizePath(path)
	if err != nil {
		return nil, err
	}
	return p.attrs(ctx, key)
}

func (p *GCSProvider) Exists(ctx context.Context, path string) (bool, error) {
	spec, err := p.GetFileInfo(ctx, path)
	return spec != nil, err
}

// SaveFile streams r into a resumable upload. The object only becomes
// visible once the writer closes cleanly.
func (p *GCSProvider) SaveFile(ctx context.Context, path string, r io.Reader) (bool, error) {
	key, err := NormalizePath(path)
	if err != nil {
		return false, err
	}

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	w := p.bucket.Object(p.objectName(key)).NewWriter(wctx)
	if _, err := io.Copy(w, &contextReader{ctx: ctx, r: r}); err != nil {
		cancel() // abandons the upload
		_ = w.Close()
		return false, fmt.Errorf("failed to write object %q: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return false, fmt.Errorf("failed to close writer for object %q: %w", key, err)
	}

	p.opts.log.Debug("Object uploaded", slog.String("bucket", p.name), slog.String("path", key))
	return true, nil
}

func (p *GCSProvider) copy(ctx context.Context, src, dst string) (bool, error) {
	err := p.bucket.Copy(ctx, p.objectName(src), p.objectName(dst))
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to copy %q to %q: %w", src, dst, err)
	}
	return true, nil
}

func (p *GCSProvider) RenameFile(ctx context.Context, path, newPath string) (bool, error) {
	keys, err := checkPaths(path, newPath)
	if err != nil {
		return false, err
	}
	if keys[0] == keys[1] {
		spec, err := p.attrs(ctx, keys[0])
		return spec != nil, err
	}
	ok, err := p.copy(ctx, keys[0], keys[1])
	if err != nil || !ok {
		return false, err
	}
	if _, err := p.remove(ctx, keys[0]); err != nil {
		return false, err
	}
	return true, nil
}

func (p *GCSProvider) CopyFile(ctx context.Context, path, targetPath string) (bool, error) {
	keys, err := checkPaths(path, targetPath)
	if err != nil {
		return false, err
	}
	return p.copy(ctx, keys[0], keys[1])
}

func (p *GCSProvider) remove(ctx context.Context, key string) (bool, error) {
	err := p.bucket.Object(p.objectName(key)).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to delete object %q: %w", key, err)
	}
	return true, nil
}

func (p *GCSProvider) DeleteFile(ctx context.Context, path string) (bool, error) {
	key, err := NormalizePath(path)
	if err != nil {
		return false, err
	}
	return p.remove(ctx, key)
}

func (p *GCSProvider) DeleteFiles(ctx context.Context, pattern Pattern) error {
	m, err := pattern.Compile()
	if err != nil {
		return err
	}
	matched, err := collectAll(matching(p.entries(ctx, m.Prefix()), m))
	if err != nil {
		return err
	}
	if err := removeAll(ctx, matched, p.remove); err != nil {
		return err
	}
	p.opts.log.Debug("Objects deleted", slog.String("bucket", p.name),
		slog.String("pattern", pattern.String()), slog.Int("count", len(matched)))
	return nil
}

func (p *GCSProvider) GetFileList(ctx context.Context, opts ListOptions) ([]FileSpec, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	m, err := opts.Pattern.Compile()
	if err != nil {
		return nil, err
	}
	return Paginate(matching(p.entries(ctx, m.Prefix()), m), opts.Skip, opts.Limit)
}

// entries iterates objects in lexicographic name order.
func (p *GCSProvider) entries(ctx context.Context, prefix string) iter.Seq2[FileSpec, error] {
	return func(yield func(FileSpec, error) bool) {
		it := p.bucket.Objects(ctx, &storage.Query{Prefix: p.objectName(prefix)})
		for {
			attrs, err := it.Next()
			if errors.Is(err, iterator.Done) {
				return
			}
			if err != nil {
				yield(FileSpec{}, fmt.Errorf("failed to list objects with prefix %q: %w", prefix, err))
				return
			}
			key := p.relKey(attrs.Name)
			if key == "" || strings.HasSuffix(key, "/") {
				continue
			}
			if !yield(p.spec(key, attrs), nil) {
				return
			}
		}
	}
}

// Close closes the GCS client.
func (p *GCSProvider) Close() error {
	if p.client == nil {
		return nil
	}
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("failed to close GCS client: %w", err)
	}
	p.client = nil
	return nil
}
