package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
)

var _ Provider = (*AzureProvider)(nil)

// azureAPI is the subset of *azblob.Client the provider uses.
type azureAPI interface {
	UploadStream(ctx context.Context, containerName, blobName string, body io.Reader, o *azblob.UploadStreamOptions) (azblob.UploadStreamResponse, error)
	DownloadStream(ctx context.Context, containerName, blobName string, o *azblob.DownloadStreamOptions) (azblob.DownloadStreamResponse, error)
	DeleteBlob(ctx context.Context, containerName, blobName string, o *azblob.DeleteBlobOptions) (azblob.DeleteBlobResponse, error)
	NewListBlobsFlatPager(containerName string, o *azblob.ListBlobsFlatOptions) *runtime.Pager[azblob.ListBlobsFlatResponse]
}

// AzureConfig describes the container an AzureProvider works against.
// ConnectionString wins over AccountName/AccountKey.
type AzureConfig struct {
	Container        string
	Prefix           string
	ConnectionString string
	AccountName      string
	AccountKey       string

	// ServiceURL defaults to https://<account>.blob.core.windows.net/.
	ServiceURL string
}

func (c AzureConfig) serviceURL() string {
	if c.ServiceURL != "" {
		return c.ServiceURL
	}
	return fmt.Sprintf("https://%s.blob.core.windows.net/", c.AccountName)
}

// AzureProvider stores entries as block blobs in one container. Blob storage
// has no server-side rename, so RenameFile copies and then deletes.
type AzureProvider struct {
	client    azureAPI
	container string
	prefix    string
	opts      options
}

// NewAzureProvider creates an azblob client and makes sure the container exists.
func NewAzureProvider(ctx context.Context, cfg AzureConfig, opts ...Option) (*AzureProvider, error) {
	if cfg.Container == "" {
		return nil, fmt.Errorf("%w: azure container is empty", ErrInvalidArgument)
	}

	var (
		client *azblob.Client
		err    error
	)
	switch {
	case cfg.ConnectionString != "":
		client, err = azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
	case cfg.AccountName != "" && cfg.AccountKey != "":
		var cred *azblob.SharedKeyCredential
		cred, err = azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
		if err == nil {
			client, err = azblob.NewClientWithSharedKeyCredential(cfg.serviceURL(), cred, nil)
		}
	default:
		return nil, fmt.Errorf("%w: azure needs a connection string or account credentials", ErrInvalidArgument)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create azure blob client: %w", err)
	}

	if _, err := client.CreateContainer(ctx, cfg.Container, nil); err != nil &&
		!bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return nil, fmt.Errorf("failed to create container %q: %w", cfg.Container, err)
	}
	return newAzureProvider(client, cfg.Container, cfg.Prefix, opts...), nil
}

func newAzureProvider(client azureAPI, containerName, prefix string, opts ...Option) *AzureProvider {
	return &AzureProvider{
		client:    client,
		container: containerName,
		prefix:    strings.Trim(prefix, "/"),
		opts:      buildOptions(opts),
	}
}

func (p *AzureProvider) blobName(key string) string {
	if p.prefix == "" {
		return key
	}
	return p.prefix + "/" + key
}

func (p *AzureProvider) relKey(name string) string {
	if p.prefix == "" {
		return name
	}
	return strings.TrimPrefix(name, p.prefix+"/")
}

func isBlobNotFound(err error) bool {
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return true
	}
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == 404
}

// blobSpec converts a listing item; nil properties leave zero values.
func blobSpec(key string, item *container.BlobItem) FileSpec {
	spec := FileSpec{Path: key}
	if props := item.Properties; props != nil {
		if props.LastModified != nil {
			spec.Modified = props.LastModified.UTC()
		}
		spec.Created = spec.Modified
		if props.CreationTime != nil {
			spec.Created = props.CreationTime.UTC()
		}
		if props.ContentLength != nil {
			spec.Size = *props.ContentLength
		}
	}
	return spec
}

func (p *AzureProvider) GetFileStream(ctx context.Context, path string) (io.ReadCloser, error) {
	key, err := NormalizePath(path)
	if err != nil {
		return nil, err
	}
	return p.download(ctx, key)
}

func (p *AzureProvider) download(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := p.client.DownloadStream(ctx, p.container, p.blobName(key), nil)
	if isBlobNotFound(err) {
		return nil, notFound(key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to download blob %q: %w", key, err)
	}
	return resp.Body, nil
}

// GetFileInfo lists with the exact name as prefix; the name itself sorts
// ahead of every longer name sharing it, so one result is enough.
func (p *AzureProvider) GetFileInfo(ctx context.Context, path string) (*FileSpec, error) {
	key, err := NormalizePath(path)
	if err != nil {
		return nil, err
	}
	name := p.blobName(key)
	pager := p.client.NewListBlobsFlatPager(p.container, &azblob.ListBlobsFlatOptions{
		Prefix:     to.Ptr(name),
		MaxResults: to.Ptr(int32(1)),
	})
	if !pager.More() {
		return nil, nil
	}
	resp, err := pager.NextPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to stat blob %q: %w", key, err)
	}
	if resp.Segment == nil {
		return nil, nil
	}
	for _, item := range resp.Segment.BlobItems {
		if item != nil && item.Name != nil && *item.Name == name {
			spec := blobSpec(key, item)
			return &spec, nil
		}
	}
	return nil, nil
}

func (p *AzureProvider) Exists(ctx context.Context, path string) (bool, error) {
	spec, err := p.GetFileInfo(ctx, path)
	return spec != nil, err
}

func (p *AzureProvider) SaveFile(ctx context.Context, path string, r io.Reader) (bool, error) {
	key, err := NormalizePath(path)
	if err != nil {
		return false, err
	}
	if err := p.upload(ctx, key, r); err != nil {
		return false, err
	}
	p.opts.log.Debug("Uploaded blob", slog.String("container", p.container), slog.String("path", key))
	return true, nil
}

func (p *AzureProvider) upload(ctx context.Context, key string, r io.Reader) error {
	_, err := p.client.UploadStream(ctx, p.container, p.blobName(key), &contextReader{ctx: ctx, r: r}, nil)
	if err != nil {
		return fmt.Errorf("failed to upload blob %q: %w", key, err)
	}
	return nil
}

// copy streams src into dst through the client.
func (p *AzureProvider) copy(ctx context.Context, src, dst string) (bool, error) {
	body, err := p.download(ctx, src)
	if IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer body.Close()
	if err := p.upload(ctx, dst, body); err != nil {
		return false, err
	}
	return true, nil
}

func (p *AzureProvider) RenameFile(ctx context.Context, path, newPath string) (bool, error) {
	keys, err := checkPaths(path, newPath)
	if err != nil {
		return false, err
	}
	if keys[0] == keys[1] {
		return p.Exists(ctx, keys[0])
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

func (p *AzureProvider) CopyFile(ctx context.Context, path, targetPath string) (bool, error) {
	keys, err := checkPaths(path, targetPath)
	if err != nil {
		return false, err
	}
	if keys[0] == keys[1] {
		return p.Exists(ctx, keys[0])
	}
	return p.copy(ctx, keys[0], keys[1])
}

func (p *AzureProvider) remove(ctx context.Context, key string) (bool, error) {
	_, err := p.client.DeleteBlob(ctx, p.container, p.blobName(key), nil)
	if isBlobNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to delete blob %q: %w", key, err)
	}
	return true, nil
}

func (p *AzureProvider) DeleteFile(ctx context.Context, path string) (bool, error) {
	key, err := NormalizePath(path)
	if err != nil {
		return false, err
	}
	return p.remove(ctx, key)
}

func (p *AzureProvider) DeleteFiles(ctx context.Context, pattern Pattern) error {
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
	p.opts.log.Debug("Deleted blobs", slog.String("container", p.container),
		slog.String("pattern", pattern.String()), slog.Int("count", len(matched)))
	return nil
}

func (p *AzureProvider) GetFileList(ctx context.Context, opts ListOptions) ([]FileSpec, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	m, err := opts.Pattern.Compile()
	if err != nil {
		return nil, err
	}
	return Paginate(matching(p.entries(ctx, m.Prefix()), m), opts.Skip, opts.Limit)
}

// entries pages through the flat listing; blob names come back in
// lexicographic order.
func (p *AzureProvider) entries(ctx context.Context, prefix string) iter.Seq2[FileSpec, error] {
	return func(yield func(FileSpec, error) bool) {
		pager := p.client.NewListBlobsFlatPager(p.container, &azblob.ListBlobsFlatOptions{
			Prefix: to.Ptr(p.blobName(prefix)),
		})
		for pager.More() {
			resp, err := pager.NextPage(ctx)
			if err != nil {
				yield(FileSpec{}, fmt.Errorf("failed to list blobs with prefix %q: %w", prefix, err))
				return
			}
			if resp.Segment == nil {
				continue
			}
			for _, item := range resp.Segment.BlobItems {
				if item == nil || item.Name == nil {
					continue
				}
				key := p.relKey(*item.Name)
				if key == "" || strings.HasSuffix(key, "/") {
					continue
				}
				if !yield(blobSpec(key, item), nil) {
					return
				}
			}
		}
	}
}

// Close is a no-op; the azblob client holds no resources that need releasing.
func (p *AzureProvider) Close() error {
	return nil
}
