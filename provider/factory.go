package provider

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Open creates a backend from a location URI.
// The URI format is [scheme]://[auth@]host[/path][?params]
//
// Supported schemes:
//   - mem:// - process-local memory
//   - file:///var/data - local filesystem rooted at the path
//   - bolt:///var/data/files.db - single-file bbolt database
//   - s3://[ACCESS_KEY:SECRET_KEY@]bucket/prefix?region=us-east-1&endpoint=http://localhost:9000
//   - gs://bucket/prefix?credentials=/path/key.json&endpoint=http://localhost:4443/storage/v1/
//   - azblob://[ACCOUNT:KEY@]container/prefix?service=https://acct.blob.core.windows.net/&connection_string=...
//
// Azure falls back to AZURE_STORAGE_CONNECTION_STRING when the URI carries no
// account credentials and no connection_string parameter.
func Open(ctx context.Context, location string, opts ...Option) (Provider, error) {
	u, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("%w: location %q: %v", ErrInvalidArgument, location, err)
	}

	o := buildOptions(opts)
	o.log.Debug("Opening storage backend", "scheme", u.Scheme, "host", u.Host)

	switch strings.ToLower(u.Scheme) {
	case "mem", "memory":
		return NewMemoryProvider(opts...), nil
	case "file":
		return NewLocalProvider(localPath(u), opts...)
	case "bolt":
		dbPath := localPath(u)
		if dbPath == "" {
			return nil, fmt.Errorf("%w: bolt location needs a database path", ErrInvalidArgument)
		}
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create bolt directory: %w", err)
		}
		return NewBoltProvider(dbPath, opts...)
	case "s3":
		return NewS3Provider(ctx, s3ConfigFrom(u), opts...)
	case "gs", "gcs":
		q := u.Query()
		return NewGCSProvider(ctx, GCSConfig{
			Bucket:          u.Host,
			Prefix:          strings.TrimPrefix(u.Path, "/"),
			CredentialsFile: q.Get("credentials"),
			Endpoint:        q.Get("endpoint"),
		}, opts...)
	case "azblob", "azure":
		return NewAzureProvider(ctx, azureConfigFrom(u), opts...)
	default:
		return nil, fmt.Errorf("%w: unsupported backend scheme %q", ErrInvalidArgument, u.Scheme)
	}
}

// localPath accepts both file:///abs/dir and the relative file://./dir form.
func localPath(u *url.URL) string {
	return filepath.FromSlash(u.Host + u.Path)
}

func s3ConfigFrom(u *url.URL) S3Config {
	q := u.Query()
	cfg := S3Config{
		Bucket:   u.Host,
		Prefix:   strings.TrimPrefix(u.Path, "/"),
		Region:   q.Get("region"),
		Endpoint: q.Get("endpoint"),
	}
	if u.User != nil {
		cfg.AccessKey = u.User.Username()
		cfg.SecretKey, _ = u.User.Password()
	}
	return cfg
}

func azureConfigFrom(u *url.URL) AzureConfig {
	q := u.Query()
	cfg := AzureConfig{
		Container:  u.Host,
		Prefix:     strings.TrimPrefix(u.Path, "/"),
		ServiceURL: q.Get("service"),
	}
	if u.User != nil {
		cfg.AccountName = u.User.Username()
		cfg.AccountKey, _ = u.User.Password()
	} else if cs := q.Get("connection_string"); cs != "" {
		cfg.ConnectionString = cs
	} else {
		cfg.ConnectionString = os.Getenv("AZURE_STORAGE_CONNECTION_STRING")
	}
	return cfg
}
