package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"time"

	"go.etcd.io/bbolt"
)

var (
	contentBucket = []byte("content")
	metaBucket    = []byte("meta")
)

var _ Provider = (*BoltProvider)(nil)

type boltMeta struct {
	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`
	Size     int64     `json:"size"`
}

// BoltProvider stores files inside a single bbolt database. Content and
// metadata live in separate buckets keyed by the normalized path, so a
// rename or a pattern delete commits in one transaction.
type BoltProvider struct {
	db   *bbolt.DB
	opts options
}

// NewBoltProvider opens (or creates) the database at path.
func NewBoltProvider(path string, opts ...Option) (*BoltProvider, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{contentBucket, metaBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create file buckets: %w", err)
	}

	return &BoltProvider{db: db, opts: buildOptions(opts)}, nil
}

func (p *BoltProvider) view(fn func(tx *bbolt.Tx) error) error {
	return closedErr(p.db.View(fn))
}

func (p *BoltProvider) update(fn func(tx *bbolt.Tx) error) error {
	return closedErr(p.db.Update(fn))
}

func closedErr(err error) error {
	if errors.Is(err, bbolt.ErrDatabaseNotOpen) {
		return ErrClosed
	}
	return err
}

func getMeta(tx *bbolt.Tx, key string) (*boltMeta, error) {
	raw := tx.Bucket(metaBucket).Get([]byte(key))
	if raw == nil {
		return nil, nil
	}
	var meta boltMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata for %q: %w", key, err)
	}
	return &meta, nil
}

func putEntry(tx *bbolt.Tx, key string, data []byte, meta boltMeta) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := tx.Bucket(contentBucket).Put([]byte(key), data); err != nil {
		return fmt.Errorf("failed to put content: %w", err)
	}
	if err := tx.Bucket(metaBucket).Put([]byte(key), raw); err != nil {
		return fmt.Errorf("failed to put metadata: %w", err)
	}
	return nil
}

func deleteEntry(tx *bbolt.Tx, key string) error {
	if err := tx.Bucket(contentBucket).Delete([]byte(key)); err != nil {
		return err
	}
	return tx.Bucket(metaBucket).Delete([]byte(key))
}

func (p *BoltProvider) GetFileStream(ctx context.Context, path string) (io.ReadCloser, error) {
	key, err := NormalizePath(path)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var data []byte
	err = p.view(func(tx *bbolt.Tx) error {
		if tx.Bucket(metaBucket).Get([]byte(key)) == nil {
			return notFound(key)
		}
		// Values are only valid for the life of the transaction.
		data = bytes.Clone(tx.Bucket(contentBucket).Get([]byte(key)))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (p *BoltProvider) GetFileInfo(ctx context.Context, path string) (*FileSpec, error) {
	key, err := NormalizePath(path)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var spec *FileSpec
	err = p.view(func(tx *bbolt.Tx) error {
		meta, err := getMeta(tx, key)
		if err != nil || meta == nil {
			return err
		}
		spec = &FileSpec{Path: key, Created: meta.Created, Modified: meta.Modified, Size: meta.Size}
		return nil
	})
	return spec, err
}

func (p *BoltProvider) Exists(ctx context.Context, path string) (bool, error) {
	spec, err := p.GetFileInfo(ctx, path)
	return spec != nil, err
}

func (p *BoltProvider) SaveFile(ctx context.Context, path string, r io.Reader) (bool, error) {
	key, err := NormalizePath(path)
	if err != nil {
		return false, err
	}
	data, err := readAll(ctx, r)
	if err != nil {
		return false, err
	}

	now := p.opts.stamp()
	err = p.update(func(tx *bbolt.Tx) error {
		meta := boltMeta{Created: now, Modified: now, Size: int64(len(data))}
		prev, err := getMeta(tx, key)
		if err != nil {
			return err
		}
		if prev != nil {
			meta.Created = prev.Created
		}
		return putEntry(tx, key, data, meta)
	})
	if err != nil {
		return false, err
	}
	p.opts.log.Debug("Saved file in bbolt", slog.String("path", key), slog.Int("size", len(data)))
	return true, nil
}

// transfer moves or copies src to dst inside one write transaction.
func (p *BoltProvider) transfer(ctx context.Context, path, newPath string, move bool) (bool, error) {
	keys, err := checkPaths(path, newPath)
	if err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	found := false
	now := p.opts.stamp()
	err = p.update(func(tx *bbolt.Tx) error {
		meta, err := getMeta(tx, keys[0])
		if err != nil || meta == nil {
			return err
		}
		found = true
		if keys[0] == keys[1] {
			return nil
		}
		data := bytes.Clone(tx.Bucket(contentBucket).Get([]byte(keys[0])))
		if move {
			if err := deleteEntry(tx, keys[0]); err != nil {
				return err
			}
		} else {
			meta.Created, meta.Modified = now, now
		}
		return putEntry(tx, keys[1], data, *meta)
	})
	return found && err == nil, err
}

func (p *BoltProvider) RenameFile(ctx context.Context, path, newPath string) (bool, error) {
	return p.transfer(ctx, path, newPath, true)
}

func (p *BoltProvider) CopyFile(ctx context.Context, path, targetPath string) (bool, error) {
	return p.transfer(ctx, path, targetPath, false)
}

func (p *BoltProvider) DeleteFile(ctx context.Context, path string) (bool, error) {
	key, err := NormalizePath(path)
	if err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	found := false
	err = p.update(func(tx *bbolt.Tx) error {
		if tx.Bucket(metaBucket).Get([]byte(key)) == nil {
			return nil
		}
		found = true
		return deleteEntry(tx, key)
	})
	return found && err == nil, err
}

func (p *BoltProvider) DeleteFiles(ctx context.Context, pattern Pattern) error {
	m, err := pattern.Compile()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	count := 0
	err = p.update(func(tx *bbolt.Tx) error {
		specs, err := scan(tx, m.Prefix())
		if err != nil {
			return err
		}
		for _, spec := range specs {
			if !m.Match(spec.Path) {
				continue
			}
			if err := deleteEntry(tx, spec.Path); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return err
	}
	p.opts.log.Debug("Deleted files from bbolt", slog.String("pattern", pattern.String()), slog.Int("count", count))
	return nil
}

func (p *BoltProvider) GetFileList(ctx context.Context, opts ListOptions) ([]FileSpec, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	m, err := opts.Pattern.Compile()
	if err != nil {
		return nil, err
	}
	return Paginate(matching(p.entries(ctx, m.Prefix()), m), opts.Skip, opts.Limit)
}

// entries snapshots the keys under prefix; the read transaction is closed
// before anything is yielded.
func (p *BoltProvider) entries(ctx context.Context, prefix string) iter.Seq2[FileSpec, error] {
	return func(yield func(FileSpec, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(FileSpec{}, err)
			return
		}
		var specs []FileSpec
		err := p.view(func(tx *bbolt.Tx) error {
			var err error
			specs, err = scan(tx, prefix)
			return err
		})
		if err != nil {
			yield(FileSpec{}, err)
			return
		}
		for _, spec := range specs {
			if !yield(spec, nil) {
				return
			}
		}
	}
}

// scan reads metadata for every key starting with prefix in byte order.
func scan(tx *bbolt.Tx, prefix string) ([]FileSpec, error) {
	var specs []FileSpec
	c := tx.Bucket(metaBucket).Cursor()
	pre := []byte(prefix)
	for k, v := c.Seek(pre); k != nil && bytes.HasPrefix(k, pre); k, v = c.Next() {
		var meta boltMeta
		if err := json.Unmarshal(v, &meta); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata for %q: %w", k, err)
		}
		specs = append(specs, FileSpec{Path: string(k), Created: meta.Created, Modified: meta.Modified, Size: meta.Size})
	}
	return specs, nil
}

// Close closes the underlying database.
func (p *BoltProvider) Close() error {
	return p.db.Close()
}
