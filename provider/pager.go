package provider

import (
	"context"
	"iter"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Paginate applies a skip/limit window to a backend's matched entries.
// It stops pulling from seq as soon as the window is full, so object-store
// backends do not page through keys nobody asked for. A limit of zero
// returns every remaining entry.
//
// The result is only as stable as seq's ordering. Backends hold no lock
// across calls, so concurrent writes between pages can shift entries.
func Paginate(seq iter.Seq2[FileSpec, error], skip, limit int) ([]FileSpec, error) {
	files := []FileSpec{}
	seen := 0
	for spec, err := range seq {
		if err != nil {
			return nil, err
		}
		seen++
		if seen <= skip {
			continue
		}
		files = append(files, spec)
		if limit > 0 && len(files) == limit {
			break
		}
	}
	return files, nil
}

// matching filters a key-ordered sequence through the compiled pattern.
func matching(seq iter.Seq2[FileSpec, error], m *Matcher) iter.Seq2[FileSpec, error] {
	return func(yield func(FileSpec, error) bool) {
		for spec, err := range seq {
			if err != nil {
				yield(FileSpec{}, err)
				return
			}
			if !m.Match(spec.Path) {
				continue
			}
			if !yield(spec, nil) {
				return
			}
		}
	}
}

// fromSorted yields a snapshot slice in key order.
func fromSorted(specs []FileSpec) iter.Seq2[FileSpec, error] {
	slices.SortFunc(specs, func(a, b FileSpec) int {
		return strings.Compare(a.Path, b.Path)
	})
	return func(yield func(FileSpec, error) bool) {
		for _, spec := range specs {
			if !yield(spec, nil) {
				return
			}
		}
	}
}

// collectAll drains a sequence for bulk deletion.
func collectAll(seq iter.Seq2[FileSpec, error]) ([]FileSpec, error) {
	return Paginate(seq, 0, 0)
}

// deleteConcurrency bounds the per-object delete fan-out of object stores
// without a batch delete call.
const deleteConcurrency = 8

// removeAll deletes every spec through remove, stopping at the first error.
func removeAll(ctx context.Context, specs []FileSpec, remove func(context.Context, string) (bool, error)) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(deleteConcurrency)
	for _, spec := range specs {
		g.Go(func() error {
			_, err := remove(ctx, spec.Path)
			return err
		})
	}
	return g.Wait()
}
