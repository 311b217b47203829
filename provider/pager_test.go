package provider

import (
	"errors"
	"fmt"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingSeq yields n entries and records how many were pulled.
func countingSeq(n int, pulled *int) iter.Seq2[FileSpec, error] {
	return func(yield func(FileSpec, error) bool) {
		for i := range n {
			*pulled++
			if !yield(FileSpec{Path: fmt.Sprintf("f%02d", i)}, nil) {
				return
			}
		}
	}
}

func TestPaginate(t *testing.T) {
	tests := []struct {
		name       string
		skip       int
		limit      int
		wantPaths  []string
		wantPulled int
	}{
		{"all", 0, 0, []string{"f00", "f01", "f02", "f03", "f04"}, 5},
		{"first page", 0, 2, []string{"f00", "f01"}, 2},
		{"second page", 2, 2, []string{"f02", "f03"}, 4},
		{"last partial page", 4, 2, []string{"f04"}, 5},
		{"skip past end", 10, 2, []string{}, 5},
		{"skip only", 3, 0, []string{"f03", "f04"}, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pulled := 0
			files, err := Paginate(countingSeq(5, &pulled), tt.skip, tt.limit)
			require.NoError(t, err)
			assert.Equal(t, tt.wantPaths, paths(files))
			assert.Equal(t, tt.wantPulled, pulled)
		})
	}
}

func TestPaginate_Error(t *testing.T) {
	boom := errors.New("listing failed")
	seq := func(yield func(FileSpec, error) bool) {
		if !yield(FileSpec{Path: "a"}, nil) {
			return
		}
		yield(FileSpec{}, boom)
	}
	files, err := Paginate(seq, 0, 0)
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, files)
}

func TestMatching(t *testing.T) {
	m, err := Match("b/*").Compile()
	require.NoError(t, err)
	seq := fromSorted([]FileSpec{{Path: "b/2"}, {Path: "a/1"}, {Path: "b/1"}, {Path: "b/c/3"}})

	files, err := collectAll(matching(seq, m))
	require.NoError(t, err)
	assert.Equal(t, []string{"b/1", "b/2"}, paths(files))
}
