package provider

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObject struct {
	data     []byte
	modified time.Time
}

// fakeS3 is an in-memory stand-in for the S3 API. ListObjectsV2 returns two
// keys per page so the paginator is exercised.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]fakeObject
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string]fakeObject)}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = fakeObject{data: data, modified: time.Now().UTC()}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) UploadPart(context.Context, *s3.UploadPartInput, ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	return nil, errors.New("multipart upload not supported")
}

func (f *fakeS3) CreateMultipartUpload(context.Context, *s3.CreateMultipartUploadInput, ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return nil, errors.New("multipart upload not supported")
}

func (f *fakeS3) CompleteMultipartUpload(context.Context, *s3.CompleteMultipartUploadInput, ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	return nil, errors.New("multipart upload not supported")
}

func (f *fakeS3) AbortMultipartUpload(context.Context, *s3.AbortMultipartUploadInput, ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	return &s3.AbortMultipartUploadOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	prefix := aws.ToString(in.Prefix)
	after := aws.ToString(in.ContinuationToken)
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) && k > after {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	const pageSize = 2
	truncated := len(keys) > pageSize
	if truncated {
		keys = keys[:pageSize]
	}
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(truncated)}
	for _, k := range keys {
		obj := f.objects[k]
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(k),
			Size:         aws.Int64(int64(len(obj.data))),
			LastModified: aws.Time(obj.modified),
		})
	}
	if truncated {
		out.NextContinuationToken = aws.String(keys[len(keys)-1])
	}
	return out, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(obj.data))),
		LastModified:  aws.Time(obj.modified),
	}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(bytes.Clone(obj.data)))}, nil
}

func (f *fakeS3) CopyObject(_ context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	_, escaped, _ := strings.Cut(aws.ToString(in.CopySource), "/")
	src, err := url.PathUnescape(escaped)
	if err != nil {
		return nil, err
	}
	if src == aws.ToString(in.Key) {
		return nil, &smithy.GenericAPIError{
			Code:    "InvalidRequest",
			Message: "This copy request is illegal because it is trying to copy an object to itself without changing the object's metadata.",
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[src]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	f.objects[aws.ToString(in.Key)] = fakeObject{data: bytes.Clone(obj.data), modified: time.Now().UTC()}
	return &s3.CopyObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) DeleteObjects(_ context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range in.Delete.Objects {
		delete(f.objects, aws.ToString(id.Key))
	}
	return &s3.DeleteObjectsOutput{}, nil
}

func (f *fakeS3) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func TestS3Provider_BuildKey(t *testing.T) {
	tests := []struct {
		prefix string
		key    string
		expect string
	}{
		{"", "test.txt", "test.txt"},
		{"myprefix", "test.txt", "myprefix/test.txt"},
		{"myprefix/", "test.txt", "myprefix/test.txt"},
		{"/myprefix/", "test.txt", "myprefix/test.txt"},
		{"my/deep/prefix", "some/path.txt", "my/deep/prefix/some/path.txt"},
		{"my/deep/prefix/", "some/path.txt", "my/deep/prefix/some/path.txt"},
		{"myprefix", "", "myprefix"},
	}

	for _, tt := range tests {
		t.Run(tt.prefix+"+"+tt.key, func(t *testing.T) {
			p := newS3Provider(newFakeS3(), "bucket", tt.prefix)
			assert.Equal(t, tt.expect, p.buildKey(tt.key))
		})
	}
}

func TestS3Provider_PrefixIsolation(t *testing.T) {
	fake := newFakeS3()
	ctx := context.Background()
	fake.objects["outside.txt"] = fakeObject{data: []byte("x"), modified: time.Now()}

	p := newS3Provider(fake, "bucket", "tenant")
	_, err := p.SaveFile(ctx, "docs/a.txt", strings.NewReader("a"))
	require.NoError(t, err)

	files, err := p.GetFileList(ctx, ListOptions{})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "docs/a.txt", files[0].Path)
	assert.Equal(t, []string{"outside.txt", "tenant/docs/a.txt"}, fake.keys())
}

func TestS3Provider_CopySourceEscaping(t *testing.T) {
	fake := newFakeS3()
	ctx := context.Background()
	p := newS3Provider(fake, "bucket", "")

	_, err := p.SaveFile(ctx, "with space/ü+.txt", strings.NewReader("data"))
	require.NoError(t, err)
	ok, err := p.CopyFile(ctx, "with space/ü+.txt", "copy.txt")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "with%20space/%C3%BC+.txt", escapeKey("with space/ü+.txt"))
}

func TestS3Provider_SelfCopy(t *testing.T) {
	fake := newFakeS3()
	ctx := context.Background()
	p := newS3Provider(fake, "bucket", "tenant")

	_, err := p.SaveFile(ctx, "a.txt", strings.NewReader("data"))
	require.NoError(t, err)

	ok, err := p.CopyFile(ctx, "a.txt", "/a.txt")
	require.NoError(t, err, "S3 rejects a plain self-copy, so it must never be sent")
	assert.True(t, ok)

	ok, err = p.CopyFile(ctx, "missing.txt", "missing.txt")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIsS3NotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"no such key", &types.NoSuchKey{}, true},
		{"head not found", &types.NotFound{}, true},
		{"generic api error", &smithy.GenericAPIError{Code: "NotFound"}, true},
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isS3NotFound(tt.err))
		})
	}
}
