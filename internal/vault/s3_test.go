package vault

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// fakeS3 is an in-memory object store implementing s3Client. Multipart
// calls are never reached for the small bodies used here.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	meta    map[string]map[string]string
	puts    []string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		objects: make(map[string][]byte),
		meta:    make(map[string]map[string]string),
	}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	var data []byte
	if in.Body != nil {
		var err error
		if data, err = io.ReadAll(in.Body); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := aws.ToString(in.Key)
	f.objects[key] = data
	f.meta[key] = in.Metadata
	f.puts = append(f.puts, key)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) UploadPart(context.Context, *s3.UploadPartInput, ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	return nil, fmt.Errorf("multipart not supported")
}

func (f *fakeS3) CreateMultipartUpload(context.Context, *s3.CreateMultipartUploadInput, ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return nil, fmt.Errorf("multipart not supported")
}

func (f *fakeS3) CompleteMultipartUpload(context.Context, *s3.CompleteMultipartUploadInput, ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	return nil, fmt.Errorf("multipart not supported")
}

func (f *fakeS3) AbortMultipartUpload(context.Context, *s3.AbortMultipartUploadInput, ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	return &s3.AbortMultipartUploadOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := aws.ToString(in.Key)
	data, ok := f.objects[key]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data))), Metadata: f.meta[key]}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := aws.ToString(in.Key)
	delete(f.objects, key)
	delete(f.meta, key)
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, nil
}

func TestS3Vault_KeyLayout(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	v := newS3VaultWithClient("test", "bucket", "scribe/", fake)

	if err := v.PutContent(ctx, "abc", strings.NewReader("blob"), 4); err != nil {
		t.Fatal(err)
	}
	if err := v.PutMetadata(ctx, "host", "index", strings.NewReader("db"), 2, 9); err != nil {
		t.Fatal(err)
	}

	for _, key := range []string{"scribe/content/abc", "scribe/metadata/host/index"} {
		if _, ok := fake.objects[key]; !ok {
			t.Errorf("object %q not stored; have %v", key, fake.puts)
		}
	}
	if got := fake.meta["scribe/metadata/host/index"][metadataVersionKey]; got != "9" {
		t.Errorf("version metadata = %q, want 9", got)
	}
}

func TestS3Vault_PutContentSkipsExisting(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	v := newS3VaultWithClient("test", "bucket", "", fake)

	for i := 0; i < 3; i++ {
		if err := v.PutContent(ctx, "abc", strings.NewReader("blob"), 4); err != nil {
			t.Fatal(err)
		}
	}
	if len(fake.puts) != 1 {
		t.Errorf("uploads = %d, want 1", len(fake.puts))
	}
}

func TestS3Vault_SizeMismatchRemovesObject(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	v := newS3VaultWithClient("test", "bucket", "", fake)

	if err := v.PutContent(ctx, "abc", strings.NewReader("blob"), 40); err == nil {
		t.Fatal("PutContent() expected size mismatch error")
	}
	if _, ok := fake.objects["content/abc"]; ok {
		t.Error("partial object left in bucket")
	}
}
