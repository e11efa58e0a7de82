package s3store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/mohammed-shakir/estate-geolayers/internal/blob"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	failPut error
}

func newFake() *fakeS3 { return &fakeS3{objects: map[string][]byte{}} }

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.failPut != nil {
		return nil, f.failPut
	}
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.objects[aws.ToString(in.Key)] = b
	f.mu.Unlock()
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	delete(f.objects, aws.ToString(in.Key))
	f.mu.Unlock()
	return &s3.DeleteObjectOutput{}, nil
}

func TestStore_PrefixedRoundTrip(t *testing.T) {
	api := newFake()
	s := New(api, "layers", "/estate/")
	ctx := context.Background()

	if err := s.Put(ctx, "geojson/original/a.geojson", []byte("{}")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, ok := api.objects["estate/geojson/original/a.geojson"]; !ok {
		t.Fatalf("object not stored under prefix: %v", api.objects)
	}
	ok, err := s.Exists(ctx, "geojson/original/a.geojson")
	if err != nil || !ok {
		t.Fatalf("Exists=%v,%v", ok, err)
	}
	b, err := s.Get(ctx, "geojson/original/a.geojson")
	if err != nil || string(b) != "{}" {
		t.Fatalf("Get=%q,%v", b, err)
	}
	if err := s.Delete(ctx, "geojson/original/a.geojson"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if ok, _ := s.Exists(ctx, "geojson/original/a.geojson"); ok {
		t.Fatalf("still exists after delete")
	}
}

func TestStore_NotFoundAndErrors(t *testing.T) {
	api := newFake()
	s := New(api, "layers", "")
	ctx := context.Background()

	if _, err := s.Get(ctx, "missing.json"); !errors.Is(err, blob.ErrNotFound) {
		t.Fatalf("Get missing err=%v want ErrNotFound", err)
	}
	if err := s.MakeDirectory(ctx, "geojson/transformed"); err != nil {
		t.Fatalf("MakeDirectory: %v", err)
	}

	api.failPut = errors.New("access denied")
	if err := s.Put(ctx, "a.json", []byte("x")); err == nil || errors.Is(err, blob.ErrNotFound) {
		t.Fatalf("Put err=%v want wrapped access error", err)
	}
}
