package attachment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// mockS3Client implements the s3API interface for testing.
type mockS3Client struct {
	objects      map[string][]byte
	contentTypes map[string]string
}

func newMockS3Client() *mockS3Client {
	return &mockS3Client{objects: make(map[string][]byte), contentTypes: make(map[string]string)}
}

func (m *mockS3Client) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	m.objects[*params.Key] = data
	if params.ContentType != nil {
		m.contentTypes[*params.Key] = *params.ContentType
	}
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := m.objects[*params.Key]
	if !ok {
		msg := fmt.Sprintf("key %q not found", *params.Key)
		return nil, &types.NoSuchKey{Message: &msg}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (m *mockS3Client) DeleteObject(_ context.Context, params *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(m.objects, *params.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3_PutGetDeleteWithPrefix(t *testing.T) {
	client := newMockS3Client()
	store := NewS3(client, "bucket", "attachments/")
	ctx := context.Background()
	key := NewKey()

	if err := store.Put(ctx, key, []byte("content"), "text/plain"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, ok := client.objects["attachments/"+key]; !ok {
		t.Fatalf("expected prefixed key, got %v", client.objects)
	}
	if client.contentTypes["attachments/"+key] != "text/plain" {
		t.Errorf("expected content type to be forwarded")
	}

	got, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "content" {
		t.Errorf("Get = %q", got)
	}

	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete: got %v, want ErrNotFound", err)
	}
}
