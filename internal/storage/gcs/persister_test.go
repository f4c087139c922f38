package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	suitestorage "github.com/JakeFAU/creator-suite/internal/storage"
)

type fakeObjects struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{data: map[string][]byte{}}
}

func (f *fakeObjects) write(_ context.Context, name string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[name] = append([]byte(nil), data...)
	return nil
}

func (f *fakeObjects) read(_ context.Context, name string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.data[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", suitestorage.ErrNotFound, name)
	}
	return data, nil
}

func (f *fakeObjects) remove(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, name)
	return nil
}

func TestPersisterRoundTrip(t *testing.T) {
	t.Parallel()

	objects := newFakeObjects()
	p := newWithObjects(objects, Config{Bucket: "b", Prefix: "state"})
	ctx := context.Background()

	_, err := p.Get(ctx, "veo_jobs")
	require.ErrorIs(t, err, suitestorage.ErrNotFound)

	require.NoError(t, p.Put(ctx, "veo_jobs", []byte(`[]`)))
	assert.Contains(t, objects.data, "state/veo_jobs.json")

	got, err := p.Get(ctx, "veo_jobs")
	require.NoError(t, err)
	assert.Equal(t, `[]`, string(got))

	require.NoError(t, p.Delete(ctx, "veo_jobs"))
	assert.Empty(t, objects.data)
}

func TestPersisterQuotaAndKeys(t *testing.T) {
	t.Parallel()

	p := newWithObjects(newFakeObjects(), Config{Bucket: "b", MaxBytes: 2})
	require.ErrorIs(t, p.Put(context.Background(), "k", []byte("123")), suitestorage.ErrQuotaExceeded)
	require.Error(t, p.Put(context.Background(), "../k", []byte("1")))
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	_, err = New(client, Config{})
	require.Error(t, err)
}

func TestPersisterUploadsThroughClient(t *testing.T) {
	t.Parallel()

	var uploaded []byte
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/test-bucket/o")
		assert.Equal(t, "state/veo_jobs.json", r.URL.Query().Get("name"))
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		mu.Lock()
		uploaded = body
		mu.Unlock()
		_, _ = fmt.Fprintln(w, `{"name":"state/veo_jobs.json","bucket":"test-bucket"}`)
	}))
	t.Cleanup(srv.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(srv.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	p, err := New(client, Config{Bucket: "test-bucket", Prefix: "state"})
	require.NoError(t, err)
	require.NoError(t, p.Put(context.Background(), "veo_jobs", []byte(`[{"id":"job-1"}]`)))

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, string(uploaded), `[{"id":"job-1"}]`)
}
