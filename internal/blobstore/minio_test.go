package blobstore

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"savesync/internal/models"
)

func TestObjectKey(t *testing.T) {
	key := models.SaveKey{UserID: "ichi", GameID: "celeste"}
	got := objectKey(key)
	want := "saves/" + key.UserComponent() + "/celeste/data"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if strings.HasPrefix(got, minioStagingPrefix) {
		t.Fatal("published objects must not live under the staging prefix")
	}
}

func TestIsNoSuchKey(t *testing.T) {
	missing := minio.ErrorResponse{Code: "NoSuchKey", Message: "The specified key does not exist."}
	if !isNoSuchKey(missing) {
		t.Fatal("expected NoSuchKey to match")
	}
	if !isNoSuchKey(fmt.Errorf("get object: %w", missing)) {
		t.Fatal("expected wrapped NoSuchKey to match")
	}
	if isNoSuchKey(minio.ErrorResponse{Code: "AccessDenied"}) {
		t.Fatal("expected AccessDenied not to match")
	}
	if isNoSuchKey(errors.New("boom")) {
		t.Fatal("expected plain error not to match")
	}
}

func TestNewMinioStoreValidatesConfig(t *testing.T) {
	if _, err := NewMinioStore(t.Context(), MinioConfig{Bucket: "saves"}, nil); err == nil {
		t.Fatal("expected missing endpoint to fail")
	}
	if _, err := NewMinioStore(t.Context(), MinioConfig{Endpoint: "localhost:9000"}, nil); err == nil {
		t.Fatal("expected missing bucket to fail")
	}
}

func TestCountingReader(t *testing.T) {
	c := &countingReader{r: strings.NewReader("hello world")}
	buf := make([]byte, 4)
	for {
		if _, err := c.Read(buf); err != nil {
			break
		}
	}
	if c.n != 11 {
		t.Fatalf("expected 11 bytes counted, got %d", c.n)
	}
}

// fakeS3 answers bucket probes and reports every object as missing.
func fakeS3(t *testing.T, bucket string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.Trim(r.URL.Path, "/")
		if path == bucket {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusNotFound)
		if r.Method == http.MethodHead {
			return
		}
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>`+
			`<Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message>`+
			`<Key>%s</Key><BucketName>%s</BucketName><RequestId>1</RequestId></Error>`,
			strings.TrimPrefix(path, bucket+"/"), bucket)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestMinioStoreMissingObjectIsNotFound(t *testing.T) {
	srv := fakeS3(t, "saves")
	s, err := NewMinioStore(t.Context(), MinioConfig{
		Endpoint:  strings.TrimPrefix(srv.URL, "http://"),
		AccessKey: "access",
		SecretKey: "secret",
		Bucket:    "saves",
		Region:    "us-east-1",
	}, nil)
	if err != nil {
		t.Fatalf("new minio store: %v", err)
	}
	key := mustKey(t, "ichi", "celeste")

	if _, _, err := s.Open(t.Context(), key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from Open, got %v", err)
	}

	viewed := false
	_, _, err = s.Snapshot(t.Context(), key, func() error {
		viewed = true
		return nil
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from Snapshot, got %v", err)
	}
	if !viewed {
		t.Fatal("expected view to run before the object is opened")
	}
	if s.locks.size() != 0 {
		t.Fatal("expected key lock to be released")
	}
}

// newLiveMinioStore connects to the server named by SAVESYNC_TEST_MINIO_ENDPOINT
// and uses a fresh bucket per test.
func newLiveMinioStore(t *testing.T) *MinioStore {
	t.Helper()
	endpoint := os.Getenv("SAVESYNC_TEST_MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("SAVESYNC_TEST_MINIO_ENDPOINT is not set")
	}
	s, err := NewMinioStore(t.Context(), MinioConfig{
		Endpoint:  endpoint,
		AccessKey: os.Getenv("SAVESYNC_TEST_MINIO_ACCESS_KEY"),
		SecretKey: os.Getenv("SAVESYNC_TEST_MINIO_SECRET_KEY"),
		Bucket:    "savesync-test-" + strings.ToLower(uuid.NewString()[:8]),
		Region:    "us-east-1",
	}, nil)
	require.NoError(t, err)
	return s
}

func TestMinioStoreStagePublishOpen(t *testing.T) {
	s := newLiveMinioStore(t)
	ctx := t.Context()
	key := mustKey(t, "ichi", "celeste")

	_, _, err := s.Open(ctx, key)
	require.ErrorIs(t, err, ErrNotFound)

	res, err := Store(ctx, s, key, strings.NewReader("first"), 5)
	require.NoError(t, err)
	assert.EqualValues(t, 5, res.SizeBytes)
	assert.Equal(t, "first", string(readBlob(t, s, key)))

	staged, err := s.Stage(ctx, key, strings.NewReader("second"), -1)
	require.NoError(t, err)
	assert.Equal(t, "first", string(readBlob(t, s, key)), "staged blob must stay invisible")

	var committed PutResult
	require.NoError(t, staged.Publish(ctx, func(r PutResult) error {
		committed = r
		return nil
	}))
	assert.EqualValues(t, 6, committed.SizeBytes)

	rc, size, err := s.Snapshot(ctx, key, nil)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
	assert.EqualValues(t, 6, size)

	discarded, err := s.Stage(ctx, key, strings.NewReader("dropped"), -1)
	require.NoError(t, err)
	require.NoError(t, discarded.Discard())
	assert.Equal(t, "second", string(readBlob(t, s, key)))

	removed, err := s.SweepStaging(ctx, 0, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, removed, "publish and discard clean up their staging objects")
}
