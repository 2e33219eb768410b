package archive

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string, age time.Duration, now time.Time) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(`[]`), 0o644))
	mod := now.Add(-age)
	require.NoError(t, os.Chtimes(path, mod, mod))
}

func TestArchiveMovesFilesBestEffort(t *testing.T) {
	dir := t.TempDir()
	log, hook := test.NewNullLogger()
	now := time.Now()

	staged := filepath.Join(dir, "data", "freshdesk", "tickets_20240101T000000.000000Z.json")
	touch(t, staged, 0, now)
	missing := filepath.Join(dir, "data", "freshdesk", "gone.json")

	a := NewLocal(filepath.Join(dir, "archive", "freshdesk"), 24*time.Hour, log)
	moved := a.Archive(context.Background(), []string{missing, staged})

	assert.Equal(t, 1, moved)
	assert.NoFileExists(t, staged)
	assert.FileExists(t, filepath.Join(a.Dir(), filepath.Base(staged)))
	assert.NotEmpty(t, hook.AllEntries())
}

func TestPruneRespectsRetentionWindow(t *testing.T) {
	dir := t.TempDir()
	log, _ := test.NewNullLogger()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	retention := 30 * 24 * time.Hour

	archiveDir := filepath.Join(dir, "archive", "freshdesk")
	old := filepath.Join(archiveDir, "old.json")
	edge := filepath.Join(archiveDir, "edge.json")
	fresh := filepath.Join(archiveDir, "fresh.json")
	nested := filepath.Join(archiveDir, "nested", "old.json")
	outside := filepath.Join(dir, "data", "freshdesk", "old.json")

	touch(t, old, retention+time.Hour, now)
	touch(t, edge, retention, now)
	touch(t, fresh, time.Hour, now)
	touch(t, nested, retention+time.Hour, now)
	touch(t, outside, retention+time.Hour, now)

	a := NewLocal(archiveDir, retention, log)
	a.now = func() time.Time { return now }

	assert.Equal(t, 1, a.Prune(context.Background()))
	assert.NoFileExists(t, old)
	assert.FileExists(t, edge)
	assert.FileExists(t, fresh)
	assert.FileExists(t, nested)
	assert.FileExists(t, outside)
}

func TestPruneMissingDirIsQuiet(t *testing.T) {
	log, hook := test.NewNullLogger()
	n := PruneDirs(context.Background(), []string{filepath.Join(t.TempDir(), "nope")}, time.Hour, time.Now(), log)
	assert.Zero(t, n)
	assert.Empty(t, hook.AllEntries())
}

func TestObjectPrefix(t *testing.T) {
	assert.Equal(t, "archive/freshdesk/", objectPrefix("archive", "freshdesk"))
	assert.Equal(t, "freshdesk/", objectPrefix("", "freshdesk"))
	assert.Equal(t, "a/b/freshdesk/", objectPrefix("/a/b/", "freshdesk"))
}

type fakeBucket struct {
	mu      sync.Mutex
	objects map[string]time.Time
	failPut map[string]bool
	removed []string
}

func (b *fakeBucket) FPutObject(_ context.Context, bucket, key, filePath string, _ minio.PutObjectOptions) (minio.UploadInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failPut[filepath.Base(filePath)] {
		return minio.UploadInfo{}, errors.New("access denied")
	}
	if _, err := os.Stat(filePath); err != nil {
		return minio.UploadInfo{}, err
	}
	b.objects[key] = time.Now()
	return minio.UploadInfo{Bucket: bucket, Key: key}, nil
}

func (b *fakeBucket) ListObjects(ctx context.Context, _ string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo {
	b.mu.Lock()
	var infos []minio.ObjectInfo
	for key, mod := range b.objects {
		if strings.HasPrefix(key, opts.Prefix) {
			infos = append(infos, minio.ObjectInfo{Key: key, LastModified: mod})
		}
	}
	b.mu.Unlock()

	ch := make(chan minio.ObjectInfo)
	go func() {
		defer close(ch)
		for _, info := range infos {
			select {
			case ch <- info:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

func (b *fakeBucket) RemoveObject(_ context.Context, _, key string, _ minio.RemoveObjectOptions) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	b.removed = append(b.removed, key)
	return nil
}

func newObjectArchiver(t *testing.T, bucket *fakeBucket, now time.Time) *ObjectArchiver {
	t.Helper()
	log, _ := test.NewNullLogger()
	return &ObjectArchiver{
		client:    bucket,
		bucket:    "ops-archive",
		prefix:    objectPrefix("archive", "freshdesk"),
		retention: 30 * 24 * time.Hour,
		now:       func() time.Time { return now },
		log:       log,
	}
}

func TestObjectArchiveUploadsAndRemovesLocalCopy(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	ok := filepath.Join(dir, "tickets_20240101T000000.000000Z.json")
	denied := filepath.Join(dir, "agents_20240101T000000.000000Z.json")
	touch(t, ok, 0, now)
	touch(t, denied, 0, now)

	bucket := &fakeBucket{objects: map[string]time.Time{}, failPut: map[string]bool{filepath.Base(denied): true}}
	a := newObjectArchiver(t, bucket, now)

	moved := a.Archive(context.Background(), []string{denied, ok, filepath.Join(dir, "gone.json")})
	assert.Equal(t, 1, moved)
	assert.Contains(t, bucket.objects, "archive/freshdesk/"+filepath.Base(ok))
	assert.NoFileExists(t, ok)
	assert.FileExists(t, denied, "failed upload keeps the local document")
}

func TestObjectArchiveStopsWhenCancelled(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "tickets_20240101T000000.000000Z.json")
	touch(t, f, 0, time.Now())

	bucket := &fakeBucket{objects: map[string]time.Time{}}
	a := newObjectArchiver(t, bucket, time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Zero(t, a.Archive(ctx, []string{f}))
	assert.Empty(t, bucket.objects)
	assert.FileExists(t, f)
}

func TestObjectPruneDeletesOnlyExpiredObjectsUnderPrefix(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	retention := 30 * 24 * time.Hour
	bucket := &fakeBucket{objects: map[string]time.Time{
		"archive/freshdesk/old.json":   now.Add(-retention - time.Hour),
		"archive/freshdesk/edge.json":  now.Add(-retention),
		"archive/freshdesk/fresh.json": now.Add(-time.Hour),
		"archive/freshdesk/dir/":       now.Add(-retention - time.Hour),
		"archive/salesforce/old.json":  now.Add(-retention - time.Hour),
	}}
	a := newObjectArchiver(t, bucket, now)

	assert.Equal(t, 1, a.Prune(context.Background()))
	assert.Equal(t, []string{"archive/freshdesk/old.json"}, bucket.removed)
	assert.Contains(t, bucket.objects, "archive/freshdesk/edge.json")
	assert.Contains(t, bucket.objects, "archive/salesforce/old.json")
}
