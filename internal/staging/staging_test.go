package staging

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndListByType(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "freshdesk"))
	require.NoError(t, err)

	t0 := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	first, err := s.Create("tickets", []byte(`[{"id":1}]`), t0)
	require.NoError(t, err)
	second, err := s.Create("tickets", []byte(`[{"id":2}]`), t0.Add(time.Second))
	require.NoError(t, err)
	_, err = s.Create("ticket_fields", []byte(`[]`), t0)
	require.NoError(t, err)

	assert.Equal(t, "tickets_20240101T080000.000000Z.json", filepath.Base(first))

	files, err := s.List("tickets")
	require.NoError(t, err)
	assert.Equal(t, []string{first, second}, files)

	// "ticket" is a prefix of both names but matches neither.
	files, err = s.List("ticket")
	require.NoError(t, err)
	assert.Empty(t, files)

	pending, err := s.Pending("ticket_fields")
	require.NoError(t, err)
	assert.True(t, pending)

	data, err := s.Read(first)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":1}]`, string(data))
}

func TestCreateRefusesDuplicateName(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	at := time.Now()
	_, err = s.Create("tickets", []byte(`[]`), at)
	require.NoError(t, err)

	_, err = s.Create("tickets", []byte(`[]`), at)
	assert.ErrorIs(t, err, ErrExists)
}

func TestListIgnoresTempAndForeignFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)

	name := FileName("tickets", time.Now())
	require.NoError(t, os.WriteFile(filepath.Join(dir, "."+name+".123.tmp"), []byte(`[`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tickets_notes.txt"), []byte(`x`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tickets_latest.json"), []byte(`[]`), 0o644))

	files, err := s.List("tickets")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestDeleteAndMove(t *testing.T) {
	dir := t.TempDir()
	s, err := New(filepath.Join(dir, "stage"))
	require.NoError(t, err)

	old := time.Now().Add(-48 * time.Hour).Truncate(time.Second)
	path, err := s.Create("agents", []byte(`[]`), time.Now())
	require.NoError(t, err)
	require.NoError(t, os.Chtimes(path, old, old))

	moved, err := Move(path, filepath.Join(dir, "archive"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "archive", filepath.Base(path)), moved)
	assert.NoFileExists(t, path)

	info, err := os.Stat(moved)
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(old))

	other, err := s.Create("agents", []byte(`[]`), time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.NoError(t, s.Delete(other))
	assert.NoFileExists(t, other)
	assert.Error(t, s.Delete(other))
}
