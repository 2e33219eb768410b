package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ops-data-loaders/internal/archive"
	"ops-data-loaders/internal/config"
	"ops-data-loaders/internal/fetcher"
	"ops-data-loaders/internal/staging"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	results map[string]fetcher.Result
	calls   []string
}

func (f *fakeFetcher) Fetch(_ context.Context, _ fetcher.Credentials, ep config.Endpoint, _ string) fetcher.Result {
	f.calls = append(f.calls, ep.Type)
	if r, ok := f.results[ep.Type]; ok {
		return r
	}
	return fetcher.NewSuccess(ep.Type, ep.URL, nil, 1)
}

// consumeAll loads every staged document unless the type is listed in fail.
type consumeAll struct {
	store *staging.Store
	fail  map[string]bool
	panic string
	calls []string
}

func (l *consumeAll) Load(_ context.Context, docType, table string) []string {
	l.calls = append(l.calls, docType)
	if docType == l.panic {
		panic("loader exploded")
	}
	if l.fail[docType] {
		return nil
	}
	files, _ := l.store.List(docType)
	return files
}

type countingArchiver struct {
	archive.Archiver
	prunes int
}

func (a *countingArchiver) Prune(ctx context.Context) int {
	a.prunes++
	return a.Archiver.Prune(ctx)
}

type fixture struct {
	in       *Integration
	fetcher  *fakeFetcher
	loader   *consumeAll
	archiver *countingArchiver
	store    *staging.Store
	archDir  string
}

func newFixture(t *testing.T, endpoints ...string) *fixture {
	t.Helper()
	dir := t.TempDir()
	log, _ := test.NewNullLogger()

	store, err := staging.New(filepath.Join(dir, "data", "freshdesk"))
	require.NoError(t, err)
	archDir := filepath.Join(dir, "archive", "freshdesk")

	fx := &fixture{
		fetcher:  &fakeFetcher{results: map[string]fetcher.Result{}},
		loader:   &consumeAll{store: store, fail: map[string]bool{}},
		archiver: &countingArchiver{Archiver: archive.NewLocal(archDir, 30*24*time.Hour, log)},
		store:    store,
		archDir:  archDir,
	}

	var eps []config.Endpoint
	for _, typ := range endpoints {
		eps = append(eps, config.Endpoint{Type: typ, URL: "https://example.freshdesk.com/api/v2/" + typ, Table: typ})
	}

	fx.in = &Integration{
		Name:      "freshdesk",
		Endpoints: eps,
		Fetcher:   fx.fetcher,
		Store:     store,
		Loader:    fx.loader,
		Archiver:  fx.archiver,
		Now:       func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) },
		Log:       log,
	}
	return fx
}

func payload(n int) fetcher.Payload {
	var p fetcher.Payload
	for i := 0; i < n; i++ {
		raw, _ := json.Marshal(map[string]int{"id": i})
		p = append(p, raw)
	}
	return p
}

func TestRunStagesLoadsAndArchives(t *testing.T) {
	fx := newFixture(t, "tickets")
	fx.fetcher.results["tickets"] = fetcher.NewSuccess("tickets", "u", payload(3), 1)

	rep := fx.in.Run(context.Background())
	require.NoError(t, rep.Err)
	require.Len(t, rep.Outcomes, 1)

	out := rep.Outcomes[0]
	assert.Equal(t, fetcher.StatusSuccess, out.Status)
	assert.Equal(t, 1, out.Loaded)
	assert.Equal(t, 1, out.Archived)

	name := staging.FileName("tickets", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
	assert.Equal(t, filepath.Join(fx.store.Dir(), name), out.Staged)

	archived, err := os.ReadFile(filepath.Join(fx.archDir, name))
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":0},{"id":1},{"id":2}]`, string(archived))

	pending, err := fx.store.Pending("tickets")
	require.NoError(t, err)
	assert.False(t, pending)
	assert.Equal(t, 1, fx.archiver.prunes)
}

func TestRunSkipsFetchWhenDocumentsPending(t *testing.T) {
	fx := newFixture(t, "tickets", "agents")
	fx.loader.fail["tickets"] = true

	staged, err := fx.store.Create("tickets", []byte(`[{"id":1}]`), time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	fx.fetcher.results["agents"] = fetcher.NewSuccess("agents", "u", payload(1), 1)

	rep := fx.in.Run(context.Background())
	require.NoError(t, rep.Err)

	assert.Equal(t, []string{"agents"}, fx.fetcher.calls)
	assert.Equal(t, fetcher.StatusPending, rep.Outcomes[0].Status)
	assert.Empty(t, rep.Outcomes[0].Staged)

	files, err := fx.store.List("tickets")
	require.NoError(t, err)
	assert.Equal(t, []string{staged}, files, "pending document must not be duplicated")
	assert.Contains(t, fx.loader.calls, "tickets", "pending documents are retried by the loader")
}

func TestRunFailureAndEmptyResultSkipLoad(t *testing.T) {
	fx := newFixture(t, "tickets", "groups")
	fx.fetcher.results["tickets"] = fetcher.NewFailure("tickets", "u", &fetcher.Response{StatusCode: 429}, errors.New("too many requests"))

	rep := fx.in.Run(context.Background())
	require.NoError(t, rep.Err)
	require.Len(t, rep.Outcomes, 2)

	assert.Equal(t, fetcher.StatusError, rep.Outcomes[0].Status)
	assert.Equal(t, fetcher.StatusSuccess, rep.Outcomes[1].Status)
	assert.Empty(t, fx.loader.calls)

	entries, err := os.ReadDir(fx.store.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunAbortsSourceOnPanicButStillPrunes(t *testing.T) {
	fx := newFixture(t, "tickets", "agents", "groups")
	fx.fetcher.results["tickets"] = fetcher.NewSuccess("tickets", "u", payload(1), 1)
	fx.fetcher.results["agents"] = fetcher.NewSuccess("agents", "u", payload(1), 1)
	fx.loader.panic = "agents"

	rep := fx.in.Run(context.Background())
	require.Error(t, rep.Err)
	assert.Contains(t, rep.Err.Error(), "loader exploded")

	assert.Len(t, rep.Outcomes, 2)
	assert.Equal(t, []string{"tickets", "agents"}, fx.fetcher.calls)
	assert.Equal(t, 1, fx.archiver.prunes)

	pending, err := fx.store.Pending("agents")
	require.NoError(t, err)
	assert.True(t, pending, "document staged before the panic stays queued")
}

func TestRunWithoutEndpoints(t *testing.T) {
	fx := newFixture(t)
	rep := fx.in.Run(context.Background())
	assert.NoError(t, rep.Err)
	assert.Empty(t, rep.Outcomes)
	assert.Equal(t, 1, fx.archiver.prunes)
}
