package pipeline

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Meng-nanco/Disaster-Response-Pipelines/internal/config"
	"github.com/Meng-nanco/Disaster-Response-Pipelines/internal/etlerr"
	"github.com/Meng-nanco/Disaster-Response-Pipelines/internal/metrics"
	"github.com/Meng-nanco/Disaster-Response-Pipelines/internal/storage"
	"github.com/Meng-nanco/Disaster-Response-Pipelines/internal/storage/sqlite"
)

type message struct {
	ID      int64  `db:"id"`
	Text    string `db:"text"`
	Related int64  `db:"related"`
	Offer   int64  `db:"offer"`
}

type fixture struct {
	dir        string
	messages   string
	categories string
	db         string
}

func newFixture(t *testing.T, messages, categories string) fixture {
	t.Helper()
	dir := t.TempDir()
	f := fixture{
		dir:        dir,
		messages:   filepath.Join(dir, "messages.csv"),
		categories: filepath.Join(dir, "categories.csv"),
		db:         filepath.Join(dir, "disaster.db"),
	}
	require.NoError(t, os.WriteFile(f.messages, []byte(messages), 0o644))
	require.NoError(t, os.WriteFile(f.categories, []byte(categories), 0o644))
	return f
}

func (f fixture) args(table string) Args {
	return Args{MessagesPath: f.messages, CategoriesPath: f.categories, Destination: f.db, TableName: table}
}

func readTable(t *testing.T, path, table string) []message {
	t.Helper()
	db, err := sqlx.Open(sqlite.DriverName, path)
	require.NoError(t, err)
	defer db.Close()

	var got []message
	require.NoError(t, db.Select(&got,
		`SELECT id, text, related, offer FROM `+sqlite.Dialect.QuoteIdent(table)+` ORDER BY rowid`))
	return got
}

// countingOpen wraps storage.Open and records how often it ran.
type countingOpen struct {
	mu    sync.Mutex
	calls int
}

func (c *countingOpen) open(ctx context.Context, dest string, opt storage.Options) (storage.Sink, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return storage.Open(ctx, dest, opt)
}

func TestRunSingleRow(t *testing.T) {
	f := newFixture(t, "id,text\n1,help\n", "id,categories\n1,related-1;offer-0\n")
	var out bytes.Buffer

	res, err := Run(context.Background(), f.args("messages"), config.Defaults(), Deps{Out: &out})
	require.NoError(t, err)

	assert.Equal(t, Result{RowsMerged: 1, Categories: 2, RowsSaved: 1}, res)
	assert.Equal(t, []message{{ID: 1, Text: "help", Related: 1, Offer: 0}}, readTable(t, f.db, "messages"))

	want := "Loading data...\n" +
		"    MESSAGES: " + f.messages + "\n" +
		"    CATEGORIES: " + f.categories + "\n" +
		"Cleaning data...\n" +
		"Saving data...\n" +
		"    DATABASE: " + f.db + "\n" +
		"    TABLE: messages\n" +
		"Cleaned data saved to database!\n"
	assert.Equal(t, want, out.String())
}

func TestRunDropsDuplicates(t *testing.T) {
	f := newFixture(t,
		"id,text\n1,help\n",
		"id,categories\n1,related-1;offer-0\n1,related-1;offer-0\n")

	res, err := Run(context.Background(), f.args("messages"), config.Defaults(), Deps{})
	require.NoError(t, err)

	assert.Equal(t, 2, res.RowsMerged)
	assert.Equal(t, 1, res.DuplicatesDropped)
	assert.Len(t, readTable(t, f.db, "messages"), 1)
}

func TestRunKeepsDuplicatesWhenDisabled(t *testing.T) {
	f := newFixture(t,
		"id,text\n1,help\n",
		"id,categories\n1,related-1;offer-0\n1,related-1;offer-0\n")
	cfg := config.Defaults()
	cfg.Dedup.Enabled = false

	res, err := Run(context.Background(), f.args("messages"), cfg, Deps{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, res.RowsSaved)
}

func TestRunKeyedDedup(t *testing.T) {
	f := newFixture(t,
		"id,text\n1,help\n2,food\n",
		"id,categories\n1,related-1;offer-0\n2,related-0;offer-0\n1,related-0;offer-1\n")
	cfg := config.Defaults()
	cfg.Dedup.Keys = []string{"id"}
	cfg.Dedup.Policy = "keep-last"

	res, err := Run(context.Background(), f.args("messages"), cfg, Deps{})
	require.NoError(t, err)

	assert.Equal(t, 1, res.DuplicatesDropped)
	assert.Equal(t, []message{
		{ID: 1, Text: "help", Related: 0, Offer: 1},
		{ID: 2, Text: "food", Related: 0, Offer: 0},
	}, readTable(t, f.db, "messages"))
}

func TestRunKeyedDedupUnknownKey(t *testing.T) {
	f := newFixture(t, "id,text\n1,help\n", "id,categories\n1,related-1\n")
	cfg := config.Defaults()
	cfg.Dedup.Keys = []string{"message_id"}

	_, err := Run(context.Background(), f.args("messages"), cfg, Deps{})
	require.ErrorIs(t, err, etlerr.ErrSchema)
	_, statErr := os.Stat(f.db)
	assert.True(t, os.IsNotExist(statErr), "store must stay untouched")
}

func TestRunDropsUnmatchedIDs(t *testing.T) {
	f := newFixture(t,
		"id,text\n1,help\n2,orphan\n",
		"id,categories\n1,related-1;offer-0\n")

	_, err := Run(context.Background(), f.args("messages"), config.Defaults(), Deps{})
	require.NoError(t, err)

	got := readTable(t, f.db, "messages")
	require.Len(t, got, 1)
	assert.EqualValues(t, 1, got[0].ID)
}

func TestRunOverwritesByDefault(t *testing.T) {
	f := newFixture(t, "id,text\n1,help\n2,water\n", "id,categories\n1,related-1;offer-0\n2,related-0;offer-1\n")

	for i := 0; i < 2; i++ {
		_, err := Run(context.Background(), f.args("messages"), config.Defaults(), Deps{})
		require.NoError(t, err)
	}
	assert.Len(t, readTable(t, f.db, "messages"), 2)
}

func TestRunAppendAndFailIfExists(t *testing.T) {
	f := newFixture(t, "id,text\n1,help\n", "id,categories\n1,related-1;offer-0\n")

	_, err := Run(context.Background(), f.args("messages"), config.Defaults(), Deps{})
	require.NoError(t, err)

	cfg := config.Defaults()
	cfg.Storage.IfExists = "append"
	_, err = Run(context.Background(), f.args("messages"), cfg, Deps{})
	require.NoError(t, err)
	assert.Len(t, readTable(t, f.db, "messages"), 2)

	cfg.Storage.IfExists = "fail-if-exists"
	var out bytes.Buffer
	_, err = Run(context.Background(), f.args("messages"), cfg, Deps{Out: &out})
	require.ErrorIs(t, err, storage.ErrTableExists)
	require.ErrorIs(t, err, etlerr.ErrIO)
	assert.NotContains(t, out.String(), "Cleaned data saved to database!")
	assert.Len(t, readTable(t, f.db, "messages"), 2)
}

func TestRunStageFailuresLeaveStoreUntouched(t *testing.T) {
	tests := []struct {
		name       string
		messages   string
		categories string
		missing    bool
		want       error
	}{
		{name: "missing input", missing: true, want: etlerr.ErrFileNotFound},
		{name: "no id column", messages: "key,text\n1,help\n", categories: "id,categories\n1,related-1\n", want: etlerr.ErrSchema},
		{name: "malformed csv", messages: "id,text\n1,help,extra\n", categories: "id,categories\n1,related-1\n", want: etlerr.ErrParse},
		{name: "ragged categories", messages: "id,text\n1,a\n2,b\n",
			categories: "id,categories\n1,related-1;offer-0\n2,related-1\n", want: etlerr.ErrParse},
		{name: "non-digit value", messages: "id,text\n1,a\n", categories: "id,categories\n1,related-x\n", want: etlerr.ErrConversion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.messages, tt.categories)
			args := f.args("messages")
			if tt.missing {
				args.MessagesPath = filepath.Join(f.dir, "absent.csv")
			}
			opener := &countingOpen{}
			var out bytes.Buffer

			_, err := Run(context.Background(), args, config.Defaults(), Deps{Out: &out, Open: opener.open})
			require.ErrorIs(t, err, tt.want)
			assert.Zero(t, opener.calls, "sink must not be opened")
			assert.NotContains(t, out.String(), "Saving data...")
			_, statErr := os.Stat(f.db)
			assert.True(t, os.IsNotExist(statErr), "destination must not be created")
		})
	}
}

func TestRunRejectsUnknownPolicy(t *testing.T) {
	f := newFixture(t, "id,text\n1,help\n", "id,categories\n1,related-1\n")
	cfg := config.Defaults()
	cfg.Storage.IfExists = "merge"

	var out bytes.Buffer
	_, err := Run(context.Background(), f.args("messages"), cfg, Deps{Out: &out})
	require.Error(t, err)
	assert.Empty(t, out.String())
}

func TestRunCanceled(t *testing.T) {
	f := newFixture(t, "id,text\n1,help\n", "id,categories\n1,related-1\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, f.args("messages"), config.Defaults(), Deps{})
	require.ErrorIs(t, err, context.Canceled)
}

type stepRecorder struct {
	mu      sync.Mutex
	steps   []metrics.Labels
	rows    map[string]float64
	batches []metrics.Labels
}

func (r *stepRecorder) IncCounter(name string, delta float64, l metrics.Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch name {
	case metrics.StepTotal:
		r.steps = append(r.steps, l)
	case metrics.RowsTotal:
		r.rows[l["kind"]] += delta
	case metrics.BatchesTotal:
		r.batches = append(r.batches, l)
	}
}

func (r *stepRecorder) ObserveHistogram(string, float64, metrics.Labels) {}
func (r *stepRecorder) Flush() error                                     { return nil }

func TestRunRecordsMetrics(t *testing.T) {
	rec := &stepRecorder{rows: map[string]float64{}}
	metrics.SetBackend(rec)
	t.Cleanup(metrics.Reset)

	f := newFixture(t,
		"id,text\n1,help\n",
		"id,categories\n1,related-1;offer-0\n1,related-1;offer-0\n")
	cfg := config.Defaults()
	cfg.Job = "disaster"

	_, err := Run(context.Background(), f.args("messages"), cfg, Deps{})
	require.NoError(t, err)

	require.Len(t, rec.steps, 3)
	for i, step := range []string{metrics.StepLoad, metrics.StepClean, metrics.StepSave} {
		assert.Equal(t, metrics.Labels{"job": "disaster", "step": step, "status": "success"}, rec.steps[i])
	}
	assert.Equal(t, float64(3), rec.rows[metrics.RowsLoaded])
	assert.Equal(t, float64(2), rec.rows[metrics.RowsMerged])
	assert.Equal(t, float64(1), rec.rows[metrics.RowsDuplicatesDropped])
	assert.Equal(t, float64(1), rec.rows[metrics.RowsSaved])
	require.Len(t, rec.batches, 1)
	assert.Equal(t, metrics.Labels{"job": "disaster"}, rec.batches[0])
}
