package schedule

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/scribe/errors"
	"github.com/teranos/scribe/pulse/async"
)

// ============================================================================
// Cronos Retention Test Universe
// ============================================================================
//
// Characters:
//   - Cronos: Greek god of time, sweeps away saves older than the window
//   - Kirby: leaves finished jobs (and their files) lying around
// ============================================================================

type recordingPruner struct {
	mu    sync.Mutex
	calls [][]string
	err   error
}

func (p *recordingPruner) Prune(_ context.Context, keep []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	sorted := append([]string(nil), keep...)
	sort.Strings(sorted)
	p.calls = append(p.calls, sorted)
	return p.err
}

type retentionFixture struct {
	dir    string
	store  *async.Store
	pruner *recordingPruner
	cfg    RetentionConfig
}

func newRetentionFixture(t *testing.T, window time.Duration) *retentionFixture {
	t.Helper()
	dir := t.TempDir()
	for _, sub := range []string{"uploads", "results", "logs"} {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, sub), 0o755))
	}
	return &retentionFixture{
		dir:    dir,
		store:  async.NewStore(filepath.Join(dir, "logs"), nil, nil),
		pruner: &recordingPruner{},
		cfg: RetentionConfig{
			Window:    window,
			Interval:  time.Hour,
			UploadDir: filepath.Join(dir, "uploads"),
			ResultDir: filepath.Join(dir, "results"),
		},
	}
}

// addJob registers a job with files on disk and drives it to status.
func (f *retentionFixture) addJob(t *testing.T, id string, status async.JobStatus) {
	t.Helper()
	_, err := f.store.Register(id, "clip.wav")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "uploads", id+"_clip.wav"), []byte("a"), 0o644))
	require.NoError(t, f.store.AppendLog(id, "hello"))

	if status == async.JobStatusQueued {
		return
	}
	_, err = f.store.Update(id, async.JobUpdate{}.WithStatus(async.JobStatusProcessing))
	require.NoError(t, err)

	switch status {
	case async.JobStatusCompleted:
		result := filepath.Join(f.dir, "results", id+".txt")
		require.NoError(t, os.WriteFile(result, []byte("text"), 0o644))
		_, err = f.store.Update(id, async.JobUpdate{}.WithStatus(status).WithResultPath(result))
	case async.JobStatusFailed:
		_, err = f.store.Update(id, async.JobUpdate{}.WithStatus(status).WithError("boom"))
	}
	require.NoError(t, err)
}

func TestCronosEvictsExpiredTerminalJobs(t *testing.T) {
	f := newRetentionFixture(t, 7*24*time.Hour)
	f.addJob(t, "done", async.JobStatusCompleted)
	f.addJob(t, "broken", async.JobStatusFailed)
	f.addJob(t, "waiting", async.JobStatusQueued)
	f.addJob(t, "busy", async.JobStatusProcessing)

	r := NewRetention(context.Background(), f.store, f.pruner, f.cfg, nil)

	// Eight days later: everything finished is stale.
	report, err := r.RunOnce(context.Background(), time.Now().Add(8*24*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, []string{"broken", "done"}, report.Removed)
	assert.Equal(t, 5, report.FilesDeleted) // 2 uploads + 1 result + 2 logs
	assert.True(t, report.Pruned)
	assert.ElementsMatch(t, []string{"waiting", "busy"}, f.store.IDs())

	assert.NoFileExists(t, filepath.Join(f.dir, "results", "done.txt"))
	assert.NoFileExists(t, filepath.Join(f.dir, "uploads", "done_clip.wav"))
	assert.NoFileExists(t, filepath.Join(f.dir, "logs", "broken.log"))
	assert.FileExists(t, filepath.Join(f.dir, "uploads", "waiting_clip.wav"))
	assert.FileExists(t, filepath.Join(f.dir, "logs", "busy.log"))

	require.Len(t, f.pruner.calls, 1)
	assert.Equal(t, []string{"busy", "waiting"}, f.pruner.calls[0])
}

func TestCronosKeepsFreshJobs(t *testing.T) {
	f := newRetentionFixture(t, 7*24*time.Hour)
	f.addJob(t, "recent", async.JobStatusCompleted)

	r := NewRetention(context.Background(), f.store, f.pruner, f.cfg, nil)
	report, err := r.RunOnce(context.Background(), time.Now().Add(6*24*time.Hour))
	require.NoError(t, err)

	assert.Empty(t, report.Removed)
	assert.False(t, report.Pruned)
	assert.Empty(t, f.pruner.calls, "nothing removed, history untouched")
	assert.Equal(t, []string{"recent"}, f.store.IDs())
}

func TestCronosZeroWindowEvictsImmediately(t *testing.T) {
	f := newRetentionFixture(t, 0)
	f.addJob(t, "instant", async.JobStatusCompleted)

	r := NewRetention(context.Background(), f.store, f.pruner, f.cfg, nil)
	time.Sleep(time.Millisecond)
	report, err := r.RunOnce(context.Background(), time.Now())
	require.NoError(t, err)

	assert.Equal(t, []string{"instant"}, report.Removed)
	_, err = f.store.Snapshot("instant")
	assert.True(t, errors.IsNotFoundError(err))
	require.Len(t, f.pruner.calls, 1)
	assert.Empty(t, f.pruner.calls[0])
}

func TestCronosPruneErrorReported(t *testing.T) {
	f := newRetentionFixture(t, 0)
	f.pruner.err = errors.New("history locked")
	f.addJob(t, "x", async.JobStatusFailed)

	r := NewRetention(context.Background(), f.store, f.pruner, f.cfg, nil)
	time.Sleep(time.Millisecond)
	report, err := r.RunOnce(context.Background(), time.Now())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "history locked")
	assert.Equal(t, []string{"x"}, report.Removed, "store eviction still happens")
	assert.False(t, report.Pruned)
}

func TestCronosTickerLoop(t *testing.T) {
	f := newRetentionFixture(t, 0)
	f.cfg.Interval = 10 * time.Millisecond
	f.addJob(t, "tick", async.JobStatusCompleted)

	r := NewRetention(context.Background(), f.store, nil, f.cfg, nil)
	r.Start()
	r.Start()
	defer r.Stop()

	require.Eventually(t, func() bool {
		return len(f.store.IDs()) == 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.False(t, r.LastTick().IsZero())
}

func TestRetentionDefaults(t *testing.T) {
	f := newRetentionFixture(t, -time.Hour)
	f.cfg.Interval = 0

	r := NewRetention(context.Background(), f.store, nil, f.cfg, nil)
	assert.Equal(t, time.Duration(0), r.config.Window)
	assert.Equal(t, DefaultRetentionInterval, r.config.Interval)
	r.Stop()
}
