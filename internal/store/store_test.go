package store

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "typhon.db")
	db, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCreateProjectDuplicateNameFails(t *testing.T) {
	db := openTestDB(t)

	p1, err := db.CreateProject("p")
	require.NoError(t, err)
	require.NotZero(t, p1.ID)

	_, err = db.CreateProject("p")
	assert.ErrorIs(t, err, ErrProjectAlreadyExists)

	projects, err := db.ListProjects()
	require.NoError(t, err)
	assert.Len(t, projects, 1)
}

func TestTaskStatusTransitionsMonotonic(t *testing.T) {
	db := openTestDB(t)

	id, err := db.NewTask()
	require.NoError(t, err)

	status, err := db.Status(id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, status)

	require.NoError(t, db.SetStatus(id, StatusRunning))
	require.NoError(t, db.SetStatus(id, StatusSuccess))

	// success -> running is illegal.
	err = db.SetStatus(id, StatusRunning)
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestAppendAndReadLog(t *testing.T) {
	db := openTestDB(t)

	id, err := db.NewTask()
	require.NoError(t, err)

	require.NoError(t, db.AppendLog(id, "line one"))
	require.NoError(t, db.AppendLog(id, "line two\n"))

	buf, err := db.ReadLog(id)
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two\n", buf)
}

func TestReconcileMarksInterruptedTasksError(t *testing.T) {
	db := openTestDB(t)

	pendingID, err := db.NewTask()
	require.NoError(t, err)

	runningID, err := db.NewTask()
	require.NoError(t, err)
	require.NoError(t, db.SetStatus(runningID, StatusRunning))

	doneID, err := db.NewTask()
	require.NoError(t, err)
	require.NoError(t, db.SetStatus(doneID, StatusRunning))
	require.NoError(t, db.SetStatus(doneID, StatusSuccess))

	n, err := db.Reconcile()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	s, err := db.Status(pendingID)
	require.NoError(t, err)
	assert.Equal(t, StatusError, s)

	s, err = db.Status(runningID)
	require.NoError(t, err)
	assert.Equal(t, StatusError, s)

	s, err = db.Status(doneID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, s)
}

func TestEvaluationNumDenseUnderConcurrency(t *testing.T) {
	db := openTestDB(t)

	p, err := db.CreateProject("p")
	require.NoError(t, err)
	js, err := db.CreateJobset(p.ID, "main", "github:example/flake")
	require.NoError(t, err)

	const n = 50
	var wg sync.WaitGroup
	nums := make([]int64, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			e, err := db.CreateEvaluation(js.ID, p.ID, nil)
			if err != nil {
				errs[i] = err
				return
			}
			nums[i] = e.Num
		}()
	}
	wg.Wait()

	seen := make(map[int64]bool)
	for i, err := range errs {
		require.NoError(t, err)
		seen[nums[i]] = true
	}
	assert.Len(t, seen, n)
	for i := int64(1); i <= n; i++ {
		assert.True(t, seen[i], "missing num %d", i)
	}
}

func TestRunPhaseFieldsSetOnceNeverOverwritten(t *testing.T) {
	db := openTestDB(t)

	p, err := db.CreateProject("p")
	require.NoError(t, err)
	js, err := db.CreateJobset(p.ID, "main", "github:example/flake")
	require.NoError(t, err)
	e, err := db.CreateEvaluation(js.ID, p.ID, nil)
	require.NoError(t, err)
	jobs, runs, err := db.CreateJobsAndRuns(e.ID, []JobInput{{System: "x86_64-linux", Name: "hello", Drv: "/nix/store/x.drv"}})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Len(t, runs, 1)
	run := runs[0]
	assert.Equal(t, int64(1), run.Num)

	beginAction, err := db.CreateAction(p.ID, `{}`, "/bundle/begin")
	require.NoError(t, err)
	build, err := db.CreateBuild("/nix/store/x.drv")
	require.NoError(t, err)

	require.NoError(t, db.SetBeginAndBuild(run.ID, beginAction.ID, build.ID))

	// Second call must not overwrite.
	otherAction, err := db.CreateAction(p.ID, `{}`, "/bundle/begin")
	require.NoError(t, err)
	err = db.SetBeginAndBuild(run.ID, otherAction.ID, build.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := db.GetRun(run.ID)
	require.NoError(t, err)
	require.NotNil(t, got.BeginActionID)
	assert.Equal(t, beginAction.ID, *got.BeginActionID)

	endAction, err := db.CreateAction(p.ID, `{}`, "/bundle/end")
	require.NoError(t, err)
	require.NoError(t, db.SetEnd(run.ID, endAction.ID))

	got, err = db.GetRun(run.ID)
	require.NoError(t, err)
	require.NotNil(t, got.EndActionID)
	assert.Equal(t, endAction.ID, *got.EndActionID)
}

func TestAtMostOneLiveBuildPerDrv(t *testing.T) {
	db := openTestDB(t)

	_, err := db.GetLiveBuild("/nix/store/x.drv")
	assert.ErrorIs(t, err, ErrNotFound)

	b, err := db.CreateBuild("/nix/store/x.drv")
	require.NoError(t, err)

	live, err := db.GetLiveBuild("/nix/store/x.drv")
	require.NoError(t, err)
	assert.Equal(t, b.ID, live.ID)

	require.NoError(t, db.SetStatus(b.TaskID, StatusRunning))
	require.NoError(t, db.SetStatus(b.TaskID, StatusSuccess))

	_, err = db.GetLiveBuild("/nix/store/x.drv")
	assert.ErrorIs(t, err, ErrNotFound)
}
