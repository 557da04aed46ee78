package core

import (
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/typhonci/typhon/internal/eval"
	"github.com/typhonci/typhon/internal/events"
	"github.com/typhonci/typhon/internal/store"
	"github.com/typhonci/typhon/internal/testutil"
)

type testKernel struct {
	*Context
	evaluator *testutil.FakeEvaluator
	builder   *testutil.FakeBuilder
	runner    *testutil.FakeRunner
	dbPath    string
}

func newTestKernel(t *testing.T) *testKernel {
	t.Helper()
	k := &testKernel{
		evaluator: testutil.NewFakeEvaluator(),
		builder:   testutil.NewFakeBuilder(),
		runner:    testutil.NewFakeRunner(),
		dbPath:    filepath.Join(t.TempDir(), "typhon.db"),
	}
	c, err := New(Options{
		DBPath:    k.dbPath,
		Evaluator: k.evaluator,
		Builder:   k.builder,
		Runner:    k.runner,
		Logger:    log.New(io.Discard, "", 0),
	})
	require.NoError(t, err)
	k.Context = c
	t.Cleanup(func() { _ = c.Shutdown(context.Background()) })
	return k
}

// setupJobset creates project "p" with jobset "main" and an actions
// bundle, the fixture every scenario starts from.
func setupJobset(t *testing.T, k *testKernel) {
	t.Helper()
	_, err := k.CreateProject("p")
	require.NoError(t, err)
	require.NoError(t, k.SetDecl("p", `{
		"title": "Demo",
		"actions": "/typhon/actions",
		"jobsets": {"main": "github:demo/repo"}
	}`))
	_, err = k.RefreshProject("p")
	require.NoError(t, err)
	require.NoError(t, k.SetPrivateKey("p", "sekret"))
}

// evaluateAndSettle triggers one evaluation and waits for it and every
// run it spawned to finish.
func evaluateAndSettle(t *testing.T, k *testKernel) *store.Evaluation {
	t.Helper()
	e, err := k.Evaluate(context.Background(), "p", "main")
	require.NoError(t, err)
	require.NoError(t, k.WaitEvaluation(context.Background(), e.ID))

	jobs, err := k.DB().ListJobsByEvaluation(e.ID)
	require.NoError(t, err)
	for _, job := range jobs {
		runs, err := k.DB().ListRunsByJob(job.ID)
		require.NoError(t, err)
		for _, run := range runs {
			k.WaitRun(context.Background(), run.ID)
		}
	}
	return e
}

func singleRun(t *testing.T, k *testKernel, e *store.Evaluation) *store.Run {
	t.Helper()
	jobs, err := k.DB().ListJobsByEvaluation(e.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	runs, err := k.DB().ListRunsByJob(jobs[0].ID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	return runs[0]
}

func helloJobs() eval.NewJobs {
	return eval.NewJobs{
		{System: "x86_64-linux", Name: "hello"}: {Drv: "/nix/store/hello.drv", Out: "/nix/store/hello-out"},
	}
}

func TestHappyPath(t *testing.T) {
	k := newTestKernel(t)
	setupJobset(t, k)
	k.evaluator.Return(helloJobs())

	collector := events.NewEventCollector(k.Bus())
	defer collector.Close()

	e := evaluateAndSettle(t, k)

	info, err := k.GetEvaluationInfo(e.ID)
	require.NoError(t, err)
	require.Equal(t, store.StatusSuccess, info.Status)
	require.Equal(t, int64(1), info.Evaluation.Num)
	require.Len(t, info.Jobs, 1)

	run := singleRun(t, k, e)
	runInfo, err := k.GetRunInfo(run.ID)
	require.NoError(t, err)
	require.Equal(t, store.StatusSuccess, runInfo.Status)
	require.NotNil(t, runInfo.Run.BeginActionID)
	require.NotNil(t, runInfo.Run.BuildID)
	require.NotNil(t, runInfo.Run.EndActionID)

	begins := k.runner.Named("begin")
	require.Len(t, begins, 1)
	require.Equal(t, "pending", begins[0].Status())
	ends := k.runner.Named("end")
	require.Len(t, ends, 1)
	require.Equal(t, "success", ends[0].Status())

	k.Bus().Wait()
	require.Equal(t, 1, collector.Count(events.RunNew))
	require.GreaterOrEqual(t, collector.Count(events.RunUpdated), 2)
	require.True(t, collector.Has(events.BuildNew))
}

func TestBuildFailure(t *testing.T) {
	k := newTestKernel(t)
	setupJobset(t, k)
	k.evaluator.Return(helloJobs())
	k.builder.FailDrv("/nix/store/hello.drv")

	e := evaluateAndSettle(t, k)

	run := singleRun(t, k, e)
	runInfo, err := k.GetRunInfo(run.ID)
	require.NoError(t, err)
	require.Equal(t, store.StatusError, runInfo.Status)

	// Begin ran normally, and the end hook observed the failure.
	require.Len(t, k.runner.Named("begin"), 1)
	ends := k.runner.Named("end")
	require.Len(t, ends, 1)
	require.Equal(t, "error", ends[0].Status())

	// No second run is created automatically.
	runs, err := k.DB().ListRunsByJob(run.JobID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
}

func TestCancelDuringBuild(t *testing.T) {
	k := newTestKernel(t)
	setupJobset(t, k)
	k.evaluator.Return(helloJobs())
	release := k.builder.Block()
	defer release()

	e, err := k.Evaluate(context.Background(), "p", "main")
	require.NoError(t, err)
	require.NoError(t, k.WaitEvaluation(context.Background(), e.ID))

	// The evaluation already finished, so canceling it is rejected.
	err = k.CancelEvaluation(e.ID)
	require.Error(t, err)
	require.Equal(t, KindBadRequest, KindOf(err))

	run := singleRun(t, k, e)
	require.Eventually(t, func() bool {
		r, err := k.DB().GetRun(run.ID)
		return err == nil && r.BuildID != nil
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, k.CancelRun(run.ID))
	k.WaitRun(context.Background(), run.ID)

	// The end hook never ran.
	require.Empty(t, k.runner.Named("end"))
	updated, err := k.DB().GetRun(run.ID)
	require.NoError(t, err)
	require.Nil(t, updated.EndActionID)

	// No other run referenced the build, so it was canceled too. The
	// build finalizer settles asynchronously after the run's.
	require.Eventually(t, func() bool {
		runInfo, err := k.GetRunInfo(run.ID)
		return err == nil && runInfo.Status == store.StatusCanceled
	}, 5*time.Second, 10*time.Millisecond)

	// A second cancel of the settled run is rejected.
	err = k.CancelRun(run.ID)
	require.Error(t, err)
	require.Equal(t, KindBadRequest, KindOf(err))
}

func TestDeduplicatedBuild(t *testing.T) {
	k := newTestKernel(t)
	setupJobset(t, k)
	k.evaluator.Return(eval.NewJobs{
		{System: "x86_64-linux", Name: "alpha"}: {Drv: "/nix/store/drv42.drv"},
		{System: "x86_64-linux", Name: "beta"}:  {Drv: "/nix/store/drv42.drv"},
	})
	release := k.builder.Block()

	e, err := k.Evaluate(context.Background(), "p", "main")
	require.NoError(t, err)
	require.NoError(t, k.WaitEvaluation(context.Background(), e.ID))

	jobs, err := k.DB().ListJobsByEvaluation(e.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	// Hold the build until both runs reference it.
	var runIDs []int64
	for _, job := range jobs {
		runs, err := k.DB().ListRunsByJob(job.ID)
		require.NoError(t, err)
		require.Len(t, runs, 1)
		runIDs = append(runIDs, runs[0].ID)
	}
	buildIDs := make(map[int64]bool)
	require.Eventually(t, func() bool {
		buildIDs = make(map[int64]bool)
		for _, id := range runIDs {
			r, err := k.DB().GetRun(id)
			if err != nil || r.BuildID == nil {
				return false
			}
			buildIDs[*r.BuildID] = true
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)
	release()

	for _, id := range runIDs {
		k.WaitRun(context.Background(), id)
	}

	// Exactly one build entity, shared by both runs.
	require.Len(t, buildIDs, 1)
	require.Equal(t, 1, k.builder.Created("/nix/store/drv42.drv"))
	for _, id := range runIDs {
		info, err := k.GetRunInfo(id)
		require.NoError(t, err)
		require.Equal(t, store.StatusSuccess, info.Status)
	}
}

func TestShutdownMidEvaluation(t *testing.T) {
	k := newTestKernel(t)
	setupJobset(t, k)
	k.evaluator.Return(helloJobs())
	release := k.evaluator.Block()
	defer release()

	e, err := k.Evaluate(context.Background(), "p", "main")
	require.NoError(t, err)

	require.NoError(t, k.Shutdown(context.Background()))

	// Submitting more work after shutdown is rejected.
	_, err = k.Evaluate(context.Background(), "p", "main")
	require.Error(t, err)
	require.Equal(t, KindShuttingDown, KindOf(err))

	// The evaluator task was canceled and no jobs were inserted.
	db, err := store.Open(k.dbPath)
	require.NoError(t, err)
	defer db.Close()

	reopened, err := db.GetEvaluation(e.ID)
	require.NoError(t, err)
	status, err := db.Status(reopened.TaskID)
	require.NoError(t, err)
	require.Equal(t, store.StatusCanceled, status)

	jobs, err := db.ListJobsByEvaluation(e.ID)
	require.NoError(t, err)
	require.Empty(t, jobs)
}

func TestDenseNumAllocationUnderConcurrency(t *testing.T) {
	k := newTestKernel(t)
	setupJobset(t, k)

	const n = 50
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e, err := k.Evaluate(context.Background(), "p", "main")
			if err != nil {
				errs[i] = err
				return
			}
			errs[i] = k.WaitEvaluation(context.Background(), e.ID)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	info, err := k.GetJobsetInfo("p", "main")
	require.NoError(t, err)
	require.Len(t, info.Evaluations, n)

	seen := make(map[int64]bool)
	for _, e := range info.Evaluations {
		seen[e.Num] = true
	}
	for num := int64(1); num <= n; num++ {
		require.True(t, seen[num], "missing evaluation num %d", num)
	}
}

func TestEmptyEvaluationCreatesNoRuns(t *testing.T) {
	k := newTestKernel(t)
	setupJobset(t, k)

	e := evaluateAndSettle(t, k)

	info, err := k.GetEvaluationInfo(e.ID)
	require.NoError(t, err)
	require.Equal(t, store.StatusSuccess, info.Status)
	require.Empty(t, info.Jobs)

	runs, err := k.SearchRuns(store.RunSearch{})
	require.NoError(t, err)
	require.Empty(t, runs)
}

func TestEvaluationDriverError(t *testing.T) {
	k := newTestKernel(t)
	setupJobset(t, k)
	k.evaluator.Stream("evaluating...", "boom")
	k.evaluator.Fail(fmt.Errorf("flake does not evaluate"))

	e := evaluateAndSettle(t, k)

	info, err := k.GetEvaluationInfo(e.ID)
	require.NoError(t, err)
	require.Equal(t, store.StatusError, info.Status)
	require.Empty(t, info.Jobs)

	logBuf, err := k.EvaluationLog(e.ID)
	require.NoError(t, err)
	require.Contains(t, logBuf, "evaluating...")
	require.Contains(t, logBuf, "flake does not evaluate")
}

func TestCreateProjectDuplicate(t *testing.T) {
	k := newTestKernel(t)
	_, err := k.CreateProject("p")
	require.NoError(t, err)

	_, err = k.CreateProject("p")
	require.Error(t, err)
	require.Equal(t, KindBadRequest, KindOf(err))

	projects, err := k.ListProjects()
	require.NoError(t, err)
	require.Len(t, projects, 1)
}

func TestProjectRefreshRecreatesJobsets(t *testing.T) {
	k := newTestKernel(t)
	setupJobset(t, k)

	require.NoError(t, k.SetDecl("p", `{
		"actions": "/typhon/actions",
		"jobsets": {"main": "github:demo/repo?ref=v2", "nightly": "github:demo/repo?ref=nightly"}
	}`))
	info, err := k.RefreshProject("p")
	require.NoError(t, err)
	require.Len(t, info.Jobsets, 2)

	js, err := k.DB().GetJobset(info.Project.ID, "main")
	require.NoError(t, err)
	require.Equal(t, "github:demo/repo?ref=v2", js.FlakeRef)
}

func TestCancelJobCancelsLiveRuns(t *testing.T) {
	k := newTestKernel(t)
	setupJobset(t, k)
	k.evaluator.Return(helloJobs())
	release := k.builder.Block()
	defer release()

	e, err := k.Evaluate(context.Background(), "p", "main")
	require.NoError(t, err)
	require.NoError(t, k.WaitEvaluation(context.Background(), e.ID))

	run := singleRun(t, k, e)
	require.Eventually(t, func() bool {
		r, err := k.DB().GetRun(run.ID)
		return err == nil && r.BuildID != nil
	}, 5*time.Second, 10*time.Millisecond)

	canceled, err := k.CancelJob(run.JobID)
	require.NoError(t, err)
	require.Equal(t, 1, canceled)
	k.WaitRun(context.Background(), run.ID)

	// A second cancel finds nothing live.
	canceled, err = k.CancelJob(run.JobID)
	require.NoError(t, err)
	require.Zero(t, canceled)
}

func TestInfoOnUnknownHandles(t *testing.T) {
	k := newTestKernel(t)

	_, err := k.GetProjectInfo("nope")
	require.Equal(t, KindNotFound, KindOf(err))
	_, err = k.GetEvaluationInfo(99)
	require.Equal(t, KindNotFound, KindOf(err))
	_, err = k.GetJobInfo(99)
	require.Equal(t, KindNotFound, KindOf(err))
	_, err = k.GetBuildInfo(99)
	require.Equal(t, KindNotFound, KindOf(err))
	_, err = k.GetRunInfo(99)
	require.Equal(t, KindNotFound, KindOf(err))
}

func TestStartupReconciliation(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "typhon.db")

	db, err := store.Open(dbPath)
	require.NoError(t, err)
	taskID, err := db.NewTask()
	require.NoError(t, err)
	require.NoError(t, db.SetStatus(taskID, store.StatusRunning))
	require.NoError(t, db.Close())

	c, err := New(Options{
		DBPath:    dbPath,
		Evaluator: testutil.NewFakeEvaluator(),
		Builder:   testutil.NewFakeBuilder(),
		Runner:    testutil.NewFakeRunner(),
		Logger:    log.New(io.Discard, "", 0),
	})
	require.NoError(t, err)
	defer c.Shutdown(context.Background())

	status, err := c.DB().Status(taskID)
	require.NoError(t, err)
	require.Equal(t, store.StatusError, status)

	logBuf, err := c.DB().ReadLog(taskID)
	require.NoError(t, err)
	require.Contains(t, logBuf, "interrupted")
}
