package store

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kubilitics/shipctl/internal/transaction"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateAndGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	d := transaction.NewDeployment("mypkg", "1.0.0", transaction.PipelineStandard, []string{"npm"}, time.Now().UTC())
	require.NoError(t, s.Create(d))

	got, err := s.Get(d.ID)
	require.NoError(t, err)
	require.Equal(t, d.Package, got.Package)
	require.Equal(t, transaction.StatusInProgress, got.Status)
}

func TestAppendStageIsOrderedAndRejectsAfterTerminal(t *testing.T) {
	s := newTestStore(t)
	d := transaction.NewDeployment("mypkg", "1.0.0", transaction.PipelineStandard, []string{"npm"}, time.Now().UTC())
	require.NoError(t, s.Create(d))

	require.NoError(t, s.AppendStage(d.ID, transaction.StageValidation, transaction.StageStarted, ""))
	require.NoError(t, s.AppendStage(d.ID, transaction.StageValidation, transaction.StageCompleted, ""))
	require.NoError(t, s.Finalize(d.ID, transaction.StatusFailed))
	require.Error(t, s.AppendStage(d.ID, transaction.StagePreDeploy, transaction.StageStarted, ""))
}

func TestFinalizeIdempotentThroughStore(t *testing.T) {
	s := newTestStore(t)
	d := transaction.NewDeployment("mypkg", "1.0.0", transaction.PipelineStandard, []string{"npm"}, time.Now().UTC())
	require.NoError(t, s.Create(d))

	require.NoError(t, s.Finalize(d.ID, transaction.StatusCompleted))
	require.NoError(t, s.Finalize(d.ID, transaction.StatusCompleted))
	require.Error(t, s.Finalize(d.ID, transaction.StatusFailed))
}

func TestConcurrentUpdatePlatformNeverInterleaves(t *testing.T) {
	s := newTestStore(t)
	d := transaction.NewDeployment("mypkg", "1.0.0", transaction.PipelineParallel, []string{"npm", "pypi"}, time.Now().UTC())
	require.NoError(t, s.Create(d))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = s.UpdatePlatform(d.ID, "npm", transaction.PlatformStatus{State: transaction.PlatformCompleted})
	}()
	go func() {
		defer wg.Done()
		_ = s.UpdatePlatform(d.ID, "pypi", transaction.PlatformStatus{State: transaction.PlatformCompleted})
	}()
	wg.Wait()

	got, err := s.Get(d.ID)
	require.NoError(t, err)
	require.Equal(t, transaction.PlatformCompleted, got.Platforms["npm"].State)
	require.Equal(t, transaction.PlatformCompleted, got.Platforms["pypi"].State)
}

func TestListRecentAndFindLatestForPackage(t *testing.T) {
	s := newTestStore(t)
	base := time.Now().UTC()
	d1 := transaction.NewDeployment("mypkg", "1.0.0", transaction.PipelineStandard, []string{"npm"}, base)
	d2 := transaction.NewDeployment("mypkg", "2.0.0", transaction.PipelineStandard, []string{"npm"}, base.Add(time.Minute))
	d3 := transaction.NewDeployment("other", "1.0.0", transaction.PipelineStandard, []string{"npm"}, base.Add(2*time.Minute))
	require.NoError(t, s.Create(d1))
	require.NoError(t, s.Create(d2))
	require.NoError(t, s.Create(d3))

	recent, err := s.ListRecent(2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, d3.ID, recent[0].ID)

	latest, err := s.FindLatestForPackage("mypkg")
	require.NoError(t, err)
	require.NotNil(t, latest)
	require.Equal(t, d2.ID, latest.ID)
}

func TestIndexRebuildsFromJSONWhenEmpty(t *testing.T) {
	dir := t.TempDir()
	s1, err := Open(dir)
	require.NoError(t, err)
	d := transaction.NewDeployment("mypkg", "1.0.0", transaction.PipelineStandard, []string{"npm"}, time.Now().UTC())
	require.NoError(t, s1.Create(d))
	require.NoError(t, s1.Close())

	s2, err := Open(dir)
	require.NoError(t, err)
	defer s2.Close()
	recent, err := s2.ListRecent(10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
}

func TestRollbackRoundTrip(t *testing.T) {
	s := newTestStore(t)
	r := &transaction.Rollback{
		ID:           transaction.NewID(),
		DeploymentID: transaction.NewID(),
		Package:      "mypkg",
		Targets:      []string{"npm"},
		Reason:       transaction.ReasonManualTrigger,
		StartedAt:    time.Now().UTC(),
		Status:       transaction.StatusInProgress,
		Platforms:    map[string]transaction.PlatformStatus{"npm": {State: transaction.PlatformPending}},
	}
	require.NoError(t, s.CreateRollback(r))
	got, err := s.GetRollback(r.ID)
	require.NoError(t, err)
	require.Equal(t, r.DeploymentID, got.DeploymentID)
}
