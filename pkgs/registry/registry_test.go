package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Valgeir99/distributed-optimization-solver/pkgs/storage"
)

func newTestRegistry(t *testing.T) (*Registry, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(store, 10), store
}

func TestRegisterAndGet(t *testing.T) {
	reg, _ := newTestRegistry(t)

	require.NoError(t, reg.RegisterInstance(&storage.ProblemInstance{
		Name:         "p0201",
		RewardBudget: 100,
		Active:       true,
		Minimize:     true,
	}))

	inst, err := reg.GetInstance("p0201")
	require.NoError(t, err)
	require.Equal(t, "p0201", inst.Name)
	require.True(t, inst.Minimize)
}

func TestRegisterRejectsNegativeBudget(t *testing.T) {
	reg, _ := newTestRegistry(t)

	err := reg.RegisterInstance(&storage.ProblemInstance{Name: "bad", RewardBudget: -1})
	require.Error(t, err)
}

func TestIsAcceptingUnknownInstance(t *testing.T) {
	reg, _ := newTestRegistry(t)

	accepting, err := reg.IsAccepting("missing")
	require.NoError(t, err)
	require.False(t, accepting)
}

func TestIsAcceptingTracksActiveFlag(t *testing.T) {
	reg, store := newTestRegistry(t)

	require.NoError(t, reg.RegisterInstance(&storage.ProblemInstance{Name: "p", Active: true, RewardBudget: 10}))
	accepting, err := reg.IsAccepting("p")
	require.NoError(t, err)
	require.True(t, accepting)

	require.NoError(t, store.DB().Model(&storage.ProblemInstance{}).Where("name = ?", "p").Update("active", false).Error)
	accepting, err = reg.IsAccepting("p")
	require.NoError(t, err)
	require.False(t, accepting)
}

func TestLoadFromDir(t *testing.T) {
	reg, _ := newTestRegistry(t)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "p0201.json"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stein27.mps"), []byte("NAME stein27"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	loaded, err := reg.LoadFromDir(dir, "client-1", 50, true)
	require.NoError(t, err)
	require.Equal(t, 2, loaded)

	inst, err := reg.GetInstance("p0201")
	require.NoError(t, err)
	require.EqualValues(t, 50, inst.RewardBudget)
	require.True(t, inst.Active)

	// re-loading the same directory registers nothing new
	loaded, err = reg.LoadFromDir(dir, "client-1", 50, true)
	require.NoError(t, err)
	require.Zero(t, loaded)
}

func TestSampleInstancesBoundedByPoolSize(t *testing.T) {
	store, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	reg := New(store, 2)

	for _, name := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, reg.RegisterInstance(&storage.ProblemInstance{Name: name, Active: true}))
	}

	sample, err := reg.SampleInstances()
	require.NoError(t, err)
	require.Len(t, sample, 2)
}
