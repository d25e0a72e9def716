package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/Valgeir99/distributed-optimization-solver/pkgs/storage"
)

// Registry owns the catalog of problem instances. It is a thin layer over the
// store: budget fields are mutated only by settlement, never here.
type Registry struct {
	store    *storage.Store
	poolSize int
}

// New creates a registry backed by the given store. poolSize bounds the
// random sample handed to browsing agents.
func New(store *storage.Store, poolSize int) *Registry {
	return &Registry{store: store, poolSize: poolSize}
}

// GetActiveInstances returns every instance currently accepting submissions.
func (r *Registry) GetActiveInstances() ([]storage.ProblemInstance, error) {
	return r.store.ActiveInstances()
}

// SampleInstances returns up to poolSize active instances drawn at random,
// so agents see a bounded subset rather than the full catalog.
func (r *Registry) SampleInstances() ([]storage.ProblemInstance, error) {
	return r.store.SampleActiveInstances(r.poolSize)
}

// IsAccepting reports whether the instance exists and is still accepting
// submissions. Unknown instances are simply not accepting.
func (r *Registry) IsAccepting(name string) (bool, error) {
	inst, err := r.store.GetInstance(name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return inst.Active, nil
}

// GetInstance loads one instance by name.
func (r *Registry) GetInstance(name string) (*storage.ProblemInstance, error) {
	return r.store.GetInstance(name)
}

// RegisterInstance adds a new problem instance to the catalog.
func (r *Registry) RegisterInstance(inst *storage.ProblemInstance) error {
	if inst.RewardBudget < 0 {
		return fmt.Errorf("reward budget must not be negative")
	}
	if err := r.store.CreateInstance(inst); err != nil {
		return err
	}
	log.Infof("Registered problem instance %s (budget %d)", inst.Name, inst.RewardBudget)
	return nil
}

// LoadFromDir registers every problem file found in dir that is not already
// in the catalog. The file name without extension becomes the instance name.
func (r *Registry) LoadFromDir(dir, clientID string, budget int64, minimize bool) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("reading problem instances dir %s: %w", dir, err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".mps" && ext != ".lp" && ext != ".json" {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ext)

		if _, err := r.store.GetInstance(name); err == nil {
			continue // already registered
		} else if !errors.Is(err, storage.ErrNotFound) {
			return loaded, err
		}

		inst := &storage.ProblemInstance{
			Name:         name,
			ClientID:     clientID,
			Description:  fmt.Sprintf("problem instance loaded from %s", entry.Name()),
			FileLocation: filepath.Join(dir, entry.Name()),
			RewardBudget: budget,
			Active:       true,
			Minimize:     minimize,
		}
		if err := r.RegisterInstance(inst); err != nil {
			return loaded, err
		}
		loaded++
	}

	return loaded, nil
}
