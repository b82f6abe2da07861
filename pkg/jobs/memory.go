package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

type memoryStore struct {
	mu   sync.RWMutex
	jobs map[string]Job
}

// NewMemoryStore returns a Store which keeps jobs in memory.
//
// Jobs are lost when the process exits.
func NewMemoryStore() Store {
	return &memoryStore{jobs: map[string]Job{}}
}

func clone(j Job) Job {
	j.Failures = append([]Failure{}, j.Failures...)
	j.Artifacts = append([]string{}, j.Artifacts...)
	if j.StartedAt != nil {
		t := *j.StartedAt
		j.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		j.FinishedAt = &t
	}
	return j
}

func (m *memoryStore) Insert(_ context.Context, job Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.Id]; ok {
		return fmt.Errorf("%w: job %s", ErrConflict, job.Id)
	}
	m.jobs[job.Id] = clone(job)
	return nil
}

func (m *memoryStore) Update(_ context.Context, job Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.Id]; !ok {
		return fmt.Errorf("%w: job %s", ErrNotFound, job.Id)
	}
	m.jobs[job.Id] = clone(job)
	return nil
}

func (m *memoryStore) Get(_ context.Context, id string) (Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("%w: job %s", ErrNotFound, id)
	}
	return clone(j), nil
}

func (m *memoryStore) List(_ context.Context, dataset string, limit int) ([]Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := []Job{}
	for _, j := range m.jobs {
		if dataset != "" && j.Dataset != dataset {
			continue
		}
		jobs = append(jobs, clone(j))
	}
	sort.Slice(jobs, func(i, k int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[k].CreatedAt) {
			return jobs[i].CreatedAt.After(jobs[k].CreatedAt)
		}
		return jobs[i].Id < jobs[k].Id
	})
	if 0 < limit && limit < len(jobs) {
		jobs = jobs[:limit]
	}
	return jobs, nil
}
