package api

import "sync"

// Store keeps the most recent responses in memory, oldest evicted first.
type Store struct {
	mu    sync.RWMutex
	max   int
	order []string
	jobs  map[string]*BacktestResponse
}

func NewStore(max int) *Store {
	if max <= 0 {
		max = 1024
	}
	return &Store{max: max, jobs: make(map[string]*BacktestResponse)}
}

func (s *Store) Put(resp *BacktestResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[resp.JobID]; !ok {
		s.order = append(s.order, resp.JobID)
	}
	s.jobs[resp.JobID] = resp
	for len(s.order) > s.max {
		delete(s.jobs, s.order[0])
		s.order = s.order[1:]
	}
}

func (s *Store) Get(id string) (*BacktestResponse, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	resp, ok := s.jobs[id]
	return resp, ok
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}
