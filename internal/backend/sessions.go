package backend

import (
	"maps"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/aretw0/docket/pkg/domain"
)

// Upload is the server-side record of a staged file and its answers.
type Upload struct {
	File      domain.FileRef
	StagedAt  string // local path of the staged copy
	Current   string // id of the question awaiting an answer
	Answers   map[string]string
	Analysis  *domain.Analysis
	Confirmed bool
}

func (u *Upload) clone() *Upload {
	c := *u
	c.Answers = maps.Clone(u.Answers)
	if c.Answers == nil {
		c.Answers = make(map[string]string)
	}
	return &c
}

// SessionCache keeps per-file upload records with expiry.
type SessionCache struct {
	mu    sync.Mutex
	cache *cache.Cache
}

// NewSessionCache creates a cache whose entries expire after ttl of inactivity.
func NewSessionCache(ttl time.Duration) *SessionCache {
	return &SessionCache{
		cache: cache.New(ttl, ttl/2),
	}
}

// Put stores a copy of u.
func (s *SessionCache) Put(u *Upload) {
	s.cache.Set(u.File.ID, u.clone(), cache.DefaultExpiration)
}

// Get returns a copy of the record for fileID.
func (s *SessionCache) Get(fileID string) (*Upload, bool) {
	x, found := s.cache.Get(fileID)
	if !found {
		return nil, false
	}
	return x.(*Upload).clone(), true
}

// Update applies fn to the record under a lock and stores the result.
// It reports false when no record exists.
func (s *SessionCache) Update(fileID string, fn func(*Upload) error) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	x, found := s.cache.Get(fileID)
	if !found {
		return false, nil
	}
	u := x.(*Upload).clone()
	if err := fn(u); err != nil {
		return true, err
	}
	s.cache.Set(fileID, u, cache.DefaultExpiration)
	return true, nil
}

// Delete forgets the record for fileID.
func (s *SessionCache) Delete(fileID string) {
	s.cache.Delete(fileID)
}

// Len returns the number of live records.
func (s *SessionCache) Len() int {
	return s.cache.ItemCount()
}

// OnEvicted registers a callback run when a record expires or is deleted.
func (s *SessionCache) OnEvicted(fn func(fileID string, u *Upload)) {
	s.cache.OnEvicted(func(k string, v any) {
		fn(k, v.(*Upload))
	})
}
