package user

import (
	"strings"
	"sync"

	"github.com/mbasaglia/Melanobot-v2-sub002/network"
)

// GroupStore persists direct group membership.
// Members are users with only Name, GlobalID or Host set.
type GroupStore interface {
	AddMember(group string, member network.User) error
	RemoveMember(group string, member network.User) (bool, error)
	Members(group string) ([]network.User, error)
}

// MemoryStore is a GroupStore that forgets everything on exit
type MemoryStore struct {
	mu     sync.RWMutex
	groups map[string][]network.User
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		groups: make(map[string][]network.User),
	}
}

func (s *MemoryStore) AddMember(group string, member network.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.groups[group] {
		if sameMember(m, member, strings.ToLower) {
			return nil
		}
	}
	s.groups[group] = append(s.groups[group], memberOf(member))
	return nil
}

func (s *MemoryStore) RemoveMember(group string, member network.User) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	members := s.groups[group]
	for i, m := range members {
		if sameMember(m, member, strings.ToLower) {
			s.groups[group] = append(members[:i:i], members[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) Members(group string) ([]network.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]network.User(nil), s.groups[group]...), nil
}

// memberOf strips presence data, keeping the fields used for matching
func memberOf(u network.User) network.User {
	return network.User{
		Name:     u.Name,
		LocalID:  u.Name,
		GlobalID: u.GlobalID,
		Host:     u.Host,
	}
}
