// Package directory provides an in-memory session and user directory loaded
// from a YAML fixture, for development and tests.
package directory

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/cory-johannsen/gamestation/internal/station"
)

// Fixture is the YAML shape of a directory seed file.
type Fixture struct {
	Users    []UserRecord    `yaml:"users"`
	Sessions []SessionRecord `yaml:"sessions"`
}

// UserRecord is a user entry in a fixture.
type UserRecord struct {
	ID          int64  `yaml:"id"`
	DisplayName string `yaml:"display_name"`
}

// SessionRecord is a session entry in a fixture.
type SessionRecord struct {
	ID           int64   `yaml:"id"`
	GameType     string  `yaml:"game_type"`
	CreatorID    int64   `yaml:"creator_id"`
	Participants []int64 `yaml:"participants"`
}

// Memory implements station.SessionDirectory and station.UserDirectory.
// All methods are safe for concurrent use.
type Memory struct {
	mu       sync.RWMutex
	users    map[station.UserID]station.User
	sessions map[station.SessionID]station.SessionInfo
}

// NewMemory returns an empty directory.
func NewMemory() *Memory {
	return &Memory{
		users:    make(map[station.UserID]station.User),
		sessions: make(map[station.SessionID]station.SessionInfo),
	}
}

// LoadFile reads a YAML fixture from path.
//
// Precondition: path must name a readable YAML file.
// Postcondition: Returns a populated Memory or an error.
func LoadFile(path string) (*Memory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading directory fixture: %w", err)
	}
	return Parse(data)
}

// Parse builds a Memory from YAML fixture bytes.
//
// Postcondition: Returns an error if a session references an unknown user,
// its creator is not a participant, or an id is duplicated.
func Parse(data []byte) (*Memory, error) {
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing directory fixture: %w", err)
	}
	m := NewMemory()
	for _, u := range f.Users {
		if _, dup := m.users[station.UserID(u.ID)]; dup {
			return nil, fmt.Errorf("duplicate user id %d", u.ID)
		}
		m.PutUser(station.User{ID: station.UserID(u.ID), DisplayName: u.DisplayName})
	}
	for _, s := range f.Sessions {
		if _, dup := m.sessions[station.SessionID(s.ID)]; dup {
			return nil, fmt.Errorf("duplicate session id %d", s.ID)
		}
		info := station.SessionInfo{
			ID:        station.SessionID(s.ID),
			GameType:  station.GameType(s.GameType),
			CreatorID: station.UserID(s.CreatorID),
		}
		creatorListed := false
		for _, p := range s.Participants {
			if _, ok := m.users[station.UserID(p)]; !ok {
				return nil, fmt.Errorf("session %d: participant %d: %w", s.ID, p, station.ErrUserNotFound)
			}
			if p == s.CreatorID {
				creatorListed = true
			}
			info.Participants = append(info.Participants, station.UserID(p))
		}
		if !creatorListed {
			return nil, fmt.Errorf("session %d: creator %d: %w", s.ID, s.CreatorID, station.ErrNotParticipant)
		}
		m.PutSession(info)
	}
	return m, nil
}

// PutUser inserts or replaces a user.
func (m *Memory) PutUser(u station.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

// PutSession inserts or replaces a session.
func (m *Memory) PutSession(info station.SessionInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info.Participants = append([]station.UserID(nil), info.Participants...)
	m.sessions[info.ID] = info
}

// DeleteSession removes a session. It reports whether the session existed.
func (m *Memory) DeleteSession(id station.SessionID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	return ok
}

// GetSession implements station.SessionDirectory.
func (m *Memory) GetSession(_ context.Context, id station.SessionID) (*station.SessionInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %d: %w", id, station.ErrSessionNotFound)
	}
	info.Participants = append([]station.UserID(nil), info.Participants...)
	return &info, nil
}

// GetActiveSessions implements station.SessionDirectory. Sessions are returned
// in ascending id order.
func (m *Memory) GetActiveSessions(_ context.Context, userID station.UserID) ([]station.SessionInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []station.SessionInfo
	for _, info := range m.sessions {
		for _, p := range info.Participants {
			if p == userID {
				info.Participants = append([]station.UserID(nil), info.Participants...)
				out = append(out, info)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetUser implements station.UserDirectory.
func (m *Memory) GetUser(_ context.Context, id station.UserID) (*station.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, station.ErrUserNotFound)
	}
	return &u, nil
}
