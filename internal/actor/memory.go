package actor

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process Backend. State does not survive a restart.
type Memory struct {
	mu     sync.Mutex
	kv     map[string]map[string][]byte
	alarms map[string]time.Time
}

func NewMemory() *Memory {
	return &Memory{kv: map[string]map[string][]byte{}, alarms: map[string]time.Time{}}
}

func (m *Memory) Storage(id string) Storage { return &memStorage{m: m, id: id} }

func (m *Memory) DueAlarms(_ context.Context, now time.Time, limit int) ([]Alarm, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Alarm
	for id, at := range m.alarms {
		if !at.After(now) {
			out = append(out, Alarm{ID: id, At: at})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ClaimAlarm(_ context.Context, a Alarm, until time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.alarms[a.ID]
	if !ok || !at.Equal(Millis(a.At)) {
		return false, nil
	}
	m.alarms[a.ID] = Millis(until)
	return true, nil
}

func (m *Memory) Ping(context.Context) error { return nil }
func (m *Memory) Close() error               { return nil }

type memStorage struct {
	m  *Memory
	id string
}

func (s *memStorage) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	v, ok := s.m.kv[s.id][key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *memStorage) Put(_ context.Context, key string, value []byte) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	kv, ok := s.m.kv[s.id]
	if !ok {
		kv = map[string][]byte{}
		s.m.kv[s.id] = kv
	}
	kv[key] = append([]byte(nil), value...)
	return nil
}

func (s *memStorage) Delete(_ context.Context, key string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	delete(s.m.kv[s.id], key)
	return nil
}

func (s *memStorage) DeleteAll(context.Context) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	delete(s.m.kv, s.id)
	return nil
}

func (s *memStorage) GetAlarm(context.Context) (time.Time, bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	at, ok := s.m.alarms[s.id]
	return at, ok, nil
}

func (s *memStorage) SetAlarm(_ context.Context, at time.Time) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.alarms[s.id] = Millis(at)
	return nil
}

func (s *memStorage) DeleteAlarm(context.Context) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	delete(s.m.alarms, s.id)
	return nil
}
