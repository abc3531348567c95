package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rootedhq/rooted/backend/internal/db"
	"github.com/rootedhq/rooted/backend/internal/timeutil"
)

// memStore is an in-memory Store with the same increment/recompute semantics
// as the SQL layer, so the write path can be exercised concurrently without
// a database. Failure flags let tests force partial writes.
type memStore struct {
	mu         sync.Mutex
	users      map[uuid.UUID]*db.User
	sessions   map[uuid.UUID]*db.Session
	events     []db.UsageEvent
	global     db.GlobalStats
	milestones map[string]db.Milestone

	failSessionDelta bool
	failUserDelta    bool
	failGlobalDelta  bool
}

func newMemStore() *memStore {
	return &memStore{
		users:      make(map[uuid.UUID]*db.User),
		sessions:   make(map[uuid.UUID]*db.Session),
		milestones: make(map[string]db.Milestone),
		global:     db.GlobalStats{WeekStart: timeutil.WeekStart(time.Now()), UpdatedAt: time.Now()},
	}
}

func milestoneKey(userID uuid.UUID, threshold int32) string {
	return fmt.Sprintf("%s|%d", userID, threshold)
}

func (m *memStore) InsertUser(_ context.Context, arg db.InsertUserParams) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[arg.ID]; ok {
		return false, nil
	}
	m.users[arg.ID] = &db.User{
		ID:          arg.ID,
		Email:       arg.Email,
		DisplayName: arg.DisplayName,
		CreatedAt:   time.Now(),
	}
	return true, nil
}

func (m *memStore) GetUserByID(_ context.Context, id uuid.UUID) (db.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return db.User{}, pgx.ErrNoRows
	}
	return *u, nil
}

func (m *memStore) ApplyUserUsageDelta(_ context.Context, arg db.ApplyUserUsageDeltaParams) (db.UserCounters, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUserDelta {
		return db.UserCounters{}, errors.New("forced user delta failure")
	}
	u, ok := m.users[arg.ID]
	if !ok {
		return db.UserCounters{}, pgx.ErrNoRows
	}
	u.TotalQueries++
	u.InputTokens += arg.InputTokens
	u.OutputTokens += arg.OutputTokens
	u.CostUSDMicros += arg.CostUSDMicros
	u.DonatedUSDMicros += arg.DonationUSDMicros
	u.TreesMicros += arg.TreesMicros
	if u.LastEventAt == nil || arg.EventAt.After(*u.LastEventAt) {
		at := arg.EventAt
		u.LastEventAt = &at
	}
	return db.UserCounters{
		TotalQueries:     u.TotalQueries,
		CostUSDMicros:    u.CostUSDMicros,
		DonatedUSDMicros: u.DonatedUSDMicros,
		TreesMicros:      u.TreesMicros,
	}, nil
}

func (m *memStore) RecomputeUserAggregate(_ context.Context, id uuid.UUID) (db.UserCounters, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return db.UserCounters{}, pgx.ErrNoRows
	}
	u.TotalQueries, u.InputTokens, u.OutputTokens = 0, 0, 0
	u.CostUSDMicros, u.DonatedUSDMicros, u.TreesMicros = 0, 0, 0
	u.LastEventAt = nil
	for _, e := range m.events {
		if e.UserID != id {
			continue
		}
		u.TotalQueries++
		u.InputTokens += e.InputTokens
		u.OutputTokens += e.OutputTokens
		u.CostUSDMicros += e.TotalUSDMicros
		u.DonatedUSDMicros += e.DonationUSDMicros
		u.TreesMicros += e.TreesMicros
		if u.LastEventAt == nil || e.CreatedAt.After(*u.LastEventAt) {
			at := e.CreatedAt
			u.LastEventAt = &at
		}
	}
	return db.UserCounters{
		TotalQueries:     u.TotalQueries,
		CostUSDMicros:    u.CostUSDMicros,
		DonatedUSDMicros: u.DonatedUSDMicros,
		TreesMicros:      u.TreesMicros,
	}, nil
}

func (m *memStore) ListUsersBehindEvents(_ context.Context, limit int32) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []uuid.UUID
	for id, u := range m.users {
		for _, e := range m.events {
			if e.UserID != id {
				continue
			}
			if u.LastEventAt == nil || e.CreatedAt.After(*u.LastEventAt) {
				ids = append(ids, id)
				break
			}
		}
		if int32(len(ids)) >= limit {
			break
		}
	}
	return ids, nil
}

func (m *memStore) DeleteUser(_ context.Context, id uuid.UUID) (db.UserCounters, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return db.UserCounters{}, pgx.ErrNoRows
	}
	counters := db.UserCounters{
		TotalQueries:     u.TotalQueries,
		CostUSDMicros:    u.CostUSDMicros,
		DonatedUSDMicros: u.DonatedUSDMicros,
		TreesMicros:      u.TreesMicros,
	}
	delete(m.users, id)
	for sid, s := range m.sessions {
		if s.UserID == id {
			delete(m.sessions, sid)
		}
	}
	kept := m.events[:0]
	for _, e := range m.events {
		if e.UserID != id {
			kept = append(kept, e)
		}
	}
	m.events = kept
	for key, ms := range m.milestones {
		if ms.UserID == id {
			delete(m.milestones, key)
		}
	}
	return counters, nil
}

func (m *memStore) InsertSession(_ context.Context, arg db.InsertSessionParams) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[arg.ID]; ok {
		return false, nil
	}
	m.sessions[arg.ID] = &db.Session{
		ID:        arg.ID,
		UserID:    arg.UserID,
		Title:     arg.Title,
		CreatedAt: time.Now(),
	}
	return true, nil
}

func (m *memStore) GetSessionByID(_ context.Context, id uuid.UUID) (db.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return db.Session{}, pgx.ErrNoRows
	}
	return *s, nil
}

func (m *memStore) ApplySessionUsageDelta(_ context.Context, arg db.ApplySessionUsageDeltaParams) (db.SessionCounters, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSessionDelta {
		return db.SessionCounters{}, errors.New("forced session delta failure")
	}
	s, ok := m.sessions[arg.ID]
	if !ok {
		return db.SessionCounters{}, pgx.ErrNoRows
	}
	s.MessageCount++
	s.TotalTokens += arg.TotalTokens
	s.CostUSDMicros += arg.CostUSDMicros
	s.TreesMicros += arg.TreesMicros
	if s.LastEventAt == nil || arg.EventAt.After(*s.LastEventAt) {
		at := arg.EventAt
		s.LastEventAt = &at
	}
	return db.SessionCounters{
		MessageCount:  s.MessageCount,
		TotalTokens:   s.TotalTokens,
		CostUSDMicros: s.CostUSDMicros,
		TreesMicros:   s.TreesMicros,
	}, nil
}

func (m *memStore) RecomputeSessionAggregate(_ context.Context, id uuid.UUID) (db.SessionCounters, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return db.SessionCounters{}, pgx.ErrNoRows
	}
	s.MessageCount, s.TotalTokens, s.CostUSDMicros, s.TreesMicros = 0, 0, 0, 0
	s.LastEventAt = nil
	for _, e := range m.events {
		if e.SessionID != id {
			continue
		}
		s.MessageCount++
		s.TotalTokens += e.InputTokens + e.OutputTokens
		s.CostUSDMicros += e.TotalUSDMicros
		s.TreesMicros += e.TreesMicros
		if s.LastEventAt == nil || e.CreatedAt.After(*s.LastEventAt) {
			at := e.CreatedAt
			s.LastEventAt = &at
		}
	}
	return db.SessionCounters{
		MessageCount:  s.MessageCount,
		TotalTokens:   s.TotalTokens,
		CostUSDMicros: s.CostUSDMicros,
		TreesMicros:   s.TreesMicros,
	}, nil
}

func (m *memStore) ListSessionsBehindEvents(_ context.Context, limit int32) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []uuid.UUID
	for id, s := range m.sessions {
		for _, e := range m.events {
			if e.SessionID != id {
				continue
			}
			if s.LastEventAt == nil || e.CreatedAt.After(*s.LastEventAt) {
				ids = append(ids, id)
				break
			}
		}
		if int32(len(ids)) >= limit {
			break
		}
	}
	return ids, nil
}

func (m *memStore) InsertUsageEvent(_ context.Context, arg db.InsertUsageEventParams) (db.UsageEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := db.UsageEvent{
		ID:                arg.ID,
		UserID:            arg.UserID,
		SessionID:         arg.SessionID,
		ModelAlias:        arg.ModelAlias,
		InputTokens:       arg.InputTokens,
		OutputTokens:      arg.OutputTokens,
		InputUSDMicros:    arg.InputUSDMicros,
		OutputUSDMicros:   arg.OutputUSDMicros,
		TotalUSDMicros:    arg.TotalUSDMicros,
		DonationUSDMicros: arg.DonationUSDMicros,
		TreesMicros:       arg.TreesMicros,
		CreatedAt:         arg.CreatedAt,
	}
	m.events = append(m.events, e)
	return e, nil
}

func (m *memStore) GetGlobalStats(_ context.Context) (db.GlobalStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.global, nil
}

func (m *memStore) ApplyGlobalUsageDelta(_ context.Context, arg db.ApplyGlobalUsageDeltaParams) (db.GlobalStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGlobalDelta {
		return db.GlobalStats{}, errors.New("forced global delta failure")
	}
	m.global.TotalQueries++
	m.global.TreesMicros += arg.TreesMicros
	m.global.DonatedUSDMicros += arg.DonationUSDMicros
	if m.global.WeekStart.Equal(arg.WeekStart) {
		m.global.WeekTreesMicros += arg.TreesMicros
	} else {
		m.global.WeekTreesMicros = arg.TreesMicros
		m.global.WeekStart = arg.WeekStart
	}
	m.global.UpdatedAt = time.Now()
	return m.global, nil
}

func (m *memStore) AdjustGlobalUsers(_ context.Context, delta int64) (db.GlobalStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.global.TotalUsers += delta
	if m.global.TotalUsers < 0 {
		m.global.TotalUsers = 0
	}
	m.global.UpdatedAt = time.Now()
	return m.global, nil
}

func (m *memStore) RetireGlobalUsage(_ context.Context, arg db.RetireGlobalUsageParams) (db.GlobalStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.global.TotalUsers = max(m.global.TotalUsers-1, 0)
	m.global.TotalQueries = max(m.global.TotalQueries-arg.Queries, 0)
	m.global.DonatedUSDMicros = max(m.global.DonatedUSDMicros-arg.DonationUSDMicros, 0)
	m.global.TreesMicros = max(m.global.TreesMicros-arg.TreesMicros, 0)
	m.global.UpdatedAt = time.Now()
	return m.global, nil
}

func (m *memStore) RecomputeGlobalAggregate(_ context.Context, weekStart time.Time) (db.GlobalStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.global.TotalUsers = int64(len(m.users))
	m.global.TotalQueries, m.global.TreesMicros, m.global.DonatedUSDMicros = 0, 0, 0
	for _, u := range m.users {
		m.global.TotalQueries += u.TotalQueries
		m.global.TreesMicros += u.TreesMicros
		m.global.DonatedUSDMicros += u.DonatedUSDMicros
	}
	m.global.WeekTreesMicros = 0
	for _, e := range m.events {
		if !e.CreatedAt.Before(weekStart) {
			m.global.WeekTreesMicros += e.TreesMicros
		}
	}
	m.global.WeekStart = weekStart
	m.global.UpdatedAt = time.Now()
	return m.global, nil
}

func (m *memStore) InsertMilestone(_ context.Context, arg db.InsertMilestoneParams) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := milestoneKey(arg.UserID, arg.Threshold)
	if _, ok := m.milestones[key]; ok {
		return false, nil
	}
	m.milestones[key] = db.Milestone{
		ID:        arg.ID,
		UserID:    arg.UserID,
		Threshold: arg.Threshold,
		ReachedAt: arg.ReachedAt,
	}
	return true, nil
}

func (m *memStore) ListMilestonesForUser(_ context.Context, userID uuid.UUID) ([]db.Milestone, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []db.Milestone
	for _, ms := range m.milestones {
		if ms.UserID == userID {
			out = append(out, ms)
		}
	}
	return out, nil
}

var _ Store = (*memStore)(nil)
