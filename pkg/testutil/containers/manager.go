//go:build integration

package containers

import (
	"sync"
	"testing"
)

// Manager shares one container of each kind across all integration suites in
// a test binary. Ryuk reaps the containers when the binary exits.
type Manager struct {
	pgOnce    sync.Once
	redisOnce sync.Once
	pg        *PostgresContainer
	redis     *RedisContainer
}

var manager = &Manager{}

// GetManager returns the process-wide container manager.
func GetManager() *Manager {
	return manager
}

// GetPostgres returns the shared Postgres container, starting it on first use.
func (m *Manager) GetPostgres(t *testing.T) *PostgresContainer {
	t.Helper()
	m.pgOnce.Do(func() {
		m.pg = NewPostgresContainer(t)
	})
	if m.pg == nil {
		t.Fatal("postgres container failed to start")
	}
	return m.pg
}

// GetRedis returns the shared Redis container, starting it on first use.
func (m *Manager) GetRedis(t *testing.T) *RedisContainer {
	t.Helper()
	m.redisOnce.Do(func() {
		m.redis = NewRedisContainer(t)
	})
	if m.redis == nil {
		t.Fatal("redis container failed to start")
	}
	return m.redis
}
