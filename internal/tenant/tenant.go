// Package tenant holds the tenant registry the scheduler fans out over.
package tenant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	id "dealguard/pkg/domain"
	"dealguard/pkg/platform/sentinel"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

type Tenant struct {
	ID        id.TenantID
	Name      string
	Status    Status
	CreatedAt time.Time
}

// Store persists tenants.
type Store interface {
	Create(ctx context.Context, tenant *Tenant) error
	Find(ctx context.Context, tenantID id.TenantID) (*Tenant, error)
	// ListActive returns tenants eligible for scheduled passes.
	ListActive(ctx context.Context) ([]*Tenant, error)
}

type InMemoryStore struct {
	mu      sync.Mutex
	tenants map[id.TenantID]*Tenant
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{tenants: make(map[id.TenantID]*Tenant)}
}

func (s *InMemoryStore) Create(_ context.Context, tenant *Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.tenants {
		if existing.Name == tenant.Name {
			return sentinel.ErrConflict
		}
	}
	copied := *tenant
	s.tenants[tenant.ID] = &copied
	return nil
}

func (s *InMemoryStore) Find(_ context.Context, tenantID id.TenantID) (*Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tenant, ok := s.tenants[tenantID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *tenant
	return &copied, nil
}

func (s *InMemoryStore) ListActive(_ context.Context) ([]*Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Tenant
	for _, tenant := range s.tenants {
		if tenant.Status == StatusActive {
			copied := *tenant
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, tenant *Tenant) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenants (id, name, status, created_at)
		VALUES ($1, $2, $3, $4)`,
		tenant.ID.String(), tenant.Name, string(tenant.Status), tenant.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert tenant: %w", err)
	}
	return nil
}

func (s *PostgresStore) Find(ctx context.Context, tenantID id.TenantID) (*Tenant, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, status, created_at FROM tenants WHERE id = $1`,
		tenantID.String(),
	)
	return scanTenant(row)
}

func (s *PostgresStore) ListActive(ctx context.Context) ([]*Tenant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, status, created_at FROM tenants
		WHERE status = 'active' ORDER BY created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var out []*Tenant
	for rows.Next() {
		tenant, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tenant)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTenant(row rowScanner) (*Tenant, error) {
	var (
		tenant    Tenant
		tenantRaw string
		status    string
	)
	err := row.Scan(&tenantRaw, &tenant.Name, &status, &tenant.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan tenant: %w", err)
	}
	if tenant.ID, err = id.ParseTenantID(tenantRaw); err != nil {
		return nil, fmt.Errorf("scan tenant id: %w", err)
	}
	tenant.Status = Status(status)
	return &tenant, nil
}
