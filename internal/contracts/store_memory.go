package contracts

import (
	"context"
	"sort"
	"sync"
	"time"

	id "dealguard/pkg/domain"
	"dealguard/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu       sync.Mutex
	byID     map[id.ContractID]*Contract
	analyses map[id.ContractID][]*Analysis
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:     make(map[id.ContractID]*Contract),
		analyses: make(map[id.ContractID][]*Analysis),
	}
}

func (s *InMemoryStore) CreateContract(_ context.Context, contract *Contract) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.byID {
		if existing.TenantID == contract.TenantID && existing.FileHash == contract.FileHash {
			return sentinel.ErrConflict
		}
	}
	copied := *contract
	s.byID[contract.ID] = &copied
	return nil
}

func (s *InMemoryStore) FindContract(_ context.Context, tenantID id.TenantID, contractID id.ContractID) (*Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	contract, ok := s.byID[contractID]
	if !ok || contract.TenantID != tenantID {
		return nil, sentinel.ErrNotFound
	}
	copied := *contract
	return &copied, nil
}

func (s *InMemoryStore) FindByHash(_ context.Context, tenantID id.TenantID, fileHash string) (*Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, contract := range s.byID {
		if contract.TenantID == tenantID && contract.FileHash == fileHash {
			copied := *contract
			return &copied, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryStore) ListContracts(_ context.Context, tenantID id.TenantID, limit, offset int) ([]*Contract, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []*Contract
	for _, contract := range s.byID {
		if contract.TenantID == tenantID {
			copied := *contract
			all = append(all, &copied)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (s *InMemoryStore) UpdateStatus(_ context.Context, tenantID id.TenantID, contractID id.ContractID, status ContractStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	contract, ok := s.byID[contractID]
	if !ok || contract.TenantID != tenantID {
		return sentinel.ErrNotFound
	}
	contract.Status = status
	contract.UpdatedAt = time.Now()
	return nil
}

func (s *InMemoryStore) SetContractType(_ context.Context, tenantID id.TenantID, contractID id.ContractID, contractType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	contract, ok := s.byID[contractID]
	if !ok || contract.TenantID != tenantID {
		return sentinel.ErrNotFound
	}
	if contract.ContractType == "" {
		contract.ContractType = contractType
		contract.UpdatedAt = time.Now()
	}
	return nil
}

func (s *InMemoryStore) SaveAnalysis(_ context.Context, analysis *Analysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	contract, ok := s.byID[analysis.ContractID]
	if !ok || contract.TenantID != analysis.TenantID {
		return sentinel.ErrNotFound
	}
	copied := *analysis
	s.analyses[analysis.ContractID] = append(s.analyses[analysis.ContractID], &copied)
	contract.Status = StatusCompleted
	contract.UpdatedAt = time.Now()
	return nil
}

func (s *InMemoryStore) LatestAnalysis(_ context.Context, tenantID id.TenantID, contractID id.ContractID) (*Analysis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.analyses[contractID]
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].TenantID == tenantID {
			copied := *list[i]
			return &copied, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryStore) RiskStats(_ context.Context, tenantID id.TenantID) (RiskStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats RiskStats
	for contractID, contract := range s.byID {
		if contract.TenantID != tenantID {
			continue
		}
		list := s.analyses[contractID]
		if len(list) == 0 {
			continue
		}
		latest := list[len(list)-1]
		stats.TotalAnalyzed++
		if latest.RiskLevel == RiskHigh || latest.RiskLevel == RiskCritical {
			stats.HighRisk++
		}
	}
	return stats, nil
}
