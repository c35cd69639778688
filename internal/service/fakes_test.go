package service_test

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/domain"
	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/port"
)

// --- Mocks ---

// memStore is an in-memory port.Store keeping insertion order.
type memStore struct {
	mu      sync.Mutex
	boletos map[string]domain.Boleto
	order   []string
	runs    map[string]domain.BatchRun

	createErr error
	updateErr error
	latestErr error
	runErr    error
	updates   int
}

func newMemStore() *memStore {
	return &memStore{boletos: map[string]domain.Boleto{}, runs: map[string]domain.BatchRun{}}
}

func (m *memStore) Ping(context.Context) error { return nil }

func (m *memStore) CreateBoleto(_ context.Context, b *domain.Boleto) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	for _, existing := range m.boletos {
		if existing.ReferenceKey() == b.ReferenceKey() {
			return &domain.ErrDuplicate{Key: b.ReferenceKey()}
		}
	}
	m.boletos[b.ID] = *b
	m.order = append(m.order, b.ID)
	return nil
}

func (m *memStore) UpdateBoleto(_ context.Context, b *domain.Boleto) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	if _, ok := m.boletos[b.ID]; !ok {
		return &domain.ErrNotFound{Resource: "boleto", ID: b.ID}
	}
	m.boletos[b.ID] = *b
	m.updates++
	return nil
}

func (m *memStore) GetBoleto(_ context.Context, id string) (*domain.Boleto, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.boletos[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "boleto", ID: id}
	}
	return &b, nil
}

func (m *memStore) ListBoletos(_ context.Context, f port.BoletoFilter) ([]domain.Boleto, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Boleto
	for _, id := range m.order {
		b := m.boletos[id]
		if (f.ContractID == "" || b.ContractID == f.ContractID) && (f.Status == "" || b.Status == f.Status) {
			out = append(out, b)
		}
	}
	return out, len(out), nil
}

func (m *memStore) ListOpenBoletos(_ context.Context, limit int) ([]domain.Boleto, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Boleto
	for _, id := range m.order {
		if b := m.boletos[id]; b.Active && b.Status.IsOpen() {
			out = append(out, b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DueDate.Before(out[j].DueDate) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) LatestReference(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.latestErr != nil {
		return "", m.latestErr
	}
	if len(m.order) == 0 {
		return "", nil
	}
	return m.boletos[m.order[len(m.order)-1]].ExternalReference, nil
}

func (m *memStore) CountIssued(_ context.Context, contractID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.boletos {
		if b.ContractID == contractID && b.InstallmentNumber > 0 && b.Status != domain.StatusFailed {
			n++
		}
	}
	return n, nil
}

func (m *memStore) ListUnconfirmedBoletos(_ context.Context, before time.Time, limit int) ([]domain.Boleto, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Boleto
	for _, id := range m.order {
		b := m.boletos[id]
		if b.Active && b.Status == domain.StatusPending && b.UpdatedAt.Before(before) {
			out = append(out, b)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) StatusTotals(context.Context) ([]domain.StatusTotal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byStatus := map[domain.BoletoStatus]*domain.StatusTotal{}
	var out []domain.StatusTotal
	for _, id := range m.order {
		b := m.boletos[id]
		t, ok := byStatus[b.Status]
		if !ok {
			t = &domain.StatusTotal{Status: b.Status, Value: decimal.Zero}
			byStatus[b.Status] = t
		}
		t.Count++
		t.Value = t.Value.Add(b.NominalValue)
	}
	for _, t := range byStatus {
		out = append(out, *t)
	}
	return out, nil
}

func (m *memStore) CountCreatedSince(_ context.Context, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.boletos {
		if !b.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *memStore) ListSettledSince(_ context.Context, since time.Time) ([]domain.SettledBoleto, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.SettledBoleto
	for _, id := range m.order {
		b := m.boletos[id]
		if b.Status == domain.StatusSettled && !b.UpdatedAt.Before(since) {
			out = append(out, domain.SettledBoleto{BoletoID: b.ID, Value: b.NominalValue, SettledAt: b.UpdatedAt})
		}
	}
	return out, nil
}

// put overwrites a stored boleto, bypassing the service layer.
func (m *memStore) put(b domain.Boleto) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.boletos[b.ID] = b
}

func (m *memStore) CreateBatchRun(_ context.Context, run *domain.BatchRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runErr != nil {
		return m.runErr
	}
	m.runs[run.ID] = *run
	return nil
}

func (m *memStore) FinalizeBatchRun(_ context.Context, run *domain.BatchRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.runs[run.ID]
	if !ok {
		return &domain.ErrNotFound{Resource: "batch run", ID: run.ID}
	}
	if stored.Finalized() {
		return domain.ErrBatchFinalized
	}
	m.runs[run.ID] = *run
	return nil
}

func (m *memStore) GetBatchRun(_ context.Context, id string) (*domain.BatchRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "batch run", ID: id}
	}
	return &r, nil
}

func (m *memStore) ListBatchRuns(_ context.Context, _, _ int) ([]domain.BatchRun, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.BatchRun, 0, len(m.runs))
	for _, r := range m.runs {
		out = append(out, r)
	}
	return out, len(out), nil
}

func (m *memStore) all() []domain.Boleto {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Boleto, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.boletos[id])
	}
	return out
}

// memContracts is a fixed contract list.
type memContracts struct {
	contracts []domain.Contract
	listErr   error
}

func (m *memContracts) ListEligibleContracts(context.Context) ([]domain.Contract, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []domain.Contract
	for _, c := range m.contracts {
		if c.Active && c.InstallmentsIssued < c.InstallmentCount {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memContracts) GetContract(_ context.Context, id string) (*domain.Contract, error) {
	for _, c := range m.contracts {
		if c.ID == id {
			c := c
			return &c, nil
		}
	}
	return nil, &domain.ErrNotFound{Resource: "contract", ID: id}
}

// stubGateway wraps another gateway and lets a test override single calls.
type stubGateway struct {
	port.BankSlipGateway

	mu          sync.Mutex
	register    func(b *domain.Boleto) (*domain.BankResponse, error)
	query       func(call int) (*domain.BankResponse, error)
	queryCalls  int
	statusCalls int
	status      func(call int) (*domain.StatusDetail, error)
	cancelCalls int
}

func (s *stubGateway) Register(ctx context.Context, b *domain.Boleto) (*domain.BankResponse, error) {
	if s.register != nil {
		return s.register(b)
	}
	return s.BankSlipGateway.Register(ctx, b)
}

func (s *stubGateway) Query(ctx context.Context, covenantCode, bankNumber string, referenceDate time.Time) (*domain.BankResponse, error) {
	s.mu.Lock()
	s.queryCalls++
	call := s.queryCalls
	s.mu.Unlock()
	if s.query != nil {
		return s.query(call)
	}
	return s.BankSlipGateway.Query(ctx, covenantCode, bankNumber, referenceDate)
}

func (s *stubGateway) QueryStatusByInternalNumber(ctx context.Context, beneficiaryCode, bankNumber string) (*domain.StatusDetail, error) {
	s.mu.Lock()
	s.statusCalls++
	call := s.statusCalls
	s.mu.Unlock()
	if s.status != nil {
		return s.status(call)
	}
	return s.BankSlipGateway.QueryStatusByInternalNumber(ctx, beneficiaryCode, bankNumber)
}

func (s *stubGateway) Cancel(ctx context.Context, covenantCode, bankNumber string, referenceDate time.Time) (bool, error) {
	s.mu.Lock()
	s.cancelCalls++
	s.mu.Unlock()
	return s.BankSlipGateway.Cancel(ctx, covenantCode, bankNumber, referenceDate)
}

// tickingClock advances one second per reading so generated bank numbers
// never collide inside a test.
func tickingClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	cur := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		cur = cur.Add(time.Second)
		return cur
	}
}

var today = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

const covenant = "3567206"

func sampleContract(id string, issued, count int) domain.Contract {
	return domain.Contract{
		ID:           id,
		FolderNumber: "PAS-" + id,
		Payer: domain.ContractPayer{
			Name:           "Construtora Ação & Cia",
			DocumentType:   "CNPJ",
			DocumentNumber: "12.345.678/0001-90",
			Address:        "Av. Paulista, 1000",
			Neighborhood:   "Bela Vista",
			City:           "São Paulo",
			State:          "sp",
			ZipCode:        "1310100",
		},
		FirstDueDate:       time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC),
		InstallmentCount:   count,
		InstallmentValue:   decimal.RequireFromString("1250.00"),
		InstallmentsIssued: issued,
		Branch:             "SP",
		Active:             true,
	}
}
