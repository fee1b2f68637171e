package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/atmx/ledger-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	platforms map[int64]*model.Platform
	trades    []model.Trade
	flows     []model.CashFlow
	options   map[int64]*model.OptionTrade
	positions []model.Position
	meta      map[string]string

	nextPlatform, nextTrade, nextFlow, nextOption, nextPosition int64
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		platforms: make(map[int64]*model.Platform),
		options:   make(map[int64]*model.OptionTrade),
		meta:      make(map[string]string),
	}
}

func (s *MemoryStore) CreatePlatform(_ context.Context, p *model.Platform) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.platforms {
		if existing.Name == p.Name {
			return fmt.Errorf("platform %q already exists: %w", p.Name, model.ErrConflict)
		}
	}
	s.nextPlatform++
	p.ID = s.nextPlatform

	// Store a copy to avoid external mutation.
	copy := *p
	s.platforms[p.ID] = &copy
	return nil
}

func (s *MemoryStore) GetPlatform(_ context.Context, id int64) (*model.Platform, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.platforms[id]
	if !ok {
		return nil, fmt.Errorf("platform %d: %w", id, model.ErrNotFound)
	}
	copy := *p
	return &copy, nil
}

func (s *MemoryStore) GetPlatformByName(_ context.Context, name string) (*model.Platform, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.platforms {
		if p.Name == name {
			copy := *p
			return &copy, nil
		}
	}
	return nil, fmt.Errorf("platform %q: %w", name, model.ErrNotFound)
}

func (s *MemoryStore) ListPlatforms(_ context.Context) ([]model.Platform, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	platforms := make([]model.Platform, 0, len(s.platforms))
	for _, p := range s.platforms {
		platforms = append(platforms, *p)
	}
	sort.Slice(platforms, func(i, j int) bool { return platforms[i].ID < platforms[j].ID })
	return platforms, nil
}

func (s *MemoryStore) AppendTrades(_ context.Context, trades []model.Trade, deltas map[int64]decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range trades {
		if _, ok := s.platforms[t.PlatformID]; !ok {
			return fmt.Errorf("platform %d: %w", t.PlatformID, model.ErrNotFound)
		}
	}
	if err := s.checkPlatforms(deltas); err != nil {
		return err
	}
	for i := range trades {
		s.nextTrade++
		trades[i].ID = s.nextTrade
		s.trades = append(s.trades, trades[i])
	}
	s.applyDeltas(deltas)
	return nil
}

func (s *MemoryStore) ListTrades(_ context.Context, f TradeFilter) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Trade
	for _, t := range s.trades {
		if f.PlatformID != nil && t.PlatformID != *f.PlatformID {
			continue
		}
		if f.Ticker != "" && t.Ticker != f.Ticker {
			continue
		}
		result = append(result, t)
	}
	sort.SliceStable(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if a.Ticker != b.Ticker {
			return a.Ticker < b.Ticker
		}
		if a.PlatformID != b.PlatformID {
			return a.PlatformID < b.PlatformID
		}
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		return a.ID < b.ID
	})
	return result, nil
}

func (s *MemoryStore) InsertCashFlow(_ context.Context, flow *model.CashFlow, delta decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.platforms[flow.PlatformID]; !ok {
		return fmt.Errorf("platform %d: %w", flow.PlatformID, model.ErrNotFound)
	}
	s.nextFlow++
	flow.ID = s.nextFlow
	s.flows = append(s.flows, *flow)
	s.applyDeltas(map[int64]decimal.Decimal{flow.PlatformID: delta})
	return nil
}

func (s *MemoryStore) ListCashFlows(_ context.Context, f CashFlowFilter) ([]model.CashFlow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.CashFlow
	for _, cf := range s.flows {
		if f.PlatformID != nil && cf.PlatformID != *f.PlatformID {
			continue
		}
		if f.Window != nil && !f.Window.Contains(cf.FlowDate) {
			continue
		}
		result = append(result, cf)
	}
	sort.SliceStable(result, func(i, j int) bool {
		if !result[i].FlowDate.Equal(result[j].FlowDate) {
			return result[i].FlowDate.Before(result[j].FlowDate)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (s *MemoryStore) InsertOptionTrade(_ context.Context, opt *model.OptionTrade, delta decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.platforms[opt.PlatformID]; !ok {
		return fmt.Errorf("platform %d: %w", opt.PlatformID, model.ErrNotFound)
	}
	s.nextOption++
	opt.ID = s.nextOption
	copy := *opt
	s.options[opt.ID] = &copy
	s.applyDeltas(map[int64]decimal.Decimal{opt.PlatformID: delta})
	return nil
}

func (s *MemoryStore) GetOptionTrade(_ context.Context, id int64) (*model.OptionTrade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.options[id]
	if !ok {
		return nil, fmt.Errorf("option trade %d: %w", id, model.ErrNotFound)
	}
	copy := *o
	return &copy, nil
}

func (s *MemoryStore) TransitionOptionTrade(_ context.Context, opt *model.OptionTrade, from model.OptionStatus, delta decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.options[opt.ID]
	if !ok {
		return fmt.Errorf("option trade %d: %w", opt.ID, model.ErrNotFound)
	}
	if existing.Status != from {
		return fmt.Errorf("option trade %d is %s: %w", opt.ID, existing.Status, model.ErrInvalidTransition)
	}
	copy := *opt
	s.options[opt.ID] = &copy
	s.applyDeltas(map[int64]decimal.Decimal{opt.PlatformID: delta})
	return nil
}

func (s *MemoryStore) ListOptionTrades(_ context.Context, f OptionFilter) ([]model.OptionTrade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.OptionTrade
	for _, o := range s.options {
		if f.PlatformID != nil && o.PlatformID != *f.PlatformID {
			continue
		}
		if f.Ticker != "" && o.Ticker != f.Ticker {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		result = append(result, *o)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].TradeDate.Equal(result[j].TradeDate) {
			return result[i].TradeDate.Before(result[j].TradeDate)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (s *MemoryStore) ListPositions(_ context.Context, f PositionFilter) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Position
	for _, p := range s.positions {
		if f.PlatformID != nil && p.PlatformID != *f.PlatformID {
			continue
		}
		if f.Ticker != "" && p.Ticker != f.Ticker {
			continue
		}
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		if f.Window != nil && (p.ExitDate == nil || !f.Window.Contains(*p.ExitDate)) {
			continue
		}
		result = append(result, p)
	}
	sort.SliceStable(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if a.Ticker != b.Ticker {
			return a.Ticker < b.Ticker
		}
		if a.PlatformID != b.PlatformID {
			return a.PlatformID < b.PlatformID
		}
		return a.ID < b.ID
	})
	return result, nil
}

// ReplaceDerived builds the new position set aside and swaps it in under
// the write lock, so readers never observe a partial write.
func (s *MemoryStore) ReplaceDerived(_ context.Context, d Derived) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkPlatforms(d.Balances); err != nil {
		return err
	}
	replaced := make(map[model.Key]bool, len(d.Keys))
	for _, k := range d.Keys {
		replaced[k] = true
	}

	next := make([]model.Position, 0, len(s.positions)+len(d.Positions))
	for _, p := range s.positions {
		if !replaced[model.Key{Ticker: p.Ticker, PlatformID: p.PlatformID}] {
			next = append(next, p)
		}
	}
	id := s.nextPosition
	for _, p := range d.Positions {
		if !replaced[model.Key{Ticker: p.Ticker, PlatformID: p.PlatformID}] {
			return fmt.Errorf("position %s/%d outside the replaced keys", p.Ticker, p.PlatformID)
		}
		id++
		p.ID = id
		next = append(next, p)
	}

	s.positions = next
	s.nextPosition = id
	for pid, bal := range d.Balances {
		s.platforms[pid].CashAvailable = bal
	}
	return nil
}

func (s *MemoryStore) GetMeta(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.meta[key]
	if !ok {
		return "", fmt.Errorf("metadata %q: %w", key, model.ErrNotFound)
	}
	return v, nil
}

func (s *MemoryStore) SetMeta(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.meta[key] = value
	return nil
}

// checkPlatforms must be called with the write lock held.
func (s *MemoryStore) checkPlatforms(deltas map[int64]decimal.Decimal) error {
	for pid := range deltas {
		if _, ok := s.platforms[pid]; !ok {
			return fmt.Errorf("platform %d: %w", pid, model.ErrNotFound)
		}
	}
	return nil
}

// applyDeltas must be called with the write lock held after checkPlatforms.
func (s *MemoryStore) applyDeltas(deltas map[int64]decimal.Decimal) {
	for pid, delta := range deltas {
		if p, ok := s.platforms[pid]; ok {
			p.CashAvailable = p.CashAvailable.Add(delta)
		}
	}
}
