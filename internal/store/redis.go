package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/atmx/ledger-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for platforms (cash balances) and unwindowed position listings.
// Writes go to the primary store and invalidate the affected keys.
//
// Every invalidation also bumps a generation counter. A reader only stores
// what it loaded if the generation it saw before the load is still current,
// so a write landing mid-read cannot be overwritten by the stale result.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreatePlatform(ctx context.Context, p *model.Platform) error {
	if err := s.primary.CreatePlatform(ctx, p); err != nil {
		return err
	}
	s.invalidate(ctx, platformListKey)
	return nil
}

func (s *CachedStore) AppendTrades(ctx context.Context, trades []model.Trade, deltas map[int64]decimal.Decimal) error {
	if err := s.primary.AppendTrades(ctx, trades, deltas); err != nil {
		return err
	}
	s.invalidatePlatforms(ctx, deltas)
	return nil
}

func (s *CachedStore) InsertCashFlow(ctx context.Context, flow *model.CashFlow, delta decimal.Decimal) error {
	if err := s.primary.InsertCashFlow(ctx, flow, delta); err != nil {
		return err
	}
	s.invalidatePlatforms(ctx, map[int64]decimal.Decimal{flow.PlatformID: delta})
	return nil
}

func (s *CachedStore) InsertOptionTrade(ctx context.Context, opt *model.OptionTrade, delta decimal.Decimal) error {
	if err := s.primary.InsertOptionTrade(ctx, opt, delta); err != nil {
		return err
	}
	s.invalidatePlatforms(ctx, map[int64]decimal.Decimal{opt.PlatformID: delta})
	return nil
}

func (s *CachedStore) TransitionOptionTrade(ctx context.Context, opt *model.OptionTrade, from model.OptionStatus, delta decimal.Decimal) error {
	if err := s.primary.TransitionOptionTrade(ctx, opt, from, delta); err != nil {
		return err
	}
	s.invalidatePlatforms(ctx, map[int64]decimal.Decimal{opt.PlatformID: delta})
	return nil
}

func (s *CachedStore) ReplaceDerived(ctx context.Context, d Derived) error {
	if err := s.primary.ReplaceDerived(ctx, d); err != nil {
		return err
	}
	s.invalidatePlatforms(ctx, d.Balances)

	keys := []string{positionsKey(nil, model.PositionOpen), positionsKey(nil, model.PositionClosed), positionsKey(nil, "")}
	seen := make(map[int64]bool)
	for _, k := range d.Keys {
		if seen[k.PlatformID] {
			continue
		}
		seen[k.PlatformID] = true
		pid := k.PlatformID
		keys = append(keys,
			positionsKey(&pid, model.PositionOpen),
			positionsKey(&pid, model.PositionClosed),
			positionsKey(&pid, ""))
	}
	s.invalidate(ctx, keys...)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetPlatform(ctx context.Context, id int64) (*model.Platform, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, platformKey(id)).Bytes()
	if err == nil {
		var p model.Platform
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	// Cache miss: read from primary.
	gen := s.generation(ctx)
	p, err := s.primary.GetPlatform(ctx, id)
	if err != nil {
		return nil, err
	}
	s.populate(ctx, gen, platformKey(id), p)
	return p, nil
}

func (s *CachedStore) ListPlatforms(ctx context.Context) ([]model.Platform, error) {
	data, err := s.rdb.Get(ctx, platformListKey).Bytes()
	if err == nil {
		var platforms []model.Platform
		if json.Unmarshal(data, &platforms) == nil {
			return platforms, nil
		}
	}

	gen := s.generation(ctx)
	platforms, err := s.primary.ListPlatforms(ctx)
	if err != nil {
		return nil, err
	}
	s.populate(ctx, gen, platformListKey, platforms)
	return platforms, nil
}

// ListPositions caches only listings without a ticker or window filter.
func (s *CachedStore) ListPositions(ctx context.Context, f PositionFilter) ([]model.Position, error) {
	if f.Ticker != "" || f.Window != nil {
		return s.primary.ListPositions(ctx, f)
	}

	key := positionsKey(f.PlatformID, f.Status)
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var positions []model.Position
		if json.Unmarshal(data, &positions) == nil {
			return positions, nil
		}
	}

	gen := s.generation(ctx)
	positions, err := s.primary.ListPositions(ctx, f)
	if err != nil {
		return nil, err
	}
	s.populate(ctx, gen, key, positions)
	return positions, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) GetPlatformByName(ctx context.Context, name string) (*model.Platform, error) {
	return s.primary.GetPlatformByName(ctx, name)
}

func (s *CachedStore) ListTrades(ctx context.Context, f TradeFilter) ([]model.Trade, error) {
	return s.primary.ListTrades(ctx, f)
}

func (s *CachedStore) ListCashFlows(ctx context.Context, f CashFlowFilter) ([]model.CashFlow, error) {
	return s.primary.ListCashFlows(ctx, f)
}

func (s *CachedStore) GetOptionTrade(ctx context.Context, id int64) (*model.OptionTrade, error) {
	return s.primary.GetOptionTrade(ctx, id)
}

func (s *CachedStore) ListOptionTrades(ctx context.Context, f OptionFilter) ([]model.OptionTrade, error) {
	return s.primary.ListOptionTrades(ctx, f)
}

func (s *CachedStore) GetMeta(ctx context.Context, key string) (string, error) {
	return s.primary.GetMeta(ctx, key)
}

func (s *CachedStore) SetMeta(ctx context.Context, key, value string) error {
	return s.primary.SetMeta(ctx, key, value)
}

// --- Cache helpers ---

func (s *CachedStore) invalidatePlatforms(ctx context.Context, ids map[int64]decimal.Decimal) {
	keys := []string{platformListKey}
	for id := range ids {
		keys = append(keys, platformKey(id))
	}
	s.invalidate(ctx, keys...)
}

// invalidate bumps the generation and drops keys in one round trip.
func (s *CachedStore) invalidate(ctx context.Context, keys ...string) {
	pipe := s.rdb.TxPipeline()
	pipe.Incr(ctx, generationKey)
	pipe.Del(ctx, keys...)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("cache invalidation failed", "keys", keys, "err", err)
	}
}

// generation returns the current cache generation, or -1 when Redis cannot
// be read; populate never stores under -1.
func (s *CachedStore) generation(ctx context.Context) int64 {
	gen, err := s.rdb.Get(ctx, generationKey).Int64()
	switch {
	case err == redis.Nil:
		return 0
	case err != nil:
		return -1
	}
	return gen
}

// populate stores v under key unless the generation moved past gen.
func (s *CachedStore) populate(ctx context.Context, gen int64, key string, v any) {
	if gen < 0 {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, generationKey).Int64()
		if err != nil && err != redis.Nil {
			return err
		}
		if cur != gen {
			return errStaleRead
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		return err
	}, generationKey)
	if err != nil && !errors.Is(err, errStaleRead) && !errors.Is(err, redis.TxFailedErr) {
		slog.Debug("cache populate failed", "key", key, "err", err)
	}
}

var errStaleRead = errors.New("store: cache generation changed during read")

const (
	platformListKey = "platforms"
	generationKey   = "cache:generation"
)

func platformKey(id int64) string { return fmt.Sprintf("platform:%d", id) }

func positionsKey(platformID *int64, status model.PositionStatus) string {
	scope := "all"
	if platformID != nil {
		scope = fmt.Sprintf("%d", *platformID)
	}
	if status == "" {
		status = "any"
	}
	return fmt.Sprintf("positions:%s:%s", scope, status)
}
