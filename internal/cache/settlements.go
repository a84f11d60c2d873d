package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/xtrntr/gridledger/internal/models"
)

const keyPrefix = "gridledger:settlement:"

// SettlementStore keeps settlement records in Redis so retries from any
// exchange instance see the same record
type SettlementStore struct {
	client *redis.Client
	ttl    time.Duration
}

// New connects to Redis and pings it
func New(ctx context.Context, addr, password string, db int, ttl time.Duration) (*SettlementStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return NewSettlementStore(client, ttl), nil
}

func NewSettlementStore(client *redis.Client, ttl time.Duration) *SettlementStore {
	return &SettlementStore{client: client, ttl: ttl}
}

func key(tradeID uuid.UUID) string { return keyPrefix + tradeID.String() }

func (s *SettlementStore) Get(ctx context.Context, tradeID uuid.UUID) (models.SettlementRecord, bool, error) {
	raw, err := s.client.Get(ctx, key(tradeID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.SettlementRecord{}, false, nil
	}
	if err != nil {
		return models.SettlementRecord{}, false, fmt.Errorf("failed to get settlement: %w", err)
	}
	var rec models.SettlementRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return models.SettlementRecord{}, false, fmt.Errorf("failed to decode settlement: %w", err)
	}
	return rec, true, nil
}

// Save writes rec with SETNX; losing the race returns the winner's record
func (s *SettlementStore) Save(ctx context.Context, rec models.SettlementRecord) (models.SettlementRecord, bool, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return models.SettlementRecord{}, false, fmt.Errorf("failed to encode settlement: %w", err)
	}
	ok, err := s.client.SetNX(ctx, key(rec.TradeID), raw, s.ttl).Result()
	if err != nil {
		return models.SettlementRecord{}, false, fmt.Errorf("failed to save settlement: %w", err)
	}
	if ok {
		return rec, true, nil
	}
	existing, found, err := s.Get(ctx, rec.TradeID)
	if err != nil {
		return models.SettlementRecord{}, false, err
	}
	if !found {
		return models.SettlementRecord{}, false, fmt.Errorf("settlement %s vanished after SETNX", rec.TradeID)
	}
	return existing, false, nil
}

func (s *SettlementStore) Close() error {
	return s.client.Close()
}
