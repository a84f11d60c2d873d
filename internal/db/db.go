package db

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/xtrntr/gridledger/internal/models"
)

//go:embed migrations/*.sql
var migrations embed.FS

var ErrDuplicateUsername = errors.New("username already taken")

// DB wraps a PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB initializes a new database connection pool
func NewDB(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	return &DB{Pool: pool}, nil
}

// Migrate applies the embedded schema migrations
func Migrate(ctx context.Context, connString string) error {
	sqlDB, err := sql.Open("pgx", connString)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer sqlDB.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, sqlDB, "migrations"); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// Close closes the database connection pool
func (db *DB) Close() {
	db.Pool.Close()
}

// CreateParticipant inserts a new participant
func (db *DB) CreateParticipant(ctx context.Context, username, passwordHash string) (*models.Participant, error) {
	p := &models.Participant{}
	err := db.Pool.QueryRow(ctx,
		"INSERT INTO participants (username, password_hash) VALUES ($1, $2) RETURNING id, username, password_hash, created_at",
		username, passwordHash).Scan(&p.ID, &p.Username, &p.PasswordHash, &p.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateUsername
		}
		return nil, fmt.Errorf("failed to create participant: %w", err)
	}
	return p, nil
}

// GetParticipantByUsername retrieves a participant by username
func (db *DB) GetParticipantByUsername(ctx context.Context, username string) (*models.Participant, error) {
	p := &models.Participant{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, username, password_hash, created_at FROM participants WHERE username = $1",
		username).Scan(&p.ID, &p.Username, &p.PasswordHash, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get participant: %w", err)
	}
	return p, nil
}

func (db *DB) Name() string { return "postgres" }

// Append records a batch of ledger events in one transaction. Sequences
// already stored are skipped so redelivery is harmless.
func (db *DB) Append(ctx context.Context, events []models.Event) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to encode event %d: %w", ev.Sequence, err)
		}
		batch.Queue(
			"INSERT INTO events (sequence, type, partition_key, payload, occurred_at) VALUES ($1, $2, $3, $4, $5) "+
				"ON CONFLICT (sequence) DO NOTHING",
			int64(ev.Sequence), string(ev.Type), ev.PartitionKey(), payload, ev.OccurredAt)

		switch ev.Type {
		case models.EventOrderStatusChanged:
			queueStatus(batch, ev.Sequence, ev.StatusChange)
		case models.EventTradeExecuted:
			queueTrade(batch, ev.Sequence, ev.Trade)
		case models.EventSettlementRecorded:
			queueSettlement(batch, ev.Sequence, ev.Settlement)
		}
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to append events: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func queueStatus(b *pgx.Batch, seq uint64, c *models.OrderStatusChanged) {
	b.Queue(`INSERT INTO order_events
		(sequence, order_id, participant_id, zone, window_start, window_end, from_status, to_status, remaining, reason, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::numeric, $10, $11)
		ON CONFLICT (sequence) DO NOTHING`,
		int64(seq), int64(c.OrderID), int64(c.Participant), string(c.Zone), c.Window.Start, c.Window.End,
		string(c.From), string(c.To), c.Remaining.String(), c.Reason, c.At)
}

func queueTrade(b *pgx.Batch, seq uint64, t *models.Trade) {
	b.Queue(`INSERT INTO trades
		(id, sequence, buy_order_id, sell_order_id, buyer_id, seller_id, amount, delivered, loss, price,
		 zone, window_start, window_end, renewable, emergency, forced, executed_at)
		VALUES ($1::uuid, $2, $3, $4, $5, $6, $7::numeric, $8::numeric, $9::numeric, $10::numeric,
		 $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO NOTHING`,
		t.ID.String(), int64(seq), int64(t.BuyOrderID), int64(t.SellOrderID), int64(t.BuyerID), int64(t.SellerID),
		t.Amount.String(), t.Delivered.String(), t.Loss.String(), t.Price.String(),
		string(t.Zone), t.Window.Start, t.Window.End, t.Renewable, t.Emergency, t.Forced, t.ExecutedAt)
}

func queueSettlement(b *pgx.Batch, seq uint64, r *models.SettlementRecord) {
	b.Queue(`INSERT INTO settlements
		(id, trade_id, sequence, buyer_id, buyer_tokens, buyer_energy, seller_id, seller_tokens, seller_energy,
		 protocol_fee, fee_account, certificate_ref, settled_at)
		VALUES ($1::uuid, $2::uuid, $3, $4, $5::numeric, $6::numeric, $7, $8::numeric, $9::numeric,
		 $10::numeric, $11, $12, $13)
		ON CONFLICT (trade_id) DO NOTHING`,
		r.ID.String(), r.TradeID.String(), int64(seq),
		int64(r.Buyer.Participant), r.Buyer.Tokens.String(), r.Buyer.EnergyKWh.String(),
		int64(r.Seller.Participant), r.Seller.Tokens.String(), r.Seller.EnergyKWh.String(),
		r.ProtocolFee.String(), int64(r.FeeAccount), r.CertificateRef, r.SettledAt)
}

// GetParticipantOrders returns the latest status transition of every order
// a participant has submitted
func (db *DB) GetParticipantOrders(ctx context.Context, participant models.ParticipantID) ([]models.OrderStatusChanged, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT DISTINCT ON (order_id)
			order_id, participant_id, zone, window_start, window_end, from_status, to_status, remaining::text, reason, at
		FROM order_events
		WHERE participant_id = $1
		ORDER BY order_id, sequence DESC`,
		int64(participant))
	if err != nil {
		return nil, fmt.Errorf("failed to get participant orders: %w", err)
	}
	defer rows.Close()

	var out []models.OrderStatusChanged
	for rows.Next() {
		var (
			c                 models.OrderStatusChanged
			orderID, partID   int64
			zone, from, to    string
			remaining, reason string
		)
		if err := rows.Scan(&orderID, &partID, &zone, &c.Window.Start, &c.Window.End,
			&from, &to, &remaining, &reason, &c.At); err != nil {
			return nil, fmt.Errorf("failed to scan order event: %w", err)
		}
		c.OrderID = models.OrderID(orderID)
		c.Participant = models.ParticipantID(partID)
		c.Zone = models.Zone(zone)
		c.From, c.To = models.OrderStatus(from), models.OrderStatus(to)
		c.Reason = reason
		if c.Remaining, err = decimal.NewFromString(remaining); err != nil {
			return nil, fmt.Errorf("failed to parse remaining: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetParticipantTrades retrieves all trades a participant took part in
func (db *DB) GetParticipantTrades(ctx context.Context, participant models.ParticipantID) ([]models.Trade, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id::text, sequence, buy_order_id, sell_order_id, buyer_id, seller_id,
			amount::text, delivered::text, loss::text, price::text,
			zone, window_start, window_end, renewable, emergency, forced, executed_at
		FROM trades
		WHERE buyer_id = $1 OR seller_id = $1
		ORDER BY executed_at, sequence`,
		int64(participant))
	if err != nil {
		return nil, fmt.Errorf("failed to get participant trades: %w", err)
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func scanTrade(rows pgx.Rows) (models.Trade, error) {
	var (
		t                              models.Trade
		id, zone                       string
		eventSeq                       int64
		buyOrder, sellOrder            int64
		buyer, seller                  int64
		amount, delivered, loss, price string
		start, end                     time.Time
	)
	if err := rows.Scan(&id, &eventSeq, &buyOrder, &sellOrder, &buyer, &seller,
		&amount, &delivered, &loss, &price,
		&zone, &start, &end, &t.Renewable, &t.Emergency, &t.Forced, &t.ExecutedAt); err != nil {
		return models.Trade{}, fmt.Errorf("failed to scan trade: %w", err)
	}

	var err error
	if t.ID, err = uuid.Parse(id); err != nil {
		return models.Trade{}, fmt.Errorf("failed to parse trade id: %w", err)
	}
	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{{&t.Amount, amount}, {&t.Delivered, delivered}, {&t.Loss, loss}, {&t.Price, price}} {
		if *f.dst, err = decimal.NewFromString(f.src); err != nil {
			return models.Trade{}, fmt.Errorf("failed to parse trade amount: %w", err)
		}
	}
	t.BuyOrderID, t.SellOrderID = models.OrderID(buyOrder), models.OrderID(sellOrder)
	t.BuyerID, t.SellerID = models.ParticipantID(buyer), models.ParticipantID(seller)
	t.Zone = models.Zone(zone)
	t.Window = models.Window{Start: start.UTC(), End: end.UTC()}
	return t, nil
}

// EventCount returns how many ledger events are stored
func (db *DB) EventCount(ctx context.Context) (int64, error) {
	var n int64
	err := db.Pool.QueryRow(ctx, "SELECT count(*) FROM events").Scan(&n)
	return n, err
}

// LastSequence returns the highest stored event sequence, zero when empty
func (db *DB) LastSequence(ctx context.Context) (uint64, error) {
	var seq int64
	err := db.Pool.QueryRow(ctx, "SELECT COALESCE(max(sequence), 0) FROM events").Scan(&seq)
	return uint64(seq), err
}
