package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"UltraFlow/internal/domain/models"
	"UltraFlow/internal/domain/repository"
	pkgkafka "UltraFlow/pkg/kafka"
)

// ClickHouseStorage implements Storage for ClickHouse.
type ClickHouseStorage struct {
	db    *sql.DB
	table string
}

// NewClickHouseStorage creates ClickHouse storage.
func NewClickHouseStorage(db *sql.DB, table string) repository.Storage {
	return &ClickHouseStorage{db: db, table: table}
}

func (s *ClickHouseStorage) Store(ctx context.Context, d *models.Decision) error {
	q := fmt.Sprintf("INSERT INTO %s (decision_id, key, symbol, side, outcome, reason, score, quantity, notional, day, decided_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)", s.table)
	_, err := s.db.ExecContext(ctx, q,
		d.ID,
		d.Key,
		d.Symbol,
		string(d.Side),
		string(d.Outcome),
		string(d.Reason),
		d.Score,
		d.Quantity,
		d.Notional,
		d.Day,
		d.DecidedAt,
	)
	return err
}

// StoreBatch inserts decisions with VALUES multi-row to reduce round-trips.
func (s *ClickHouseStorage) StoreBatch(ctx context.Context, decisions []*models.Decision) error {
	if len(decisions) == 0 {
		return nil
	}
	const chunkSize = 2000
	for start := 0; start < len(decisions); start += chunkSize {
		end := start + chunkSize
		if end > len(decisions) {
			end = len(decisions)
		}

		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*11)
		for _, d := range decisions[start:end] {
			if d == nil || d.ID == "" {
				continue
			}
			values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args,
				d.ID,
				d.Key,
				d.Symbol,
				string(d.Side),
				string(d.Outcome),
				string(d.Reason),
				d.Score,
				d.Quantity,
				d.Notional,
				d.Day,
				d.DecidedAt,
			)
		}
		if len(values) == 0 {
			continue
		}
		q := fmt.Sprintf("INSERT INTO %s (decision_id, key, symbol, side, outcome, reason, score, quantity, notional, day, decided_at) VALUES %s", s.table, strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return err
		}
	}
	return nil
}

func (s *ClickHouseStorage) Query(ctx context.Context, symbol string, from, to time.Time, limit int) ([]*models.Decision, error) {
	q := fmt.Sprintf("SELECT decision_id, key, symbol, side, outcome, reason, score, quantity, notional, day, decided_at FROM %s WHERE symbol = ? AND decided_at >= ? AND decided_at <= ? ORDER BY decided_at DESC LIMIT ?", s.table)
	rows, err := s.db.QueryContext(ctx, q, symbol, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var decisions []*models.Decision
	for rows.Next() {
		var d models.Decision
		var side, outcome, reason string
		if err := rows.Scan(&d.ID, &d.Key, &d.Symbol, &side, &outcome, &reason, &d.Score, &d.Quantity, &d.Notional, &d.Day, &d.DecidedAt); err != nil {
			return nil, err
		}
		d.Side = models.Side(side)
		d.Outcome = models.Outcome(outcome)
		d.Reason = models.RejectReason(reason)
		decisions = append(decisions, &d)
	}
	return decisions, rows.Err()
}

func (s *ClickHouseStorage) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *ClickHouseStorage) Close() error {
	return nil // Managed by pkg
}

// KafkaPublisher implements Publisher for Kafka.
type KafkaPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

// NewKafkaPublisher creates Kafka publisher.
func NewKafkaPublisher(producer *pkgkafka.Producer, topic string) repository.Publisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

func (p *KafkaPublisher) Publish(ctx context.Context, d *models.Decision) error {
	return p.producer.Publish(ctx, p.topic, []byte(d.Key), d)
}

func (p *KafkaPublisher) PublishBatch(ctx context.Context, decisions []*models.Decision) error {
	if len(decisions) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(decisions))
	for i, d := range decisions {
		msgs[i] = pkgkafka.Message{
			Key:   []byte(d.Key),
			Value: d,
		}
	}
	return p.producer.PublishBatch(ctx, p.topic, msgs)
}

func (p *KafkaPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
