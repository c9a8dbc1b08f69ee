package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SequenceAllocator hands out gapless yearly business numbers (rescheduling
// and deliberation numbering). Allocation is a single atomic upsert, so two
// concurrent writers can never observe the same value; the old
// count-the-rows-and-add-one scheme this replaces could.
type SequenceAllocator interface {
	Next(ctx context.Context, name string, year int) (int64, error)
}

type sequenceAllocatorPG struct {
	pool *pgxpool.Pool
}

func NewSequenceAllocatorPG(pool *pgxpool.Pool) SequenceAllocator {
	return &sequenceAllocatorPG{pool: pool}
}

type execQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func (s *sequenceAllocatorPG) conn(ctx context.Context) execQuerier {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return s.pool
}

// Next increments and returns the counter for (name, year). The row is
// created on first use. Runs under the caller's transaction when one is open,
// so an aborted operation does not burn a number silently outside its unit of
// work (the gap is acceptable; a duplicate is not).
func (s *sequenceAllocatorPG) Next(ctx context.Context, name string, year int) (int64, error) {
	var value int64
	err := s.conn(ctx).QueryRow(ctx, `
		INSERT INTO sequence_counters (name, year, value)
		VALUES ($1, $2, 1)
		ON CONFLICT (name, year)
		DO UPDATE SET value = sequence_counters.value + 1
		RETURNING value`,
		name, year).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("allocate sequence %s/%d: %w", name, year, err)
	}
	return value, nil
}
