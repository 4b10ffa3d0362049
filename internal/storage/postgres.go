// README: PostgreSQL unit of work; module stores share one pgx transaction.
package storage

import (
	"context"
	"embed"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dispatch/internal/infra"
	"dispatch/internal/modules/order"
	"dispatch/internal/modules/user"
)

// Migrations holds the schema applied at startup.
//
//go:embed migrations/*.sql
var Migrations embed.FS

const MigrationsDir = "migrations"

type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) Orders() order.Repository { return order.NewStore(p.pool) }
func (p *Postgres) Users() user.Repository   { return user.NewStore(p.pool) }

// InTx runs fn inside one transaction; an error from fn rolls everything back.
func (p *Postgres) InTx(ctx context.Context, fn func(order.Store) error) error {
	return pgx.BeginTxFunc(ctx, p.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return fn(&pgTx{q: tx})
	})
}

type pgTx struct {
	q infra.Querier
}

func (t *pgTx) Orders() order.Repository { return order.NewStore(t.q) }
func (t *pgTx) Users() user.Repository   { return user.NewStore(t.q) }

// InTx on an open transaction joins it.
func (t *pgTx) InTx(_ context.Context, fn func(order.Store) error) error {
	return fn(t)
}
