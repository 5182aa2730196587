// Package postgres — queries.go содержит общие утилиты для выполнения запросов:
// единицу работы (транзакцию) и распознавание ошибок уникальности.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// UniqueViolation — код ошибки PostgreSQL для нарушения UNIQUE.
const UniqueViolation = "23505"

// DBTX — общее подмножество pgxpool.Pool и pgx.Tx.
// Репозитории принимают его, чтобы одни и те же запросы работали
// и внутри транзакции, и без неё.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxBeginner умеет открывать транзакцию (pgxpool.Pool, pgx.Conn).
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// WithTx выполняет fn как одну единицу работы.
// Любая ошибка или паника внутри fn откатывает транзакцию целиком,
// коммит происходит только при успешном возврате.
//
// Параметры:
//   - ctx: контекст
//   - db: пул соединений
//   - fn: тело транзакции
//
// Пример:
//
//	err := postgres.WithTx(ctx, pool, func(tx pgx.Tx) error {
//	    _, err := economy.DebitTx(ctx, tx, m)
//	    return err
//	})
func WithTx(ctx context.Context, db TxBeginner, fn func(tx pgx.Tx) error) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	// Откатываем транзакцию, если что-то пошло не так (после Commit это no-op)
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return nil
}

// IsUniqueViolation проверяет, что ошибка — нарушение уникального ключа.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == UniqueViolation
}

// IsNoRows проверяет, что запрос не вернул строк.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
