// Package pgtest поднимает отдельную базу PostgreSQL на каждый интеграционный тест.
// Адрес сервера берётся из TEST_DATABASE_URL; если переменная не задана,
// тест пропускается.
package pgtest

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/points-engine/internal/db/postgres"
)

// EnvDSN — переменная окружения с DSN тестового сервера.
const EnvDSN = "TEST_DATABASE_URL"

// NewPool создаёт чистую базу, применяет миграции и возвращает пул к ней.
// База удаляется в t.Cleanup.
func NewPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	baseDSN := os.Getenv(EnvDSN)
	if baseDSN == "" {
		t.Skipf("%s не задан, интеграционный тест пропущен", EnvDSN)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	admin, err := pgx.Connect(ctx, baseDSN)
	if err != nil {
		t.Fatalf("admin connect: %v", err)
	}

	dbName := sanitizeForPgIdent(uniqueDBName("testdb", t.Name()))

	const maxAttempts = 5
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		_, err = admin.Exec(ctx,
			fmt.Sprintf(`CREATE DATABASE "%s" WITH TEMPLATE template0 ENCODING 'UTF8'`, dbName))
		if err == nil {
			break
		}
		if !postgres.IsUniqueViolation(err) || attempt == maxAttempts {
			_ = admin.Close(ctx)
			t.Fatalf("create database: %v", err)
		}
		dbName = sanitizeForPgIdent(uniqueDBName("testdb", t.Name()))
	}
	_ = admin.Close(ctx)

	testDSN, err := ReplaceDBInDSN(baseDSN, dbName)
	if err != nil {
		t.Fatalf("test dsn: %v", err)
	}

	pool, err := postgres.Connect(ctx, testDSN, 20, 1)
	if err != nil {
		t.Fatalf("connect test db: %v", err)
	}

	t.Cleanup(func() {
		pool.Close()
		dropDatabase(baseDSN, dbName)
	})

	if err := postgres.Migrate(pool); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	return pool
}

func dropDatabase(baseDSN, dbName string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	admin, err := pgx.Connect(ctx, baseDSN)
	if err != nil {
		return
	}
	defer admin.Close(ctx)

	if _, err := admin.Exec(ctx,
		fmt.Sprintf(`DROP DATABASE IF EXISTS "%s" WITH (FORCE)`, dbName)); err == nil {
		return
	}
	_, _ = admin.Exec(ctx, `
		SELECT pg_terminate_backend(pid)
		FROM pg_stat_activity
		WHERE datname = $1 AND pid <> pg_backend_pid()
	`, dbName)
	_, _ = admin.Exec(ctx, fmt.Sprintf(`DROP DATABASE IF EXISTS "%s"`, dbName))
}

// ReplaceDBInDSN подменяет имя базы в DSN формата URL.
func ReplaceDBInDSN(dsn, newDB string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse dsn: %w", err)
	}
	u.Path = "/" + newDB
	return u.String(), nil
}

func uniqueDBName(prefix, testName string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(testName))
	var rnd [6]byte
	_, _ = rand.Read(rnd[:])
	return fmt.Sprintf("%s_%08x_%s", prefix, h.Sum32(), hex.EncodeToString(rnd[:]))
}

func sanitizeForPgIdent(s string) string {
	s = strings.ToLower(s)
	repl := strings.NewReplacer("/", "_", "\\", "_", " ", "_", ":", "_", "-", "_", "#", "_")
	s = repl.Replace(s)
	if len(s) <= 63 {
		return s
	}
	return s[:31] + "_" + s[len(s)-31:]
}
