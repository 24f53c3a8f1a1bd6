//go:build integration

// Package containers starts the backing services used by integration suites.
// Each service is started once per test binary and shared by every suite in it.
package containers

import (
	"sync"
	"testing"
)

var (
	mu       sync.Mutex
	postgres *PostgresContainer
	kafka    *KafkaContainer
	redis    *RedisContainer
)

// Postgres returns the shared Postgres instance with every migration applied.
func Postgres(t *testing.T) *PostgresContainer {
	t.Helper()
	mu.Lock()
	defer mu.Unlock()
	if postgres == nil {
		postgres = startPostgres(t)
	}
	return postgres
}

// Kafka returns the shared Redpanda broker.
func Kafka(t *testing.T) *KafkaContainer {
	t.Helper()
	mu.Lock()
	defer mu.Unlock()
	if kafka == nil {
		kafka = startKafka(t)
	}
	return kafka
}

// Redis returns the shared Redis instance.
func Redis(t *testing.T) *RedisContainer {
	t.Helper()
	mu.Lock()
	defer mu.Unlock()
	if redis == nil {
		redis = startRedis(t)
	}
	return redis
}
