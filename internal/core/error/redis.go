package errx

import (
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
)

const RedisNotFoundMessage = "redis key not found"

// WrapRedis maps Redis errors to the unified Error type with appropriate status codes.
// Every Redis failure on the store path is a persistence failure.
func WrapRedis(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, redis.Nil) {
		return New(err, KindPersistence, http.StatusNotFound, RedisNotFoundMessage)
	}

	return New(err, KindPersistence, http.StatusBadGateway, RedisErrorMessage)
}

// WrapPostgres maps pgx errors to the unified Error type.
func WrapPostgres(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return New(err, KindPersistence, http.StatusNotFound, PostgresErrorMessage)
	}

	return New(err, KindPersistence, http.StatusBadGateway, PostgresErrorMessage)
}
