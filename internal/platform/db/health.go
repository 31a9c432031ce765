package db

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	TotalConns    int32  `json:"total_conns"`
	IdleConns     int32  `json:"idle_conns"`
	AcquiredConns int32  `json:"acquired_conns"`
	MaxConns      int32  `json:"max_conns"`
	WaitCount     int64  `json:"wait_count"`
	WaitDuration  string `json:"wait_duration"`
	Healthy       bool   `json:"healthy"`
}

// HealthCheck is what the health endpoint needs from a database handle.
type HealthCheck struct {
	Driver string
	Ping   func(ctx context.Context) error
	Stats  func() *PoolStats
}

func PGHealthCheck(pool *pgxpool.Pool) HealthCheck {
	return HealthCheck{
		Driver: "postgres",
		Ping:   pool.Ping,
		Stats: func() *PoolStats {
			stat := pool.Stat()
			return &PoolStats{
				TotalConns:    stat.TotalConns(),
				IdleConns:     stat.IdleConns(),
				AcquiredConns: stat.AcquiredConns(),
				MaxConns:      stat.MaxConns(),
				WaitCount:     stat.EmptyAcquireCount(),
				WaitDuration:  stat.AcquireDuration().String(),
				Healthy:       stat.TotalConns() > 0,
			}
		},
	}
}

func SQLHealthCheck(sqlDB *sql.DB) HealthCheck {
	return HealthCheck{
		Driver: "sqlite",
		Ping:   sqlDB.PingContext,
		Stats: func() *PoolStats {
			stat := sqlDB.Stats()
			return &PoolStats{
				TotalConns:    int32(stat.OpenConnections),
				IdleConns:     int32(stat.Idle),
				AcquiredConns: int32(stat.InUse),
				MaxConns:      int32(stat.MaxOpenConnections),
				WaitCount:     stat.WaitCount,
				WaitDuration:  stat.WaitDuration.String(),
				Healthy:       true,
			}
		},
	}
}

// HealthHandler returns a handler for the database health check endpoint.
func HealthHandler(check HealthCheck) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		err := check.Ping(ctx)
		stats := check.Stats()

		if err != nil {
			stats.Healthy = false
			return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
				"status": "unhealthy",
				"driver": check.Driver,
				"error":  err.Error(),
				"pool":   stats,
			})
		}

		return c.JSON(http.StatusOK, map[string]interface{}{
			"status": "healthy",
			"driver": check.Driver,
			"pool":   stats,
		})
	}
}
