package controllers

import (
	"context"

	"gorm.io/gorm"

	"github.com/ManuelReschke/CoinFox/internal/pkg/cache"
)

// DatabaseCheck pings the SQL pool behind db.
func DatabaseCheck(db *gorm.DB) HealthCheck {
	return func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}
}

// CacheCheck pings the shared Redis client.
func CacheCheck() HealthCheck {
	return cache.Ping
}

// Controllers bundles the route handlers the router installs.
type Controllers struct {
	Main    *MainController
	Payment *PaymentController
	Balance *BalanceController
}
