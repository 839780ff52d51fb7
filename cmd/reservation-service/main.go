// cmd/reservation-service/main.go
package main

import (
	"time"

	"stockpile/internal/pkg/bootstrap"
	"stockpile/internal/pkg/logger"
	"stockpile/internal/pkg/mq"
	redispkg "stockpile/internal/pkg/redis"
	"stockpile/internal/service/inventory/application"
	"stockpile/internal/service/inventory/domain"
	"stockpile/internal/service/inventory/infrastructure"
	"stockpile/internal/service/inventory/infrastructure/adapter"
	"stockpile/internal/service/inventory/infrastructure/rule"
	"stockpile/internal/service/inventory/interfaces"
	"stockpile/internal/zookeeper"
)

const serviceName = "reservation-service"

func main() {
	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			cfg := bootstrap.GetCurrentConfig()

			db, err := infrastructure.NewDB(
				cfg.Infra.Mysql.Addr,
				cfg.Infra.Mysql.User,
				cfg.Infra.Mysql.Password,
				cfg.Infra.Mysql.Database,
			)
			if err != nil {
				logger.Logger.Fatal().Err(err).Msg("failed to connect to mysql")
			}
			if err := infrastructure.AutoMigrate(db); err != nil {
				logger.Logger.Fatal().Err(err).Msg("failed to migrate database")
			}

			opts := []infrastructure.Option{
				infrastructure.WithLockMode(cfg.Inventory.LockMode),
				infrastructure.WithMaxRetries(cfg.Inventory.MaxRetries),
			}

			// redis / zookeeper 模式下串行化交给外部互斥锁
			switch cfg.Inventory.LockMode {
			case infrastructure.LockModeRedis:
				redisClient, err := redispkg.NewClient(cfg.Infra.Redis.Addr)
				if err != nil {
					logger.Logger.Fatal().Err(err).Msg("failed to connect to redis")
				}
				locker, err := adapter.NewRedisProductLocker(redisClient)
				if err != nil {
					logger.Logger.Fatal().Err(err).Msg("failed to create redis product locker")
				}
				opts = append(opts, infrastructure.WithProductLocker(locker))
			case infrastructure.LockModeZookeeper:
				conn, err := zookeeper.Connect(cfg.Infra.Zookeeper.Servers, 5*time.Second)
				if err != nil {
					logger.Logger.Fatal().Err(err).Msg("failed to connect to zookeeper")
				}
				opts = append(opts, infrastructure.WithProductLocker(adapter.NewZkProductLocker(conn)))
			}

			repo := infrastructure.NewGormInventoryRepository(db, opts...)

			var policy domain.ReservationPolicy
			if len(cfg.Inventory.Policies) > 0 {
				defs := make([]rule.PolicyDef, 0, len(cfg.Inventory.Policies))
				for _, p := range cfg.Inventory.Policies {
					defs = append(defs, rule.PolicyDef{Name: p.Name, Expression: p.Expression})
				}
				engine, err := rule.NewCELPolicyEngine(defs)
				if err != nil {
					logger.Logger.Fatal().Err(err).Msg("failed to compile reservation policies")
				}
				policy = engine
				logger.Logger.Info().Int("policies", len(defs)).Msg("reservation policy engine enabled")
			}

			writer := mq.NewKafkaWriter(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.StockEventsTopic)
			publisher := adapter.NewStockEventKafkaPublisher(writer)

			reservations := application.NewService(repo, policy, publisher)
			catalog := application.NewProductService(repo, repo)
			interfaces.NewInventoryHandler(reservations, catalog).RegisterRoutes(appCtx.Mux)

			logger.Logger.Info().
				Str("lock_mode", cfg.Inventory.LockMode).
				Msg("reservation service wired")
		},
	})
}
