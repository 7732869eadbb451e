package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"auth-sync/internal/config"
	"auth-sync/internal/domain"
	"auth-sync/internal/service"
)

// Herramienta de operador: emite una concesion de emergencia (o un
// override de admin) directamente en el store compartido cuando el
// oraculo de sesion lleva caido un rato largo.
func main() {
	email := flag.String("email", "", "email de la cuenta a cubrir")
	admin := flag.Bool("admin", false, "emitir override de admin en vez de concesion de emergencia")
	operatorKey := flag.String("key", "", "clave de recuperacion del operador (solo con -admin)")
	flag.Parse()

	if *email == "" {
		flag.Usage()
		os.Exit(2)
	}

	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}
	if cfg.RedisAddr == "" {
		log.Fatal("REDIS_ADDR is required: the grant must land in the shared store")
	}

	logger := zap.NewExample()
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("redis ping failed: %v", err)
	}

	stateStore := service.NewRedisStateStore(redisClient, 250*time.Millisecond)
	grants := service.NewEmergencyGrantController(
		logger,
		stateStore,
		time.Duration(cfg.GrantTTLMinutes)*time.Minute,
		cfg.AdminAllowList,
		cfg.RecoveryKeyHash,
	)

	if *admin {
		grant, err := grants.IssueAdminOverride(ctx, *email, *operatorKey)
		if err != nil {
			log.Fatalf("admin override failed: %v", err)
		}
		fmt.Printf("admin override issued for %s, expires %s\n", grant.Email, grant.ExpiresAt().Format(time.RFC3339))
	} else {
		grant, err := grants.Issue(ctx, *email)
		if err != nil {
			log.Fatalf("grant failed: %v", err)
		}
		fmt.Printf("emergency grant issued for %s, expires %s\n", grant.Email, grant.ExpiresAt().Format(time.RFC3339))
	}

	// Avisar a los agentes vivos para que re-reconcilien ya.
	broadcaster := service.NewBroadcaster(logger, stateStore)
	broadcaster.Publish(ctx, domain.ChangeEvent{Kind: domain.ChangeGrantIssued, Email: *email})
}
