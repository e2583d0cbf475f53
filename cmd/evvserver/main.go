// Command evvserver runs the EVV platform's HTTP surface: mobile sync
// push/pull, the Texas VMUR workflow, and the background aggregator
// retry poller.
//
// Grounded on the teacher's examples/webserver/main.go: construct the
// domain services once at startup, wire them into a gin.Engine, run.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/neighborhood-lab/care-commons-sub013/internal/aggregator"
	"github.com/neighborhood-lab/care-commons-sub013/internal/config"
	"github.com/neighborhood-lab/care-commons-sub013/internal/evv"
	"github.com/neighborhood-lab/care-commons-sub013/internal/evv/store"
	"github.com/neighborhood-lab/care-commons-sub013/internal/geoip"
	"github.com/neighborhood-lab/care-commons-sub013/internal/httpapi"
	"github.com/neighborhood-lab/care-commons-sub013/internal/sync"
	"github.com/neighborhood-lab/care-commons-sub013/internal/telemetry"
	"github.com/neighborhood-lab/care-commons-sub013/internal/verification"
	"github.com/neighborhood-lab/care-commons-sub013/internal/vmur"
)

func main() {
	tel, err := telemetry.New()
	if err != nil {
		log.Fatalf("telemetry init failed: %v", err)
	}
	defer tel.Logger.Sync()

	policies := config.NewPolicyTable(tel.Logger)
	if path := os.Getenv("EVV_POLICY_FILE"); path != "" {
		if err := policies.LoadFile(path); err != nil {
			tel.Logger.Fatal("policy file load failed", zap.String("path", path), zap.Error(err))
		}
		if err := policies.WatchFile(path); err != nil {
			tel.Logger.Warn("policy file watch failed, reload disabled", zap.Error(err))
		}
	}

	var geoIP verification.GeoIPLookup
	if cityDB, asnDB := os.Getenv("EVV_GEOIP_CITY_DB"), os.Getenv("EVV_GEOIP_ASN_DB"); cityDB != "" && asnDB != "" {
		svc, err := geoip.NewService(cityDB, asnDB)
		if err != nil {
			tel.Logger.Warn("geoip init failed, VPN/region checks disabled", zap.Error(err))
		} else {
			defer svc.Close()
			geoIP = svc
		}
	}

	verifier := verification.NewEvaluator(geoIP, verification.DefaultHostingASNs(), []string{"MEDICATION_ADMIN", "SKILLED_NURSING"})

	var repo store.Repository = store.NewMemoryRepository()
	var geofences verification.GeofenceRepository = store.NewMemoryGeofenceRepository()
	if dsn := os.Getenv("EVV_DATABASE_URL"); dsn != "" {
		db, err := sqlx.Connect("pgx", dsn)
		if err != nil {
			tel.Logger.Fatal("postgres connect failed", zap.Error(err))
		}
		defer db.Close()
		repo = store.NewPostgresRepository(db, tel.Logger)
		geofences = store.NewPostgresGeofenceRepository(db)
		tel.Logger.Info("using postgres-backed record repository")
	}
	verifier = verifier.WithGeofenceCalibration(geofences)

	engine := evv.New(repo, verifier, policies, tel.Metrics)
	reconciler := sync.NewReconciler(engine, nil)
	vmurs := vmur.New(vmur.NewMemoryStore(), repo, engine)

	redisAddr := os.Getenv("EVV_REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	queue := aggregator.NewQueue(rdb)
	registry := aggregator.NewRegistry(http.DefaultClient)
	dispatcher := aggregator.NewDispatcher(registry, repo, queue, policies.Get, tel.Logger, tel.Metrics)

	go runRetryPoller(dispatcher, tel.Logger)

	server := httpapi.New(reconciler, vmurs, tel)
	router := server.Router()

	addr := os.Getenv("EVV_LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	tel.Logger.Info("evvserver starting", zap.String("addr", addr))
	if err := router.Run(addr); err != nil {
		tel.Logger.Fatal("server exited", zap.Error(err))
	}
}

// runRetryPoller drains the Redis-backed retry queue on a fixed
// interval, resubmitting every Awaiting-Retry record whose backoff has
// elapsed (spec.md §4.4 "retry queue").
func runRetryPoller(dispatcher *aggregator.Dispatcher, logger *zap.Logger) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		n, err := dispatcher.PollRetries(context.Background(), 50)
		if err != nil {
			logger.Warn("retry poll failed", zap.Error(err))
			continue
		}
		if n > 0 {
			logger.Info("retry poll processed records", zap.Int("count", n))
		}
	}
}
