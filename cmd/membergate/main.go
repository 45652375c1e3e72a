package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/guildworks/membergate/app/repository"
	"github.com/guildworks/membergate/internal/pkg/cache"
	"github.com/guildworks/membergate/internal/pkg/database"
	"github.com/guildworks/membergate/internal/pkg/discord"
	"github.com/guildworks/membergate/internal/pkg/env"
	"github.com/guildworks/membergate/internal/pkg/lock"
	"github.com/guildworks/membergate/internal/pkg/reconcile"
	"github.com/guildworks/membergate/internal/pkg/rolesync"
	"github.com/guildworks/membergate/internal/pkg/router"
)

func main() {
	app := NewApplication()
	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	reconcile.StopReconcileMonitor()
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()
	repository.InitializeFactory(database.GetDB())

	// Define possible base paths
	basePaths := []string{
		"./",        // Current directory
		"../../",    // From cmd/membergate to project root
		"../../../", // Fallback
	}

	// Find the correct base path
	basePath := ""
	for _, path := range basePaths {
		if _, err := os.Stat(path + "public"); !os.IsNotExist(err) {
			basePath = path
			break
		}
	}

	if basePath == "" {
		panic("Could not find project root directory")
	}

	// init fiber app
	app := fiber.New(fiber.Config{
		AppName: "MemberGate",
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			"admin": env.GetEnv("METRICS_PASSWORD", "test"),
		},
	}), monitor.New())

	// SWAGGER / OPENAPI
	openAPICfg := swagger.Config{
		BasePath: "/docs/api/",
		FilePath: basePath + "public/docs/v1/openapi.yml",
		Path:     "v1",
	}
	app.Use(swagger.New(openAPICfg))

	// ROUTER
	router.InstallRouter(app)

	startReconcileMonitor()

	return app
}

// startReconcileMonitor wires the periodic reconciliation pass. Without a
// configured role there is nothing to converge; the endpoint stays available
// and reports the misconfiguration.
func startReconcileMonitor() {
	roleID := env.GetEnv("DISCORD_ROLE_ID", "")
	if roleID == "" {
		log.Print("reconcile monitor disabled: DISCORD_ROLE_ID is not set")
		return
	}

	intervalMin := env.GetIntEnv("RECONCILE_INTERVAL_MINUTES", 60)
	if intervalMin <= 0 {
		intervalMin = 60
	}

	repos := repository.GetGlobalRepositories()
	community := discord.NewClientFromEnv()
	actuator := rolesync.NewActuator(community, repos.RoleSync)
	runner := reconcile.NewRunner(repos.Subscription, repos.Customer, repos.Application, actuator, roleID)

	reconcile.StartReconcileMonitor(runner, lock.NewLocker(cache.GetClient()), time.Duration(intervalMin)*time.Minute)
}
