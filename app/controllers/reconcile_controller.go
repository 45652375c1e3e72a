package controllers

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/guildworks/membergate/app/repository"
	"github.com/guildworks/membergate/internal/pkg/discord"
	"github.com/guildworks/membergate/internal/pkg/env"
	"github.com/guildworks/membergate/internal/pkg/reconcile"
	"github.com/guildworks/membergate/internal/pkg/rolesync"
)

// HandleReconcile runs one full reconciliation pass on demand. Authentication
// happens in the internal-auth middleware; this handler only validates the
// role configuration and reports the pass counters.
func HandleReconcile(c *fiber.Ctx) error {
	roleID := strings.TrimSpace(env.GetEnv("DISCORD_ROLE_ID", ""))
	if roleID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "role_not_configured", "message": "DISCORD_ROLE_ID is not set"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	summary, err := buildReconcileRunner(roleID).RunOnce(ctx)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "reconcile_failed"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"ok":        true,
		"processed": summary.Processed,
		"assigned":  summary.Assigned,
		"removed":   summary.Removed,
		"skipped":   summary.Skipped,
		"errored":   summary.Errored,
	})
}

func buildReconcileRunner(roleID string) *reconcile.Runner {
	repos := repository.GetGlobalRepositories()

	community := discord.NewClientFromEnv()
	actuator := rolesync.NewActuator(community, repos.RoleSync)
	return reconcile.NewRunner(repos.Subscription, repos.Customer, repos.Application, actuator, roleID)
}
