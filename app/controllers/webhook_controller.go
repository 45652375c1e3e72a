package controllers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/guildworks/membergate/app/repository"
	"github.com/guildworks/membergate/internal/pkg/billing"
	"github.com/guildworks/membergate/internal/pkg/discord"
	"github.com/guildworks/membergate/internal/pkg/env"
	"github.com/guildworks/membergate/internal/pkg/rolesync"
)

// HandleStripeWebhook receives billing provider deliveries. The signature is
// verified before anything is persisted; a failed check is answered with 400
// and leaves no trace in the database.
func HandleStripeWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := strings.TrimSpace(c.Get("Stripe-Signature"))
	secret := env.GetEnv("STRIPE_WEBHOOK_SECRET", "")

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
	defer cancel()

	result, err := buildIngestor(secret).ProcessRaw(ctx, rawBody, signature)
	if err != nil {
		status, body := webhookFailureResponse(err, result)
		return c.Status(status).JSON(body)
	}

	resp := fiber.Map{"ok": true}
	if result.Duplicate {
		resp["duplicate"] = true
	}
	if result.Ignored {
		resp["ignored"] = true
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}

// webhookFailureResponse maps an ingest failure to the 400 the provider
// treats as "redeliver later". Signature and payload rejections never touched
// the database; a dispatch failure left a ledger row without a clean
// processed mark, so the redelivery dispatches again.
func webhookFailureResponse(err error, result *billing.IngestResult) (int, fiber.Map) {
	if errors.Is(err, billing.ErrInvalidSignature) {
		return fiber.StatusBadRequest, fiber.Map{"error": "invalid_signature"}
	}
	if result == nil {
		return fiber.StatusBadRequest, fiber.Map{"error": "invalid_payload"}
	}
	return fiber.StatusBadRequest, fiber.Map{"error": "event_processing_failed"}
}

func buildIngestor(webhookSecret string) *billing.Ingestor {
	repos := repository.GetGlobalRepositories()

	community := discord.NewClientFromEnv()
	actuator := rolesync.NewActuator(community, repos.RoleSync)
	syncer := rolesync.NewSyncer(repos.Application, repos.Customer, repos.Subscription, actuator, env.GetEnv("DISCORD_ROLE_ID", ""))

	svc := billing.NewService(repos.Customer, repos.Subscription, repos.WebhookEvent)
	return billing.NewIngestor(svc, repos.Customer, billing.NewStripeClientFromEnv(), syncer, webhookSecret)
}
