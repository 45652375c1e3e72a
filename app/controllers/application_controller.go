package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/guildworks/membergate/app/models"
	"github.com/guildworks/membergate/app/repository"
	"github.com/guildworks/membergate/internal/pkg/discord"
	"github.com/guildworks/membergate/internal/pkg/env"
	"github.com/guildworks/membergate/internal/pkg/rolesync"
)

type applicationSubmitRequest struct {
	DiscordUserID   string          `json:"discord_user_id"`
	DiscordUsername string          `json:"discord_username"`
	Answers         json.RawMessage `json:"answers"`
}

type applicationResponse struct {
	UUID       string     `json:"uuid"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	ReviewedAt *time.Time `json:"reviewed_at,omitempty"`
}

// HandleApplicationSubmit accepts a new membership application. One active
// application per Discord identity: a resubmission while a record exists is
// answered with 409 and the existing application's public id.
func HandleApplicationSubmit(c *fiber.Ctx) error {
	var req applicationSubmitRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request_body"})
	}

	app := &models.Application{
		DiscordUserID:   strings.TrimSpace(req.DiscordUserID),
		DiscordUsername: strings.TrimSpace(req.DiscordUsername),
		AnswersJSON:     string(req.Answers),
		Status:          models.ApplicationStatusPending,
	}
	if err := app.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_failed", "message": err.Error()})
	}

	repo := applicationRepo()
	if existing, err := repo.GetByDiscordUserID(app.DiscordUserID); err == nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "application_exists",
			"uuid":  existing.UUID,
		})
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "application_lookup_failed"})
	}

	if err := repo.Create(app); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "application_create_failed"})
	}

	return c.Status(fiber.StatusCreated).JSON(toApplicationResponse(app))
}

// HandleApplicationStatus returns the public view of one application.
func HandleApplicationStatus(c *fiber.Ctx) error {
	uuid := strings.TrimSpace(c.Params("uuid"))
	if uuid == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing_uuid"})
	}

	app, err := applicationRepo().GetByUUID(uuid)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "application_not_found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "application_lookup_failed"})
	}

	return c.Status(fiber.StatusOK).JSON(toApplicationResponse(app))
}

// HandleApplicationApprove marks the application approved and immediately
// re-evaluates the member role so an already-paying applicant gets it without
// waiting for the next provider event.
func HandleApplicationApprove(c *fiber.Ctx) error {
	return reviewApplication(c, models.ApplicationStatusApproved, true)
}

func HandleApplicationReject(c *fiber.Ctx) error {
	return reviewApplication(c, models.ApplicationStatusRejected, true)
}

func HandleApplicationWaitlist(c *fiber.Ctx) error {
	return reviewApplication(c, models.ApplicationStatusWaitlisted, true)
}

// HandleApplicationReopen resets a reviewed application to pending. The role
// re-evaluation removes a role that only the dropped approval justified.
func HandleApplicationReopen(c *fiber.Ctx) error {
	app, ok := applicationFromParams(c)
	if !ok {
		return nil
	}

	if err := applicationRepo().Reopen(app.ID); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "application_update_failed"})
	}
	app.Status = models.ApplicationStatusPending

	syncRoleAfterReview(app.DiscordUserID)
	return c.Status(fiber.StatusOK).JSON(toApplicationResponse(app))
}

func reviewApplication(c *fiber.Ctx, status string, syncRole bool) error {
	app, ok := applicationFromParams(c)
	if !ok {
		return nil
	}

	reviewerID := strings.TrimSpace(c.Get("X-Reviewer-ID"))
	if err := applicationRepo().SetStatus(app.ID, status, reviewerID); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "application_update_failed"})
	}
	app.Status = status

	if syncRole {
		syncRoleAfterReview(app.DiscordUserID)
	}
	return c.Status(fiber.StatusOK).JSON(toApplicationResponse(app))
}

// applicationFromParams resolves :id and writes the error response itself
// when the lookup fails; ok reports whether the caller may proceed.
func applicationFromParams(c *fiber.Ctx) (*models.Application, bool) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil || id == 0 {
		_ = c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_application_id"})
		return nil, false
	}

	app, err := applicationRepo().GetByID(uint(id))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			_ = c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "application_not_found"})
		} else {
			_ = c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "application_lookup_failed"})
		}
		return nil, false
	}
	return app, true
}

// syncRoleAfterReview converges the member role after a review decision.
// Failures are logged and audited only: the review itself already succeeded
// and the reconciliation pass will converge the role later.
func syncRoleAfterReview(discordUserID string) {
	roleID := strings.TrimSpace(env.GetEnv("DISCORD_ROLE_ID", ""))
	if roleID == "" {
		return
	}

	repos := repository.GetGlobalRepositories()
	community := discord.NewClientFromEnv()
	actuator := rolesync.NewActuator(community, repos.RoleSync)
	syncer := rolesync.NewSyncer(repos.Application, repos.Customer, repos.Subscription, actuator, roleID)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := syncer.SyncIdentity(ctx, discordUserID); err != nil {
		log.Warnf("[Applications] role sync after review for %s failed: %v", discordUserID, err)
	}
}

func applicationRepo() repository.ApplicationRepository {
	repos := repository.GetGlobalRepositories()
	return repos.Application
}

func toApplicationResponse(app *models.Application) applicationResponse {
	return applicationResponse{
		UUID:       app.UUID,
		Status:     app.Status,
		CreatedAt:  app.CreatedAt,
		ReviewedAt: app.ReviewedAt,
	}
}
