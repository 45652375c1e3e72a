package router

import (
	"github.com/guildworks/membergate/app/controllers"
	"github.com/guildworks/membergate/internal/pkg/middleware"
	"github.com/guildworks/membergate/internal/pkg/session"

	"github.com/gofiber/fiber/v2"
)

type HttpRouter struct {
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// init session (join-flow state is pinned to it)
	session.NewSessionStore()

	// billing provider deliveries
	app.Post("/webhooks/stripe", controllers.HandleStripeWebhook)

	// guild join flow
	app.Get("/join/discord", controllers.HandleJoinDiscord)
	app.Get("/join/discord/callback", controllers.HandleJoinDiscordCallback)

	// operator endpoints behind the shared bearer secret
	internal := app.Group("/internal", middleware.InternalAuthMiddleware())
	internal.Get("/reconcile", controllers.HandleReconcile)
	internal.Post("/applications/:id/approve", controllers.HandleApplicationApprove)
	internal.Post("/applications/:id/reject", controllers.HandleApplicationReject)
	internal.Post("/applications/:id/waitlist", controllers.HandleApplicationWaitlist)
	internal.Post("/applications/:id/reopen", controllers.HandleApplicationReopen)
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}
