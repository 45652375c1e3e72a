package controllers

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/guildworks/membergate/app/repository"
	"github.com/guildworks/membergate/internal/pkg/cache"
	"github.com/guildworks/membergate/internal/pkg/discord"
	"github.com/guildworks/membergate/internal/pkg/env"
	"github.com/guildworks/membergate/internal/pkg/joinflow"
	"github.com/guildworks/membergate/internal/pkg/rolesync"
	"github.com/guildworks/membergate/internal/pkg/security"
	"github.com/guildworks/membergate/internal/pkg/session"
)

const (
	joinStateSessionKey = "join_oauth_state"
	joinStateTTL        = 10 * time.Minute
	joinNonceCachePfx   = "membergate:join:nonce:"
)

// HandleJoinDiscord starts the guild-join OAuth flow. The state parameter is
// an HMAC-signed, time-bound token whose nonce is additionally pinned to the
// browser session and marked single-use in the cache.
func HandleJoinDiscord(c *fiber.Ctx) error {
	secret := env.GetEnv("JOIN_STATE_SECRET", "")
	if secret == "" {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "join_flow_not_configured"})
	}

	nonce, err := generateJoinNonce(24)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "state_generation_failed"})
	}

	token, err := security.GenerateJoinStateToken(nonce, joinStateTTL, secret)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "state_generation_failed"})
	}

	if err := session.SetSessionValue(c, joinStateSessionKey, nonce); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "session_unavailable"})
	}

	if err := cache.Set(joinNonceCachePfx+nonce, "1", joinStateTTL); err != nil {
		log.Warnf("[JoinFlow] nonce cache write failed: %v", err)
	}

	client := discord.NewClientFromEnv()
	url, err := client.AuthorizeURLWithState(token)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "oauth_not_configured"})
	}

	return c.Redirect(url, fiber.StatusSeeOther)
}

// HandleJoinDiscordCallback completes the flow: state verification first
// (signature, expiry, session match, single use), then code exchange,
// eligibility gate, and the guild join itself.
func HandleJoinDiscordCallback(c *fiber.Ctx) error {
	if oauthErr := strings.TrimSpace(c.Query("error")); oauthErr != "" {
		return redirectJoinResult(c, false, "oauth_denied")
	}

	secret := env.GetEnv("JOIN_STATE_SECRET", "")
	claims, err := security.VerifyJoinStateToken(strings.TrimSpace(c.Query("state")), secret)
	if err != nil {
		return redirectJoinResult(c, false, "invalid_state")
	}

	expectedNonce := session.GetSessionValue(c, joinStateSessionKey)
	_ = session.DeleteSessionValue(c, joinStateSessionKey)
	if expectedNonce == "" || claims.Nonce != expectedNonce {
		return redirectJoinResult(c, false, "invalid_state")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
	defer cancel()

	// Single use: the nonce must still be in the cache, and claiming it
	// removes it so a replayed callback cannot pass again.
	if !consumeJoinNonce(claims.Nonce) {
		return redirectJoinResult(c, false, "invalid_state")
	}

	code := strings.TrimSpace(c.Query("code"))
	if code == "" {
		return redirectJoinResult(c, false, "missing_code")
	}

	client := discord.NewClientFromEnv()
	token, err := client.ExchangeCode(ctx, code)
	if err != nil {
		return redirectJoinResult(c, false, "oauth_exchange_failed")
	}

	identity, err := client.GetIdentity(ctx, token.AccessToken)
	if err != nil {
		return redirectJoinResult(c, false, "identity_lookup_failed")
	}

	svc := buildJoinService(client)
	eligibility, err := svc.CheckEligibility(ctx, identity.UserID)
	if err != nil {
		return redirectJoinResult(c, false, "eligibility_check_failed")
	}
	if !eligibility.Eligible {
		return redirectJoinResult(c, false, eligibility.Reason)
	}

	if _, err := svc.Claim(ctx, identity.UserID, token.AccessToken); err != nil {
		return redirectJoinResult(c, false, "guild_join_failed")
	}

	return redirectJoinResult(c, true, "")
}

func buildJoinService(client *discord.Client) *joinflow.Service {
	repos := repository.GetGlobalRepositories()

	actuator := rolesync.NewActuator(client, repos.RoleSync)
	return joinflow.NewService(repos.Application, repos.Customer, repos.Subscription, client, actuator, env.GetEnv("DISCORD_ROLE_ID", ""))
}

func redirectJoinResult(c *fiber.Ctx, joined bool, reason string) error {
	target := strings.TrimSpace(env.GetEnv("JOIN_RESULT_URL", "/"))
	sep := "?"
	if strings.Contains(target, "?") {
		sep = "&"
	}
	if joined {
		return c.Redirect(target+sep+"joined=1", fiber.StatusSeeOther)
	}
	return c.Redirect(target+sep+"joined=0&error="+reason, fiber.StatusSeeOther)
}

func consumeJoinNonce(nonce string) bool {
	key := joinNonceCachePfx + nonce
	val, err := cache.Get(key)
	if err != nil || val == "" {
		return false
	}
	if err := cache.Delete(key); err != nil {
		log.Warnf("[JoinFlow] nonce delete failed: %v", err)
	}
	return true
}

func generateJoinNonce(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
