package rolesync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/guildworks/membergate/app/models"
	"github.com/guildworks/membergate/app/repository"
	"github.com/guildworks/membergate/internal/pkg/discord"
)

// Outcome is the terminal result of an EnsureRole call.
type Outcome string

const (
	OutcomeAssigned Outcome = "assigned"
	OutcomeRemoved  Outcome = "removed"
	OutcomeNoop     Outcome = "noop"
	OutcomeFailed   Outcome = "failed"
)

// ErrMemberNotJoined reports that the identity has not joined the guild yet.
// It is surfaced distinctly so callers redirect the user to the join flow
// instead of retrying.
var ErrMemberNotJoined = errors.New("identity has not joined the community guild")

// CommunityClient is the slice of the Discord client the actuator needs.
type CommunityClient interface {
	MemberHasRole(ctx context.Context, userID, roleID string) (bool, error)
	AddMemberRole(ctx context.Context, userID, roleID string) error
	RemoveMemberRole(ctx context.Context, userID, roleID string) error
}

// Actuator converges an identity's role on the community platform toward the
// desired state. Grant and revoke are idempotent: "already in desired state"
// is success, both here and at the provider boundary. Every terminal mutation
// outcome is written to the RoleSyncEvent audit log.
type Actuator struct {
	community CommunityClient
	audit     repository.RoleSyncEventRepository
	policy    RetryPolicy
	sleep     func(time.Duration)
}

// NewActuator creates an actuator with the default retry policy.
func NewActuator(community CommunityClient, audit repository.RoleSyncEventRepository) *Actuator {
	return &Actuator{
		community: community,
		audit:     audit,
		policy:    DefaultRetryPolicy(),
		sleep:     time.Sleep,
	}
}

// WithPolicy overrides the retry policy and sleep function. Used by tests to
// verify timing without real sleeps.
func (a *Actuator) WithPolicy(policy RetryPolicy, sleep func(time.Duration)) *Actuator {
	a.policy = policy
	if sleep != nil {
		a.sleep = sleep
	}
	return a
}

// EnsureRole makes the member's role match desired. It returns OutcomeNoop
// when nothing had to change, and ErrMemberNotJoined (unretried, audited)
// when a grant is impossible because the identity never joined the guild.
func (a *Actuator) EnsureRole(ctx context.Context, discordUserID, roleID string, desired bool) (Outcome, error) {
	if discordUserID == "" || roleID == "" {
		return OutcomeFailed, errors.New("discord user id and role id are required")
	}

	has, err := a.community.MemberHasRole(ctx, discordUserID, roleID)
	if err != nil {
		if errors.Is(err, discord.ErrMemberNotFound) {
			if !desired {
				// Nothing to revoke from someone who never joined.
				return OutcomeNoop, nil
			}
			a.record(discordUserID, roleID, models.RoleSyncActionAssign, false, ErrMemberNotJoined.Error())
			return OutcomeFailed, ErrMemberNotJoined
		}
		return OutcomeFailed, fmt.Errorf("role state lookup failed: %w", err)
	}

	if has == desired {
		return OutcomeNoop, nil
	}

	action := models.RoleSyncActionAssign
	mutate := a.community.AddMemberRole
	outcome := OutcomeAssigned
	if !desired {
		action = models.RoleSyncActionRemove
		mutate = a.community.RemoveMemberRole
		outcome = OutcomeRemoved
	}

	err = a.policy.Do(ctx, a.sleep, func() error {
		return mutate(ctx, discordUserID, roleID)
	})
	if err != nil {
		if errors.Is(err, discord.ErrMemberNotFound) {
			err = ErrMemberNotJoined
		}
		a.record(discordUserID, roleID, action, false, err.Error())
		return OutcomeFailed, err
	}

	a.record(discordUserID, roleID, action, true, "")
	return outcome, nil
}

func (a *Actuator) record(discordUserID, roleID, action string, success bool, detail string) {
	if a.audit == nil {
		return
	}
	// Audit writes are best-effort; a failed insert must not mask the role
	// mutation result.
	_ = a.audit.Create(&models.RoleSyncEvent{
		DiscordUserID: discordUserID,
		RoleID:        roleID,
		Action:        action,
		Success:       success,
		ErrorDetail:   detail,
	})
}
