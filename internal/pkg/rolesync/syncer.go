package rolesync

import (
	"context"
	"errors"
	"time"

	"github.com/guildworks/membergate/app/repository"
	"gorm.io/gorm"
)

// RoleEnsurer is the actuator surface consumed by the components that only
// need to converge a role.
type RoleEnsurer interface {
	EnsureRole(ctx context.Context, discordUserID, roleID string, desired bool) (Outcome, error)
}

// Syncer recomputes the desired role state for one identity from its latest
// application and subscription and pushes it through the actuator. Webhook
// handling and application review share this so the decision policy has one
// call path.
type Syncer struct {
	apps      repository.ApplicationRepository
	customers repository.CustomerRepository
	subs      repository.SubscriptionRepository
	actuator  RoleEnsurer
	roleID    string
	now       func() time.Time
}

func NewSyncer(
	apps repository.ApplicationRepository,
	customers repository.CustomerRepository,
	subs repository.SubscriptionRepository,
	actuator RoleEnsurer,
	roleID string,
) *Syncer {
	return &Syncer{
		apps:      apps,
		customers: customers,
		subs:      subs,
		actuator:  actuator,
		roleID:    roleID,
		now:       time.Now,
	}
}

// WithNow overrides the clock. Used by tests.
func (s *Syncer) WithNow(now func() time.Time) *Syncer {
	s.now = now
	return s
}

// SyncIdentity loads the identity's latest application + subscription pair,
// evaluates DesiredRoleState and converges the role.
func (s *Syncer) SyncIdentity(ctx context.Context, discordUserID string) (Outcome, error) {
	if s.roleID == "" {
		return OutcomeFailed, errors.New("member role id is not configured")
	}

	appStatus := ""
	if app, err := s.apps.GetByDiscordUserID(discordUserID); err == nil {
		appStatus = app.Status
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return OutcomeFailed, err
	}

	subStatus := ""
	var periodEnd *time.Time
	if customer, err := s.customers.GetByDiscordUserID(discordUserID); err == nil {
		sub, err := s.subs.GetLatestByCustomerID(customer.ID)
		if err == nil {
			subStatus = sub.Status
			periodEnd = sub.CurrentPeriodEnd
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return OutcomeFailed, err
		}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return OutcomeFailed, err
	}

	desired := DesiredRoleState(appStatus, subStatus, periodEnd, s.now())
	return s.actuator.EnsureRole(ctx, discordUserID, s.roleID, desired)
}

// RevokeIdentity unconditionally removes the role, bypassing the decision
// policy. Used when the billing provider reports the subscription deleted.
func (s *Syncer) RevokeIdentity(ctx context.Context, discordUserID string) (Outcome, error) {
	if s.roleID == "" {
		return OutcomeFailed, errors.New("member role id is not configured")
	}
	return s.actuator.EnsureRole(ctx, discordUserID, s.roleID, false)
}
