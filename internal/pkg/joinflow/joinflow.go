package joinflow

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/guildworks/membergate/app/repository"
	"github.com/guildworks/membergate/internal/pkg/rolesync"
)

// Ineligibility reason codes surfaced to the join flow's redirect target.
const (
	ReasonNotApproved    = "not_approved"
	ReasonNoCustomer     = "no_customer"
	ReasonNoSubscription = "no_subscription"
	ReasonNotCurrent     = "not_current"
)

// GuildJoiner is the slice of the Discord client the join flow needs.
type GuildJoiner interface {
	AddGuildMember(ctx context.Context, userID, accessToken string, roleIDs []string) (bool, error)
}

// Eligibility is the join-flow gate decision for one identity.
type Eligibility struct {
	Eligible bool
	Reason   string
}

// Service gates guild entry on an approved application plus a current
// subscription, then adds the member with the role attached. The actuator
// fallback after the join covers the case where the provider ignores the
// roles field on an already-present member.
type Service struct {
	apps      repository.ApplicationRepository
	customers repository.CustomerRepository
	subs      repository.SubscriptionRepository
	guild     GuildJoiner
	actuator  rolesync.RoleEnsurer
	roleID    string
	now       func() time.Time
}

func NewService(
	apps repository.ApplicationRepository,
	customers repository.CustomerRepository,
	subs repository.SubscriptionRepository,
	guild GuildJoiner,
	actuator rolesync.RoleEnsurer,
	roleID string,
) *Service {
	return &Service{
		apps:      apps,
		customers: customers,
		subs:      subs,
		guild:     guild,
		actuator:  actuator,
		roleID:    roleID,
		now:       time.Now,
	}
}

// WithNow overrides the clock. Used by tests.
func (s *Service) WithNow(now func() time.Time) *Service {
	s.now = now
	return s
}

// CheckEligibility evaluates whether the identity may enter the guild. The
// checks run in a fixed order so the returned reason names the first missing
// prerequisite, which the redirect target shows to the user.
func (s *Service) CheckEligibility(ctx context.Context, discordUserID string) (*Eligibility, error) {
	_ = ctx

	app, err := s.apps.GetByDiscordUserID(discordUserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &Eligibility{Reason: ReasonNotApproved}, nil
		}
		return nil, err
	}
	if !app.IsApproved() {
		return &Eligibility{Reason: ReasonNotApproved}, nil
	}

	customer, err := s.customers.GetByDiscordUserID(discordUserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &Eligibility{Reason: ReasonNoCustomer}, nil
		}
		return nil, err
	}

	sub, err := s.subs.GetLatestByCustomerID(customer.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &Eligibility{Reason: ReasonNoSubscription}, nil
		}
		return nil, err
	}

	if !rolesync.DesiredRoleState(app.Status, sub.Status, sub.CurrentPeriodEnd, s.now()) {
		return &Eligibility{Reason: ReasonNotCurrent}, nil
	}

	return &Eligibility{Eligible: true}, nil
}

// Claim adds the identity to the guild with the member role attached, then
// independently converges the role through the actuator. The fallback runs
// even when the join reports success: a member who was already present gets
// no role from the join call itself.
func (s *Service) Claim(ctx context.Context, discordUserID, accessToken string) (created bool, err error) {
	if s.roleID == "" {
		return false, errors.New("member role id is not configured")
	}

	created, err = s.guild.AddGuildMember(ctx, discordUserID, accessToken, []string{s.roleID})
	if err != nil {
		return false, err
	}

	if _, syncErr := s.actuator.EnsureRole(ctx, discordUserID, s.roleID, true); syncErr != nil {
		// The member is in the guild; only the role grant failed. Audited by
		// the actuator and picked up by the next reconciliation pass.
		log.Warnf("[JoinFlow] role grant after join for %s failed: %v", discordUserID, syncErr)
	}
	return created, nil
}

// ApplicationStatus is a convenience lookup used by the join landing page.
func (s *Service) ApplicationStatus(discordUserID string) (string, error) {
	app, err := s.apps.GetByDiscordUserID(discordUserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", err
	}
	return app.Status, nil
}
