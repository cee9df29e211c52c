// Package user implements the payout profile operations behind the admin API.
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/shopspring/decimal"

	"github.com/Proton-105/hashpay/internal/activity"
	"github.com/Proton-105/hashpay/internal/domain"
	apperrors "github.com/Proton-105/hashpay/internal/errors"
	"github.com/Proton-105/hashpay/internal/gateway"
	"github.com/Proton-105/hashpay/internal/ledger"
	"github.com/Proton-105/hashpay/internal/repository"
	"github.com/Proton-105/hashpay/internal/usercache"
)

// Bounds limits user-chosen thresholds.
type Bounds struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

// UpdatePayoutRequest is a partial payout settings update in wire form.
// Nil fields are left unchanged; an empty address clears it.
type UpdatePayoutRequest struct {
	PayoutAddress      *string `json:"payout_address"`
	PayoutThreshold    *string `json:"payout_threshold"`
	SecondaryAddress   *string `json:"secondary_address"`
	SecondaryThreshold *string `json:"secondary_threshold"`
}

// Service provides profile operations over users.
type Service struct {
	users    repository.UserRepository
	payouts  repository.PayoutRepository
	ledger   ledger.Ledger
	gateway  gateway.Gateway
	activity *activity.Log
	cache    *usercache.Cache
	params   *chaincfg.Params
	bounds   atomic.Pointer[Bounds]
	log      *slog.Logger
}

func NewService(
	users repository.UserRepository,
	payouts repository.PayoutRepository,
	l ledger.Ledger,
	gw gateway.Gateway,
	activityLog *activity.Log,
	cache *usercache.Cache,
	params *chaincfg.Params,
	bounds Bounds,
	log *slog.Logger,
) *Service {
	if log == nil {
		log = slog.Default()
	}
	if params == nil {
		params = &chaincfg.MainNetParams
	}

	s := &Service{
		users:    users,
		payouts:  payouts,
		ledger:   l,
		gateway:  gw,
		activity: activityLog,
		cache:    cache,
		params:   params,
		log:      log,
	}
	s.bounds.Store(&bounds)
	return s
}

// SetBounds replaces the threshold limits for later updates.
func (s *Service) SetBounds(b Bounds) {
	s.bounds.Store(&b)
}

// Get returns the profile with live balances.
func (s *Service) Get(ctx context.Context, id string) (*domain.User, error) {
	u, err := s.profile(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.fillBalances(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// UpdatePayout validates and applies req. Nothing is written when any field
// is invalid.
func (s *Service) UpdatePayout(ctx context.Context, id string, req UpdatePayoutRequest) (*domain.User, error) {
	settings, err := s.validate(req)
	if err != nil {
		return nil, err
	}
	if settings.Empty() {
		return nil, apperrors.NewValidationError("no payout settings supplied")
	}

	if _, err := s.profile(ctx, id); err != nil {
		return nil, err
	}

	u, err := s.users.UpdatePayoutSettings(ctx, id, settings)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, apperrors.NewNotFoundError("user", id)
		}
		s.logError("update_payout", id, err)
		return nil, apperrors.NewDatabaseError(err)
	}

	if err := s.cache.Invalidate(ctx, id); err != nil {
		s.log.WarnContext(ctx, "failed to invalidate user cache", slog.String("user_id", id), slog.Any("error", err))
	}

	if s.activity != nil {
		_ = s.activity.Success(ctx, id, "Payout settings updated")
	}
	s.log.InfoContext(ctx, "payout settings updated", slog.String("user_id", id))

	if err := s.fillBalances(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Activity lists the newest activity entries of an existing user.
func (s *Service) Activity(ctx context.Context, id string, limit int) ([]*domain.ActivityLogEntry, error) {
	if _, err := s.profile(ctx, id); err != nil {
		return nil, err
	}

	entries, err := s.activity.Recent(ctx, id, limit)
	if err != nil {
		s.logError("activity", id, err)
		return nil, apperrors.NewDatabaseError(err)
	}
	return entries, nil
}

// Payouts lists the newest payout records of an existing user.
func (s *Service) Payouts(ctx context.Context, id string, limit int) ([]*domain.PayoutRecord, error) {
	if _, err := s.profile(ctx, id); err != nil {
		return nil, err
	}

	records, err := s.payouts.ListByUser(ctx, id, limit)
	if err != nil {
		s.logError("payouts", id, err)
		return nil, apperrors.NewDatabaseError(err)
	}
	return records, nil
}

// Price returns the exchange quote for ticker; it fails only on an unknown
// currency.
func (s *Service) Price(ctx context.Context, ticker string) (domain.Currency, float64, error) {
	currency, err := domain.ParseCurrency(ticker)
	if err != nil {
		return "", 0, apperrors.NewValidationError(err.Error())
	}
	return currency, s.gateway.CurrentPrice(ctx, currency), nil
}

func (s *Service) profile(ctx context.Context, id string) (*domain.User, error) {
	if cached, err := s.cache.Get(ctx, id); err != nil {
		s.log.WarnContext(ctx, "user cache read failed", slog.String("user_id", id), slog.Any("error", err))
	} else if cached != nil {
		return cached, nil
	}

	u, err := s.users.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, apperrors.NewNotFoundError("user", id)
		}
		s.logError("get", id, err)
		return nil, apperrors.NewDatabaseError(err)
	}

	if err := s.cache.Set(ctx, u); err != nil {
		s.log.WarnContext(ctx, "user cache write failed", slog.String("user_id", id), slog.Any("error", err))
	}
	return u, nil
}

func (s *Service) fillBalances(ctx context.Context, u *domain.User) error {
	for _, currency := range domain.Currencies() {
		balance, err := s.ledger.Balance(ctx, u.ID, currency)
		if err != nil {
			s.logError("balance", u.ID, err)
			return apperrors.NewDatabaseError(fmt.Errorf("read %s balance: %w", currency, err))
		}
		if currency == domain.SecondaryCurrency {
			u.SecondaryBalance = balance
		} else {
			u.Balance = balance
		}
	}
	return nil
}

func (s *Service) validate(req UpdatePayoutRequest) (domain.PayoutSettings, error) {
	var settings domain.PayoutSettings
	bounds := *s.bounds.Load()

	address := func(currency domain.Currency, raw *string) (*string, error) {
		if raw == nil {
			return nil, nil
		}
		v := strings.TrimSpace(*raw)
		if v == "" {
			return &v, nil
		}
		if err := ValidateAddress(currency, v, s.params); err != nil {
			return nil, apperrors.NewValidationError(fmt.Sprintf("%s address: %v", currency, err))
		}
		return &v, nil
	}

	threshold := func(currency domain.Currency, raw *string) (*decimal.Decimal, error) {
		if raw == nil {
			return nil, nil
		}
		v, err := decimal.NewFromString(strings.TrimSpace(*raw))
		if err != nil {
			return nil, apperrors.NewValidationError(fmt.Sprintf("%s threshold is not a number", currency))
		}
		if v.LessThan(bounds.Min) || v.GreaterThan(bounds.Max) {
			return nil, apperrors.NewValidationError(fmt.Sprintf("%s threshold must be between %s and %s", currency, bounds.Min, bounds.Max))
		}
		v = domain.RoundAmount(v)
		return &v, nil
	}

	var err error
	if settings.PayoutAddress, err = address(domain.PrimaryCurrency, req.PayoutAddress); err != nil {
		return settings, err
	}
	if settings.SecondaryAddress, err = address(domain.SecondaryCurrency, req.SecondaryAddress); err != nil {
		return settings, err
	}
	if settings.PayoutThreshold, err = threshold(domain.PrimaryCurrency, req.PayoutThreshold); err != nil {
		return settings, err
	}
	if settings.SecondaryThreshold, err = threshold(domain.SecondaryCurrency, req.SecondaryThreshold); err != nil {
		return settings, err
	}

	return settings, nil
}

func (s *Service) logError(operation, userID string, err error) {
	s.log.Error("user service error",
		slog.String("operation", operation),
		slog.String("user_id", userID),
		slog.Any("error", err),
	)
}
