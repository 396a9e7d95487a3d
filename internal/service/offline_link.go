package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"expedite-backend/internal/domain"
	"expedite-backend/internal/logger"
	"expedite-backend/internal/repository"
	"expedite-backend/internal/utils"

	"github.com/jaevor/go-nanoid"
)

const offlineTokenLength = 21

type offlineLinkService struct {
	links    repository.OfflinePaymentLinkRepository
	cases    repository.CaseRepository
	ttl      time.Duration
	newToken func() string
	now      func() time.Time
}

func NewOfflineLinkService(links repository.OfflinePaymentLinkRepository, cases repository.CaseRepository, ttl time.Duration) (OfflineLinkService, error) {
	gen, err := nanoid.Standard(offlineTokenLength)
	if err != nil {
		return nil, fmt.Errorf("offline link token generator: %w", err)
	}
	return &offlineLinkService{links: links, cases: cases, ttl: ttl, newToken: gen, now: time.Now}, nil
}

// CreateLink issues a link for an amount. caseNo binds it to one case; empty
// means it can settle any new case.
func (s *offlineLinkService) CreateLink(ctx context.Context, caseNo string, amount float64) (*domain.OfflinePaymentLink, error) {
	logger.EnterMethod("offlineLinkService.CreateLink", "case_no", caseNo, "amount", amount)

	amount = utils.Round2(amount)
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", domain.ErrValidation)
	}
	caseNo = strings.TrimSpace(caseNo)
	if caseNo != "" {
		c, err := s.cases.GetByCaseNo(ctx, caseNo)
		if err != nil {
			return nil, err
		}
		if c.IsPaid() {
			return nil, fmt.Errorf("%w: %s", domain.ErrCaseAlreadyPaid, caseNo)
		}
	}

	now := s.now()
	link := &domain.OfflinePaymentLink{
		Token:     s.newToken(),
		CaseNo:    caseNo,
		Amount:    amount,
		IsActive:  true,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}
	if err := s.links.Create(ctx, link); err != nil {
		logger.ExitMethodWithError("offlineLinkService.CreateLink", err)
		return nil, err
	}
	logger.ExitMethod("offlineLinkService.CreateLink")
	return link, nil
}

func (s *offlineLinkService) GetLink(ctx context.Context, token string) (*domain.OfflinePaymentLink, error) {
	return s.links.GetByToken(ctx, token)
}
