package service

import (
	"context"
	"testing"
	"time"

	"expedite-backend/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newLinkService(t *testing.T, f *fixture) OfflineLinkService {
	t.Helper()
	svc, err := NewOfflineLinkService(f.store.OfflineLinks, f.store.Cases, 72*time.Hour)
	require.NoError(t, err)
	svc.(*offlineLinkService).now = func() time.Time { return testNow }
	return svc
}

func TestOfflineLinkService_CreateLink(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := newLinkService(t, f)

	link, err := svc.CreateLink(ctx, "", 133.899)
	require.NoError(t, err)
	assert.Len(t, link.Token, offlineTokenLength)
	assert.Equal(t, 133.90, link.Amount)
	assert.True(t, link.IsActive)
	assert.Equal(t, testNow.Add(72*time.Hour), link.ExpiresAt)

	got, err := svc.GetLink(ctx, link.Token)
	require.NoError(t, err)
	assert.Equal(t, link.Amount, got.Amount)

	other, err := svc.CreateLink(ctx, "", 10)
	require.NoError(t, err)
	assert.NotEqual(t, link.Token, other.Token)
}

func TestOfflineLinkService_CreateLinkErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := newLinkService(t, f)

	_, err := svc.CreateLink(ctx, "", 0)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.CreateLink(ctx, "EXP-9999999", 50)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	f.gw.On("Execute", mock.Anything, mock.Anything).Return(approved("gw-1"), nil).Once()
	res, err := f.cases.CreateCase(ctx, caseRequest())
	require.NoError(t, err)
	_, err = svc.CreateLink(ctx, res.Case.CaseNo, 50)
	assert.ErrorIs(t, err, domain.ErrCaseAlreadyPaid)
}

func TestOfflineLink_BoundToAnotherCase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := newLinkService(t, f)

	link, err := svc.CreateLink(ctx, "", 133.90)
	require.NoError(t, err)
	link.CaseNo = "EXP-0000001"
	require.NoError(t, f.store.OfflineLinks.Create(ctx, link))

	req := caseRequest()
	req.Card = domain.Card{}
	req.OfflineLinkToken = link.Token
	_, err = f.cases.CreateCase(ctx, req)
	assert.ErrorIs(t, err, domain.ErrOfflineLinkInvalid)

	req.OfflineLinkToken = "unknown"
	_, err = f.cases.CreateCase(ctx, req)
	assert.ErrorIs(t, err, domain.ErrOfflineLinkInvalid)
}
