package service

import (
	"context"
	"testing"

	"expedite-backend/internal/domain"
	"expedite-backend/internal/repository/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusLookup(t *testing.T) {
	store := memory.NewStore()
	lookup := NewStatusLookup(store.Statuses)
	ctx := context.Background()

	ids, err := lookup.IDs(ctx, domain.StatusKeyNew, domain.StatusKeyFailedCharge)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"new": "st-new", "failed-charge": "st-failed-charge"}, ids)

	_, err = lookup.ID(ctx, "on-hold")
	assert.ErrorIs(t, err, domain.ErrStatusKeyMissing)
}

func TestManagerAssigner(t *testing.T) {
	store := memory.NewStore()
	assigner := NewManagerAssigner(store.CaseManagers)
	assert.Nil(t, assigner.Assign(context.Background()))

	store.PutCaseManager(domain.CaseManager{ID: "mgr-2", Name: "Ravi"})
	store.PutCaseManager(domain.CaseManager{ID: "mgr-1", Name: "Dana"})
	m := assigner.Assign(context.Background())
	require.NotNil(t, m)
	assert.Equal(t, "mgr-1", m.ID)
}

func TestConsularFees(t *testing.T) {
	store := memory.NewStore()
	store.PutConsularFee("type-pp", "GB", 45)
	fees := NewConsularFees(store.Catalog)

	assert.Equal(t, 45.0, fees.Lookup(context.Background(), "type-pp", "GB"))
	assert.Zero(t, fees.Lookup(context.Background(), "type-pp", "FR"))
}

func TestDuplicateDetector(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	a := domain.Applicant{FirstName: "Maya", LastName: "Lindqvist", DateOfBirth: "1990-07-21"}
	first := &domain.Case{Applicant: a}
	second := &domain.Case{Applicant: a}
	require.NoError(t, store.Cases.Create(ctx, first))
	require.NoError(t, store.Cases.Create(ctx, second))

	dups := NewDuplicateDetector(store.Cases).Detect(ctx, second)
	assert.Equal(t, []string{first.ID}, dups)
}
