// Package memory is an in-process implementation of the repository interfaces.
// It backs local development runs and service tests. Transactions run one at a
// time: WithTx snapshots the whole dataset and restores it when the callback
// fails.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"expedite-backend/internal/domain"
	"expedite-backend/internal/repository"

	"github.com/google/uuid"
)

type data struct {
	accounts     map[string]domain.Account
	cases        map[string]domain.Case
	transactions map[string]domain.Transaction
	processors   map[string]domain.Processor
	weights      []domain.LoadBalancerWeight
	usage        map[string]domain.ProcessorUsage
	levels       map[string]domain.ServiceLevel
	types        map[string]domain.ServiceType
	promos       map[string]domain.PromoCode
	consular     map[string]float64
	statuses     map[string]domain.Status
	links        map[string]domain.OfflinePaymentLink
	audit        []domain.PaymentAuditEvent
	managers     map[string]domain.CaseManager
	caseSeq      int64
}

func newData() *data {
	return &data{
		accounts:     map[string]domain.Account{},
		cases:        map[string]domain.Case{},
		transactions: map[string]domain.Transaction{},
		processors:   map[string]domain.Processor{},
		usage:        map[string]domain.ProcessorUsage{},
		levels:       map[string]domain.ServiceLevel{},
		types:        map[string]domain.ServiceType{},
		promos:       map[string]domain.PromoCode{},
		consular:     map[string]float64{},
		statuses:     map[string]domain.Status{},
		links:        map[string]domain.OfflinePaymentLink{},
		managers:     map[string]domain.CaseManager{},
		caseSeq:      1000,
	}
}

func (d *data) clone() *data {
	c := &data{
		accounts:     cloneMap(d.accounts, func(a domain.Account) domain.Account { return a }),
		cases:        cloneMap(d.cases, cloneCase),
		transactions: cloneMap(d.transactions, func(t domain.Transaction) domain.Transaction { return t }),
		processors:   cloneMap(d.processors, func(p domain.Processor) domain.Processor { return p }),
		weights:      slices.Clone(d.weights),
		usage:        cloneMap(d.usage, func(u domain.ProcessorUsage) domain.ProcessorUsage { return u }),
		levels:       d.levels,
		types:        d.types,
		promos:       d.promos,
		consular:     d.consular,
		statuses:     d.statuses,
		links:        cloneMap(d.links, func(l domain.OfflinePaymentLink) domain.OfflinePaymentLink { return l }),
		audit:        slices.Clone(d.audit),
		managers:     d.managers,
		caseSeq:      d.caseSeq,
	}
	return c
}

func cloneMap[V any](m map[string]V, cp func(V) V) map[string]V {
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[k] = cp(v)
	}
	return out
}

func cloneCase(c domain.Case) domain.Case {
	c.InvoiceInformation = slices.Clone(c.InvoiceInformation)
	c.AdditionalServices = slices.Clone(c.AdditionalServices)
	c.DuplicateCaseIDs = slices.Clone(c.DuplicateCaseIDs)
	c.Notes = slices.Clone(c.Notes)
	if c.SubmissionDate != nil {
		t := *c.SubmissionDate
		c.SubmissionDate = &t
	}
	return c
}

// Store holds every repository over one shared dataset.
type Store struct {
	txMu sync.Mutex
	mu   sync.Mutex
	data *data

	Accounts     repository.AccountRepository
	Cases        repository.CaseRepository
	Transactions repository.TransactionRepository
	Processors   repository.ProcessorRepository
	LoadBalancer repository.LoadBalancerRepository
	Catalog      repository.CatalogRepository
	Statuses     repository.StatusRepository
	OfflineLinks repository.OfflinePaymentLinkRepository
	PaymentAudit repository.PaymentAuditRepository
	CaseManagers repository.CaseManagerRepository
}

func NewStore() *Store {
	s := &Store{data: newData()}
	s.Accounts = &accountRepo{s}
	s.Cases = &caseRepo{s}
	s.Transactions = &transactionRepo{s}
	s.Processors = &processorRepo{s}
	s.LoadBalancer = &loadBalancerRepo{s}
	s.Catalog = &catalogRepo{s}
	s.Statuses = &statusRepo{s}
	s.OfflineLinks = &offlineLinkRepo{s}
	s.PaymentAudit = &auditRepo{s}
	s.CaseManagers = &managerRepo{s}
	for _, key := range []string{
		domain.StatusKeyNew, domain.StatusKeyCompleteNotProcessed, domain.StatusKeyFailedCharge,
		domain.StatusKeyRefunded, domain.StatusKeyVoided, domain.StatusKeyAwaitingDocuments,
		domain.StatusKeyInactive, domain.StatusKeyExpired, domain.StatusKeyCancelled,
	} {
		s.data.statuses[key] = domain.Status{ID: "st-" + key, Key: key, Name: key}
	}
	return s
}

type txKey struct{}

// WithTx runs fn as the only transaction on the store. Calls made outside a
// transaction wait for it to finish, so restoring the snapshot on failure
// cannot discard anyone else's write.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.data.clone()
	s.mu.Unlock()

	restore := func() {
		s.mu.Lock()
		s.data = snapshot
		s.mu.Unlock()
	}
	defer func() {
		if p := recover(); p != nil {
			restore()
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		restore()
		return err
	}
	return nil
}

// lock returns the dataset with the data mutex held. Outside a transaction it
// also holds the transaction lock for the duration of the call.
func (s *Store) lock(ctx context.Context) (*data, func()) {
	if ctx.Value(txKey{}) != nil {
		s.mu.Lock()
		return s.data, s.mu.Unlock
	}
	s.txMu.Lock()
	s.mu.Lock()
	return s.data, func() {
		s.mu.Unlock()
		s.txMu.Unlock()
	}
}

// Seeding helpers for reference data that has no write path in the service.

func (s *Store) PutServiceType(t domain.ServiceType) {
	d, unlock := s.lock(context.Background())
	defer unlock()
	d.types[t.ID] = t
}

func (s *Store) PutServiceLevel(l domain.ServiceLevel) {
	d, unlock := s.lock(context.Background())
	defer unlock()
	d.levels[l.ID] = l
}

func (s *Store) PutPromoCode(p domain.PromoCode) {
	d, unlock := s.lock(context.Background())
	defer unlock()
	d.promos[strings.ToUpper(p.Code)] = p
}

func (s *Store) PutConsularFee(serviceTypeID, country string, fee float64) {
	d, unlock := s.lock(context.Background())
	defer unlock()
	d.consular[serviceTypeID+"|"+country] = fee
}

func (s *Store) PutCaseManager(m domain.CaseManager) {
	d, unlock := s.lock(context.Background())
	defer unlock()
	d.managers[m.ID] = m
}

func (s *Store) DeleteStatus(key string) {
	d, unlock := s.lock(context.Background())
	defer unlock()
	delete(d.statuses, key)
}

func notFound(what, id string) error {
	return fmt.Errorf("%s %s: %w", what, id, domain.ErrNotFound)
}

// accounts

type accountRepo struct{ s *Store }

func (r *accountRepo) Create(ctx context.Context, a *domain.Account) error {
	d, unlock := r.s.lock(ctx)
	defer unlock()
	for _, existing := range d.accounts {
		if domain.NormalizedEmail(existing.Email) == domain.NormalizedEmail(a.Email) {
			return fmt.Errorf("%w: %s", domain.ErrEmailInUse, a.Email)
		}
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.CreatedAt = time.Now().UTC()
	a.UpdatedAt = a.CreatedAt
	d.accounts[a.ID] = *a
	return nil
}

func (r *accountRepo) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	d, unlock := r.s.lock(ctx)
	defer unlock()
	a, ok := d.accounts[id]
	if !ok {
		return nil, notFound("account", id)
	}
	return &a, nil
}

func (r *accountRepo) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	d, unlock := r.s.lock(ctx)
	defer unlock()
	for _, a := range d.accounts {
		if domain.NormalizedEmail(a.Email) == domain.NormalizedEmail(email) {
			return &a, nil
		}
	}
	return nil, notFound("account", email)
}

func (r *accountRepo) Update(ctx context.Context, a *domain.Account) error {
	d, unlock := r.s.lock(ctx)
	defer unlock()
	if _, ok := d.accounts[a.ID]; !ok {
		return notFound("account", a.ID)
	}
	a.UpdatedAt = time.Now().UTC()
	d.accounts[a.ID] = *a
	return nil
}

// cases

type caseRepo struct{ s *Store }

func (r *caseRepo) Create(ctx context.Context, c *domain.Case) error {
	d, unlock := r.s.lock(ctx)
	defer unlock()
	d.caseSeq++
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CaseNo = fmt.Sprintf("EXP-%07d", d.caseSeq)
	c.CreatedAt = time.Now().UTC()
	c.UpdatedAt = c.CreatedAt
	if c.StatusDate.IsZero() {
		c.StatusDate = c.CreatedAt
	}
	d.cases[c.ID] = cloneCase(*c)
	return nil
}

func (r *caseRepo) GetByID(ctx context.Context, id string) (*domain.Case, error) {
	d, unlock := r.s.lock(ctx)
	defer unlock()
	c, ok := d.cases[id]
	if !ok {
		return nil, notFound("case", id)
	}
	c = cloneCase(c)
	return &c, nil
}

// GetByIDForUpdate is GetByID: transactions on this store already run one at a time.
func (r *caseRepo) GetByIDForUpdate(ctx context.Context, id string) (*domain.Case, error) {
	return r.GetByID(ctx, id)
}

func (r *caseRepo) find(ctx context.Context, match func(domain.Case) bool) (*domain.Case, error) {
	d, unlock := r.s.lock(ctx)
	defer unlock()
	var found *domain.Case
	for _, c := range d.cases {
		if match(c) && (found == nil || c.CreatedAt.After(found.CreatedAt)) {
			cp := cloneCase(c)
			found = &cp
		}
	}
	if found == nil {
		return nil, domain.ErrNotFound
	}
	return found, nil
}

func (r *caseRepo) GetByCaseNo(ctx context.Context, caseNo string) (*domain.Case, error) {
	return r.find(ctx, func(c domain.Case) bool { return c.CaseNo == caseNo })
}

func (r *caseRepo) FindByContingentID(ctx context.Context, contingentID string) (*domain.Case, error) {
	return r.find(ctx, func(c domain.Case) bool { return contingentID != "" && c.ContingentCaseID == contingentID })
}

func (r *caseRepo) FindByIdentity(ctx context.Context, id domain.CaseIdentity) (*domain.Case, error) {
	return r.find(ctx, func(c domain.Case) bool {
		return sameApplicant(c.Applicant, id.Applicant) &&
			domain.NormalizedEmail(c.Applicant.Email) == domain.NormalizedEmail(id.Applicant.Email) &&
			c.ServiceTypeID == id.ServiceTypeID &&
			c.CitizenshipCountry == id.CitizenshipCountry &&
			c.DestinationCountry == id.DestinationCountry
	})
}

func sameApplicant(a, b domain.Applicant) bool {
	return strings.EqualFold(a.FirstName, b.FirstName) &&
		strings.EqualFold(a.LastName, b.LastName) &&
		a.DateOfBirth == b.DateOfBirth
}

func (r *caseRepo) FindPotentialDuplicates(ctx context.Context, a domain.Applicant, excludeCaseID string) ([]string, error) {
	d, unlock := r.s.lock(ctx)
	defer unlock()
	var ids []string
	for _, c := range d.cases {
		if c.ID != excludeCaseID && sameApplicant(c.Applicant, a) {
			ids = append(ids, c.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *caseRepo) Update(ctx context.Context, c *domain.Case) error {
	d, unlock := r.s.lock(ctx)
	defer unlock()
	if _, ok := d.cases[c.ID]; !ok {
		return notFound("case", c.ID)
	}
	c.UpdatedAt = time.Now().UTC()
	stored := cloneCase(*c)
	stored.Notes = d.cases[c.ID].Notes
	d.cases[c.ID] = stored
	return nil
}

func (r *caseRepo) SwitchServiceLevel(ctx context.Context, caseID, fromLevelID string, wasUpdated bool, toLevelID string) error {
	d, unlock := r.s.lock(ctx)
	defer unlock()
	c, ok := d.cases[caseID]
	if !ok {
		return notFound("case", caseID)
	}
	if c.ServiceLevelID != fromLevelID || c.ServiceLevelUpdated != wasUpdated {
		return fmt.Errorf("case %s: %w", caseID, domain.ErrServiceLevelConflict)
	}
	c.ServiceLevelID = toLevelID
	c.ServiceLevelUpdated = true
	c.UpdatedAt = time.Now().UTC()
	d.cases[caseID] = c
	return nil
}

func (r *caseRepo) AppendNotes(ctx context.Context, caseID string, notes ...domain.CaseNote) error {
	d, unlock := r.s.lock(ctx)
	defer unlock()
	c, ok := d.cases[caseID]
	if !ok {
		return notFound("case", caseID)
	}
	c.Notes = append(slices.Clone(c.Notes), notes...)
	d.cases[caseID] = c
	return nil
}

func (r *caseRepo) BulkTransition(ctx context.Context, t repository.BulkTransition) (int64, error) {
	d, unlock := r.s.lock(ctx)
	defer unlock()
	var n int64
	for id, c := range d.cases {
		if c.Status != t.FromStatusID || c.SubStatus1 != t.FromSubStatusID || !c.StatusDate.Before(t.OlderThan) {
			continue
		}
		c.Status = t.ToStatusID
		c.SubStatus1 = t.ToSubStatusID
		c.StatusDate = t.Now
		c.UpdatedAt = t.Now
		if t.MakeInaccessible {
			c.IsAccessible = false
		}
		d.cases[id] = c
		n++
	}
	return n, nil
}

// SetStatusDate backdates a case for rule tests and data fixes.
func (s *Store) SetStatusDate(caseID string, at time.Time) {
	d, unlock := s.lock(context.Background())
	defer unlock()
	if c, ok := d.cases[caseID]; ok {
		c.StatusDate = at
		d.cases[caseID] = c
	}
}

// transactions

type transactionRepo struct{ s *Store }

func (r *transactionRepo) Create(ctx context.Context, t *domain.Transaction) error {
	d, unlock := r.s.lock(ctx)
	defer unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		// keep insertion order stable for ListByCase
		t.CreatedAt = time.Now().UTC().Add(time.Duration(len(d.transactions)) * time.Microsecond)
	}
	d.transactions[t.ID] = *t
	return nil
}

func (r *transactionRepo) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	d, unlock := r.s.lock(ctx)
	defer unlock()
	t, ok := d.transactions[id]
	if !ok {
		return nil, notFound("transaction", id)
	}
	return &t, nil
}

func (r *transactionRepo) ListByCase(ctx context.Context, caseID string) ([]domain.Transaction, error) {
	d, unlock := r.s.lock(ctx)
	defer unlock()
	var out []domain.Transaction
	for _, t := range d.transactions {
		if t.CaseID == caseID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *transactionRepo) UpdateReturned(ctx context.Context, id string, returned float64, status domain.RefundOrVoidStatus) error {
	d, unlock := r.s.lock(ctx)
	defer unlock()
	t, ok := d.transactions[id]
	if !ok {
		return notFound("transaction", id)
	}
	t.ReturnedAmount = returned
	t.RefundOrVoidStatus = status
	d.transactions[id] = t
	return nil
}

// processors

type processorRepo struct{ s *Store }

func (r *processorRepo) Create(ctx context.Context, p *domain.Processor) error {
	d, unlock := r.s.lock(ctx)
	defer unlock()
	if p.IsDefault && hasOtherDefault(d, p.ID) {
		return fmt.Errorf("%w: another processor is already default", domain.ErrValidation)
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.CreatedAt = time.Now().UTC().Add(time.Duration(len(d.processors)) * time.Microsecond)
	p.UpdatedAt = p.CreatedAt
	d.processors[p.ID] = *p
	return nil
}

func hasOtherDefault(d *data, id string) bool {
	for _, other := range d.processors {
		if other.ID != id && other.IsDefault && !other.IsDeleted {
			return true
		}
	}
	return false
}

func (r *processorRepo) GetByID(ctx context.Context, id string) (*domain.Processor, error) {
	d, unlock := r.s.lock(ctx)
	defer unlock()
	p, ok := d.processors[id]
	if !ok {
		return nil, notFound("processor", id)
	}
	return &p, nil
}

func (r *processorRepo) Update(ctx context.Context, p *domain.Processor) error {
	d, unlock := r.s.lock(ctx)
	defer unlock()
	if _, ok := d.processors[p.ID]; !ok {
		return notFound("processor", p.ID)
	}
	if p.IsDefault && !p.IsDeleted && hasOtherDefault(d, p.ID) {
		return fmt.Errorf("%w: another processor is already default", domain.ErrValidation)
	}
	p.UpdatedAt = time.Now().UTC()
	d.processors[p.ID] = *p
	return nil
}

func (r *processorRepo) list(ctx context.Context, keep func(domain.Processor) bool) []domain.Processor {
	d, unlock := r.s.lock(ctx)
	defer unlock()
	var out []domain.Processor
	for _, p := range d.processors {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r *processorRepo) List(ctx context.Context) ([]domain.Processor, error) {
	return r.list(ctx, func(p domain.Processor) bool { return !p.IsDeleted }), nil
}

func (r *processorRepo) ListActive(ctx context.Context) ([]domain.Processor, error) {
	return r.list(ctx, func(p domain.Processor) bool { return p.Usable() }), nil
}

func (r *processorRepo) GetDefault(ctx context.Context) (*domain.Processor, error) {
	defaults := r.list(ctx, func(p domain.Processor) bool { return p.IsDefault && !p.IsDeleted })
	if len(defaults) == 0 {
		return nil, notFound("processor", "default")
	}
	return &defaults[0], nil
}

func (r *processorRepo) ClearDefault(ctx context.Context, exceptID string) error {
	d, unlock := r.s.lock(ctx)
	defer unlock()
	for id, p := range d.processors {
		if id != exceptID && p.IsDefault {
			p.IsDefault = false
			d.processors[id] = p
		}
	}
	return nil
}

// load balancer

type loadBalancerRepo struct{ s *Store }

func (r *loadBalancerRepo) ListWeights(ctx context.Context) ([]domain.LoadBalancerWeight, error) {
	d, unlock := r.s.lock(ctx)
	defer unlock()
	return slices.Clone(d.weights), nil
}

func (r *loadBalancerRepo) ReplaceWeights(ctx context.Context, weights []domain.LoadBalancerWeight) error {
	d, unlock := r.s.lock(ctx)
	defer unlock()
	d.weights = slices.Clone(weights)
	return nil
}

func (r *loadBalancerRepo) EnsureUsage(ctx context.Context, ids []string) ([]domain.ProcessorUsage, error) {
	d, unlock := r.s.lock(ctx)
	defer unlock()
	out := make([]domain.ProcessorUsage, 0, len(ids))
	for _, id := range ids {
		u, ok := d.usage[id]
		if !ok {
			u = domain.ProcessorUsage{ProcessorID: id, LastUpdated: time.Now().UTC()}
			d.usage[id] = u
		}
		out = append(out, u)
	}
	return out, nil
}

func (r *loadBalancerRepo) IncrementUsage(ctx context.Context, id string) error {
	d, unlock := r.s.lock(ctx)
	defer unlock()
	u := d.usage[id]
	u.ProcessorID = id
	u.TransactionCount++
	u.LastUpdated = time.Now().UTC()
	d.usage[id] = u
	return nil
}

func (r *loadBalancerRepo) ResetUsage(ctx context.Context) error {
	d, unlock := r.s.lock(ctx)
	defer unlock()
	for id, u := range d.usage {
		u.TransactionCount = 0
		u.LastUpdated = time.Now().UTC()
		d.usage[id] = u
	}
	return nil
}

// catalog

type catalogRepo struct{ s *Store }

func (r *catalogRepo) GetServiceLevel(ctx context.Context, id string) (*domain.ServiceLevel, error) {
	d, unlock := r.s.lock(ctx)
	defer unlock()
	l, ok := d.levels[id]
	if !ok {
		return nil, notFound("service level", id)
	}
	return &l, nil
}

func (r *catalogRepo) GetServiceType(ctx context.Context, id string) (*domain.ServiceType, error) {
	d, unlock := r.s.lock(ctx)
	defer unlock()
	t, ok := d.types[id]
	if !ok {
		return nil, notFound("service type", id)
	}
	return &t, nil
}

func (r *catalogRepo) GetPromoCode(ctx context.Context, code string) (*domain.PromoCode, error) {
	d, unlock := r.s.lock(ctx)
	defer unlock()
	p, ok := d.promos[strings.ToUpper(code)]
	if !ok || p.IsDeleted {
		return nil, notFound("promo code", code)
	}
	return &p, nil
}

func (r *catalogRepo) GetConsularFee(ctx context.Context, serviceTypeID, country string) (float64, error) {
	d, unlock := r.s.lock(ctx)
	defer unlock()
	fee, ok := d.consular[serviceTypeID+"|"+country]
	if !ok {
		return 0, notFound("consular fee", country)
	}
	return fee, nil
}

// statuses

type statusRepo struct{ s *Store }

func (r *statusRepo) GetByKey(ctx context.Context, key string) (*domain.Status, error) {
	d, unlock := r.s.lock(ctx)
	defer unlock()
	st, ok := d.statuses[key]
	if !ok {
		return nil, notFound("status", key)
	}
	return &st, nil
}

// offline payment links

type offlineLinkRepo struct{ s *Store }

func (r *offlineLinkRepo) Create(ctx context.Context, l *domain.OfflinePaymentLink) error {
	d, unlock := r.s.lock(ctx)
	defer unlock()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	d.links[l.Token] = *l
	return nil
}

func (r *offlineLinkRepo) GetByToken(ctx context.Context, token string) (*domain.OfflinePaymentLink, error) {
	d, unlock := r.s.lock(ctx)
	defer unlock()
	l, ok := d.links[token]
	if !ok {
		return nil, notFound("offline payment link", token)
	}
	return &l, nil
}

func (r *offlineLinkRepo) MarkUsed(ctx context.Context, token, caseID string, usedAt time.Time) error {
	d, unlock := r.s.lock(ctx)
	defer unlock()
	l, ok := d.links[token]
	if !ok || l.UsedAt != nil {
		return fmt.Errorf("%w: %s", domain.ErrOfflineLinkInvalid, token)
	}
	l.UsedAt = &usedAt
	l.UsedBy = caseID
	l.IsActive = false
	d.links[token] = l
	return nil
}

// payment audit

type auditRepo struct{ s *Store }

func (r *auditRepo) Create(ctx context.Context, e *domain.PaymentAuditEvent) error {
	d, unlock := r.s.lock(ctx)
	defer unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	d.audit = append(d.audit, *e)
	return nil
}

func (r *auditRepo) ListByCase(ctx context.Context, caseID string) ([]domain.PaymentAuditEvent, error) {
	d, unlock := r.s.lock(ctx)
	defer unlock()
	var out []domain.PaymentAuditEvent
	for _, e := range d.audit {
		if e.CaseID == caseID {
			out = append(out, e)
		}
	}
	return out, nil
}

// case managers

type managerRepo struct{ s *Store }

func (r *managerRepo) LeastLoaded(ctx context.Context) (*domain.CaseManager, error) {
	d, unlock := r.s.lock(ctx)
	defer unlock()
	if len(d.managers) == 0 {
		return nil, notFound("case manager", "any")
	}
	load := map[string]int{}
	for _, c := range d.cases {
		if c.IsAccessible && c.CaseManagerID != "" {
			load[c.CaseManagerID]++
		}
	}
	ids := make([]string, 0, len(d.managers))
	for id := range d.managers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if load[ids[i]] != load[ids[j]] {
			return load[ids[i]] < load[ids[j]]
		}
		return ids[i] < ids[j]
	})
	m := d.managers[ids[0]]
	return &m, nil
}

func (r *managerRepo) GetByID(ctx context.Context, id string) (*domain.CaseManager, error) {
	d, unlock := r.s.lock(ctx)
	defer unlock()
	m, ok := d.managers[id]
	if !ok {
		return nil, notFound("case manager", id)
	}
	return &m, nil
}
