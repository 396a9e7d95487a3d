package service

import (
	"context"
	"fmt"
	"strings"

	"expedite-backend/internal/domain"
	"expedite-backend/internal/logger"
	"expedite-backend/internal/repository"

	"github.com/google/uuid"
)

// Encrypter seals processor credentials before they are stored.
type Encrypter interface {
	Encrypt(plaintext string) (string, error)
}

type processorService struct {
	tx         repository.TxManager
	processors repository.ProcessorRepository
	cipher     Encrypter
}

func NewProcessorService(tx repository.TxManager, processors repository.ProcessorRepository, cipher Encrypter) ProcessorService {
	return &processorService{tx: tx, processors: processors, cipher: cipher}
}

func (s *processorService) ListProcessors(ctx context.Context) ([]domain.Processor, error) {
	return s.processors.List(ctx)
}

func (s *processorService) GetProcessor(ctx context.Context, id string) (*domain.Processor, error) {
	p, err := s.processors.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.IsDeleted {
		return nil, fmt.Errorf("processor %s: %w", id, domain.ErrNotFound)
	}
	return p, nil
}

func (s *processorService) CreateProcessor(ctx context.Context, in ProcessorInput) (*domain.Processor, error) {
	logger.EnterMethod("processorService.CreateProcessor", "name", in.Name)

	if strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("%w: processor name is required", domain.ErrValidation)
	}
	if in.SecurityKey == "" && (in.Username == "" || in.Password == "") {
		return nil, fmt.Errorf("%w: a security key or username and password are required", domain.ErrValidation)
	}
	if in.IsDefault && !in.IsActive {
		return nil, fmt.Errorf("%w: the default processor must be active", domain.ErrValidation)
	}

	p := &domain.Processor{
		ID:               uuid.NewString(),
		Name:             strings.TrimSpace(in.Name),
		IsActive:         in.IsActive,
		IsDefault:        in.IsDefault,
		TransactionLimit: in.TransactionLimit,
	}
	if err := s.sealCredentials(p, in); err != nil {
		return nil, err
	}

	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		if p.IsDefault {
			if err := s.processors.ClearDefault(ctx, p.ID); err != nil {
				return err
			}
		}
		return s.processors.Create(ctx, p)
	})
	if err != nil {
		logger.ExitMethodWithError("processorService.CreateProcessor", err)
		return nil, err
	}
	logger.ExitMethod("processorService.CreateProcessor", "processor", p.ID)
	return p, nil
}

// UpdateProcessor replaces name, flags and limit. Credentials left blank keep
// their stored value.
func (s *processorService) UpdateProcessor(ctx context.Context, id string, in ProcessorInput) (*domain.Processor, error) {
	logger.EnterMethod("processorService.UpdateProcessor", "processor", id)

	var p *domain.Processor
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		p, err = s.GetProcessor(ctx, id)
		if err != nil {
			return err
		}
		if p.IsDefault && (!in.IsActive || !in.IsDefault) {
			return fmt.Errorf("%w: make another processor default first", domain.ErrDefaultProcessor)
		}
		if in.IsDefault && !in.IsActive {
			return fmt.Errorf("%w: the default processor must be active", domain.ErrValidation)
		}
		if name := strings.TrimSpace(in.Name); name != "" {
			p.Name = name
		}
		p.IsActive = in.IsActive
		p.TransactionLimit = in.TransactionLimit
		if err := s.sealCredentials(p, in); err != nil {
			return err
		}
		if in.IsDefault && !p.IsDefault {
			if err := s.processors.ClearDefault(ctx, p.ID); err != nil {
				return err
			}
			p.IsDefault = true
		}
		return s.processors.Update(ctx, p)
	})
	if err != nil {
		logger.ExitMethodWithError("processorService.UpdateProcessor", err)
		return nil, err
	}
	logger.ExitMethod("processorService.UpdateProcessor")
	return p, nil
}

// DeleteProcessor flags the processor deleted. Its transactions keep pointing at it.
func (s *processorService) DeleteProcessor(ctx context.Context, id string) error {
	logger.EnterMethod("processorService.DeleteProcessor", "processor", id)
	return s.tx.WithTx(ctx, func(ctx context.Context) error {
		p, err := s.GetProcessor(ctx, id)
		if err != nil {
			return err
		}
		if p.IsDefault {
			return fmt.Errorf("%w: %s", domain.ErrDefaultProcessor, p.Name)
		}
		p.IsDeleted = true
		p.IsActive = false
		return s.processors.Update(ctx, p)
	})
}

// SetDefaultProcessor makes id the only default processor.
func (s *processorService) SetDefaultProcessor(ctx context.Context, id string) (*domain.Processor, error) {
	logger.EnterMethod("processorService.SetDefaultProcessor", "processor", id)

	var p *domain.Processor
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		p, err = s.GetProcessor(ctx, id)
		if err != nil {
			return err
		}
		if !p.Usable() {
			return fmt.Errorf("%w: %s", domain.ErrProcessorInactive, p.Name)
		}
		if err := s.processors.ClearDefault(ctx, p.ID); err != nil {
			return err
		}
		p.IsDefault = true
		return s.processors.Update(ctx, p)
	})
	if err != nil {
		logger.ExitMethodWithError("processorService.SetDefaultProcessor", err)
		return nil, err
	}
	return p, nil
}

func (s *processorService) sealCredentials(p *domain.Processor, in ProcessorInput) error {
	fields := []struct {
		plain string
		dst   *string
	}{
		{in.Username, &p.EncryptedUsername},
		{in.Password, &p.EncryptedPassword},
		{in.SecurityKey, &p.EncryptedSecurityKey},
	}
	for _, f := range fields {
		if f.plain == "" {
			continue
		}
		sealed, err := s.cipher.Encrypt(f.plain)
		if err != nil {
			return fmt.Errorf("encrypt processor credentials: %w", err)
		}
		*f.dst = sealed
	}
	return nil
}
