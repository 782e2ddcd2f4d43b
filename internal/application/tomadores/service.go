package tomadores

import (
	"context"
	"errors"

	"apolice-backend/internal/domain"
	"apolice-backend/internal/infrastructure/database"
	"apolice-backend/internal/infrastructure/receitaws"
	"apolice-backend/internal/pkg/apperrors"
	"apolice-backend/internal/pkg/validation"

	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrInvalidCNPJ     = errors.New("invalid CNPJ")
	ErrTomadorNotFound = errors.New("tomador not found")
)

// CompanyLookup resolves a CNPJ against the tax registry.
type CompanyLookup interface {
	Lookup(ctx context.Context, cnpj string) (*receitaws.Company, error)
}

type Service struct {
	DB       *gorm.DB
	Registry CompanyLookup
}

// Lookup returns the stored tomador for a CNPJ, importing it from the registry on first use.
// Imported tomadores start with no credit line.
func (s *Service) Lookup(ctx context.Context, raw string) (*domain.Tomador, error) {
	cnpj, err := normalize(raw)
	if err != nil {
		return nil, err
	}
	if t, err := s.byCNPJ(ctx, cnpj); err == nil {
		return t, nil
	} else if !apperrors.IsNotFound(err) {
		return nil, err
	}

	co, err := s.Registry.Lookup(ctx, cnpj)
	if err != nil {
		return nil, err
	}
	t := domain.Tomador{CNPJ: cnpj}
	apply(&t, co)
	if err := s.DB.WithContext(ctx).Create(&t).Error; err != nil {
		if database.IsUniqueViolation(err) {
			return s.byCNPJ(ctx, cnpj)
		}
		return nil, err
	}
	log.Info().Str("cnpj", cnpj).Uint("tomador_id", t.ID).Msg("tomador imported from registry")
	return &t, nil
}

// Refresh re-reads registry data for a stored tomador. Credit fields are left alone.
func (s *Service) Refresh(ctx context.Context, raw string) (*domain.Tomador, error) {
	cnpj, err := normalize(raw)
	if err != nil {
		return nil, err
	}
	t, err := s.byCNPJ(ctx, cnpj)
	if err != nil {
		return nil, err
	}
	co, err := s.Registry.Lookup(ctx, cnpj)
	if err != nil {
		return nil, err
	}
	apply(t, co)
	err = s.DB.WithContext(ctx).Model(&domain.Tomador{}).Where("id = ?", t.ID).Updates(map[string]interface{}{
		"name":          t.Name,
		"trade_name":    t.TradeName,
		"address":       t.Address,
		"city":          t.City,
		"state":         t.State,
		"zip_code":      t.ZipCode,
		"email":         t.Email,
		"share_capital": t.ShareCapital,
		"lookup_data":   t.LookupData,
	}).Error
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Get loads a tomador by id.
func (s *Service) Get(ctx context.Context, id uint) (*domain.Tomador, error) {
	var t domain.Tomador
	if err := s.DB.WithContext(ctx).First(&t, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("Tomador not found", ErrTomadorNotFound)
		}
		return nil, err
	}
	return &t, nil
}

func (s *Service) byCNPJ(ctx context.Context, cnpj string) (*domain.Tomador, error) {
	var t domain.Tomador
	if err := s.DB.WithContext(ctx).Where("cnpj = ?", cnpj).First(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("Tomador not found", ErrTomadorNotFound)
		}
		return nil, err
	}
	return &t, nil
}

func normalize(raw string) (string, error) {
	cnpj := validation.NormalizeCNPJ(raw)
	if !validation.IsValidCNPJ(cnpj) {
		return "", apperrors.Validation("Invalid CNPJ", ErrInvalidCNPJ)
	}
	return cnpj, nil
}

func apply(t *domain.Tomador, co *receitaws.Company) {
	t.Name = co.Name
	t.TradeName = co.TradeName
	t.Address = co.Address
	t.City = co.City
	t.State = co.State
	t.ZipCode = co.ZipCode
	if co.Email != "" {
		t.Email = co.Email
	}
	t.ShareCapital = co.ShareCapital
	if len(co.Raw) > 0 {
		t.LookupData = datatypes.JSON(co.Raw)
	}
}
