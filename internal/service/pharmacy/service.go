package pharmacy

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/opd-api/internal/model"
	"github.com/jwalitptl/opd-api/internal/repository"
	apperrors "github.com/jwalitptl/opd-api/pkg/errors"
)

type Service struct {
	medicines repository.MedicineRepository
	now       func() time.Time
}

func NewService(medicines repository.MedicineRepository) *Service {
	return &Service{
		medicines: medicines,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateOrderTx writes a pending pharmacy order for the visit. The whole
// order is rejected if any medicine is unknown, inactive, expired or short
// on stock. No items means no order.
func (s *Service) CreateOrderTx(ctx context.Context, q sqlx.ExtContext, visitID, prescribedBy int64, items []model.PrescriptionItem) (*model.PharmacyOrder, error) {
	if len(items) == 0 {
		return nil, nil
	}

	requested := make(map[int64]int, len(items))
	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, apperrors.Validation(fmt.Sprintf("quantity for medicine %d must be positive", item.MedicineID), nil)
		}
		requested[item.MedicineID] += item.Quantity
	}

	today := s.now()
	for id, qty := range requested {
		med, err := s.medicines.GetForShare(ctx, q, id)
		if apperrors.IsNotFound(err) {
			return nil, apperrors.Validation(fmt.Sprintf("medicine %d does not exist", id), err)
		}
		if err != nil {
			return nil, err
		}
		switch {
		case !med.Active:
			return nil, apperrors.Validation(fmt.Sprintf("medicine %s is not available", med.Name), nil)
		case med.Expired(today):
			return nil, apperrors.Validation(fmt.Sprintf("medicine %s is expired", med.Name), nil)
		case med.Stock < qty:
			return nil, apperrors.Validation(fmt.Sprintf("insufficient stock for %s: %d requested, %d available", med.Name, qty, med.Stock), nil)
		}
	}

	order := &model.PharmacyOrder{
		VisitID:      visitID,
		PrescribedBy: prescribedBy,
		Status:       model.PharmacyOrderPending,
		Items:        items,
	}
	if err := s.medicines.CreateOrder(ctx, q, order); err != nil {
		return nil, err
	}
	return order, nil
}
