package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/opd-api/internal/model"
	"github.com/jwalitptl/opd-api/internal/repository"
)

type medicineRepository struct{}

func NewMedicineRepository() repository.MedicineRepository {
	return &medicineRepository{}
}

// GetForShare locks the row against concurrent stock changes until the
// consultation transaction ends.
func (r *medicineRepository) GetForShare(ctx context.Context, q sqlx.ExtContext, id int64) (*model.Medicine, error) {
	query := `SELECT id, name, stock, expiry_date, active FROM medicines WHERE id = $1 FOR SHARE`
	var m model.Medicine
	if err := getOne(ctx, q, &m, "medicine", query, id); err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *medicineRepository) CreateOrder(ctx context.Context, q sqlx.ExtContext, order *model.PharmacyOrder) error {
	query := `
		INSERT INTO pharmacy_orders (visit_id, prescribed_by, status)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`
	row := q.QueryRowxContext(ctx, query, order.VisitID, order.PrescribedBy, order.Status)
	if err := row.Scan(&order.ID, &order.CreatedAt); err != nil {
		return fmt.Errorf("failed to create pharmacy order: %w", err)
	}

	itemQuery := `
		INSERT INTO pharmacy_order_items (order_id, medicine_id, quantity, dosage, instructions)
		VALUES ($1, $2, $3, $4, $5)
	`
	for _, item := range order.Items {
		if _, err := q.ExecContext(ctx, itemQuery,
			order.ID, item.MedicineID, item.Quantity, item.Dosage, item.Instructions,
		); err != nil {
			return fmt.Errorf("failed to add medicine %d to order: %w", item.MedicineID, err)
		}
	}
	return nil
}
