package pharmacy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/opd-api/internal/model"
	"github.com/jwalitptl/opd-api/internal/repository/memory"
	apperrors "github.com/jwalitptl/opd-api/pkg/errors"
)

func TestCreateOrderTx(t *testing.T) {
	today := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	expired := today.AddDate(0, 0, -2)
	fresh := today.AddDate(1, 0, 0)

	tests := []struct {
		name      string
		items     []model.PrescriptionItem
		wantErr   string
		wantOrder bool
	}{
		{
			name:      "valid order",
			items:     []model.PrescriptionItem{{MedicineID: 1, Quantity: 10, Dosage: "1-0-1"}},
			wantOrder: true,
		},
		{
			name:    "unknown medicine",
			items:   []model.PrescriptionItem{{MedicineID: 99, Quantity: 1}},
			wantErr: "does not exist",
		},
		{
			name:    "expired medicine",
			items:   []model.PrescriptionItem{{MedicineID: 2, Quantity: 1}},
			wantErr: "is expired",
		},
		{
			name: "stock summed across lines",
			items: []model.PrescriptionItem{
				{MedicineID: 1, Quantity: 15},
				{MedicineID: 1, Quantity: 10},
			},
			wantErr: "insufficient stock",
		},
		{
			name:    "inactive medicine",
			items:   []model.PrescriptionItem{{MedicineID: 3, Quantity: 1}},
			wantErr: "not available",
		},
		{
			name: "no items",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.NewStore()
			store.AddMedicine(model.Medicine{ID: 1, Name: "Paracetamol", Stock: 20, ExpiryDate: &fresh, Active: true})
			store.AddMedicine(model.Medicine{ID: 2, Name: "Amoxicillin", Stock: 20, ExpiryDate: &expired, Active: true})
			store.AddMedicine(model.Medicine{ID: 3, Name: "Ranitidine", Stock: 20, Active: false})

			svc := NewService(store.Medicines())
			svc.now = func() time.Time { return today }

			order, err := svc.CreateOrderTx(context.Background(), store.DB(), 8, 1, tt.items)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.True(t, apperrors.IsValidation(err))
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Empty(t, store.PharmacyOrders())
				return
			}
			require.NoError(t, err)
			if !tt.wantOrder {
				assert.Nil(t, order)
				return
			}
			require.NotNil(t, order)
			assert.Equal(t, model.PharmacyOrderPending, order.Status)
			assert.Len(t, store.PharmacyOrders(), 1)
		})
	}
}
