package store

import (
	"context"
	"testing"
	"time"

	"github.com/alapierre/go-tra-vfd/vfd/model"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistration_LoadSave(t *testing.T) {

	db, err := OpenInMemory(t.Name())
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })
	ctx := context.Background()

	reg, err := LoadRegistration(ctx, db)
	require.NoError(t, err)
	assert.Nil(t, reg)

	info := &model.RegistrationInfo{RegID: "TZ0100553", ReceiptCode: "C2A6AA", GC: 5, TaxCodes: map[string]string{"CODEA": "18"}}
	require.NoError(t, SaveRegistration(ctx, db, RegistrationFromInfo(info, time.Now())))

	reg, err = LoadRegistration(ctx, db)
	require.NoError(t, err)
	require.NotNil(t, reg)
	assert.Equal(t, "C2A6AA", reg.Issuer().ReceiptCodePrefix)
	assert.Equal(t, int64(5), reg.InitialGC)
	assert.Equal(t, "18", reg.TaxCodes["CODEA"])
}

func TestReceiptJob_UniqueSale(t *testing.T) {

	db, err := OpenInMemory(t.Name())
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })

	sale := model.Sale{ID: "S-1", Lines: []model.Line{{Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(10), TaxCode: model.TaxStandard}}}

	first := &ReceiptJob{ID: uuid.New(), SaleID: "S-1", Status: StatusInProgress, Sale: sale}
	require.NoError(t, db.Create(first).Error)

	second := &ReceiptJob{ID: uuid.New(), SaleID: "S-1", Status: StatusInProgress, Sale: sale}
	assert.Error(t, db.Create(second).Error)

	var got ReceiptJob
	require.NoError(t, db.First(&got, "sale_id = ?", "S-1").Error)
	assert.Equal(t, first.ID, got.ID)
	assert.True(t, decimal.NewFromInt(10).Equal(got.Sale.Lines[0].UnitPrice))
	assert.Nil(t, got.GC)
}
