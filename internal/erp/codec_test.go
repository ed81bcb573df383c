package erp

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jafarshop/erpsync/internal/domain"
)

func testCodec() *OrderCodec {
	return &OrderCodec{now: func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }}
}

// TestOrderCodec_BuildRequest verifies header and line rendering
func TestOrderCodec_BuildRequest(t *testing.T) {
	parent := uuid.New()
	order := &domain.Order{
		ID:           uuid.New(),
		CustomerID:   "C1",
		ERPOrderID:   "SO-9",
		CustomFields: map[string]string{"Zone": "north", "Channel": "B2B"},
		Lines: []*domain.OrderLine{
			{ID: parent, ProductID: "P1", Quantity: 1.5},
			{Type: domain.LineTypeProductDiscount, ParentLineID: &parent, DiscountID: "D1", Quantity: 1},
			{ProductID: "P2", ParentLineID: &parent, IsBOMPart: true, Quantity: 2},
		},
	}
	sc := domain.SyncContext{ShopID: "SHOP1", Currency: "EUR"}

	doc, err := testCodec().BuildRequest(sc, order, domain.SubmissionCreateOrder)
	require.NoError(t, err)

	assert.Equal(t, DocumentSource, doc.Source)
	assert.Equal(t, "CreateOrder", doc.SubmitType)
	assert.Equal(t, ReferenceOrderPut, doc.ReferenceName)

	header := doc.Table(TableOrders).Items[0]
	for col, expected := range map[string]string{
		ColOrderShopID:        "SHOP1",
		ColOrderCurrency:      "EUR",
		ColOrderIntegrationID: "SO-9",
		ColOrderComplete:      "false",
		ColOrderDate:          "2024-05-01T12:00:00Z",
	} {
		v, ok := header.Value(col)
		require.True(t, ok, col)
		assert.Equal(t, expected, v, col)
	}

	// custom fields are sorted by name after the fixed columns
	n := len(header.Columns)
	assert.Equal(t, "Channel", header.Columns[n-2].Name)
	assert.Equal(t, "Zone", header.Columns[n-1].Name)
	assert.True(t, header.Columns[n-1].IsCustomField)

	lines := doc.Table(TableOrderLines).Items
	require.Len(t, lines, 3)

	id, ok := lines[0].Value(ColLineID)
	require.True(t, ok)
	assert.Equal(t, parent.String(), id)
	qty, _ := lines[0].Value(ColLineQuantity)
	assert.Equal(t, "1.5", qty)

	_, ok = lines[1].Value(ColLineID)
	assert.False(t, ok, "unsaved lines carry no id")
	lineType, _ := lines[1].Value(ColLineType)
	assert.Equal(t, "3", lineType)
	parentID, _ := lines[1].Value(ColLineParentLineID)
	assert.Equal(t, parent.String(), parentID)

	bom, ok := lines[2].Value(ColLineBOM)
	require.True(t, ok)
	assert.Equal(t, "true", bom)
}

// TestOrderCodec_PrefersOrderValues verifies order fields win over the call context
func TestOrderCodec_PrefersOrderValues(t *testing.T) {
	order := &domain.Order{ID: uuid.New(), ShopID: "SHOP-A", Currency: "DKK"}
	doc, err := testCodec().BuildRequest(domain.SyncContext{ShopID: "SHOP-B", Currency: "EUR"}, order, domain.SubmissionInteractiveCart)
	require.NoError(t, err)

	header := doc.Table(TableOrders).Items[0]
	shop, _ := header.Value(ColOrderShopID)
	currency, _ := header.Value(ColOrderCurrency)
	assert.Equal(t, "SHOP-A", shop)
	assert.Equal(t, "DKK", currency)
	assert.Nil(t, doc.Table(TableOrderLines))

	_, err = testCodec().BuildRequest(domain.SyncContext{}, nil, domain.SubmissionInteractiveCart)
	assert.Error(t, err)
}

// TestParseLineType verifies the wire type codes
func TestParseLineType(t *testing.T) {
	tests := []struct {
		raw      string
		expected domain.LineType
		wantErr  bool
	}{
		{raw: "", expected: domain.LineTypeProduct},
		{raw: "0", expected: domain.LineTypeProduct},
		{raw: "1", expected: domain.LineTypeOrderDiscount},
		{raw: " 2 ", expected: domain.LineTypeFixed},
		{raw: "3", expected: domain.LineTypeProductDiscount},
		{raw: "4", expected: domain.LineTypeTax},
		{raw: "5", wantErr: true},
		{raw: "-1", wantErr: true},
		{raw: "Product", wantErr: true},
	}

	for _, tt := range tests {
		t.Run("type "+tt.raw, func(t *testing.T) {
			got, err := ParseLineType(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}
