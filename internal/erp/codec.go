package erp

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/jafarshop/erpsync/internal/domain"
)

const (
	ReferenceOrderPut = "OrderPut"
	ColRequestID      = "RequestId"
	ColOrderDate      = "OrderDate"
)

// OrderCodec renders an order into a request document
type OrderCodec struct {
	now func() time.Time
}

// NewOrderCodec creates the default request codec
func NewOrderCodec() *OrderCodec {
	return &OrderCodec{now: time.Now}
}

// BuildRequest renders the order header and every line
func (c *OrderCodec) BuildRequest(sc domain.SyncContext, order *domain.Order, kind domain.SubmissionKind) (*Document, error) {
	if order == nil {
		return nil, fmt.Errorf("order is required")
	}

	doc := NewDocument(string(kind), ReferenceOrderPut)

	header := []Column{
		{Name: ColRequestID, Value: uuid.NewString()},
		{Name: ColOrderDate, Value: c.now().UTC().Format(time.RFC3339), IsInformationalOnly: true},
		{Name: ColOrderID, Value: order.ID.String()},
		{Name: ColOrderShopID, Value: firstNonEmpty(order.ShopID, sc.ShopID)},
		{Name: ColOrderCustomerID, Value: order.CustomerID},
		{Name: ColOrderCustomerNumber, Value: order.CustomerNumber},
		{Name: ColOrderIntegrationID, Value: order.ERPOrderID},
		{Name: ColOrderCurrency, Value: firstNonEmpty(order.Currency, sc.Currency)},
		{Name: ColOrderShippingMethodCode, Value: order.ShippingMethodCode},
		{Name: ColOrderComplete, Value: strconv.FormatBool(order.Complete)},
		{Name: ColOrderModified, Value: order.UpdatedAt.UTC().Format(time.RFC3339), IsInformationalOnly: true},
	}
	header = append(header, customFieldColumns(order.CustomFields)...)
	doc.AddItem(TableOrders, header...)

	for _, line := range order.Lines {
		doc.AddItem(TableOrderLines, lineColumns(order, line)...)
	}
	return doc, nil
}

func lineColumns(order *domain.Order, line *domain.OrderLine) []Column {
	cols := []Column{
		{Name: ColLineOrderID, Value: order.ID.String()},
		{Name: ColLineType, Value: strconv.Itoa(int(line.Type))},
		{Name: ColLineProductID, Value: line.ProductID},
		{Name: ColLineVariantID, Value: line.VariantID},
		{Name: ColLineUnitID, Value: line.UnitID},
		{Name: ColLineProductName, Value: line.ProductName, IsInformationalOnly: true},
		{Name: ColLineDiscountID, Value: line.DiscountID},
		{Name: ColLineQuantity, Value: formatNumber(line.Quantity)},
		{Name: ColLineModified, Value: line.UpdatedAt.UTC().Format(time.RFC3339), IsInformationalOnly: true},
	}
	if line.IsSaved() {
		cols = append(cols, Column{Name: ColLineID, Value: line.ID.String()})
	}
	if line.ParentLineID != nil {
		cols = append(cols, Column{Name: ColLineParentLineID, Value: line.ParentLineID.String()})
	}
	if line.IsBOMPart {
		cols = append(cols, Column{Name: ColLineBOM, Value: "true"})
	}
	// local prices are hints only; the ERP prices the cart
	cols = append(cols,
		Column{Name: ColLineUnitPriceWithVAT, Value: formatNumber(line.UnitPrice.WithVAT), IsInformationalOnly: true},
		Column{Name: ColLineUnitPriceWithoutVAT, Value: formatNumber(line.UnitPrice.WithoutVAT), IsInformationalOnly: true},
	)
	return cols
}

func customFieldColumns(fields map[string]string) []Column {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	cols := make([]Column, 0, len(names))
	for _, name := range names {
		cols = append(cols, Column{Name: name, Value: fields[name], IsCustomField: true})
	}
	return cols
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
