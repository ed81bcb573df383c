package erp

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/jafarshop/erpsync/internal/domain"
	"github.com/jafarshop/erpsync/pkg/errors"
)

// Order table columns
const (
	ColOrderID                 = "OrderId"
	ColOrderShopID             = "OrderShopId"
	ColOrderCustomerNumber     = "OrderCustomerNumber"
	ColOrderCustomerID         = "OrderCustomerAccessUserId"
	ColOrderIntegrationID      = "OrderIntegrationOrderId"
	ColOrderCurrency           = "OrderCurrencyCode"
	ColOrderPriceWithVAT       = "OrderPriceWithVat"
	ColOrderPriceWithoutVAT    = "OrderPriceWithoutVat"
	ColOrderPriceVAT           = "OrderPriceVat"
	ColOrderShippingMethodCode = "OrderShippingMethodId"
	ColOrderShippingMethod     = "OrderShippingMethod"
	ColOrderShippingWithVAT    = "OrderShippingFeeWithVat"
	ColOrderShippingWithoutVAT = "OrderShippingFeeWithoutVat"
	ColOrderShippingVAT        = "OrderShippingFeeVat"
	ColOrderModified           = "OrderModified"
	ColOrderComplete           = "OrderComplete"
)

// Order line table columns
const (
	ColLineID                  = "OrderLineId"
	ColLineOrderID             = "OrderLineOrderId"
	ColLineParentLineID        = "OrderLineParentLineId"
	ColLineType                = "OrderLineType"
	ColLineProductID           = "OrderLineProductId"
	ColLineVariantID           = "OrderLineProductVariantId"
	ColLineUnitID              = "OrderLineUnitId"
	ColLineProductName         = "OrderLineProductName"
	ColLineDiscountID          = "OrderLineDiscountId"
	ColLineQuantity            = "OrderLineQuantity"
	ColLineUnitPriceWithVAT    = "OrderLineUnitPriceWithVat"
	ColLineUnitPriceWithoutVAT = "OrderLineUnitPriceWithoutVat"
	ColLineUnitPriceVAT        = "OrderLineUnitPriceVat"
	ColLinePriceWithVAT        = "OrderLinePriceWithVat"
	ColLinePriceWithoutVAT     = "OrderLinePriceWithoutVat"
	ColLinePriceVAT            = "OrderLinePriceVat"
	ColLineBOM                 = "OrderLineBom"
	ColLineModified            = "OrderLineModified"
)

// PriceFields carries the three optional price components as received
type PriceFields struct {
	WithVAT    *float64
	WithoutVAT *float64
	VAT        *float64
}

// Price derives a consistent price from the received components
func (f PriceFields) Price() (domain.Price, bool) {
	return domain.DerivePrice(f.WithVAT, f.WithoutVAT, f.VAT)
}

// Over derives a price like Price but fills a single received component in
// from the matching components of base
func (f PriceFields) Over(base domain.Price) (domain.Price, bool) {
	return base.Complete(f.WithVAT, f.WithoutVAT, f.VAT)
}

// Abs returns the fields with every received component made non-negative
func (f PriceFields) Abs() PriceFields {
	abs := func(v *float64) *float64 {
		if v == nil {
			return nil
		}
		a := math.Abs(*v)
		return &a
	}
	return PriceFields{WithVAT: abs(f.WithVAT), WithoutVAT: abs(f.WithoutVAT), VAT: abs(f.VAT)}
}

// OrderRecord is the typed view of the single EcomOrders item of a response
type OrderRecord struct {
	OrderID            string
	CustomerNumber     string
	IntegrationOrderID string
	Currency           string
	Price              PriceFields
	ShippingMethodCode string
	ShippingMethod     string
	ShippingFee        PriceFields
}

// LineRecord is the typed view of one EcomOrderLines item
type LineRecord struct {
	LineID       string
	ParentLineID string
	Type         domain.LineType
	ProductID    string
	VariantID    string
	UnitID       string
	ProductName  string
	DiscountID   string
	Quantity     *float64
	UnitPrice    PriceFields
	Price        PriceFields
	IsBOMPart    bool
}

// Response is the typed view of a response document
type Response struct {
	Order OrderRecord
	Lines []LineRecord
}

// DecodeResponse converts a parsed document into typed records
func DecodeResponse(doc *Document) (*Response, error) {
	orders := doc.Table(TableOrders)
	if orders == nil || len(orders.Items) == 0 {
		return nil, errors.New(errors.KindInvalidResponseFormat, "decode response",
			&SchemaMismatchError{Reason: "missing " + TableOrders + " item"})
	}

	item := orders.Items[0]
	order := OrderRecord{
		OrderID:            str(item, ColOrderID),
		CustomerNumber:     str(item, ColOrderCustomerNumber),
		IntegrationOrderID: str(item, ColOrderIntegrationID),
		Currency:           str(item, ColOrderCurrency),
		ShippingMethodCode: str(item, ColOrderShippingMethodCode),
		ShippingMethod:     str(item, ColOrderShippingMethod),
	}

	var err error
	if order.Price, err = priceFields(item, ColOrderPriceWithVAT, ColOrderPriceWithoutVAT, ColOrderPriceVAT); err != nil {
		return nil, err
	}
	if order.ShippingFee, err = priceFields(item, ColOrderShippingWithVAT, ColOrderShippingWithoutVAT, ColOrderShippingVAT); err != nil {
		return nil, err
	}

	resp := &Response{Order: order}
	if lines := doc.Table(TableOrderLines); lines != nil {
		for i, it := range lines.Items {
			rec, err := decodeLine(it)
			if err != nil {
				return nil, fmt.Errorf("order line %d: %w", i, err)
			}
			resp.Lines = append(resp.Lines, rec)
		}
	}
	return resp, nil
}

func decodeLine(item Item) (LineRecord, error) {
	rec := LineRecord{
		LineID:       str(item, ColLineID),
		ParentLineID: str(item, ColLineParentLineID),
		ProductID:    str(item, ColLineProductID),
		VariantID:    str(item, ColLineVariantID),
		UnitID:       str(item, ColLineUnitID),
		ProductName:  str(item, ColLineProductName),
		DiscountID:   str(item, ColLineDiscountID),
		IsBOMPart:    strings.EqualFold(str(item, ColLineBOM), "true"),
	}

	lineType, err := ParseLineType(str(item, ColLineType))
	if err != nil {
		return rec, err
	}
	rec.Type = lineType

	if rec.Quantity, err = number(item, ColLineQuantity); err != nil {
		return rec, err
	}
	if rec.UnitPrice, err = priceFields(item, ColLineUnitPriceWithVAT, ColLineUnitPriceWithoutVAT, ColLineUnitPriceVAT); err != nil {
		return rec, err
	}
	if rec.Price, err = priceFields(item, ColLinePriceWithVAT, ColLinePriceWithoutVAT, ColLinePriceVAT); err != nil {
		return rec, err
	}
	return rec, nil
}

// ParseLineType maps the wire type code to a LineType; empty means product
func ParseLineType(raw string) (domain.LineType, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return domain.LineTypeProduct, nil
	}
	code, err := strconv.Atoi(raw)
	if err != nil || code < int(domain.LineTypeProduct) || code > int(domain.LineTypeTax) {
		return 0, errors.New(errors.KindInvalidResponseFormat, "decode line type", fmt.Errorf("unknown order line type %q", raw))
	}
	return domain.LineType(code), nil
}

func str(item Item, name string) string {
	v, _ := item.Value(name)
	return strings.TrimSpace(v)
}

func number(item Item, name string) (*float64, error) {
	raw := str(item, name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(strings.Replace(raw, ",", ".", 1), 64)
	if err != nil {
		return nil, errors.New(errors.KindInvalidResponseFormat, "decode "+name, err)
	}
	return &v, nil
}

func priceFields(item Item, withVAT, withoutVAT, vat string) (PriceFields, error) {
	var f PriceFields
	var err error
	if f.WithVAT, err = number(item, withVAT); err != nil {
		return f, err
	}
	if f.WithoutVAT, err = number(item, withoutVAT); err != nil {
		return f, err
	}
	if f.VAT, err = number(item, vat); err != nil {
		return f, err
	}
	return f, nil
}
