package marketplace

import "encoding/json"

// SP-API Orders v0 wire types. Only the fields the sync uses are decoded.

// spMoney is the SP-API Money type
type spMoney struct {
	CurrencyCode string `json:"CurrencyCode"`
	Amount       string `json:"Amount"`
}

// spBuyerInfo is the SP-API BuyerInfo type
type spBuyerInfo struct {
	BuyerEmail string `json:"BuyerEmail"`
	BuyerName  string `json:"BuyerName"`
}

// spOrder is the SP-API Order type
type spOrder struct {
	AmazonOrderID string       `json:"AmazonOrderId"`
	PurchaseDate  string       `json:"PurchaseDate"`
	OrderStatus   string       `json:"OrderStatus"`
	MarketplaceID string       `json:"MarketplaceId"`
	OrderTotal    *spMoney     `json:"OrderTotal"`
	BuyerInfo     *spBuyerInfo `json:"BuyerInfo"`
}

// spOrderItem is the SP-API OrderItem type
type spOrderItem struct {
	OrderItemID     string   `json:"OrderItemId"`
	ASIN            string   `json:"ASIN"`
	SellerSKU       string   `json:"SellerSKU"`
	Title           string   `json:"Title"`
	QuantityOrdered int      `json:"QuantityOrdered"`
	ItemPrice       *spMoney `json:"ItemPrice"`
}

// spError is one entry of the SP-API errors array
type spError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
}

// getOrdersResponse is the getOrders response envelope
type getOrdersResponse struct {
	Payload *struct {
		Orders    []spOrder `json:"Orders"`
		NextToken string    `json:"NextToken"`
	} `json:"payload"`
	Errors []spError `json:"errors"`
}

// getOrderItemsResponse is the getOrderItems response envelope
type getOrderItemsResponse struct {
	Payload *struct {
		AmazonOrderID string        `json:"AmazonOrderId"`
		OrderItems    []spOrderItem `json:"OrderItems"`
		NextToken     string        `json:"NextToken"`
	} `json:"payload"`
	Errors []spError `json:"errors"`
}

// getOrderResponse is the getOrder response envelope
type getOrderResponse struct {
	Payload *spOrder  `json:"payload"`
	Errors  []spError `json:"errors"`
}

// SP-API Finances v0 wire types.

// spCurrency is the Finances Currency type. The amount is kept as the JSON
// number text so no precision is lost.
type spCurrency struct {
	CurrencyCode   string      `json:"CurrencyCode"`
	CurrencyAmount json.Number `json:"CurrencyAmount"`
}

// spChargeComponent is a charge on a shipment item
type spChargeComponent struct {
	ChargeType   string      `json:"ChargeType"`
	ChargeAmount *spCurrency `json:"ChargeAmount"`
}

// spFeeComponent is a fee on a shipment item
type spFeeComponent struct {
	FeeType   string      `json:"FeeType"`
	FeeAmount *spCurrency `json:"FeeAmount"`
}

// spPromotion is a promotion on a shipment item
type spPromotion struct {
	PromotionType   string      `json:"PromotionType"`
	PromotionID     string      `json:"PromotionId"`
	PromotionAmount *spCurrency `json:"PromotionAmount"`
}

// spShipmentItem is a shipment item; refunds use the Adjustment lists
type spShipmentItem struct {
	SellerSKU                string              `json:"SellerSKU"`
	OrderItemID              string              `json:"OrderItemId"`
	QuantityShipped          int                 `json:"QuantityShipped"`
	ItemChargeList           []spChargeComponent `json:"ItemChargeList"`
	ItemChargeAdjustmentList []spChargeComponent `json:"ItemChargeAdjustmentList"`
	ItemFeeList              []spFeeComponent    `json:"ItemFeeList"`
	ItemFeeAdjustmentList    []spFeeComponent    `json:"ItemFeeAdjustmentList"`
	PromotionList            []spPromotion       `json:"PromotionList"`
	PromotionAdjustmentList  []spPromotion       `json:"PromotionAdjustmentList"`
}

// spShipmentEvent is a ShipmentEvent or RefundEvent
type spShipmentEvent struct {
	AmazonOrderID              string           `json:"AmazonOrderId"`
	PostedDate                 string           `json:"PostedDate"`
	ShipmentItemList           []spShipmentItem `json:"ShipmentItemList"`
	ShipmentItemAdjustmentList []spShipmentItem `json:"ShipmentItemAdjustmentList"`
}

// listFinancialEventsResponse is the listFinancialEventsByOrderId envelope
type listFinancialEventsResponse struct {
	Payload *struct {
		NextToken       string `json:"NextToken"`
		FinancialEvents struct {
			ShipmentEventList []spShipmentEvent `json:"ShipmentEventList"`
			RefundEventList   []spShipmentEvent `json:"RefundEventList"`
		} `json:"FinancialEvents"`
	} `json:"payload"`
	Errors []spError `json:"errors"`
}
