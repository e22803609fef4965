package domain

import "math"

const (
	// TaxRate is the GST fraction applied to the item subtotal.
	TaxRate = 0.18
	// FreeShippingThreshold is the item subtotal above which shipping is free.
	FreeShippingThreshold = 500.0
	// FlatShippingFee is charged when the subtotal does not qualify for free shipping.
	FlatShippingFee = 50.0
)

// Pricing holds the monetary breakdown of an order in rupees, each component
// rounded to two decimal places.
type Pricing struct {
	ItemsPrice    float64
	TaxPrice      float64
	ShippingPrice float64
	TotalPrice    float64
}

// ComputePricing derives the pricing breakdown for the given line items:
// subtotal, 18% tax, flat shipping waived above the free-shipping threshold.
func ComputePricing(items []OrderItem) Pricing {
	var itemsPrice float64
	for _, item := range items {
		itemsPrice += item.Price * float64(item.Quantity)
	}

	taxPrice := itemsPrice * TaxRate
	shippingPrice := FlatShippingFee
	if itemsPrice > FreeShippingThreshold {
		shippingPrice = 0
	}

	return Pricing{
		ItemsPrice:    RoundMoney(itemsPrice),
		TaxPrice:      RoundMoney(taxPrice),
		ShippingPrice: RoundMoney(shippingPrice),
		TotalPrice:    RoundMoney(itemsPrice + taxPrice + shippingPrice),
	}
}

// MinorUnits converts a rupee amount to integer paise for gateway calls.
func MinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// RoundMoney rounds a rupee amount half-away-from-zero to two decimals.
func RoundMoney(amount float64) float64 {
	return math.Round(amount*100) / 100
}
