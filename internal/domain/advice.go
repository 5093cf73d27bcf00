package domain

// ShippingCost is the flat shipping estimate added to the listing price
// when computing buy advice.
const ShippingCost = 4.00

// Advice is the buy recommendation tier shown alongside a finding.
type Advice string

const (
	AdviceBuy   Advice = "BUY"
	AdviceMaybe Advice = "MAYBE"
	AdviceSkip  Advice = "SKIP"
)

// BuyAdvice computes the recommendation tier from the classifier
// confidence and the listing price. It is a pure function: total cost is
// price plus ShippingCost, and the tiers are
//
//	confidence >= 80 and total <= 20  -> BUY
//	confidence >= 60                  -> MAYBE
//	otherwise                         -> SKIP
func BuyAdvice(confidence int, priceAmount float64) Advice {
	total := priceAmount + ShippingCost
	switch {
	case confidence >= 80 && total <= 20:
		return AdviceBuy
	case confidence >= 60:
		return AdviceMaybe
	default:
		return AdviceSkip
	}
}
