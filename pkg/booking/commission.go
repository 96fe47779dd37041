package booking

import "fmt"

// commissionValueDivisor converts hundredth-of-a-percent policy values
// into a fraction: subtotal * 1500 / 10000 = 15.00%.
const commissionValueDivisor = 10000

// ComputeQuote derives the monetary breakdown for a booking. Pure: no
// I/O, deterministic for given inputs. All amounts are cents.
//
// The commission is deducted from the driver's payout, never added to
// the rider's charge, so TotalCents always equals SubtotalCents.
func ComputeQuote(pricePerSeatCents int64, seats int, policy CommissionPolicy) (Quote, error) {
	if pricePerSeatCents < 0 {
		return Quote{}, fmt.Errorf("%w: negative price", ErrInvalidAmountCents)
	}
	if seats <= 0 {
		return Quote{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidSeatCount)
	}
	if policy.Value < 0 {
		return Quote{}, fmt.Errorf("%w: negative commission value", ErrInvalidAmountCents)
	}

	subtotal := pricePerSeatCents * int64(seats)

	var commission int64
	switch policy.Type {
	case CommissionPercent:
		commission = roundHalfUp(subtotal*policy.Value, commissionValueDivisor)
	case CommissionFlat:
		commission = policy.Value
		if commission > subtotal {
			commission = subtotal
		}
	default:
		return Quote{}, fmt.Errorf("%w: %q", ErrInvalidCommissionType, policy.Type)
	}

	return Quote{
		SubtotalCents:   subtotal,
		CommissionCents: commission,
		TotalCents:      subtotal,
	}, nil
}

// roundHalfUp divides numerator by divisor rounding halves away from zero.
// Inputs are non-negative here; divisor is a positive constant.
func roundHalfUp(numerator int64, divisor int64) int64 {
	return (numerator + divisor/2) / divisor
}
