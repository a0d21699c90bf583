package domain

// Transition tables for the three entity families. A state absent from
// its table, or present with an empty set, is terminal.

var paymentTransitions = map[PaymentState][]PaymentState{
	PaymentCreated:    {PaymentAuthorized, PaymentDeclined},
	PaymentAuthorized: {PaymentCaptured, PaymentReversed},
	PaymentCaptured:   {PaymentSettled, PaymentChargeback},
	PaymentSettled:    {},
	PaymentDeclined:   {},
	PaymentReversed:   {},
	PaymentChargeback: {},
}

var refundTransitions = map[RefundState][]RefundState{
	RefundCreated:         {RefundPendingApproval},
	RefundPendingApproval: {RefundApproved, RefundFailed},
	RefundApproved:        {RefundSucceeded, RefundFailed},
	RefundSucceeded:       {},
	RefundFailed:          {},
}

var disputeTransitions = map[DisputeState][]DisputeState{
	DisputeOpened:      {DisputeUnderReview},
	DisputeUnderReview: {DisputeWon, DisputeLost},
	DisputeWon:         {},
	DisputeLost:        {},
}

// CanTransitionPayment reports whether current -> target is allowed.
func CanTransitionPayment(current, target PaymentState) bool {
	for _, s := range paymentTransitions[current] {
		if s == target {
			return true
		}
	}
	return false
}

func CanTransitionRefund(current, target RefundState) bool {
	for _, s := range refundTransitions[current] {
		if s == target {
			return true
		}
	}
	return false
}

func CanTransitionDispute(current, target DisputeState) bool {
	for _, s := range disputeTransitions[current] {
		if s == target {
			return true
		}
	}
	return false
}
