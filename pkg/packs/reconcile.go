package packs

// Reconciliation compares a declared payment total with the line items.
type Reconciliation struct {
	DeclaredCents    int64 `json:"declaredCents"`
	ComputedCents    int64 `json:"computedCents"`
	DiscrepancyCents int64 `json:"discrepancyCents"`
	Consistent       bool  `json:"consistent"`
}

// ReconcileDistribution recomputes the sum of payments and compares it with
// the declared total. Builders never reject a discrepancy; this is the
// post-hoc check over what was sealed.
func ReconcileDistribution(in PaymentDistributionInput) Reconciliation {
	return reconcile(in.TotalCents, in.Payments)
}

// ReconcilePayloads performs the same check over the two artifacts of a
// payment_distribution pack as they were hashed.
func ReconcilePayloads(summary DistributionSummary, details []Payment) Reconciliation {
	return reconcile(summary.TotalCents, details)
}

func reconcile(declared int64, payments []Payment) Reconciliation {
	var computed int64
	for _, p := range payments {
		computed += p.AmountCents
	}
	return Reconciliation{
		DeclaredCents:    declared,
		ComputedCents:    computed,
		DiscrepancyCents: declared - computed,
		Consistent:       declared == computed,
	}
}
