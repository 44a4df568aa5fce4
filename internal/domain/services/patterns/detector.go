package patterns

import (
	"time"

	"github.com/google/uuid"

	"github.com/lumipay/risk-engine/internal/domain/entities"
	"github.com/lumipay/risk-engine/internal/infrastructure/config"
	"github.com/lumipay/risk-engine/pkg/money"
)

// Detector runs behavioral pattern checks over a snapshot of transaction
// edges. Every method is a pure function of its arguments: no storage, no
// clock reads, no mutation of the input slice. Callers load one snapshot
// per evaluation and pass the same now everywhere so the checks agree on
// what "recent" means.
type Detector struct {
	cfg config.RiskConfig
}

// NewDetector creates a pattern detector with the given thresholds.
func NewDetector(cfg config.RiskConfig) *Detector {
	return &Detector{cfg: cfg}
}

// Structuring flags many similar payments that together cross a reporting
// threshold while each stays small. Similarity is judged by mean absolute
// deviation relative to the mean: tightly clustered amounts score a low
// ratio, organic spending a high one.
func (d *Detector) Structuring(edges []entities.TransactionEdge, userID uuid.UUID, now time.Time) *entities.StructuringEvidence {
	cfg := d.cfg.Structuring
	since := now.Add(-d.cfg.StructuringWindow())

	var amounts []money.Amount
	var total money.Amount
	for _, e := range edges {
		if e.PayerID != userID || e.Timestamp.Before(since) {
			continue
		}
		amounts = append(amounts, e.Amount)
		total += e.Amount
	}

	if len(amounts) < cfg.MinCount || total < money.Amount(cfg.TotalThresholdCents) {
		return nil
	}

	mean := total / money.Amount(len(amounts))
	if mean == 0 || mean >= money.Amount(cfg.MeanCeilingCents) {
		return nil
	}

	var deviationSum money.Amount
	for _, a := range amounts {
		deviationSum += (a - mean).Abs()
	}
	mad := deviationSum / money.Amount(len(amounts))
	ratio := float64(mad) / float64(mean)
	if ratio >= cfg.DeviationRatio {
		return nil
	}

	return &entities.StructuringEvidence{
		Count:             len(amounts),
		TotalAmount:       total,
		MeanAmount:        mean,
		MeanAbsDeviation:  mad,
		DeviationRatio:    ratio,
		WindowSeconds:     int64(d.cfg.StructuringWindow().Seconds()),
		AmountThreshold:   money.Amount(cfg.TotalThresholdCents),
		MeanAmountCeiling: money.Amount(cfg.MeanCeilingCents),
	}
}

// BackAndForth flags repeated transfers between the same pair of users in
// either direction. The caller includes the payment under evaluation in
// the snapshot, so a threshold of 3 fires on the third transfer of the
// window.
func (d *Detector) BackAndForth(edges []entities.TransactionEdge, payerID, payeeID uuid.UUID, now time.Time) *entities.BackAndForthEvidence {
	cfg := d.cfg.BackAndForth
	since := now.Add(-d.cfg.BackAndForthWindow())

	count := 0
	for _, e := range edges {
		if e.Timestamp.Before(since) {
			continue
		}
		sameDirection := e.PayerID == payerID && e.PayeeID == payeeID
		reversed := e.PayerID == payeeID && e.PayeeID == payerID
		if sameDirection || reversed {
			count++
		}
	}

	if count < cfg.Threshold {
		return nil
	}
	return &entities.BackAndForthEvidence{
		CounterpartyID: payeeID,
		Count:          count,
		Threshold:      cfg.Threshold,
		WindowSeconds:  int64(d.cfg.BackAndForthWindow().Seconds()),
	}
}

// RapidTransactions flags a burst of outgoing payments in a short window.
func (d *Detector) RapidTransactions(edges []entities.TransactionEdge, userID uuid.UUID, now time.Time) *entities.RapidEvidence {
	cfg := d.cfg.Rapid
	since := now.Add(-d.cfg.RapidWindow())

	count := 0
	for _, e := range edges {
		if e.PayerID == userID && !e.Timestamp.Before(since) {
			count++
		}
	}

	if count < cfg.Threshold {
		return nil
	}
	return &entities.RapidEvidence{
		Count:         count,
		Threshold:     cfg.Threshold,
		WindowSeconds: int64(d.cfg.RapidWindow().Seconds()),
	}
}
