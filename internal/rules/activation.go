package rules

import (
	"time"

	"github.com/openfinsec/kestrel/internal/dataset"
)

// activationSet holds one CEL activation map per entity, in first-seen
// order.
type activationSet struct {
	order    []string
	byEntity map[string]map[string]any
}

// buildActivations rolls the transaction view up into the aggregate
// variables the CEL environment declares.
func buildActivations(view *dataset.TransactionView) *activationSet {
	type agg struct {
		count         int64
		total         float64
		max           float64
		days          map[int64]struct{}
		channels      map[string]struct{}
		devices       map[string]struct{}
		recipients    map[string]struct{}
		transferTotal float64
		transferCount int64
	}

	set := &activationSet{byEntity: make(map[string]map[string]any)}
	aggs := make(map[string]*agg)
	for _, rec := range view.Records {
		a, ok := aggs[rec.EntityID]
		if !ok {
			a = &agg{
				days:       make(map[int64]struct{}),
				channels:   make(map[string]struct{}),
				devices:    make(map[string]struct{}),
				recipients: make(map[string]struct{}),
			}
			aggs[rec.EntityID] = a
			set.order = append(set.order, rec.EntityID)
		}
		amt := rec.Amount
		if amt < 0 {
			amt = -amt
		}
		a.count++
		a.total += amt
		if amt > a.max {
			a.max = amt
		}
		a.days[rec.Timestamp.Truncate(24*time.Hour).Unix()] = struct{}{}
		if rec.Channel != "" {
			a.channels[rec.Channel] = struct{}{}
		}
		if rec.Device != "" {
			a.devices[rec.Device] = struct{}{}
		}
		if rec.Destination != "" {
			a.recipients[rec.Destination] = struct{}{}
			a.transferTotal += amt
			a.transferCount++
		}
	}

	for _, entity := range set.order {
		a := aggs[entity]
		mean := 0.0
		if a.count > 0 {
			mean = a.total / float64(a.count)
		}
		set.byEntity[entity] = map[string]any{
			"entity_id":           entity,
			"txn_count":           a.count,
			"amount_total":        a.total,
			"amount_max":          a.max,
			"amount_mean":         mean,
			"active_days":         int64(len(a.days)),
			"distinct_channels":   int64(len(a.channels)),
			"distinct_devices":    int64(len(a.devices)),
			"distinct_recipients": int64(len(a.recipients)),
			"transfer_total":      a.transferTotal,
			"transfer_count":      a.transferCount,
		}
	}
	return set
}
