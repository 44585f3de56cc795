package detect

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/openfinsec/kestrel/internal/dataset"
	"github.com/openfinsec/kestrel/internal/domain"
)

// Transaction-type vocabularies for the deposit-to-withdrawal ratio.
// Matching is exact on the lowercased type cell.
var (
	depositTypes    = map[string]bool{"deposit": true, "dep": true, "credit": true, "cr": true}
	withdrawalTypes = map[string]bool{"withdrawal": true, "wd": true, "debit": true, "dr": true, "withdraw": true}
)

// featureMatrix is the per-entity behavioral profile extracted from a
// transaction view, plus the column statistics needed to standardize
// and to explain outliers afterward. The column set grows with what
// the dataset carries: channel and type columns add a feature each.
type featureMatrix struct {
	entities []string
	names    []string
	raw      [][]float64 // len(entities) x len(names)
	colMean  []float64
	colStd   []float64
}

// buildFeatures profiles each account's transaction behavior.
func buildFeatures(view *dataset.TransactionView) *featureMatrix {
	byEntity := make(map[string][]domain.TransactionRecord)
	var entities []string
	for _, rec := range view.Records {
		if _, ok := byEntity[rec.EntityID]; !ok {
			entities = append(entities, rec.EntityID)
		}
		byEntity[rec.EntityID] = append(byEntity[rec.EntityID], rec)
	}

	names := []string{
		"txn_count",
		"amount_mean",
		"amount_std",
		"amount_max",
		"active_days",
		"weekend_fraction",
		"late_night_fraction",
	}
	if view.Caps.Channel {
		names = append(names, "unique_channels")
	}
	if view.Caps.Type {
		names = append(names, "deposit_withdrawal_ratio")
	}

	m := &featureMatrix{entities: entities, names: names}
	for _, entity := range entities {
		recs := byEntity[entity]
		amounts := make([]float64, len(recs))
		days := make(map[int64]struct{})
		channels := make(map[string]struct{})
		weekend, lateNight := 0, 0
		depTotal, wdTotal := 0.0, 0.0
		for i, rec := range recs {
			amounts[i] = abs(rec.Amount)
			days[dayOf(rec.Timestamp).Unix()] = struct{}{}
			if wd := rec.Timestamp.Weekday(); wd == time.Saturday || wd == time.Sunday {
				weekend++
			}
			if h := rec.Timestamp.Hour(); h >= 22 || h < 6 {
				lateNight++
			}
			if rec.Channel != "" {
				channels[rec.Channel] = struct{}{}
			}
			kind := strings.ToLower(strings.TrimSpace(rec.Type))
			if depositTypes[kind] {
				depTotal += abs(rec.Amount)
			} else if withdrawalTypes[kind] {
				wdTotal += abs(rec.Amount)
			}
		}
		maxAmt := 0.0
		for _, a := range amounts {
			if a > maxAmt {
				maxAmt = a
			}
		}
		n := float64(len(recs))
		row := []float64{
			n,
			mean(amounts),
			stddev(amounts),
			maxAmt,
			float64(len(days)),
			float64(weekend) / n,
			float64(lateNight) / n,
		}
		if view.Caps.Channel {
			row = append(row, float64(len(channels)))
		}
		if view.Caps.Type {
			ratio := 0.0
			if wdTotal > 0 {
				ratio = depTotal / wdTotal
			}
			row = append(row, ratio)
		}
		m.raw = append(m.raw, row)
	}

	m.computeColumnStats()
	return m
}

func (m *featureMatrix) computeColumnStats() {
	cols := len(m.names)
	m.colMean = make([]float64, cols)
	m.colStd = make([]float64, cols)
	if len(m.raw) == 0 {
		return
	}
	for c := 0; c < cols; c++ {
		sum := 0.0
		for _, row := range m.raw {
			sum += row[c]
		}
		m.colMean[c] = sum / float64(len(m.raw))
	}
	for c := 0; c < cols; c++ {
		sq := 0.0
		for _, row := range m.raw {
			d := row[c] - m.colMean[c]
			sq += d * d
		}
		m.colStd[c] = math.Sqrt(sq / float64(len(m.raw)))
	}
}

// standardized returns the z-scored matrix. Constant columns map to
// zero instead of dividing by zero.
func (m *featureMatrix) standardized() [][]float64 {
	out := make([][]float64, len(m.raw))
	for i, row := range m.raw {
		z := make([]float64, len(row))
		for c, v := range row {
			if m.colStd[c] > 0 {
				z[c] = (v - m.colMean[c]) / m.colStd[c]
			}
		}
		out[i] = z
	}
	return out
}

// explain names the top contributing features for one row, ranked by
// absolute z-score, with the direction of the deviation.
func (m *featureMatrix) explain(row int, top int) []string {
	z := make([]float64, len(m.names))
	for c := range m.names {
		if m.colStd[c] > 0 {
			z[c] = (m.raw[row][c] - m.colMean[c]) / m.colStd[c]
		}
	}

	order := make([]int, len(z))
	for i := range order {
		order[i] = i
	}
	for i := 0; i < len(order); i++ {
		for j := i + 1; j < len(order); j++ {
			if math.Abs(z[order[j]]) > math.Abs(z[order[i]]) {
				order[i], order[j] = order[j], order[i]
			}
		}
	}

	if top > len(order) {
		top = len(order)
	}
	var lines []string
	for _, c := range order[:top] {
		if z[c] == 0 {
			continue
		}
		direction := "unusually high"
		if z[c] < 0 {
			direction = "unusually low"
		}
		lines = append(lines, fmt.Sprintf(
			"%s %s (%.2f vs population mean %.2f)",
			m.names[c], direction, m.raw[row][c], m.colMean[c],
		))
	}
	return lines
}
