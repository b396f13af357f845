package processor

import (
	"sync"
	"time"

	"github.com/vdiana16/SiemensJava2025/internal/domain"
)

// accumulator collects the outcomes of a single batch run.
// A processed item and its count are recorded under the same lock, so the
// snapshot can never report a count that differs from the number of records.
type accumulator struct {
	mu       sync.Mutex
	records  []domain.Item
	count    int
	notFound []domain.ItemID
	failures []domain.Failure
}

func newAccumulator(expected int) *accumulator {
	return &accumulator{
		records: make([]domain.Item, 0, expected),
	}
}

// record applies one terminal outcome
func (a *accumulator) record(o domain.Outcome) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch o.Kind {
	case domain.OutcomeProcessed:
		if o.Item == nil {
			a.failures = append(a.failures, domain.Failure{ID: o.ID, Err: errNilItem})
			return
		}
		a.records = append(a.records, *o.Item)
		a.count++
	case domain.OutcomeNotFound:
		a.notFound = append(a.notFound, o.ID)
	default:
		a.failures = append(a.failures, domain.Failure{ID: o.ID, Err: o.Err})
	}
}

// snapshot copies the accumulated state into a result the caller may keep
func (a *accumulator) snapshot(batchID string, startedAt time.Time) *domain.BatchResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	res := &domain.BatchResult{
		BatchID:    batchID,
		Records:    make([]domain.Item, len(a.records)),
		Count:      a.count,
		NotFound:   make([]domain.ItemID, len(a.notFound)),
		Failures:   make([]domain.Failure, len(a.failures)),
		StartedAt:  startedAt,
		FinishedAt: time.Now(),
	}
	copy(res.Records, a.records)
	copy(res.NotFound, a.notFound)
	copy(res.Failures, a.failures)
	return res
}
