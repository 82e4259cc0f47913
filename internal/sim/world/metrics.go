package world

// WorldMetrics is a thread-safe read-only view of key world runtime signals.
// It is updated from the world loop goroutine and read from HTTP handlers/tests.
type WorldMetrics struct {
	Tick uint64 `json:"tick"`

	Clients      int    `json:"clients"`
	Placements   int    `json:"placements"`
	BlockedCells int    `json:"blocked_cells"`
	GridSize     int    `json:"grid_size"`
	Epoch        uint64 `json:"epoch"`
	PickIndexed  int    `json:"pick_indexed"`

	PlacedTotal   uint64 `json:"placed_total"`
	RemovedTotal  uint64 `json:"removed_total"`
	ResizeTotal   uint64 `json:"resize_total"`
	RejectedTotal uint64 `json:"rejected_total"`

	QueueDepths QueueDepths `json:"queue_depths"`

	StepMS float64 `json:"step_ms"`
}

type QueueDepths struct {
	Inbox int `json:"inbox"`
	Join  int `json:"join"`
	Leave int `json:"leave"`
	Admin int `json:"admin"`
}

func (w *World) Metrics() WorldMetrics {
	if w == nil {
		return WorldMetrics{}
	}
	v := w.metrics.Load()
	if v == nil {
		return WorldMetrics{}
	}
	m, ok := v.(WorldMetrics)
	if !ok {
		return WorldMetrics{}
	}
	return m
}

func (w *World) storeMetrics(tick uint64, stepMS float64) {
	w.metrics.Store(WorldMetrics{
		Tick:          tick,
		Clients:       len(w.clients),
		Placements:    w.grid.Len(),
		BlockedCells:  w.grid.BlockedCount(),
		GridSize:      w.grid.Size(),
		Epoch:         w.grid.Epoch(),
		PickIndexed:   w.picker.Len(),
		PlacedTotal:   w.placedTotal,
		RemovedTotal:  w.removedTotal,
		ResizeTotal:   w.resizeTotal,
		RejectedTotal: w.rejectTotal,
		QueueDepths: QueueDepths{
			Inbox: len(w.inbox),
			Join:  len(w.join),
			Leave: len(w.leave),
			Admin: len(w.admin),
		},
		StepMS: stepMS,
	})
}
