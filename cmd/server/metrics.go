package main

import (
	"fmt"
	"io"

	"gridbuild.dev/internal/persistence/indexdb"
	"gridbuild.dev/internal/sim/world"
)

// writeMetrics renders a minimal Prometheus exposition. idx may be nil.
func writeMetrics(out io.Writer, worldID string, m world.WorldMetrics, idx *indexdb.SQLiteIndex, observerStreams int64) {
	gauge := func(name, help string) {
		fmt.Fprintf(out, "# HELP %s %s\n", name, help)
		fmt.Fprintf(out, "# TYPE %s gauge\n", name)
	}
	counter := func(name, help string) {
		fmt.Fprintf(out, "# HELP %s %s\n", name, help)
		fmt.Fprintf(out, "# TYPE %s counter\n", name)
	}

	gauge("gridbuild_world_tick", "Current world tick.")
	fmt.Fprintf(out, "gridbuild_world_tick{world=%q} %d\n", worldID, m.Tick)

	gauge("gridbuild_world_clients", "Current number of builder sessions.")
	fmt.Fprintf(out, "gridbuild_world_clients{world=%q} %d\n", worldID, m.Clients)

	gauge("gridbuild_grid_placements", "Buildings currently on the grid.")
	fmt.Fprintf(out, "gridbuild_grid_placements{world=%q} %d\n", worldID, m.Placements)

	gauge("gridbuild_grid_blocked_cells", "Blocked cells on the grid.")
	fmt.Fprintf(out, "gridbuild_grid_blocked_cells{world=%q} %d\n", worldID, m.BlockedCells)

	gauge("gridbuild_grid_size", "Grid side length in cells.")
	fmt.Fprintf(out, "gridbuild_grid_size{world=%q} %d\n", worldID, m.GridSize)

	gauge("gridbuild_grid_epoch", "Number of grid resizes.")
	fmt.Fprintf(out, "gridbuild_grid_epoch{world=%q} %d\n", worldID, m.Epoch)

	gauge("gridbuild_pick_indexed", "Placements in the picking index.")
	fmt.Fprintf(out, "gridbuild_pick_indexed{world=%q} %d\n", worldID, m.PickIndexed)

	counter("gridbuild_grid_ops_total", "Grid mutations by kind.")
	fmt.Fprintf(out, "gridbuild_grid_ops_total{world=%q,op=%q} %d\n", worldID, "place", m.PlacedTotal)
	fmt.Fprintf(out, "gridbuild_grid_ops_total{world=%q,op=%q} %d\n", worldID, "remove", m.RemovedTotal)
	fmt.Fprintf(out, "gridbuild_grid_ops_total{world=%q,op=%q} %d\n", worldID, "resize", m.ResizeTotal)

	counter("gridbuild_commands_rejected_total", "Commands answered with an error code.")
	fmt.Fprintf(out, "gridbuild_commands_rejected_total{world=%q} %d\n", worldID, m.RejectedTotal)

	gauge("gridbuild_world_queue_depth", "Channel backlog depth.")
	fmt.Fprintf(out, "gridbuild_world_queue_depth{world=%q,queue=%q} %d\n", worldID, "inbox", m.QueueDepths.Inbox)
	fmt.Fprintf(out, "gridbuild_world_queue_depth{world=%q,queue=%q} %d\n", worldID, "join", m.QueueDepths.Join)
	fmt.Fprintf(out, "gridbuild_world_queue_depth{world=%q,queue=%q} %d\n", worldID, "leave", m.QueueDepths.Leave)
	fmt.Fprintf(out, "gridbuild_world_queue_depth{world=%q,queue=%q} %d\n", worldID, "admin", m.QueueDepths.Admin)

	gauge("gridbuild_world_step_ms", "Last tick step duration in milliseconds.")
	fmt.Fprintf(out, "gridbuild_world_step_ms{world=%q} %.3f\n", worldID, m.StepMS)

	gauge("gridbuild_observer_streams", "Open observer state streams.")
	fmt.Fprintf(out, "gridbuild_observer_streams{world=%q} %d\n", worldID, observerStreams)

	if idx == nil {
		return
	}
	s := idx.Stats()
	gauge("gridbuild_index_queue_depth", "Pending index writes.")
	fmt.Fprintf(out, "gridbuild_index_queue_depth{world=%q} %d\n", worldID, s.QueueDepth)
	gauge("gridbuild_index_queue_capacity", "Index write queue capacity.")
	fmt.Fprintf(out, "gridbuild_index_queue_capacity{world=%q} %d\n", worldID, s.QueueCap)
	counter("gridbuild_index_dropped_total", "Index writes dropped because the queue was full.")
	fmt.Fprintf(out, "gridbuild_index_dropped_total{world=%q,kind=%q} %d\n", worldID, "tick", s.DropTickTotal)
	fmt.Fprintf(out, "gridbuild_index_dropped_total{world=%q,kind=%q} %d\n", worldID, "audit", s.DropAuditTotal)
	fmt.Fprintf(out, "gridbuild_index_dropped_total{world=%q,kind=%q} %d\n", worldID, "snapshot", s.DropSnapshotTotal)
}
