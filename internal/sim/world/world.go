package world

import (
	"fmt"
	"io"
	"log"
	"sync/atomic"

	"github.com/zyedidia/generic/mapset"

	"gridbuild.dev/internal/persistence/snapshot"
	"gridbuild.dev/internal/protocol"
	"gridbuild.dev/internal/sim/builder"
	"gridbuild.dev/internal/sim/catalogs"
	"gridbuild.dev/internal/sim/occupancy"
)

type WorldConfig struct {
	ID         string
	TickRateHz int

	GridSize int
	CellSize float64
	Origin   [3]float64

	// MaxGridSize bounds admin resizes. 0 means occupancy.MaxSize.
	MaxGridSize int

	SnapshotEveryTicks int
	MassMaxTiles       int
	RateLimits         RateLimitConfig
	// TuningDigest is echoed in WELCOME so clients can detect config drift.
	TuningDigest string

	// Logger receives operational warnings. Nil discards them.
	Logger *log.Logger
}

type RateLimitConfig struct {
	PlaceWindowTicks      int
	PlaceMax              int
	MassCommitWindowTicks int
	MassCommitMax         int
}

func (c *WorldConfig) applyDefaults() {
	if c.ID == "" {
		c.ID = "GRID"
	}
	if c.TickRateHz <= 0 {
		c.TickRateHz = 10
	}
	if c.GridSize <= 0 {
		c.GridSize = 64
	}
	if !(c.CellSize > 0) {
		c.CellSize = 1
	}
	if c.SnapshotEveryTicks < 0 {
		c.SnapshotEveryTicks = 0
	}
	if c.Logger == nil {
		c.Logger = log.New(io.Discard, "", 0)
	}
}

// JoinRequest attaches a client session. SessionID is chosen by the caller so
// recorded ticks can be replayed with the same identities.
type JoinRequest struct {
	SessionID string
	Name      string
	Out       chan []byte
	Resp      chan JoinResponse
}

type JoinResponse struct {
	Welcome  protocol.WelcomeMsg
	Catalogs []protocol.CatalogMsg
}

type CommandEnvelope struct {
	SessionID string
	Cmd       protocol.CmdMsg
}

type RecordedJoin struct {
	SessionID string `json:"session_id"`
	Name      string `json:"name"`
}

type RecordedCommand struct {
	SessionID string          `json:"session_id"`
	Cmd       protocol.CmdMsg `json:"cmd"`
}

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

type AuditLogger interface {
	WriteAudit(entry AuditEntry) error
}

type TickLogEntry struct {
	Tick     uint64            `json:"tick"`
	Joins    []RecordedJoin    `json:"joins,omitempty"`
	Leaves   []string          `json:"leaves,omitempty"`
	Commands []RecordedCommand `json:"commands,omitempty"`
	Resize   int               `json:"resize,omitempty"`
	Digest   string            `json:"digest"`
}

type AuditEntry struct {
	Tick       uint64 `json:"tick"`
	Actor      string `json:"actor"`
	Action     string `json:"action"` // PLACE, REMOVE or RESIZE
	Handle     uint64 `json:"handle,omitempty"`
	BuildingID string `json:"building_id,omitempty"`
	Anchor     [2]int `json:"anchor"`
	Rotation   int    `json:"rotation"`
	Cells      int    `json:"cells"`
	Epoch      uint64 `json:"epoch"`
}

// World is a single-threaded authoritative simulation.
// All state must be accessed only from the world loop goroutine.
type World struct {
	cfg      WorldConfig
	catalogs *catalogs.Catalogs
	log      *log.Logger

	tick    atomic.Uint64
	metrics atomic.Value

	grid   *occupancy.Grid
	picker *boundsIndex

	clients map[string]*clientState
	// joinOrder keeps client iteration deterministic.
	joinOrder []string
	dirty     mapset.Set[string]

	inbox chan CommandEnvelope
	join  chan JoinRequest
	leave chan string
	admin chan adminReq
	stop  chan struct{}

	// Optional loggers (may be nil). Implemented in internal/persistence/*.
	tickLogger  TickLogger
	auditLogger AuditLogger

	// Optional snapshot sink (may be nil). Snapshot writing should be off-thread.
	snapshotSink chan<- snapshot.SnapshotV1

	// Set while a command is applied so grid changes can be attributed.
	actor         string
	pendingEvents []protocol.GridEventMsg
	// resized is the size an admin resize applied since the last tick, written
	// to that tick's log entry so replays repeat it.
	resized int

	placedTotal  uint64
	removedTotal uint64
	resizeTotal  uint64
	rejectTotal  uint64
}

type clientState struct {
	ID      string
	Name    string
	Out     chan []byte
	Session *builder.Session
	Preview *clientPreviewer

	rl map[string]*rateWindow

	Placed  int
	Removed int
}

func (c *clientState) OnPlaced(occupancy.Record)  { c.Placed++ }
func (c *clientState) OnRemoved(occupancy.Handle) { c.Removed++ }

func New(cfg WorldConfig, cats *catalogs.Catalogs) (*World, error) {
	cfg.applyDefaults()
	if cats == nil {
		return nil, fmt.Errorf("nil catalogs")
	}
	g, err := occupancy.New(occupancy.Config{
		Size:     cfg.GridSize,
		CellSize: cfg.CellSize,
		Origin:   occupancy.Point{X: cfg.Origin[0], Y: cfg.Origin[1], Z: cfg.Origin[2]},
		MaxSize:  cfg.MaxGridSize,
	})
	if err != nil {
		return nil, err
	}
	w := &World{
		cfg:      cfg,
		catalogs: cats,
		log:      cfg.Logger,
		grid:     g,
		clients:  map[string]*clientState{},
		dirty:    mapset.New[string](),
		inbox:    make(chan CommandEnvelope, 1024),
		join:     make(chan JoinRequest, 64),
		leave:    make(chan string, 64),
		admin:    make(chan adminReq, 16),
		stop:     make(chan struct{}),
	}
	w.picker = newBoundsIndex(g, cats)
	g.Subscribe(w.onGridChange)
	w.metrics.Store(WorldMetrics{})
	return w, nil
}

func (w *World) ID() string {
	if w == nil {
		return ""
	}
	return w.cfg.ID
}

func (w *World) TickRateHz() int {
	if w == nil {
		return 0
	}
	return w.cfg.TickRateHz
}

// Grid exposes the occupancy grid. It must only be used from the world loop
// goroutine or while the world is stopped.
func (w *World) Grid() *occupancy.Grid { return w.grid }

func (w *World) Catalogs() *catalogs.Catalogs { return w.catalogs }
