package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ClientName      string `json:"client_name"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	SessionID       string         `json:"session_id"`
	Grid            GridParams     `json:"grid"`
	Catalogs        CatalogDigests `json:"catalogs"`
}

type GridParams struct {
	Size       int        `json:"size"`
	CellSize   float64    `json:"cell_size"`
	Origin     [3]float64 `json:"origin"`
	TickRateHz int        `json:"tick_rate_hz"`
	Epoch      uint64     `json:"epoch"`
}

type CatalogDigests struct {
	BuildingsDigest string `json:"buildings_digest"`
	TuningDigest    string `json:"tuning_digest,omitempty"`
}

// CATALOG (server -> client): a chunk of catalog data.
// Each catalog is currently sent as a single part.
type CatalogMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	Name            string      `json:"name"`   // e.g. "buildings"
	Digest          string      `json:"digest"` // sha256 hex
	Part            int         `json:"part"`
	TotalParts      int         `json:"total_parts"`
	Data            interface{} `json:"data"`
}

// BuildingInfo is the client-facing form of one building definition.
type BuildingInfo struct {
	ID     string          `json:"id"`
	Name   string          `json:"name,omitempty"`
	Rows   []string        `json:"rows"`
	Center [2]int          `json:"center"`
	Bounds [][2][3]float64 `json:"bounds,omitempty"`
}

// Command ops. The first group drives the interactive builder session; the
// second is for headless clients that address cells directly. Resizing the
// grid is an admin operation and has no client op.
const (
	OpStart   = "START"
	OpHover   = "HOVER"
	OpPress   = "PRESS"
	OpConfirm = "CONFIRM"
	OpCancel  = "CANCEL"
	OpRotate  = "ROTATE"

	OpPlace      = "PLACE"
	OpRemove     = "REMOVE"
	OpCanPlace   = "CAN_PLACE"
	OpMassPlan   = "MASS_PLAN"
	OpMassCommit = "MASS_COMMIT"
)

// CMD (client -> server)
type CmdMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Seq             uint64 `json:"seq"`
	Op              string `json:"op"`

	Mode       string      `json:"mode,omitempty"`
	BuildingID string      `json:"building_id,omitempty"`
	Point      *[3]float64 `json:"point,omitempty"`
	Cell       *[2]int     `json:"cell,omitempty"`
	EndCell    *[2]int     `json:"end_cell,omitempty"`
	Handle     uint64      `json:"handle,omitempty"`
	Rotation   int         `json:"rotation,omitempty"`
	RotateDir  int         `json:"rotation_dir,omitempty"`
	DryRun     bool        `json:"dry_run,omitempty"`
}

type PlacedRef struct {
	Handle     uint64 `json:"handle"`
	BuildingID string `json:"building_id"`
	Anchor     [2]int `json:"anchor"`
	Rotation   int    `json:"rotation"`
}

// ACK (server -> client)
type AckMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	AckFor          uint64      `json:"ack_for"`
	Accepted        bool        `json:"accepted"`
	Code            string      `json:"code,omitempty"`
	Message         string      `json:"message,omitempty"`
	ServerTick      uint64      `json:"server_tick"`
	Valid           *bool       `json:"valid,omitempty"`
	Placed          []PlacedRef `json:"placed,omitempty"`
	Removed         []uint64    `json:"removed,omitempty"`
	Skipped         [][2]int    `json:"skipped,omitempty"`
	Tiles           [][2]int    `json:"tiles,omitempty"`
	Candidates      [][2]int    `json:"candidates,omitempty"`
}

// PREVIEW (server -> client): what the client's builder session would show.
type PreviewMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	Tick            uint64      `json:"tick"`
	Mode            string      `json:"mode"`
	BuildingID      string      `json:"building_id,omitempty"`
	Rotation        int         `json:"rotation"`
	Clear           bool        `json:"clear,omitempty"`
	Valid           bool        `json:"valid"`
	Anchor          *[2]int     `json:"anchor,omitempty"`
	World           *[3]float64 `json:"world,omitempty"`
	Tiles           [][2]int    `json:"tiles,omitempty"`
	Candidates      [][2]int    `json:"candidates,omitempty"`
	Highlight       uint64      `json:"highlight,omitempty"`
}

// GRID_EVENT (server -> client): one grid mutation, broadcast to every client.
type GridEventMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	Tick            uint64   `json:"tick"`
	Kind            string   `json:"kind"`
	Handle          uint64   `json:"handle,omitempty"`
	BuildingID      string   `json:"building_id,omitempty"`
	Anchor          [2]int   `json:"anchor"`
	Cells           [][2]int `json:"cells,omitempty"`
	Epoch           uint64   `json:"epoch"`
	GridSize        int      `json:"grid_size"`
}
