package main

import (
	"encoding/json"
	"flag"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"gridbuild.dev/internal/protocol"
)

// bot drives the interactive builder session like a player would: pick a
// building, hover somewhere, confirm; now and then drag a row of roads.
type bot struct {
	conn *websocket.Conn
	log  *log.Logger
	rng  *rand.Rand

	seq       uint64
	grid      protocol.GridParams
	buildings []string
}

func main() {
	var (
		url   = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name  = flag.String("name", "bot", "client name")
		every = flag.Duration("every", time.Second, "delay between actions")
		seed  = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, ClientName: *name}); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	b := &bot{conn: conn, log: logger, rng: rand.New(rand.NewSource(*seed))}

	msgs := make(chan []byte, 64)
	go func() {
		defer close(msgs)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			msgs <- msg
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	ticker := time.NewTicker(*every)
	defer ticker.Stop()

	for round := 0; ; {
		select {
		case <-stop:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			b.handle(msg)
		case <-ticker.C:
			if b.grid.Size == 0 || len(b.buildings) == 0 {
				continue
			}
			round++
			if round%5 == 0 {
				b.dragRoads()
			} else {
				b.placeOne()
			}
		}
	}
}

func (b *bot) handle(msg []byte) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return
	}
	switch base.Type {
	case protocol.TypeWelcome:
		var w protocol.WelcomeMsg
		if json.Unmarshal(msg, &w) == nil {
			b.grid = w.Grid
			b.log.Printf("WELCOME session=%s grid=%d cell=%g", w.SessionID, w.Grid.Size, w.Grid.CellSize)
		}
	case protocol.TypeCatalog:
		var c struct {
			Name string                  `json:"name"`
			Data []protocol.BuildingInfo `json:"data"`
		}
		if json.Unmarshal(msg, &c) == nil && c.Name == "buildings" {
			for _, bi := range c.Data {
				b.buildings = append(b.buildings, bi.ID)
			}
		}
	case protocol.TypeAck:
		var a protocol.AckMsg
		if json.Unmarshal(msg, &a) != nil {
			return
		}
		if !a.Accepted {
			b.log.Printf("ack seq=%d rejected %s: %s", a.AckFor, a.Code, a.Message)
		} else if len(a.Placed) > 0 {
			b.log.Printf("ack seq=%d placed=%d skipped=%d", a.AckFor, len(a.Placed), len(a.Skipped))
		}
	case protocol.TypeGridEvent:
		var ev protocol.GridEventMsg
		if json.Unmarshal(msg, &ev) == nil && ev.Kind == "RESIZED" {
			b.grid.Size, b.grid.Epoch = ev.GridSize, ev.Epoch
			b.log.Printf("grid resized to %d (epoch %d)", ev.GridSize, ev.Epoch)
		}
	}
}

func (b *bot) send(c protocol.CmdMsg) {
	b.seq++
	c.Type, c.ProtocolVersion, c.Seq = protocol.TypeCmd, protocol.Version, b.seq
	if err := b.conn.WriteJSON(c); err != nil {
		b.log.Printf("send %s: %v", c.Op, err)
	}
}

// point returns the world-space center of a random cell.
func (b *bot) point() *[3]float64 {
	cs := b.grid.CellSize
	x := float64(b.rng.Intn(b.grid.Size))
	z := float64(b.rng.Intn(b.grid.Size))
	o := b.grid.Origin
	return &[3]float64{o[0] + (x+0.5)*cs, o[1], o[2] + (z+0.5)*cs}
}

func (b *bot) placeOne() {
	id := b.buildings[b.rng.Intn(len(b.buildings))]
	b.send(protocol.CmdMsg{Op: protocol.OpStart, Mode: "SINGLE", BuildingID: id})
	if b.rng.Intn(2) == 0 {
		b.send(protocol.CmdMsg{Op: protocol.OpRotate, RotateDir: 1})
	}
	b.send(protocol.CmdMsg{Op: protocol.OpHover, Point: b.point()})
	b.send(protocol.CmdMsg{Op: protocol.OpConfirm})
	b.send(protocol.CmdMsg{Op: protocol.OpCancel})
}

func (b *bot) dragRoads() {
	n := b.grid.Size
	z := b.rng.Intn(n)
	x0 := b.rng.Intn(n)
	x1 := b.rng.Intn(n)
	b.send(protocol.CmdMsg{Op: protocol.OpMassCommit, BuildingID: "ROAD", Cell: &[2]int{x0, z}, EndCell: &[2]int{x1, z}})
}
