package app

import (
	"context"
	"encoding/json"
	"sync"

	"spacescape-service/internal/domain"
	"go.uber.org/zap"
)

// Conn is the outbound side of one client connection.
type Conn interface {
	Send(data []byte) error
}

// RoomRepository abstracts where rooms live (in-memory, Redis-backed, etc).
type RoomRepository interface {
	Insert(room *Room) error
	Get(roomID string) (*Room, bool)
	DeleteIfEmpty(roomID string) bool
	// Save snapshots the room. It is best-effort and never fails the caller.
	Save(ctx context.Context, room *Room)
	Count() int
}

type connEntry struct {
	conn   Conn
	roomID string
}

// Registry owns every room and the connection -> room association.
type Registry struct {
	rooms     RoomRepository
	maxCycles int
	log       *zap.Logger

	mu          sync.RWMutex
	conns       map[string]connEntry
	onDestroyed []func(roomID string)
}

func NewRegistry(rooms RoomRepository, maxCycles int, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		rooms:     rooms,
		maxCycles: maxCycles,
		log:       log,
		conns:     make(map[string]connEntry),
	}
}

// CreateRoom builds a fresh room under id with nickname as its captain. The
// room is only published once the captain is in, so no join can overtake it.
func (g *Registry) CreateRoom(id, nickname, connID string) (*Room, domain.GameState, error) {
	room := NewRoom(id, g.maxCycles)
	state, err := room.AddPlayer(nickname, connID)
	if err != nil {
		return nil, domain.GameState{}, err
	}
	if err := g.rooms.Insert(room); err != nil {
		return nil, domain.GameState{}, err
	}
	g.log.Info("room created", zap.String("room_id", id), zap.String("player", state.Room.Captain))
	return room, state, nil
}

func (g *Registry) Room(id string) (*Room, bool) {
	return g.rooms.Get(id)
}

// OnRoomDestroyed registers fn to run after a room is destroyed. fn may be
// called from inside a broadcast and must not block.
func (g *Registry) OnRoomDestroyed(fn func(roomID string)) {
	g.mu.Lock()
	g.onDestroyed = append(g.onDestroyed, fn)
	g.mu.Unlock()
}

// DiscardIfEmpty destroys the room when nobody is in it.
func (g *Registry) DiscardIfEmpty(id string) bool {
	if !g.rooms.DeleteIfEmpty(id) {
		return false
	}
	g.log.Info("room destroyed", zap.String("room_id", id))

	g.mu.RLock()
	hooks := append([]func(string){}, g.onDestroyed...)
	g.mu.RUnlock()
	for _, fn := range hooks {
		fn(id)
	}
	return true
}

func (g *Registry) RoomCount() int {
	return g.rooms.Count()
}

// ConnectionRoom returns the room a connection belongs to.
func (g *Registry) ConnectionRoom(connID string) (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	entry, ok := g.conns[connID]
	if !ok {
		return "", false
	}
	return entry.roomID, true
}

// RegisterConnection binds a connection to a room. A connection belongs to at
// most one room, so a later registration replaces the earlier one.
func (g *Registry) RegisterConnection(connID string, conn Conn, roomID string) {
	g.mu.Lock()
	g.conns[connID] = connEntry{conn: conn, roomID: roomID}
	g.mu.Unlock()
}

// RemoveConnection drops the association, removes the connection's player and
// destroys the room once it is empty. The remaining players get a fresh state.
func (g *Registry) RemoveConnection(connID string) (roomID string, destroyed bool) {
	g.mu.Lock()
	entry, ok := g.conns[connID]
	delete(g.conns, connID)
	g.mu.Unlock()
	if !ok {
		return "", false
	}

	room, ok := g.rooms.Get(entry.roomID)
	if !ok {
		return entry.roomID, false
	}
	nickname, removed := room.RemoveByConn(connID)
	if removed {
		g.log.Info("player left",
			zap.String("room_id", entry.roomID),
			zap.String("conn_id", connID),
			zap.String("player", nickname),
		)
	}
	if room.IsEmpty() {
		return entry.roomID, g.DiscardIfEmpty(entry.roomID)
	}
	if removed {
		g.BroadcastState(entry.roomID)
	}
	return entry.roomID, false
}

// BroadcastToRoom serializes once and sends to every connection of the room.
// A failed send counts as a disconnect of that connection only.
func (g *Registry) BroadcastToRoom(roomID string, event domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	type target struct {
		id   string
		conn Conn
	}
	g.mu.RLock()
	targets := make([]target, 0, len(g.conns))
	for id, entry := range g.conns {
		if entry.roomID == roomID {
			targets = append(targets, target{id: id, conn: entry.conn})
		}
	}
	g.mu.RUnlock()

	var failed []string
	for _, t := range targets {
		if err := t.conn.Send(data); err != nil {
			g.log.Warn("broadcast send failed",
				zap.String("room_id", roomID),
				zap.String("conn_id", t.id),
				zap.Error(err),
			)
			failed = append(failed, t.id)
		}
	}
	for _, id := range failed {
		g.RemoveConnection(id)
	}
	return nil
}

// BroadcastState sends the room's current snapshot, then hands it to the
// repository. Players never wait on the snapshot write.
func (g *Registry) BroadcastState(roomID string) {
	room, ok := g.rooms.Get(roomID)
	if !ok {
		return
	}
	if err := g.BroadcastToRoom(roomID, domain.GameStateEvent(room.State())); err != nil {
		g.log.Error("broadcast state", zap.String("room_id", roomID), zap.Error(err))
	}
	if live, ok := g.rooms.Get(roomID); ok && live == room {
		g.rooms.Save(context.Background(), room)
	}
}

func (g *Registry) BroadcastChat(roomID string, msg domain.ChatMessage) {
	if err := g.BroadcastToRoom(roomID, domain.ChatEvent(msg)); err != nil {
		g.log.Error("broadcast chat", zap.String("room_id", roomID), zap.Error(err))
	}
}

// SendTo delivers an event to a single connection.
func (g *Registry) SendTo(connID string, event domain.Event) error {
	g.mu.RLock()
	entry, ok := g.conns[connID]
	g.mu.RUnlock()
	if !ok {
		return domain.ErrNotConnected
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := entry.conn.Send(data); err != nil {
		g.RemoveConnection(connID)
		return err
	}
	return nil
}
