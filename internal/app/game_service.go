package app

import (
	"context"
	"strings"

	"spacescape-service/internal/domain"
	"go.uber.org/zap"
)

// SnapshotLoader reads the last persisted state of a room that may no longer
// be live in this process.
type SnapshotLoader interface {
	LoadSnapshot(ctx context.Context, roomID string) (domain.GameState, bool, error)
}

// GameService contains the player-facing use cases. Every method is keyed by
// the connection that issued it.
type GameService struct {
	registry   *Registry
	controller *Controller
	results    ResultRecorder
	snapshots  SnapshotLoader
	log        *zap.Logger
}

func NewGameService(registry *Registry, controller *Controller, results ResultRecorder, snapshots SnapshotLoader, log *zap.Logger) *GameService {
	if log == nil {
		log = zap.NewNop()
	}
	return &GameService{
		registry:   registry,
		controller: controller,
		results:    results,
		snapshots:  snapshots,
		log:        log,
	}
}

// CreateRoom opens a room with the sender as captain. The creator receives
// ROOM_CREATED followed by GAME_STATE.
func (s *GameService) CreateRoom(connID string, conn Conn, roomID, nickname string) error {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" || strings.TrimSpace(nickname) == "" {
		return domain.ErrBadRequest
	}
	s.leaveCurrent(connID)

	_, state, err := s.registry.CreateRoom(roomID, nickname, connID)
	if err != nil {
		return err
	}
	s.registry.RegisterConnection(connID, conn, roomID)
	if err := s.registry.SendTo(connID, domain.Event{Type: domain.EventRoomCreated, RoomID: roomID, Payload: state}); err != nil {
		return err
	}
	s.registry.BroadcastState(roomID)
	return nil
}

// JoinRoom adds the sender to an existing room and broadcasts the new state.
func (s *GameService) JoinRoom(connID string, conn Conn, roomID, nickname string) error {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" || strings.TrimSpace(nickname) == "" {
		return domain.ErrBadRequest
	}
	s.leaveCurrent(connID)

	room, ok := s.registry.Room(roomID)
	if !ok {
		return domain.ErrRoomNotFound
	}
	if _, err := room.AddPlayer(nickname, connID); err != nil {
		return err
	}
	// the room may have been destroyed between lookup and insert
	if live, ok := s.registry.Room(roomID); !ok || live != room {
		room.RemoveByConn(connID)
		return domain.ErrRoomNotFound
	}
	s.registry.RegisterConnection(connID, conn, roomID)
	s.log.Info("player joined",
		zap.String("room_id", roomID),
		zap.String("conn_id", connID),
		zap.String("player", strings.TrimSpace(nickname)),
	)
	s.registry.BroadcastState(roomID)
	return nil
}

// SetReady toggles the sender's own readiness.
func (s *GameService) SetReady(connID string, ready bool) error {
	roomID, room, err := s.connRoom(connID)
	if err != nil {
		return err
	}
	nickname, ok := room.NicknameByConn(connID)
	if !ok {
		return domain.ErrPlayerNotFound
	}
	if _, err := room.SetReady(nickname, ready); err != nil {
		return err
	}
	s.registry.BroadcastState(roomID)
	return nil
}

// StartGame starts the sender's room if the sender is its captain, and arms
// the phase clock.
func (s *GameService) StartGame(connID string) error {
	roomID, room, err := s.connRoom(connID)
	if err != nil {
		return err
	}
	nickname, ok := room.NicknameByConn(connID)
	if !ok {
		return domain.ErrPlayerNotFound
	}
	announcement, err := room.StartGame(nickname)
	if err != nil {
		return err
	}
	s.log.Info("game started", zap.String("room_id", roomID), zap.String("player", nickname))
	s.registry.BroadcastState(roomID)
	s.registry.BroadcastChat(roomID, announcement)
	return s.controller.Start(roomID)
}

// SendMessage records the sender's message for the round. Captain messages go
// to the whole room; passenger messages are echoed to the sender only.
func (s *GameService) SendMessage(connID, text string, timestamp int64) error {
	roomID, room, err := s.connRoom(connID)
	if err != nil {
		return err
	}
	nickname, ok := room.NicknameByConn(connID)
	if !ok {
		return domain.ErrPlayerNotFound
	}
	msg, isHost, err := room.AddMessage(nickname, text, timestamp)
	if err != nil {
		return err
	}
	if isHost {
		s.registry.BroadcastChat(roomID, msg)
		return nil
	}
	return s.registry.SendTo(connID, domain.ChatEvent(msg))
}

// CaptainDecision submits the captain's pick of pods to leave behind.
func (s *GameService) CaptainDecision(connID string, selected [domain.SlotCount]bool) error {
	roomID, room, err := s.connRoom(connID)
	if err != nil {
		return err
	}
	nickname, ok := room.NicknameByConn(connID)
	if !ok {
		return domain.ErrPlayerNotFound
	}
	return s.controller.HandleCaptainDecision(roomID, nickname, selected)
}

// Leave drops the connection. A room left empty is destroyed and the
// controller releases its clock through the registry hook.
func (s *GameService) Leave(connID string) {
	s.registry.RemoveConnection(connID)
}

// RoomStatus reports a live room, or the last snapshot of one this process
// no longer holds.
func (s *GameService) RoomStatus(ctx context.Context, roomID string) (domain.RoomSummary, error) {
	if room, ok := s.registry.Room(roomID); ok {
		return room.Summary(), nil
	}
	if s.snapshots == nil {
		return domain.RoomSummary{}, domain.ErrRoomNotFound
	}
	state, ok, err := s.snapshots.LoadSnapshot(ctx, roomID)
	if err != nil {
		return domain.RoomSummary{}, err
	}
	if !ok {
		return domain.RoomSummary{}, domain.ErrRoomNotFound
	}
	return domain.RoomSummary{
		RoomID:      state.Room.ID,
		Status:      state.Room.Status,
		PlayerCount: len(state.Room.PlayerOrder),
	}, nil
}

// Results lists the recorded outcomes of a room.
func (s *GameService) Results(ctx context.Context, roomID string) ([]domain.GameResult, error) {
	if s.results == nil {
		return nil, nil
	}
	return s.results.ListResults(ctx, roomID)
}

func (s *GameService) leaveCurrent(connID string) {
	if _, ok := s.registry.ConnectionRoom(connID); ok {
		s.Leave(connID)
	}
}

func (s *GameService) connRoom(connID string) (string, *Room, error) {
	roomID, ok := s.registry.ConnectionRoom(connID)
	if !ok {
		return "", nil, domain.ErrNotConnected
	}
	room, ok := s.registry.Room(roomID)
	if !ok {
		return "", nil, domain.ErrRoomNotFound
	}
	return roomID, room, nil
}
