package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"spacescape-service/internal/app"
	"spacescape-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// defaultWriteTimeout bounds one snapshot write.
const defaultWriteTimeout = 2 * time.Second

// RoomStore is a Redis-aware implementation of app.RoomRepository.
// Notes:
//   - Rooms and their phase clocks stay in a local map; a room is only ever
//     driven by the process that holds it.
//   - Redis carries a liveness marker and the last JSON snapshot of every
//     room, so status queries survive the room and the process.
//   - Writes run on a per-room writer goroutine that only keeps the latest
//     pending snapshot. Callers never wait on Redis.
//   - Redis failures are logged and never fail a game action.
type RoomStore struct {
	client       *redis.Client
	ttl          time.Duration
	writeTimeout time.Duration
	log          *zap.Logger

	mu    sync.RWMutex
	rooms map[string]*app.Room

	wmu     sync.Mutex
	pending map[string][]byte
	writing map[string]bool
}

func NewRoomStore(client *redis.Client, ttl time.Duration, log *zap.Logger) *RoomStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &RoomStore{
		client:       client,
		ttl:          ttl,
		writeTimeout: defaultWriteTimeout,
		log:          log,
		rooms:        make(map[string]*app.Room),
		pending:      make(map[string][]byte),
		writing:      make(map[string]bool),
	}
}

func (s *RoomStore) Insert(room *app.Room) error {
	s.mu.Lock()
	if _, ok := s.rooms[room.ID()]; ok {
		s.mu.Unlock()
		return domain.ErrRoomExists
	}
	s.rooms[room.ID()] = room
	s.mu.Unlock()

	s.Save(context.Background(), room)
	return nil
}

func (s *RoomStore) Get(roomID string) (*app.Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[roomID]
	return room, ok
}

// DeleteIfEmpty drops an empty room. Its final snapshot is still written so
// it expires with its TTL.
func (s *RoomStore) DeleteIfEmpty(roomID string) bool {
	s.mu.Lock()
	room, ok := s.rooms[roomID]
	if !ok || !room.IsEmpty() {
		s.mu.Unlock()
		return false
	}
	delete(s.rooms, roomID)
	s.mu.Unlock()

	s.Save(context.Background(), room)
	return true
}

// Save queues the room snapshot for its writer and returns immediately. A
// snapshot still waiting to be written is replaced by the newer one.
func (s *RoomStore) Save(_ context.Context, room *app.Room) {
	data, err := json.Marshal(room.State())
	if err != nil {
		s.log.Error("encode room snapshot", zap.String("room_id", room.ID()), zap.Error(err))
		return
	}
	roomID := room.ID()

	s.wmu.Lock()
	s.pending[roomID] = data
	start := !s.writing[roomID]
	s.writing[roomID] = true
	s.wmu.Unlock()

	if start {
		go s.writeLoop(roomID)
	}
}

// Flush waits until every queued snapshot has been written or ctx is done.
func (s *RoomStore) Flush(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		s.wmu.Lock()
		idle := len(s.writing) == 0
		s.wmu.Unlock()
		if idle {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *RoomStore) writeLoop(roomID string) {
	for {
		s.wmu.Lock()
		data, ok := s.pending[roomID]
		if !ok {
			delete(s.writing, roomID)
			s.wmu.Unlock()
			return
		}
		delete(s.pending, roomID)
		s.wmu.Unlock()

		s.write(roomID, data)
	}
}

func (s *RoomStore) write(roomID string, data []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.stateKey(roomID), data, s.ttl)
	if _, live := s.Get(roomID); live {
		pipe.Set(ctx, s.key(roomID), "1", s.ttl)
	} else {
		pipe.Del(ctx, s.key(roomID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Warn("save room snapshot", zap.String("room_id", roomID), zap.Error(err))
	}
}

func (s *RoomStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}

// LoadSnapshot returns the last stored snapshot of a room.
func (s *RoomStore) LoadSnapshot(ctx context.Context, roomID string) (domain.GameState, bool, error) {
	data, err := s.client.Get(ctx, s.stateKey(roomID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.GameState{}, false, nil
	}
	if err != nil {
		return domain.GameState{}, false, fmt.Errorf("load room snapshot: %w", err)
	}
	var state domain.GameState
	if err := json.Unmarshal(data, &state); err != nil {
		return domain.GameState{}, false, fmt.Errorf("decode room snapshot: %w", err)
	}
	return state, true, nil
}

func (s *RoomStore) key(roomID string) string {
	return "spacescape:room:" + roomID
}

func (s *RoomStore) stateKey(roomID string) string {
	return "spacescape:room:" + roomID + ":state"
}
