package app

import (
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Classroom/internal/core"
	"github.com/dkeye/Classroom/internal/domain"
	"github.com/dkeye/Classroom/internal/metrics"
)

type RoomManagerImpl struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]core.RoomService
}

func NewRoomManager() core.RoomManager {
	return &RoomManagerImpl{rooms: make(map[domain.RoomID]core.RoomService)}
}

func (f *RoomManagerImpl) CreateRoom(name domain.RoomName) core.RoomService {
	room := core.NewRoomService(&domain.Room{ID: domain.RoomID(uuid.NewString()), Name: name})
	f.mu.Lock()
	f.rooms[room.Room().ID] = room
	f.mu.Unlock()
	metrics.RoomStarted()
	log.Info().Str("module", "app.rooms").Str("room", string(room.Room().ID)).Str("name", string(name)).Msg("room created")
	return room
}

func (f *RoomManagerImpl) GetRoom(id domain.RoomID) (core.RoomService, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	room, ok := f.rooms[id]
	return room, ok
}

// List returns rooms ordered by name, then ID.
func (f *RoomManagerImpl) List() []core.RoomInfo {
	f.mu.RLock()
	out := make([]core.RoomInfo, 0, len(f.rooms))
	for id, r := range f.rooms {
		out = append(out, core.RoomInfo{ID: id, Name: r.Room().Name, MemberCount: r.MemberCount()})
	}
	f.mu.RUnlock()
	slices.SortFunc(out, func(a, b core.RoomInfo) int {
		if c := strings.Compare(string(a.Name), string(b.Name)); c != 0 {
			return c
		}
		return strings.Compare(string(a.ID), string(b.ID))
	})
	return out
}

func (f *RoomManagerImpl) StopRoom(id domain.RoomID) {
	f.mu.Lock()
	_, ok := f.rooms[id]
	delete(f.rooms, id)
	f.mu.Unlock()
	if ok {
		metrics.RoomEnded()
		log.Info().Str("module", "app.rooms").Str("room", string(id)).Msg("room stopped")
	}
}
