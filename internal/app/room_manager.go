package app

import (
	"sync"

	"github.com/abnjv/Ha-sub000/internal/core"
	"github.com/abnjv/Ha-sub000/internal/domain"
)

// RoomManagerImpl is the in-memory room registry. Rooms are created
// implicitly on first join and stopped as soon as they empty; a fresh
// Join after that gets a brand-new room with no residual state.
type RoomManagerImpl struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]core.RoomService
	codes map[domain.RoomCode]domain.RoomID
}

func NewRoomManager() *RoomManagerImpl {
	return &RoomManagerImpl{
		rooms: make(map[domain.RoomID]core.RoomService),
		codes: make(map[domain.RoomCode]domain.RoomID),
	}
}

func (f *RoomManagerImpl) GetOrCreate(id domain.RoomID) core.RoomService {
	f.mu.RLock()
	room, ok := f.rooms[id]
	f.mu.RUnlock()
	if ok {
		return room
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if room, ok = f.rooms[id]; ok {
		return room
	}
	room = core.NewRoomService(&domain.Room{ID: id})
	f.rooms[id] = room
	return room
}

func (f *RoomManagerImpl) Get(id domain.RoomID) (core.RoomService, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	room, ok := f.rooms[id]
	return room, ok
}

// RegisterCode binds a short shareable code to a room id for the REST
// lookup path.
func (f *RoomManagerImpl) RegisterCode(code domain.RoomCode, id domain.RoomID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codes[code] = id
}

func (f *RoomManagerImpl) Resolve(code domain.RoomCode) (domain.RoomID, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	id, ok := f.codes[code]
	return id, ok
}

func (f *RoomManagerImpl) List() []core.RoomInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]core.RoomInfo, 0, len(f.rooms))
	for id, r := range f.rooms {
		out = append(out, core.RoomInfo{ID: id, Code: r.Room().Code, MemberCount: r.MemberCount()})
	}
	return out
}

func (f *RoomManagerImpl) StopRoom(id domain.RoomID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if room, ok := f.rooms[id]; ok {
		delete(f.codes, room.Room().Code)
	}
	delete(f.rooms, id)
}
