package services

import (
	"fmt"
	"sync"
	"time"

	"chatty/internal/core/domain"
)

// RelayStats is a point-in-time view of the relay for metrics.
type RelayStats struct {
	Rooms   int
	Videos  int
	Screens int
}

// BroadcastRelay tracks announced camera streams and the screen-share slot of
// every room. Each room has its own mutex; the map lock only guards lookup.
type BroadcastRelay struct {
	mu    sync.Mutex
	rooms map[domain.RoomKey]*roomRelay
	newID idSource
	now   clock
}

type roomRelay struct {
	mu     sync.Mutex
	refs   int
	videos []domain.BroadcastSession
	screen *domain.BroadcastSession
}

func (r *roomRelay) empty() bool { return len(r.videos) == 0 && r.screen == nil }

func NewBroadcastRelay() *BroadcastRelay {
	return &BroadcastRelay{
		rooms: make(map[domain.RoomKey]*roomRelay),
		newID: newUUID,
		now:   time.Now,
	}
}

// withRoom runs fn with the room's state locked. Empty rooms are dropped once
// nobody references them.
func (b *BroadcastRelay) withRoom(key domain.RoomKey, fn func(r *roomRelay)) {
	b.mu.Lock()
	r, ok := b.rooms[key]
	if !ok {
		r = &roomRelay{}
		b.rooms[key] = r
	}
	r.refs++
	b.mu.Unlock()

	r.mu.Lock()
	fn(r)
	r.mu.Unlock()

	b.mu.Lock()
	r.refs--
	if r.refs == 0 && r.empty() {
		delete(b.rooms, key)
	}
	b.mu.Unlock()
}

func (b *BroadcastRelay) stamp(s domain.BroadcastSession, kind domain.MediaKind) domain.BroadcastSession {
	s.Kind = kind
	s.SessionID = b.newID()
	s.StartedAt = b.now().UTC()
	return s
}

// Announce adds the camera session, replacing an earlier one from the same peer
// and connection in place. The stored session carries a fresh session id. A
// peer id announced from another connection is refused with domain.ErrPeerTaken.
func (b *BroadcastRelay) Announce(s domain.BroadcastSession) (domain.BroadcastSession, error) {
	s = b.stamp(s, domain.MediaCamera)
	var err error
	b.withRoom(s.Room, func(r *roomRelay) {
		for i := range r.videos {
			if r.videos[i].PeerID != s.PeerID {
				continue
			}
			if r.videos[i].Conn != s.Conn {
				err = fmt.Errorf("announce %s: %w", s.PeerID, domain.ErrPeerTaken)
				return
			}
			r.videos[i] = s
			return
		}
		r.videos = append(r.videos, s)
	})
	if err != nil {
		return domain.BroadcastSession{}, err
	}
	return s, nil
}

// Stop removes the peer's camera session. conn, when set, must own it.
func (b *BroadcastRelay) Stop(room domain.RoomKey, peerID domain.PeerID, conn domain.ConnID) (domain.BroadcastSession, bool) {
	var (
		stopped domain.BroadcastSession
		ok      bool
	)
	b.withRoom(room, func(r *roomRelay) {
		for i, v := range r.videos {
			if v.PeerID != peerID || (conn != "" && v.Conn != conn) {
				continue
			}
			stopped, ok = v, true
			r.videos = append(r.videos[:i:i], r.videos[i+1:]...)
			return
		}
	})
	return stopped, ok
}

// AnnounceScreen claims the room's screen slot. If another peer or connection
// holds it the holder is returned with domain.ErrScreenShareBlocked. The holder
// re-announcing from its own connection refreshes the slot.
func (b *BroadcastRelay) AnnounceScreen(s domain.BroadcastSession) (domain.BroadcastSession, error) {
	s = b.stamp(s, domain.MediaScreen)
	var (
		result domain.BroadcastSession
		err    error
	)
	b.withRoom(s.Room, func(r *roomRelay) {
		if r.screen != nil && (r.screen.PeerID != s.PeerID || r.screen.Conn != s.Conn) {
			result, err = *r.screen, domain.ErrScreenShareBlocked
			return
		}
		r.screen = &s
		result = s
	})
	return result, err
}

// StopScreen clears the slot only when peerID holds it.
func (b *BroadcastRelay) StopScreen(room domain.RoomKey, peerID domain.PeerID, conn domain.ConnID) (domain.BroadcastSession, bool) {
	var (
		stopped domain.BroadcastSession
		ok      bool
	)
	b.withRoom(room, func(r *roomRelay) {
		if r.screen == nil || r.screen.PeerID != peerID || (conn != "" && r.screen.Conn != conn) {
			return
		}
		stopped, ok = *r.screen, true
		r.screen = nil
	})
	return stopped, ok
}

// Active returns the room's camera sessions in announce order and the screen
// holder, if any.
func (b *BroadcastRelay) Active(room domain.RoomKey) ([]domain.BroadcastSession, *domain.BroadcastSession) {
	var (
		videos []domain.BroadcastSession
		screen *domain.BroadcastSession
	)
	b.withRoom(room, func(r *roomRelay) {
		videos = append([]domain.BroadcastSession{}, r.videos...)
		if r.screen != nil {
			s := *r.screen
			screen = &s
		}
	})
	return videos, screen
}

// DropConnectionInRoom removes every session conn owns in room. Camera sessions
// come first, then the screen session.
func (b *BroadcastRelay) DropConnectionInRoom(room domain.RoomKey, conn domain.ConnID) []domain.BroadcastSession {
	var dropped []domain.BroadcastSession
	b.withRoom(room, func(r *roomRelay) {
		kept := r.videos[:0:0]
		for _, v := range r.videos {
			if v.Conn == conn {
				dropped = append(dropped, v)
				continue
			}
			kept = append(kept, v)
		}
		r.videos = kept
		if r.screen != nil && r.screen.Conn == conn {
			dropped = append(dropped, *r.screen)
			r.screen = nil
		}
	})
	return dropped
}

// DropConnection removes conn's sessions from every room.
func (b *BroadcastRelay) DropConnection(conn domain.ConnID) []domain.BroadcastSession {
	b.mu.Lock()
	keys := make([]domain.RoomKey, 0, len(b.rooms))
	for k := range b.rooms {
		keys = append(keys, k)
	}
	b.mu.Unlock()

	var dropped []domain.BroadcastSession
	for _, k := range keys {
		dropped = append(dropped, b.DropConnectionInRoom(k, conn)...)
	}
	return dropped
}

func (b *BroadcastRelay) Stats() RelayStats {
	b.mu.Lock()
	rooms := make([]*roomRelay, 0, len(b.rooms))
	for _, r := range b.rooms {
		rooms = append(rooms, r)
	}
	b.mu.Unlock()

	var st RelayStats
	for _, r := range rooms {
		r.mu.Lock()
		if !r.empty() {
			st.Rooms++
		}
		st.Videos += len(r.videos)
		if r.screen != nil {
			st.Screens++
		}
		r.mu.Unlock()
	}
	return st
}
