package domain

import (
	"fmt"
	"sort"
	"time"
)

// Group is the persisted aggregate. Every mutation of a group, its channels or its
// message logs is a read-modify-write of this document.
type Group struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	CreatedBy     string     `json:"createdBy"`
	CreatedAt     time.Time  `json:"createdAt"`
	Admins        []string   `json:"admins"`
	Members       []string   `json:"members"`
	BannedMembers []string   `json:"bannedMembers"`
	JoinRequests  []string   `json:"joinRequests"`
	Channels      []*Channel `json:"channels"`
}

type Channel struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Users    []string  `json:"users"`
	Messages []Message `json:"messages,omitempty"`
}

type Message struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Text      string `json:"text,omitempty"`
	ImageURL  string `json:"imageUrl,omitempty"`
	Avatar    string `json:"avatar,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

type Report struct {
	ID         string `json:"id"`
	GroupID    string `json:"groupId"`
	Member     string `json:"member"`
	ReportedBy string `json:"reportedBy"`
	Text       string `json:"text"`
	Timestamp  int64  `json:"timestamp"`
}

// NewGroup builds an empty group administered by its creator.
func NewGroup(id, name, creator string, now time.Time) *Group {
	return &Group{
		ID:            id,
		Name:          name,
		CreatedBy:     creator,
		CreatedAt:     now,
		Admins:        []string{creator},
		Members:       []string{},
		BannedMembers: []string{},
		JoinRequests:  []string{},
		Channels:      []*Channel{},
	}
}

func NewChannel(id, name string) *Channel {
	return &Channel{ID: id, Name: name, Users: []string{}, Messages: []Message{}}
}

func (g *Group) IsAdmin(username string) bool       { return containsName(g.Admins, username) }
func (g *Group) IsBanned(username string) bool      { return containsName(g.BannedMembers, username) }
func (g *Group) HasRequest(username string) bool    { return containsName(g.JoinRequests, username) }
func (g *Group) IsPlainMember(username string) bool { return containsName(g.Members, username) }

// IsMember reports membership in either the members or admins set.
func (g *Group) IsMember(username string) bool {
	return g.IsAdmin(username) || g.IsPlainMember(username)
}

// CanManage reports whether user may perform privileged operations on the group.
func (g *Group) CanManage(user *User) bool {
	if user == nil {
		return false
	}
	return user.IsSuperAdmin() || g.IsAdmin(user.Username)
}

func (g *Group) Channel(id string) *Channel {
	for _, ch := range g.Channels {
		if ch.ID == id {
			return ch
		}
	}
	return nil
}

func (g *Group) AddChannel(ch *Channel) bool {
	if g.Channel(ch.ID) != nil {
		return false
	}
	g.Channels = append(g.Channels, ch)
	return true
}

func (g *Group) RemoveChannel(id string) bool {
	for i, ch := range g.Channels {
		if ch.ID == id {
			g.Channels = append(g.Channels[:i], g.Channels[i+1:]...)
			return true
		}
	}
	return false
}

func (g *Group) AddJoinRequest(username string) bool {
	if g.IsMember(username) || g.IsBanned(username) {
		return false
	}
	var changed bool
	g.JoinRequests, changed = addName(g.JoinRequests, username)
	return changed
}

func (g *Group) DropJoinRequest(username string) bool {
	var changed bool
	g.JoinRequests, changed = removeName(g.JoinRequests, username)
	return changed
}

// AddMember admits username as a plain member. Admins stay admins.
func (g *Group) AddMember(username string) bool {
	changed := g.DropJoinRequest(username)
	if g.IsAdmin(username) {
		return changed
	}
	var added bool
	g.Members, added = addName(g.Members, username)
	return changed || added
}

// PromoteAdmin moves username from members into admins.
func (g *Group) PromoteAdmin(username string) bool {
	if g.IsAdmin(username) {
		return false
	}
	g.Members, _ = removeName(g.Members, username)
	g.JoinRequests, _ = removeName(g.JoinRequests, username)
	g.Admins, _ = addName(g.Admins, username)
	return true
}

// RemoveUser strips membership, admin status, pending request and channel presence.
func (g *Group) RemoveUser(username string) bool {
	var a, b, c bool
	g.Members, a = removeName(g.Members, username)
	g.Admins, b = removeName(g.Admins, username)
	g.JoinRequests, c = removeName(g.JoinRequests, username)
	d := g.ClearPresenceOf(username)
	return a || b || c || d
}

func (g *Group) Ban(username string) bool {
	removed := g.RemoveUser(username)
	var added bool
	g.BannedMembers, added = addName(g.BannedMembers, username)
	return removed || added
}

func (g *Group) Unban(username string) bool {
	var changed bool
	g.BannedMembers, changed = removeName(g.BannedMembers, username)
	return changed
}

// Purge forgets every trace of username, bans included.
func (g *Group) Purge(username string) bool {
	removed := g.RemoveUser(username)
	return g.Unban(username) || removed
}

// ClearPresenceOf removes username from the presence set of every channel.
func (g *Group) ClearPresenceOf(username string) bool {
	changed := false
	for _, ch := range g.Channels {
		if ch.RemoveUser(username) {
			changed = true
		}
	}
	return changed
}

// ClearPresence empties every channel's presence set.
func (g *Group) ClearPresence() bool {
	changed := false
	for _, ch := range g.Channels {
		if len(ch.Users) > 0 {
			ch.Users = []string{}
			changed = true
		}
	}
	return changed
}

// Summary returns a copy without message logs, the shape broadcast in snapshots.
func (g *Group) Summary() *Group {
	out := *g
	out.Admins = append([]string{}, g.Admins...)
	out.Members = append([]string{}, g.Members...)
	out.BannedMembers = append([]string{}, g.BannedMembers...)
	out.JoinRequests = append([]string{}, g.JoinRequests...)
	out.Channels = make([]*Channel, 0, len(g.Channels))
	for _, ch := range g.Channels {
		out.Channels = append(out.Channels, &Channel{
			ID:    ch.ID,
			Name:  ch.Name,
			Users: append([]string{}, ch.Users...),
		})
	}
	return &out
}

// CheckInvariants verifies that the membership sets are pairwise disjoint.
func (g *Group) CheckInvariants() error {
	for _, m := range g.Members {
		if containsName(g.Admins, m) {
			return fmt.Errorf("group %s: %s is both member and admin", g.ID, m)
		}
		if containsName(g.BannedMembers, m) {
			return fmt.Errorf("group %s: %s is both member and banned", g.ID, m)
		}
	}
	for _, a := range g.Admins {
		if containsName(g.BannedMembers, a) {
			return fmt.Errorf("group %s: %s is both admin and banned", g.ID, a)
		}
	}
	for _, r := range g.JoinRequests {
		if containsName(g.BannedMembers, r) {
			return fmt.Errorf("group %s: banned %s has a join request", g.ID, r)
		}
	}
	return nil
}

func (c *Channel) AddUser(username string) bool {
	var changed bool
	c.Users, changed = addName(c.Users, username)
	return changed
}

func (c *Channel) RemoveUser(username string) bool {
	var changed bool
	c.Users, changed = removeName(c.Users, username)
	return changed
}

// SortGroups orders groups by creation time, then id.
func SortGroups(groups []*Group) {
	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].CreatedAt.Equal(groups[j].CreatedAt) {
			return groups[i].ID < groups[j].ID
		}
		return groups[i].CreatedAt.Before(groups[j].CreatedAt)
	})
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

func addName(names []string, name string) ([]string, bool) {
	if containsName(names, name) {
		return names, false
	}
	return append(names, name), true
}

func removeName(names []string, name string) ([]string, bool) {
	for i, n := range names {
		if n == name {
			out := make([]string, 0, len(names)-1)
			out = append(out, names[:i]...)
			return append(out, names[i+1:]...), true
		}
	}
	if names == nil {
		return []string{}, false
	}
	return names, false
}
