// Package user keeps track of the users seen on a connection and of the
// authorization groups they belong to.
package user

import (
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/mbasaglia/Melanobot-v2-sub002/network"
)

var _ network.UserDirectory = (*Directory)(nil)

// Directory is a thread-safe network.UserDirectory.
// Presence data lives in memory, group membership goes through a GroupStore.
type Directory struct {
	mu       sync.RWMutex
	users    map[string]*network.User
	inherits map[string][]string
	store    GroupStore
	fold     func(string) string
}

// NewDirectory creates a directory comparing identifiers with fold.
// A nil store keeps groups in memory, a nil fold uses strings.ToLower.
func NewDirectory(store GroupStore, fold func(string) string) *Directory {
	if store == nil {
		store = NewMemoryStore()
	}
	if fold == nil {
		fold = strings.ToLower
	}
	return &Directory{
		users:    make(map[string]*network.User),
		inherits: make(map[string][]string),
		store:    store,
		fold:     fold,
	}
}

// ParseMember builds a group member from a mask:
// "!account" matches the global id, "@host" the host, anything else the name.
func ParseMember(mask string) network.User {
	switch {
	case len(mask) > 1 && mask[0] == '!':
		return network.User{GlobalID: mask[1:]}
	case len(mask) > 1 && mask[0] == '@':
		return network.User{Host: mask[1:]}
	}
	return network.User{Name: mask, LocalID: mask}
}

// AddUser stores a user, replacing any user with the same local id
func (d *Directory) AddUser(u network.User) {
	d.mu.Lock()
	defer d.mu.Unlock()

	stored := u
	stored.Channels = nil
	for _, ch := range u.Channels {
		stored.Channels = appendUnique(stored.Channels, d.fold(ch))
	}
	d.users[d.fold(u.LocalID)] = &stored
}

func (d *Directory) RemoveUser(localID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := d.fold(localID)
	if _, ok := d.users[key]; !ok {
		return false
	}
	delete(d.users, key)
	return true
}

func (d *Directory) User(localID string) (network.User, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	u, ok := d.users[d.fold(localID)]
	if !ok {
		return network.User{}, false
	}
	return copyUser(u), true
}

// RenameUser moves a user to a new local id, keeping its channels
func (d *Directory) RenameUser(oldID, newID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	u, ok := d.users[d.fold(oldID)]
	if !ok {
		return false
	}
	delete(d.users, d.fold(oldID))
	u.Name = newID
	u.LocalID = newID
	d.users[d.fold(newID)] = u
	return true
}

func (d *Directory) SetHost(localID, host string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if u, ok := d.users[d.fold(localID)]; ok && host != "" {
		u.Host = host
	}
}

// UpdateUser merges properties into the user, "global_id" and "host" set the matching fields
func (d *Directory) UpdateUser(localID string, properties map[string]string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	u, ok := d.users[d.fold(localID)]
	if !ok {
		return false
	}
	if u.Properties == nil {
		u.Properties = make(map[string]string, len(properties))
	}
	for k, v := range properties {
		switch k {
		case "global_id":
			u.GlobalID = v
		case "host":
			u.Host = v
		default:
			u.Properties[k] = v
		}
	}
	return true
}

func (d *Directory) AddChannel(localID, channel string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if u, ok := d.users[d.fold(localID)]; ok {
		u.Channels = appendUnique(u.Channels, d.fold(channel))
	}
}

func (d *Directory) RemoveChannel(localID, channel string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	u, ok := d.users[d.fold(localID)]
	if !ok {
		return 0
	}
	channel = d.fold(channel)
	kept := u.Channels[:0]
	for _, ch := range u.Channels {
		if ch != channel {
			kept = append(kept, ch)
		}
	}
	u.Channels = kept
	return len(kept)
}

// Users returns every known user sorted by local id
func (d *Directory) Users() []network.User {
	d.mu.RLock()
	defer d.mu.RUnlock()

	users := make([]network.User, 0, len(d.users))
	for _, u := range d.users {
		users = append(users, copyUser(u))
	}
	sortUsers(users)
	return users
}

func (d *Directory) ChannelUsers(channel string) []network.User {
	d.mu.RLock()
	defer d.mu.RUnlock()

	channel = d.fold(channel)
	var users []network.User
	for _, u := range d.users {
		for _, ch := range u.Channels {
			if ch == channel {
				users = append(users, copyUser(u))
				break
			}
		}
	}
	sortUsers(users)
	return users
}

// AddGroup declares group, whose members also belong to every inherited group
func (d *Directory) AddGroup(group string, inherits ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	list := d.inherits[group]
	for _, parent := range inherits {
		if parent = strings.TrimSpace(parent); parent != "" && parent != group {
			list = appendUnique(list, parent)
		}
	}
	d.inherits[group] = list
}

func (d *Directory) AddToGroup(member network.User, groups ...string) []string {
	var added []string
	for _, group := range groups {
		if group == "" || d.InGroup(member, group) {
			continue
		}
		if err := d.store.AddMember(group, member); err != nil {
			log.Printf("[users] Failed to add %s to %s: %v", describe(member), group, err)
			continue
		}
		added = append(added, group)
	}
	return added
}

// RemoveFromGroup only removes direct membership, inherited membership is left alone
func (d *Directory) RemoveFromGroup(member network.User, group string) bool {
	removed, err := d.store.RemoveMember(group, member)
	if err != nil {
		log.Printf("[users] Failed to remove %s from %s: %v", describe(member), group, err)
		return false
	}
	return removed
}

// InGroup reports whether the user belongs to group directly or through inheritance.
// The empty group contains everyone.
func (d *Directory) InGroup(u network.User, group string) bool {
	if group == "" {
		return true
	}
	for _, g := range d.groupsGranting(group) {
		members, err := d.store.Members(g)
		if err != nil {
			log.Printf("[users] Failed to read group %s: %v", g, err)
			continue
		}
		for _, m := range members {
			if d.matches(m, u) {
				return true
			}
		}
	}
	return false
}

func (d *Directory) UsersInGroup(group string) []network.User {
	var users []network.User
	for _, g := range d.groupsGranting(group) {
		members, err := d.store.Members(g)
		if err != nil {
			log.Printf("[users] Failed to read group %s: %v", g, err)
			continue
		}
		for _, m := range members {
			if !d.containsMember(users, m) {
				users = append(users, m)
			}
		}
	}
	return users
}

// groupsGranting returns group and every group inheriting it, directly or not
func (d *Directory) groupsGranting(group string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	result := []string{group}
	for i := 0; i < len(result); i++ {
		for child, parents := range d.inherits {
			for _, p := range parents {
				if p == result[i] && !contains(result, child) {
					result = append(result, child)
				}
			}
		}
	}
	return result
}

// matches reports whether user satisfies every field set on member
func (d *Directory) matches(member, u network.User) bool {
	if member.GlobalID == "" && member.Host == "" && member.Name == "" {
		return false
	}
	if member.GlobalID != "" && member.GlobalID != u.GlobalID {
		return false
	}
	if member.Host != "" && member.Host != u.Host {
		return false
	}
	if member.Name != "" && d.fold(member.Name) != d.fold(u.Name) && d.fold(member.Name) != d.fold(u.LocalID) {
		return false
	}
	return true
}

func (d *Directory) containsMember(list []network.User, m network.User) bool {
	for _, u := range list {
		if sameMember(u, m, d.fold) {
			return true
		}
	}
	return false
}

func sameMember(a, b network.User, fold func(string) string) bool {
	return fold(a.Name) == fold(b.Name) && a.GlobalID == b.GlobalID && a.Host == b.Host
}

func describe(u network.User) string {
	switch {
	case u.GlobalID != "":
		return "!" + u.GlobalID
	case u.Host != "":
		return "@" + u.Host
	}
	return u.Name
}

func copyUser(u *network.User) network.User {
	c := *u
	c.Channels = append([]string(nil), u.Channels...)
	if u.Properties != nil {
		c.Properties = make(map[string]string, len(u.Properties))
		for k, v := range u.Properties {
			c.Properties[k] = v
		}
	}
	return c
}

func sortUsers(users []network.User) {
	sort.Slice(users, func(i, j int) bool {
		return users[i].LocalID < users[j].LocalID
	})
}

func appendUnique(list []string, value string) []string {
	if contains(list, value) {
		return list
	}
	return append(list, value)
}

func contains(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}
