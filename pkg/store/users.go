// Package store holds the persistent user records (username -> win count)
// and the backends that load and save them.
package store

import (
	"fmt"
	"sort"

	"github.com/NicolasHaas/gostep/pkg/model"
)

// Users is the in-memory user table.
//
// Users is not safe for concurrent use. The server guards it with the same
// lock as the room registry.
type Users struct {
	byName map[string]*model.User
}

// NewUsers creates an empty user table.
func NewUsers() *Users {
	return &Users{byName: make(map[string]*model.User)}
}

// Replace discards the current contents and loads users. Later duplicates
// of a username overwrite earlier ones.
func (u *Users) Replace(users []model.User) {
	u.byName = make(map[string]*model.User, len(users))
	for _, usr := range users {
		cp := usr
		u.byName[usr.Username] = &cp
	}
}

// GetOrCreate returns the existing record for username or creates one with
// zero wins. It is the only path that adds users.
func (u *Users) GetOrCreate(username string) (user model.User, created bool, err error) {
	if existing, ok := u.byName[username]; ok {
		return *existing, false, nil
	}
	if err := model.ValidateUsername(username); err != nil {
		return model.User{}, false, fmt.Errorf("store: create user: %w", err)
	}
	usr := &model.User{Username: username}
	u.byName[username] = usr
	return *usr, true, nil
}

// Get retrieves a user by username.
func (u *Users) Get(username string) (model.User, bool) {
	usr, ok := u.byName[username]
	if !ok {
		return model.User{}, false
	}
	return *usr, true
}

// Remove deletes a user. Returns false if it did not exist.
func (u *Users) Remove(username string) bool {
	if _, ok := u.byName[username]; !ok {
		return false
	}
	delete(u.byName, username)
	return true
}

// RecordWin increments a user's win count. Returns false if the user is gone
// (e.g. unregistered while the match was running).
func (u *Users) RecordWin(username string) bool {
	usr, ok := u.byName[username]
	if !ok {
		return false
	}
	usr.Wins++
	return true
}

// Len returns the number of users.
func (u *Users) Len() int {
	return len(u.byName)
}

// All returns every user sorted by username.
func (u *Users) All() []model.User {
	result := make([]model.User, 0, len(u.byName))
	for _, usr := range u.byName {
		result = append(result, *usr)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Username < result[j].Username })
	return result
}

// Top returns up to n users ordered by wins descending, ties by username.
func (u *Users) Top(n int) []model.User {
	all := u.All()
	sort.SliceStable(all, func(i, j int) bool { return all[i].Wins > all[j].Wins })
	if n >= 0 && len(all) > n {
		all = all[:n]
	}
	return all
}
