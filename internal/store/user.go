package store

import (
	"stickerstudio/internal/models"
)

// IncrementGenerations adds count to the usage counter without clamping to
// the limit. Callers check the quota beforehand.
func (s *Store) IncrementGenerations(count int) {
	if count == 0 {
		return
	}
	s.update(func(st *State) bool {
		st.User.GenerationsUsed += count
		normalizeUser(&st.User)
		return true
	})
}

// SetUser merges patch into the user profile.
func (s *Store) SetUser(patch models.UserPatch) {
	s.update(func(st *State) bool {
		u := &st.User
		if patch.ID != nil {
			u.ID = *patch.ID
		}
		if patch.Email != nil {
			u.Email = *patch.Email
		}
		if patch.GenerationsUsed != nil {
			u.GenerationsUsed = *patch.GenerationsUsed
		}
		if patch.GenerationsLimit != nil {
			u.GenerationsLimit = *patch.GenerationsLimit
		}
		if patch.IsGuest != nil {
			u.IsGuest = *patch.IsGuest
		}
		normalizeUser(u)
		return true
	})
}

// SignIn replaces the guest profile with the authenticated user's counters.
func (s *Store) SignIn(remote models.RemoteUser) {
	s.update(func(st *State) bool {
		limit := remote.GenerationsLimit
		if limit <= 0 {
			limit = models.AuthenticatedLimit
		}
		st.User = models.UserProfile{
			ID:               remote.ID,
			Email:            remote.Email,
			GenerationsUsed:  remote.GenerationsUsed,
			GenerationsLimit: limit,
			IsGuest:          false,
		}
		normalizeUser(&st.User)
		return true
	})
}

// SignOut is the only transition that resets the usage counter.
func (s *Store) SignOut() {
	s.update(func(st *State) bool {
		st.User = models.GuestUser()
		return true
	})
}

// ApplyQuota overwrites the counters with the remote source of truth.
func (s *Store) ApplyQuota(q models.Quota) {
	s.update(func(st *State) bool {
		if st.User.IsGuest {
			return false
		}
		st.User.GenerationsUsed = q.Used
		if q.Limit > 0 {
			st.User.GenerationsLimit = q.Limit
		}
		normalizeUser(&st.User)
		return true
	})
}

// normalizeUser is applied on every write and on load so a profile always
// reads back the way it was stored: the guest sentinel has no email,
// IsGuest follows the ID, and counters are never negative.
func normalizeUser(u *models.UserProfile) {
	if u.ID == "" || u.ID == models.GuestID {
		u.ID = models.GuestID
		u.IsGuest = true
		u.Email = ""
	} else {
		u.IsGuest = false
	}
	if u.GenerationsUsed < 0 {
		u.GenerationsUsed = 0
	}
	if u.GenerationsLimit <= 0 {
		if u.IsGuest {
			u.GenerationsLimit = models.GuestLimit
		} else {
			u.GenerationsLimit = models.AuthenticatedLimit
		}
	}
}
