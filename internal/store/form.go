package store

import (
	"stickerstudio/internal/models"
)

// SetForm shallow-merges patch into the form. Values are not validated.
func (s *Store) SetForm(patch models.FormPatch) {
	s.update(func(st *State) bool {
		patch.Apply(&st.Form)
		return true
	})
}

func (s *Store) ResetForm() {
	s.update(func(st *State) bool {
		st.Form = models.DefaultForm()
		return true
	})
}

// SetResults replaces the live slot list. A running batch owns the list,
// so it fails with ErrBusy until the batch settles.
func (s *Store) SetResults(slots []models.GenerationSlot) error {
	var err error
	s.update(func(st *State) bool {
		if st.IsGenerating {
			err = ErrBusy
			return false
		}
		st.Results = append([]models.GenerationSlot{}, slots...)
		return true
	})
	return err
}

// NewSlots allocates n pending slots with fresh identities.
func (s *Store) NewSlots(n int) []models.GenerationSlot {
	slots := make([]models.GenerationSlot, n)
	for i := range slots {
		slots[i] = models.GenerationSlot{
			ID:     s.newID(),
			Token:  s.newID(),
			Status: models.SlotPending,
		}
	}
	return slots
}

// SettleResult records the outcome of the request dispatched with token.
// It reports false when the slot is gone or was re-dispatched since.
func (s *Store) SettleResult(slotID, token string, status models.SlotStatus, url, errMsg string) bool {
	applied := false
	s.update(func(st *State) bool {
		for i := range st.Results {
			slot := &st.Results[i]
			if slot.ID != slotID {
				continue
			}
			if slot.Token != token {
				return false
			}
			slot.Status = status
			slot.URL = url
			slot.Error = errMsg
			applied = true
			return true
		}
		return false
	})
	return applied
}

// ResetResult puts one slot back to pending under a new token and returns
// the token together with the form that the new request should use.
func (s *Store) ResetResult(slotID string) (string, models.GenerateFormState, error) {
	token := s.newID()
	var form models.GenerateFormState
	found := false
	s.update(func(st *State) bool {
		for i := range st.Results {
			if st.Results[i].ID == slotID {
				st.Results[i] = models.GenerationSlot{
					ID:     slotID,
					Token:  token,
					Status: models.SlotPending,
				}
				form = st.Form
				found = true
				return true
			}
		}
		return false
	})
	if !found {
		return "", form, ErrSlotNotFound
	}
	return token, form, nil
}

// SetGenerating flips the batch-in-progress flag. It reports false when the
// flag already had the requested value.
func (s *Store) SetGenerating(on bool) bool {
	changed := false
	s.update(func(st *State) bool {
		if st.IsGenerating == on {
			return false
		}
		st.IsGenerating = on
		changed = true
		return true
	})
	return changed
}

// BeginBatch atomically checks that no batch is running and that the quota
// covers n, then publishes n pending slots and raises the generating flag.
// On error nothing is changed.
func (s *Store) BeginBatch(n int) ([]models.GenerationSlot, models.GenerateFormState, error) {
	var form models.GenerateFormState
	if n < 1 {
		return nil, form, ErrInvalidCount
	}

	slots := s.NewSlots(n)
	var err error
	s.update(func(st *State) bool {
		switch {
		case st.IsGenerating:
			err = ErrBusy
		case st.User.Remaining() < n:
			err = ErrQuotaExceeded
		}
		if err != nil {
			return false
		}
		st.Results = append([]models.GenerationSlot{}, slots...)
		st.IsGenerating = true
		form = st.Form
		return true
	})
	if err != nil {
		return nil, form, err
	}
	return slots, form, nil
}
