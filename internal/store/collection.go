package store

import (
	"strings"

	"stickerstudio/internal/models"
)

func indexOfSticker(st *State, id string) int {
	for i := range st.Stickers {
		if st.Stickers[i].ID == id {
			return i
		}
	}
	return -1
}

func indexOfPack(st *State, id string) int {
	for i := range st.Packs {
		if st.Packs[i].ID == id {
			return i
		}
	}
	return -1
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func without(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// AddSticker saves a new sticker at the front of the collection and
// returns its id.
func (s *Store) AddSticker(data models.NewSticker) string {
	sticker := models.Sticker{
		ID:              s.newID(),
		URL:             data.URL,
		Prompt:          data.Prompt,
		OptimizedPrompt: data.OptimizedPrompt,
		Style:           data.Style,
		AspectRatio:     data.AspectRatio,
		Width:           data.Width,
		Height:          data.Height,
		Name:            data.Name,
		Text:            data.Text,
		Emoji:           data.Emoji,
		IsTransparent:   data.IsTransparent,
		BgColor:         data.BgColor,
		Favorite:        false,
		PackIDs:         []string{},
		CreatedAt:       s.now().UnixMilli(),
	}
	if len(data.Tags) > 0 {
		sticker.Tags = append([]string{}, data.Tags...)
	}

	s.update(func(st *State) bool {
		st.Stickers = append([]models.Sticker{sticker}, st.Stickers...)
		return true
	})
	return sticker.ID
}

// SaveResult promotes a finished slot into the collection using the
// current form fields, in one transition.
func (s *Store) SaveResult(slotID string) (string, error) {
	id := s.newID()
	created := s.now().UnixMilli()
	var err error
	s.update(func(st *State) bool {
		var slot *models.GenerationSlot
		for i := range st.Results {
			if st.Results[i].ID == slotID {
				slot = &st.Results[i]
				break
			}
		}
		if slot == nil {
			err = ErrSlotNotFound
			return false
		}
		if slot.Status != models.SlotDone || slot.URL == "" {
			err = ErrSlotNotReady
			return false
		}

		f := st.Form
		prompt := f.OptimizedPrompt
		if prompt == "" {
			prompt = f.Prompt
		}
		w, h := f.Size()
		st.Stickers = append([]models.Sticker{{
			ID:              id,
			URL:             slot.URL,
			Prompt:          prompt,
			OptimizedPrompt: f.OptimizedPrompt,
			Style:           f.Style,
			AspectRatio:     f.AspectRatio,
			Width:           w,
			Height:          h,
			Name:            f.StickerName,
			Text:            f.StickerText,
			Emoji:           f.StickerEmoji,
			IsTransparent:   f.IsTransparent,
			BgColor:         f.BgColor,
			PackIDs:         []string{},
			CreatedAt:       created,
		}}, st.Stickers...)
		return true
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// RemoveSticker deletes the sticker and strips its id from every pack.
func (s *Store) RemoveSticker(id string) error {
	found := false
	s.update(func(st *State) bool {
		i := indexOfSticker(st, id)
		if i < 0 {
			return false
		}
		found = true
		st.Stickers = append(st.Stickers[:i:i], st.Stickers[i+1:]...)
		for j := range st.Packs {
			p := &st.Packs[j]
			if contains(p.StickerIDs, id) {
				p.StickerIDs = without(p.StickerIDs, id)
			}
			if p.CoverID == id {
				p.CoverID = ""
			}
		}
		return true
	})
	if !found {
		return ErrStickerNotFound
	}
	return nil
}

// ToggleFavorite flips the favorite flag. Unknown ids are ignored.
func (s *Store) ToggleFavorite(id string) {
	s.update(func(st *State) bool {
		i := indexOfSticker(st, id)
		if i < 0 {
			return false
		}
		st.Stickers[i].Favorite = !st.Stickers[i].Favorite
		return true
	})
}

func (s *Store) UpdateSticker(id string, patch models.StickerPatch) error {
	found := false
	s.update(func(st *State) bool {
		i := indexOfSticker(st, id)
		if i < 0 {
			return false
		}
		found = true
		sticker := &st.Stickers[i]
		if patch.URL != nil {
			sticker.URL = *patch.URL
		}
		if patch.Name != nil {
			sticker.Name = *patch.Name
		}
		if patch.Text != nil {
			sticker.Text = *patch.Text
		}
		if patch.Emoji != nil {
			sticker.Emoji = *patch.Emoji
		}
		if patch.Tags != nil {
			sticker.Tags = append([]string{}, (*patch.Tags)...)
		}
		return true
	})
	if !found {
		return ErrStickerNotFound
	}
	return nil
}

// AddPack creates an empty pack at the front of the pack list.
func (s *Store) AddPack(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrEmptyPackName
	}

	pack := models.StickerPack{
		ID:         s.newID(),
		Name:       name,
		StickerIDs: []string{},
		CreatedAt:  s.now().UnixMilli(),
	}
	s.update(func(st *State) bool {
		st.Packs = append([]models.StickerPack{pack}, st.Packs...)
		return true
	})
	return pack.ID, nil
}

// AddPackWithStickers creates a pack already holding stickerIDs, keeping
// both sides of the membership in step. Unknown sticker ids are dropped.
func (s *Store) AddPackWithStickers(name string, stickerIDs []string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrEmptyPackName
	}

	pack := models.StickerPack{
		ID:         s.newID(),
		Name:       name,
		StickerIDs: []string{},
		CreatedAt:  s.now().UnixMilli(),
	}
	s.update(func(st *State) bool {
		for _, sid := range stickerIDs {
			i := indexOfSticker(st, sid)
			if i < 0 || contains(pack.StickerIDs, sid) {
				continue
			}
			pack.StickerIDs = append(pack.StickerIDs, sid)
			st.Stickers[i].PackIDs = append(st.Stickers[i].PackIDs, pack.ID)
		}
		st.Packs = append([]models.StickerPack{pack}, st.Packs...)
		return true
	})
	return pack.ID, nil
}

// RemovePack deletes the pack and strips its id from every sticker.
func (s *Store) RemovePack(id string) error {
	found := false
	s.update(func(st *State) bool {
		i := indexOfPack(st, id)
		if i < 0 {
			return false
		}
		found = true
		st.Packs = append(st.Packs[:i:i], st.Packs[i+1:]...)
		for j := range st.Stickers {
			if contains(st.Stickers[j].PackIDs, id) {
				st.Stickers[j].PackIDs = without(st.Stickers[j].PackIDs, id)
			}
		}
		return true
	})
	if !found {
		return ErrPackNotFound
	}
	return nil
}

func (s *Store) UpdatePack(id string, patch models.PackPatch) error {
	var err error
	s.update(func(st *State) bool {
		i := indexOfPack(st, id)
		if i < 0 {
			err = ErrPackNotFound
			return false
		}
		p := &st.Packs[i]
		if patch.Name != nil {
			name := strings.TrimSpace(*patch.Name)
			if name == "" {
				err = ErrEmptyPackName
				return false
			}
			p.Name = name
		}
		if patch.CoverID != nil {
			if *patch.CoverID != "" && !contains(p.StickerIDs, *patch.CoverID) {
				err = ErrStickerNotFound
				return false
			}
			p.CoverID = *patch.CoverID
		}
		return true
	})
	return err
}

// AddStickerToPack records membership on both the sticker and the pack.
// Adding an existing member changes nothing.
func (s *Store) AddStickerToPack(stickerID, packID string) error {
	var err error
	s.update(func(st *State) bool {
		si := indexOfSticker(st, stickerID)
		if si < 0 {
			err = ErrStickerNotFound
			return false
		}
		pi := indexOfPack(st, packID)
		if pi < 0 {
			err = ErrPackNotFound
			return false
		}

		changed := false
		if p := &st.Packs[pi]; !contains(p.StickerIDs, stickerID) {
			p.StickerIDs = append(p.StickerIDs, stickerID)
			changed = true
		}
		if sticker := &st.Stickers[si]; !contains(sticker.PackIDs, packID) {
			sticker.PackIDs = append(sticker.PackIDs, packID)
			changed = true
		}
		return changed
	})
	return err
}

// RemoveStickerFromPack drops membership on both sides. Removing a
// non-member is a no-op.
func (s *Store) RemoveStickerFromPack(stickerID, packID string) {
	s.update(func(st *State) bool {
		changed := false
		if pi := indexOfPack(st, packID); pi >= 0 {
			p := &st.Packs[pi]
			if contains(p.StickerIDs, stickerID) {
				p.StickerIDs = without(p.StickerIDs, stickerID)
				changed = true
			}
			if p.CoverID == stickerID {
				p.CoverID = ""
				changed = true
			}
		}
		if si := indexOfSticker(st, stickerID); si >= 0 {
			sticker := &st.Stickers[si]
			if contains(sticker.PackIDs, packID) {
				sticker.PackIDs = without(sticker.PackIDs, packID)
				changed = true
			}
		}
		return changed
	})
}
