package store

import (
	"context"
	"errors"
	"fmt"

	"stickerstudio/internal/kvstore"
	"stickerstudio/internal/logger"
	"stickerstudio/internal/models"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SchemaVersion is the version written with every persisted blob.
// Version 0 is the unversioned layout written by earlier releases.
const SchemaVersion = 1

type envelope struct {
	Version int                 `json:"version"`
	State   jsoniter.RawMessage `json:"state"`
}

type persistedState struct {
	Stickers []models.Sticker     `json:"stickers"`
	Packs    []models.StickerPack `json:"packs"`
	User     models.UserProfile   `json:"user"`
	Form     persistedForm        `json:"form"`
}

type persistedForm struct {
	Style         string `json:"style"`
	AspectRatio   string `json:"aspectRatio"`
	GenerateCount int    `json:"generateCount"`
	AIModel       string `json:"aiModel"`
	PromptAI      string `json:"promptAI"`
	IsTransparent bool   `json:"isTransparent"`
}

func encodeState(st State) ([]byte, error) {
	body, err := json.Marshal(persistedState{
		Stickers: st.Stickers,
		Packs:    st.Packs,
		User:     st.User,
		Form: persistedForm{
			Style:         st.Form.Style,
			AspectRatio:   st.Form.AspectRatio,
			GenerateCount: st.Form.GenerateCount,
			AIModel:       st.Form.AIModel,
			PromptAI:      st.Form.PromptAI,
			IsTransparent: st.Form.IsTransparent,
		},
	})
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Version: SchemaVersion, State: body})
}

// Load rehydrates the store from the key-value store and rewrites the blob
// in the current schema. A missing key keeps the defaults. An unreadable
// blob also keeps the defaults and is reported only in the log. Only a
// failing backend returns an error.
func (s *Store) Load(ctx context.Context) error {
	if s.kv == nil {
		return nil
	}

	data, err := s.kv.Get(ctx, s.key)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read persisted state: %w", err)
	}

	restored, err := decodeState(data)
	if err != nil {
		logger.Warn("Ignoring unreadable persisted state", "key", s.key, "error", err)
		return nil
	}

	s.update(func(st *State) bool {
		st.Stickers = restored.Stickers
		st.Packs = restored.Packs
		st.User = restored.User
		st.Form = restored.Form
		return true
	})
	logger.Info("Restored persisted state",
		"stickers", len(restored.Stickers),
		"packs", len(restored.Packs),
		"user_id", restored.User.ID)
	return nil
}

// decodeState merges a persisted blob over the defaults. Each field is
// decoded on its own so one malformed field does not discard the rest.
func decodeState(data []byte) (State, error) {
	st := defaultState()

	var top map[string]jsoniter.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return st, fmt.Errorf("persisted state is not an object: %w", err)
	}

	fields := top
	if raw, ok := top["state"]; ok {
		version := 0
		if v, ok := top["version"]; ok {
			if err := json.Unmarshal(v, &version); err != nil {
				return st, fmt.Errorf("invalid schema version: %w", err)
			}
		}
		if version > SchemaVersion {
			return st, fmt.Errorf("unsupported schema version %d", version)
		}
		if err := json.Unmarshal(raw, &fields); err != nil {
			return st, fmt.Errorf("persisted state body is not an object: %w", err)
		}
	}

	if raw, ok := fields["stickers"]; ok {
		st.Stickers = decodeStickers(raw)
	}
	if raw, ok := fields["packs"]; ok {
		st.Packs = decodePacks(raw)
	}
	if raw, ok := fields["user"]; ok {
		st.User = decodeUser(raw)
	}
	if raw, ok := fields["form"]; ok {
		st.Form = decodeForm(raw)
	}

	repairMembership(&st)
	return st, nil
}

func decodeStickers(raw jsoniter.RawMessage) []models.Sticker {
	var items []jsoniter.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		logger.Warn("Dropping malformed sticker list", "error", err)
		return []models.Sticker{}
	}

	out := make([]models.Sticker, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		var sticker models.Sticker
		if err := json.Unmarshal(item, &sticker); err != nil {
			logger.Warn("Dropping malformed sticker", "error", err)
			continue
		}
		if sticker.ID == "" || seen[sticker.ID] {
			continue
		}
		seen[sticker.ID] = true
		if sticker.PackIDs == nil {
			sticker.PackIDs = []string{}
		}
		out = append(out, sticker)
	}
	return out
}

func decodePacks(raw jsoniter.RawMessage) []models.StickerPack {
	var items []jsoniter.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		logger.Warn("Dropping malformed pack list", "error", err)
		return []models.StickerPack{}
	}

	out := make([]models.StickerPack, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		var pack models.StickerPack
		if err := json.Unmarshal(item, &pack); err != nil {
			logger.Warn("Dropping malformed pack", "error", err)
			continue
		}
		if pack.ID == "" || seen[pack.ID] {
			continue
		}
		seen[pack.ID] = true
		if pack.Name == "" {
			pack.Name = "Untitled pack"
		}
		if pack.StickerIDs == nil {
			pack.StickerIDs = []string{}
		}
		out = append(out, pack)
	}
	return out
}

func decodeUser(raw jsoniter.RawMessage) models.UserProfile {
	user := models.GuestUser()
	if err := json.Unmarshal(raw, &user); err != nil {
		logger.Warn("Resetting malformed user profile", "error", err)
		return models.GuestUser()
	}

	normalizeUser(&user)
	return user
}

func decodeForm(raw jsoniter.RawMessage) models.GenerateFormState {
	form := models.DefaultForm()

	var fields map[string]jsoniter.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		logger.Warn("Resetting malformed form settings", "error", err)
		return form
	}

	decodeString(fields, "style", &form.Style)
	decodeString(fields, "aspectRatio", &form.AspectRatio)
	decodeString(fields, "aiModel", &form.AIModel)
	decodeString(fields, "promptAI", &form.PromptAI)

	if v, ok := fields["generateCount"]; ok {
		var n int
		if err := json.Unmarshal(v, &n); err == nil {
			form.GenerateCount = n
		}
	}
	if v, ok := fields["isTransparent"]; ok {
		var b bool
		if err := json.Unmarshal(v, &b); err == nil {
			form.IsTransparent = b
		}
	}
	if r, ok := models.LookupAspectRatio(form.AspectRatio); ok {
		form.CustomWidth, form.CustomHeight = r.Width, r.Height
	}
	return form
}

func decodeString(fields map[string]jsoniter.RawMessage, key string, dst *string) {
	v, ok := fields[key]
	if !ok {
		return
	}
	var str string
	if err := json.Unmarshal(v, &str); err == nil {
		*dst = str
	}
}

// repairMembership drops references to records that no longer exist and
// makes the sticker and pack sides agree.
func repairMembership(st *State) {
	stickerIdx := make(map[string]int, len(st.Stickers))
	for i, sticker := range st.Stickers {
		stickerIdx[sticker.ID] = i
	}
	packIdx := make(map[string]int, len(st.Packs))
	for i, pack := range st.Packs {
		packIdx[pack.ID] = i
	}

	for i := range st.Stickers {
		sticker := &st.Stickers[i]
		kept := make([]string, 0, len(sticker.PackIDs))
		for _, pid := range sticker.PackIDs {
			if _, ok := packIdx[pid]; ok && !contains(kept, pid) {
				kept = append(kept, pid)
			}
		}
		sticker.PackIDs = kept
	}

	for i := range st.Packs {
		pack := &st.Packs[i]
		kept := make([]string, 0, len(pack.StickerIDs))
		for _, sid := range pack.StickerIDs {
			if _, ok := stickerIdx[sid]; ok && !contains(kept, sid) {
				kept = append(kept, sid)
			}
		}
		pack.StickerIDs = kept
		if pack.CoverID != "" && !contains(kept, pack.CoverID) {
			pack.CoverID = ""
		}
	}

	// A membership recorded on only one side is restored on the other.
	for i := range st.Packs {
		pack := &st.Packs[i]
		for _, sid := range pack.StickerIDs {
			sticker := &st.Stickers[stickerIdx[sid]]
			if !contains(sticker.PackIDs, pack.ID) {
				sticker.PackIDs = append(sticker.PackIDs, pack.ID)
			}
		}
	}
	for i := range st.Stickers {
		sticker := &st.Stickers[i]
		for _, pid := range sticker.PackIDs {
			pack := &st.Packs[packIdx[pid]]
			if !contains(pack.StickerIDs, sticker.ID) {
				pack.StickerIDs = append(pack.StickerIDs, sticker.ID)
			}
		}
	}
}
