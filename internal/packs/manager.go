// Package packs builds collection views and pack archives on top of the
// state store.
package packs

import (
	"context"
	"strings"

	"stickerstudio/internal/models"
	"stickerstudio/internal/store"

	"golang.org/x/text/cases"
)

var (
	ErrPackNotFound = store.ErrPackNotFound
	ErrSlotNotReady = store.ErrSlotNotReady
)

// Fetcher resolves an image reference to its bytes. *imaging.Fetcher
// implements it.
type Fetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

type Manager struct {
	store       *store.Store
	fetcher     Fetcher
	concurrency int
}

const defaultConcurrency = 8

func New(st *store.Store, fetcher Fetcher) *Manager {
	return &Manager{store: st, fetcher: fetcher, concurrency: defaultConcurrency}
}

// Search returns stickers whose name, prompt, style, overlay text or tags
// contain query, ignoring case. An empty query matches everything.
func (m *Manager) Search(query string) []models.Sticker {
	stickers := m.store.Snapshot().Stickers
	fold := cases.Fold()
	q := fold.String(strings.TrimSpace(query))
	if q == "" {
		return stickers
	}

	out := []models.Sticker{}
	for _, s := range stickers {
		fields := append([]string{s.Name, s.Prompt, s.OptimizedPrompt, s.Style, s.Text}, s.Tags...)
		for _, f := range fields {
			if strings.Contains(fold.String(f), q) {
				out = append(out, s)
				break
			}
		}
	}
	return out
}

// Favorites is Search restricted to favorited stickers.
func (m *Manager) Favorites(query string) []models.Sticker {
	out := []models.Sticker{}
	for _, s := range m.Search(query) {
		if s.Favorite {
			out = append(out, s)
		}
	}
	return out
}

// PackStickers returns the pack's members in membership order.
func (m *Manager) PackStickers(packID string) ([]models.Sticker, error) {
	_, stickers, err := m.lookup(packID)
	if err != nil {
		return nil, err
	}
	return stickers, nil
}

// DuplicatePack copies a pack's membership under "<name> Copy".
func (m *Manager) DuplicatePack(packID string) (string, error) {
	pack, _, err := m.lookup(packID)
	if err != nil {
		return "", err
	}
	return m.store.AddPackWithStickers(pack.Name+" Copy", pack.StickerIDs)
}

// SaveResult promotes a finished slot into the collection and, when
// packID is set, files it into that pack.
func (m *Manager) SaveResult(slotID, packID string) (string, error) {
	if packID != "" {
		if _, _, err := m.lookup(packID); err != nil {
			return "", err
		}
	}
	id, err := m.store.SaveResult(slotID)
	if err != nil {
		return "", err
	}
	if packID != "" {
		if err := m.store.AddStickerToPack(id, packID); err != nil {
			return id, err
		}
	}
	return id, nil
}

func (m *Manager) lookup(packID string) (models.StickerPack, []models.Sticker, error) {
	snap := m.store.Snapshot()

	var pack *models.StickerPack
	for i := range snap.Packs {
		if snap.Packs[i].ID == packID {
			pack = &snap.Packs[i]
			break
		}
	}
	if pack == nil {
		return models.StickerPack{}, nil, ErrPackNotFound
	}

	byID := make(map[string]models.Sticker, len(snap.Stickers))
	for _, s := range snap.Stickers {
		byID[s.ID] = s
	}
	members := make([]models.Sticker, 0, len(pack.StickerIDs))
	for _, id := range pack.StickerIDs {
		if s, ok := byID[id]; ok {
			members = append(members, s)
		}
	}
	return *pack, members, nil
}
