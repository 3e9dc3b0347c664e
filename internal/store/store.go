// Package store holds the application state: the generation form, live
// generation slots, the sticker collection, packs and the user's quota.
//
// Every mutating operation is applied atomically under the store mutex.
// After the transition commits, the persisted projection is written to the
// key-value store and subscribers receive a copy of the new state.
package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"stickerstudio/internal/kvstore"
	"stickerstudio/internal/logger"
	"stickerstudio/internal/models"

	"github.com/google/uuid"
)

var (
	ErrStickerNotFound = errors.New("sticker not found")
	ErrPackNotFound    = errors.New("pack not found")
	ErrSlotNotFound    = errors.New("slot not found")
	ErrSlotNotReady    = errors.New("slot has no finished image")
	ErrEmptyPackName   = errors.New("pack name is required")
	ErrInvalidTab      = errors.New("invalid tab")
	ErrInvalidCount    = errors.New("generate count must be at least 1")
	ErrBusy            = errors.New("a generation batch is already running")
	ErrQuotaExceeded   = errors.New("generation quota exceeded")
)

const (
	DefaultKey     = "sticker-studio-store"
	persistTimeout = 5 * time.Second
)

// State is a read-only snapshot. Revision increases by one per commit so
// subscribers can discard snapshots that arrive out of order.
type State struct {
	Revision     uint64                   `json:"revision"`
	Form         models.GenerateFormState `json:"form"`
	Results      []models.GenerationSlot  `json:"results"`
	IsGenerating bool                     `json:"isGenerating"`
	Stickers     []models.Sticker         `json:"stickers"`
	Packs        []models.StickerPack     `json:"packs"`
	User         models.UserProfile       `json:"user"`
	ActiveTab    models.Tab               `json:"activeTab"`
	EditorImage  string                   `json:"editorImage,omitempty"`
}

func defaultState() State {
	return State{
		Form:      models.DefaultForm(),
		Results:   []models.GenerationSlot{},
		Stickers:  []models.Sticker{},
		Packs:     []models.StickerPack{},
		User:      models.GuestUser(),
		ActiveTab: models.TabGenerator,
	}
}

func (s State) clone() State {
	out := s
	out.Results = append([]models.GenerationSlot{}, s.Results...)
	out.Stickers = make([]models.Sticker, len(s.Stickers))
	for i, st := range s.Stickers {
		out.Stickers[i] = cloneSticker(st)
	}
	out.Packs = make([]models.StickerPack, len(s.Packs))
	for i, p := range s.Packs {
		out.Packs[i] = clonePack(p)
	}
	return out
}

func cloneSticker(st models.Sticker) models.Sticker {
	st.PackIDs = append([]string{}, st.PackIDs...)
	if st.Tags != nil {
		st.Tags = append([]string{}, st.Tags...)
	}
	return st
}

func clonePack(p models.StickerPack) models.StickerPack {
	p.StickerIDs = append([]string{}, p.StickerIDs...)
	return p
}

type Option func(*Store)

// WithClock overrides the time source used for creation timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator overrides identifier generation.
func WithIDGenerator(newID func() string) Option {
	return func(s *Store) { s.newID = newID }
}

// WithKey sets the namespace key the projection is persisted under.
func WithKey(key string) Option {
	return func(s *Store) { s.key = key }
}

type Store struct {
	mu    sync.Mutex
	state State

	kv          kvstore.Store
	key         string
	lastWritten []byte

	now   func() time.Time
	newID func() string

	subMu   sync.Mutex
	subs    map[int]func(State)
	nextSub int
}

// New returns a store holding defaults. kv may be nil, in which case
// nothing is persisted. Call Load to rehydrate persisted state.
func New(kv kvstore.Store, opts ...Option) *Store {
	s := &Store{
		state: defaultState(),
		kv:    kv,
		key:   DefaultKey,
		now:   time.Now,
		newID: uuid.NewString,
		subs:  make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Subscribe registers fn to be called after every commit. The returned
// function removes the subscription.
func (s *Store) Subscribe(fn func(State)) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// update applies fn atomically. fn reports whether it changed anything;
// unchanged transitions neither persist nor notify.
func (s *Store) update(fn func(st *State) bool) {
	s.mu.Lock()
	if !fn(&s.state) {
		s.mu.Unlock()
		return
	}
	s.state.Revision++
	s.persistLocked()
	snap := s.state.clone()
	s.mu.Unlock()

	s.notify(snap)
}

func (s *Store) notify(snap State) {
	s.subMu.Lock()
	subs := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.subMu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}

func (s *Store) persistLocked() {
	if s.kv == nil {
		return
	}

	data, err := encodeState(s.state)
	if err != nil {
		logger.Error("Failed to encode state", "error", err)
		return
	}
	if string(data) == string(s.lastWritten) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := s.kv.Set(ctx, s.key, data); err != nil {
		logger.Warn("Failed to persist state", "key", s.key, "error", err)
		return
	}
	s.lastWritten = data
}

func (s *Store) SetActiveTab(tab models.Tab) error {
	if !tab.Valid() {
		return ErrInvalidTab
	}
	s.update(func(st *State) bool {
		if st.ActiveTab == tab {
			return false
		}
		st.ActiveTab = tab
		return true
	})
	return nil
}

// SetEditorImage selects the image the editor opens with. An empty ref clears it.
func (s *Store) SetEditorImage(ref string) {
	s.update(func(st *State) bool {
		if st.EditorImage == ref {
			return false
		}
		st.EditorImage = ref
		return true
	})
}
