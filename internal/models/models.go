package models

const (
	GuestID            = "guest"
	GuestLimit         = 10
	AuthenticatedLimit = 1000
)

type SlotStatus string

const (
	SlotPending SlotStatus = "pending"
	SlotDone    SlotStatus = "done"
	SlotFailed  SlotStatus = "failed"
)

// GenerationSlot is one request within a batch. Token changes on every
// dispatch, so a settlement carrying an old token is ignored.
type GenerationSlot struct {
	ID     string     `json:"id"`
	Token  string     `json:"token"`
	URL    string     `json:"url,omitempty"`
	Status SlotStatus `json:"status"`
	Error  string     `json:"error,omitempty"`
}

type Sticker struct {
	ID              string   `json:"id"`
	URL             string   `json:"url"`
	Prompt          string   `json:"prompt"`
	OptimizedPrompt string   `json:"optimizedPrompt,omitempty"`
	Style           string   `json:"style"`
	AspectRatio     string   `json:"aspectRatio"`
	Width           int      `json:"width"`
	Height          int      `json:"height"`
	Name            string   `json:"name,omitempty"`
	Text            string   `json:"text,omitempty"`
	Emoji           string   `json:"emoji,omitempty"`
	IsTransparent   bool     `json:"isTransparent"`
	BgColor         string   `json:"bgColor,omitempty"`
	Favorite        bool     `json:"favorite"`
	PackIDs         []string `json:"packIds"`
	Tags            []string `json:"tags,omitempty"`
	CreatedAt       int64    `json:"createdAt"`
}

// NewSticker carries the caller-supplied fields of a sticker being saved.
type NewSticker struct {
	URL             string   `json:"url" binding:"required"`
	Prompt          string   `json:"prompt"`
	OptimizedPrompt string   `json:"optimizedPrompt"`
	Style           string   `json:"style"`
	AspectRatio     string   `json:"aspectRatio"`
	Width           int      `json:"width"`
	Height          int      `json:"height"`
	Name            string   `json:"name"`
	Text            string   `json:"text"`
	Emoji           string   `json:"emoji"`
	IsTransparent   bool     `json:"isTransparent"`
	BgColor         string   `json:"bgColor"`
	Tags            []string `json:"tags"`
}

// StickerPatch holds optional field edits; nil fields are left alone.
type StickerPatch struct {
	URL   *string   `json:"url"`
	Name  *string   `json:"name"`
	Text  *string   `json:"text"`
	Emoji *string   `json:"emoji"`
	Tags  *[]string `json:"tags"`
}

type StickerPack struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	CoverID    string   `json:"coverId,omitempty"`
	StickerIDs []string `json:"stickerIds"`
	CreatedAt  int64    `json:"createdAt"`
}

type PackPatch struct {
	Name    *string `json:"name"`
	CoverID *string `json:"coverId"`
}

type UserProfile struct {
	ID               string `json:"id"`
	Email            string `json:"email,omitempty"`
	GenerationsUsed  int    `json:"generationsUsed"`
	GenerationsLimit int    `json:"generationsLimit"`
	IsGuest          bool   `json:"isGuest"`
}

// Remaining never goes below zero even while a local increment is
// waiting on server confirmation.
func (u UserProfile) Remaining() int {
	if r := u.GenerationsLimit - u.GenerationsUsed; r > 0 {
		return r
	}
	return 0
}

func GuestUser() UserProfile {
	return UserProfile{
		ID:               GuestID,
		GenerationsLimit: GuestLimit,
		IsGuest:          true,
	}
}

type UserPatch struct {
	ID               *string `json:"id"`
	Email            *string `json:"email"`
	GenerationsUsed  *int    `json:"generationsUsed"`
	GenerationsLimit *int    `json:"generationsLimit"`
	IsGuest          *bool   `json:"isGuest"`
}

type GenerateFormState struct {
	Prompt          string `json:"prompt"`
	OptimizedPrompt string `json:"optimizedPrompt"`
	StickerName     string `json:"stickerName"`
	StickerText     string `json:"stickerText"`
	StickerEmoji    string `json:"stickerEmoji"`
	Style           string `json:"style"`
	AspectRatio     string `json:"aspectRatio"`
	CustomWidth     int    `json:"customWidth"`
	CustomHeight    int    `json:"customHeight"`
	GenerateCount   int    `json:"generateCount"`
	AIModel         string `json:"aiModel"`
	PromptAI        string `json:"promptAI"`
	IsTransparent   bool   `json:"isTransparent"`
	BgColor         string `json:"bgColor"`
	TextFont        string `json:"textFont"`
	TextPosition    string `json:"textPosition"`
	ReferenceImage  string `json:"referenceImage,omitempty"`
	ReferenceMode   string `json:"referenceMode"`
}

func DefaultForm() GenerateFormState {
	return GenerateFormState{
		Style:         "2D Flat",
		AspectRatio:   "1:1",
		CustomWidth:   1024,
		CustomHeight:  1024,
		GenerateCount: 1,
		AIModel:       "pollinations",
		PromptAI:      "gemini",
		IsTransparent: true,
		BgColor:       "#ffffff",
		TextFont:      "Inter",
		TextPosition:  "bottom",
		ReferenceMode: "full",
	}
}

// Size returns the requested pixel dimensions: the preset's for a known
// ratio, the custom fields otherwise.
func (f GenerateFormState) Size() (int, int) {
	if r, ok := LookupAspectRatio(f.AspectRatio); ok && r.Value != "custom" {
		return r.Width, r.Height
	}
	if f.CustomWidth > 0 && f.CustomHeight > 0 {
		return f.CustomWidth, f.CustomHeight
	}
	return 1024, 1024
}

// EffectivePrompt is what gets sent for generation: the optimized prompt,
// else the raw prompt, else a style-only fallback.
func (f GenerateFormState) EffectivePrompt() string {
	if f.OptimizedPrompt != "" {
		return f.OptimizedPrompt
	}
	if f.Prompt != "" {
		return f.Prompt
	}
	return f.Style + " sticker art"
}

// FormPatch is a shallow merge into GenerateFormState; nil fields are kept.
type FormPatch struct {
	Prompt          *string `json:"prompt"`
	OptimizedPrompt *string `json:"optimizedPrompt"`
	StickerName     *string `json:"stickerName"`
	StickerText     *string `json:"stickerText"`
	StickerEmoji    *string `json:"stickerEmoji"`
	Style           *string `json:"style"`
	AspectRatio     *string `json:"aspectRatio"`
	CustomWidth     *int    `json:"customWidth"`
	CustomHeight    *int    `json:"customHeight"`
	GenerateCount   *int    `json:"generateCount"`
	AIModel         *string `json:"aiModel"`
	PromptAI        *string `json:"promptAI"`
	IsTransparent   *bool   `json:"isTransparent"`
	BgColor         *string `json:"bgColor"`
	TextFont        *string `json:"textFont"`
	TextPosition    *string `json:"textPosition"`
	ReferenceImage  *string `json:"referenceImage"`
	ReferenceMode   *string `json:"referenceMode"`
}

func (p FormPatch) Apply(f *GenerateFormState) {
	setString(&f.Prompt, p.Prompt)
	setString(&f.OptimizedPrompt, p.OptimizedPrompt)
	setString(&f.StickerName, p.StickerName)
	setString(&f.StickerText, p.StickerText)
	setString(&f.StickerEmoji, p.StickerEmoji)
	setString(&f.Style, p.Style)
	setString(&f.AspectRatio, p.AspectRatio)
	setInt(&f.CustomWidth, p.CustomWidth)
	setInt(&f.CustomHeight, p.CustomHeight)
	setInt(&f.GenerateCount, p.GenerateCount)
	setString(&f.AIModel, p.AIModel)
	setString(&f.PromptAI, p.PromptAI)
	if p.IsTransparent != nil {
		f.IsTransparent = *p.IsTransparent
	}
	setString(&f.BgColor, p.BgColor)
	setString(&f.TextFont, p.TextFont)
	setString(&f.TextPosition, p.TextPosition)
	setString(&f.ReferenceImage, p.ReferenceImage)
	setString(&f.ReferenceMode, p.ReferenceMode)
}

// ResolveAspectRatio fills in preset dimensions when a non-custom ratio is
// selected without explicit sizes.
func (p *FormPatch) ResolveAspectRatio() {
	if p.AspectRatio == nil || *p.AspectRatio == "custom" {
		return
	}
	if p.CustomWidth != nil || p.CustomHeight != nil {
		return
	}
	if r, ok := LookupAspectRatio(*p.AspectRatio); ok {
		w, h := r.Width, r.Height
		p.CustomWidth = &w
		p.CustomHeight = &h
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

type AspectRatio struct {
	Value    string `json:"value"`
	Label    string `json:"label"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Category string `json:"category"`
}

var AspectRatios = []AspectRatio{
	{Value: "1:1", Label: "1:1 Sticker / Instagram Square", Width: 1024, Height: 1024, Category: "Sticker"},
	{Value: "4:5", Label: "4:5 Instagram Portrait", Width: 1024, Height: 1280, Category: "Instagram"},
	{Value: "1.91:1", Label: "1.91:1 Instagram Landscape", Width: 1024, Height: 536, Category: "Instagram"},
	{Value: "9:16", Label: "9:16 Story / Wallpaper Portrait", Width: 576, Height: 1024, Category: "Story & Wallpaper"},
	{Value: "16:9", Label: "16:9 Banner / Cover / Wallpaper Landscape", Width: 1024, Height: 576, Category: "Banner & Wallpaper"},
	{Value: "16:9-tw", Label: "16:9 Twitter/X Header", Width: 1500, Height: 844, Category: "Twitter/X"},
	{Value: "2:1", Label: "2:1 Twitter/X Post", Width: 1024, Height: 512, Category: "Twitter/X"},
	{Value: "fb-cover", Label: "1.91:1 Facebook Cover", Width: 1640, Height: 859, Category: "Facebook"},
	{Value: "fb-sq", Label: "1:1 Facebook Post Square", Width: 1080, Height: 1080, Category: "Facebook"},
	{Value: "yt-thumb", Label: "16:9 YouTube Thumbnail", Width: 1280, Height: 720, Category: "YouTube"},
	{Value: "tiktok", Label: "9:16 TikTok / Reels", Width: 1080, Height: 1920, Category: "TikTok & Reels"},
	{Value: "2:3", Label: "2:3 Pinterest Pin", Width: 1000, Height: 1500, Category: "Pinterest"},
	{Value: "li-banner", Label: "1.91:1 LinkedIn Banner", Width: 1584, Height: 829, Category: "LinkedIn"},
	{Value: "custom", Label: "Custom", Width: 1024, Height: 1024, Category: "Custom"},
}

func LookupAspectRatio(value string) (AspectRatio, bool) {
	for _, r := range AspectRatios {
		if r.Value == value {
			return r, true
		}
	}
	return AspectRatio{}, false
}

type Tab string

const (
	TabGenerator Tab = "generator"
	TabGallery   Tab = "gallery"
	TabEditor    Tab = "editor"
)

// GenerateRequest is sent to the image generation boundary.
type GenerateRequest struct {
	Prompt        string `json:"prompt"`
	Style         string `json:"style"`
	Model         string `json:"aiModel"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	IsTransparent bool   `json:"isTransparent"`
}

type GenerateResponse struct {
	URL   string `json:"url"`
	Error string `json:"error,omitempty"`
}

type OptimizeRequest struct {
	Prompt string `json:"prompt"`
	Style  string `json:"style"`
	Model  string `json:"ai"`
}

type OptimizeResponse struct {
	Result string `json:"result"`
	Error  string `json:"error,omitempty"`
}

// Quota is the remote source of truth for an authenticated user's counters.
type Quota struct {
	Used  int `json:"generationsUsed"`
	Limit int `json:"generationsLimit"`
}

type RemoteUser struct {
	ID               string `json:"id"`
	Email            string `json:"email"`
	GenerationsUsed  int    `json:"generationsUsed"`
	GenerationsLimit int    `json:"generationsLimit"`
}

type UserResponse struct {
	User    *RemoteUser `json:"user"`
	IsGuest bool        `json:"isGuest"`
}

type QuotaDelta struct {
	Count int `json:"count"`
}

func (t Tab) Valid() bool {
	switch t {
	case TabGenerator, TabGallery, TabEditor:
		return true
	}
	return false
}
