package handlers

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"mime"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"stickerstudio/internal/config"
	"stickerstudio/internal/editor"
	"stickerstudio/internal/generation"
	"stickerstudio/internal/imaging"
	"stickerstudio/internal/models"
	"stickerstudio/internal/packs"
	"stickerstudio/internal/store"

	"github.com/gin-gonic/gin"
	jsoniter "github.com/json-iterator/go"
	"golang.org/x/image/draw"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type stubBackend struct {
	url string
}

func (b *stubBackend) Generate(ctx context.Context, req models.GenerateRequest) (string, error) {
	return b.url, nil
}

func (b *stubBackend) Optimize(ctx context.Context, req models.OptimizeRequest) (string, error) {
	return "better " + req.Prompt, nil
}

func (b *stubBackend) FetchUser(ctx context.Context) (*models.RemoteUser, error) {
	return nil, nil
}

func (b *stubBackend) ConsumeQuota(ctx context.Context, count int) (models.Quota, error) {
	return models.Quota{}, nil
}

func pngDataURL(t *testing.T, w, h int) string {
	t.Helper()
	data, err := imaging.EncodePNG(image.NewRGBA(image.Rect(0, 0, w, h)))
	if err != nil {
		t.Fatal(err)
	}
	return imaging.DataURL(data)
}

func setupTestRouter(t *testing.T) (*gin.Engine, *store.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Environment:   "development",
		UpscaleTarget: 64,
		FetchMaxBytes: 1 << 20,
	}
	st := store.New(nil)
	fetcher := imaging.NewFetcher(imaging.FetcherOptions{MaxBytes: cfg.FetchMaxBytes})

	r := gin.New()
	SetupRoutes(r, &Services{
		Config:       cfg,
		Store:        st,
		Orchestrator: generation.New(st, &stubBackend{url: pngDataURL(t, 4, 4)}, generation.Options{}),
		Packs:        packs.New(st, fetcher),
		Upscaler:     imaging.NewUpscaler(fetcher),
		Fetcher:      fetcher,
		Sessions:     editor.NewSessions(editor.WithResampler(draw.NearestNeighbor)),
	})
	return r, st
}

func perform(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("Failed to decode %q: %v", w.Body.String(), err)
	}
}

func TestHealth(t *testing.T) {
	r, _ := setupTestRouter(t)
	w := perform(r, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var resp struct {
		Status   string `json:"status"`
		InFlight int    `json:"inFlight"`
	}
	decode(t, w, &resp)
	if resp.Status != "ok" || resp.InFlight != 0 {
		t.Errorf("Unexpected health body %s", w.Body.String())
	}
}

func TestClearResults(t *testing.T) {
	r, st := setupTestRouter(t)

	if w := perform(r, http.MethodPost, "/api/generate?wait=true", `{"count":2}`); w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w := perform(r, http.MethodDelete, "/api/results", ""); w.Code != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d: %s", w.Code, w.Body.String())
	}
	if n := len(st.Snapshot().Results); n != 0 {
		t.Errorf("Expected results cleared, got %d", n)
	}

	st.SetGenerating(true)
	if w := perform(r, http.MethodDelete, "/api/results", ""); w.Code != http.StatusConflict {
		t.Errorf("Expected 409 while generating, got %d", w.Code)
	}
}

func TestGenerateAndSave(t *testing.T) {
	r, st := setupTestRouter(t)

	w := perform(r, http.MethodPost, "/api/generate?wait=true", `{"count":2}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Results []models.GenerationSlot `json:"results"`
	}
	decode(t, w, &resp)
	if len(resp.Results) != 2 || resp.Results[0].Status != models.SlotDone {
		t.Fatalf("Expected 2 finished slots, got %+v", resp.Results)
	}
	if used := st.Snapshot().User.GenerationsUsed; used != 2 {
		t.Errorf("Expected 2 used, got %d", used)
	}

	w = perform(r, http.MethodPost, "/api/results/"+resp.Results[0].ID+"/save", "")
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if len(st.Snapshot().Stickers) != 1 {
		t.Error("Expected saved sticker in the collection")
	}
}

func TestGenerateQuotaExceeded(t *testing.T) {
	r, st := setupTestRouter(t)
	st.IncrementGenerations(8)

	w := perform(r, http.MethodPost, "/api/generate", `{"count":3}`)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("Expected 429, got %d", w.Code)
	}
	if len(st.Snapshot().Results) != 0 {
		t.Error("Expected no slots after a rejected batch")
	}
}

func TestFormUpdate(t *testing.T) {
	r, _ := setupTestRouter(t)

	w := perform(r, http.MethodPatch, "/api/form", `{"prompt":"a fox","aspectRatio":"9:16"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var form models.GenerateFormState
	decode(t, w, &form)
	if form.Prompt != "a fox" || form.CustomWidth != 576 || form.CustomHeight != 1024 {
		t.Errorf("Unexpected form %+v", form)
	}

	w = perform(r, http.MethodPost, "/api/form/optimize", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "better a fox") {
		t.Errorf("Expected optimized prompt, got %d: %s", w.Code, w.Body.String())
	}
}

func TestPackLifecycleAndExport(t *testing.T) {
	r, st := setupTestRouter(t)

	w := perform(r, http.MethodPost, "/api/stickers", `{"url":"`+pngDataURL(t, 2, 2)+`","name":"dot"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var sticker struct{ ID string }
	decode(t, w, &sticker)

	w = perform(r, http.MethodPost, "/api/packs", `{"name":"  "}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for blank name, got %d", w.Code)
	}

	w = perform(r, http.MethodPost, "/api/packs", `{"name":"Dots"}`)
	var pack struct{ ID string }
	decode(t, w, &pack)

	w = perform(r, http.MethodPost, "/api/packs/"+pack.ID+"/stickers", `{"stickerId":"`+sticker.ID+`"}`)
	if w.Code != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d: %s", w.Code, w.Body.String())
	}
	if got := st.Snapshot().Stickers[0].PackIDs; len(got) != 1 || got[0] != pack.ID {
		t.Errorf("Expected membership on the sticker, got %v", got)
	}

	w = perform(r, http.MethodGet, "/api/packs/"+pack.ID+"/export", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/zip" {
		t.Errorf("Expected application/zip, got %s", ct)
	}
	if !strings.Contains(w.Header().Get("Content-Disposition"), "Dots.zip") {
		t.Errorf("Expected archive named after the pack, got %s", w.Header().Get("Content-Disposition"))
	}

	w = perform(r, http.MethodDelete, "/api/packs/"+pack.ID, "")
	if w.Code != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", w.Code)
	}
	if got := st.Snapshot().Stickers[0].PackIDs; len(got) != 0 {
		t.Errorf("Expected pack removed from sticker, got %v", got)
	}

	if w := perform(r, http.MethodGet, "/api/packs/"+pack.ID+"/export", ""); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestUpscaleSticker(t *testing.T) {
	r, st := setupTestRouter(t)
	id := st.AddSticker(models.NewSticker{URL: pngDataURL(t, 4, 2)})

	w := perform(r, http.MethodGet, "/api/stickers/"+id+"/upscale?target=8", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	img, err := png.Decode(bytes.NewReader(w.Body.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 16 || b.Dy() != 8 {
		t.Errorf("Expected 16x8, got %dx%d", b.Dx(), b.Dy())
	}

	if w := perform(r, http.MethodGet, "/api/stickers/missing/upscale", ""); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestFavoriteToggle(t *testing.T) {
	r, st := setupTestRouter(t)
	id := st.AddSticker(models.NewSticker{URL: "https://img/a.png"})

	w := perform(r, http.MethodPost, "/api/stickers/"+id+"/favorite", "")
	if w.Code != http.StatusOK || !st.Snapshot().Stickers[0].Favorite {
		t.Errorf("Expected favorite set, got %d", w.Code)
	}

	w = perform(r, http.MethodGet, "/api/stickers?favorites=true", "")
	var resp struct{ Stickers []models.Sticker }
	decode(t, w, &resp)
	if len(resp.Stickers) != 1 {
		t.Errorf("Expected 1 favorite, got %d", len(resp.Stickers))
	}
}

func TestOpenEditorRefusesLocalURL(t *testing.T) {
	r, st := setupTestRouter(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("internal"))
	}))
	defer srv.Close()

	w := perform(r, http.MethodPost, "/api/editor", `{"url":"`+srv.URL+`/admin"}`)
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403, got %d: %s", w.Code, w.Body.String())
	}
	if st.Snapshot().ActiveTab == models.TabEditor {
		t.Error("Expected refused fetch to leave the tab alone")
	}
}

func TestExportQuotedPackName(t *testing.T) {
	r, st := setupTestRouter(t)
	packID, err := st.AddPack(`Best "Cats"`)
	if err != nil {
		t.Fatal(err)
	}

	w := perform(r, http.MethodGet, "/api/packs/"+packID+"/export", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	_, params, err := mime.ParseMediaType(w.Header().Get("Content-Disposition"))
	if err != nil {
		t.Fatalf("Malformed Content-Disposition %q: %v", w.Header().Get("Content-Disposition"), err)
	}
	if params["filename"] != "Best 'Cats'.zip" {
		t.Errorf("Expected filename \"Best 'Cats'.zip\", got %q", params["filename"])
	}
}

func TestEditorSession(t *testing.T) {
	r, st := setupTestRouter(t)

	w := perform(r, http.MethodPost, "/api/editor", `{"url":"`+pngDataURL(t, 8, 6)+`"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var session struct{ ID string }
	decode(t, w, &session)
	if st.Snapshot().ActiveTab != models.TabEditor {
		t.Error("Expected editor tab active")
	}

	w = perform(r, http.MethodPost, "/api/editor/"+session.ID+"/text", `{"text":"hi"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w = perform(r, http.MethodPut, "/api/editor/"+session.ID+"/tool", `{"tool":"erase","brushSize":400}`)
	var state editor.State
	decode(t, w, &state)
	if state.Tool != editor.ToolErase || state.BrushSize != editor.MaxBrushSize {
		t.Errorf("Unexpected editor state %+v", state)
	}

	for _, ev := range []string{`{"type":"down","x":10,"y":10}`, `{"type":"move","x":30,"y":10}`, `{"type":"up"}`} {
		if w := perform(r, http.MethodPost, "/api/editor/"+session.ID+"/pointer", ev); w.Code != http.StatusOK {
			t.Fatalf("Pointer event %s: expected 200, got %d", ev, w.Code)
		}
	}

	w = perform(r, http.MethodGet, "/api/editor/"+session.ID+"/export", "")
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("Expected png export, got %d %s", w.Code, w.Header().Get("Content-Type"))
	}
	img, err := png.Decode(bytes.NewReader(w.Body.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != editor.CanvasWidth*editor.PixelRatio {
		t.Errorf("Expected supersampled width, got %d", b.Dx())
	}

	if w := perform(r, http.MethodGet, "/api/editor/"+session.ID+"/export?format=gif", ""); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for gif, got %d", w.Code)
	}
	if w := perform(r, http.MethodDelete, "/api/editor/"+session.ID, ""); w.Code != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", w.Code)
	}
	if w := perform(r, http.MethodGet, "/api/editor/"+session.ID, ""); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestSignOut(t *testing.T) {
	r, st := setupTestRouter(t)
	st.SignIn(models.RemoteUser{ID: "u1", GenerationsUsed: 3, GenerationsLimit: 1000})

	w := perform(r, http.MethodPost, "/api/user/signout", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if u := st.Snapshot().User; !u.IsGuest || u.GenerationsUsed != 0 {
		t.Errorf("Expected guest profile, got %+v", u)
	}
}
