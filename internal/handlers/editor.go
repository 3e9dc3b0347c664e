package handlers

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"stickerstudio/internal/config"
	"stickerstudio/internal/editor"
	"stickerstudio/internal/imaging"
	"stickerstudio/internal/models"
	"stickerstudio/internal/store"

	"github.com/gin-gonic/gin"
)

func editorSession(c *gin.Context) (*editor.Editor, bool) {
	sessions := c.MustGet("sessions").(*editor.Sessions)
	e, err := sessions.Get(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return e, true
}

// handleOpenEditor starts an editing session over a saved sticker or an
// arbitrary image reference and switches the app to the editor tab.
func handleOpenEditor(c *gin.Context) {
	st := c.MustGet("store").(*store.Store)
	fetcher := c.MustGet("fetcher").(*imaging.Fetcher)
	sessions := c.MustGet("sessions").(*editor.Sessions)

	var req struct {
		StickerID string `json:"stickerId"`
		URL       string `json:"url"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	ref := req.URL
	if req.StickerID != "" {
		sticker, err := findSticker(st, req.StickerID)
		if err != nil {
			respondError(c, err)
			return
		}
		ref = sticker.URL
	}
	if ref == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "A sticker id or image url is required"})
		return
	}

	data, err := fetcher.Fetch(c.Request.Context(), ref)
	if err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to load image"})
			return
		}
		respondError(c, err)
		return
	}
	base, err := imaging.Decode(data)
	if err != nil {
		respondError(c, err)
		return
	}

	id, e := sessions.Create(base)
	st.SetEditorImage(ref)
	_ = st.SetActiveTab(models.TabEditor)

	c.JSON(http.StatusCreated, gin.H{"id": id, "state": e.State()})
}

func handleEditorState(c *gin.Context) {
	e, ok := editorSession(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, e.State())
}

func handleCloseEditor(c *gin.Context) {
	sessions := c.MustGet("sessions").(*editor.Sessions)
	if !sessions.Close(c.Param("id")) {
		respondError(c, editor.ErrSessionNotFound)
		return
	}
	c.Status(http.StatusNoContent)
}

func handleEditorTool(c *gin.Context) {
	e, ok := editorSession(c)
	if !ok {
		return
	}

	var req struct {
		Tool      editor.Tool `json:"tool"`
		BrushSize *float64    `json:"brushSize"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if req.Tool != "" {
		if err := e.SetTool(req.Tool); err != nil {
			respondError(c, err)
			return
		}
	}
	if req.BrushSize != nil {
		e.SetBrushSize(*req.BrushSize)
	}
	c.JSON(http.StatusOK, e.State())
}

func handleEditorPointer(c *gin.Context) {
	e, ok := editorSession(c)
	if !ok {
		return
	}

	var req struct {
		Type string  `json:"type" binding:"required"`
		X    float64 `json:"x"`
		Y    float64 `json:"y"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid pointer event"})
		return
	}

	p := editor.Point{X: req.X, Y: req.Y}
	switch req.Type {
	case "down":
		e.PointerDown(p)
	case "move":
		e.PointerMove(p)
	case "up":
		e.PointerUp()
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Pointer type must be down, move or up"})
		return
	}
	c.JSON(http.StatusOK, e.State())
}

func handleEditorAddText(c *gin.Context) {
	e, ok := editorSession(c)
	if !ok {
		return
	}

	var req struct {
		Text string `json:"text"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
	}

	id, err := e.AddTextLayer(req.Text)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id, "state": e.State()})
}

// handleEditorAddImage accepts a multipart "file" field or a raw image body.
func handleEditorAddImage(c *gin.Context) {
	cfg := c.MustGet("config").(*config.Config)
	e, ok := editorSession(c)
	if !ok {
		return
	}

	var src io.Reader = c.Request.Body
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "File is required"})
			return
		}
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read upload"})
			return
		}
		defer f.Close()
		src = f
	}

	data, err := io.ReadAll(io.LimitReader(src, cfg.FetchMaxBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read upload"})
		return
	}
	if int64(len(data)) > cfg.FetchMaxBytes {
		respondError(c, imaging.ErrTooLarge)
		return
	}

	img, err := imaging.Decode(data)
	if err != nil {
		respondError(c, err)
		return
	}
	id := e.AddImageLayer(img)
	c.JSON(http.StatusCreated, gin.H{"id": id, "state": e.State()})
}

func handleEditorTransform(c *gin.Context) {
	e, ok := editorSession(c)
	if !ok {
		return
	}

	var t editor.Transform
	if err := c.ShouldBindJSON(&t); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid transform"})
		return
	}
	if err := e.TransformLayer(c.Param("layer_id"), t); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, e.State())
}

func handleEditorUpdateText(c *gin.Context) {
	e, ok := editorSession(c)
	if !ok {
		return
	}

	var patch editor.TextPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid text update"})
		return
	}
	if err := e.UpdateText(c.Param("layer_id"), patch); err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, e.State())
}

func handleEditorDeleteSelected(c *gin.Context) {
	e, ok := editorSession(c)
	if !ok {
		return
	}
	deleted := e.DeleteSelected()
	c.JSON(http.StatusOK, gin.H{"deleted": deleted, "state": e.State()})
}

func handleEditorExport(c *gin.Context) {
	e, ok := editorSession(c)
	if !ok {
		return
	}

	format := c.DefaultQuery("format", imaging.FormatPNG)
	if format != imaging.FormatPNG && format != imaging.FormatWEBP {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Format must be png or webp"})
		return
	}

	data, err := e.Export(format)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="sticker-edited%s"`, imaging.Extension(format)))
	c.Data(http.StatusOK, imaging.ContentType(format), data)
}
