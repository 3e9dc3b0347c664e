package handlers

import (
	"errors"
	"net/http"

	"stickerstudio/internal/client"
	"stickerstudio/internal/config"
	"stickerstudio/internal/editor"
	"stickerstudio/internal/generation"
	"stickerstudio/internal/imaging"
	"stickerstudio/internal/logger"
	"stickerstudio/internal/middleware"
	"stickerstudio/internal/models"
	"stickerstudio/internal/packs"
	"stickerstudio/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Services are the dependencies shared by every handler.
type Services struct {
	Config       *config.Config
	Store        *store.Store
	Orchestrator *generation.Orchestrator
	Packs        *packs.Manager
	Upscaler     *imaging.Upscaler
	Fetcher      *imaging.Fetcher
	Sessions     *editor.Sessions
}

func SetupRoutes(r *gin.Engine, svc *Services) {
	r.Use(middleware.LogRequests())
	r.Use(middleware.SecurityHeaders(svc.Config))
	r.Use(middleware.AddServices(map[string]interface{}{
		"config":       svc.Config,
		"store":        svc.Store,
		"orchestrator": svc.Orchestrator,
		"packs":        svc.Packs,
		"upscaler":     svc.Upscaler,
		"fetcher":      svc.Fetcher,
		"sessions":     svc.Sessions,
	}))

	r.GET("/healthz", handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.Use(middleware.RateLimit(svc.Config, 20, 40))
	{
		api.GET("/state", handleState)
		api.PUT("/tab", handleSetTab)

		api.GET("/form", handleGetForm)
		api.PATCH("/form", handleUpdateForm)
		api.DELETE("/form", handleResetForm)
		api.POST("/form/optimize", handleOptimizePrompt)

		api.POST("/generate", handleGenerate)
		api.GET("/results", handleResults)
		api.DELETE("/results", handleClearResults)
		api.POST("/results/:id/regenerate", handleRegenerate)
		api.POST("/results/:id/save", handleSaveResult)

		api.GET("/stickers", handleStickers)
		api.POST("/stickers", handleCreateSticker)
		api.GET("/stickers/:id", handleSticker)
		api.PATCH("/stickers/:id", handleUpdateSticker)
		api.DELETE("/stickers/:id", handleDeleteSticker)
		api.POST("/stickers/:id/favorite", handleToggleFavorite)
		api.GET("/stickers/:id/upscale", handleUpscaleSticker)

		api.GET("/packs", handlePacks)
		api.POST("/packs", handleCreatePack)
		api.GET("/packs/:id", handlePackDetail)
		api.PATCH("/packs/:id", handleUpdatePack)
		api.DELETE("/packs/:id", handleDeletePack)
		api.POST("/packs/:id/duplicate", handleDuplicatePack)
		api.GET("/packs/:id/export", handleExportPack)
		api.POST("/packs/:id/stickers", handleAddStickerToPack)
		api.DELETE("/packs/:id/stickers/:sticker_id", handleRemoveStickerFromPack)

		api.GET("/user", handleUser)
		api.POST("/user/refresh", handleRefreshUser)
		api.POST("/user/signout", handleSignOut)

		api.POST("/editor", handleOpenEditor)
		api.GET("/editor/:id", handleEditorState)
		api.DELETE("/editor/:id", handleCloseEditor)
		api.PUT("/editor/:id/tool", handleEditorTool)
		api.POST("/editor/:id/pointer", handleEditorPointer)
		api.POST("/editor/:id/text", handleEditorAddText)
		api.POST("/editor/:id/image", handleEditorAddImage)
		api.PUT("/editor/:id/layers/:layer_id/transform", handleEditorTransform)
		api.PATCH("/editor/:id/layers/:layer_id/text", handleEditorUpdateText)
		api.DELETE("/editor/:id/selection", handleEditorDeleteSelected)
		api.GET("/editor/:id/export", handleEditorExport)
	}
}

func handleHealth(c *gin.Context) {
	orch := c.MustGet("orchestrator").(*generation.Orchestrator)
	c.JSON(http.StatusOK, gin.H{"status": "ok", "inFlight": orch.InFlight()})
}

func handleState(c *gin.Context) {
	st := c.MustGet("store").(*store.Store)
	c.JSON(http.StatusOK, st.Snapshot())
}

func handleSetTab(c *gin.Context) {
	st := c.MustGet("store").(*store.Store)

	var req struct {
		Tab models.Tab `json:"tab" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if err := st.SetActiveTab(req.Tab); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"activeTab": req.Tab})
}

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrStickerNotFound),
		errors.Is(err, store.ErrPackNotFound),
		errors.Is(err, store.ErrSlotNotFound),
		errors.Is(err, editor.ErrLayerNotFound),
		errors.Is(err, editor.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrBusy),
		errors.Is(err, store.ErrSlotNotReady):
		return http.StatusConflict
	case errors.Is(err, store.ErrQuotaExceeded),
		errors.Is(err, client.ErrQuotaExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, client.ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, imaging.ErrForbiddenAddress):
		return http.StatusForbidden
	case errors.Is(err, store.ErrEmptyPackName),
		errors.Is(err, store.ErrInvalidTab),
		errors.Is(err, store.ErrInvalidCount),
		errors.Is(err, generation.ErrEmptyPrompt),
		errors.Is(err, editor.ErrInvalidTool),
		errors.Is(err, editor.ErrInvalidTransform),
		errors.Is(err, editor.ErrInvalidFontSize),
		errors.Is(err, imaging.ErrInvalidTarget):
		return http.StatusBadRequest
	case errors.Is(err, imaging.ErrUnknownFormat),
		errors.Is(err, imaging.ErrUnsupportedReference),
		errors.Is(err, imaging.ErrTooLarge):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error("Request failed", "path", c.FullPath(), "error", err)
		c.JSON(status, gin.H{"error": "Internal server error"})
		return
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{"error": err.Error()})
}
