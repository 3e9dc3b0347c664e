package handlers

import (
	"fmt"
	"net/http"
	"net/url"

	"stickerstudio/internal/models"
	"stickerstudio/internal/packs"
	"stickerstudio/internal/store"

	"github.com/gin-gonic/gin"
)

func handlePacks(c *gin.Context) {
	st := c.MustGet("store").(*store.Store)
	c.JSON(http.StatusOK, gin.H{"packs": st.Snapshot().Packs})
}

func handleCreatePack(c *gin.Context) {
	st := c.MustGet("store").(*store.Store)

	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	id, err := st.AddPack(req.Name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func handlePackDetail(c *gin.Context) {
	st := c.MustGet("store").(*store.Store)
	mgr := c.MustGet("packs").(*packs.Manager)

	stickers, err := mgr.PackStickers(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	var pack models.StickerPack
	for _, p := range st.Snapshot().Packs {
		if p.ID == c.Param("id") {
			pack = p
			break
		}
	}
	c.JSON(http.StatusOK, gin.H{"pack": pack, "stickers": stickers})
}

func handleUpdatePack(c *gin.Context) {
	st := c.MustGet("store").(*store.Store)

	var patch models.PackPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid pack data"})
		return
	}
	if err := st.UpdatePack(c.Param("id"), patch); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func handleDeletePack(c *gin.Context) {
	st := c.MustGet("store").(*store.Store)

	if err := st.RemovePack(c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func handleDuplicatePack(c *gin.Context) {
	mgr := c.MustGet("packs").(*packs.Manager)

	id, err := mgr.DuplicatePack(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func handleAddStickerToPack(c *gin.Context) {
	st := c.MustGet("store").(*store.Store)

	var req struct {
		StickerID string `json:"stickerId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Sticker id is required"})
		return
	}
	if err := st.AddStickerToPack(req.StickerID, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func handleRemoveStickerFromPack(c *gin.Context) {
	st := c.MustGet("store").(*store.Store)
	st.RemoveStickerFromPack(c.Param("sticker_id"), c.Param("id"))
	c.Status(http.StatusNoContent)
}

func handleExportPack(c *gin.Context) {
	mgr := c.MustGet("packs").(*packs.Manager)

	archive, err := mgr.ExportPack(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"; filename*=UTF-8''%s`,
		archive.Name, url.PathEscape(archive.Name)))
	c.Header("X-Skipped-Stickers", fmt.Sprint(archive.Skipped))
	c.Data(http.StatusOK, "application/zip", archive.Data)
}
