package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"stickerstudio/internal/config"
	"stickerstudio/internal/imaging"
	"stickerstudio/internal/models"
	"stickerstudio/internal/packs"
	"stickerstudio/internal/store"

	"github.com/gin-gonic/gin"
)

func findSticker(st *store.Store, id string) (models.Sticker, error) {
	for _, s := range st.Snapshot().Stickers {
		if s.ID == id {
			return s, nil
		}
	}
	return models.Sticker{}, store.ErrStickerNotFound
}

// handleStickers lists the collection newest first. ?q= filters by text
// and ?favorites=true keeps only favorites.
func handleStickers(c *gin.Context) {
	mgr := c.MustGet("packs").(*packs.Manager)

	stickers := mgr.Search(c.Query("q"))
	if fav, _ := strconv.ParseBool(c.Query("favorites")); fav {
		stickers = mgr.Favorites(c.Query("q"))
	}
	c.JSON(http.StatusOK, gin.H{"stickers": stickers})
}

func handleCreateSticker(c *gin.Context) {
	st := c.MustGet("store").(*store.Store)

	var req models.NewSticker
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Image url is required"})
		return
	}
	id := st.AddSticker(req)
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func handleSticker(c *gin.Context) {
	st := c.MustGet("store").(*store.Store)

	sticker, err := findSticker(st, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sticker)
}

func handleUpdateSticker(c *gin.Context) {
	st := c.MustGet("store").(*store.Store)

	var patch models.StickerPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid sticker data"})
		return
	}
	if err := st.UpdateSticker(c.Param("id"), patch); err != nil {
		respondError(c, err)
		return
	}
	sticker, _ := findSticker(st, c.Param("id"))
	c.JSON(http.StatusOK, sticker)
}

func handleDeleteSticker(c *gin.Context) {
	st := c.MustGet("store").(*store.Store)

	if err := st.RemoveSticker(c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func handleToggleFavorite(c *gin.Context) {
	st := c.MustGet("store").(*store.Store)

	if _, err := findSticker(st, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	st.ToggleFavorite(c.Param("id"))
	sticker, _ := findSticker(st, c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"favorite": sticker.Favorite})
}

func handleUpscaleSticker(c *gin.Context) {
	st := c.MustGet("store").(*store.Store)
	cfg := c.MustGet("config").(*config.Config)
	upscaler := c.MustGet("upscaler").(*imaging.Upscaler)

	sticker, err := findSticker(st, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	target := cfg.UpscaleTarget
	if raw := c.Query("target"); raw != "" {
		target, err = strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid target size"})
			return
		}
	}

	data, err := upscaler.Upscale(c.Request.Context(), sticker.URL, target)
	if err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Failed to upscale image"})
			return
		}
		respondError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="sticker-%s-%dpx.png"`, sticker.ID, target))
	c.Data(http.StatusOK, "image/png", data)
}
