package handlers

import (
	"net/http"
	"strconv"

	"stickerstudio/internal/generation"
	"stickerstudio/internal/models"
	"stickerstudio/internal/packs"
	"stickerstudio/internal/store"

	"github.com/gin-gonic/gin"
)

func handleGetForm(c *gin.Context) {
	st := c.MustGet("store").(*store.Store)
	c.JSON(http.StatusOK, st.Snapshot().Form)
}

func handleUpdateForm(c *gin.Context) {
	st := c.MustGet("store").(*store.Store)

	var patch models.FormPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid form data"})
		return
	}
	patch.ResolveAspectRatio()
	st.SetForm(patch)
	c.JSON(http.StatusOK, st.Snapshot().Form)
}

func handleResetForm(c *gin.Context) {
	st := c.MustGet("store").(*store.Store)
	st.ResetForm()
	c.JSON(http.StatusOK, st.Snapshot().Form)
}

func handleOptimizePrompt(c *gin.Context) {
	orch := c.MustGet("orchestrator").(*generation.Orchestrator)

	result, err := orch.OptimizePrompt(c.Request.Context())
	if err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			c.JSON(http.StatusBadGateway, gin.H{"error": "Prompt optimization failed"})
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result})
}

// handleGenerate starts a batch. The count defaults to the form's generate
// count. With ?wait=true the response is sent once every slot has settled.
func handleGenerate(c *gin.Context) {
	st := c.MustGet("store").(*store.Store)
	orch := c.MustGet("orchestrator").(*generation.Orchestrator)

	var req struct {
		Count int `json:"count"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
	}
	if req.Count == 0 {
		req.Count = st.Snapshot().Form.GenerateCount
	}

	batch, err := orch.GenerateBatch(c.Request.Context(), req.Count)
	if err != nil {
		respondError(c, err)
		return
	}

	if wait, _ := strconv.ParseBool(c.Query("wait")); wait {
		select {
		case <-batch.Done():
		case <-c.Request.Context().Done():
			// The batch keeps running; the client can poll /api/results.
			return
		}
		res := batch.Wait()
		body := gin.H{"batch": res, "results": st.Snapshot().Results}
		if res.SyncErr != nil {
			body["warning"] = res.SyncErr.Error()
		}
		c.JSON(http.StatusOK, body)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"results": batch.Slots})
}

func handleResults(c *gin.Context) {
	st := c.MustGet("store").(*store.Store)
	snap := st.Snapshot()
	c.JSON(http.StatusOK, gin.H{"results": snap.Results, "isGenerating": snap.IsGenerating})
}

func handleClearResults(c *gin.Context) {
	st := c.MustGet("store").(*store.Store)

	if err := st.SetResults(nil); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func handleRegenerate(c *gin.Context) {
	orch := c.MustGet("orchestrator").(*generation.Orchestrator)

	batch, err := orch.RegenerateSingle(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	if wait, _ := strconv.ParseBool(c.Query("wait")); wait {
		select {
		case <-batch.Done():
			c.JSON(http.StatusOK, gin.H{"batch": batch.Wait()})
		case <-c.Request.Context().Done():
		}
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"results": batch.Slots})
}

func handleSaveResult(c *gin.Context) {
	mgr := c.MustGet("packs").(*packs.Manager)

	var req struct {
		PackID string `json:"packId"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
	}

	id, err := mgr.SaveResult(c.Param("id"), req.PackID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}
