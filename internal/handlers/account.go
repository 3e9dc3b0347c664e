package handlers

import (
	"net/http"

	"stickerstudio/internal/generation"
	"stickerstudio/internal/store"

	"github.com/gin-gonic/gin"
)

func handleUser(c *gin.Context) {
	st := c.MustGet("store").(*store.Store)
	user := st.Snapshot().User
	c.JSON(http.StatusOK, gin.H{"user": user, "remaining": user.Remaining()})
}

// handleRefreshUser pulls the authenticated profile and quota from the
// remote source of truth.
func handleRefreshUser(c *gin.Context) {
	orch := c.MustGet("orchestrator").(*generation.Orchestrator)

	user, err := orch.RefreshQuota(c.Request.Context())
	if err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to refresh user", "user": user})
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user, "remaining": user.Remaining()})
}

func handleSignOut(c *gin.Context) {
	st := c.MustGet("store").(*store.Store)
	st.SignOut()
	user := st.Snapshot().User
	c.JSON(http.StatusOK, gin.H{"user": user, "remaining": user.Remaining()})
}
