package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"lazone/api/internal/prefs"
	"lazone/api/internal/utils"
)

// PreferencesStore is the part of *prefs.Store the handler uses.
type PreferencesStore interface {
	Get(ctx context.Context, account utils.SixID) (prefs.Preferences, error)
	Put(ctx context.Context, account utils.SixID, p prefs.Preferences) (prefs.Preferences, error)
}

// PreferencesHandler serves GET and PUT /v1/me/preferences.
type PreferencesHandler struct {
	store PreferencesStore
	log   logrus.FieldLogger
}

// NewPreferencesHandler creates a new PreferencesHandler.
func NewPreferencesHandler(store PreferencesStore, log logrus.FieldLogger) *PreferencesHandler {
	return &PreferencesHandler{store: store, log: log.WithField("component", "preferences_handler")}
}

// Get handles GET /v1/me/preferences
func (h *PreferencesHandler) Get(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	p, err := h.store.Get(c.Request.Context(), userID)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// Put handles PUT /v1/me/preferences
func (h *PreferencesHandler) Put(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var p prefs.Preferences
	if err := c.ShouldBindJSON(&p); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	saved, err := h.store.Put(c.Request.Context(), userID, p)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, saved)
}
