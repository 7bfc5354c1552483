package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"lazone/api/internal/services"
)

// ConfigHandler serves the public runtime configuration and lets admins
// change it.
type ConfigHandler struct {
	configService services.IConfigService
	log           logrus.FieldLogger
}

// NewConfigHandler creates a new ConfigHandler.
func NewConfigHandler(configService services.IConfigService, log logrus.FieldLogger) *ConfigHandler {
	return &ConfigHandler{configService: configService, log: log.WithField("component", "config_handler")}
}

// GetPublicConfig returns the publicly accessible configuration parameters.
// Handles GET /v1/config
func (h *ConfigHandler) GetPublicConfig(c *gin.Context) {
	publicConfig, err := h.configService.GetAllPublic(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		h.log.WithError(err).Error("Failed to load public config")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve configuration"})
		return
	}
	c.JSON(http.StatusOK, publicConfig)
}

type setConfigRequest struct {
	Value    interface{} `json:"value"`
	IsPublic bool        `json:"is_public"`
}

// SetConfigValue handles PUT /v1/admin/config/:key
func (h *ConfigHandler) SetConfigValue(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))
	if key == "" {
		badRequest(c, "key is required")
		return
	}
	var req setConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Value == nil {
		badRequest(c, "value is required")
		return
	}
	if err := h.configService.SetConfigValue(c.Request.Context(), key, req.Value, req.IsPublic); err != nil {
		_ = c.Error(err)
		h.log.WithError(err).WithField("key", key).Error("Failed to set config value")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update configuration"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "value": req.Value})
}
