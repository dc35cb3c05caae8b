package controllers

import (
	"net/http"

	"tunnel-keeper/internal/logger"
	"tunnel-keeper/internal/models"
	"tunnel-keeper/services"

	"github.com/gin-gonic/gin"
)

// TunnelController handles tunnel-related HTTP requests
type TunnelController struct {
	tunnels *services.TunnelManager
}

// NewTunnelController creates a TunnelController backed by the given registry
func NewTunnelController(tm *services.TunnelManager) *TunnelController {
	return &TunnelController{
		tunnels: tm,
	}
}

/**
 * Register tunnel routes
 * @param {*gin.RouterGroup} api - /api route group
 */
func (tc *TunnelController) RegisterRoutes(api *gin.RouterGroup) {
	api.POST("/start-tunnel", tc.StartTunnel)
	api.POST("/stop-tunnel", tc.StopTunnel)
	api.POST("/stop-all", tc.StopAll)
	api.GET("/tunnels", tc.ListTunnels)
	api.GET("/tunnels/:name", tc.GetTunnel)
}

// StartTunnel starts, renews or retargets a tunnel
//
//	@Summary		Start tunnel
//	@Description	Start a tunnel for a local service. A live tunnel on the same port is renewed instead
//	@Tags			Tunnels
//	@Accept			json
//	@Produce		json
//	@Param			body	body		models.StartTunnelRequest	true	"Start tunnel request parameters"
//	@Success		200		{object}	models.TunnelResponse		"Tunnel started or renewed"
//	@Failure		400		{object}	models.TunnelResponse		"Invalid parameters"
//	@Failure		500		{object}	models.TunnelResponse		"Tunnel start failure"
//	@Router			/api/start-tunnel [post]
func (tc *TunnelController) StartTunnel(c *gin.Context) {
	var req models.StartTunnelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, &models.TunnelResponse{
			Success: false,
			Message: "Invalid request parameters: " + err.Error(),
		})
		return
	}

	msg, err := tc.tunnels.RequestStart(c.Request.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		if services.IsValidation(err) {
			status = http.StatusBadRequest
		}
		logger.Warnf("Start tunnel '%s' failed: %v", req.ServiceName, err)
		c.JSON(status, &models.TunnelResponse{
			Success: false,
			Message: err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, &models.TunnelResponse{
		Success: true,
		Message: msg,
	})
}

// StopTunnel stops a tunnel by service name
//
//	@Summary		Stop tunnel
//	@Description	Stop the tunnel of a service. Stopping an unknown tunnel is a no-op success
//	@Tags			Tunnels
//	@Accept			json
//	@Produce		json
//	@Param			body	body		models.StopTunnelRequest	true	"Stop tunnel request parameters"
//	@Success		200		{object}	models.TunnelResponse		"Tunnel stop result"
//	@Failure		400		{object}	models.TunnelResponse		"Invalid parameters"
//	@Router			/api/stop-tunnel [post]
func (tc *TunnelController) StopTunnel(c *gin.Context) {
	var req models.StopTunnelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, &models.TunnelResponse{
			Success: false,
			Message: "Invalid request parameters: " + err.Error(),
		})
		return
	}

	msg, err := tc.tunnels.RequestStop(c.Request.Context(), req.ServiceName, "manual")
	if err != nil {
		c.JSON(http.StatusInternalServerError, &models.TunnelResponse{
			Success: false,
			Message: err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, &models.TunnelResponse{
		Success: true,
		Message: msg,
	})
}

// StopAll stops every tunnel
//
//	@Summary		Stop all tunnels
//	@Description	Stop every tunnel and kill leftover quick tunnel agent processes
//	@Tags			Tunnels
//	@Produce		json
//	@Success		200	{object}	models.TunnelResponse	"Stop all result"
//	@Router			/api/stop-all [post]
func (tc *TunnelController) StopAll(c *gin.Context) {
	msg := tc.tunnels.StopAll(c.Request.Context(), "stop all")
	c.JSON(http.StatusOK, &models.TunnelResponse{
		Success: true,
		Message: msg,
	})
}

// ListTunnels lists all tunnel records
//
//	@Summary		List tunnels
//	@Description	List every tunnel record, liveness recomputed at query time
//	@Tags			Tunnels
//	@Produce		json
//	@Success		200	{array}	models.TunnelView	"Tunnel list"
//	@Router			/api/tunnels [get]
func (tc *TunnelController) ListTunnels(c *gin.Context) {
	c.JSON(http.StatusOK, tc.tunnels.Snapshot(c.Request.Context()))
}

// GetTunnel gets one tunnel record
//
//	@Summary		Get tunnel
//	@Description	Get the tunnel record of a service
//	@Tags			Tunnels
//	@Produce		json
//	@Param			name	path		string					true	"Service name"
//	@Success		200		{object}	models.TunnelView		"Tunnel details"
//	@Failure		404		{object}	models.ErrorResponse	"Tunnel not found"
//	@Router			/api/tunnels/{name} [get]
func (tc *TunnelController) GetTunnel(c *gin.Context) {
	name := c.Param("name")
	view, ok := tc.tunnels.Get(c.Request.Context(), name)
	if !ok {
		c.JSON(http.StatusNotFound, &models.ErrorResponse{
			Code:  "tunnel.not_found",
			Error: services.MsgNotFound,
		})
		return
	}
	c.JSON(http.StatusOK, view)
}
