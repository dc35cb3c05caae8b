package controllers

import (
	"net/http"

	"tunnel-keeper/internal/models"
	"tunnel-keeper/services"

	"github.com/gin-gonic/gin"
)

type ServiceController struct {
	server *services.Server
}

/**
 * Create new Service controller instance
 * @param {*services.Server} server - Server facade owning the host service lister
 * @returns {*ServiceController} New Service controller instance
 */
func NewServiceController(server *services.Server) *ServiceController {
	return &ServiceController{
		server: server,
	}
}

/**
 * Register host service routes
 * @param {*gin.RouterGroup} api - /api route group
 * @description
 * - Registers routes for:
 *   - Host service listing (docker containers and their published ports)
 */
func (s *ServiceController) RegisterRoutes(api *gin.RouterGroup) {
	api.GET("/services", s.ListServices)
	api.GET("/services/:name", s.GetService)
}

// ListServices lists docker services running on the host
//
//	@Summary		List host services
//	@Description	List docker containers with their published ports, empty when docker is unavailable
//	@Tags			Services
//	@Produce		json
//	@Success		200	{array}	models.HostService	"Host services"
//	@Router			/api/services [get]
func (s *ServiceController) ListServices(c *gin.Context) {
	c.JSON(http.StatusOK, s.server.Services(c.Request.Context()))
}

// GetService gets one host service by container name
//
//	@Summary		Get host service
//	@Description	Get a docker container by name
//	@Tags			Services
//	@Produce		json
//	@Param			name	path		string					true	"Container name"
//	@Success		200		{object}	models.HostService		"Host service"
//	@Failure		404		{object}	models.ErrorResponse	"Service not found"
//	@Router			/api/services/{name} [get]
func (s *ServiceController) GetService(c *gin.Context) {
	name := c.Param("name")
	for _, svc := range s.server.Services(c.Request.Context()) {
		if svc.Name == name {
			c.JSON(http.StatusOK, svc)
			return
		}
	}
	c.JSON(http.StatusNotFound, &models.ErrorResponse{
		Code:  "service.not_found",
		Error: "Service " + name + " not found",
	})
}
