package api

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"screencopy/models"
	"screencopy/service"
)

func HealthCheck(c *gin.Context, hub *WebSocketHub) {
	c.JSON(http.StatusOK, models.SuccessResponse(gin.H{
		"status":  "ok",
		"message": "screencopy is running",
		"clients": hub.ClientCount(),
	}))
}

// GetDevices returns the last discovery result
func GetDevices(c *gin.Context, dm *service.DeviceManager) {
	devices := dm.GetAllDevices()
	c.JSON(http.StatusOK, models.SuccessResponse(devices))
}

// ScanDevices runs a fresh discovery
func ScanDevices(c *gin.Context, dm *service.DeviceManager) {
	if err := dm.ScanDevices(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, models.KindErrorResponse(service.KindOf(err).String(), err.Error()))
		return
	}
	devices := dm.GetAllDevices()
	c.JSON(http.StatusOK, models.SuccessResponse(devices))
}

// GetDevice returns one device from the last discovery result
func GetDevice(c *gin.Context, dm *service.DeviceManager) {
	serial := c.Param("serial")
	device, ok := dm.GetDevice(serial)
	if !ok {
		c.JSON(http.StatusNotFound, models.ErrorResponse(fmt.Sprintf("device not found: %s", serial)))
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(device))
}

// RunCommand starts a command flow in the background. The flow outlives
// the request and talks to the user over the UI bridge.
func RunCommand(c *gin.Context, baseCtx context.Context, commands *service.Commands) {
	name := c.Param("name")
	if err := commands.Go(baseCtx, name); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, service.ErrUnknownCommand) {
			status = http.StatusNotFound
		}
		c.JSON(status, models.ErrorResponse(err.Error()))
		return
	}

	c.JSON(http.StatusAccepted, models.SuccessResponse(gin.H{"command": name}))
}

// streamView is a stream's status plus how many UI clients are watching it.
type streamView struct {
	service.StreamStatus
	Subscribers int `json:"subscribers"`
}

func GetStreamingStatus(c *gin.Context, ss *service.StreamingService, hub *WebSocketHub) {
	status := ss.GetStreamingStatus()
	views := make(map[string]streamView, len(status))
	for id, st := range status {
		views[id] = streamView{StreamStatus: st, Subscribers: hub.SubscriberCount(id)}
	}
	c.JSON(http.StatusOK, models.SuccessResponse(views))
}

func StopStreaming(c *gin.Context, ss *service.StreamingService) {
	panelID := c.Param("panel_id")
	if err := ss.StopStreaming(panelID); err != nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, models.MessageResponse("Streaming stopped"))
}

// GetPanel serves the panel's document. Content arrives over /ws.
func GetPanel(c *gin.Context, hub *WebSocketHub) {
	panel, ok := hub.GetPanel(c.Param("panel_id"))
	if !ok {
		c.JSON(http.StatusNotFound, models.ErrorResponse("panel not found"))
		return
	}
	doc := fmt.Sprintf("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>%s</title></head><body></body></html>\n",
		html.EscapeString(panel.Title()))
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(doc))
}

func DisposePanel(c *gin.Context, hub *WebSocketHub) {
	if !hub.DisposePanel(c.Param("panel_id")) {
		c.JSON(http.StatusNotFound, models.ErrorResponse("panel not found"))
		return
	}
	c.JSON(http.StatusOK, models.MessageResponse("Panel disposed"))
}

// GetSessions returns recorded command flows, newest first.
func GetSessions(c *gin.Context, history *service.HistoryService) {
	if history == nil {
		c.JSON(http.StatusOK, models.SuccessResponse([]models.SessionRecord{}))
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, models.ErrorResponse("invalid limit"))
		return
	}
	records, err := history.List(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse(err.Error()))
		return
	}
	if records == nil {
		records = []models.SessionRecord{}
	}
	c.JSON(http.StatusOK, models.SuccessResponse(records))
}
