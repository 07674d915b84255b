package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/KudcraftsHQ/label-printer-server/internal/core"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type PrinterHandler struct {
	registry *core.Registry
}

func NewPrinterHandler(registry *core.Registry) *PrinterHandler {
	return &PrinterHandler{registry: registry}
}

type ConnectPrinterRequest struct {
	VendorID  uint16 `json:"vendorId" binding:"required"`
	ProductID uint16 `json:"productId" binding:"required"`
}

type DisconnectPrinterRequest struct {
	VendorID  uint16 `json:"vendorId"`
	ProductID uint16 `json:"productId"`
}

type PrinterResponse struct {
	VendorID     uint16 `json:"vendorId"`
	ProductID    uint16 `json:"productId"`
	Identity     string `json:"identity"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Model        string `json:"model,omitempty"`
	Connected    bool   `json:"connected"`
}

type PrinterStatusResponse struct {
	Connected   bool      `json:"connected"`
	State       string    `json:"state"`
	VendorID    uint16    `json:"vendorId"`
	ProductID   uint16    `json:"productId"`
	Identity    string    `json:"identity"`
	ConnectedAt time.Time `json:"connectedAt"`
	LastError   string    `json:"lastError,omitempty"`
}

func (h *PrinterHandler) RegisterRoutes(public, protected *gin.RouterGroup) {
	public.GET("/printers", h.ListPrinters)
	public.GET("/printers/status", h.Status)
	protected.POST("/printers/connect", h.Connect)
	protected.POST("/printers/disconnect", h.Disconnect)
}

func (h *PrinterHandler) ListPrinters(c *gin.Context) {
	devices, err := h.registry.Discover()
	if err != nil {
		c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "transport_error",
			Message: "Failed to enumerate printers",
		})
		return
	}

	active := h.registry.Status()

	printers := make([]PrinterResponse, 0, len(devices))
	for _, d := range devices {
		printers = append(printers, PrinterResponse{
			VendorID:     d.Identity.VendorID,
			ProductID:    d.Identity.ProductID,
			Identity:     d.Identity.String(),
			Manufacturer: d.Manufacturer,
			Model:        d.Model,
			Connected:    active.State != core.SessionStateDisconnected && active.Info.Identity == d.Identity,
		})
	}

	c.JSON(http.StatusOK, gin.H{"printers": printers})
}

func (h *PrinterHandler) Connect(c *gin.Context) {
	var req ConnectPrinterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	identity := core.PrinterIdentity{VendorID: req.VendorID, ProductID: req.ProductID}
	status, err := h.registry.Connect(identity)
	if err != nil {
		printerError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"printer": statusResponse(status),
	})
}

func (h *PrinterHandler) Status(c *gin.Context) {
	status := h.registry.Status()
	if status.State == core.SessionStateDisconnected {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_connected",
			Message: "No printer is connected",
		})
		return
	}

	c.JSON(http.StatusOK, statusResponse(status))
}

func (h *PrinterHandler) Disconnect(c *gin.Context) {
	if c.Request.ContentLength > 0 {
		var req DisconnectPrinterRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "validation_error",
				Message: err.Error(),
			})
			return
		}
	}

	if err := h.registry.Disconnect(); err != nil {
		printerError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func statusResponse(status core.SessionStatus) PrinterStatusResponse {
	return PrinterStatusResponse{
		Connected:   status.State != core.SessionStateDisconnected,
		State:       string(status.State),
		VendorID:    status.Info.Identity.VendorID,
		ProductID:   status.Info.Identity.ProductID,
		Identity:    status.Info.Identity.String(),
		ConnectedAt: status.ConnectedAt,
		LastError:   status.LastError,
	}
}

func printerError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, core.ErrPrinterNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "device_unavailable", Message: err.Error()})
	case errors.Is(err, core.ErrPrinterBusy):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "printer_busy", Message: err.Error()})
	case errors.Is(err, core.ErrNoActivePrinter):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_connected", Message: err.Error()})
	case errors.Is(err, core.ErrTransportFailure):
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: "transport_error", Message: err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: err.Error()})
	}
}
