package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printq/internal/core"
)

type PrinterStatusResponse struct {
	Name        string    `json:"name"`
	Status      string    `json:"status"`
	IsOnline    bool      `json:"is_online"`
	Error       string    `json:"error,omitempty"`
	LastChecked time.Time `json:"last_checked"`
}

// PrinterHandler reports on configured printers. Devices come from config, so
// there is no create or update here.
type PrinterHandler struct {
	printers *core.PrinterManager
}

func NewPrinterHandler(printers *core.PrinterManager) *PrinterHandler {
	return &PrinterHandler{printers: printers}
}

func (h *PrinterHandler) ListPrinters(c *gin.Context) {
	printers := h.printers.ListPrinters()
	c.JSON(http.StatusOK, gin.H{"printers": printers, "count": len(printers)})
}

func (h *PrinterHandler) GetPrinter(c *gin.Context) {
	p, err := h.printers.GetPrinter(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: core.KindNotFound.String(), Message: "printer not found"})
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *PrinterHandler) CheckPrinter(c *gin.Context) {
	name := c.Param("name")
	status, err := h.printers.CheckStatus(c.Request.Context(), name)
	if errors.Is(err, core.ErrPrinterNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: core.KindNotFound.String(), Message: "printer not found"})
		return
	}

	resp := PrinterStatusResponse{
		Name:        name,
		Status:      status,
		IsOnline:    status == core.PrinterStatusOnline,
		LastChecked: time.Now().UTC(),
	}
	if err != nil {
		resp.Error = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func RegisterPrinterRoutes(admin *gin.RouterGroup, h *PrinterHandler) {
	printers := admin.Group("/printers")
	{
		printers.GET("", h.ListPrinters)
		printers.GET("/:name", h.GetPrinter)
		printers.POST("/:name/check", h.CheckPrinter)
	}
}
