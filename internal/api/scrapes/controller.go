package scrapes

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/mbeavitt/Harvest/internal/ingest"
)

type (
	// ScrapeRequest is the batch submission body. At least one URL or one
	// keyword must be present; the orchestrator rejects empty batches.
	ScrapeRequest struct {
		URLs     []string `json:"urls"`
		Keywords []string `json:"keywords"`
	}

	ScrapeReceiptDto struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}

	DownloadRequest struct {
		URL string `json:"url" validate:"required,url"`
	}

	DownloadResultDto struct {
		Success          bool      `json:"success"`
		Message          string    `json:"message"`
		Filename         string    `json:"filename,omitempty"`
		RecordID         uuid.UUID `json:"record_id,omitempty"`
		PersistenceError bool      `json:"persistence_error,omitempty"`
	}

	Service interface {
		Submit(batch ingest.BatchRequest) ingest.BatchReceipt
		DownloadVideo(ctx context.Context, url string) ingest.VideoResult
	}

	Controller struct {
		validate *validator.Validate
		service  Service
	}
)

func New(validate *validator.Validate, service Service) *Controller {
	return &Controller{validate: validate, service: service}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.POST("/scrape/", controller.submit)
	eg.POST("/download/", controller.download)
}

// submit accepts a batch of URLs and keywords and acknowledges it
// immediately; the ingest work itself runs in the background.
func (controller *Controller) submit(ec echo.Context) error {
	var request ScrapeRequest
	if err := ec.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("JSON body illegal: %v", err))
	}

	receipt := controller.service.Submit(ingest.BatchRequest{URLs: request.URLs, Keywords: request.Keywords})
	return ec.JSON(http.StatusOK, ScrapeReceiptDto{Status: receipt.Status, Message: receipt.Message})
}

// download ingests a single video synchronously, blocking the request until
// the ingest finishes or hits its wall clock.
func (controller *Controller) download(ec echo.Context) error {
	var request DownloadRequest
	if err := ec.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("JSON body illegal: %v", err))
	}
	if err := controller.validate.Struct(request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("body validation failed: %v", err))
	}

	result := controller.service.DownloadVideo(ec.Request().Context(), request.URL)
	return ec.JSON(http.StatusOK, DownloadResultDto{
		Success:          result.Success,
		Message:          result.Message,
		Filename:         result.Filename,
		RecordID:         result.RecordID,
		PersistenceError: result.PersistenceError,
	})
}
