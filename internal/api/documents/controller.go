package documents

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/mbeavitt/Harvest/internal/record"
)

type (
	DocumentDto struct {
		Id           uuid.UUID         `json:"id"`
		SourceURL    string            `json:"source_url"`
		Filename     string            `json:"filename"`
		ByteSize     int64             `json:"byte_size"`
		DownloadedAt time.Time         `json:"downloaded_at"`
		Attributes   record.Attributes `json:"attributes"`
	}

	Store interface {
		GetAllDocuments() ([]*record.DocumentRecord, error)
		GetDocumentByID(id uuid.UUID) (*record.DocumentRecord, error)
		OpenBlob(ctx context.Context, objectName string) (io.ReadCloser, error)
	}

	Controller struct {
		store Store
	}
)

func New(store Store) *Controller {
	return &Controller{store: store}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.GET("/", controller.list)
	eg.GET("/:id/", controller.get)
	eg.GET("/:id/download/", controller.download)
}

func (controller *Controller) list(ec echo.Context) error {
	items, err := controller.store.GetAllDocuments()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	dtos := make([]*DocumentDto, len(items))
	for k, v := range items {
		dtos[k] = NewDto(v)
	}

	return ec.JSON(http.StatusOK, dtos)
}

func (controller *Controller) get(ec echo.Context) error {
	item, err := controller.lookup(ec)
	if err != nil {
		return err
	}

	return ec.JSON(http.StatusOK, NewDto(item))
}

// download streams the stored PDF back to the client.
func (controller *Controller) download(ec echo.Context) error {
	item, err := controller.lookup(ec)
	if err != nil {
		return err
	}

	blob, err := controller.store.OpenBlob(ec.Request().Context(), item.BlobObjectName)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "document payload is not available")
	}
	defer blob.Close()

	ec.Response().Header().Set("Content-Disposition", `attachment; filename="`+item.Filename+`"`)
	return ec.Stream(http.StatusOK, "application/pdf", blob)
}

func (controller *Controller) lookup(ec echo.Context) (*record.DocumentRecord, error) {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "Document ID is not a valid UUID")
	}

	item, err := controller.store.GetDocumentByID(id)
	if err != nil {
		if errors.Is(err, record.ErrDocumentNotFound) {
			return nil, echo.NewHTTPError(http.StatusNotFound)
		}

		return nil, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return item, nil
}

func NewDto(item *record.DocumentRecord) *DocumentDto {
	return &DocumentDto{
		Id:           item.ID,
		SourceURL:    item.SourceURL,
		Filename:     item.Filename,
		ByteSize:     item.ByteSize,
		DownloadedAt: item.DownloadedAt,
		Attributes:   item.Attributes,
	}
}
