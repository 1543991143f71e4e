package api

import (
	"context"
	"net/http"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/mbeavitt/Harvest/internal/api/documents"
	"github.com/mbeavitt/Harvest/internal/api/medias"
	"github.com/mbeavitt/Harvest/internal/api/scrapes"
	"github.com/mbeavitt/Harvest/pkg/logger"
)

var log = logger.Get("API")

type (
	RestConfig struct {
		HostAddr string `yaml:"host_address" env:"API_HOST_ADDR" env-default:"0.0.0.0:8080"`
	}

	controller interface {
		SetRoutes(*echo.Group)
	}

	// dataStore is the union of all the controller store requirements.
	dataStore interface {
		medias.Store
		documents.Store
	}

	// The RestGateway is a thin wrapper around the Echo HTTP router. Its sole
	// responsibility is to register the routes Harvest exposes and to run the
	// server until the parent context is cancelled.
	RestGateway struct {
		config             *RestConfig
		ec                 *echo.Echo
		scrapeController   controller
		mediaController    controller
		documentController controller
	}
)

// NewRestGateway constructs the Echo router and populates it with all the
// routes defined by the various controllers.
func NewRestGateway(config *RestConfig, scrapeService scrapes.Service, store dataStore) *RestGateway {
	ec := echo.New()
	ec.OnAddRouteHandler = func(host string, route echo.Route, handler echo.HandlerFunc, middleware []echo.MiddlewareFunc) {
		log.Debugf("Registered new route %s %s\n", route.Method, route.Path)
	}
	ec.HidePort = true
	ec.HideBanner = true

	validate := validator.New()
	gateway := &RestGateway{
		config:             config,
		ec:                 ec,
		scrapeController:   scrapes.New(validate, scrapeService),
		mediaController:    medias.New(store),
		documentController: documents.New(store),
	}

	ec.Use(middleware.Logger())
	ec.Use(middleware.Recover())
	ec.Pre(middleware.AddTrailingSlash())

	ec.GET("/api/harvest/v1/health/", func(ec echo.Context) error {
		return ec.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	scrapeGroup := ec.Group("/api/harvest/v1")
	gateway.scrapeController.SetRoutes(scrapeGroup)

	mediaGroup := ec.Group("/api/harvest/v1/media")
	gateway.mediaController.SetRoutes(mediaGroup)

	documentGroup := ec.Group("/api/harvest/v1/documents")
	gateway.documentController.SetRoutes(documentGroup)

	return gateway
}

func (gateway *RestGateway) Run(parentCtx context.Context) error {
	ctx, ctxCancel := context.WithCancelCause(parentCtx)
	wg := &sync.WaitGroup{}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := gateway.ec.Start(gateway.config.HostAddr); err != nil {
			ctxCancel(err)
		}
	}()

	go func(ec *echo.Echo) {
		<-ctx.Done()
		ec.Close()
	}(gateway.ec)

	wg.Wait()

	// Parent context cancellation is a clean shutdown, not an error.
	if cause := context.Cause(ctx); cause != ctx.Err() {
		return cause
	}

	return nil
}
