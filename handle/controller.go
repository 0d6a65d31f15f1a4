package handle

import (
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Options configures the middleware shared by every route.
type Options struct {
	Version        string
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	Exiftool       func() bool
	Geocoder       func() bool
}

// InitializeRoutes installs recovery, logging, timeout and body limits on router and
// registers the health endpoints. Domain routes are added by the caller.
func InitializeRoutes(router *mux.Router, opts Options) {
	router.Use(handlers.RecoveryHandler(
		handlers.RecoveryLogger(logrus.StandardLogger()),
		handlers.PrintRecoveryStack(false),
	))
	router.Use(Logging)
	if opts.RequestTimeout > 0 {
		router.Use(Timeout(opts.RequestTimeout))
	}
	if opts.MaxBodyBytes > 0 {
		router.Use(LimitBody(opts.MaxBodyBytes))
	}

	router.Handle("/", health(opts)).Methods("GET")
	router.Handle("/api/health", health(opts)).Methods("GET")
}
