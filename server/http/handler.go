package http

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	s "github.com/apksignd/apksignd/server"
	"github.com/apksignd/apksignd/server/http/middleware"
	"github.com/apksignd/apksignd/server/telemetry"
)

type apiHandler struct {
	Router  *mux.Router
	Manager *s.ArtifactManager
	Config  *s.Config
}

// APIHandler creates the signing service HTTP API handler registering all the
// available endpoints. The health endpoint sits outside the /api subtree so
// probes need neither a token nor a rate budget. The rate limiter is owned by
// the caller, which stops its cleanup goroutine on shutdown.
func APIHandler(config *s.Config, manager *s.ArtifactManager, appMetrics telemetry.AppMetrics, rateLimitMiddleware *middleware.RateLimitMiddleware) (http.Handler, error) {
	authMiddleware := middleware.NewAuthMiddleware(config.AuthToken)
	corsMiddleware := cors.AllowAll()
	metricsMiddleware := appMetrics.HTTPMiddleware()

	rootRouter := mux.NewRouter()
	rootRouter.HandleFunc("/healthz", healthCheck).Methods("GET")

	router := rootRouter.PathPrefix("/api").Subrouter()
	router.Use(metricsMiddleware.Handler, corsMiddleware.Handler, rateLimitMiddleware.Handler, authMiddleware.Handler)

	api := apiHandler{
		Router:  router,
		Manager: manager,
		Config:  config,
	}

	api.addSignEndpoint()
	api.addDownloadEndpoint()

	return rootRouter, nil
}

func (apiHandler *apiHandler) addSignEndpoint() {
	signHandler := NewSignHandler(apiHandler.Manager, apiHandler.Config.MaxUploadBytes)
	apiHandler.Router.HandleFunc("/sign", signHandler.SignPackage).Methods("POST", "OPTIONS")
}

func (apiHandler *apiHandler) addDownloadEndpoint() {
	downloadHandler := NewDownloadHandler(apiHandler.Manager)
	apiHandler.Router.HandleFunc("/download/{artifactId}", downloadHandler.DownloadArtifact).Methods("GET", "OPTIONS")
}

func healthCheck(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
