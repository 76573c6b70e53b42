package app

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"feedsync/pkg/api"
	"feedsync/pkg/httpx"
)

// setupHTTPHandlers mounts the API and the operational endpoints.
func (a *App) setupHTTPHandlers(mux *http.ServeMux) {
	apiSrv := api.NewServer(a.eng, a.coord, a.deb, a.eff.Config.Window())
	mux.HandleFunc("/healthz", healthzHandler)
	mux.HandleFunc("/readyz", a.readyzHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/docs/", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))
	mux.Handle("/openapi.yaml", http.FileServer(http.Dir("./docs")))
	mux.Handle("/", apiSrv.Handler())
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// readyzHandler reports readiness once the engine answers a probe read.
func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if a.eng == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"not ready"}`))
		return
	}
	ver := a.version
	if ver == "" {
		ver = "dev"
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok","version":"` + ver + `"}`))
}

// startHTTP builds the wrapped handler and starts the selected HTTP engine.
func (a *App) startHTTP(_ context.Context) <-chan error {
	mux := http.NewServeMux()
	a.setupHTTPHandlers(mux)

	sec := api.SecConfig{
		AllowedOrigins: append([]string{}, a.eff.Config.Security.CORS.AllowedOrigins...),
		RPS:            a.eff.Config.Security.RateLimit.RPS,
		Burst:          a.eff.Config.Security.RateLimit.Burst,
	}
	wrapped := api.Middleware(sec)(mux)

	a.srv = &httpx.Server{
		Addr:     a.eff.Addr,
		Engine:   a.eff.Config.Server.Engine,
		Handler:  wrapped,
		CertFile: a.eff.Config.Server.TLS.CertFile,
		KeyFile:  a.eff.Config.Server.TLS.KeyFile,
	}
	return a.srv.Start()
}
