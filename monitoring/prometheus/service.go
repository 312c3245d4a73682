// Package prometheus serves the node's operational surface: prometheus
// metrics, the aggregate health of every registered service, and goroutine
// dumps for debugging.
package prometheus

import (
	"bytes"
	"context"
	"net/http"
	"runtime/debug"
	"runtime/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/aleph-im/go-ccn/runtime"
)

var log = logrus.WithField("prefix", "prometheus")

// Service provides Prometheus metrics via the /metrics route. This route will
// show all the metrics registered with the Prometheus DefaultRegisterer.
type Service struct {
	server      *http.Server
	svcRegistry *runtime.ServiceRegistry
	failStatus  error
}

// NewService sets up a new instance for a given address host:port. An empty
// host will match with any IP so an address like ":8000" is perfectly
// acceptable.
func NewService(addr string, svcRegistry *runtime.ServiceRegistry) *Service {
	s := &Service{svcRegistry: svcRegistry}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.healthzHandler)
	mux.HandleFunc("/goroutinez", s.goroutinezHandler)

	s.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Service) healthzHandler(w http.ResponseWriter, r *http.Request) {
	type serviceStatus struct {
		Name   string `json:"service"`
		Status bool   `json:"status"`
		Err    string `json:"error"`
	}
	var hasError bool
	var statuses []serviceStatus
	for k, v := range s.svcRegistry.Statuses() {
		status := serviceStatus{
			Name:   k.String(),
			Status: true,
		}
		if v != nil {
			hasError = true
			status.Status = false
			status.Err = v.Error()
		}
		statuses = append(statuses, status)
	}

	if hasError {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	response := generatedResponse{}
	switch negotiateContentType(r) {
	case contentTypePlainText:
		var buf bytes.Buffer
		for _, status := range statuses {
			line := status.Name + ": OK\n"
			if !status.Status {
				line = status.Name + ": ERROR " + status.Err + "\n"
			}
			if _, err := buf.WriteString(line); err != nil {
				log.WithError(err).Error("Could not render healthz status")
			}
		}
		response.Data = buf
	case contentTypeJSON:
		response.Data = statuses
	}
	if err := writeResponse(w, r, response); err != nil {
		log.WithError(err).Error("Could not write healthz body")
	}
}

func (s *Service) goroutinezHandler(w http.ResponseWriter, _ *http.Request) {
	stack := debug.Stack()
	// #nosec G104
	w.Write(stack)
	// #nosec G104
	pprof.Lookup("goroutine").WriteTo(w, 2)
}

// Start the prometheus service.
func (s *Service) Start() {
	log.WithField("endpoint", s.server.Addr).Info("Starting service")
	go func() {
		err := s.server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			log.Errorf("Could not listen to host:port :%s: %v", s.server.Addr, err)
			s.failStatus = err
		}
	}()
}

// Stop the service gracefully.
func (s *Service) Stop() error {
	log.Info("Stopping service")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Status checks for any service failure conditions.
func (s *Service) Status() error {
	if s.failStatus != nil {
		return s.failStatus
	}
	return nil
}
