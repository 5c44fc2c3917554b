package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Marketen/poi-radio/internal/logger"
)

const namespace = "poi_radio"

var (
	MessagesIngested = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_ingested_total",
		Help:      "Peer messages appended to the ingestion buffer.",
	})

	MessagesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_dropped_total",
		Help:      "Peer messages rejected before ingestion, by reason.",
	}, []string{"reason"})

	BufferedMessages = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "buffered_messages",
		Help:      "Messages currently waiting in the ingestion buffer.",
	})

	Comparisons = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "comparisons_total",
		Help:      "POI comparisons by outcome.",
	}, []string{"outcome"})

	ClaimsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "claims_published_total",
		Help:      "Local POI claims sent to peers, by network.",
	}, []string{"network"})

	ExternalErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "external_errors_total",
		Help:      "Failed calls to external services, by call.",
	}, []string{"call"})

	ChainHead = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "chain_head_block",
		Help:      "Latest block seen per network.",
	}, []string{"network"})
)

// Registry holds every collector of the service.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		MessagesIngested,
		MessagesDropped,
		BufferedMessages,
		Comparisons,
		ClaimsPublished,
		ExternalErrors,
		ChainHead,
		collectors.NewGoCollector(),
	)
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(Registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Serving metrics on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Metrics server stopped: %v", err)
	}
}
