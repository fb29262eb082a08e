// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/gaissmai/poptrie"
)

func newServeCmd(opts *options) *cobra.Command {
	var address string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve lookups and metrics over HTTP",
		Long: `Serves GET /lookup?addr=ADDR with a JSON answer, GET /stats and the
prometheus metrics on GET /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			tbl, _, err := loadTable(opts, reg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return serve(ctx, address, newHandler(tbl, reg))
		},
	}

	cmd.Flags().StringVar(&address, "address", ":9100", "listen address")

	return cmd
}

// serve runs the HTTP server until ctx is done.
func serve(ctx context.Context, address string, h http.Handler) error {
	srv := &http.Server{
		Addr:              address,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("address", address).Info("starting HTTP listener")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "serve")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	log.Info("shutting down HTTP listener")
	return errors.Wrap(srv.Shutdown(shutdownCtx), "serve")
}

type lookupResponse struct {
	Addr    string `json:"addr"`
	Nexthop string `json:"nexthop,omitempty"`
	Found   bool   `json:"found"`
}

// newHandler returns the HTTP routes. Only lookups touch the table
// concurrently, it is never modified while serving.
func newHandler(tbl *poptrie.Table[string], reg *prometheus.Registry) http.Handler {
	var json = jsoniter.ConfigCompatibleWithStandardLibrary

	// stats walk the writer side, take it once
	stats := tbl.Stats()

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	mux.HandleFunc("GET /lookup", func(w http.ResponseWriter, r *http.Request) {
		addr, err := netip.ParseAddr(r.URL.Query().Get("addr"))
		if err != nil || !addr.Is4() {
			http.Error(w, "addr: want an IPv4 address", http.StatusBadRequest)
			return
		}

		resp := lookupResponse{Addr: addr.String()}
		resp.Nexthop, resp.Found = tbl.Get(addr)

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			log.WithError(err).Debug("lookup response")
		}
	})

	mux.HandleFunc("GET /stats", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(stats); err != nil {
			log.WithError(err).Debug("stats response")
		}
	})

	return mux
}
