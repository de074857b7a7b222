/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spinnerly_http_requests_total",
			Help: "Total API requests",
		},
		[]string{"route", "status"},
	)

	roomsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "spinnerly_rooms_created_total",
			Help: "Total rooms created",
		},
	)

	spinsCommitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "spinnerly_spins_committed_total",
			Help: "Total spin outcomes committed",
		},
	)

	commitConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "spinnerly_commit_conflicts_total",
			Help: "Total spin commits rejected because the room had moved on",
		},
	)

	messagesRelayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spinnerly_messages_relayed_total",
			Help: "Total realtime messages relayed to room clients",
		},
		[]string{"type"},
	)

	messagesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spinnerly_messages_rejected_total",
			Help: "Total realtime messages refused by a room hub",
		},
		[]string{"type"},
	)

	activeHubs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "spinnerly_active_hubs",
			Help: "Rooms with a running realtime hub",
		},
	)

	connectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "spinnerly_connected_clients",
			Help: "Websocket clients across all rooms",
		},
	)
)

func registerMetrics(cfg *Config, mux *httprouter.Router) {
	mux.Handler("GET", cfg.prefix+"/metrics", promhttp.Handler())
}
