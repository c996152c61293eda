////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package channels

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	jww "github.com/spf13/jwalterweatherman"
)

const metricsNamespace = "chatcore"

// metrics are the counters of the channel manager. They are always usable;
// they are only exported if a registerer was provided.
type metrics struct {
	staleEvents     *prometheus.CounterVec
	sendsConfirmed  *prometheus.CounterVec
	sendsFailed     *prometheus.CounterVec
	fetchesFailed   prometheus.Counter
	threadAnomalies *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		staleEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "channels",
			Name:      "stale_events_dropped_total",
			Help:      "Events and responses dropped because their channel was left or reset.",
		}, []string{"source"}),
		sendsConfirmed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "channels",
			Name:      "sends_confirmed_total",
			Help:      "Optimistic sends reconciled with the server's message.",
		}, []string{"via"}),
		sendsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "channels",
			Name:      "sends_failed_total",
			Help:      "Optimistic sends rolled back.",
		}, []string{"reason"}),
		fetchesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "channels",
			Name:      "history_fetches_failed_total",
			Help:      "History page fetches that failed.",
		}),
		threadAnomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "channels",
			Name:      "thread_anomalies_total",
			Help:      "Replies promoted to roots because of a cyclic or missing parent.",
		}, []string{"kind"}),
	}

	if reg == nil {
		return m
	}
	m.staleEvents = register(reg, m.staleEvents)
	m.sendsConfirmed = register(reg, m.sendsConfirmed)
	m.sendsFailed = register(reg, m.sendsFailed)
	m.fetchesFailed = register(reg, m.fetchesFailed)
	m.threadAnomalies = register(reg, m.threadAnomalies)
	return m
}

// register registers the collector, returning the already registered one if
// another manager registered it first.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	err := reg.Register(c)
	if err == nil {
		return c
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(T); ok {
			return existing
		}
	}
	jww.WARN.Printf("[CH] Failed to register metrics collector: %+v", err)
	return c
}
