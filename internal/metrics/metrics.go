// Package metrics exposes Prometheus counters for the auth lifecycle.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/adeilh/rakh-auth/auth"
)

const namespace = "rakh_auth"

// Login outcomes.
const (
	LoginSuccess      = "success"
	LoginUnauthorized = "unauthorized"
	LoginError        = "error"
)

// Metrics owns a private registry so several instances can coexist in tests.
// A nil *Metrics records nothing.
type Metrics struct {
	registry  *prometheus.Registry
	logins    *prometheus.CounterVec
	refreshes *prometheus.CounterVec
	logouts   prometheus.Counter
	cookies   *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_total",
			Help:      "Login attempts by outcome.",
		}, []string{"outcome"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_total",
			Help:      "Refresh attempts by outcome.",
		}, []string{"outcome"}),
		logouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logout_total",
			Help:      "Logout requests.",
		}),
		cookies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cookies_issued_total",
			Help:      "Token cookies issued by name.",
		}, []string{"name"}),
	}
	m.registry.MustRegister(
		m.logins, m.refreshes, m.logouts, m.cookies,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveLogin(outcome string, out auth.Outcome) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(outcome).Inc()
	m.observeCookies(out.Cookies)
}

func (m *Metrics) ObserveRefresh(out auth.Outcome) {
	if m == nil {
		return
	}
	outcome := "failure"
	if out.Status == auth.StatusSuccess {
		outcome = "success"
	}
	m.refreshes.WithLabelValues(outcome).Inc()
	m.observeCookies(out.Cookies)
}

func (m *Metrics) ObserveLogout() {
	if m == nil {
		return
	}
	m.logouts.Inc()
}

func (m *Metrics) observeCookies(cookies []*http.Cookie) {
	for _, c := range cookies {
		if c == nil || c.MaxAge < 0 {
			continue
		}
		m.cookies.WithLabelValues(c.Name).Inc()
	}
}
