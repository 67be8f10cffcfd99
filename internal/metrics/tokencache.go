package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Métricas del token cache. Viven en un paquete propio para evitar ciclos entre
// el coordinador, la façade y el paquete HTTP que las expone.

// Resultados de lectura.
const (
	ResultHit          = "hit"
	ResultMiss         = "miss"
	ResultCorrupt      = "corrupt"
	ResultDecryptError = "decrypt_error"
	ResultUnavailable  = "unavailable"
	ResultOK           = "ok"
	ResultError        = "error"
	ResultLockTimeout  = "lock_timeout"
)

// Cache agrupa los vectores. Un *Cache nil es válido y no registra nada.
type Cache struct {
	Reads            *prometheus.CounterVec
	Writes           *prometheus.CounterVec
	LockWait         *prometheus.HistogramVec
	Evictions        *prometheus.CounterVec
	ProviderRequests *prometheus.CounterVec
}

// New crea vectores sin registrar.
func New() *Cache {
	return &Cache{
		Reads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tokencache_reads_total",
			Help: "Lecturas de partición por tipo de identidad y resultado",
		}, []string{"kind", "result"}),
		Writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tokencache_writes_total",
			Help: "Read-modify-write de partición por tipo de identidad y resultado",
		}, []string{"kind", "result"}),
		LockWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tokencache_lock_wait_seconds",
			Help:    "Espera por el lock de partición",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"kind"}),
		Evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tokencache_evictions_total",
			Help: "Particiones eliminadas (sign-out o administrativo)",
		}, []string{"kind"}),
		ProviderRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tokencache_provider_requests_total",
			Help: "Requests al identity provider por grant y resultado",
		}, []string{"grant", "result"}),
	}
}

// Default es la instancia que expone /metrics.
var Default = New()

// Register registra los vectores en reg (o el default si es nil).
func (m *Cache) Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{m.Reads, m.Writes, m.LockWait, m.Evictions, m.ProviderRequests} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}

func (m *Cache) Read(kind, result string) {
	if m == nil {
		return
	}
	m.Reads.WithLabelValues(kind, result).Inc()
}

func (m *Cache) Write(kind, result string) {
	if m == nil {
		return
	}
	m.Writes.WithLabelValues(kind, result).Inc()
}

func (m *Cache) Waited(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.LockWait.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Cache) Evicted(kind string) {
	if m == nil {
		return
	}
	m.Evictions.WithLabelValues(kind).Inc()
}

func (m *Cache) Provider(grant, result string) {
	if m == nil {
		return
	}
	m.ProviderRequests.WithLabelValues(grant, result).Inc()
}
