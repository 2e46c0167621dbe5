package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stt_socket"

var (
	descSessions = prometheus.NewDesc(namespace+"_sessions_total",
		"Client connections accepted.", nil, nil)
	descActiveSessions = prometheus.NewDesc(namespace+"_active_sessions",
		"Client connections currently being served.", nil, nil)
	descUtterances = prometheus.NewDesc(namespace+"_utterances_total",
		"Utterances decoded from clients.", nil, nil)
	descBytes = prometheus.NewDesc(namespace+"_received_bytes_total",
		"Wire bytes received from clients.", nil, nil)
	descSamples = prometheus.NewDesc(namespace+"_samples_total",
		"Audio samples decoded from clients.", nil, nil)
	descTranscripts = prometheus.NewDesc(namespace+"_transcripts_total",
		"Transcripts written back to clients.", nil, nil)
	descDecodeErrors = prometheus.NewDesc(namespace+"_decode_errors_total",
		"Utterances rejected as malformed.", nil, nil)
	descTransportErrors = prometheus.NewDesc(namespace+"_transport_errors_total",
		"Sessions ended by a transport failure.", nil, nil)
	descReloads = prometheus.NewDesc(namespace+"_engine_reloads_total",
		"Engines loaded, including the initial load.", nil, nil)
	descDowngrades = prometheus.NewDesc(namespace+"_tier_downgrades_total",
		"Model tier downgrades caused by resource exhaustion.", nil, nil)
	descInference = prometheus.NewDesc(namespace+"_inference_seconds_total",
		"Wall time spent in inference.", nil, nil)
	descActiveTier = prometheus.NewDesc(namespace+"_active_tier",
		"Set to 1 for the model tier currently loaded.", []string{"model"}, nil)
)

// Describe implements prometheus.Collector.
func (r *Recorder) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		descSessions, descActiveSessions, descUtterances, descBytes, descSamples,
		descTranscripts, descDecodeErrors, descTransportErrors, descReloads,
		descDowngrades, descInference, descActiveTier,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (r *Recorder) Collect(ch chan<- prometheus.Metric) {
	s := r.Snapshot()
	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	counter(descSessions, s.TotalSessions)
	ch <- prometheus.MustNewConstMetric(descActiveSessions, prometheus.GaugeValue, float64(s.ActiveSessions))
	counter(descUtterances, s.TotalUtterances)
	counter(descBytes, s.TotalBytes)
	counter(descSamples, s.TotalSamples)
	counter(descTranscripts, s.TotalTranscripts)
	counter(descDecodeErrors, s.TotalDecodeErrors)
	counter(descTransportErrors, s.TotalTransportErrors)
	counter(descReloads, s.TotalReloads)
	counter(descDowngrades, s.TotalDowngrades)
	ch <- prometheus.MustNewConstMetric(descInference, prometheus.CounterValue, s.InferenceTime.Seconds())
	if s.ActiveTier != "" {
		ch <- prometheus.MustNewConstMetric(descActiveTier, prometheus.GaugeValue, 1, s.ActiveTier)
	}
}

// Handler returns an HTTP handler serving r in the Prometheus text format.
// Go runtime and process collectors are registered alongside.
func (r *Recorder) Handler() (http.Handler, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(r); err != nil {
		return nil, err
	}
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, err
	}
	if err := reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, err
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil
}
