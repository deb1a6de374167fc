package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/go-ims-packets/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus collectors
var (
	PacketsRx = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "packets_rx_total",
		Help: "Total packets decoded, by port.",
	}, []string{"port"})
	PacketsTx = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "packets_tx_total",
		Help: "Total packets encoded and handed to the transport, by port.",
	}, []string{"port"})
	BytesRx = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bytes_rx_total",
		Help: "Total bytes consumed by inbound codecs.",
	})
	BytesTx = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bytes_tx_total",
		Help: "Total serialized bytes written.",
	})
	FramingErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "framing_errors_total",
		Help: "Inbound sequences rejected by a codec, by port.",
	}, []string{"port"})
	SizeMismatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "size_mismatch_total",
		Help: "Outbound packets refused because the Length header could not describe them.",
	})
	StallResets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stall_resets_total",
		Help: "Ports reset after exceeding their idle cycle budget.",
	})
	Unsupported = promauto.NewCounter(prometheus.CounterOpts{
		Name: "unsupported_packets_total",
		Help: "Decoded packets with an unknown ID or a type the port role does not accept.",
	})
	PortFaults = promauto.NewCounter(prometheus.CounterOpts{
		Name: "port_faults_total",
		Help: "Ports taken out of service after a buffer bounds violation.",
	})
	QueueDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outbound_queue_drops_total",
		Help: "Outbound requests rejected because a port queue was full.",
	})
	PortsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ports_active",
		Help: "Ports currently serviced by the node loop.",
	})
	HubDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_dropped_records_total",
		Help: "Packet records dropped by the hub due to slow observers.",
	})
	HubKickedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_kicked_clients_total",
		Help: "Observers disconnected due to backpressure kick policy.",
	})
	HubActiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_active_clients",
		Help: "Current number of hub observers.",
	})
	HubBroadcastFanout = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_broadcast_fanout",
		Help: "Number of observers targeted in the most recent broadcast.",
	})
	HubQueueDepthMax = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_queue_depth_max",
		Help: "Observed max queued records among observers in the last broadcast.",
	})
	HubQueueDepthAvg = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_queue_depth_avg",
		Help: "Approximate average queued records per observer in the last broadcast.",
	})
	TCPRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tcp_rejected_clients_total",
		Help: "TCP connections rejected (max-clients).",
	})
	BusPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bus_published_total",
		Help: "Packet records delivered to external buses, by sink.",
	}, []string{"sink"})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrTCPRead        = "tcp_read"
	ErrTCPWrite       = "tcp_write"
	ErrSerialRead     = "serial_read"
	ErrSerialWrite    = "serial_write"
	ErrSerialOverflow = "serial_tx_overflow"
	ErrConsoleWrite   = "console_write"
	ErrTxOverflow     = "tx_overflow"
	ErrSourceRead     = "source_read"
	ErrEncode         = "encode"
	ErrBufferBounds   = "buffer_bounds"
	ErrNATSPublish    = "nats_publish"
	ErrRedisWrite     = "redis_write"
)

// StartHTTP serves Prometheus metrics at /metrics and readiness at /ready.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for easy logging (avoid Prometheus scraping in-process)
var (
	localRx          uint64
	localTx          uint64
	localBytesRx     uint64
	localBytesTx     uint64
	localFraming     uint64
	localSizeMis     uint64
	localStalls      uint64
	localUnsupported uint64
	localFaults      uint64
	localQueueDrops  uint64
	localPorts       uint64
	localHubDrop     uint64
	localHubKick     uint64
	localHubClients  uint64
	localFanout      uint64
	localQDMax       uint64
	localQDAvg       uint64
	localTCPReject   uint64
	localBus         uint64
	localErrors      uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	PacketsRx     uint64
	PacketsTx     uint64
	BytesRx       uint64
	BytesTx       uint64
	Framing       uint64
	SizeMismatch  uint64
	StallResets   uint64
	Unsupported   uint64
	PortFaults    uint64
	QueueDrops    uint64
	Ports         uint64
	HubDrops      uint64
	HubKicks      uint64
	HubClients    uint64
	Fanout        uint64
	QueueDepthMax uint64
	QueueDepthAvg uint64
	TCPRejects    uint64
	BusPublished  uint64
	Errors        uint64 // sum across error labels
}

func Snap() Snapshot {
	return Snapshot{
		PacketsRx:     atomic.LoadUint64(&localRx),
		PacketsTx:     atomic.LoadUint64(&localTx),
		BytesRx:       atomic.LoadUint64(&localBytesRx),
		BytesTx:       atomic.LoadUint64(&localBytesTx),
		Framing:       atomic.LoadUint64(&localFraming),
		SizeMismatch:  atomic.LoadUint64(&localSizeMis),
		StallResets:   atomic.LoadUint64(&localStalls),
		Unsupported:   atomic.LoadUint64(&localUnsupported),
		PortFaults:    atomic.LoadUint64(&localFaults),
		QueueDrops:    atomic.LoadUint64(&localQueueDrops),
		Ports:         atomic.LoadUint64(&localPorts),
		HubDrops:      atomic.LoadUint64(&localHubDrop),
		HubKicks:      atomic.LoadUint64(&localHubKick),
		HubClients:    atomic.LoadUint64(&localHubClients),
		Fanout:        atomic.LoadUint64(&localFanout),
		QueueDepthMax: atomic.LoadUint64(&localQDMax),
		QueueDepthAvg: atomic.LoadUint64(&localQDAvg),
		TCPRejects:    atomic.LoadUint64(&localTCPReject),
		BusPublished:  atomic.LoadUint64(&localBus),
		Errors:        atomic.LoadUint64(&localErrors),
	}
}

// Wrapper helpers to keep call sites simple.
func IncRx(port string) {
	PacketsRx.WithLabelValues(port).Inc()
	atomic.AddUint64(&localRx, 1)
}

func IncTx(port string) {
	PacketsTx.WithLabelValues(port).Inc()
	atomic.AddUint64(&localTx, 1)
}

func AddBytesRx(n int) {
	BytesRx.Add(float64(n))
	atomic.AddUint64(&localBytesRx, uint64(n))
}

func AddBytesTx(n int) {
	BytesTx.Add(float64(n))
	atomic.AddUint64(&localBytesTx, uint64(n))
}

func IncFraming(port string) {
	FramingErrors.WithLabelValues(port).Inc()
	atomic.AddUint64(&localFraming, 1)
}

func IncSizeMismatch() {
	SizeMismatches.Inc()
	atomic.AddUint64(&localSizeMis, 1)
}

func IncStallReset() {
	StallResets.Inc()
	atomic.AddUint64(&localStalls, 1)
}

func IncUnsupported() {
	Unsupported.Inc()
	atomic.AddUint64(&localUnsupported, 1)
}

func IncPortFault() {
	PortFaults.Inc()
	atomic.AddUint64(&localFaults, 1)
}

func IncQueueDrop() {
	QueueDrops.Inc()
	atomic.AddUint64(&localQueueDrops, 1)
}

func SetPorts(n int) {
	PortsActive.Set(float64(n))
	atomic.StoreUint64(&localPorts, uint64(n))
}

func IncHubDrop() {
	HubDropped.Inc()
	atomic.AddUint64(&localHubDrop, 1)
}

func IncHubKick() {
	HubKickedClients.Inc()
	atomic.AddUint64(&localHubKick, 1)
}

func SetHubClients(n int) {
	HubActiveClients.Set(float64(n))
	atomic.StoreUint64(&localHubClients, uint64(n))
}

func SetBroadcastFanout(n int) {
	HubBroadcastFanout.Set(float64(n))
	atomic.StoreUint64(&localFanout, uint64(n))
}

// SetQueueDepth records a snapshot of max and avg observer queue depth.
func SetQueueDepth(max, avg int) {
	HubQueueDepthMax.Set(float64(max))
	HubQueueDepthAvg.Set(float64(avg))
	atomic.StoreUint64(&localQDMax, uint64(max))
	atomic.StoreUint64(&localQDAvg, uint64(avg))
}

func IncTCPReject() {
	TCPRejected.Inc()
	atomic.AddUint64(&localTCPReject, 1)
}

func IncBusPublished(sink string) {
	BusPublished.WithLabelValues(sink).Inc()
	atomic.AddUint64(&localBus, 1)
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	// Pre-register common error label series so first error does not log a registration latency.
	for _, lbl := range []string{
		ErrTCPRead, ErrTCPWrite, ErrSerialRead, ErrSerialWrite, ErrSerialOverflow,
		ErrConsoleWrite, ErrTxOverflow, ErrSourceRead, ErrEncode, ErrBufferBounds,
		ErrNATSPublish, ErrRedisWrite,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil { // if not set yet, treat as ready so metrics endpoint doesn't flap
		return true
	}
	return fn()
}

// Ready is a concise alias used at call sites.
func Ready() bool { return IsReady() }
