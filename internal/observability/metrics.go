package observability

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// SimCollector bundles Prometheus metrics for the simulator: per-tick
// network gauges, command and publish counters, and the request metrics
// of the gRPC health surface.
type SimCollector struct {
	gatherer prometheus.Gatherer

	RPCRequests  *prometheus.CounterVec
	RPCDurations *prometheus.HistogramVec

	Ticks          prometheus.Counter
	TickDuration   prometheus.Histogram
	FlowTotal      prometheus.Gauge
	Paused         prometheus.Gauge
	TankLevel      *prometheus.GaugeVec
	SensorPressure *prometheus.GaugeVec
	ValveOpen      *prometheus.GaugeVec
	LeakFlow       *prometheus.GaugeVec

	Commands      *prometheus.CounterVec
	PublishErrors *prometheus.CounterVec
}

// NewSimCollector registers simulator metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
// Registering twice against the same registry reuses the existing
// collectors.
func NewSimCollector(reg prometheus.Registerer) (*SimCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &SimCollector{gatherer: gatherer}
	var err error

	if c.RPCRequests, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tanksim_grpc_requests_total",
		Help: "Total number of handled gRPC calls, labeled by service, method, and gRPC status code.",
	}, []string{"service", "method", "code"}), "tanksim_grpc_requests_total"); err != nil {
		return nil, err
	}
	if c.RPCDurations, err = registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tanksim_grpc_request_duration_seconds",
		Help:    "gRPC call latency in seconds.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"service", "method"}), "tanksim_grpc_request_duration_seconds"); err != nil {
		return nil, err
	}

	if c.Ticks, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tanksim_ticks_total",
		Help: "Completed simulation ticks.",
	}), "tanksim_ticks_total"); err != nil {
		return nil, err
	}
	if c.TickDuration, err = registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tanksim_tick_duration_seconds",
		Help:    "Wall-clock time spent computing one tick under the state lock.",
		Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
	}), "tanksim_tick_duration_seconds"); err != nil {
		return nil, err
	}
	if c.FlowTotal, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tanksim_flow_total",
		Help: "Flow delivered to destination tanks on the last tick, in units per second.",
	}), "tanksim_flow_total"); err != nil {
		return nil, err
	}
	if c.Paused, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tanksim_paused",
		Help: "1 while the simulation is paused.",
	}), "tanksim_paused"); err != nil {
		return nil, err
	}
	if c.TankLevel, err = registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tanksim_tank_level",
		Help: "Current tank level.",
	}, []string{"tank"}), "tanksim_tank_level"); err != nil {
		return nil, err
	}
	if c.SensorPressure, err = registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tanksim_sensor_pressure",
		Help: "Current sensor pressure reading.",
	}, []string{"sensor"}), "tanksim_sensor_pressure"); err != nil {
		return nil, err
	}
	if c.ValveOpen, err = registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tanksim_valve_open",
		Help: "1 when the valve is open.",
	}, []string{"valve"}), "tanksim_valve_open"); err != nil {
		return nil, err
	}
	if c.LeakFlow, err = registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tanksim_leak_flow",
		Help: "Current flow drawn by a leak tap.",
	}, []string{"leak"}), "tanksim_leak_flow"); err != nil {
		return nil, err
	}
	if c.Commands, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tanksim_commands_total",
		Help: "Processed commands, labeled by kind and result.",
	}, []string{"kind", "result"}), "tanksim_commands_total"); err != nil {
		return nil, err
	}
	if c.PublishErrors, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tanksim_publish_errors_total",
		Help: "Failed publish attempts, labeled by topic.",
	}, []string{"topic"}), "tanksim_publish_errors_total"); err != nil {
		return nil, err
	}

	return c, nil
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *SimCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		if c == nil {
			return resp, err
		}

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		code := status.Code(err).String()

		if c.RPCRequests != nil {
			c.RPCRequests.WithLabelValues(service, method, code).Inc()
		}
		if c.RPCDurations != nil {
			c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
		}

		return resp, err
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SimCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveTick records one completed tick.
func (c *SimCollector) ObserveTick(elapsed time.Duration, flowTotal float64) {
	if c == nil {
		return
	}
	c.Ticks.Inc()
	c.TickDuration.Observe(elapsed.Seconds())
	c.FlowTotal.Set(flowTotal)
}

func (c *SimCollector) SetTankLevel(id string, level float64) {
	if c != nil {
		c.TankLevel.WithLabelValues(id).Set(level)
	}
}

func (c *SimCollector) SetSensorPressure(id string, pressure float64) {
	if c != nil {
		c.SensorPressure.WithLabelValues(id).Set(pressure)
	}
}

func (c *SimCollector) SetValveOpen(id int, open bool) {
	if c != nil {
		c.ValveOpen.WithLabelValues(strconv.Itoa(id)).Set(boolGauge(open))
	}
}

func (c *SimCollector) SetLeakFlow(id int, flow float64) {
	if c != nil {
		c.LeakFlow.WithLabelValues(strconv.Itoa(id)).Set(flow)
	}
}

func (c *SimCollector) SetPaused(paused bool) {
	if c != nil {
		c.Paused.Set(boolGauge(paused))
	}
}

// RecordCommand counts one processed command. result is "accepted" or
// the rejection reason.
func (c *SimCollector) RecordCommand(kind, result string) {
	if c != nil {
		c.Commands.WithLabelValues(kind, result).Inc()
	}
}

func (c *SimCollector) RecordPublishError(topic string) {
	if c != nil {
		c.PublishErrors.WithLabelValues(topic).Inc()
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// SplitMethod parses a fully-qualified gRPC method name into service and method
// components. It tolerates empty strings and partial paths, returning
// "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	if fullMethod == "" {
		return "unknown", "unknown"
	}
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}
