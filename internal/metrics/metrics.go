package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	WsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_ws_connections",
		Help: "Current number of live websocket connections",
	})
	WsMessagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_ws_messages_total",
		Help: "Total number of chat messages persisted and broadcast",
	})
	WsDeliveryDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_ws_delivery_dropped_total",
		Help: "Frames dropped because a recipient's send queue was full or closed",
	})
	WsRejectedFrames = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_ws_rejected_frames_total",
		Help: "Inbound frames rejected, by error code",
	}, []string{"code"})
	RoomOccupancy = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "chat_room_occupancy",
		Help: "Live connections per room",
	}, []string{"room_id"})
	StorageErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_storage_errors_total",
		Help: "Persistence gateway failures, by operation",
	}, []string{"op"})
	HttpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HttpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(WsConnections, WsMessagesTotal, WsDeliveryDropped, WsRejectedFrames,
		RoomOccupancy, StorageErrors, HttpRequestsTotal, HttpRequestDuration)
}

// SetOccupancy 用最新快照覆盖房间在线人数，已清空的房间归零。
func SetOccupancy(counts map[uint]int, known []uint) {
	for _, id := range known {
		if _, ok := counts[id]; !ok {
			RoomOccupancy.WithLabelValues(strconv.FormatUint(uint64(id), 10)).Set(0)
		}
	}
	for id, n := range counts {
		RoomOccupancy.WithLabelValues(strconv.FormatUint(uint64(id), 10)).Set(float64(n))
	}
}

// DropRoom 移除已删除房间的在线人数序列。
func DropRoom(id uint) bool {
	return RoomOccupancy.DeleteLabelValues(strconv.FormatUint(uint64(id), 10))
}

// GinMiddleware 统计基础请求指标，供 Prometheus 拉取。
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		labels := prometheus.Labels{"method": c.Request.Method, "path": path, "status": status}
		HttpRequestsTotal.With(labels).Inc()
		HttpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}
