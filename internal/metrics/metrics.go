// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder はメトリクス収集のインターフェース。
// coordinator・gateway・cleanupジョブから利用する。
type Recorder interface {
	RecordCommand(command string, result string, duration time.Duration)
	RecordBroadcast(delivered, dropped int)
	RecordActiveLanes(n int)
	RecordActiveRooms(n int)
	RecordConnection(delta int)
	RecordSessionsPurged(count int)
}

// コマンド処理結果のラベル値
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	commands        *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
	broadcastFrames prometheus.Counter
	droppedFrames   prometheus.Counter
	activeLanes     prometheus.Gauge
	activeRooms     prometheus.Gauge
	connections     prometheus.Gauge
	sessionsPurged  prometheus.Counter
}

// compile-time interface check
var _ Recorder = (*Collector)(nil)

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "huddle_commands_total",
			Help: "処理したコマンドの合計数",
		}, []string{"command", "result"}),
		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "huddle_command_duration_seconds",
			Help:    "コマンド処理時間（秒）。レーン待ちを含む",
			Buckets: prometheus.DefBuckets,
		}, []string{"command"}),
		broadcastFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "huddle_broadcast_frames_total",
			Help: "接続へ配信したフレームの合計数",
		}),
		droppedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "huddle_dropped_frames_total",
			Help: "送信キュー溢れで配信できなかったフレームの合計数",
		}),
		activeLanes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "huddle_active_lanes",
			Help: "稼働中のセッションレーン数",
		}),
		activeRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "huddle_active_rooms",
			Help: "接続を持つルーム数",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "huddle_connections",
			Help: "WebSocket接続数",
		}),
		sessionsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "huddle_sessions_purged_total",
			Help: "保持期間切れで削除したセッションの合計数",
		}),
	}

	reg.MustRegister(
		c.commands,
		c.commandDuration,
		c.broadcastFrames,
		c.droppedFrames,
		c.activeLanes,
		c.activeRooms,
		c.connections,
		c.sessionsPurged,
	)

	return c
}

// RecordCommand はコマンドの処理結果と処理時間を記録する。
func (c *Collector) RecordCommand(command string, result string, duration time.Duration) {
	c.commands.WithLabelValues(command, result).Inc()
	c.commandDuration.WithLabelValues(command).Observe(duration.Seconds())
}

// RecordBroadcast は配信できたフレーム数と破棄したフレーム数を記録する。
func (c *Collector) RecordBroadcast(delivered, dropped int) {
	c.broadcastFrames.Add(float64(delivered))
	c.droppedFrames.Add(float64(dropped))
}

// RecordActiveLanes は稼働中のレーン数を記録する。
func (c *Collector) RecordActiveLanes(n int) {
	c.activeLanes.Set(float64(n))
}

// RecordActiveRooms はルーム数を記録する。
func (c *Collector) RecordActiveRooms(n int) {
	c.activeRooms.Set(float64(n))
}

// RecordConnection は接続数を増減する。
func (c *Collector) RecordConnection(delta int) {
	c.connections.Add(float64(delta))
}

// RecordSessionsPurged は削除したセッション数を記録する。
func (c *Collector) RecordSessionsPurged(count int) {
	c.sessionsPurged.Add(float64(count))
}

// Nop は何も記録しないRecorder。
type Nop struct{}

var _ Recorder = Nop{}

func (Nop) RecordCommand(string, string, time.Duration) {}
func (Nop) RecordBroadcast(int, int)                    {}
func (Nop) RecordActiveLanes(int)                       {}
func (Nop) RecordActiveRooms(int)                       {}
func (Nop) RecordConnection(int)                        {}
func (Nop) RecordSessionsPurged(int)                    {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
