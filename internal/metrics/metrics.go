// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層、ワーカー、ミドルウェアから利用する。
type MetricsCollector interface {
	RecordLetterSent()
	RecordLetterRejected(reason string)
	RecordLogin(result string)
	RecordMailSent()
	RecordMailFailed()
	RecordAnnouncement(duration time.Duration)
	RecordSessionsCleaned(count int64)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	lettersSent          prometheus.Counter
	lettersRejected      *prometheus.CounterVec
	logins               *prometheus.CounterVec
	mailSent             prometheus.Counter
	mailFailed           prometheus.Counter
	announcementDuration prometheus.Histogram
	sessionsCleaned      prometheus.Counter
	httpStatus           *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		lettersSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kernelletter_letters_sent_total",
			Help: "送信された手紙の合計数",
		}),
		lettersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kernelletter_letters_rejected_total",
			Help: "拒否された手紙送信の合計数（エラーコード別）",
		}, []string{"reason"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kernelletter_logins_total",
			Help: "OAuthログインの合計数（結果別）",
		}, []string{"result"}),
		mailSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kernelletter_mail_sent_total",
			Help: "送信に成功したお知らせメールの合計数",
		}),
		mailFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kernelletter_mail_failed_total",
			Help: "送信に失敗したお知らせメールの合計数",
		}),
		announcementDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kernelletter_announcement_duration_seconds",
			Help:    "お知らせメール一斉送信の所要時間（秒）",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		sessionsCleaned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kernelletter_sessions_cleaned_total",
			Help: "削除された期限切れセッションの合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kernelletter_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.lettersSent,
		c.lettersRejected,
		c.logins,
		c.mailSent,
		c.mailFailed,
		c.announcementDuration,
		c.sessionsCleaned,
		c.httpStatus,
	)

	return c
}

// RecordLetterSent は手紙の送信成功を記録する。
func (c *Collector) RecordLetterSent() {
	c.lettersSent.Inc()
}

// RecordLetterRejected は手紙送信の拒否をエラーコード別に記録する。
func (c *Collector) RecordLetterRejected(reason string) {
	c.lettersRejected.WithLabelValues(reason).Inc()
}

// RecordLogin はログイン結果（pending, authenticated, failed）を記録する。
func (c *Collector) RecordLogin(result string) {
	c.logins.WithLabelValues(result).Inc()
}

// RecordMailSent はメール送信成功を記録する。
func (c *Collector) RecordMailSent() {
	c.mailSent.Inc()
}

// RecordMailFailed はメール送信失敗を記録する。
func (c *Collector) RecordMailFailed() {
	c.mailFailed.Inc()
}

// RecordAnnouncement は一斉送信の所要時間を記録する。
func (c *Collector) RecordAnnouncement(duration time.Duration) {
	c.announcementDuration.Observe(duration.Seconds())
}

// RecordSessionsCleaned は削除したセッション数を記録する。
func (c *Collector) RecordSessionsCleaned(count int64) {
	c.sessionsCleaned.Add(float64(count))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
// 一部のコレクターが失敗しても収集できた分は返す。
// スクレイプ自体の件数と処理中数も同じレジストリに記録する。
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.InstrumentMetricHandler(reg, promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		ErrorHandling:     promhttp.ContinueOnError,
		EnableOpenMetrics: true,
	}))
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使用する。
type Nop struct{}

func (Nop) RecordLetterSent()                {}
func (Nop) RecordLetterRejected(string)      {}
func (Nop) RecordLogin(string)               {}
func (Nop) RecordMailSent()                  {}
func (Nop) RecordMailFailed()                {}
func (Nop) RecordAnnouncement(time.Duration) {}
func (Nop) RecordSessionsCleaned(int64)      {}
func (Nop) RecordHTTPStatus(int)             {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
