package metrics

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// 全局 Registry，供 API 注册与暴露
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		SessionDuration, SessionTotal,
		RetrieveTokensTotal, BudgetRejectTotal,
		EvictedEntriesTotal, EvictedTokensTotal,
		PinnedTokens, SpanIntegrityFailTotal,
	)
}

// SessionDuration Session 生命周期耗时（秒）
var SessionDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "memengine_session_duration_seconds",
		Help:    "Session 生命周期耗时（秒）",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"outcome"}, // completed | failed | timeout
)

// SessionTotal Session 总数（按终态）
var SessionTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "memengine_session_total",
		Help: "Session 总数（按终态）",
	},
	[]string{"outcome"},
)

// RetrieveTokensTotal 检索实际消耗 token 总数
var RetrieveTokensTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "memengine_retrieve_tokens_total",
		Help: "检索实际消耗 token 总数",
	},
	[]string{"client_id"},
)

// BudgetRejectTotal 预算拒绝次数（按维度）
var BudgetRejectTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "memengine_budget_reject_total",
		Help: "预算拒绝次数（按维度）",
	},
	[]string{"dimension"}, // tokens | time | retries | subcalls
)

// EvictedEntriesTotal 驱逐条目总数（按优先级）
var EvictedEntriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "memengine_evicted_entries_total",
		Help: "驱逐条目总数（按优先级）",
	},
	[]string{"priority"}, // session | sliding | ephemeral
)

// EvictedTokensTotal 驱逐回收 token 总数
var EvictedTokensTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "memengine_evicted_tokens_total",
		Help: "驱逐回收 token 总数",
	},
)

// PinnedTokens 当前 Pin 住的 token 数（每客户端）
var PinnedTokens = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "memengine_pinned_tokens",
		Help: "当前 Pin 住的 token 数",
	},
	[]string{"client_id"},
)

// SpanIntegrityFailTotal hash 校验失败的 Span 总数
var SpanIntegrityFailTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "memengine_span_integrity_fail_total",
		Help: "hash 校验失败的 Span 总数",
	},
)

// WritePrometheus 将 Prometheus 文本格式写入 w（供 Hertz 等复用）
func WritePrometheus(w io.Writer) error {
	metrics, err := DefaultRegistry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range metrics {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
