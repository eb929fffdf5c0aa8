// internal/utils/metrics.go
package utils

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// MetricsCollector 进程内指标收集器
type MetricsCollector struct {
	counters   map[string]*int64
	gauges     map[string]*int64
	histograms map[string]*Histogram

	mu sync.RWMutex
}

// Histogram 简单直方图，只记录次数、总和、最小与最大值
type Histogram struct {
	count int64
	sum   int64
	min   int64
	max   int64
	mu    sync.Mutex
}

var (
	globalMetrics *MetricsCollector
	metricsOnce   sync.Once
)

// NewMetricsCollector 创建独立的收集器
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		counters:   make(map[string]*int64),
		gauges:     make(map[string]*int64),
		histograms: make(map[string]*Histogram),
	}
}

// GetMetricsCollector 返回全局收集器
func GetMetricsCollector() *MetricsCollector {
	metricsOnce.Do(func() {
		globalMetrics = NewMetricsCollector()
	})
	return globalMetrics
}

// slot 读锁快路径，不存在时在写锁下创建
func (m *MetricsCollector) slot(set map[string]*int64, name string) *int64 {
	m.mu.RLock()
	v, exists := set[name]
	m.mu.RUnlock()
	if exists {
		return v
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if v, exists = set[name]; !exists {
		v = new(int64)
		set[name] = v
	}
	return v
}

// IncrementCounter 计数器加一
func (m *MetricsCollector) IncrementCounter(name string) {
	atomic.AddInt64(m.slot(m.counters, name), 1)
}

// AddCounter 计数器增加指定值
func (m *MetricsCollector) AddCounter(name string, value int64) {
	atomic.AddInt64(m.slot(m.counters, name), value)
}

// GetCounterValue 读取计数器
func (m *MetricsCollector) GetCounterValue(name string) int64 {
	m.mu.RLock()
	v, exists := m.counters[name]
	m.mu.RUnlock()
	if !exists {
		return 0
	}
	return atomic.LoadInt64(v)
}

// SetGauge 设置仪表值
func (m *MetricsCollector) SetGauge(name string, value int64) {
	atomic.StoreInt64(m.slot(m.gauges, name), value)
}

// IncGauge 仪表加一
func (m *MetricsCollector) IncGauge(name string) {
	atomic.AddInt64(m.slot(m.gauges, name), 1)
}

// DecGauge 仪表减一
func (m *MetricsCollector) DecGauge(name string) {
	atomic.AddInt64(m.slot(m.gauges, name), -1)
}

// GetGauge 读取仪表
func (m *MetricsCollector) GetGauge(name string) int64 {
	m.mu.RLock()
	v, exists := m.gauges[name]
	m.mu.RUnlock()
	if !exists {
		return 0
	}
	return atomic.LoadInt64(v)
}

// RecordHistogram 记录一次取值
func (m *MetricsCollector) RecordHistogram(name string, value int64) {
	m.mu.RLock()
	histogram, exists := m.histograms[name]
	m.mu.RUnlock()

	if !exists {
		m.mu.Lock()
		histogram, exists = m.histograms[name]
		if !exists {
			histogram = &Histogram{min: value, max: value}
			m.histograms[name] = histogram
		}
		m.mu.Unlock()
	}

	histogram.mu.Lock()
	defer histogram.mu.Unlock()

	histogram.count++
	histogram.sum += value
	if value < histogram.min {
		histogram.min = value
	}
	if value > histogram.max {
		histogram.max = value
	}
}

// GetMetrics 返回全部指标的快照
func (m *MetricsCollector) GetMetrics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counters := make(map[string]int64, len(m.counters))
	for name, v := range m.counters {
		counters[name] = atomic.LoadInt64(v)
	}

	gauges := make(map[string]int64, len(m.gauges))
	for name, v := range m.gauges {
		gauges[name] = atomic.LoadInt64(v)
	}

	histograms := make(map[string]map[string]int64, len(m.histograms))
	for name, h := range m.histograms {
		h.mu.Lock()
		histograms[name] = map[string]int64{
			"count": h.count,
			"sum":   h.sum,
			"min":   h.min,
			"max":   h.max,
		}
		h.mu.Unlock()
	}

	return map[string]interface{}{
		"counters":   counters,
		"gauges":     gauges,
		"histograms": histograms,
	}
}

// SyncMetrics 同步核心的业务指标
type SyncMetrics struct {
	metrics *MetricsCollector
	logger  *Logger
}

// NewSyncMetrics 基于全局收集器创建
func NewSyncMetrics() *SyncMetrics {
	return &SyncMetrics{
		metrics: GetMetricsCollector(),
		logger:  GetLogger(),
	}
}

// Collector 底层收集器
func (sm *SyncMetrics) Collector() *MetricsCollector {
	return sm.metrics
}

// RecordAPIRequest 记录一次 API 请求
func (sm *SyncMetrics) RecordAPIRequest(endpoint, method string, statusCode int, duration time.Duration) {
	sm.metrics.IncrementCounter("api_requests_total")
	sm.metrics.IncrementCounter("api_requests_" + method + "_" + endpoint)
	sm.metrics.RecordHistogram("api_response_time_ms", duration.Milliseconds())
	sm.metrics.IncrementCounter(fmt.Sprintf("api_responses_%dxx", statusCode/100))

	sm.logger.Debug("API请求完成", map[string]interface{}{
		"endpoint": endpoint,
		"method":   method,
		"status":   statusCode,
		"duration": duration.Milliseconds(),
	})
}

// RecordMutation 记录一次已提交的修改
func (sm *SyncMetrics) RecordMutation(kind string) {
	sm.metrics.IncrementCounter("mutations_total")
	sm.metrics.IncrementCounter("mutations_" + kind)
}

// RecordBroadcast 记录一次广播及其接收者数量
func (sm *SyncMetrics) RecordBroadcast(eventType string, recipients int) {
	sm.metrics.IncrementCounter("broadcasts_total")
	sm.metrics.IncrementCounter("broadcasts_" + eventType)
	sm.metrics.AddCounter("broadcast_deliveries_total", int64(recipients))
}

// SetConnections 记录当前连接数
func (sm *SyncMetrics) SetConnections(n int) {
	sm.metrics.SetGauge("ws_connections", int64(n))
}

// RecordGeneration 记录生成任务的终止状态与耗时
func (sm *SyncMetrics) RecordGeneration(status string, duration time.Duration) {
	sm.metrics.IncrementCounter("generation_" + status)
	sm.metrics.RecordHistogram("generation_duration_ms", duration.Milliseconds())
}

// RecordAssetRemoval 记录资源文件回收
func (sm *SyncMetrics) RecordAssetRemoval(removed bool) {
	if removed {
		sm.metrics.IncrementCounter("assets_removed")
	} else {
		sm.metrics.IncrementCounter("assets_retained")
	}
}

// RecordError 记录错误
func (sm *SyncMetrics) RecordError(errorType, component string) {
	sm.metrics.IncrementCounter("errors_total")
	sm.metrics.IncrementCounter("errors_" + errorType)
	sm.metrics.IncrementCounter("errors_" + component)

	sm.logger.Warn("记录错误", map[string]interface{}{
		"type":      errorType,
		"component": component,
	})
}

// StartMetricsCollection 定期把指标摘要写入日志
func (sm *SyncMetrics) StartMetricsCollection(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sm.logger.Info("指标周期报告", map[string]interface{}{
					"metrics": sm.metrics.GetMetrics(),
				})
			}
		}
	}()
}
