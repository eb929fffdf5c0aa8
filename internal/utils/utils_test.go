package utils

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestEncryptDecrypt(t *testing.T) {
	cipherText, err := Encrypt("sk-secret", "口令")
	if err != nil {
		t.Fatalf("加密失败: %v", err)
	}
	if cipherText == "sk-secret" {
		t.Fatal("密文不应等于明文")
	}

	plain, err := Decrypt(cipherText, "口令")
	if err != nil {
		t.Fatalf("解密失败: %v", err)
	}
	if plain != "sk-secret" {
		t.Fatalf("解密结果不正确: %s", plain)
	}

	if _, err := Decrypt(cipherText, "错误口令"); err == nil {
		t.Fatal("错误口令应解密失败")
	}
	if _, err := Encrypt("x", ""); err == nil {
		t.Fatal("空口令应报错")
	}
}

func TestLoggerFieldsSorted(t *testing.T) {
	var buf bytes.Buffer
	logger := &Logger{out: &buf, level: DEBUG, enabled: true}

	logger.Info("广播完成", map[string]interface{}{"type": "element:add", "recipients": 2})
	line := buf.String()
	if !strings.Contains(line, "[INFO]") || !strings.Contains(line, "广播完成") {
		t.Fatalf("日志格式不正确: %s", line)
	}
	if strings.Index(line, "recipients=2") > strings.Index(line, "type=element:add") {
		t.Fatalf("字段应按键名排序: %s", line)
	}

	buf.Reset()
	logger.SetLogLevel(ERROR)
	logger.Warn("不应输出", nil)
	if buf.Len() != 0 {
		t.Fatalf("低于级别的日志不应输出: %s", buf.String())
	}
}

func TestParseLogLevel(t *testing.T) {
	if ParseLogLevel("debug") != DEBUG || ParseLogLevel("WARN") != WARNING || ParseLogLevel("??") != INFO {
		t.Fatal("日志级别解析不正确")
	}
}

func TestMetricsCollector(t *testing.T) {
	m := NewMetricsCollector()
	m.IncrementCounter("mutations_total")
	m.AddCounter("mutations_total", 2)
	m.IncGauge("ws_connections")
	m.IncGauge("ws_connections")
	m.DecGauge("ws_connections")
	m.RecordHistogram("latency", 5)
	m.RecordHistogram("latency", 1)

	if got := m.GetCounterValue("mutations_total"); got != 3 {
		t.Fatalf("计数器应为 3，实际 %d", got)
	}
	if got := m.GetGauge("ws_connections"); got != 1 {
		t.Fatalf("仪表应为 1，实际 %d", got)
	}

	snapshot := m.GetMetrics()
	hist := snapshot["histograms"].(map[string]map[string]int64)["latency"]
	if hist["count"] != 2 || hist["min"] != 1 || hist["max"] != 5 {
		t.Fatalf("直方图不正确: %+v", hist)
	}
}

func TestSyncMetricsStatusBucket(t *testing.T) {
	sm := &SyncMetrics{metrics: NewMetricsCollector(), logger: &Logger{enabled: false}}
	sm.RecordAPIRequest("/api/projects", "GET", 404, time.Millisecond)
	if sm.Collector().GetCounterValue("api_responses_4xx") != 1 {
		t.Fatal("应按状态码分桶计数")
	}
}
