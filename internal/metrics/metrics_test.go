package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gather(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("%s metric not found", name)
	return nil
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	if c := NewCollector(reg); c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestRecordAuthOutcome_LabelsByOperationAndCode は認証結果がラベル別に集計されることを検証する。
func TestRecordAuthOutcome_LabelsByOperationAndCode(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordAuthOutcome("login", "success")
	c.RecordAuthOutcome("login", "success")
	c.RecordAuthOutcome("login", "rate_limited")
	c.RecordAuthOutcome("register", "user_already_exists")

	mf := gather(t, reg, "melodia_auth_outcome_total")
	if len(mf.GetMetric()) != 3 {
		t.Fatalf("expected 3 label combinations, got %d", len(mf.GetMetric()))
	}
	for _, m := range mf.GetMetric() {
		op, code := labelValue(m, "operation"), labelValue(m, "code")
		val := m.GetCounter().GetValue()
		if op == "login" && code == "success" && val != 2 {
			t.Errorf("auth_outcome_total{login,success} = %v, want 2", val)
		}
	}
}

// TestRecordGatewayDecision_IncrementsCounter はゲートウェイ判定カウンタが増加することを検証する。
func TestRecordGatewayDecision_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordGatewayDecision(DecisionRedirect)
	c.RecordGatewayDecision(DecisionRedirect)
	c.RecordGatewayDecision(DecisionFailOpen)

	mf := gather(t, reg, "melodia_gateway_decision_total")
	for _, m := range mf.GetMetric() {
		switch labelValue(m, "decision") {
		case DecisionRedirect:
			if v := m.GetCounter().GetValue(); v != 2 {
				t.Errorf("redirect = %v, want 2", v)
			}
		case DecisionFailOpen:
			if v := m.GetCounter().GetValue(); v != 1 {
				t.Errorf("fail_open = %v, want 1", v)
			}
		default:
			t.Errorf("unexpected label value: %s", labelValue(m, "decision"))
		}
	}
}

// TestRecordBackendLatency_ObservesHistogram はレイテンシのヒストグラムに値が記録されることを検証する。
func TestRecordBackendLatency_ObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordBackendLatency("login", 100*time.Millisecond)
	c.RecordBackendLatency("login", 2*time.Second)

	mf := gather(t, reg, "melodia_auth_backend_latency_seconds")
	h := mf.GetMetric()[0].GetHistogram()
	if h.GetSampleCount() != 2 {
		t.Errorf("sample_count = %d, want 2", h.GetSampleCount())
	}
	// 合計は0.1 + 2.0 = 2.1秒
	if h.GetSampleSum() < 2.0 || h.GetSampleSum() > 2.2 {
		t.Errorf("sample_sum = %v, want ~2.1", h.GetSampleSum())
	}
}

// TestRecordHTTPStatus_IncrementsCounterWithLabel はHTTPステータスカウンタがラベル付きで増加することを検証する。
func TestRecordHTTPStatus_IncrementsCounterWithLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(429)

	mf := gather(t, reg, "melodia_http_status_total")
	if len(mf.GetMetric()) != 2 {
		t.Fatalf("expected 2 label combinations, got %d", len(mf.GetMetric()))
	}
}

// TestRecordBlogFetchAndPurge はRSS取得と削除件数のカウンタを検証する。
func TestRecordBlogFetchAndPurge(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordBlogFetch(true)
	c.RecordBlogFetch(false)
	c.RecordContactsPurged(10)
	c.RecordContactsPurged(5)

	if mf := gather(t, reg, "melodia_blog_fetch_total"); len(mf.GetMetric()) != 2 {
		t.Errorf("expected success and failure labels, got %d", len(mf.GetMetric()))
	}
	mf := gather(t, reg, "melodia_contacts_purged_total")
	if v := mf.GetMetric()[0].GetCounter().GetValue(); v != 15 {
		t.Errorf("contacts_purged_total = %v, want 15", v)
	}
}

// TestHandler_ServesMetrics はHandlerがメトリクスを返すことを検証する。
func TestHandler_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordGatewayDecision(DecisionPass)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "melodia_gateway_decision_total") {
		t.Error("response should contain melodia_gateway_decision_total metric")
	}
}
