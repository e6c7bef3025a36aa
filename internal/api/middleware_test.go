package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
		ok     bool
	}{
		{"valid", "Bearer aeg_abc123", "aeg_abc123", true},
		{"trailing space trimmed", "Bearer aeg_abc123  ", "aeg_abc123", true},
		{"missing header", "", "", false},
		{"wrong scheme", "Basic dXNlcjpwYXNz", "", false},
		{"no scheme", "aeg_abc123", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			got, ok := extractBearerToken(r)
			if ok != tt.ok || got != tt.want {
				t.Errorf("extractBearerToken = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestAuthMiddlewareRejectsBadTokens(t *testing.T) {
	deps := &Dependencies{Logger: zap.NewNop(), CacheTTL: time.Minute}
	handler := deps.authMiddleware(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("handler reached with an invalid token")
	})

	tests := []struct {
		name   string
		header string
	}{
		{"no header", ""},
		{"wrong prefix", "Bearer sk_1234567890"},
		{"too short", "Bearer aeg_"},
		{"empty bearer", "Bearer "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/v1/check-query", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler(rec, r)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
		})
	}
}

func TestParsePolicyConfig(t *testing.T) {
	if pc := parsePolicyConfig(""); pc != nil {
		t.Errorf("empty config = %+v, want nil", pc)
	}
	if pc := parsePolicyConfig("{}"); pc != nil {
		t.Errorf("empty object = %+v, want nil", pc)
	}
	if pc := parsePolicyConfig("not json"); pc != nil {
		t.Errorf("malformed config = %+v, want nil", pc)
	}

	pc := parsePolicyConfig(`{"pii_entities":["EMAIL_ADDRESS"],"consensus_threshold":0.8,"consensus_samples":5}`)
	if pc == nil {
		t.Fatal("valid config parsed to nil")
	}
	if len(pc.PIIEntities) != 1 || pc.PIIEntities[0] != "EMAIL_ADDRESS" {
		t.Errorf("entities = %v", pc.PIIEntities)
	}
	if pc.ConsensusThreshold == nil || *pc.ConsensusThreshold != 0.8 {
		t.Errorf("threshold = %v", pc.ConsensusThreshold)
	}
	if pc.ConsensusSamples == nil || *pc.ConsensusSamples != 5 {
		t.Errorf("samples = %v", pc.ConsensusSamples)
	}
	if pc.ExpertModel != nil {
		t.Errorf("model = %v, want nil when unset", pc.ExpertModel)
	}
}

func TestAuthCacheFreshAndStale(t *testing.T) {
	cache := newAuthCache(50 * time.Millisecond)
	proj := &authProject{ID: "proj-1"}
	cache.set("aeg_token", proj)

	got, hit, refresh := cache.get("aeg_token")
	if !hit || refresh || got.ID != "proj-1" {
		t.Errorf("fresh get = (%+v, %v, %v)", got, hit, refresh)
	}

	time.Sleep(60 * time.Millisecond)

	// Stale entry still serves, and exactly one caller wins the refresh.
	got, hit, refresh = cache.get("aeg_token")
	if !hit || !refresh || got.ID != "proj-1" {
		t.Errorf("stale get = (%+v, %v, %v), want served with refresh", got, hit, refresh)
	}
	_, hit, refresh = cache.get("aeg_token")
	if !hit || refresh {
		t.Errorf("second stale get = (%v, %v), want served without refresh", hit, refresh)
	}

	if _, hit, _ := cache.get("aeg_other"); hit {
		t.Error("unknown key reported as hit")
	}
}
