package extension

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/xraph/escrow/store/memory"
)

func TestMergeWithDefaults(t *testing.T) {
	got := mergeWithDefaults(Config{FreeDailyLimit: 5})
	want := DefaultConfig()
	want.FreeDailyLimit = 5
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestMergeConfigurations(t *testing.T) {
	tests := []struct {
		name       string
		yaml, code Config
		check      func(t *testing.T, got Config)
	}{
		{
			name: "yaml wins",
			yaml: Config{BasePath: "/api/escrow", FreeDailyLimit: 10},
			code: Config{BasePath: "/other", FreeDailyLimit: 1},
			check: func(t *testing.T, got Config) {
				if got.BasePath != "/api/escrow" || got.FreeDailyLimit != 10 {
					t.Errorf("got %+v", got)
				}
			},
		},
		{
			name: "programmatic fills gaps",
			yaml: Config{},
			code: Config{JWTSecret: "s3cret", ProDurationDays: 7},
			check: func(t *testing.T, got Config) {
				if got.JWTSecret != "s3cret" || got.ProDurationDays != 7 {
					t.Errorf("got %+v", got)
				}
				if got.PlatformFeePercent != 10 || got.ExpiryInterval != time.Hour {
					t.Errorf("defaults not applied: %+v", got)
				}
			},
		},
		{
			name: "flags override",
			yaml: Config{},
			code: Config{DisableRoutes: true, DisableMigrate: true},
			check: func(t *testing.T, got Config) {
				if !got.DisableRoutes || !got.DisableMigrate {
					t.Errorf("got %+v", got)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, mergeConfigurations(tt.yaml, tt.code))
		})
	}
}

func TestBuildRequiresSecret(t *testing.T) {
	e := New()
	e.config = mergeWithDefaults(e.config)
	if err := e.build(); err == nil {
		t.Fatal("build without jwt secret should fail")
	}

	e = New(WithDisableRoutes())
	e.config = mergeWithDefaults(e.config)
	if err := e.build(); err != nil {
		t.Fatalf("build: %v", err)
	}
	if e.HTTPHandler() != nil {
		t.Error("routes disabled, handler should be nil")
	}
	if e.Engine() == nil || e.Assistant() == nil {
		t.Error("engine and assistant should be built")
	}
}

func TestHTTPHandlerBasePath(t *testing.T) {
	e := New(WithStore(memory.New()), WithJWTSecret("secret"), WithBasePath("/escrow/"))
	e.config = mergeWithDefaults(e.config)
	if err := e.build(); err != nil {
		t.Fatalf("build: %v", err)
	}

	if e.meter.Limit() != 3 {
		t.Errorf("meter limit: got %d, want 3", e.meter.Limit())
	}
	if got := e.engine.ProPlan().Duration; got != 30*24*time.Hour {
		t.Errorf("pro duration: got %v", got)
	}

	rec := httptest.NewRecorder()
	e.HTTPHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/escrow/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("health: got %d, body %s", rec.Code, rec.Body.String())
	}
}
