package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/JonMunkholm/carvalue/internal/core"
	"github.com/JonMunkholm/carvalue/internal/database"
	"github.com/JonMunkholm/carvalue/internal/logging"
)

func TestRespondError_LogLevel(t *testing.T) {
	env := newTestEnv(t, database.NewMemoryStore(), testConfig())

	tests := []struct {
		name      string
		err       error
		status    int
		wantLevel string
		wantCode  string
	}{
		{"mapped client error", core.ErrNoSource, http.StatusBadRequest, "WARN", "IMP002"},
		{"unmapped client error", errors.New("unexpected parser state"), http.StatusBadRequest, "ERROR", "ERR000"},
		{"mapped server error", core.ErrStoreUnavailable, http.StatusServiceUnavailable, "ERROR", "DB001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			prev := slog.Default()
			logging.Setup("debug", "json", &buf)
			defer slog.SetDefault(prev)

			rec := httptest.NewRecorder()
			env.server.respondError(rec, httptest.NewRequest(http.MethodPost, "/api/imports", nil), tt.err, tt.status)

			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			if resp := decode[ErrorResponse](t, rec); resp.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", resp.Code, tt.wantCode)
			}

			var entry map[string]any
			if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
				t.Fatalf("log output is not JSON: %v (%s)", err, buf.String())
			}
			if entry["level"] != tt.wantLevel {
				t.Errorf("level = %v, want %s", entry["level"], tt.wantLevel)
			}
		})
	}
}
