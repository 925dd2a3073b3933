//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ashureev/gatekeeper/internal/session"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected application/json, got %q", ct)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestTurnErrorStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
	}{
		{session.ErrSolved, http.StatusConflict},
		{fmt.Errorf("%w: %w", session.ErrCompletion, errors.New("503")), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got, _ := TurnErrorStatus(tt.err); got != tt.want {
			t.Errorf("TurnErrorStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestValidateMessage(t *testing.T) {
	t.Parallel()

	long := make([]rune, MaxMessageRunes+1)
	for i := range long {
		long[i] = 'é'
	}
	tests := []struct {
		name string
		msg  string
		want int
	}{
		{"ok", "hello gatekeeper", http.StatusOK},
		{"empty", "", http.StatusBadRequest},
		{"whitespace", " \t\n", http.StatusBadRequest},
		{"too long", string(long), http.StatusRequestEntityTooLarge},
		{"at limit", string(long[:MaxMessageRunes]), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got, _ := ValidateMessage(tt.msg); got != tt.want {
				t.Errorf("ValidateMessage() = %d, want %d", got, tt.want)
			}
		})
	}
}
