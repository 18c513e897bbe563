package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/atelierhq/atelier/internal/tree"
)

func TestHandleHealth(t *testing.T) {
	s := &Server{}
	rec := httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %q, want ok", body["status"])
	}
}

func TestSendTreeErrorMapping(t *testing.T) {
	s := &Server{}
	cases := []struct {
		err  error
		want int
	}{
		{tree.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("resolve parent: %w", tree.ErrNotFound), http.StatusNotFound},
		{tree.ErrUnauthorized, http.StatusForbidden},
		{tree.ErrConflict, http.StatusConflict},
		{fmt.Errorf("insert file: %w", tree.ErrConflict), http.StatusConflict},
		{errors.New("database is down"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		rec := httptest.NewRecorder()
		s.sendTreeError(rec, tc.err)
		if rec.Code != tc.want {
			t.Errorf("sendTreeError(%v) = %d, want %d", tc.err, rec.Code, tc.want)
		}
		var body ErrorResponse
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Errorf("sendTreeError(%v): decode body: %v", tc.err, err)
		}
		if body.Code != tc.want {
			t.Errorf("sendTreeError(%v) body code = %d, want %d", tc.err, body.Code, tc.want)
		}
	}
}
