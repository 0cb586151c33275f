package testutil

import (
	"net/http"
	"testing"
)

func TestServeAndDecode(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.RemoteAddr != LoopbackAddr {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"phase":"RED"}`))
	})

	w := Serve(h, NewDebugRequest(http.MethodGet, "/", nil))
	AssertStatusCode(t, w.Code, http.StatusOK)

	var body map[string]string
	DecodeJSON(t, w, &body)
	if body["phase"] != "RED" {
		t.Errorf("phase = %q", body["phase"])
	}
}
