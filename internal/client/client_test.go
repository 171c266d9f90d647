package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/michaelbrown/runbox/internal/submission"
)

func TestEndpoint(t *testing.T) {
	t.Setenv("ENDPOINT", "")
	if got := Endpoint(""); got != DefaultEndpoint {
		t.Errorf("Endpoint() = %q, want default", got)
	}

	t.Setenv("ENDPOINT", "http://judge:8080/api/execute/")
	if got := Endpoint(""); got != "http://judge:8080/api/execute/" {
		t.Errorf("Endpoint() = %q, want env value", got)
	}
	if got := Endpoint("http://flag/api/execute/"); got != "http://flag/api/execute/" {
		t.Errorf("Endpoint(flag) = %q, want flag value", got)
	}
}

func TestExecute(t *testing.T) {
	var got submission.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &got)
		w.Header().Set("X-Execution-Id", "exec-1")
		if *got.Code == "bad" {
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `{"status":400,"output":null,"error":"Syntax error in code"}`)
			return
		}
		io.WriteString(w, `{"status":200,"output":"Hi!","error":null}`)
	}))
	defer srv.Close()

	c := New(srv.URL+"/api/execute/", 5*time.Second)
	code := `console.log("Hi!")`
	resp, err := c.Execute(context.Background(), submission.Request{Code: &code, Mode: "raw"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if text, ok := resp.Output.Text(); !ok || text != "Hi!" || resp.Status != 200 || resp.ID != "exec-1" {
		t.Errorf("resp = %+v", resp)
	}
	if got.Mode != "raw" || *got.Code != code {
		t.Errorf("request = %+v", got)
	}

	bad := "bad"
	resp, err = c.Execute(context.Background(), submission.Request{Code: &bad})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if resp.Status != 400 || resp.ErrorMessage() != "Syntax error in code" || !resp.Output.IsNone() {
		t.Errorf("resp = %+v", resp)
	}
}

func TestExecuteNonJSONReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	code := "1"
	if _, err := New(srv.URL, time.Second).Execute(context.Background(), submission.Request{Code: &code}); err == nil {
		t.Fatal("expected error for non-JSON reply")
	}
}

func TestGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/rubrics" {
			http.NotFound(w, r)
			return
		}
		io.WriteString(w, `[{"id":"default","title":"Default"}]`)
	}))
	defer srv.Close()

	var rubrics []struct {
		ID string `json:"id"`
	}
	c := New(srv.URL+"/api/execute/", time.Second)
	if err := c.Get(context.Background(), "/api/rubrics", &rubrics); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(rubrics) != 1 || rubrics[0].ID != "default" {
		t.Errorf("rubrics = %+v", rubrics)
	}
}
