package commands

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/consometers/data-connect-proxy/dataconnect"
	"github.com/consometers/data-connect-proxy/models"
	"github.com/consometers/data-connect-proxy/proxy"
	"github.com/consometers/data-connect-proxy/store"
)

func newTestEngine(t *testing.T) (*Engine, *store.Stores) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/oauth2/token" {
			w.Write([]byte(`{"access_token":"AT1","refresh_token":"RT1","expires_in":3600,"usage_points_id":"111"}`))
			return
		}
		w.Write([]byte(`{"meter_reading":{"usage_point_id":"111","interval_reading":[{"value":"120","date":"2020-05-01 00:30:00"},{"value":"130","date":"2020-05-01 01:00:00"}]}}`))
	}))
	t.Cleanup(srv.Close)

	client := dataconnect.NewClient(dataconnect.Config{
		ClientID: "cid", ClientSecret: "secret", RedirectURI: "https://proxy.example.org/redirect",
		AuthorizeEndpoint: srv.URL, APIEndpoint: srv.URL,
	})
	stores := store.NewStores()
	p := proxy.New(client, client, stores, nil, "https://proxy.example.org", nil)
	return NewEngine(p, nil), stores
}

func fieldByVar(t *testing.T, form *Form, varName string) Field {
	t.Helper()
	for _, f := range form.Fields {
		if f.Var == varName {
			return f
		}
	}
	t.Fatalf("form has no field %q", varName)
	return Field{}
}

func TestAuthorizeExchange(t *testing.T) {
	e, stores := newTestEngine(t)
	ctx := context.Background()

	reply, err := e.Execute(ctx, NodeRequestAuthorizationLink, "sess-1", "alice@example.org", nil)
	if err != nil {
		t.Fatalf("form turn failed: %v", err)
	}
	if reply.Status != StatusExecuting || reply.Form == nil {
		t.Fatalf("first turn should offer a form: %+v", reply)
	}
	if got := fieldByVar(t, reply.Form, "duration").Value; got != "P1Y" {
		t.Errorf("duration default should be P1Y, got %q", got)
	}

	reply, err = e.Execute(ctx, NodeRequestAuthorizationLink, "sess-1", "alice@example.org",
		Submission{"state": "corr-9"})
	if err != nil {
		t.Fatalf("submit turn failed: %v", err)
	}
	if reply.Status != StatusCompleted || reply.URL == "" {
		t.Fatalf("terminal reply should carry the consent url: %+v", reply)
	}

	u, err := url.Parse(reply.URL)
	if err != nil {
		t.Fatalf("unparsable consent url: %v", err)
	}
	state := u.Query().Get("state")
	req, err := stores.AuthorizeRequests.Get(state)
	if err != nil {
		t.Fatalf("pending request missing for state %q: %v", state, err)
	}
	if req.JID != "alice@example.org" || req.UserState != "corr-9" {
		t.Errorf("pending request mismatch: %+v", req)
	}
}

func TestLoadCurveExchange(t *testing.T) {
	e, stores := newTestEngine(t)
	ctx := context.Background()
	tid := stores.Tokens.Put("AT1", "RT1", 3600, models.EnvironmentProduction, "")
	stores.UsagePoints.Set("alice@example.org", "111", tid)

	reply, err := e.Execute(ctx, NodeGetLoadCurve, "sess-2", "alice@example.org", nil)
	if err != nil {
		t.Fatalf("form turn failed: %v", err)
	}
	yesterday := time.Now().AddDate(0, 0, -1).Format("2006-01-02")
	if got := fieldByVar(t, reply.Form, "start").Value; got != yesterday {
		t.Errorf("load curve start should default to yesterday, got %q", got)
	}
	if got := fieldByVar(t, reply.Form, "end").Value; got != time.Now().Format("2006-01-02") {
		t.Errorf("load curve end should default to today, got %q", got)
	}

	reply, err = e.Execute(ctx, NodeGetLoadCurve, "sess-2", "alice@example.org",
		Submission{"usage_point_id": "111"})
	if err != nil {
		t.Fatalf("submit turn failed: %v", err)
	}
	if reply.Status != StatusCompleted || reply.Reading == nil {
		t.Fatalf("terminal reply should carry the reading: %+v", reply)
	}
	if len(reply.Reading.IntervalReading) != 2 {
		t.Errorf("reading mismatch: %+v", reply.Reading)
	}
	if reply.Note == nil || reply.Note.Type != NoteInfo {
		t.Errorf("success note expected: %+v", reply.Note)
	}
}

func TestDailyExchange_DefaultWindow(t *testing.T) {
	e, _ := newTestEngine(t)

	reply, err := e.Execute(context.Background(), NodeGetDaily, "sess-3", "alice@example.org", nil)
	if err != nil {
		t.Fatalf("form turn failed: %v", err)
	}
	wantStart := time.Now().AddDate(0, 0, -30).Format("2006-01-02")
	wantEnd := time.Now().AddDate(0, 0, -15).Format("2006-01-02")
	if got := fieldByVar(t, reply.Form, "start").Value; got != wantStart {
		t.Errorf("daily start should default to 30 days back, got %q", got)
	}
	if got := fieldByVar(t, reply.Form, "end").Value; got != wantEnd {
		t.Errorf("daily end should default to 15 days back, got %q", got)
	}
}

func TestSubmit_AccessDeniedBecomesTerminalNote(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.Execute(ctx, NodeGetDaily, "sess-4", "stranger@example.org", nil); err != nil {
		t.Fatalf("form turn failed: %v", err)
	}
	reply, err := e.Execute(ctx, NodeGetDaily, "sess-4", "stranger@example.org",
		Submission{"usage_point_id": "111"})
	if err != nil {
		t.Fatalf("expected terminal failure, not a transport fault: %v", err)
	}
	if reply.Status != StatusCompleted || reply.Note == nil || reply.Note.Type != NoteError {
		t.Fatalf("terminal error note expected: %+v", reply)
	}
	if !strings.Contains(reply.Note.Text, "not been granted") {
		t.Errorf("note should carry the access denied message: %q", reply.Note.Text)
	}
}

func TestSubmit_UpstreamErrorBecomesTerminalNote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":"quota_exceeded","error_description":"too many calls"}`))
	}))
	defer srv.Close()
	client := dataconnect.NewClient(dataconnect.Config{
		ClientID: "cid", AuthorizeEndpoint: srv.URL, APIEndpoint: srv.URL,
	})
	stores := store.NewStores()
	tid := stores.Tokens.Put("AT1", "RT1", 3600, models.EnvironmentProduction, "")
	stores.UsagePoints.Set("alice@example.org", "111", tid)
	e := NewEngine(proxy.New(client, client, stores, nil, "", nil), nil)
	ctx := context.Background()

	if _, err := e.Execute(ctx, NodeGetLoadCurve, "sess-5", "alice@example.org", nil); err != nil {
		t.Fatalf("form turn failed: %v", err)
	}
	reply, err := e.Execute(ctx, NodeGetLoadCurve, "sess-5", "alice@example.org",
		Submission{"usage_point_id": "111"})
	if err != nil {
		t.Fatalf("upstream error should be a terminal note: %v", err)
	}
	if reply.Note == nil || reply.Note.Type != NoteError {
		t.Fatalf("terminal error note expected: %+v", reply)
	}
	if !strings.Contains(reply.Note.Text, "quota_exceeded") {
		t.Errorf("note should carry the provider code: %q", reply.Note.Text)
	}
}

func TestSubmit_UnknownSessionReoffersForm(t *testing.T) {
	e, _ := newTestEngine(t)

	reply, err := e.Execute(context.Background(), NodeGetLoadCurve, "never-seen", "alice@example.org",
		Submission{"usage_point_id": "111"})
	if err != nil {
		t.Fatalf("unknown session should fall back to the form turn: %v", err)
	}
	if reply.Status != StatusExecuting || reply.Form == nil {
		t.Fatalf("form expected: %+v", reply)
	}
}

func TestExchange_NotResumableAfterTerminal(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.Execute(ctx, NodeRequestAuthorizationLink, "sess-6", "alice@example.org", nil); err != nil {
		t.Fatalf("form turn failed: %v", err)
	}
	if _, err := e.Execute(ctx, NodeRequestAuthorizationLink, "sess-6", "alice@example.org", Submission{}); err != nil {
		t.Fatalf("submit turn failed: %v", err)
	}

	// the handle is spent; another submit restarts from the form
	reply, err := e.Execute(ctx, NodeRequestAuthorizationLink, "sess-6", "alice@example.org", Submission{})
	if err != nil {
		t.Fatalf("spent session should restart from the form: %v", err)
	}
	if reply.Status != StatusExecuting || reply.Form == nil {
		t.Fatalf("form expected after terminal: %+v", reply)
	}
}

func TestExecute_UnknownNode(t *testing.T) {
	e, _ := newTestEngine(t)
	if _, err := e.Execute(context.Background(), "reboot-meter", "sess-7", "alice@example.org", nil); !errors.Is(err, ErrUnknownNode) {
		t.Fatalf("expected ErrUnknownNode, got %v", err)
	}
}

func TestNodes(t *testing.T) {
	e, _ := newTestEngine(t)
	nodes := e.Nodes()
	if len(nodes) != 3 {
		t.Fatalf("expected 3 nodes, got %v", nodes)
	}
}
