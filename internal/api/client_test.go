package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/zhouzirui/z-tavern/messenger/internal/model/chat"
)

type staticToken string

func (t staticToken) Token() string { return string(t) }

type recorded struct {
	method string
	path   string
	auth   string
	reqID  string
	body   string
}

func newRecorder(t *testing.T, status int, reply string) (*httptest.Server, func() []recorded) {
	t.Helper()
	var (
		mu   sync.Mutex
		seen []recorded
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		seen = append(seen, recorded{
			method: r.Method,
			path:   r.URL.Path,
			auth:   r.Header.Get("Authorization"),
			reqID:  r.Header.Get("X-Request-ID"),
			body:   string(body),
		})
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []recorded {
		mu.Lock()
		defer mu.Unlock()
		return append([]recorded(nil), seen...)
	}
}

func TestDecodeMessageListEnvelopes(t *testing.T) {
	bare, err := DecodeMessageList([]byte(`[{"_id":"m1","sender":"u1","text":"hi","isOwn":true}]`))
	if err != nil {
		t.Fatalf("DecodeMessageList err: %v", err)
	}
	if len(bare) != 1 || bare[0].ID != "m1" || bare[0].IsOwn {
		t.Fatalf("unexpected bare list: %+v", bare)
	}

	wrapped, err := DecodeMessageList([]byte(`{"messages":[{"_id":"m1","sender":{"_id":"u1"},"text":"hi"},{"_id":"m2","sender":7,"text":"yo"}]}`))
	if err != nil {
		t.Fatalf("DecodeMessageList err: %v", err)
	}
	if len(wrapped) != 2 || wrapped[0].Sender != "u1" || wrapped[1].Sender != "7" {
		t.Fatalf("unexpected wrapped list: %+v", wrapped)
	}

	empty, err := DecodeMessageList([]byte(`[]`))
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty list, got %v, %v", empty, err)
	}
}

func TestDecodeMessageListRejectsOtherShapes(t *testing.T) {
	for _, payload := range []string{
		`{"data":[]}`,
		`"nope"`,
		`{"messages":{}}`,
		`[{"sender":"u1","text":"no id"}]`,
		`not json`,
	} {
		if _, err := DecodeMessageList([]byte(payload)); !errors.Is(err, ErrMalformedResponse) {
			t.Fatalf("payload %s: expected ErrMalformedResponse, got %v", payload, err)
		}
	}
}

func TestRequestsCarrySessionToken(t *testing.T) {
	srv, seen := newRecorder(t, http.StatusOK, `[]`)

	client := New(srv.URL, staticToken("tok-1"), Options{})
	if _, err := client.ListMessages(context.Background(), "c 1"); err != nil {
		t.Fatalf("ListMessages err: %v", err)
	}
	if err := client.EditMessage(context.Background(), "m1", chat.EditRequest{UserID: "u1", Text: "new"}); err != nil {
		t.Fatalf("EditMessage err: %v", err)
	}
	if err := client.DeleteMessage(context.Background(), "m1", chat.DeleteRequest{UserID: "u1"}); err != nil {
		t.Fatalf("DeleteMessage err: %v", err)
	}

	reqs := seen()
	if len(reqs) != 3 {
		t.Fatalf("expected 3 requests, got %d", len(reqs))
	}
	if reqs[0].method != http.MethodGet || reqs[0].path != "/message/c 1" {
		t.Fatalf("unexpected list request: %+v", reqs[0])
	}
	if reqs[1].method != http.MethodPut || reqs[1].path != "/message/edit/m1" || !strings.Contains(reqs[1].body, `"text":"new"`) {
		t.Fatalf("unexpected edit request: %+v", reqs[1])
	}
	if reqs[2].method != http.MethodDelete || reqs[2].path != "/message/m1" || !strings.Contains(reqs[2].body, `"userId":"u1"`) {
		t.Fatalf("unexpected delete request: %+v", reqs[2])
	}
	for _, r := range reqs {
		if r.auth != "Bearer tok-1" {
			t.Fatalf("expected bearer token, got %q", r.auth)
		}
		if r.reqID == "" {
			t.Fatalf("expected X-Request-ID")
		}
	}
}

func TestRequestWithoutTokenIsUnauthenticated(t *testing.T) {
	srv, seen := newRecorder(t, http.StatusOK, `{"uniqueUsers":[]}`)

	client := New(srv.URL, staticToken(""), Options{})
	if _, err := client.ListChatUsers(context.Background()); err != nil {
		t.Fatalf("ListChatUsers err: %v", err)
	}
	if auth := seen()[0].auth; auth != "" {
		t.Fatalf("expected no Authorization header, got %q", auth)
	}
}

func TestStatusErrorCarriesServerMessage(t *testing.T) {
	srv, _ := newRecorder(t, http.StatusForbidden, `{"message":"not allowed to modify this message"}`)

	client := New(srv.URL, staticToken("tok"), Options{})
	err := client.EditMessage(context.Background(), "m1", chat.EditRequest{UserID: "u1", Text: "x"})
	if !IsStatus(err, http.StatusForbidden) || !Unauthorized(err) {
		t.Fatalf("expected 403 StatusError, got %v", err)
	}
	if msg := ServerMessage(err, "fallback"); msg != "not allowed to modify this message" {
		t.Fatalf("unexpected server message %q", msg)
	}
	if msg := ServerMessage(errors.New("boom"), "fallback"); msg != "fallback" {
		t.Fatalf("expected fallback, got %q", msg)
	}
}

func TestServerErrorIsStatusError(t *testing.T) {
	srv, _ := newRecorder(t, http.StatusInternalServerError, ``)

	client := New(srv.URL, nil, Options{})
	_, err := client.ListMessages(context.Background(), "c1")
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 StatusError, got %v", err)
	}
}

func TestLoginReadsNestedOrFlatUser(t *testing.T) {
	nested, _ := newRecorder(t, http.StatusOK, `{"accessToken":"a","refreshToken":"r","user":{"_id":"u1","email":"a@x.io"}}`)
	res, err := New(nested.URL, nil, Options{}).Login(context.Background(), Credentials{Email: "a@x.io", Password: "pw"})
	if err != nil {
		t.Fatalf("Login err: %v", err)
	}
	if res.AccessToken != "a" || res.RefreshToken != "r" || res.User.ID != "u1" {
		t.Fatalf("unexpected nested login result: %+v", res)
	}

	flat, _ := newRecorder(t, http.StatusOK, `{"accessToken":"a","_id":"u2","fullName":"Flat"}`)
	res, err = New(flat.URL, nil, Options{}).Login(context.Background(), Credentials{Email: "b@x.io", Password: "pw"})
	if err != nil {
		t.Fatalf("Login err: %v", err)
	}
	if res.User.ID != "u2" || res.User.FullName != "Flat" || res.RefreshToken != "" {
		t.Fatalf("unexpected flat login result: %+v", res)
	}
}
