package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/issue-notify/internal/notify"
	"github.com/example/issue-notify/internal/token"
)

type stubLister struct {
	events []notify.Event
	err    error
}

func (s *stubLister) ListByReceiver(_ context.Context, receiverID string) ([]notify.Event, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := []notify.Event{}
	for _, e := range s.events {
		if e.ReceiverID == receiverID {
			out = append(out, e)
		}
	}
	return out, nil
}

func newTestAPI(t *testing.T, lister *stubLister) (*httptest.Server, *token.Verifier) {
	t.Helper()
	v, err := token.NewVerifier("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	srv := httptest.NewServer(New(v, lister).Router())
	t.Cleanup(srv.Close)
	return srv, v
}

func get(t *testing.T, url, authToken string) (*http.Response, apiResponse) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body apiResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp, body
}

func TestGetNotifications(t *testing.T) {
	lister := &stubLister{events: []notify.Event{
		{NotifyID: "n1", SenderID: "u1", SenderName: "Ann Lee", ReceiverID: "u2", Message: "hi", CreatedOn: time.Now().UTC()},
	}}
	srv, v := newTestAPI(t, lister)

	tok, err := v.Issue(token.Claims{UserID: "u2", FirstName: "Bob", LastName: "Roy"})
	require.NoError(t, err)

	resp, body := get(t, srv.URL+"/issue/u2/notification", tok)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, body.Error)
	assert.Equal(t, "All Notifications Listed", body.Message)

	raw, err := json.Marshal(body.Data)
	require.NoError(t, err)
	var events []notify.Event
	require.NoError(t, json.Unmarshal(raw, &events))
	require.Len(t, events, 1)
	assert.Equal(t, "n1", events[0].NotifyID)
	assert.Equal(t, "hi", events[0].Message)
}

func TestGetNotifications_NoneFound(t *testing.T) {
	srv, v := newTestAPI(t, &stubLister{})
	tok, err := v.Issue(token.Claims{UserID: "u2"})
	require.NoError(t, err)

	resp, body := get(t, srv.URL+"/issue/u2/notification", tok)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.True(t, body.Error)
}

func TestGetNotifications_MissingToken(t *testing.T) {
	srv, _ := newTestAPI(t, &stubLister{})

	resp, body := get(t, srv.URL+"/issue/u2/notification", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.True(t, body.Error)
}

func TestGetNotifications_BadToken(t *testing.T) {
	srv, _ := newTestAPI(t, &stubLister{})

	resp, body := get(t, srv.URL+"/issue/u2/notification", "garbage")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.True(t, body.Error)
}

func TestGetNotifications_QueryParamToken(t *testing.T) {
	lister := &stubLister{events: []notify.Event{{NotifyID: "n1", ReceiverID: "u2"}}}
	srv, v := newTestAPI(t, lister)
	tok, err := v.Issue(token.Claims{UserID: "u2"})
	require.NoError(t, err)

	resp, body := get(t, srv.URL+"/issue/u2/notification?authToken="+tok, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, body.Error)
}

func TestGetNotifications_OtherUsersForbidden(t *testing.T) {
	lister := &stubLister{events: []notify.Event{{NotifyID: "n1", ReceiverID: "u2"}}}
	srv, v := newTestAPI(t, lister)

	tok, err := v.Issue(token.Claims{UserID: "u1", FirstName: "Ann", LastName: "Lee"})
	require.NoError(t, err)

	resp, body := get(t, srv.URL+"/issue/u2/notification", tok)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.True(t, body.Error)
}

func TestGetNotifications_StoreFailure(t *testing.T) {
	srv, v := newTestAPI(t, &stubLister{err: errors.New("db down")})
	tok, err := v.Issue(token.Claims{UserID: "u2"})
	require.NoError(t, err)

	resp, body := get(t, srv.URL+"/issue/u2/notification", tok)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.True(t, body.Error)
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestAPI(t, &stubLister{})
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
