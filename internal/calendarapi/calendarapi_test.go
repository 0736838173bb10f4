package calendarapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestDeviceCodeSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		json.NewEncoder(w).Encode(DeviceCodeResponse{
			DeviceCode: "D", UserCode: "ABC-123", ExpiresIn: 1800, Interval: 5, VerificationURL: "https://example/verify",
		})
	}))
	defer srv.Close()

	a := New(Config{DeviceCodeURL: srv.URL, ClientID: "id", Scope: "scope"})
	result, err := a.RequestDeviceCode(context.Background())
	require.NoError(t, err)
	require.NotNil(t, result.Body)
	assert.Equal(t, "ABC-123", result.Body.UserCode)
	assert.Equal(t, int64(5), result.Body.Interval)
}

func TestRequestDeviceCodeRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(DeviceCodeErrorResponse{ErrorCode: ErrRateLimitExceeded})
	}))
	defer srv.Close()

	a := New(Config{DeviceCodeURL: srv.URL})
	result, err := a.RequestDeviceCode(context.Background())
	require.NoError(t, err)
	require.Nil(t, result.Body)
	require.NotNil(t, result.ErrBody)
	assert.Equal(t, ErrRateLimitExceeded, result.ErrBody.ErrorCode)
}

func TestPollAuthorizationPending(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, GrantType, r.FormValue("grant_type"))
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(PollErrorResponse{Error: ErrAuthorizationPending})
	}))
	defer srv.Close()

	a := New(Config{PollURL: srv.URL})
	result, err := a.Poll(context.Background(), "device-code")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, result.StatusCode)
	assert.Equal(t, ErrAuthorizationPending, result.ErrBody.Error)
}

func TestPollSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(PollResponse{
			AccessToken: "T", RefreshToken: "R", ExpiresIn: 3600, TokenType: TokenType,
		})
	}))
	defer srv.Close()

	a := New(Config{PollURL: srv.URL})
	result, err := a.Poll(context.Background(), "device-code")
	require.NoError(t, err)
	require.NotNil(t, result.Body)
	assert.Equal(t, "Bearer", result.Body.TokenType)
}

func TestListEventsEncodesTimeBoundsAndAuth(t *testing.T) {
	timeMin := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	timeMax := timeMin.AddDate(0, 0, 1).Add(-time.Second)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token123", r.Header.Get("Authorization"))
		assert.Equal(t, timeMin.Format(time.RFC3339), r.URL.Query().Get("timeMin"))
		assert.Equal(t, "true", r.URL.Query().Get("singleEvents"))
		json.NewEncoder(w).Encode(EventsResponse{Items: []Event{{Summary: "s"}}})
	}))
	defer srv.Close()

	a := New(Config{ListEventsURL: srv.URL})
	result, err := a.ListEvents(context.Background(), "token123", timeMin, timeMax, "")
	require.NoError(t, err)
	require.NotNil(t, result.Body)
	assert.Len(t, result.Body.Items, 1)
}

func TestTransportErrorWrapsUnreachableHost(t *testing.T) {
	a := New(Config{DeviceCodeURL: "http://127.0.0.1:1"})
	_, err := a.RequestDeviceCode(context.Background())
	require.Error(t, err)
	var transportErr *TransportError
	assert.ErrorAs(t, err, &transportErr)
}
