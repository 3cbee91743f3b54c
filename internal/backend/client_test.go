package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/pipeline-monitor/internal/steps"
)

func validRequest() RunRequest {
	return RunRequest{Tickers: []string{"AAPL", "MSFT"}, Mode: steps.ModeFull, DryRun: true}
}

func TestRunRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *RunRequest)
		wantErr bool
	}{
		{name: "valid", mutate: func(*RunRequest) {}},
		{name: "no tickers", mutate: func(r *RunRequest) { r.Tickers = nil }, wantErr: true},
		{name: "blank ticker", mutate: func(r *RunRequest) { r.Tickers = []string{""} }, wantErr: true},
		{name: "bad mode", mutate: func(r *RunRequest) { r.Mode = "yolo" }, wantErr: true},
		{name: "bad date", mutate: func(r *RunRequest) { r.StartDate = "03/02/2026" }, wantErr: true},
		{name: "good date", mutate: func(r *RunRequest) { r.EndDate = "2026-03-02" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)
			err := req.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewClient_InvalidURL(t *testing.T) {
	_, err := NewClient("not a url", nil)
	var be *Error
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "invalid backend URL", be.Message)
}

func TestStartRun_StreamsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/run", r.URL.Path)
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))

		var got RunRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, validRequest(), got)

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"type\":\"start\"}\n\n")
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL+"/", &Options{RunPath: "api/run", Headers: map[string]string{"X-Api-Key": "secret"}})
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/api/run", c.RunURL())

	body, err := c.StartRun(context.Background(), validRequest())
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "data: {\"type\":\"start\"}\n\n", string(data))
}

func TestStartRun_RejectedRequest(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		expected string
	}{
		{"fastapi detail", http.StatusUnprocessableEntity, `{"detail":"tickers must not be empty"}`, "tickers must not be empty"},
		{"error field", http.StatusBadRequest, `{"error":"unknown model"}`, "unknown model"},
		{"plain text", http.StatusBadGateway, "upstream down", "upstream down"},
		{"empty body", http.StatusServiceUnavailable, "", "Service Unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			c, err := NewClient(srv.URL, nil)
			require.NoError(t, err)

			_, err = c.StartRun(context.Background(), validRequest())
			var be *Error
			require.True(t, errors.As(err, &be))
			assert.Equal(t, tt.status, be.StatusCode)
			assert.Equal(t, tt.expected, be.Message)
		})
	}
}

func TestStartRun_InvalidRequestNotSent(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	defer srv.Close()

	c, err := NewClient(srv.URL, nil)
	require.NoError(t, err)

	_, err = c.StartRun(context.Background(), RunRequest{Mode: steps.ModeFull})
	assert.Error(t, err)
	assert.False(t, called)
}
