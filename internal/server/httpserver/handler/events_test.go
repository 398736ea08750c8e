package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandleListEvents(t *testing.T) {
	h := newTestHandler(t)

	_, err := h.events.Emit("document.put", json.RawMessage(`{"collection":"products","key":"widget-1"}`))
	require.NoError(t, err)
	_, err = h.events.Emit("document.delete", json.RawMessage(`{"collection":"products","key":"widget-2"}`))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	rec := httptest.NewRecorder()

	h.handleListEvents(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var list ListEventsResponse
	require.NoError(t, json.Unmarshal(raw, &list))

	require.Len(t, list.Items, 2)
	require.Equal(t, "document.put", list.Items[0].Type)
	require.Equal(t, "document.delete", list.Items[1].Type)
}

func TestHandleListEventsFiltersByType(t *testing.T) {
	h := newTestHandler(t)

	_, err := h.events.Emit("document.put", json.RawMessage(`{}`))
	require.NoError(t, err)
	_, err = h.events.Emit("document.delete", json.RawMessage(`{}`))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/events?types=document.delete", nil)
	rec := httptest.NewRecorder()

	h.handleListEvents(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var list ListEventsResponse
	require.NoError(t, json.Unmarshal(raw, &list))

	require.Len(t, list.Items, 1)
	require.Equal(t, "document.delete", list.Items[0].Type)
}

func TestHandleListEventsRespectsLimit(t *testing.T) {
	h := newTestHandler(t)

	for i := 0; i < 5; i++ {
		_, err := h.events.Emit("document.put", json.RawMessage(`{}`))
		require.NoError(t, err)
	}

	req := httptest.NewRequest(http.MethodGet, "/events?limit=2", nil)
	rec := httptest.NewRecorder()

	h.handleListEvents(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var list ListEventsResponse
	require.NoError(t, json.Unmarshal(raw, &list))

	require.Len(t, list.Items, 2)
	require.True(t, list.HasMore)
	require.NotEmpty(t, list.NextCursor)
}
