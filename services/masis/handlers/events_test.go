// Copyright (C) 2025 Adnan Haque
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adnan-Haque/MASIS/services/masis/datatypes"
)

// =============================================================================
// EventHub Tests
// =============================================================================

func TestEventHub_ReplayBeforeSubscribe(t *testing.T) {
	hub := NewEventHub()
	hub.Open("req-1")
	hub.OnTrace("req-1", datatypes.TraceEntry{Node: "retrieve", Candidates: 12})
	hub.OnDecision("req-1", datatypes.DecisionLogEntry{Decision: datatypes.StateRetry})

	replay, live, cancel := hub.Subscribe("req-1")
	defer cancel()

	require.NotNil(t, live)
	require.Len(t, replay, 2)
	assert.Equal(t, FrameTrace, replay[0].Type)
	assert.Equal(t, "retrieve", replay[0].Trace.Node)
	assert.Equal(t, FrameDecision, replay[1].Type)
	assert.Equal(t, datatypes.StateRetry, replay[1].Decision.Decision)
}

func TestEventHub_LiveDelivery(t *testing.T) {
	hub := NewEventHub()
	hub.Open("req-1")

	replay, live, cancel := hub.Subscribe("req-1")
	defer cancel()
	require.Empty(t, replay)

	hub.OnTrace("req-1", datatypes.TraceEntry{Node: "draft"})

	select {
	case frame := <-live:
		assert.Equal(t, FrameTrace, frame.Type)
		assert.Equal(t, "draft", frame.Trace.Node)
	case <-time.After(time.Second):
		t.Fatal("expected a live frame")
	}
}

func TestEventHub_UnknownRequest(t *testing.T) {
	hub := NewEventHub()

	replay, live, cancel := hub.Subscribe("nope")
	defer cancel()

	assert.Nil(t, replay)
	assert.Nil(t, live)
}

func TestEventHub_CompleteClosesStream(t *testing.T) {
	hub := NewEventHub()
	hub.Open("req-1")

	_, live, cancel := hub.Subscribe("req-1")
	defer cancel()

	rec := datatypes.NewPipelineRecord("req-1", "q", "ws", 2)
	rec.Confidence = 0.88
	rec.RetryCount = 1
	hub.OnComplete("req-1", rec)

	frame, ok := <-live
	require.True(t, ok)
	assert.Equal(t, FrameComplete, frame.Type)
	require.NotNil(t, frame.Summary)
	assert.Equal(t, datatypes.StatusSuccess, frame.Summary.Status)
	assert.InDelta(t, 0.88, frame.Summary.Confidence, 1e-9)
	assert.Equal(t, 1, frame.Summary.RetryCount)

	_, ok = <-live
	assert.False(t, ok, "channel should close after the terminal frame")

	// The stream is gone; a late subscriber sees nothing.
	replay, late, lateCancel := hub.Subscribe("req-1")
	defer lateCancel()
	assert.Nil(t, replay)
	assert.Nil(t, late)
}

func TestEventHub_CompleteReportsEscalation(t *testing.T) {
	hub := NewEventHub()
	hub.Open("req-1")

	_, live, cancel := hub.Subscribe("req-1")
	defer cancel()

	rec := datatypes.NewPipelineRecord("req-1", "q", "ws", 2)
	rec.Escalate("could not verify")
	hub.OnComplete("req-1", rec)

	frame := <-live
	require.NotNil(t, frame.Summary)
	assert.Equal(t, datatypes.StatusNeedsClarification, frame.Summary.Status)
	assert.True(t, frame.Summary.Escalated)
}

func TestEventHub_AbortReleasesStream(t *testing.T) {
	hub := NewEventHub()
	hub.Open("req-1")

	_, live, cancel := hub.Subscribe("req-1")
	defer cancel()
	require.NotNil(t, live)

	hub.Abort("req-1")

	_, ok := <-live
	assert.False(t, ok, "subscriber channel should close when the stream is aborted")

	// The entry is gone; a late subscriber sees nothing.
	replay, late, lateCancel := hub.Subscribe("req-1")
	defer lateCancel()
	assert.Nil(t, replay)
	assert.Nil(t, late)
}

func TestEventHub_AbortUnknownRequestIsSafe(t *testing.T) {
	hub := NewEventHub()

	assert.NotPanics(t, func() { hub.Abort("nope") })
}

func TestEventHub_PublishToUnopenedRequestIsDropped(t *testing.T) {
	hub := NewEventHub()

	// Must not panic or create a stream.
	hub.OnTrace("ghost", datatypes.TraceEntry{Node: "retrieve"})

	replay, live, cancel := hub.Subscribe("ghost")
	defer cancel()
	assert.Nil(t, replay)
	assert.Nil(t, live)
}

func TestEventHub_SlowSubscriberDropsFramesWithoutBlocking(t *testing.T) {
	hub := NewEventHub()
	hub.Open("req-1")

	_, _, cancel := hub.Subscribe("req-1")
	defer cancel()

	// Publish well past the buffer; the hub must not stall.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer*3; i++ {
			hub.OnTrace("req-1", datatypes.TraceEntry{Node: "draft"})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publishing blocked on a slow subscriber")
	}
}

// =============================================================================
// StreamEvents Tests
// =============================================================================

func newEventsServer(hub *EventHub) *httptest.Server {
	router := gin.New()
	router.GET("/v1/synthesis/:id/events", StreamEvents(hub))
	return httptest.NewServer(router)
}

func TestStreamEvents_UnknownRequestIs404(t *testing.T) {
	server := newEventsServer(NewEventHub())
	defer server.Close()

	resp, err := http.Get(server.URL + "/v1/synthesis/unknown/events")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStreamEvents_ReplayAndComplete(t *testing.T) {
	hub := NewEventHub()
	hub.Open("req-1")
	hub.OnTrace("req-1", datatypes.TraceEntry{Node: "retrieve", Candidates: 8})

	server := newEventsServer(hub)
	defer server.Close()

	wsURL := strings.Replace(server.URL, "http", "ws", 1) + "/v1/synthesis/req-1/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first EventFrame
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, FrameTrace, first.Type)
	assert.Equal(t, "retrieve", first.Trace.Node)

	rec := datatypes.NewPipelineRecord("req-1", "q", "ws", 2)
	rec.Confidence = 0.9
	hub.OnComplete("req-1", rec)

	var last EventFrame
	require.NoError(t, conn.ReadJSON(&last))
	assert.Equal(t, FrameComplete, last.Type)
	require.NotNil(t, last.Summary)
	assert.Equal(t, datatypes.StatusSuccess, last.Summary.Status)
}
