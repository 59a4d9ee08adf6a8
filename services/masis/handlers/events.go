// Copyright (C) 2025 Adnan Haque
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers provides the Gin HTTP handlers of the MASIS service.
//
// This file implements live pipeline event streaming over WebSocket. The
// EventHub sits on the pipeline's observer interface and fans stage-trace
// and decision events out to any WebSocket clients watching a request id.
package handlers

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Adnan-Haque/MASIS/services/masis/datatypes"
)

// Event frame types on the wire.
const (
	FrameTrace    = "trace"
	FrameDecision = "decision"
	FrameComplete = "complete"
)

// EventFrame is one message on the event stream. Exactly one of the
// payload fields is set, selected by Type.
type EventFrame struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`

	Trace    *datatypes.TraceEntry       `json:"trace,omitempty"`
	Decision *datatypes.DecisionLogEntry `json:"decision,omitempty"`
	Summary  *CompletionSummary          `json:"summary,omitempty"`
}

// CompletionSummary is the terminal frame of a stream.
type CompletionSummary struct {
	Status     string  `json:"status"`
	Confidence float64 `json:"confidence"`
	RetryCount int     `json:"retry_count"`
	Escalated  bool    `json:"escalated"`
}

// subscriber channel depth. A slow reader that falls further behind than
// this loses frames rather than stalling the pipeline.
const subscriberBuffer = 32

// requestStream holds the frames and subscribers of one in-flight request.
type requestStream struct {
	frames []EventFrame
	subs   map[chan EventFrame]struct{}
	done   bool
}

// EventHub fans pipeline progress out to WebSocket subscribers, keyed by
// request id. It implements pipeline.TraceObserver, so it plugs directly
// into the pipeline's observer slot alongside the metrics mirror.
//
// # Thread Safety
//
// Safe for concurrent use. Observer callbacks never block: frames are
// delivered with non-blocking sends and slow subscribers drop frames.
type EventHub struct {
	mu      sync.Mutex
	streams map[string]*requestStream
}

// NewEventHub creates an empty hub.
func NewEventHub() *EventHub {
	return &EventHub{streams: make(map[string]*requestStream)}
}

// Open registers a request id before its pipeline starts, so subscribers
// connecting between submission and the first stage see the full stream.
func (h *EventHub) Open(requestID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.streams[requestID]; !ok {
		h.streams[requestID] = &requestStream{subs: make(map[chan EventFrame]struct{})}
	}
}

// Subscribe attaches to a request's stream. The returned slice replays
// every frame published so far; the channel carries frames from now on and
// is closed when the request completes. The cancel function detaches the
// subscriber and must be called exactly once.
//
// A nil channel means the request is unknown or already complete.
func (h *EventHub) Subscribe(requestID string) ([]EventFrame, chan EventFrame, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	stream, ok := h.streams[requestID]
	if !ok || stream.done {
		return nil, nil, func() {}
	}

	ch := make(chan EventFrame, subscriberBuffer)
	stream.subs[ch] = struct{}{}
	replay := make([]EventFrame, len(stream.frames))
	copy(replay, stream.frames)

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if s, ok := h.streams[requestID]; ok {
			delete(s.subs, ch)
		}
	}
	return replay, ch, cancel
}

// OnTrace implements pipeline.TraceObserver.
func (h *EventHub) OnTrace(requestID string, entry datatypes.TraceEntry) {
	e := entry
	h.publish(requestID, EventFrame{Type: FrameTrace, RequestID: requestID, Trace: &e})
}

// OnDecision implements pipeline.TraceObserver.
func (h *EventHub) OnDecision(requestID string, entry datatypes.DecisionLogEntry) {
	e := entry
	h.publish(requestID, EventFrame{Type: FrameDecision, RequestID: requestID, Decision: &e})
}

// OnComplete implements pipeline.TraceObserver. Publishes the terminal
// summary frame, closes all subscriber channels, and drops the stream.
func (h *EventHub) OnComplete(requestID string, rec *datatypes.PipelineRecord) {
	status := datatypes.StatusSuccess
	if rec.RequiresEscalation {
		status = datatypes.StatusNeedsClarification
	}
	summary := &CompletionSummary{
		Status:     status,
		Confidence: rec.Confidence,
		RetryCount: rec.RetryCount,
		Escalated:  rec.RequiresEscalation,
	}
	frame := EventFrame{Type: FrameComplete, RequestID: requestID, Summary: summary}

	h.mu.Lock()
	defer h.mu.Unlock()
	stream, ok := h.streams[requestID]
	if !ok {
		return
	}
	for ch := range stream.subs {
		select {
		case ch <- frame:
		default:
		}
		close(ch)
	}
	delete(h.streams, requestID)
}

// Abort releases a stream whose pipeline exited without reaching a
// terminal state, such as a canceled request. Subscriber channels are
// closed without a summary frame and the stream entry is dropped, so
// watchers unblock and the hub does not accumulate dead streams.
func (h *EventHub) Abort(requestID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	stream, ok := h.streams[requestID]
	if !ok {
		return
	}
	for ch := range stream.subs {
		close(ch)
	}
	delete(h.streams, requestID)
}

// publish appends a frame and offers it to every subscriber without
// blocking.
func (h *EventHub) publish(requestID string, frame EventFrame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	stream, ok := h.streams[requestID]
	if !ok || stream.done {
		return
	}
	stream.frames = append(stream.frames, frame)
	for ch := range stream.subs {
		select {
		case ch <- frame:
		default:
		}
	}
}

var eventUpgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 16 * 1024,
}

// StreamEvents handles GET /v1/synthesis/:id/events. Upgrades to a
// WebSocket, replays the frames published so far, then relays live frames
// until the pipeline completes or the client disconnects.
func StreamEvents(hub *EventHub) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.Param("id")

		replay, live, cancel := hub.Subscribe(requestID)
		if live == nil {
			c.JSON(http.StatusNotFound, datatypes.ErrorResponse{
				Error: "no in-flight synthesis with that request id",
			})
			return
		}
		defer cancel()

		ws, err := eventUpgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("Failed to upgrade event stream", "requestID", requestID, "error", err)
			return
		}
		defer ws.Close()

		// Drain client frames so close messages are processed.
		go func() {
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for _, frame := range replay {
			if err := ws.WriteJSON(frame); err != nil {
				return
			}
		}
		for frame := range live {
			if err := ws.WriteJSON(frame); err != nil {
				return
			}
		}
		_ = ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "synthesis complete"))
	}
}
