package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/voxnote/internal/store"
)

const writeTimeout = 5 * time.Second

// StreamState handles GET /api/state/ws. It sends the current state on
// connect and again after every change, at most once per stream interval.
// Client messages are ignored.
func (h *Handler) StreamState(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Debug("websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	updates, cancel := h.rec.Updates()
	defer cancel()

	// CloseRead handles control frames and cancels ctx once the peer goes
	// away.
	ctx := conn.CloseRead(r.Context())

	var last time.Time
	for {
		if err := h.send(ctx, conn); err != nil {
			logStreamEnd("state", err)
			return
		}
		last = time.Now()

		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-updates:
		}

		if wait := h.interval - time.Since(last); wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				conn.Close(websocket.StatusNormalClosure, "")
				return
			case <-t.C:
			}
		}
	}
}

func (h *Handler) send(ctx context.Context, conn *websocket.Conn) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, toStateResponse(h.rec.State()))
}

// SessionsMessage is one message of the session list stream. Event and ID
// are empty for the snapshot sent on connect.
type SessionsMessage struct {
	Event    string           `json:"event,omitempty"`
	ID       string           `json:"id,omitempty"`
	Sessions []store.Metadata `json:"sessions"`
}

// StreamSessions handles GET /api/sessions/ws. It sends the session list on
// connect and again, with the triggering event, whenever a session is
// created, saved or deleted.
func (h *Handler) StreamSessions(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Debug("websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	// Subscribe before the snapshot so no change between the two is lost.
	events, cancel := h.store.Subscribe()
	defer cancel()

	ctx := conn.CloseRead(r.Context())

	if err := h.sendSessions(ctx, conn, store.Event{}); err != nil {
		logStreamEnd("session", err)
		return
	}
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "")
				return
			}
			if err := h.sendSessions(ctx, conn, ev); err != nil {
				logStreamEnd("session", err)
				return
			}
		}
	}
}

func (h *Handler) sendSessions(ctx context.Context, conn *websocket.Conn, ev store.Event) error {
	metas, err := h.store.LoadAll(ctx)
	if err != nil {
		return err
	}
	msg := SessionsMessage{ID: ev.ID, Sessions: metas}
	if ev.Kind != 0 {
		msg.Event = ev.Kind.String()
	}
	if msg.Sessions == nil {
		msg.Sessions = []store.Metadata{}
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, msg)
}

func logStreamEnd(stream string, err error) {
	if !errors.Is(err, context.Canceled) && websocket.CloseStatus(err) == -1 {
		slog.Debug("websocket "+stream+" stream ended", "err", err)
	}
}
