package api

import (
	"context"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"board-sync/domain"
	"board-sync/subscription"
)

const (
	streamBuffer      = 64
	heartbeatInterval = 25 * time.Second
)

type streamMessage struct {
	event string
	data  any
}

// streamChanges sends the project's board followed by its live changes as
// server-sent events. Each connection owns one subscription manager, torn
// down when the client goes away. When the feed is lost the stream sends a
// resync event and ends so the client reconnects and reloads.
func streamChanges(boards Boards, transport subscription.Transport, logger *log.Logger) echo.HandlerFunc {
	return streamWithHeartbeat(boards, transport, logger, heartbeatInterval)
}

func streamWithHeartbeat(boards Boards, transport subscription.Transport, logger *log.Logger, heartbeat time.Duration) echo.HandlerFunc {
	return func(c echo.Context) error {
		projectID := c.Param("project")
		ctx, cancel := context.WithCancel(c.Request().Context())
		defer cancel()

		s, err := boards.Session(ctx, projectID)
		if err != nil {
			return writeError(c, err)
		}
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}

		msgs := make(chan streamMessage, streamBuffer)
		send := func(event string) func(domain.ChangeEvent) {
			return func(ev domain.ChangeEvent) {
				select {
				case msgs <- streamMessage{event: event, data: ev}:
				case <-ctx.Done():
				}
			}
		}
		mgr := subscription.NewManager(transport, logger)
		mgr.Subscribe(subscription.Scope(projectID), subscription.Callbacks{
			OnInsert: send(string(subscription.ItemInserted)),
			OnUpdate: send(string(subscription.ItemUpdated)),
			OnDelete: send(string(subscription.ItemDeleted)),
			OnAux:    send(string(subscription.AuxChanged)),
		})
		defer func() {
			// Unblock callbacks waiting on msgs before tearing down.
			cancel()
			mgr.Unsubscribe()
		}()

		h := c.Response().Header()
		h.Set(echo.HeaderContentType, "text/event-stream")
		h.Set(echo.HeaderCacheControl, "no-cache")
		h.Set(echo.HeaderConnection, "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		c.Response().WriteHeader(http.StatusOK)

		if err := writeEvent(c, "snapshot", tasksResponse{Tasks: s.Cache.Items()}); err != nil {
			return nil
		}
		flusher.Flush()

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case m := <-msgs:
				if err := writeEvent(c, m.event, m.data); err != nil {
					logger.WithError(err).WithField("project", projectID).Debug("stream write failed")
					return nil
				}
				flusher.Flush()
			case <-ticker.C:
				if mgr.State() == subscription.Idle {
					_ = writeEvent(c, "resync", struct{}{})
					flusher.Flush()
					logger.WithError(mgr.Err()).WithField("project", projectID).Info("change stream lost, asking client to resync")
					return nil
				}
				if _, err := c.Response().Write([]byte(": ping\n\n")); err != nil {
					return nil
				}
				flusher.Flush()
			}
		}
	}
}

func writeEvent(c echo.Context, event string, data any) error {
	payload, err := sonic.Marshal(data)
	if err != nil {
		return err
	}
	w := c.Response()
	if _, err := w.Write([]byte("event: " + event + "\ndata: ")); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	_, err = w.Write([]byte("\n\n"))
	return err
}
