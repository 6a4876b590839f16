package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/middleware"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/response"
	ws "github.com/stemsi/exstem-session/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// SubmissionReader resolves a submission by id.
type SubmissionReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Submission, error)
}

// StreamSink buffers streamed answers and violations for the workers.
type StreamSink interface {
	SaveAnswer(ctx context.Context, ev model.AutosaveEvent) error
	RecordViolation(ctx context.Context, ev model.ViolationEvent) error
}

// WSHandler streams autosaves and violation reports of a live attempt.
type WSHandler struct {
	submissions SubmissionReader
	sink        StreamSink
	log         zerolog.Logger
	upgrader    websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(submissions SubmissionReader, sink StreamSink, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		submissions: submissions,
		sink:        sink,
		log:         log.With().Str("component", "ws_handler").Logger(),
		upgrader:    buildUpgrader(allowedOrigins),
	}
}

// streamConn is the per-connection state of one stream.
type streamConn struct {
	conn   *websocket.Conn
	userID int
	testID uuid.UUID
	log    zerolog.Logger
	// live caches submissions verified as DOING and owned by this user and test.
	live map[uuid.UUID]bool
}

// SessionStream godoc
// WS /ws/v1/session/:test_id/stream?token=
// Upgrades to WebSocket for answer autosave and the violation audit trail.
func (h *WSHandler) SessionStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	testID, err := uuid.Parse(c.Param("test_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	sc := &streamConn{
		conn:   conn,
		userID: claims.UserID,
		testID: testID,
		log: h.log.With().
			Int("user_id", claims.UserID).
			Str("test_id", testID.String()).
			Logger(),
		live: make(map[uuid.UUID]bool),
	}
	sc.log.Info().Msg("Stream connected")

	ctx := c.Request.Context()
	for {
		msg, err := ws.ReadMessage(conn)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				sc.log.Warn().Err(err).Msg("Unexpected close")
			} else {
				sc.log.Debug().Msg("Connection closed")
			}
			return
		}

		var env ws.RequestEnvelope
		if err := json.Unmarshal(msg, &env); err != nil {
			ws.WriteError(conn, "malformed message")
			continue
		}

		switch env.Action {
		case ws.ActionAutosave:
			var req ws.AutosaveRequest
			if err := json.Unmarshal(msg, &req); err != nil {
				ws.WriteError(conn, "malformed autosave")
				continue
			}
			h.handleAutosave(ctx, sc, &req)
		case ws.ActionViolation:
			var req ws.ViolationRequest
			if err := json.Unmarshal(msg, &req); err != nil {
				ws.WriteError(conn, "malformed violation")
				continue
			}
			h.handleViolation(ctx, sc, &req)
		case ws.ActionPing:
			ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong})
		default:
			sc.log.Warn().Str("action", string(env.Action)).Msg("Unknown action")
			ws.WriteError(conn, "unknown action: "+string(env.Action))
		}
	}
}

// handleAutosave buffers a single answer and queues it for persistence.
func (h *WSHandler) handleAutosave(ctx context.Context, sc *streamConn, req *ws.AutosaveRequest) {
	submissionID, err := h.verify(ctx, sc, req.SubmissionID)
	if err != nil {
		ws.WriteError(sc.conn, err.Error())
		return
	}
	// Question ids are validated to keep hash fields well-formed.
	if _, err := uuid.Parse(req.QuestionID); err != nil {
		ws.WriteError(sc.conn, "invalid question_id format")
		return
	}

	err = h.sink.SaveAnswer(ctx, model.AutosaveEvent{
		SubmissionID: submissionID.String(),
		UserID:       sc.userID,
		QuestionID:   req.QuestionID,
		Value:        req.Value,
		Timestamp:    time.Now().UnixMilli(),
	})
	if err != nil {
		sc.log.Error().Err(err).Msg("Autosave buffer error")
		ws.WriteError(sc.conn, "save failed")
		return
	}
	ws.WriteTyped(sc.conn, ws.AckResponse{Event: ws.EventAck, Action: ws.ActionAutosave})
}

// handleViolation queues a violation for the audit trail.
func (h *WSHandler) handleViolation(ctx context.Context, sc *streamConn, req *ws.ViolationRequest) {
	submissionID, err := h.verify(ctx, sc, req.SubmissionID)
	if err != nil {
		ws.WriteError(sc.conn, err.Error())
		return
	}
	kind := model.ViolationKind(req.Kind)
	if kind != model.ViolationVisibilityHidden && kind != model.ViolationFullscreenExit {
		ws.WriteError(sc.conn, "unknown violation kind")
		return
	}

	err = h.sink.RecordViolation(ctx, model.ViolationEvent{
		SubmissionID: submissionID.String(),
		UserID:       sc.userID,
		Kind:         kind,
		CountAfter:   req.CountAfter,
		Timestamp:    time.Now().UnixMilli(),
	})
	if err != nil {
		sc.log.Error().Err(err).Msg("Violation queue error")
		ws.WriteError(sc.conn, "report failed")
		return
	}
	sc.log.Info().Str("kind", req.Kind).Int("count", req.CountAfter).Msg("Violation reported")
	ws.WriteTyped(sc.conn, ws.AckResponse{Event: ws.EventAck, Action: ws.ActionViolation})
}

var errNoLiveSubmission = errors.New("no live submission for this test")

// verify checks the submission is DOING and belongs to the connection's
// user and test. A positive result is cached for the connection lifetime;
// the workers re-check status when persisting.
func (h *WSHandler) verify(ctx context.Context, sc *streamConn, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errors.New("invalid submission_id format")
	}
	if sc.live[id] {
		return id, nil
	}
	sub, err := h.submissions.GetByID(ctx, id)
	if err != nil || sub.UserID != sc.userID || sub.TestID != sc.testID || sub.IsCompleted() {
		return uuid.Nil, errNoLiveSubmission
	}
	sc.live[id] = true
	return id, nil
}
