package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/aarambh/dispatch/server/domain"
	"github.com/aarambh/dispatch/server/domain/entities"
)

const serviceName = "dispatch-server"

// IntakeService is the text chat and session surface of the intake use case
type IntakeService interface {
	HandleChat(ctx context.Context, msg domain.ChatMessage) (*domain.ChatReply, error)
	GetSession(ctx context.Context, id string) (*entities.Session, error)
	CloseSession(ctx context.Context, id string) error
}

// MediaStreamHandler serves the telephony media stream websocket
type MediaStreamHandler interface {
	HandleMediaStream(c echo.Context) error
	ActiveCalls() int
}

// InitRoutes initializes all API routes. tokens may be nil when stream authentication is off.
func InitRoutes(e *echo.Echo, intake IntakeService, media MediaStreamHandler, tokens StreamTokenIssuer, twilio TwilioConfig, logger *zap.Logger) {
	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, HealthResponse{
			Status:      "ok",
			Service:     serviceName,
			ActiveCalls: media.ActiveCalls(),
		})
	})

	// Telephony webhook and media stream
	calls := newTwilioHandler(twilio, tokens, logger)
	e.GET("/incoming_call", calls.incomingCall)
	e.POST("/incoming_call", calls.incomingCall)
	e.GET(mediaStreamPath, media.HandleMediaStream)

	// API v1 routes
	v1 := e.Group("/api/v1")

	v1.POST("/chat", func(c echo.Context) error {
		return chat(c, intake, logger)
	})
	v1.GET("/sessions/:id", func(c echo.Context) error {
		return getSession(c, intake)
	})
	v1.DELETE("/sessions/:id", func(c echo.Context) error {
		return closeSession(c, intake, logger)
	})
}

func chat(c echo.Context, intake IntakeService, logger *zap.Logger) error {
	var req domain.ChatMessage
	if err := c.Bind(&req); err != nil {
		logger.Error("Failed to bind chat request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	if strings.TrimSpace(req.Message) == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "Message is required",
		})
	}

	reply, err := intake.HandleChat(c.Request().Context(), req)
	var capErr *domain.CapabilityError
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, reply)

	case errors.Is(err, domain.ErrSessionComplete):
		return c.JSON(http.StatusConflict, SessionCompleteResponse{
			ErrorResponse: ErrorResponse{
				Error:   "session_complete",
				Message: "The incident report for this session is already complete",
			},
			ChatReply: reply,
		})

	case errors.Is(err, domain.ErrSessionChannel):
		return c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "session_conflict",
			Message: "This session id belongs to a phone call",
		})

	case errors.As(err, &capErr):
		logger.Error("Intake cycle failed",
			zap.String("session_id", req.SessionID),
			zap.String("stage", capErr.Stage),
			zap.Error(err))
		return c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "capability_failed",
			Message: "The " + capErr.Stage + " service failed, please retry",
		})

	default:
		logger.Error("Chat request failed", zap.String("session_id", req.SessionID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to process message",
		})
	}
}

func getSession(c echo.Context, intake IntakeService) error {
	session, err := intake.GetSession(c.Request().Context(), c.Param("id"))
	if errors.Is(err, domain.ErrSessionNotFound) {
		return c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: "Session not found",
		})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to load session",
		})
	}
	return c.JSON(http.StatusOK, session)
}

func closeSession(c echo.Context, intake IntakeService, logger *zap.Logger) error {
	id := c.Param("id")
	err := intake.CloseSession(c.Request().Context(), id)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: "Session not found",
		})
	}
	if err != nil {
		logger.Error("Failed to close session", zap.String("session_id", id), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to close session",
		})
	}
	return c.NoContent(http.StatusNoContent)
}
