package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/twilio/twilio-go/client"
	"github.com/twilio/twilio-go/twiml"
	"go.uber.org/zap"

	"github.com/aarambh/dispatch/server/internal/websocket"
)

// SpokenGreeting is the opening line read out before the media stream connects
const SpokenGreeting = "9 1 1, what is your emergency?"

const (
	mediaStreamPath    = "/audio_stream"
	twilioSignatureKey = "X-Twilio-Signature"
)

// StreamTokenIssuer mints the token a media stream presents when it starts
type StreamTokenIssuer interface {
	GenerateStreamToken(callSid string) (string, error)
}

// TwilioConfig configures the telephony webhook
type TwilioConfig struct {
	// PublicHost is the externally reachable host name, used in the stream URL
	// and for signature validation. Empty means the request's Host header.
	PublicHost string
	// AuthToken enables X-Twilio-Signature validation when set
	AuthToken string
}

type twilioHandler struct {
	config    TwilioConfig
	tokens    StreamTokenIssuer
	validator *client.RequestValidator
	logger    *zap.Logger
}

func newTwilioHandler(config TwilioConfig, tokens StreamTokenIssuer, logger *zap.Logger) *twilioHandler {
	h := &twilioHandler{config: config, tokens: tokens, logger: logger}
	if config.AuthToken != "" {
		validator := client.NewRequestValidator(config.AuthToken)
		h.validator = &validator
	} else {
		logger.Warn("TWILIO_AUTH_TOKEN not set, webhook signatures are not validated")
	}
	return h
}

// incomingCall answers a call with the greeting and connects its audio to the media stream endpoint
func (h *twilioHandler) incomingCall(c echo.Context) error {
	if !h.validSignature(c) {
		h.logger.Warn("Rejected webhook with invalid signature", zap.String("remote_ip", c.RealIP()))
		return c.JSON(http.StatusForbidden, ErrorResponse{
			Error:   "invalid_signature",
			Message: "Request signature could not be verified",
		})
	}

	callSid := c.FormValue("CallSid")

	stream := &twiml.VoiceStream{
		Url: "wss://" + h.host(c) + mediaStreamPath,
	}
	if h.tokens != nil {
		if callSid == "" {
			return c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "missing_fields",
				Message: "CallSid is required",
			})
		}
		token, err := h.tokens.GenerateStreamToken(callSid)
		if err != nil {
			h.logger.Error("Failed to generate stream token", zap.String("callSid", callSid), zap.Error(err))
			return c.JSON(http.StatusInternalServerError, ErrorResponse{
				Error:   "token_generation_failed",
				Message: "Failed to generate stream token",
			})
		}
		stream.InnerElements = []twiml.Element{
			&twiml.VoiceParameter{Name: websocket.StreamTokenParameter, Value: token},
		}
	}

	say := &twiml.VoiceSay{Message: SpokenGreeting}
	connect := &twiml.VoiceConnect{InnerElements: []twiml.Element{stream}}

	result, err := twiml.Voice([]twiml.Element{say, connect})
	if err != nil {
		h.logger.Error("Failed to render TwiML", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "twiml_failed",
			Message: "Failed to build call instructions",
		})
	}

	h.logger.Info("Incoming call answered",
		zap.String("callSid", callSid),
		zap.String("from", c.FormValue("From")))

	return c.Blob(http.StatusOK, echo.MIMEApplicationXMLCharsetUTF8, []byte(result))
}

func (h *twilioHandler) validSignature(c echo.Context) bool {
	if h.validator == nil {
		return true
	}

	signature := c.Request().Header.Get(twilioSignatureKey)
	if signature == "" {
		return false
	}

	url := h.publicURL(c)
	params := map[string]string{}
	if c.Request().Method == http.MethodPost {
		form, err := c.FormParams()
		if err != nil {
			return false
		}
		for key := range form {
			params[key] = form.Get(key)
		}
	}
	return h.validator.Validate(url, params, signature)
}

func (h *twilioHandler) host(c echo.Context) string {
	if h.config.PublicHost != "" {
		return h.config.PublicHost
	}
	return c.Request().Host
}

func (h *twilioHandler) publicURL(c echo.Context) string {
	scheme := c.Scheme()
	if h.config.PublicHost != "" {
		scheme = "https"
	}
	return scheme + "://" + strings.TrimSuffix(h.host(c), "/") + c.Request().RequestURI
}
