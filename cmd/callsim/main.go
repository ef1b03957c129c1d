// Command callsim plays the telephony side of a call against a running server.
// It fetches the TwiML for an incoming call, opens the media stream it names
// and streams 8kHz mu-law frames while echoing playback marks.
package main

import (
	"encoding/base64"
	"encoding/xml"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	stream "github.com/aarambh/dispatch/server/internal/websocket"
)

const (
	frameSize     = 160 // 20ms of 8kHz mu-law
	frameInterval = 20 * time.Millisecond
	bytesPerSec   = 8000
	muLawSilence  = 0xFF
)

type twimlResponse struct {
	Say     string `xml:"Say"`
	Connect struct {
		Stream struct {
			URL        string `xml:"url,attr"`
			Parameters []struct {
				Name  string `xml:"name,attr"`
				Value string `xml:"value,attr"`
			} `xml:"Parameter"`
		} `xml:"Stream"`
	} `xml:"Connect"`
}

type simulator struct {
	conn   *gws.Conn
	logger *zap.Logger

	writeMu sync.Mutex

	mu           sync.Mutex
	streamSid    string
	playbackEnds time.Time
	pendingMarks []*time.Timer
	received     []byte
	seq          int
}

func main() {
	server := flag.String("server", "http://localhost:8080", "base URL of the dispatch server")
	audioFile := flag.String("audio", "", "raw 8kHz mu-law file to stream (silence when empty)")
	duration := flag.Duration("duration", 60*time.Second, "how long to keep the call open")
	saveFile := flag.String("save", "", "write received audio to this raw mu-law file")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	callSid := "CA" + strings.ReplaceAll(uuid.NewString(), "-", "")
	streamSid := "MZ" + strings.ReplaceAll(uuid.NewString(), "-", "")

	twiml, err := fetchTwiML(*server, callSid)
	if err != nil {
		logger.Fatal("Failed to fetch TwiML", zap.Error(err))
	}
	logger.Info("Call answered", zap.String("say", twiml.Say), zap.String("stream_url", twiml.Connect.Stream.URL))

	wsURL, err := streamURL(*server, twiml.Connect.Stream.URL)
	if err != nil {
		logger.Fatal("Invalid stream URL", zap.Error(err))
	}
	params := map[string]string{}
	for _, p := range twiml.Connect.Stream.Parameters {
		params[p.Name] = p.Value
	}

	var audio []byte
	if *audioFile != "" {
		audio, err = os.ReadFile(*audioFile)
		if err != nil {
			logger.Fatal("Failed to read audio file", zap.Error(err))
		}
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	logger.Info("Connecting", zap.String("url", wsURL))
	c, _, err := gws.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		logger.Fatal("dial", zap.Error(err))
	}
	defer c.Close()

	sim := &simulator{conn: c, logger: logger, streamSid: streamSid}
	done := make(chan struct{})
	go sim.readLoop(done)

	sim.send(stream.InboundMessage{Event: stream.EventConnected})
	sim.send(stream.InboundMessage{
		Event:     stream.EventStart,
		StreamSid: streamSid,
		Start: &stream.StartPayload{
			StreamSid:        streamSid,
			CallSid:          callSid,
			Tracks:           []string{"inbound"},
			CustomParameters: params,
			MediaFormat:      stream.MediaFormat{Encoding: "audio/x-mulaw", SampleRate: bytesPerSec, Channels: 1},
		},
	})

	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()
	deadline := time.After(*duration)
	offset := 0

loop:
	for {
		select {
		case <-done:
			break loop
		case <-interrupt:
			logger.Info("interrupt")
			break loop
		case <-deadline:
			break loop
		case <-ticker.C:
			frame := nextFrame(audio, &offset)
			sim.sendMedia(frame)
		}
	}

	sim.send(stream.InboundMessage{Event: stream.EventStop, StreamSid: streamSid})
	sim.writeMu.Lock()
	err = c.WriteMessage(gws.CloseMessage, gws.FormatCloseMessage(gws.CloseNormalClosure, ""))
	sim.writeMu.Unlock()
	if err != nil {
		logger.Warn("write close", zap.Error(err))
	}
	select {
	case <-done:
	case <-time.After(time.Second):
	}

	if *saveFile != "" {
		sim.mu.Lock()
		received := sim.received
		sim.mu.Unlock()
		if err := os.WriteFile(*saveFile, received, 0o644); err != nil {
			logger.Error("Failed to save received audio", zap.Error(err))
		} else {
			logger.Info("Saved received audio", zap.String("file", *saveFile), zap.Int("bytes", len(received)))
		}
	}
}

func fetchTwiML(server, callSid string) (*twimlResponse, error) {
	form := url.Values{}
	form.Set("CallSid", callSid)
	form.Set("From", "+15550100")

	resp, err := http.PostForm(strings.TrimRight(server, "/")+"/incoming_call", form)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("incoming call rejected: %s: %s", resp.Status, string(body))
	}

	var twiml twimlResponse
	if err := xml.Unmarshal(body, &twiml); err != nil {
		return nil, fmt.Errorf("invalid TwiML: %w", err)
	}
	if twiml.Connect.Stream.URL == "" {
		return nil, fmt.Errorf("TwiML has no stream: %s", string(body))
	}
	return &twiml, nil
}

// streamURL keeps the advertised path but dials the server we were pointed at,
// since the advertised host is usually a public tunnel.
func streamURL(server, advertised string) (string, error) {
	base, err := url.Parse(server)
	if err != nil {
		return "", err
	}
	adv, err := url.Parse(advertised)
	if err != nil {
		return "", err
	}
	scheme := "ws"
	if base.Scheme == "https" {
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: base.Host, Path: adv.Path}
	return u.String(), nil
}

func nextFrame(audio []byte, offset *int) []byte {
	frame := make([]byte, frameSize)
	if len(audio) == 0 {
		for i := range frame {
			frame[i] = muLawSilence
		}
		return frame
	}
	for i := range frame {
		frame[i] = audio[*offset%len(audio)]
		*offset++
	}
	return frame
}

func (s *simulator) send(msg stream.InboundMessage) {
	s.mu.Lock()
	s.seq++
	msg.SequenceNumber = fmt.Sprint(s.seq)
	s.mu.Unlock()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteJSON(msg); err != nil {
		s.logger.Warn("write", zap.String("event", string(msg.Event)), zap.Error(err))
	}
}

func (s *simulator) sendMedia(frame []byte) {
	s.send(stream.InboundMessage{
		Event:     stream.EventMedia,
		StreamSid: s.streamSid,
		Media: &stream.MediaPayload{
			Track:   "inbound",
			Payload: base64.StdEncoding.EncodeToString(frame),
		},
	})
}

func (s *simulator) readLoop(done chan struct{}) {
	defer close(done)
	for {
		var msg stream.InboundMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			if gws.IsUnexpectedCloseError(err, gws.CloseNormalClosure, gws.CloseGoingAway) {
				s.logger.Warn("read", zap.Error(err))
			}
			return
		}

		switch msg.Event {
		case stream.EventMedia:
			s.playMedia(msg.Media)
		case stream.EventMark:
			if msg.Mark != nil {
				s.scheduleMark(msg.Mark.Name)
			}
		case stream.EventClear:
			s.clearPlayback()
		default:
			s.logger.Debug("Ignoring event", zap.String("event", string(msg.Event)))
		}
	}
}

func (s *simulator) playMedia(media *stream.MediaPayload) {
	if media == nil {
		return
	}
	audio, err := media.Decode()
	if err != nil {
		s.logger.Warn("Bad media from server", zap.Error(err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if s.playbackEnds.Before(now) {
		s.playbackEnds = now
		s.logger.Info("Operator speaking")
	}
	s.playbackEnds = s.playbackEnds.Add(time.Duration(len(audio)) * time.Second / bytesPerSec)
	s.received = append(s.received, audio...)
}

// scheduleMark echoes the mark once the audio queued before it has played
func (s *simulator) scheduleMark(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delay := time.Until(s.playbackEnds)
	if delay < 0 {
		delay = 0
	}
	timer := time.AfterFunc(delay, func() {
		s.logger.Info("Playback reached mark", zap.String("mark", name))
		s.send(stream.InboundMessage{
			Event:     stream.EventMark,
			StreamSid: s.streamSid,
			Mark:      &stream.MarkPayload{Name: name},
		})
	})
	s.pendingMarks = append(s.pendingMarks, timer)
}

func (s *simulator) clearPlayback() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger.Info("Playback cleared")
	for _, timer := range s.pendingMarks {
		timer.Stop()
	}
	s.pendingMarks = nil
	s.playbackEnds = time.Now()
}
