package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/aspen/internal/session"
	"github.com/ent0n29/aspen/internal/source"
	"github.com/ent0n29/aspen/internal/telephony"
)

const (
	mediaReadTimeout  = 60 * time.Second
	mediaWriteTimeout = 10 * time.Second
	runnerDrainWait   = 5 * time.Second
)

// handleIncomingCall answers the telephony webhook with TwiML that connects the
// call to /media-stream on this host.
func (s *Server) handleIncomingCall(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		s.callEvent("rejected")
		respondError(w, http.StatusTooManyRequests, "rate_limited", "too many incoming calls")
		return
	}
	host := s.cfg.PublicHost
	if host == "" {
		host = r.Host
	}
	body, err := telephony.ConnectStreamTwiML(telephony.StreamURL(host, "/media-stream"), "")
	if err != nil {
		respondError(w, http.StatusInternalServerError, "twiml_failed", err.Error())
		return
	}
	s.callEvent("incoming")
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) handleMediaStream(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "call runner not configured")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.callEvent("ws_connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, 256)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(mediaWriteTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					s.log.Debug().Err(err).Msg("media stream write failed")
					cancel()
					return
				}
				s.observeMessage("outbound", msg)
			}
		}
	}()

	out := telephony.NewOutput(func(ctx context.Context, msg any) error {
		select {
		case outbound <- msg:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	var (
		call    *session.Call
		in      *source.Stream
		runDone chan struct{}
	)

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(mediaReadTimeout))

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(mediaReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		msg, err := telephony.ParseInbound(data)
		if err != nil {
			if !errors.Is(err, telephony.ErrUnsupportedEvent) {
				s.log.Debug().Err(err).Msg("invalid media stream message")
			}
			continue
		}
		s.observeMessage("inbound", msg)

		switch m := msg.(type) {
		case telephony.Start:
			if call != nil {
				continue
			}
			in, err = source.NewStream(telephony.SampleRate, "telephony")
			if err != nil {
				s.log.Error().Err(err).Msg("create media source")
				break readLoop
			}
			out.Bind(m.StreamSID)
			call = s.sessions.Create("twilio", m.StreamSID, m.Start.CallSID)
			s.callEvent("started")
			log := s.log.With().Str("call_id", call.ID).Str("stream_sid", m.StreamSID).Logger()
			log.Info().Str("call_sid", m.Start.CallSID).Msg("call connected")

			runDone = make(chan struct{})
			go func(call *session.Call, in *source.Stream) {
				defer close(runDone)
				if err := s.runner.RunCall(ctx, call, in, out); err != nil && !errors.Is(err, context.Canceled) {
					log.Error().Err(err).Msg("call pipeline failed")
					_ = conn.Close()
				}
			}(call, in)
		case telephony.Media:
			if in == nil {
				continue
			}
			samples, err := telephony.DecodeMedia(m)
			if err != nil {
				s.log.Debug().Err(err).Msg("invalid media payload")
				continue
			}
			in.Write(samples)
			_ = s.sessions.Touch(call.ID)
		case telephony.Stop:
			break readLoop
		}
	}

	if in != nil {
		in.Close()
	}
	if runDone != nil {
		select {
		case <-runDone:
		case <-time.After(runnerDrainWait):
			cancel()
			<-runDone
		}
	}
	cancel()
	<-writerDone

	if call != nil {
		if ended, err := s.sessions.End(call.ID); err == nil {
			s.log.Info().
				Str("call_id", ended.ID).
				Int("turns", ended.TurnCount).
				Int("interruptions", ended.InterruptionCount).
				Msg("call closed")
		}
		s.callEvent("ended")
	}
	s.callEvent("ws_disconnected")
}

func (s *Server) observeMessage(direction string, msg any) {
	if s.metrics == nil {
		return
	}
	if t, ok := eventTypeOf(msg); ok {
		s.metrics.WSMessages.WithLabelValues(direction, string(t)).Inc()
	}
}

func eventTypeOf(v any) (telephony.EventType, bool) {
	switch m := v.(type) {
	case telephony.Connected:
		return m.Event, true
	case telephony.Start:
		return m.Event, true
	case telephony.Media:
		return m.Event, true
	case telephony.Mark:
		return m.Event, true
	case telephony.DTMF:
		return m.Event, true
	case telephony.Stop:
		return m.Event, true
	case telephony.Clear:
		return m.Event, true
	default:
		return "", false
	}
}
