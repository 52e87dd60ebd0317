package main

import (
	"context"
	"errors"
	"sync"

	"github.com/danmuck/blimpws/internal/protocol/schema"
	"github.com/danmuck/blimpws/internal/protocol/session"
	"github.com/rs/zerolog"
)

// station is the ground-side handler: it logs every vehicle message and
// answers an interest declaration with the latest known readings.
type station struct {
	logger zerolog.Logger

	mu       sync.Mutex
	readings readings
}

type readings struct {
	motors  []schema.MotorSpeed
	servos  []schema.ServoPosition
	sensors []schema.SensorData
}

func newStation(logger zerolog.Logger) *station {
	return &station{
		logger: logger,
		readings: readings{
			motors:  []schema.MotorSpeed{{ID: 0}, {ID: 1}},
			servos:  []schema.ServoPosition{{ID: 0}, {ID: 1}},
			sensors: []schema.SensorData{{ID: "barometer", Data: 1013.25}},
		},
	}
}

func (s *station) Handle(ctx context.Context, sess *session.Session) {
	log := s.logger.With().Uint64("session", sess.ID()).Str("subprotocol", sess.Subprotocol().String()).Logger()
	log.Info().Str("remote", sess.RemoteAddr()).Msg("groundctl.station.Handle connected")
	for {
		msg, err := session.Receive[schema.VehicleMessage](sess)
		if err != nil {
			if errors.Is(err, session.ErrConnectionClosed) || errors.Is(err, session.ErrStreamExhausted) {
				log.Info().Msg("groundctl.station.Handle disconnected")
			} else {
				log.Warn().Err(err).Msg("groundctl.station.Handle recv failed")
			}
			return
		}
		if err := msg.Validate(); err != nil {
			log.Warn().Err(err).Msg("groundctl.station.Handle invalid message")
			continue
		}
		log.Info().Str("kind", msg.Kind()).Interface("message", msg).Msg("groundctl.station.Handle received")

		switch {
		case msg.Controls != nil:
			s.applyControls(*msg.Controls)
		case msg.DeclareInterest != nil:
			for _, report := range s.snapshot(*msg.DeclareInterest) {
				if err := sess.Send(report); err != nil {
					log.Warn().Err(err).Msg("groundctl.station.Handle send failed")
					return
				}
			}
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// applyControls maps throttle onto both motors and yaw onto the servos.
func (s *station) applyControls(c schema.Controls) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.readings.motors {
		s.readings.motors[i].Speed = c.Throttle
	}
	for i := range s.readings.servos {
		s.readings.servos[i].Angle = int16(clamp(c.Yaw, -90, 90))
	}
}

func (s *station) snapshot(interest schema.VizInterest) []schema.GroundMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []schema.GroundMessage
	if interest.Motors {
		for _, m := range s.readings.motors {
			out = append(out, schema.ReportMotorSpeed(m.ID, m.Speed))
		}
	}
	if interest.Servos {
		for _, sv := range s.readings.servos {
			out = append(out, schema.ReportServoPosition(sv.ID, sv.Angle))
		}
	}
	if interest.Sensors {
		for _, sd := range s.readings.sensors {
			out = append(out, schema.ReportSensorData(sd.ID, sd.Data))
		}
	}
	return out
}

func clamp(v, lo, hi int32) int32 {
	return max(lo, min(v, hi))
}
