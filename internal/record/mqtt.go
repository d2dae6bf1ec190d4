package record

import (
	"encoding/json"
	"math"
	"time"

	"codeberg.org/mutker/thrustbench/internal/errors"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	publishTimeout  = 2 * time.Second
	disconnectQuiet = 250
)

// publisher is the part of an MQTT client the sink needs.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTSink publishes each row as JSON on a topic and calibrations on
// <topic>/calibration.
type MQTTSink struct {
	client publisher
	topic  string
}

// DialMQTT connects to broker and returns a sink publishing on topic.
func DialMQTT(broker, clientID, topic string) (*MQTTSink, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, errors.New().Wrap(ErrConnect, token.Error()).WithData(broker)
	}

	return &MQTTSink{client: client, topic: topic}, nil
}

type rowPayload struct {
	Timestamp     float64    `json:"timestamp"`
	Throttle      int        `json:"throttle"`
	Thrust        *float64   `json:"thrust"`
	Channels      []*float64 `json:"channels"`
	Voltage       float64    `json:"voltage"`
	Current       float64    `json:"current"`
	Temperature   uint8      `json:"temperature"`
	ConsumedMAh   float64    `json:"consumed_mah"`
	ElectricalRPM float64    `json:"erpm"`
	Omega         float64    `json:"omega"`
}

type calibrationPayload struct {
	Timestamp   float64  `json:"timestamp"`
	Channel     string   `json:"channel"`
	Gradient    float64  `json:"gradient"`
	Offset      *float64 `json:"offset"`
	NoiseStdDev *float64 `json:"noise_stdev"`
	Samples     int      `json:"samples"`
}

// finite maps NaN and infinities to JSON null.
func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func (s *MQTTSink) Write(row Row) error {
	p := rowPayload{
		Timestamp:     unixSeconds(row.Timestamp),
		Throttle:      row.Throttle,
		Thrust:        finite(row.Thrust),
		Channels:      make([]*float64, len(row.Channels)),
		Voltage:       row.Voltage,
		Current:       row.Current,
		Temperature:   row.Temperature,
		ConsumedMAh:   row.ConsumedMAh,
		ElectricalRPM: row.ElectricalRPM,
		Omega:         row.Omega,
	}
	for i, v := range row.Channels {
		p.Channels[i] = finite(v)
	}

	return s.publish(s.topic, p)
}

func (s *MQTTSink) WriteCalibration(entries []CalibrationEntry) error {
	payload := make([]calibrationPayload, len(entries))
	for i, e := range entries {
		payload[i] = calibrationPayload{
			Timestamp:   unixSeconds(e.Timestamp),
			Channel:     e.Channel,
			Gradient:    e.Gradient,
			Offset:      finite(e.Offset),
			NoiseStdDev: finite(e.NoiseStdDev),
			Samples:     e.Samples,
		}
	}

	return s.publish(s.topic+"/calibration", payload)
}

func (s *MQTTSink) Close() error {
	s.client.Disconnect(disconnectQuiet)
	return nil
}

func (s *MQTTSink) publish(topic string, v any) error {
	errFactory := errors.New()

	payload, err := json.Marshal(v)
	if err != nil {
		return errFactory.Wrap(ErrEncode, err)
	}

	token := s.client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return errFactory.WithData(ErrPublish, topic)
	}
	if err := token.Error(); err != nil {
		return errFactory.Wrap(ErrPublish, err).WithData(topic)
	}

	return nil
}
