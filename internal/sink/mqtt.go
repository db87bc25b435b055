// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sink

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/relabs-tech/ground_station/internal/frame"
	"github.com/relabs-tech/ground_station/internal/schema"
)

const publishTimeout = 5 * time.Second

// Publisher is the part of mqtt.Client the mirror needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTMirror publishes every committed frame as a retained JSON object.
type MQTTMirror struct {
	pub   Publisher
	topic string
	names []string
	log   *zap.Logger
}

func NewMQTTMirror(pub Publisher, topic string, s *schema.Schema, logger *zap.Logger) *MQTTMirror {
	return &MQTTMirror{pub: pub, topic: topic, names: s.Names(), log: logger.Named("mqtt")}
}

// ConnectMQTT connects a client to broker.
func ConnectMQTT(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to MQTT broker %s: %w", broker, token.Error())
	}
	return client, nil
}

func (m *MQTTMirror) Name() string { return "mqtt" }

// Handle publishes the row and waits for the broker to accept it.
func (m *MQTTMirror) Handle(ev Event) error {
	payload, err := EncodeFrame(m.names, ev.Row)
	if err != nil {
		return err
	}
	token := m.pub.Publish(m.topic, 0, true, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish to %s timed out", m.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", m.topic, err)
	}
	m.log.Debug("published frame", zap.String("topic", m.topic), zap.Int("bytes", len(payload)))
	return nil
}

// EncodeFrame renders a row as a JSON object whose keys follow the schema
// order. The frame parser reads it back in the same order.
func EncodeFrame(names []string, row frame.Row) ([]byte, error) {
	if len(names) != len(row) {
		return nil, fmt.Errorf("row has %d values, schema has %d columns", len(row), len(names))
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range names {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(row[i])
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
