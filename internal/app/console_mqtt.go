// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"io"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/relabs-tech/ground_station/internal/config"
	"github.com/relabs-tech/ground_station/internal/frame"
	"github.com/relabs-tech/ground_station/internal/sink"
)

// RunConsoleMQTT prints every frame the station mirrors to MQTT until ctx is
// cancelled.
func RunConsoleMQTT(ctx context.Context, cfg *config.Config, out io.Writer, logger *zap.Logger) error {
	log := logger.Named("console")
	if cfg.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is not configured")
	}

	client, err := sink.ConnectMQTT(cfg.MQTTBroker, cfg.MQTTClientID+"-console")
	if err != nil {
		return err
	}
	defer client.Disconnect(250)
	log.Info("connected to MQTT broker", zap.String("broker", cfg.MQTTBroker))

	parser := frame.NewParser(frame.FormatJSON, "", false)
	token := client.Subscribe(cfg.TopicFrame, 0, func(_ mqtt.Client, msg mqtt.Message) {
		line, err := FormatFrame(parser, msg.Payload())
		if err != nil {
			log.Warn("frame decode error", zap.Error(err))
			return
		}
		fmt.Fprintln(out, line)
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Info("subscribed", zap.String("topic", cfg.TopicFrame))

	<-ctx.Done()
	log.Info("shutting down")
	return nil
}

// FormatFrame renders a mirrored frame as one console line.
func FormatFrame(p *frame.Parser, payload []byte) (string, error) {
	u, err := p.Parse(string(payload))
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("[FRAME]")
	for _, pair := range u.Pairs() {
		fmt.Fprintf(&b, " %s=%s", pair.Key, pair.Value)
	}
	return b.String(), nil
}
