package motion

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/motiond/internal/eventbus"
)

// MQTTSource subscribes to an occupancy topic (zigbee2mqtt style) and
// publishes a motion event whenever the sensor reports occupancy.
type MQTTSource struct {
	broker   string
	topic    string
	clientID string
	bus      *eventbus.Bus
	cli      mqtt.Client
}

// occupancyPayload is the zigbee2mqtt occupancy report shape; extra fields
// are ignored.
type occupancyPayload struct {
	Occupancy bool `json:"occupancy"`
}

// NewMQTTSource creates a new MQTT motion source.
func NewMQTTSource(broker, topic, clientID string, bus *eventbus.Bus) *MQTTSource {
	return &MQTTSource{
		broker:   broker,
		topic:    topic,
		clientID: clientID,
		bus:      bus,
	}
}

// Start connects to the broker and subscribes to the occupancy topic.
// Reconnects are handled by the MQTT client itself.
func (s *MQTTSource) Start(ctx context.Context) error {
	server, user, err := brokerServer(s.broker)
	if err != nil {
		return err
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(server)
	opts.SetClientID(s.clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.OnConnect = func(c mqtt.Client) {
		log.Info().Str("broker", server).Msg("MQTT connected")
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	}
	if user != nil {
		pw, _ := user.Password()
		opts.SetUsername(user.Username())
		opts.SetPassword(pw)
	}

	s.cli = mqtt.NewClient(opts)
	if t := s.cli.Connect(); t.Wait() && t.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", t.Error())
	}

	if t := s.cli.Subscribe(s.topic, 0, s.handleMessage); t.Wait() && t.Error() != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", s.topic, t.Error())
	}
	log.Info().Str("topic", s.topic).Msg("MQTT occupancy source subscribed")

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	return nil
}

// handleMessage turns occupancy reports into motion events. Sensor clear
// reports (occupancy false) are ignored: the controller's own idle window
// decides when the room is empty.
func (s *MQTTSource) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	if !isOccupied(msg.Payload()) {
		return
	}

	log.Debug().Str("topic", msg.Topic()).Msg("Occupancy reported")

	s.bus.Publish(eventbus.Event{
		Type: eventbus.EventTypeMotion,
		Data: map[string]interface{}{
			"source": "mqtt",
			"topic":  msg.Topic(),
			"at":     time.Now().UTC(),
		},
	})
}

// isOccupied parses either a zigbee2mqtt JSON report or a bare ON/true/1
// payload from simpler PIR firmwares.
func isOccupied(payload []byte) bool {
	var report occupancyPayload
	if err := json.Unmarshal(payload, &report); err == nil {
		return report.Occupancy
	}

	switch strings.ToUpper(strings.TrimSpace(string(payload))) {
	case "ON", "TRUE", "1":
		return true
	}
	return false
}

// Close disconnects from the broker.
func (s *MQTTSource) Close() {
	if s.cli != nil && s.cli.IsConnected() {
		s.cli.Disconnect(250)
	}
}

// brokerServer maps a broker URL to the paho server string and extracts
// credentials.
func brokerServer(broker string) (string, *url.Userinfo, error) {
	u, err := url.Parse(broker)
	if err != nil {
		return "", nil, fmt.Errorf("invalid MQTT broker URL %q: %w", broker, err)
	}

	server := u.Host
	switch u.Scheme {
	case "mqtt", "tcp", "":
		server = "tcp://" + server
	case "ssl", "tls":
		server = "ssl://" + server
	case "ws", "wss":
		server = u.Scheme + "://" + server + u.Path
	default:
		return "", nil, fmt.Errorf("unsupported MQTT scheme %q", u.Scheme)
	}

	return server, u.User, nil
}
