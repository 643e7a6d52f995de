package mqtt

import (
	"errors"
	"strings"
	"sync"
	"time"

	paho_mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gosimple/slug"
	"go.uber.org/zap"

	"github.com/anicoll/agile-charge-planner/internal/pkg/config"
	"github.com/anicoll/agile-charge-planner/internal/pkg/model"
)

const (
	payloadOnline  = "online"
	payloadOffline = "offline"

	connectTimeout = 5 * time.Second
	publishTimeout = 10 * time.Second
)

// Client is the part of paho_mqtt.Client the writer uses.
type Client interface {
	Connect() paho_mqtt.Token
	IsConnected() bool
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload any) paho_mqtt.Token
}

type service struct {
	client     Client
	prefix     string
	nodeID     string
	device     model.RegisterDevice
	mu         sync.Mutex
	configured map[string]struct{}
	logger     *zap.Logger
}

// ObjectID turns a display name into an id usable in topics and entity ids.
func ObjectID(name string) string {
	return strings.ReplaceAll(slug.Make(name), "-", "_")
}

func New(client Client, discoveryPrefix, deviceName string) *service {
	nodeID := ObjectID(deviceName)
	return &service{
		client: client,
		prefix: discoveryPrefix,
		nodeID: nodeID,
		device: model.RegisterDevice{
			Name:         deviceName,
			Identifiers:  []string{nodeID},
			Model:        "Agile Charge Planner",
			Manufacturer: "anicoll",
		},
		configured: make(map[string]struct{}),
		logger:     zap.L(), // returns the global logger.
	}
}

// NewClient builds a paho client whose will marks the planner offline.
func NewClient(cfg *config.MqttConfig, discoveryPrefix, deviceName string) paho_mqtt.Client {
	availability := BridgeAvailabilityTopic(discoveryPrefix, ObjectID(deviceName))
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = ObjectID(deviceName)
	}

	opts := paho_mqtt.NewClientOptions().
		AddBroker(cfg.Host).
		SetClientID(clientID).
		SetConnectTimeout(connectTimeout).
		SetAutoReconnect(true).
		SetWill(availability, payloadOffline, 1, true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetOnConnectHandler(func(c paho_mqtt.Client) {
		c.Publish(availability, 1, true, payloadOnline)
	})
	opts.SetConnectionLostHandler(func(_ paho_mqtt.Client, err error) {
		zap.L().Warn("mqtt connection lost", zap.Error(err))
	})
	return paho_mqtt.NewClient(opts)
}

// BridgeAvailabilityTopic is online while the planner is connected.
func BridgeAvailabilityTopic(prefix, nodeID string) string {
	return prefix + "/" + nodeID + "/availability"
}

func (s *service) Connect() error {
	token := s.client.Connect()
	res := token.WaitTimeout(connectTimeout)
	if err := token.Error(); err != nil {
		return err
	}
	if res {
		return nil
	}
	return errors.New("unable to connect in time")
}

// Close marks the planner offline and disconnects.
func (s *service) Close() {
	if !s.client.IsConnected() {
		return
	}
	token := s.client.Publish(BridgeAvailabilityTopic(s.prefix, s.nodeID), 1, true, payloadOffline)
	token.WaitTimeout(time.Second)
	s.client.Disconnect(250)
}
