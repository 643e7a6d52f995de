package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/anicoll/agile-charge-planner/internal/pkg/model"
)

func (s *service) baseTopic(sensor model.SensorState) string {
	return fmt.Sprintf("%s/%s/%s/%s", s.prefix, sensor.Component, s.nodeID, ObjectID(sensor.ObjectID))
}

// Write publishes discovery config the first time a sensor is seen, then its
// availability, attributes and state. All messages are retained so the host
// picks them up after a restart.
func (s *service) Write(ctx context.Context, sensors []model.SensorState) error {
	var errs []error
	for _, sensor := range sensors {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.RegisterSensor(sensor); err != nil {
			errs = append(errs, fmt.Errorf("register %s: %w", sensor.EntityID(), err))
			continue
		}
		if err := s.PublishData(sensor); err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", sensor.EntityID(), err))
		}
	}
	return errors.Join(errs...)
}

func (s *service) RegisterSensor(sensor model.SensorState) error {
	key := sensor.EntityID()
	s.mu.Lock()
	_, exists := s.configured[key]
	s.mu.Unlock()
	if exists {
		return nil
	}

	payload, err := json.Marshal(s.registerMsg(sensor))
	if err != nil {
		return err
	}
	topic := s.baseTopic(sensor) + "/config"
	if err := s.publish(topic, payload); err != nil {
		return err
	}

	s.mu.Lock()
	s.configured[key] = struct{}{}
	s.mu.Unlock()
	s.logger.Info("registered sensor", zap.String("entity_id", key), zap.String("topic", topic))
	return nil
}

func (s *service) PublishData(sensor model.SensorState) error {
	base := s.baseTopic(sensor)

	availability := payloadOnline
	if !sensor.Available() {
		availability = payloadOffline
	}
	if err := s.publish(base+"/availability", []byte(availability)); err != nil {
		return err
	}

	attributes := sensor.Attributes
	if attributes == nil {
		attributes = map[string]any{}
	}
	payload, err := json.Marshal(attributes)
	if err != nil {
		return err
	}
	if err := s.publish(base+"/attributes", payload); err != nil {
		return err
	}

	// an offline sensor keeps its last state, the host shows it as unavailable.
	if !sensor.Available() {
		return nil
	}
	return s.publish(base+"/state", []byte(sensor.State))
}

func (s *service) publish(topic string, payload []byte) error {
	token := s.client.Publish(topic, 1, true, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("timed out publishing to %s", topic)
	}
	return token.Error()
}

func (s *service) registerMsg(sensor model.SensorState) model.RegisterMessage {
	objectID := ObjectID(sensor.ObjectID)
	msg := model.RegisterMessage{
		Tilda:           s.baseTopic(sensor),
		Name:            sensor.Name,
		ID:              s.nodeID + "_" + objectID,
		ObjectID:        objectID,
		StateTopic:      "~/state",
		AttributesTopic: "~/attributes",
		Availability: []model.Availability{
			{Topic: BridgeAvailabilityTopic(s.prefix, s.nodeID)},
			{Topic: "~/availability"},
		},
		AvailabilityMode:  "all",
		Icon:              sensor.Icon,
		UnitOfMeasurement: sensor.Unit,
		DeviceClass:       sensor.DeviceClass,
		Device:            s.device,
	}
	if sensor.Component == model.BinarySensorComponent {
		msg.PayloadOn = model.StateOn
		msg.PayloadOff = model.StateOff
	}
	return msg
}
