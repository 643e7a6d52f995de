package model

type RegisterDevice struct {
	Name         string   `json:"name"`
	Identifiers  []string `json:"identifiers"`
	Model        string   `json:"model"`
	Manufacturer string   `json:"manufacturer"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

type Availability struct {
	Topic string `json:"topic"`
}

// RegisterMessage is a home assistant MQTT discovery config payload.
type RegisterMessage struct {
	Tilda             string         `json:"~"`
	Name              string         `json:"name"`
	ID                string         `json:"unique_id"`
	ObjectID          string         `json:"object_id"`
	StateTopic        string         `json:"state_topic"`
	AttributesTopic   string         `json:"json_attributes_topic"`
	Availability      []Availability `json:"availability"`
	AvailabilityMode  string         `json:"availability_mode"`
	Icon              string         `json:"icon,omitempty"`
	UnitOfMeasurement string         `json:"unit_of_measurement,omitempty"`
	DeviceClass       string         `json:"device_class,omitempty"`
	PayloadOn         string         `json:"payload_on,omitempty"`
	PayloadOff        string         `json:"payload_off,omitempty"`
	Device            RegisterDevice `json:"device"`
}

type Component string

const (
	SensorComponent       Component = "sensor"
	BinarySensorComponent Component = "binary_sensor"
)

const (
	StateUnavailable = "unavailable"
	StateOn          = "on"
	StateOff         = "off"
)

// SensorState is one rendered output sensor.
type SensorState struct {
	ObjectID    string         `json:"object_id"`
	Component   Component      `json:"component"`
	Name        string         `json:"name"`
	Icon        string         `json:"icon"`
	Unit        string         `json:"unit_of_measurement,omitempty"`
	DeviceClass string         `json:"device_class,omitempty"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
}

// Available is false when the state is the host's unavailable marker.
func (s SensorState) Available() bool {
	return s.State != StateUnavailable
}

// EntityID is the id the host assigns, like sensor.ev_charging_cheapest_cost.
func (s SensorState) EntityID() string {
	return string(s.Component) + "." + s.ObjectID
}
