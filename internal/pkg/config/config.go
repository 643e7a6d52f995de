package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
	_ "time/tzdata" // zone lookups must work in scratch images.

	"github.com/caarlos0/env/v11"
	"github.com/robfig/cron/v3"
)

type Config struct {
	HomeAssistantCfg *HomeAssistantConfig
	MqttCfg          *MqttConfig
	Entities         EntityConfig
	Schedule         ScheduleConfig
	ListenAddr       string
	LogLevel         string
}

type HomeAssistantConfig struct {
	URL                string // websocket url, like ws://homeassistant.local:8123/api/websocket
	Token              string
	InsecureSkipVerify bool
	Timeout            time.Duration
}

type MqttConfig struct {
	Host     string
	Username string
	Password string
	ClientID string
}

// EntityConfig names the host entities read on every run.
type EntityConfig struct {
	ReadyBy       string `env:"READY_BY_ENTITY" envDefault:"input_datetime.ev_charger_ready_by"`
	ChargingHours string `env:"CHARGING_HOURS_ENTITY" envDefault:"input_number.car_charging_hours_required"`
	CurrentRates  string `env:"CURRENT_DAY_RATES_ENTITY,required"`
	NextRates     string `env:"NEXT_DAY_RATES_ENTITY,required"`
	PreviousRates string `env:"PREVIOUS_DAY_RATES_ENTITY,required"`
	Predicted     string `env:"AGILE_PREDICT_ENTITY" envDefault:"sensor.agile_predict"`
}

type ScheduleConfig struct {
	TimeZone       string        `env:"TIME_ZONE" envDefault:"Europe/London"`
	ChargingCron   string        `env:"CHARGING_SCHEDULE_CRON" envDefault:"*/5 * * * *"`
	ForecastCron   string        `env:"FORECAST_CRON" envDefault:"10 * * * *"`
	Cutoff         time.Duration `env:"PUBLICATION_CUTOFF" envDefault:"16h"`
	ChangeWindow   time.Duration `env:"INPUT_CHANGE_WINDOW" envDefault:"1m"`
	DeviceName     string        `env:"DEVICE_NAME" envDefault:"Agile Charge Planner"`
	DiscoveryTopic string        `env:"DISCOVERY_PREFIX" envDefault:"homeassistant"`
}

// LoadEnv fills the entity and schedule settings from the environment.
func (c *Config) LoadEnv() error {
	if err := env.Parse(&c.Entities); err != nil {
		return fmt.Errorf("entity config: %w", err)
	}
	if err := env.Parse(&c.Schedule); err != nil {
		return fmt.Errorf("schedule config: %w", err)
	}
	return nil
}

// Location is the zone cron specs and wall clock inputs are read in.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Schedule.TimeZone)
}

func (c *Config) Validate() error {
	var errs []error
	if c.HomeAssistantCfg == nil || c.HomeAssistantCfg.URL == "" {
		errs = append(errs, errors.New("home assistant url is required"))
	} else if u, err := url.Parse(c.HomeAssistantCfg.URL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		errs = append(errs, fmt.Errorf("home assistant url %q must be a ws:// or wss:// url", c.HomeAssistantCfg.URL))
	}
	if c.HomeAssistantCfg != nil && c.HomeAssistantCfg.Token == "" {
		errs = append(errs, errors.New("home assistant token is required"))
	}
	if c.MqttCfg == nil || c.MqttCfg.Host == "" {
		errs = append(errs, errors.New("mqtt host is required"))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, fmt.Errorf("time zone: %w", err))
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	for name, spec := range map[string]string{
		"charging schedule cron": c.Schedule.ChargingCron,
		"forecast cron":          c.Schedule.ForecastCron,
	} {
		if _, err := parser.Parse(spec); err != nil {
			errs = append(errs, fmt.Errorf("%s %q: %w", name, spec, err))
		}
	}
	if c.Schedule.Cutoff < 0 || c.Schedule.Cutoff >= 24*time.Hour {
		errs = append(errs, fmt.Errorf("publication cutoff %s must be within a day", c.Schedule.Cutoff))
	}
	if c.Schedule.ChangeWindow < 0 {
		errs = append(errs, fmt.Errorf("input change window %s must not be negative", c.Schedule.ChangeWindow))
	}
	return errors.Join(errs...)
}
