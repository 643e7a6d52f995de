package main

import (
	"log"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/anicoll/agile-charge-planner/cmd"
)

func main() {
	app := &cli.App{
		Name:   "agile-charge-planner",
		Usage:  "plans ev charging into the cheapest agile tariff slots and publishes it to home assistant",
		Action: cmd.ChargePlannerCommand,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "ha-url",
				EnvVars:  []string{"HA_URL"},
				Usage:    "home assistant websocket api, like ws://homeassistant.local:8123/api/websocket",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "ha-token",
				EnvVars:  []string{"HA_TOKEN"},
				Usage:    "long lived access token",
				Required: true,
			},
			&cli.BoolFlag{
				Name:    "ha-insecure",
				EnvVars: []string{"HA_INSECURE"},
				Value:   false,
			},
			&cli.DurationFlag{
				Name:    "ha-timeout",
				EnvVars: []string{"HA_TIMEOUT"},
				Value:   10 * time.Second,
			},
			&cli.StringFlag{
				Name:     "mqtt-host",
				EnvVars:  []string{"MQTT_HOST"},
				Usage:    "broker url, like tcp://mosquitto:1883",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "mqtt-user",
				EnvVars: []string{"MQTT_USER"},
				Value:   "",
			},
			&cli.StringFlag{
				Name:    "mqtt-pass",
				EnvVars: []string{"MQTT_PASS"},
				Value:   "",
			},
			&cli.StringFlag{
				Name:    "mqtt-client-id",
				EnvVars: []string{"MQTT_CLIENT_ID"},
				Value:   "agile-charge-planner",
			},
			&cli.StringFlag{
				Name:    "listen-addr",
				EnvVars: []string{"LISTEN_ADDR"},
				Value:   "0.0.0.0:8000",
			},
			&cli.StringFlag{
				Name:    "log-level",
				EnvVars: []string{"LOG_LEVEL"},
				Value:   "INFO",
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
