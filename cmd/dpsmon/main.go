package main

import (
	"flag"
	"log"
	"os"
	"strings"

	"github.com/robotalks/minghe.go/pkg/telemetry/mqtt"
	"github.com/robotalks/minghe.go/pkg/telemetry/msgs"
)

var (
	mqttURL = "mqtt://localhost:1883/"
)

func init() {
	if val := os.Getenv("DPSD_MQTT_URL"); val != "" {
		mqttURL = val
	}
	flag.StringVar(&mqttURL, "mqtt", mqttURL, "MQTT broker URL.")
}

func main() {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds)

	q, err := mqtt.NewQueueFromURL(mqttURL)
	if err != nil {
		log.Fatalln(err)
	}

	q.Sub("#", mqtt.Handler(func(topic string, payload []byte) {
		switch {
		case strings.HasSuffix(topic, "/"+mqtt.TopicMeta):
			log.Printf("%s: %s", topic, string(payload))
		case strings.HasSuffix(topic, "/"+mqtt.TopicTelemetry):
			t, err := msgs.DecodeTelemetry(payload)
			if err != nil {
				log.Printf("%s: bad telemetry: %v", topic, err)
				return
			}
			log.Printf("%s: %s %s", topic, t.Time().Format("15:04:05.000"), t.Status())
			for _, e := range t.Errors {
				log.Printf("%s: error: %s", topic, e)
			}
		case strings.HasSuffix(topic, "/"+mqtt.TopicResult):
			r, err := msgs.DecodeCommandResult(payload)
			if err != nil {
				log.Printf("%s: bad result: %v", topic, err)
				return
			}
			log.Printf("%s: %s", topic, r.String())
		default:
			log.Printf("%s: %q", topic, payload)
		}
	}))
	if err = q.Connect(); err != nil {
		log.Fatalln(err)
	}
	<-(chan struct{})(nil)
}
