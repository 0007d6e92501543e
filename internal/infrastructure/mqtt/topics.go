package mqtt

import (
	"strings"

	"github.com/smartfarm/farmbridge/internal/telemetry"
)

// Topic layout of the farm network. Devices publish under smartfarm/sensors
// and smartfarm/actuators; the bridge publishes commands on the actuator
// topics and its last will on smartfarm/status.
const (
	// TopicRoot is the base of every farm topic.
	TopicRoot = "smartfarm"

	// TopicSensorPrefix prefixes every sensor topic.
	TopicSensorPrefix = TopicRoot + "/sensors/"

	// TopicActuatorPrefix prefixes every actuator topic.
	TopicActuatorPrefix = TopicRoot + "/actuators/"

	// TopicStatus carries device online/offline announcements.
	TopicStatus = TopicRoot + "/status"

	// TopicSensorsAll carries the combined reading of every sensor.
	TopicSensorsAll = TopicSensorPrefix + "all"

	// TopicActuatorsAll addresses every actuator at once. Publish only.
	TopicActuatorsAll = TopicActuatorPrefix + "all"
)

// SensorTopic returns the topic for a single sensor kind.
//
// Example: smartfarm/sensors/ph
func SensorTopic(kind telemetry.SensorKind) string {
	return TopicSensorPrefix + string(kind)
}

// ActuatorTopic returns the command/state topic for an actuator.
//
// Example: smartfarm/actuators/fan1
func ActuatorTopic(kind telemetry.ActuatorKind) string {
	return TopicActuatorPrefix + string(kind)
}

// SubscriptionTopics returns the fixed set of topics subscribed on every
// successful connect: each sensor, the combined sensor topic, each
// actuator and the status topic.
func SubscriptionTopics() []string {
	topics := make([]string, 0, len(telemetry.SensorKinds)+len(telemetry.ActuatorKinds)+2)
	for _, k := range telemetry.SensorKinds {
		topics = append(topics, SensorTopic(k))
	}
	topics = append(topics, TopicSensorsAll)
	for _, k := range telemetry.ActuatorKinds {
		topics = append(topics, ActuatorTopic(k))
	}
	return append(topics, TopicStatus)
}

// PublishTopics returns every topic the bridge accepts for outbound
// messages: the subscription set plus smartfarm/actuators/all.
func PublishTopics() []string {
	return append(SubscriptionTopics(), TopicActuatorsAll)
}

// IsKnownTopic reports whether topic is one of PublishTopics.
func IsKnownTopic(topic string) bool {
	for _, t := range PublishTopics() {
		if t == topic {
			return true
		}
	}
	return false
}

// validPublishTopic rejects empty topics and MQTT wildcards, which brokers
// refuse on PUBLISH.
func validPublishTopic(topic string) bool {
	return topic != "" && !strings.ContainsAny(topic, "+#")
}
