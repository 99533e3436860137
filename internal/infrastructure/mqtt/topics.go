package mqtt

import "strings"

// DefaultPrefix is the root of every edgewatch MQTT topic.
const DefaultPrefix = "edgewatch"

// Topics builds edgewatch MQTT topic names under Prefix.
//
// Bus topics such as "device:42" map onto MQTT levels:
//
//	topics := mqtt.Topics{Prefix: "edgewatch"}
//	topics.Bus("device:42")   // "edgewatch/bus/device/42"
//	topics.Bus("user:7")      // "edgewatch/bus/user/7"
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultPrefix
	}
	return t.Prefix
}

// SystemStatus is the retained online/offline status topic of this instance.
func (t Topics) SystemStatus() string {
	return t.prefix() + "/system/status"
}

// Bus returns the MQTT topic carrying the named bus topic. Each ':' in
// the name becomes a level separator.
func (t Topics) Bus(name string) string {
	return t.prefix() + "/bus/" + strings.ReplaceAll(name, ":", "/")
}

// AllBus is the wildcard matching every bus topic.
func (t Topics) AllBus() string {
	return t.prefix() + "/bus/#"
}

// BusName reverses Bus. ok is false when mqttTopic is not a bus topic.
func (t Topics) BusName(mqttTopic string) (name string, ok bool) {
	rest, found := strings.CutPrefix(mqttTopic, t.prefix()+"/bus/")
	if !found || rest == "" {
		return "", false
	}
	return strings.ReplaceAll(rest, "/", ":"), true
}
