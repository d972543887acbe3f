package mqtt

import (
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"
)

// Status reasons.
const (
	reasonShutdown   = "graceful_shutdown"
	reasonUnexpected = "unexpected_disconnect"
)

// Identity describes the process behind a client in its status messages.
type Identity struct {
	// InstanceID is the database instance id, when known.
	InstanceID string
	// Version is the litecore build version.
	Version string
}

// Status is the retained payload on the system status topic.
type Status struct {
	Status     string `json:"status"`
	ClientID   string `json:"client_id"`
	InstanceID string `json:"instance_id,omitempty"`
	Version    string `json:"version,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Timestamp  string `json:"timestamp"`
}

func statusPayload(clientID string, id Identity, online bool, reason string) []byte {
	s := Status{
		Status:     "offline",
		ClientID:   clientID,
		InstanceID: id.InstanceID,
		Version:    id.Version,
		Reason:     reason,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	if online {
		s.Status = "online"
	}
	b, _ := json.Marshal(s) //nolint:errcheck // Status holds only strings
	return b
}

// configureLWT makes the broker publish a retained offline status when the
// client disappears without closing, so consumers can tell a crashed
// producer from a quiet one.
func configureLWT(opts *pahomqtt.ClientOptions, clientID string, id Identity) {
	opts.SetBinaryWill(Topics{}.SystemStatus(), statusPayload(clientID, id, false, reasonUnexpected), 1, true)
}
