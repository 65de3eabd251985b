package protocol

import "encoding/json"

const Version = "0.9"

// SupportedVersions lists every server protocol version the client can read.
var SupportedVersions = []string{"0.9", "1.0"}

// Message types.
const (
	TypeHello   = "HELLO"
	TypeWelcome = "WELCOME"
	TypeCatalog = "CATALOG"
	TypeObs     = "OBS"
	TypeAct     = "ACT"
	TypeAck     = "ACK"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

func IsSupportedVersion(v string) bool {
	if v == "" {
		return true
	}
	for _, s := range SupportedVersions {
		if s == v {
			return true
		}
	}
	return false
}
