package config

import (
	"fmt"
	"os"
	"strings"
)

// Kinds lists the template kinds Template accepts.
func Kinds() []string {
	return []string{"ground", "blimp"}
}

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "ground":
		return groundTemplate, nil
	case "blimp":
		return blimpTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const groundTemplate = `name = "groundctl"
addr = "127.0.0.1:9100"
path = "/ws"
auth_token = ""
cors_origins = ["http://localhost:3000"]

[session]
security_mode = "development"
handshake_timeout = "5s"
close_timeout = "2s"
heartbeat = "15s"
max_payload_bytes = 8388608

[session.tls]
enabled = false
mutual = false
cert_file = ""
key_file = ""
ca_file = ""
`

const blimpTemplate = `id = "blimpctl"
url = "ws://127.0.0.1:9100/ws"
subprotocols = ["spacecoffee.blimp.v1.binary", "spacecoffee.blimp.v1.json"]
auth_token = ""

[session]
security_mode = "development"
handshake_timeout = "5s"
close_timeout = "2s"
heartbeat = "15s"

[session.tls]
enabled = false
ca_file = ""
server_name = ""
insecure_skip_verify = false
`
