// Package push serves the WebSocket channel that streams mining updates.
package push

import (
	"encoding/json"

	"github.com/Proton-105/hashpay/internal/domain"
)

// Message types exchanged over the push channel.
const (
	TypeAuthenticate  = "authenticate"
	TypeAuthenticated = "authenticated"
	TypeStartMining   = "start_mining"
	TypeStopMining    = "stop_mining"
	TypeMiningStatus  = "mining_status"
	TypeMiningUpdate  = "mining_update"
	TypeError         = "error"
)

// Inbound is a client frame; Data is decoded once the type is known.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Message is a server frame.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type AuthenticateData struct {
	UserID string `json:"userId"`
}

type AuthenticatedData struct {
	UserID string `json:"userId"`
}

type MiningStatusData struct {
	Active bool `json:"active"`
}

type ErrorData struct {
	Message string `json:"message"`
}

// MiningUpdate wraps one telemetry sample for the client.
func MiningUpdate(sample domain.TelemetrySample) Message {
	return Message{Type: TypeMiningUpdate, Data: sample}
}

func errorMessage(msg string) Message {
	return Message{Type: TypeError, Data: ErrorData{Message: msg}}
}
