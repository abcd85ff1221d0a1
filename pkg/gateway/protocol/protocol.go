// Package protocol defines the JSON wire protocol between clients and the
// gateway. Inbound frames carry a `type` discriminator and are decoded once,
// here, into closed variants the dispatch loop matches on.
package protocol

import (
	"encoding/json"
	"strings"
)

// Inbound message types.
const (
	TypeVehicleStatus    = "vehicle_status"
	TypeLogin            = "login"
	TypeDemoAction       = "demo_action"
	TypeStopConversation = "stop_conversation"
)

// Outbound message types.
const (
	TypeClientID    = "client_id"
	TypeLoginNotice = "login_notice"
)

// Demo actions with canned telemetry scenarios.
const (
	ActionStartAutonomous      = "start_autonomous"
	ActionStartEVCharge        = "start_ev_charge"
	ActionStartBatteryLevelLow = "start_battery_level_low"
)

type DecodeError struct {
	Message string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func malformed(message string) *DecodeError {
	return &DecodeError{Message: message}
}

// VehicleStatus is a telemetry report from the vehicle. UserData is optional
// and defaulted from the session's login profile downstream.
type VehicleStatus struct {
	Type        string          `json:"type"`
	VehicleData json.RawMessage `json:"vehicle_data"`
	UserData    json.RawMessage `json:"user_data,omitempty"`
}

// Login is a cross-session relay: a control page announces that a user has
// logged in on the session identified by TargetID.
type Login struct {
	Type     string `json:"type"`
	TargetID string `json:"target_id"`
	Message  string `json:"message,omitempty"`
	UserName string `json:"user_name"`
	Lang     string `json:"lang,omitempty"`
}

// DemoAction triggers a demo scenario on another session. VideoURL is filled
// in by the gateway before the frame is relayed to the target client.
type DemoAction struct {
	Type     string `json:"type"`
	TargetID string `json:"target_id"`
	Action   string `json:"action"`
	VideoURL string `json:"video_url,omitempty"`
}

// StopConversation tells the target client to stop audio playback.
type StopConversation struct {
	Type     string `json:"type"`
	TargetID string `json:"target_id"`
}

// Passthrough is any other typed frame; it is forwarded to the session input
// queue untouched (raw audio buffer events take this path).
type Passthrough struct {
	Raw json.RawMessage
}

// DecodeClientMessage decodes one inbound JSON frame into its variant.
// Callers handle non-JSON frames (plain text input) before calling this.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, malformed("malformed data")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, malformed("malformed data")
	}

	switch typ {
	case TypeVehicleStatus:
		var msg VehicleStatus
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, malformed("invalid vehicle_status")
		}
		if len(msg.VehicleData) == 0 {
			return nil, malformed("vehicle_status.vehicle_data is required")
		}
		return msg, nil
	case TypeLogin:
		var msg Login
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, malformed("invalid login")
		}
		if strings.TrimSpace(msg.TargetID) == "" {
			return nil, malformed("login.target_id is required")
		}
		if strings.TrimSpace(msg.UserName) == "" {
			return nil, malformed("login.user_name is required")
		}
		return msg, nil
	case TypeDemoAction:
		var msg DemoAction
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, malformed("invalid demo_action")
		}
		if strings.TrimSpace(msg.TargetID) == "" {
			return nil, malformed("demo_action.target_id is required")
		}
		if strings.TrimSpace(msg.Action) == "" {
			return nil, malformed("demo_action.action is required")
		}
		return msg, nil
	case TypeStopConversation:
		var msg StopConversation
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, malformed("invalid stop_conversation")
		}
		if strings.TrimSpace(msg.TargetID) == "" {
			return nil, malformed("stop_conversation.target_id is required")
		}
		return msg, nil
	default:
		return Passthrough{Raw: append(json.RawMessage(nil), data...)}, nil
	}
}

// ClientIDAck is the identity acknowledgement sent on every (re)connect.
type ClientIDAck struct {
	Type     string `json:"type"`
	ClientID string `json:"client_id"`
}

func NewClientIDAck(clientID string) ClientIDAck {
	return ClientIDAck{Type: TypeClientID, ClientID: clientID}
}

// ErrorAck is echoed to a sender whose frame could not be processed.
type ErrorAck struct {
	Error string `json:"error"`
}

// LoginNotice is the internal event injected into a session's telemetry
// queue when a login relay targets it.
type LoginNotice struct {
	Type     string `json:"type"`
	UserName string `json:"user_name"`
	Lang     string `json:"lang,omitempty"`
}

func NewLoginNotice(userName, lang string) LoginNotice {
	return LoginNotice{Type: TypeLoginNotice, UserName: userName, Lang: lang}
}
