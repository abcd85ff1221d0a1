package protocol

import (
	"encoding/json"
	"testing"
)

func TestDecodeClientMessage_VehicleStatus(t *testing.T) {
	data := []byte(`{"type":"vehicle_status","vehicle_data":{"driving_status":"charging","energy_status":{"battery_level":15}}}`)

	decoded, err := DecodeClientMessage(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	msg, ok := decoded.(VehicleStatus)
	if !ok {
		t.Fatalf("decoded %T, want VehicleStatus", decoded)
	}
	if len(msg.VehicleData) == 0 {
		t.Fatalf("vehicle_data empty")
	}
}

func TestDecodeClientMessage_VehicleStatusWithoutData(t *testing.T) {
	if _, err := DecodeClientMessage([]byte(`{"type":"vehicle_status"}`)); err == nil {
		t.Fatalf("expected error for missing vehicle_data")
	}
}

func TestDecodeClientMessage_Login(t *testing.T) {
	data := []byte(`{"type":"login","target_id":"abc","message":"hello","user_name":"Ken","lang":"ja"}`)

	decoded, err := DecodeClientMessage(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	msg, ok := decoded.(Login)
	if !ok {
		t.Fatalf("decoded %T, want Login", decoded)
	}
	if msg.TargetID != "abc" || msg.UserName != "Ken" || msg.Lang != "ja" {
		t.Fatalf("unexpected fields: %+v", msg)
	}
}

func TestDecodeClientMessage_LoginMissingTarget(t *testing.T) {
	if _, err := DecodeClientMessage([]byte(`{"type":"login","user_name":"Ken"}`)); err == nil {
		t.Fatalf("expected error for missing target_id")
	}
}

func TestDecodeClientMessage_DemoAction(t *testing.T) {
	decoded, err := DecodeClientMessage([]byte(`{"type":"demo_action","target_id":"abc","action":"start_ev_charge"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	msg, ok := decoded.(DemoAction)
	if !ok {
		t.Fatalf("decoded %T, want DemoAction", decoded)
	}
	if msg.Action != ActionStartEVCharge {
		t.Fatalf("action=%q", msg.Action)
	}
}

func TestDecodeClientMessage_StopConversation(t *testing.T) {
	decoded, err := DecodeClientMessage([]byte(`{"type":"stop_conversation","target_id":"abc"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := decoded.(StopConversation); !ok {
		t.Fatalf("decoded %T, want StopConversation", decoded)
	}
}

func TestDecodeClientMessage_PassthroughKeepsRaw(t *testing.T) {
	raw := `{"type":"input_audio_buffer.append","audio":"AAAA"}`

	decoded, err := DecodeClientMessage([]byte(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	msg, ok := decoded.(Passthrough)
	if !ok {
		t.Fatalf("decoded %T, want Passthrough", decoded)
	}
	if string(msg.Raw) != raw {
		t.Fatalf("raw=%s, want original frame", msg.Raw)
	}
}

func TestDecodeClientMessage_Malformed(t *testing.T) {
	cases := [][]byte{
		[]byte(`{"no_type":true}`),
		[]byte(`[1,2,3]`),
		[]byte(`{"type":"  "}`),
	}
	for _, data := range cases {
		_, err := DecodeClientMessage(data)
		if err == nil {
			t.Fatalf("expected decode error for %s", data)
		}
		if _, ok := err.(*DecodeError); !ok {
			t.Fatalf("error %T, want *DecodeError", err)
		}
	}
}

func TestNewClientIDAck_Marshals(t *testing.T) {
	data, err := json.Marshal(NewClientIDAck("abc"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"type":"client_id","client_id":"abc"}`
	if string(data) != want {
		t.Fatalf("ack=%s, want %s", data, want)
	}
}
