package protocol

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestCreateAndParseMessage(t *testing.T) {
	tests := []struct {
		name      string
		msgType   MessageType
		payload   interface{}
		requestID string
	}{
		{
			name:      "set_power",
			msgType:   MessageTypeSetPower,
			payload:   SetPowerPayload{Mac: "F8:24:41:C5:0F:9A", On: true},
			requestID: "req-1",
		},
		{
			name:      "set_color",
			msgType:   MessageTypeSetColor,
			payload:   SetColorPayload{Mac: "F8:24:41:C5:0F:9A", Red: 255, Green: 128, Blue: 0, Brightness: 80},
			requestID: "req-2",
		},
		{
			name:    "state_changed without request id",
			msgType: MessageTypeStateChanged,
			payload: StateChangedPayload{
				Mac:   "F8:24:41:C5:0F:9A",
				State: LampState{Power: true, Mode: "color", Color: "#FF8000", Brightness: 80, Temperature: 4000},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := CreateMessage(tt.msgType, tt.payload, tt.requestID)
			if err != nil {
				t.Fatalf("CreateMessage: %v", err)
			}

			msg, err := ParseMessage(data)
			if err != nil {
				t.Fatalf("ParseMessage: %v", err)
			}
			if msg.Type != tt.msgType {
				t.Errorf("Type = %v, want %v", msg.Type, tt.msgType)
			}
			if msg.RequestID != tt.requestID {
				t.Errorf("RequestID = %q, want %q", msg.RequestID, tt.requestID)
			}

			got := reflect.New(reflect.TypeOf(tt.payload)).Interface()
			if err := ParsePayload(msg, got); err != nil {
				t.Fatalf("ParsePayload: %v", err)
			}
			if !reflect.DeepEqual(reflect.ValueOf(got).Elem().Interface(), tt.payload) {
				t.Errorf("payload = %+v, want %+v", got, tt.payload)
			}
		})
	}
}

func TestParseMessageInvalidJSON(t *testing.T) {
	if _, err := ParseMessage([]byte("{not json")); err == nil {
		t.Error("ParseMessage on invalid JSON: want error")
	}
}

func TestCommandResultPayloadJSON(t *testing.T) {
	t.Run("success with data", func(t *testing.T) {
		data, err := json.Marshal(NameData{Name: "bedside"})
		if err != nil {
			t.Fatal(err)
		}
		out, err := json.Marshal(CommandResultPayload{Success: true, Data: data})
		if err != nil {
			t.Fatal(err)
		}
		var got CommandResultPayload
		if err := json.Unmarshal(out, &got); err != nil {
			t.Fatal(err)
		}
		if !got.Success || got.Error != nil {
			t.Errorf("result = %+v", got)
		}
		var name NameData
		if err := json.Unmarshal(got.Data, &name); err != nil {
			t.Fatal(err)
		}
		if name.Name != "bedside" {
			t.Errorf("Name = %q", name.Name)
		}
	})

	t.Run("failure omits data", func(t *testing.T) {
		out, err := json.Marshal(CommandResultPayload{
			Success: false,
			Error:   &Error{Code: ErrorCodeTimeout, Message: "no reply"},
		})
		if err != nil {
			t.Fatal(err)
		}
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(out, &raw); err != nil {
			t.Fatal(err)
		}
		if _, present := raw["data"]; present {
			t.Error("data field present in failed result")
		}
		var got CommandResultPayload
		if err := json.Unmarshal(out, &got); err != nil {
			t.Fatal(err)
		}
		if got.Error == nil || got.Error.Code != ErrorCodeTimeout {
			t.Errorf("error = %+v", got.Error)
		}
	})
}
