package signaling

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseEnvelope(t *testing.T) {
	for _, tc := range []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"offer", `{"to":"bob","type":"offer","sdp":"x"}`, false},
		{"answer", `{"to":"bob","type":"answer","sdp":"x"}`, false},
		{"candidate", `{"to":"bob","type":"candidate","candidate":"c"}`, false},
		{"control", `{"to":"bob","type":"control","sessionId":"s"}`, false},
		{"missing to", `{"type":"offer"}`, true},
		{"missing type", `{"to":"bob"}`, true},
		{"unknown type", `{"to":"bob","type":"gossip"}`, true},
		{"not an object", `[1,2,3]`, true},
		{"not json", `hello`, true},
	} {
		env, err := parseEnvelope([]byte(tc.raw))
		if tc.wantErr {
			if !errors.Is(err, errBadEnvelope) {
				t.Errorf("%s: err = %v, want errBadEnvelope", tc.name, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: %v", tc.name, err)
			continue
		}
		if env.to != "bob" {
			t.Errorf("%s: to = %q", tc.name, env.to)
		}
	}
}

func TestWithRouting_PreservesOpaqueFieldsAndStampsSender(t *testing.T) {
	env, err := parseEnvelope([]byte(`{"to":"bob","type":"offer","sdp":"x","from":"spoofed","room":"spoofed"}`))
	if err != nil {
		t.Fatal(err)
	}

	payload, err := env.withRouting("alice", "default")
	if err != nil {
		t.Fatal(err)
	}

	var got map[string]any
	if err := json.Unmarshal(payload, &got); err != nil {
		t.Fatal(err)
	}
	want := map[string]any{
		"to":   "bob",
		"type": "offer",
		"sdp":  "x",
		"from": "alice",
		"room": "default",
	}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %v, want %v", k, got[k], v)
		}
	}
}

func TestWithRouting_DoesNotReencodePayloadValues(t *testing.T) {
	// 2^53+1 is not representable as a float64; a decode-to-any round trip
	// would forward it as 9007199254740992.
	env, err := parseEnvelope([]byte(`{"to":"bob","type":"candidate","seq":9007199254740993,"frac":0.30000000000000004}`))
	if err != nil {
		t.Fatal(err)
	}

	payload, err := env.withRouting("alice", "default")
	if err != nil {
		t.Fatal(err)
	}

	var got map[string]json.RawMessage
	if err := json.Unmarshal(payload, &got); err != nil {
		t.Fatal(err)
	}
	if string(got["seq"]) != "9007199254740993" {
		t.Errorf("seq forwarded as %s", got["seq"])
	}
	if string(got["frac"]) != "0.30000000000000004" {
		t.Errorf("frac forwarded as %s", got["frac"])
	}
}

func TestControlPayload(t *testing.T) {
	env, err := parseEnvelope([]byte(`{"to":"bob","type":"control","sessionId":"s1","command":{"type":"mouse","action":"move","data":{"x":1}}}`))
	if err != nil {
		t.Fatal(err)
	}

	ctl, err := env.control()
	if err != nil {
		t.Fatal(err)
	}
	if ctl.SessionID != "s1" || string(ctl.Command.Type) != "mouse" || ctl.Command.Action != "move" {
		t.Fatalf("control = %+v", ctl)
	}

	env, err = parseEnvelope([]byte(`{"to":"bob","type":"control","command":{"type":"mouse"}}`))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.control(); !errors.Is(err, errBadEnvelope) {
		t.Fatalf("control without sessionId: err = %v, want errBadEnvelope", err)
	}
}
