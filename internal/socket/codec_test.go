package socket

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestEncodeEvent_frames(t *testing.T) {
	got, err := EncodeEvent("place_pixel", map[string]any{"x": 1, "y": 2, "color": "#FF0000"})
	if err != nil {
		t.Fatalf("EncodeEvent: %v", err)
	}
	want := `42["place_pixel",{"color":"#FF0000","x":1,"y":2}]`
	if string(got) != want {
		t.Fatalf("got %s, want %s", got, want)
	}

	got, err = EncodeEvent("get_rate_limit_status", nil)
	if err != nil {
		t.Fatalf("EncodeEvent: %v", err)
	}
	if string(got) != `42["get_rate_limit_status"]` {
		t.Fatalf("got %s", got)
	}
}

func TestDecode_packets(t *testing.T) {
	tests := []struct {
		frame string
		kind  PacketKind
		event string
		data  string
	}{
		{`0{"sid":"abc","pingInterval":25000}`, KindOpen, "", `{"sid":"abc","pingInterval":25000}`},
		{`1`, KindClose, "", ""},
		{`2`, KindPing, "", ""},
		{`3`, KindPong, "", ""},
		{`6`, KindNoop, "", ""},
		{`40{"sid":"x"}`, KindConnect, "", `{"sid":"x"}`},
		{`41`, KindDisconnect, "", ""},
		{`44{"message":"unauthorized"}`, KindConnectError, "", `{"message":"unauthorized"}`},
		{`42["pixel_placed_success",{"x":3}]`, KindEvent, "pixel_placed_success", `{"x":3}`},
		{`42["ping_only"]`, KindEvent, "ping_only", ""},
		{`4212["with_ack",1]`, KindEvent, "with_ack", `1`},
		{`42/canvas,["nsp_event","hi"]`, KindEvent, "nsp_event", `"hi"`},
		{`9`, KindUnknown, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.frame, func(t *testing.T) {
			p, err := Decode([]byte(tt.frame))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if p.Kind != tt.kind {
				t.Fatalf("kind = %d, want %d", p.Kind, tt.kind)
			}
			if p.Event != tt.event {
				t.Fatalf("event = %q, want %q", p.Event, tt.event)
			}
			if string(p.Data) != tt.data {
				t.Fatalf("data = %s, want %s", p.Data, tt.data)
			}
		})
	}
}

func TestDecode_malformed(t *testing.T) {
	for _, frame := range []string{"", "4", `42not-json`, `42[]`, `42[7]`} {
		if _, err := Decode([]byte(frame)); err == nil {
			t.Errorf("Decode(%q): expected error", frame)
		}
	}
}

func TestEncodeEvent_decodes_back(t *testing.T) {
	frame, err := EncodeEvent("pixel_placement_failed", map[string]string{"error": "Burst limit reached"})
	if err != nil {
		t.Fatal(err)
	}
	p, err := Decode(frame)
	if err != nil {
		t.Fatal(err)
	}
	var body struct{ Error string }
	if err := json.Unmarshal(p.Data, &body); err != nil {
		t.Fatal(err)
	}
	if p.Event != "pixel_placement_failed" || body.Error != "Burst limit reached" {
		t.Fatalf("unexpected packet %+v", p)
	}
}

func TestEndpointURL_rewrites_scheme(t *testing.T) {
	tests := []struct {
		in, prefix string
	}{
		{"https://solanaplace.fun", "wss://solanaplace.fun/socket.io/?"},
		{"http://127.0.0.1:8080/", "ws://127.0.0.1:8080/socket.io/?"},
		{"wss://example.com/custom/path", "wss://example.com/custom/path?"},
	}
	for _, tt := range tests {
		got, err := EndpointURL(tt.in)
		if err != nil {
			t.Fatalf("EndpointURL(%q): %v", tt.in, err)
		}
		if !strings.HasPrefix(got, tt.prefix) {
			t.Errorf("EndpointURL(%q) = %q, want prefix %q", tt.in, got, tt.prefix)
		}
		if !strings.Contains(got, "EIO=4") || !strings.Contains(got, "transport=websocket") {
			t.Errorf("EndpointURL(%q) = %q, missing query", tt.in, got)
		}
	}
	if _, err := EndpointURL("ftp://x"); err == nil {
		t.Fatal("expected error for ftp scheme")
	}
}
