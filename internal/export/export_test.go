package export

import (
	"encoding/json"
	"testing"
	"time"
)

func TestValidTable(t *testing.T) {
	for _, name := range Tables() {
		if !ValidTable(name) {
			t.Errorf("expected %q to be exportable", name)
		}
	}
	for _, name := range []string{"", "users", "hotels; DROP TABLE hotels"} {
		if ValidTable(name) {
			t.Errorf("expected %q rejected", name)
		}
	}
}

func TestFormatValue(t *testing.T) {
	ts := time.Date(2026, 8, 25, 10, 30, 0, 0, time.UTC)
	cases := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"plain", "plain"},
		{[]byte(`{"a":1}`), `{"a":1}`},
		{ts, "2026-08-25T10:30:00Z"},
		{true, "true"},
		{int64(42), "42"},
		{int32(7), "7"},
		{8.7, "8.7"},
	}
	for _, c := range cases {
		if got := formatValue(c.in); got != c.want {
			t.Errorf("formatValue(%v): expected %q, got %q", c.in, c.want, got)
		}
	}
}

func TestJSONValueKeepsRawJSON(t *testing.T) {
	v := jsonValue([]byte(`{"wifi":true}`))
	raw, ok := v.(json.RawMessage)
	if !ok {
		t.Fatalf("expected raw JSON passthrough, got %T", v)
	}
	if string(raw) != `{"wifi":true}` {
		t.Fatalf("unexpected raw value %s", raw)
	}

	if got := jsonValue([]byte("not json{")); got != "not json{" {
		t.Fatalf("expected invalid JSON kept as string, got %v", got)
	}
}
