package protocol

import (
	"testing"
)

type chatMessage struct {
	From string `json:"from"`
	Text string `json:"text"`
}

func TestJSONSerializer(t *testing.T) {
	b, err := JSON[chatMessage]()(chatMessage{From: "alice", Text: "hi"})
	if err != nil {
		t.Fatalf("serialize failed: %v", err)
	}
	if string(b) != `{"from":"alice","text":"hi"}` {
		t.Fatalf("unexpected output %s", b)
	}
}

func TestJSONSerializer_Error(t *testing.T) {
	if _, err := JSON[chan int]()(make(chan int)); err == nil {
		t.Fatal("expected error for unsupported type")
	}
}

func TestStringSerializer(t *testing.T) {
	b, err := String()("héllo")
	if err != nil {
		t.Fatalf("serialize failed: %v", err)
	}
	if string(b) != "héllo" || len(b) != 6 {
		t.Fatalf("unexpected bytes %x", b)
	}
}
