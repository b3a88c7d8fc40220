// pattern: Imperative Shell

package logging

import (
	"testing"
)

func TestChannelSink_DecodesZapJSON(t *testing.T) {
	sink := NewChannelSink(4)
	defer func() { _ = sink.Close() }()

	line := `{"level":"error","ts":1700000000.5,"logger":"git","msg":"command failed","exit_code":128,"caller":"x.go:1"}`
	if _, err := sink.Write([]byte(line)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	entry := <-sink.Entries()
	if entry.Level != "ERROR" || entry.Scope != "git" || entry.Message != "command failed" {
		t.Errorf("entry = %+v", entry)
	}
	if entry.Timestamp.Unix() != 1700000000 {
		t.Errorf("Timestamp = %v", entry.Timestamp)
	}
	if _, ok := entry.Fields["caller"]; ok {
		t.Error("caller should be stripped from fields")
	}
	if entry.Fields["exit_code"] != float64(128) {
		t.Errorf("exit_code = %v", entry.Fields["exit_code"])
	}
}

func TestChannelSink_DropsOldestWhenFull(t *testing.T) {
	sink := NewChannelSink(2)
	defer func() { _ = sink.Close() }()

	for _, msg := range []string{"one", "two", "three"} {
		_, _ = sink.Write([]byte(`{"msg":"` + msg + `"}`))
	}

	first := <-sink.Entries()
	second := <-sink.Entries()
	if first.Message != "two" || second.Message != "three" {
		t.Errorf("got %q, %q; want two, three", first.Message, second.Message)
	}
}

func TestChannelSink_IgnoresGarbage(t *testing.T) {
	sink := NewChannelSink(1)
	defer func() { _ = sink.Close() }()

	n, err := sink.Write([]byte("not json"))
	if err != nil || n != len("not json") {
		t.Errorf("Write() = %d, %v", n, err)
	}
	select {
	case e := <-sink.Entries():
		t.Errorf("unexpected entry %+v", e)
	default:
	}
}

func TestChannelSink_WriteAfterClose(t *testing.T) {
	sink := NewChannelSink(1)
	_ = sink.Close()
	_ = sink.Close()

	if _, err := sink.Write([]byte(`{"msg":"late"}`)); err == nil {
		t.Error("Write() after Close() should fail")
	}
}
