package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/surge-downloader/surgemirror/internal/engine/types"
)

func TestMessageTypes_AreDistinct(t *testing.T) {
	messages := []any{
		DownloadStartedMsg{DownloadID: "started"},
		ProgressMsg{DownloadID: "progress"},
		MirrorFailedMsg{DownloadID: "mirror"},
		ParamsChangedMsg{DownloadID: "params"},
		DownloadCompleteMsg{DownloadID: "complete"},
		DownloadErrorMsg{DownloadID: "error"},
	}

	typeNames := make(map[string]bool)
	for _, msg := range messages {
		typeName := fmt.Sprintf("%T", msg)
		if typeNames[typeName] {
			t.Errorf("Duplicate type: %s", typeName)
		}
		typeNames[typeName] = true
	}
	if len(typeNames) != len(messages) {
		t.Errorf("Expected %d distinct types, got %d", len(messages), len(typeNames))
	}
}

func TestEmit_NonBlocking(t *testing.T) {
	ch := make(chan any, 1)

	if !Emit(ch, ProgressMsg{DownloadID: "a"}) {
		t.Fatal("first message should be delivered")
	}
	if Emit(ch, ProgressMsg{DownloadID: "b"}) {
		t.Error("full channel should drop the message")
	}
	if Emit(nil, ProgressMsg{}) {
		t.Error("nil channel should drop the message")
	}

	got := (<-ch).(ProgressMsg)
	if got.DownloadID != "a" {
		t.Errorf("got %q, want a", got.DownloadID)
	}
}

func TestMustEmit_WaitsForConsumer(t *testing.T) {
	ch := make(chan any)
	done := make(chan struct{})

	go func() {
		time.Sleep(20 * time.Millisecond)
		<-ch
	}()
	if !MustEmit(ch, DownloadCompleteMsg{DownloadID: "x"}, done) {
		t.Fatal("message should reach the consumer")
	}

	close(done)
	if MustEmit(ch, DownloadCompleteMsg{}, done) {
		t.Error("closed done channel should abandon delivery")
	}
}

func TestDownloadErrorMsg_JSON(t *testing.T) {
	msg := DownloadErrorMsg{DownloadID: "err-1", Filename: "a.iso", Err: errors.New("boom")}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}

	var decoded DownloadErrorMsg
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.DownloadID != "err-1" || decoded.Filename != "a.iso" {
		t.Errorf("unexpected decode: %+v", decoded)
	}
	if decoded.Err == nil || decoded.Err.Error() != "boom" {
		t.Errorf("Err = %v, want boom", decoded.Err)
	}
}

func TestDownloadErrorMsg_UnmarshalLegacyPayloads(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		want    string
	}{
		{"null", `{"DownloadID":"x","Err":null}`, ""},
		{"empty string", `{"DownloadID":"x","Err":""}`, ""},
		{"object", `{"DownloadID":"x","Err":{}}`, "{}"},
		{"missing", `{"DownloadID":"x"}`, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var m DownloadErrorMsg
			if err := json.Unmarshal([]byte(tc.payload), &m); err != nil {
				t.Fatal(err)
			}
			got := ""
			if m.Err != nil {
				got = m.Err.Error()
			}
			if got != tc.want {
				t.Errorf("Err = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestMirrorFailedMsg_JSON(t *testing.T) {
	msg := MirrorFailedMsg{
		DownloadID: "d",
		URL:        "https://mirror.example/f",
		SourceName: "mirror",
		Kind:       types.KindRateLimit,
		StatusCode: 429,
		Attempt:    2,
		WillRetry:  true,
		Err:        errors.New("too many requests"),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	if raw["Kind"] != "rate-limit" {
		t.Errorf("Kind encoded as %v", raw["Kind"])
	}

	var decoded MirrorFailedMsg
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Kind != types.KindRateLimit || decoded.StatusCode != 429 || !decoded.WillRetry {
		t.Errorf("unexpected decode: %+v", decoded)
	}
	if decoded.Err == nil || decoded.Err.Error() != "too many requests" {
		t.Errorf("Err = %v", decoded.Err)
	}
}

func TestParamsChangedMsg_TypeSwitch(t *testing.T) {
	var msg any = ParamsChangedMsg{
		Old:    types.AdaptiveParams{Concurrency: 4},
		New:    types.AdaptiveParams{Concurrency: 5},
		Reason: "headroom",
	}

	switch m := msg.(type) {
	case ParamsChangedMsg:
		if m.New.Concurrency-m.Old.Concurrency != 1 || m.Reason != "headroom" {
			t.Errorf("unexpected message: %+v", m)
		}
	default:
		t.Error("Should match ParamsChangedMsg")
	}
}
