package components

import (
	"strings"
	"testing"

	"github.com/surge-downloader/surgemirror/internal/engine/events"
	"github.com/surge-downloader/surgemirror/internal/engine/types"
)

func TestMirrorLogNewestFirst(t *testing.T) {
	failures := []events.MirrorFailedMsg{
		{SourceName: "github", Kind: types.KindTimeout, Attempt: 1, WillRetry: true},
		{SourceName: "jsdelivr", Kind: types.KindHTTPStatus, StatusCode: 503, Attempt: 2},
	}
	lines := strings.Split(NewMirrorLogModel(failures, 0, 0).View(), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d", len(lines))
	}
	if !strings.Contains(lines[0], "jsdelivr") || !strings.Contains(lines[0], "503") {
		t.Errorf("first line should be the newest failure: %q", lines[0])
	}
	if !strings.Contains(lines[1], "↻") {
		t.Errorf("retried attempt should use the retry glyph: %q", lines[1])
	}
}

func TestMirrorLogHeightAndWidth(t *testing.T) {
	var failures []events.MirrorFailedMsg
	for i := 0; i < 10; i++ {
		failures = append(failures, events.MirrorFailedMsg{URL: "https://mirror.example.org/f", Kind: types.KindNetwork, Attempt: i})
	}
	view := NewMirrorLogModel(failures, 12, 3).View()
	lines := strings.Split(view, "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %d, want 3", len(lines))
	}
	for _, l := range lines {
		if n := len([]rune(l)); n > 12 {
			t.Errorf("line too wide (%d): %q", n, l)
		}
	}
}

func TestMirrorLogEmpty(t *testing.T) {
	if !strings.Contains(NewMirrorLogModel(nil, 40, 3).View(), "No mirror failures") {
		t.Error("empty log placeholder missing")
	}
}

func TestSummarize(t *testing.T) {
	got := Summarize([]events.MirrorFailedMsg{
		{SourceName: "a", Kind: types.KindTimeout},
		{SourceName: "b", Kind: types.KindNetwork},
		{SourceName: "b", Kind: types.KindHTTPStatus},
	})
	if len(got) != 2 || got[0].Source != "b" || got[0].Failures != 2 || got[0].LastKind != types.KindHTTPStatus {
		t.Errorf("unexpected summary %+v", got)
	}
}
