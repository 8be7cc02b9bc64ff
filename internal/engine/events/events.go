// Package events defines the messages a download publishes while it runs.
// Consumers (the TUI, the CLI printer, metrics) receive them on a chan any
// and type-switch.
package events

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/surge-downloader/surgemirror/internal/engine/types"
)

// DownloadStartedMsg is sent once the size is known and the first attempt begins
type DownloadStartedMsg struct {
	DownloadID string
	Filename   string
	Total      int64 // 0 when unknown
	DestPath   string
	Candidates int
	Resumed    bool
	State      *types.ProgressState `json:"-"`
}

// ProgressMsg is a periodic progress sample
type ProgressMsg struct {
	DownloadID  string
	Downloaded  int64
	Total       int64
	Speed       float64 // bytes per second
	Elapsed     time.Duration
	URL         string
	Concurrency int
	ChunkSize   int64
}

// MirrorFailedMsg reports an attempt that failed at one URL
type MirrorFailedMsg struct {
	DownloadID string
	URL        string
	SourceName string
	Kind       types.ErrorKind
	StatusCode int
	Attempt    int
	WillRetry  bool // same URL again after backoff
	Err        error
}

// ParamsChangedMsg is published when the controller retunes
type ParamsChangedMsg struct {
	DownloadID string
	Old        types.AdaptiveParams
	New        types.AdaptiveParams
	Reason     string
}

// DownloadCompleteMsg signals that the download finished successfully
type DownloadCompleteMsg struct {
	DownloadID string
	Filename   string
	Elapsed    time.Duration
	Total      int64
	Result     *types.DownloadResult
}

// DownloadErrorMsg signals that the download gave up
type DownloadErrorMsg struct {
	DownloadID string
	Filename   string
	Err        error
}

// Emit delivers msg without blocking the engine. A full or nil channel drops it.
func Emit(ch chan<- any, msg any) bool {
	if ch == nil {
		return false
	}
	select {
	case ch <- msg:
		return true
	default:
		return false
	}
}

// MustEmit delivers msg, blocking until the consumer takes it or done closes.
// Terminal messages use it so they are never dropped.
func MustEmit(ch chan<- any, msg any, done <-chan struct{}) bool {
	if ch == nil {
		return false
	}
	select {
	case ch <- msg:
		return true
	case <-done:
		return false
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func decodeErr(raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return nil
		}
		return errors.New(s)
	}
	// Accept non-string payloads (e.g. {}) from older writers
	if r := string(raw); r != "null" {
		return errors.New(r)
	}
	return nil
}

func (m DownloadErrorMsg) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		DownloadID string `json:"DownloadID"`
		Filename   string `json:"Filename,omitempty"`
		Err        string `json:"Err,omitempty"`
	}{m.DownloadID, m.Filename, errString(m.Err)})
}

func (m *DownloadErrorMsg) UnmarshalJSON(data []byte) error {
	var aux struct {
		DownloadID string          `json:"DownloadID"`
		Filename   string          `json:"Filename"`
		Err        json.RawMessage `json:"Err"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	m.DownloadID = aux.DownloadID
	m.Filename = aux.Filename
	m.Err = decodeErr(aux.Err)
	return nil
}

func (m MirrorFailedMsg) MarshalJSON() ([]byte, error) {
	type alias MirrorFailedMsg
	return json.Marshal(struct {
		alias
		Kind string `json:"Kind"`
		Err  string `json:"Err,omitempty"`
	}{alias(m), m.Kind.String(), errString(m.Err)})
}

func (m *MirrorFailedMsg) UnmarshalJSON(data []byte) error {
	type alias MirrorFailedMsg
	var aux struct {
		alias
		Kind string          `json:"Kind"`
		Err  json.RawMessage `json:"Err"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*m = MirrorFailedMsg(aux.alias)
	m.Kind = types.ParseErrorKind(aux.Kind)
	m.Err = decodeErr(aux.Err)
	return nil
}
