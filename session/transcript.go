package session

import (
	"time"

	"twin/log"
	"twin/playback"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is immutable once appended.
type Message struct {
	Role       Role
	Body       string
	RenderedAt time.Time
}

// Entry is a read-only copy of one transcript slot.
type Entry struct {
	ID          int
	Placeholder bool
	Caption     string // placeholders only
	Message     Message
	// Playable assistant entries carry the speakable text and the state of
	// their playback control.
	Playable bool
	Playback playback.State
	Takeover bool
}

type entry struct {
	id        int
	msg       *Message
	caption   string
	speakable string
	state     playback.State
	takeover  bool

	t *transcript
}

// SetPlaybackState makes every assistant entry a playback affordance.
func (e *entry) SetPlaybackState(s playback.State) {
	if e.state == s {
		return
	}
	e.state = s
	e.t.changed()
}

func (e *entry) snapshot() Entry {
	out := Entry{ID: e.id, Takeover: e.takeover, Playback: e.state}
	if e.msg == nil {
		out.Placeholder = true
		out.Caption = e.caption
		return out
	}
	out.Message = *e.msg
	out.Playable = e.speakable != ""
	return out
}

// transcript is the ordered list of messages and thinking placeholders. It
// implements status.Board.
type transcript struct {
	entries []*entry
	nextID  int
	changed func()
}

func newTranscript(changed func()) *transcript {
	return &transcript{changed: changed}
}

func (t *transcript) add(e *entry) *entry {
	t.nextID++
	e.id = t.nextID
	e.t = t
	t.entries = append(t.entries, e)
	t.changed()
	return e
}

func (t *transcript) appendMessage(role Role, body string) *entry {
	log.Conversation(string(role), body)
	return t.add(&entry{msg: &Message{Role: role, Body: body, RenderedAt: time.Now()}})
}

func (t *transcript) InsertPlaceholder(caption string) int {
	return t.add(&entry{caption: caption}).id
}

func (t *transcript) UpdatePlaceholder(id int, caption string) {
	if e := t.find(id); e != nil && e.msg == nil {
		e.caption = caption
		t.changed()
	}
}

func (t *transcript) RemovePlaceholder(id int) {
	for i, e := range t.entries {
		if e.id == id && e.msg == nil {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			t.changed()
			return
		}
	}
}

func (t *transcript) find(id int) *entry {
	for _, e := range t.entries {
		if e.id == id {
			return e
		}
	}
	return nil
}

// latestPlayable is the newest assistant entry with speakable text.
func (t *transcript) latestPlayable() *entry {
	for i := len(t.entries) - 1; i >= 0; i-- {
		if e := t.entries[i]; e.msg != nil && e.speakable != "" {
			return e
		}
	}
	return nil
}

func (t *transcript) snapshot() []Entry {
	out := make([]Entry, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.snapshot()
	}
	return out
}

func (t *transcript) messages() []Message {
	var out []Message
	for _, e := range t.entries {
		if e.msg != nil {
			out = append(out, *e.msg)
		}
	}
	return out
}
