package tc

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// MessageType identifies a log entry. Message types carry user-facing
// payloads; milestone types are markers that bound which messages count
// toward the current derived status.
type MessageType int

const (
	MessageHistory MessageType = iota
	MessageNewStuff
	MessageError
	MessageErrorNoReload
	MessageClobberPending
	MilestoneReloaded
	MilestoneLogDisplayed
	MilestoneShowedClobbered
)

var messageTypeNames = map[MessageType]string{
	MessageHistory:           "History",
	MessageNewStuff:          "NewStuff",
	MessageError:             "Error",
	MessageErrorNoReload:     "ErrorNoReload",
	MessageClobberPending:    "ClobberPending",
	MilestoneReloaded:        "Reloaded",
	MilestoneLogDisplayed:    "LogDisplayed",
	MilestoneShowedClobbered: "ShowedClobbered",
}

func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("MessageType(%d)", int(t))
}

// IsMilestone reports whether t is a marker rather than a message.
func (t MessageType) IsMilestone() bool {
	switch t {
	case MilestoneReloaded, MilestoneLogDisplayed, MilestoneShowedClobbered:
		return true
	}
	return false
}

func parseMessageType(name string) (MessageType, bool) {
	for t, n := range messageTypeNames {
		if n == name {
			return t, true
		}
	}
	return 0, false
}

// CollectionStatus is the aggregate condition of a Team Collection, always
// recomputed from the message log tail rather than stored.
type CollectionStatus int

const (
	StatusNone CollectionStatus = iota
	StatusNominal
	StatusNewStuff
	StatusError
	StatusClobberPending
	StatusDisconnected
)

func (s CollectionStatus) String() string {
	switch s {
	case StatusNominal:
		return "Nominal"
	case StatusNewStuff:
		return "NewStuff"
	case StatusError:
		return "Error"
	case StatusClobberPending:
		return "ClobberPending"
	case StatusDisconnected:
		return "Disconnected"
	default:
		return "None"
	}
}

// Message is one log entry. Param0 and Param1 substitute into the template
// (and the localized string looked up by L10nID in the UI layer).
type Message struct {
	When     time.Time
	Type     MessageType
	L10nID   string
	Template string
	Param0   string
	Param1   string
}

// Text renders the English template with its parameters substituted.
func (m Message) Text() string {
	out := strings.ReplaceAll(m.Template, "{0}", m.Param0)
	return strings.ReplaceAll(out, "{1}", m.Param1)
}

// MessageLog is the append-only, persisted record of collection events.
// Entries are never edited or deleted. One log exists per collection,
// persisted line-by-line in a tab-delimited file.
type MessageLog struct {
	path  string
	clock Clock

	mu        sync.Mutex
	messages  []Message
	listeners []func(CollectionStatus)
}

// NewMessageLog opens (or creates) the log at path and rehydrates in-memory
// messages from the most recent Reloaded milestone onward. Older history
// stays on disk and is reloadable with LoadAll.
func NewMessageLog(path string, clock Clock) (*MessageLog, error) {
	log := &MessageLog{path: path, clock: clock}

	all, err := readLogFile(path)
	if err != nil {
		return nil, err
	}
	start := 0
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].Type == MilestoneReloaded {
			start = i
			break
		}
	}
	log.messages = all[start:]
	return log, nil
}

// Subscribe registers a listener invoked (with the newly derived status)
// whenever a non-duplicate message or milestone is written.
func (l *MessageLog) Subscribe(fn func(CollectionStatus)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

// WriteMessage appends a message to the log. A NewStuff message identical in
// (type, l10nId, param0, param1) to one already present since the last
// Reloaded milestone is suppressed, so one unresolved remote change does not
// notify repeatedly.
func (l *MessageLog) WriteMessage(t MessageType, l10nID, template, param0, param1 string) error {
	l.mu.Lock()
	if t == MessageNewStuff {
		for _, m := range l.sinceLocked(MilestoneReloaded) {
			if m.Type == t && m.L10nID == l10nID && m.Param0 == param0 && m.Param1 == param1 {
				l.mu.Unlock()
				return nil
			}
		}
	}
	msg := Message{
		When:     l.clock.Now().UTC(),
		Type:     t,
		L10nID:   l10nID,
		Template: template,
		Param0:   param0,
		Param1:   param1,
	}
	err := l.appendLocked(msg)
	status := l.statusLocked()
	listeners := append([]func(CollectionStatus){}, l.listeners...)
	l.mu.Unlock()

	if err != nil {
		return err
	}
	for _, fn := range listeners {
		fn(status)
	}
	return nil
}

// WriteMilestone appends a milestone marker.
func (l *MessageLog) WriteMilestone(t MessageType) error {
	l.mu.Lock()
	err := l.appendLocked(Message{When: l.clock.Now().UTC(), Type: t})
	status := l.statusLocked()
	listeners := append([]func(CollectionStatus){}, l.listeners...)
	l.mu.Unlock()

	if err != nil {
		return err
	}
	for _, fn := range listeners {
		fn(status)
	}
	return nil
}

// CurrentErrors returns the error messages since the most recent
// LogDisplayed or Reloaded milestone, whichever is later.
func (l *MessageLog) CurrentErrors() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	tail := l.sinceLocked(MilestoneLogDisplayed, MilestoneReloaded)
	var out []Message
	for _, m := range tail {
		if m.Type == MessageError || m.Type == MessageErrorNoReload {
			out = append(out, m)
		}
	}
	return out
}

// CurrentNewStuff returns the NewStuff messages since the most recent
// Reloaded milestone.
func (l *MessageLog) CurrentNewStuff() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Message
	for _, m := range l.sinceLocked(MilestoneReloaded) {
		if m.Type == MessageNewStuff {
			out = append(out, m)
		}
	}
	return out
}

// CurrentClobberMessage returns the pending clobber message, if the most
// recent of {ClobberPending, ShowedClobbered, Reloaded} is a ClobberPending.
// Otherwise the condition has been shown or reloaded away.
func (l *MessageLog) CurrentClobberMessage() (Message, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.clobberLocked()
}

func (l *MessageLog) clobberLocked() (Message, bool) {
	for i := len(l.messages) - 1; i >= 0; i-- {
		switch l.messages[i].Type {
		case MessageClobberPending:
			return l.messages[i], true
		case MilestoneShowedClobbered, MilestoneReloaded:
			return Message{}, false
		}
	}
	return Message{}, false
}

// Status derives the aggregate collection status from the log tail.
// Precedence: ClobberPending > Error > NewStuff > Nominal.
func (l *MessageLog) Status() CollectionStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.statusLocked()
}

// Messages returns a copy of the in-memory (post-milestone) messages.
func (l *MessageLog) Messages() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Message{}, l.messages...)
}

// LoadAll reads the full persisted history from disk, oldest first.
func (l *MessageLog) LoadAll() ([]Message, error) {
	return readLogFile(l.path)
}

func (l *MessageLog) statusLocked() CollectionStatus {
	if _, pending := l.clobberLocked(); pending {
		return StatusClobberPending
	}
	for _, m := range l.sinceLocked(MilestoneLogDisplayed, MilestoneReloaded) {
		if m.Type == MessageError || m.Type == MessageErrorNoReload {
			return StatusError
		}
	}
	for _, m := range l.sinceLocked(MilestoneReloaded) {
		if m.Type == MessageNewStuff {
			return StatusNewStuff
		}
	}
	return StatusNominal
}

// sinceLocked returns the messages after the most recent milestone of any of
// the given types, or all messages if none is present.
func (l *MessageLog) sinceLocked(bounds ...MessageType) []Message {
	for i := len(l.messages) - 1; i >= 0; i-- {
		for _, b := range bounds {
			if l.messages[i].Type == b {
				return l.messages[i+1:]
			}
		}
	}
	return l.messages
}

// appendLocked records the message in memory and appends one tab-delimited
// line to the log file. Callers hold l.mu.
func (l *MessageLog) appendLocked(m Message) error {
	l.messages = append(l.messages, m)

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("opening message log: %w", err)
	}
	defer f.Close()

	line := strings.Join([]string{
		m.When.Format(time.RFC3339),
		m.Type.String(),
		sanitizeField(m.L10nID),
		sanitizeField(m.Template),
		sanitizeField(m.Param0),
		sanitizeField(m.Param1),
	}, "\t")
	if _, err := fmt.Fprintln(f, line); err != nil {
		return fmt.Errorf("appending to message log: %w", err)
	}
	return nil
}

// sanitizeField keeps the tab-delimited format intact.
func sanitizeField(s string) string {
	s = strings.ReplaceAll(s, "\t", " ")
	return strings.ReplaceAll(s, "\n", " ")
}

// readLogFile parses a persisted log. Short lines leave trailing fields
// empty; unparseable lines are skipped rather than aborting the read.
func readLogFile(path string) ([]Message, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening message log: %w", err)
	}
	defer f.Close()

	var out []Message
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Split(scanner.Text(), "\t")
		if len(fields) < 2 {
			continue
		}
		when, err := time.Parse(time.RFC3339, fields[0])
		if err != nil {
			continue
		}
		t, ok := parseMessageType(fields[1])
		if !ok {
			continue
		}
		m := Message{When: when, Type: t}
		if len(fields) > 2 {
			m.L10nID = fields[2]
		}
		if len(fields) > 3 {
			m.Template = fields[3]
		}
		if len(fields) > 4 {
			m.Param0 = fields[4]
		}
		if len(fields) > 5 {
			m.Param1 = fields[5]
		}
		out = append(out, m)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading message log: %w", err)
	}
	return out, nil
}
