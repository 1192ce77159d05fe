package chat

import (
	"fmt"
	"strings"
)

// Mode selects the interviewer persona on the server.
type Mode string

const (
	ModeHR       Mode = "hr"
	ModeTechLead Mode = "tech_lead"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeHR, "":
		return ModeHR, nil
	case ModeTechLead, "tech", "techlead":
		return ModeTechLead, nil
	}
	return "", fmt.Errorf("unknown mode %q (use hr or tech_lead)", s)
}

func (m Mode) Toggle() Mode {
	if m == ModeTechLead {
		return ModeHR
	}
	return ModeTechLead
}

func (m Mode) Label() string {
	if m == ModeTechLead {
		return "TECH LEAD"
	}
	return "HR"
}

// Level is the seniority slider, Junior (0) to CTO (3).
type Level int

const (
	LevelJunior Level = iota
	LevelMiddle
	LevelSenior
	LevelCTO
)

const DefaultLevel = LevelSenior

var levelNames = [...]string{"Junior", "Middle", "Senior", "CTO"}

func (l Level) Valid() bool { return l >= LevelJunior && l <= LevelCTO }

func (l Level) String() string {
	if !l.Valid() {
		return fmt.Sprintf("Level(%d)", int(l))
	}
	return levelNames[l]
}

// Next wraps from CTO back to Junior.
func (l Level) Next() Level {
	if l >= LevelCTO || l < LevelJunior {
		return LevelJunior
	}
	return l + 1
}

// Request is the chat endpoint payload.
type Request struct {
	Message   string `json:"message"`
	Mode      Mode   `json:"mode"`
	Seniority Level  `json:"seniority"`
}

type Reply struct {
	Response string `json:"response"`
}

// History roles used by the report endpoint.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type synthesisRequest struct {
	Text string `json:"text"`
}

type reportRequest struct {
	ChatHistory []HistoryEntry `json:"chat_history"`
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Endpoint string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("%s: status %d: %s", e.Endpoint, e.Code, body)
}
