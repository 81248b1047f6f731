package models

import (
	"sort"
	"strings"
	"time"
)

// MatchRecord is created atomically when two waiting entries are paired.
// Indexed by sessionId and by each participant's userId.
type MatchRecord struct {
	SessionID       string       `dynamodbav:"sessionId" json:"sessionId"`
	QueueKey        string       `dynamodbav:"queueKey" json:"queueKey"`
	Filters         QueueFilters `dynamodbav:"filters" json:"filters"`
	UserID          string       `dynamodbav:"userId" json:"userId"`
	UserName        string       `dynamodbav:"userName" json:"userName"`
	DeviceID        string       `dynamodbav:"deviceId" json:"deviceId"`
	PartnerID       string       `dynamodbav:"partnerId" json:"partnerId"`
	PartnerName     string       `dynamodbav:"partnerName" json:"partnerName"`
	PartnerDeviceID string       `dynamodbav:"partnerDeviceId" json:"partnerDeviceId"`
	CreatedAt       time.Time    `dynamodbav:"createdAt" json:"createdAt"`
	WsURL           string       `dynamodbav:"wsUrl" json:"wsUrl"`
	PartnerWsURL    string       `dynamodbav:"partnerWsUrl" json:"partnerWsUrl"`
}

// ViewFor returns the record as seen by one participant, swapping the
// user/partner sides when necessary. Lookups by either participant must
// resolve to the same sessionId.
func (m MatchRecord) ViewFor(userID string) MatchRecord {
	if m.UserID == userID {
		return m
	}
	swapped := m
	swapped.UserID, swapped.PartnerID = m.PartnerID, m.UserID
	swapped.UserName, swapped.PartnerName = m.PartnerName, m.UserName
	swapped.DeviceID, swapped.PartnerDeviceID = m.PartnerDeviceID, m.DeviceID
	swapped.WsURL, swapped.PartnerWsURL = m.PartnerWsURL, m.WsURL
	return swapped
}

// SessionID derives a session id from two user ids. Sorted before joining
// so either ordering yields the same id.
func SessionID(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, "_")
}

// SessionUser is one of the exactly-two participants of a session.
type SessionUser struct {
	UserID   string `dynamodbav:"userId" json:"userId"`
	UserName string `dynamodbav:"userName" json:"userName"`
	DeviceID string `dynamodbav:"deviceId" json:"deviceId"`
}

// SessionConfig is supplied once by the partition queue at bootstrap
// and may be re-supplied via heal.
type SessionConfig struct {
	SessionID string        `dynamodbav:"sessionId" json:"sessionId"`
	QueueKey  string        `dynamodbav:"queueKey" json:"queueKey"`
	Filters   QueueFilters  `dynamodbav:"filters" json:"filters"`
	Users     []SessionUser `dynamodbav:"users" json:"users"`
	CreatedAt time.Time     `dynamodbav:"createdAt" json:"createdAt"`
}

// UserNamed returns the participant with the given id, if present.
func (c *SessionConfig) UserNamed(userID string) (SessionUser, bool) {
	for _, u := range c.Users {
		if u.UserID == userID {
			return u, true
		}
	}
	return SessionUser{}, false
}

// PartnerOf returns the other participant.
func (c *SessionConfig) PartnerOf(userID string) (SessionUser, bool) {
	for _, u := range c.Users {
		if u.UserID != userID {
			return u, true
		}
	}
	return SessionUser{}, false
}

// ChatMessageRecord is one relayed message, kept in the bounded history.
type ChatMessageRecord struct {
	MessageID string `dynamodbav:"messageId" json:"messageId"`
	UserID    string `dynamodbav:"userId" json:"userId"`
	UserName  string `dynamodbav:"userName" json:"userName"`
	Message   string `dynamodbav:"message" json:"message"`
	Timestamp string `dynamodbav:"timestamp" json:"timestamp"`
}

// SessionStats counts relay traffic for one session.
type SessionStats struct {
	TotalMessages int `dynamodbav:"totalMessages" json:"totalMessages"`
}

// SessionState is the durable record for one session actor: config plus
// the rolling history and stats.
type SessionState struct {
	SessionID string              `dynamodbav:"sessionId" json:"sessionId"`
	Config    *SessionConfig      `dynamodbav:"config,omitempty" json:"config,omitempty"`
	History   []ChatMessageRecord `dynamodbav:"history,omitempty" json:"history,omitempty"`
	Stats     SessionStats        `dynamodbav:"stats" json:"stats"`
	SavedAt   time.Time           `dynamodbav:"savedAt" json:"savedAt"`
}

// TerminalSnapshot is flushed to the backup tier when a session terminates,
// then deleted right away. The backup store is a transient audit trail here,
// not long-term storage.
type TerminalSnapshot struct {
	SessionID     string    `json:"sessionId"`
	EndedAt       time.Time `json:"endedAt"`
	Reason        string    `json:"reason"`
	UserIDs       []string  `json:"userIds"`
	TotalMessages int       `json:"totalMessages"`
}
