// Package pairing implements short-lived code-based identity linking.
//
// Under a restrictive DM policy, first contact from an unknown sender
// creates a pairing request with a random 6-digit code. The user confirms
// the code through the trusted primary interface (or by repeating it in
// chat); confirmation links the sender to an owner identity without a
// restart. Requests expire after a fixed TTL and are purged lazily.
package pairing

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"sort"
	"sync"
	"time"
)

// DefaultTTL is how long a pairing code stays valid.
const DefaultTTL = 10 * time.Minute

var codePattern = regexp.MustCompile(`\b(\d{6})\b`)

// Request is one live pairing request, keyed by code.
type Request struct {
	Code      string    `json:"code"`
	SenderID  string    `json:"sender_id"`
	ChatID    string    `json:"chat_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Store struct {
	mu     sync.Mutex
	byCode map[string]*Request
	ttl    time.Duration

	now func() time.Time // test hook
}

func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		byCode: make(map[string]*Request),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Begin creates a pairing request for senderID, or refreshes the existing
// live one. Repeat contact from the same sender never piles up duplicate
// codes; the previously issued code stays valid until its TTL.
func (s *Store) Begin(senderID, chatID string) (*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.purgeLocked(now)

	for _, req := range s.byCode {
		if req.SenderID == senderID {
			req.ExpiresAt = now.Add(s.ttl)
			req.ChatID = chatID
			return req, nil
		}
	}

	code, err := randomCode()
	if err != nil {
		return nil, fmt.Errorf("generating pairing code: %w", err)
	}
	req := &Request{
		Code:      code,
		SenderID:  senderID,
		ChatID:    chatID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	s.byCode[code] = req
	return req, nil
}

// Match reports whether text contains the live code issued to senderID.
// On a match the request is consumed.
func (s *Store) Match(senderID, text string) (*Request, bool) {
	code := codePattern.FindString(text)
	if code == "" {
		return nil, false
	}
	return s.Confirm(code, senderID)
}

// Confirm consumes a live request by code. The sender must match when
// senderID is non-empty (chat confirmation); an empty senderID confirms
// administratively (trusted primary interface).
func (s *Store) Confirm(code, senderID string) (*Request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeLocked(s.now())
	req, ok := s.byCode[code]
	if !ok {
		return nil, false
	}
	if senderID != "" && req.SenderID != senderID {
		return nil, false
	}
	delete(s.byCode, code)
	return req, true
}

// Pending returns the live requests, oldest first.
func (s *Store) Pending() []*Request {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeLocked(s.now())
	out := make([]*Request, 0, len(s.byCode))
	for _, req := range s.byCode {
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Purge drops expired requests. Expiry is otherwise lazy, on each access.
func (s *Store) Purge() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := len(s.byCode)
	s.purgeLocked(s.now())
	return before - len(s.byCode)
}

func (s *Store) purgeLocked(now time.Time) {
	for code, req := range s.byCode {
		if now.After(req.ExpiresAt) {
			delete(s.byCode, code)
		}
	}
}

func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
