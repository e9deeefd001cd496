package redis

import (
	"fmt"

	"github.com/mcoot/logingate/internal/model"
)

// Key generation functions for each entity type

// credentialKey returns the Redis key for a CredentialRecord
func (s *Storage) credentialKey(p model.Principal) string {
	return fmt.Sprintf("%s:cred:%s", s.cfg.KeyPrefix, p)
}

// sessionKey returns the Redis key for the HASH holding a SessionLease
func (s *Storage) sessionKey(p model.Principal) string {
	return fmt.Sprintf("%s:session:%s", s.cfg.KeyPrefix, p)
}

// attemptKey returns the Redis key for a failed-attempt counter
func (s *Storage) attemptKey(key model.AttemptKey) string {
	return fmt.Sprintf("%s:ratelimit:%s:%s", s.cfg.KeyPrefix, key.Kind, key.Value)
}

// eventChannel returns the pub/sub channel for session events
func (s *Storage) eventChannel() string {
	return fmt.Sprintf("%s:session-events", s.cfg.KeyPrefix)
}

// codeKey returns the Redis key for a one-time code; the kinds live in
// separate keyspaces so a code of one kind never redeems as the other
func (s *Storage) codeKey(kind model.CodeKind, code string) string {
	if kind == model.CodeKindWeb {
		return fmt.Sprintf("%s:web:%s", s.cfg.KeyPrefix, code)
	}
	return fmt.Sprintf("%s:code:%s", s.cfg.KeyPrefix, code)
}

// codeOwnerKey returns the Redis key indexing a principal's live login code
func (s *Storage) codeOwnerKey(p model.Principal) string {
	return fmt.Sprintf("%s:code-owner:%s", s.cfg.KeyPrefix, p)
}
