// Package dedup implements the duplicate-suppression layer described in
// SPEC_FULL.md component C1: a message-id seen-set plus a phone+body
// fingerprint window, both backed by Redis. Dedup fails open: any Redis
// error is logged and treated as "not a duplicate" rather than blocking
// delivery.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/text/unicode/norm"
)

// phoneBodyWindowScript is a direct translation of the original
// implementation's _LUA_PHONE_BODY_WINDOW: it atomically checks whether a
// phone+body fingerprint was seen inside the window and (re)arms the TTL
// either way, so a burst of identical retries keeps the window sliding.
const phoneBodyWindowScript = `
local pb_key = KEYS[1]
local ttl_seconds = tonumber(ARGV[1])
local message_id = ARGV[2]

local existing = redis.call('GET', pb_key)

if existing == false then
  redis.call('SET', pb_key, message_id, 'EX', ttl_seconds)
  return 0
end

if existing == message_id then
  redis.call('EXPIRE', pb_key, ttl_seconds)
  return 0
end

redis.call('EXPIRE', pb_key, ttl_seconds)
return 1
`

var whitespaceRE = regexp.MustCompile(`\s+`)

const defaultKeyPrefix = "dedup:sms"

// Store checks and records message-id and phone+body duplicates in Redis.
type Store struct {
	client        *redis.Client
	keyPrefix     string
	windowFn      *redis.Script
	logger        *log.Logger
}

// NewStore builds a dedup Store over an existing Redis client.
func NewStore(client *redis.Client, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.New(log.Writer(), "[dedup] ", log.LstdFlags)
	}
	return &Store{
		client:    client,
		keyPrefix: defaultKeyPrefix,
		windowFn:  redis.NewScript(phoneBodyWindowScript),
		logger:    logger,
	}
}

// Flags reports the two duplicate signals the rule engine needs:
// duplicate-by-message-id (an exact redelivery) and duplicate-by-phone-body
// (the same recipient getting the same text again inside windowSeconds).
// A windowSeconds of zero or less disables both checks: Flags returns
// (false, false) without touching Redis.
func (s *Store) Flags(ctx context.Context, messageID, phone, body string, windowSeconds int) (byMessageID, byPhoneBody bool) {
	if windowSeconds <= 0 {
		return false, false
	}

	midKey := s.keyPrefix + ":mid:" + messageID
	pbKey := s.keyPrefix + ":pb:" + fingerprint(phone, body)

	exists, err := s.client.Exists(ctx, midKey).Result()
	if err != nil {
		s.logger.Printf("redis dedup check failed (mid=%s): %v", messageID, err)
		return false, false
	}

	dup, err := s.windowFn.Run(ctx, s.client, []string{pbKey}, windowSeconds, messageID).Int()
	if err != nil {
		s.logger.Printf("redis dedup window check failed (mid=%s): %v", messageID, err)
		return exists > 0, false
	}

	return exists > 0, dup == 1
}

// Mark records messageID as seen for ttlSeconds. Used once a message has
// been durably accepted, so later redeliveries are recognized as
// duplicates rather than being reprocessed.
func (s *Store) Mark(ctx context.Context, messageID string, ttlSeconds int) {
	if ttlSeconds <= 0 {
		return
	}
	midKey := s.keyPrefix + ":mid:" + messageID
	if err := s.client.Set(ctx, midKey, "1", time.Duration(ttlSeconds)*time.Second).Err(); err != nil {
		s.logger.Printf("redis dedup mark failed (mid=%s): %v", messageID, err)
	}
}

// fingerprint builds the SHA-256 hex digest of "<phone>\n<normalized body>",
// where the body is NFKC-normalized and its runs of whitespace collapsed to
// a single space, matching the original implementation's
// _phone_body_fingerprint.
func fingerprint(phone, body string) string {
	phoneNorm := strings.TrimSpace(phone)
	bodyNorm := normalizeBody(body)
	payload := phoneNorm + "\n" + bodyNorm
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

func normalizeBody(body string) string {
	normalized := norm.NFKC.String(body)
	normalized = whitespaceRE.ReplaceAllString(normalized, " ")
	return strings.TrimSpace(normalized)
}
