// Package auth verifies publisher/subscriber credentials against the
// password file and mints short-lived bearer tokens for stream opens.
package auth

import (
	"bufio"
	"crypto/subtle"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ducktracker/ducktracker/internal/ids"
)

var (
	// ErrBadCredentials covers both unknown users and wrong passwords;
	// callers must not be able to distinguish the two.
	ErrBadCredentials = errors.New("bad credentials")
	// ErrTokenExpired reports a missing, expired or evicted stream token.
	ErrTokenExpired = errors.New("token expired")
)

// Token store ceiling. Oldest tokens are evicted first once reached.
const maxTokens = 100000

// Gate holds the parsed password file and the live token set.
type Gate struct {
	users    map[string]string // username -> plaintext or bcrypt hash
	tokenTTL time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	tokens map[string]tokenRecord
	order  []string // insertion order for capacity eviction
}

type tokenRecord struct {
	user      string
	expiresAt time.Time
}

// NewGate reads the password file: one user:secret per line, '#' comment
// lines and blank lines ignored. Secrets starting with "$2" are bcrypt
// hashes, anything else is compared as plaintext.
func NewGate(passwdPath string, tokenTTL time.Duration, logger *zap.Logger) (*Gate, error) {
	f, err := os.Open(passwdPath)
	if err != nil {
		return nil, fmt.Errorf("opening password file: %w", err)
	}
	defer f.Close()

	users := make(map[string]string)
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		user, secret, ok := strings.Cut(line, ":")
		if !ok {
			logger.Warn("skipping malformed password line", zap.Int("line", lineNo))
			continue
		}
		users[strings.TrimSpace(user)] = strings.TrimSpace(secret)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading password file: %w", err)
	}

	logger.Info("password file loaded",
		zap.String("path", passwdPath),
		zap.Int("users", len(users)),
	)

	return &Gate{
		users:    users,
		tokenTTL: tokenTTL,
		logger:   logger,
		tokens:   make(map[string]tokenRecord),
	}, nil
}

// Verify checks basic credentials. bcrypt hashes are detected by their "$2"
// prefix; plaintext secrets use a constant-time comparison.
func (g *Gate) Verify(user, pass string) error {
	secret, ok := g.users[user]
	if !ok {
		// Burn comparable work so a missing user is not observably
		// faster than a wrong password.
		subtle.ConstantTimeCompare([]byte(pass), []byte(pass))
		return ErrBadCredentials
	}
	if strings.HasPrefix(secret, "$2") {
		if bcrypt.CompareHashAndPassword([]byte(secret), []byte(pass)) != nil {
			return ErrBadCredentials
		}
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(secret), []byte(pass)) != 1 {
		return ErrBadCredentials
	}
	return nil
}

// IssueToken verifies credentials and mints a stream token valid for the
// configured TTL. Tokens are reusable within their lifetime.
func (g *Gate) IssueToken(user, pass string) (string, error) {
	if err := g.Verify(user, pass); err != nil {
		return "", err
	}

	token := ids.NewStreamToken()
	now := time.Now()

	g.mu.Lock()
	defer g.mu.Unlock()
	g.pruneLocked(now)
	for len(g.order) >= maxTokens {
		oldest := g.order[0]
		g.order = g.order[1:]
		delete(g.tokens, oldest)
	}
	g.tokens[token] = tokenRecord{user: user, expiresAt: now.Add(g.tokenTTL)}
	g.order = append(g.order, token)
	return token, nil
}

// ConsumeToken validates a stream token and returns the user it was issued
// to. The token stays valid until its TTL passes.
func (g *Gate) ConsumeToken(token string) (string, error) {
	now := time.Now()

	g.mu.Lock()
	defer g.mu.Unlock()
	rec, ok := g.tokens[token]
	if !ok || now.After(rec.expiresAt) {
		return "", ErrTokenExpired
	}
	return rec.user, nil
}

// TokenDeadline reports when a live token stops authorizing its stream.
func (g *Gate) TokenDeadline(token string) (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	rec, ok := g.tokens[token]
	if !ok {
		return time.Time{}, false
	}
	return rec.expiresAt, true
}

func (g *Gate) pruneLocked(now time.Time) {
	kept := g.order[:0]
	for _, tok := range g.order {
		rec, ok := g.tokens[tok]
		if !ok {
			continue
		}
		if now.After(rec.expiresAt) {
			delete(g.tokens, tok)
			continue
		}
		kept = append(kept, tok)
	}
	g.order = kept
}
