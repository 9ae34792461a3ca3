package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/argon2"
)

const (
	// TokenLength is the number of characters in a generated access token.
	TokenLength = 64

	tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	fileVersion   = 1
)

// Params are the Argon2id cost parameters.
type Params struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
	KeyLen  uint32
	SaltLen uint32
}

// DefaultParams is 3 passes over 64 MiB with 2 lanes.
var DefaultParams = Params{Time: 3, Memory: 64 * 1024, Threads: 2, KeyLen: 32, SaltLen: 16}

var errMalformedHash = errors.New("malformed argon2id hash")

// tokenFile is the on-disk form. Only the hash is stored.
type tokenFile struct {
	Hash      string `json:"hash"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
	Version   int    `json:"version"`
}

// TokenManager owns the single access token. The plaintext is returned
// once when generated and never stored.
type TokenManager struct {
	path   string
	params Params
	audit  *Auditor

	mu   sync.RWMutex
	file tokenFile
}

// NewTokenManager creates a manager persisting to path. audit may be nil.
func NewTokenManager(path string, params Params, audit *Auditor) *TokenManager {
	return &TokenManager{path: path, params: params, audit: audit}
}

// Initialize loads the token file. When the file is missing or unusable a
// new token is generated and its plaintext returned; otherwise the returned
// string is empty.
func (m *TokenManager) Initialize() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	raw, err := os.ReadFile(m.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("failed to read token file: %w", err)
		}
		return m.createLocked(true, "no_file")
	}

	var file tokenFile
	if err := json.Unmarshal(raw, &file); err != nil {
		log.Warn().Err(err).Str("path", m.path).Msg("Token file is corrupted, generating a new token")
		return m.createLocked(true, "corrupted")
	}
	if file.Hash == "" {
		return m.createLocked(true, "missing_hash")
	}

	m.file = file
	m.audit.Record(EventTokenLoaded, "ok")
	return "", nil
}

// Regenerate replaces the token. The previous token stops verifying
// immediately.
func (m *TokenManager) Regenerate() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	plain, err := m.createLocked(false, "manual_regenerate")
	if err != nil {
		return "", err
	}
	m.audit.Record(EventTokenRegenerated, "manual")
	return plain, nil
}

// Verify reports whether token matches the stored hash. Every attempt is
// audited.
func (m *TokenManager) Verify(token string) bool {
	m.mu.RLock()
	hash := m.file.Hash
	m.mu.RUnlock()

	if hash == "" || token == "" {
		m.audit.Failure(EventVerifyFail, "empty")
		return false
	}

	ok, err := verifyHash(hash, token)
	switch {
	case err != nil:
		m.audit.Failure(EventVerifyError, err.Error())
		return false
	case !ok:
		m.audit.Failure(EventVerifyFail, "mismatch")
		return false
	}
	m.audit.Success()
	return true
}

// CreatedAt returns when the first token was generated.
func (m *TokenManager) CreatedAt() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.UnixMilli(m.file.CreatedAt)
}

func (m *TokenManager) createLocked(first bool, note string) (string, error) {
	plain, err := generateToken(TokenLength)
	if err != nil {
		return "", err
	}
	hash, err := hashToken(plain, m.params)
	if err != nil {
		return "", err
	}

	now := time.Now().UnixMilli()
	file := tokenFile{
		Hash:      hash,
		CreatedAt: m.file.CreatedAt,
		UpdatedAt: now,
		Version:   fileVersion,
	}
	if first || file.CreatedAt == 0 {
		file.CreatedAt = now
	}

	if err := writeTokenFile(m.path, file); err != nil {
		return "", err
	}
	m.file = file

	origin := "regenerate"
	if first {
		origin = "first_init"
	}
	m.audit.Record(EventTokenGenerated, origin+"\t"+note)
	log.Info().Str("origin", origin).Str("path", m.path).Msg("Access token generated")
	return plain, nil
}

func writeTokenFile(path string, file tokenFile) error {
	raw, err := json.Marshal(file)
	if err != nil {
		return fmt.Errorf("failed to encode token file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	return nil
}

// generateToken returns n characters drawn uniformly from tokenAlphabet.
func generateToken(n int) (string, error) {
	var sb strings.Builder
	sb.Grow(n)
	limit := big.NewInt(int64(len(tokenAlphabet)))
	for range n {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("failed to generate token: %w", err)
		}
		sb.WriteByte(tokenAlphabet[idx.Int64()])
	}
	return sb.String(), nil
}

// hashToken encodes an Argon2id hash in the PHC string format.
func hashToken(token string, p Params) (string, error) {
	salt := make([]byte, p.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(token), salt, p.Time, p.Memory, p.Threads, p.KeyLen)
	enc := base64.RawStdEncoding
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.Memory, p.Time, p.Threads, enc.EncodeToString(salt), enc.EncodeToString(key)), nil
}

func verifyHash(encoded, token string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, errMalformedHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false, errMalformedHash
	}

	var p Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Time, &p.Threads); err != nil {
		return false, errMalformedHash
	}

	enc := base64.RawStdEncoding
	salt, err := enc.DecodeString(parts[4])
	if err != nil {
		return false, errMalformedHash
	}
	want, err := enc.DecodeString(parts[5])
	if err != nil {
		return false, errMalformedHash
	}

	got := argon2.IDKey([]byte(token), salt, p.Time, p.Memory, p.Threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}
