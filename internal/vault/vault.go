// Package vault encrypts per-user captured browsing-session blobs at rest.
// The encryption key is derived from the user identifier plus a machine-bound
// secret, so a credential captured on one machine cannot be decrypted on
// another. That portability restriction is deliberate.
package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

// keySalt versions the key derivation. Changing it invalidates every stored
// credential.
const keySalt = "deskbot-vault-v1"

const keyIterations = 16384

var (
	// ErrNotFound is returned when no credential is stored for the user.
	ErrNotFound = errors.New("vault: credential not found")
	// ErrInvalidated is returned when the stored credential was marked
	// invalid after an observed session expiry. Callers treat it like
	// ErrNotFound: a fresh capture is required.
	ErrInvalidated = errors.New("vault: credential invalidated")
	// ErrDecryption is returned on tamper, corruption, or a key mismatch
	// (typically a credential copied from another machine). Callers treat it
	// as not-found, forcing re-capture.
	ErrDecryption = errors.New("vault: decryption failed")
)

// Record is the persisted shape of an encrypted credential. Exactly one
// record exists per user; a refresh overwrites, never appends.
type Record struct {
	UserID     string
	Ciphertext []byte
	CapturedAt time.Time
	Valid      bool
}

// Store persists encrypted credential records. Implementations must overwrite
// any existing record for the same user.
type Store interface {
	SaveCredential(ctx context.Context, rec Record) error
	GetCredential(ctx context.Context, userID string) (Record, error)
}

// Vault seals and opens credential blobs. Reads and writes for the same user
// are serialized so a refresh cannot race an in-progress load.
type Vault struct {
	store         Store
	machineSecret []byte
	now           func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New constructs a Vault bound to the given machine secret. When now is nil,
// time.Now is used.
func New(store Store, machineSecret []byte, now func() time.Time) (*Vault, error) {
	if store == nil {
		return nil, errors.New("vault: store is required")
	}
	if len(machineSecret) == 0 {
		return nil, errors.New("vault: machine secret is required")
	}
	if now == nil {
		now = time.Now
	}
	return &Vault{
		store:         store,
		machineSecret: append([]byte(nil), machineSecret...),
		now:           now,
		locks:         make(map[string]*sync.Mutex),
	}, nil
}

// Store seals the plaintext blob for the user and overwrites any previous
// record, marking it valid.
func (v *Vault) Store(ctx context.Context, userID string, plaintext []byte) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("vault: user id is required")
	}
	if len(plaintext) == 0 {
		return errors.New("vault: refusing to store an empty credential")
	}

	lock := v.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	ciphertext, err := v.seal(userID, plaintext)
	if err != nil {
		return err
	}
	return v.store.SaveCredential(ctx, Record{
		UserID:     userID,
		Ciphertext: ciphertext,
		CapturedAt: v.now().UTC(),
		Valid:      true,
	})
}

// Load opens the user's credential. It fails with ErrNotFound when nothing is
// stored, ErrInvalidated when the record was marked invalid, and ErrDecryption
// when the ciphertext cannot be authenticated with this machine's key.
func (v *Vault) Load(ctx context.Context, userID string) ([]byte, error) {
	lock := v.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	rec, err := v.store.GetCredential(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !rec.Valid {
		return nil, ErrInvalidated
	}
	return v.open(userID, rec.Ciphertext)
}

// Invalidate marks the stored credential unusable. Called when the automation
// driver observes a navigation back to a login surface.
func (v *Vault) Invalidate(ctx context.Context, userID string) error {
	lock := v.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	rec, err := v.store.GetCredential(ctx, userID)
	if err != nil {
		return err
	}
	rec.Valid = false
	return v.store.SaveCredential(ctx, rec)
}

// Info returns the credential's capture metadata without decrypting it.
func (v *Vault) Info(ctx context.Context, userID string) (capturedAt time.Time, valid bool, err error) {
	rec, err := v.store.GetCredential(ctx, userID)
	if err != nil {
		return time.Time{}, false, err
	}
	return rec.CapturedAt, rec.Valid, nil
}

func (v *Vault) userLock(userID string) *sync.Mutex {
	v.mu.Lock()
	defer v.mu.Unlock()
	lock, ok := v.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		v.locks[userID] = lock
	}
	return lock
}

func (v *Vault) deriveKey(userID string) []byte {
	material := make([]byte, 0, len(userID)+1+len(v.machineSecret))
	material = append(material, userID...)
	material = append(material, ':')
	material = append(material, v.machineSecret...)
	return pbkdf2.Key(material, []byte(keySalt), keyIterations, 32, sha256.New)
}

func (v *Vault) seal(userID string, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(v.deriveKey(userID))
	if err != nil {
		return nil, fmt.Errorf("vault: cipher init: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: gcm init: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("vault: nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (v *Vault) open(userID string, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(v.deriveKey(userID))
	if err != nil {
		return nil, fmt.Errorf("vault: cipher init: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: gcm init: %w", err)
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, ErrDecryption
	}
	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrDecryption
	}
	return plaintext, nil
}

// MachineSecret resolves the machine-bound key component. An explicit secret
// wins; otherwise the OS machine id is used, with the hostname as a last
// resort so development machines without /etc/machine-id still work.
func MachineSecret(explicit string) ([]byte, error) {
	if s := strings.TrimSpace(explicit); s != "" {
		return []byte(s), nil
	}
	if data, err := os.ReadFile("/etc/machine-id"); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return []byte(id), nil
		}
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		return nil, errors.New("vault: no machine secret available")
	}
	return []byte("host:" + host), nil
}
