package wallet

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/centrifuge/go-substrate-rpc-client/v4/signature"
	"github.com/vedhavyas/go-subkey/v2"
	"golang.org/x/crypto/argon2"

	"github.com/jask/dotsend/internal/chain"
)

const (
	extensionName    = "dotsend-keystore"
	extensionVersion = "1"
	saltSize         = 16
)

// Key is the public view of a stored key.
type Key struct {
	Name      string
	Address   string
	PublicKey string
}

type storedKey struct {
	Name      string `json:"name"`
	Address   string `json:"address"`
	PublicKey string `json:"public_key"` // hex
	Secret    string `json:"secret"`     // base64(nonce|ciphertext) of the secret URI
}

type keyFile struct {
	Salt    string      `json:"salt"`
	Keys    []storedKey `json:"keys"`
	Origins []string    `json:"origins"`
}

// Keystore keeps sr25519 secret URIs in a file (0600), sealed with AES-GCM
// under a key derived from a passphrase with argon2id.
type Keystore struct {
	path       string
	passphrase []byte
	network    uint16

	mu sync.Mutex
}

// OpenKeystore uses the file at path, creating its directory if needed. An
// empty passphrase falls back to a per-user machine passphrase.
func OpenKeystore(path, passphrase string, network uint16) (*Keystore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("keystore path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	if passphrase == "" {
		passphrase = machinePassphrase()
	}
	return &Keystore{path: path, passphrase: []byte(passphrase), network: network}, nil
}

func (k *Keystore) Path() string { return k.path }

// Add stores the key behind secret (mnemonic, hex seed or dev URI such as
// //Alice) under name and returns its public view.
func (k *Keystore) Add(name, secret string) (Key, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Key{}, fmt.Errorf("key name required")
	}
	pair, err := signature.KeyringPairFromSecret(strings.TrimSpace(secret), k.network)
	if err != nil {
		return Key{}, fmt.Errorf("derive key: %w", err)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	kf, err := k.load()
	if err != nil {
		return Key{}, err
	}
	pub := hex.EncodeToString(pair.PublicKey)
	for _, sk := range kf.Keys {
		if sk.Name == name {
			return Key{}, fmt.Errorf("key %q already exists", name)
		}
		if sk.PublicKey == pub {
			return Key{}, fmt.Errorf("key already stored as %q", sk.Name)
		}
	}
	if err := k.verify(kf); err != nil {
		return Key{}, err
	}
	sealed, err := k.seal(&kf, []byte(pair.URI))
	if err != nil {
		return Key{}, err
	}
	kf.Keys = append(kf.Keys, storedKey{Name: name, Address: pair.Address, PublicKey: pub, Secret: sealed})
	if err := k.save(kf); err != nil {
		return Key{}, err
	}
	return Key{Name: name, Address: pair.Address, PublicKey: pub}, nil
}

func (k *Keystore) List() ([]Key, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	kf, err := k.load()
	if err != nil {
		return nil, err
	}
	out := make([]Key, 0, len(kf.Keys))
	for _, sk := range kf.Keys {
		out = append(out, Key{Name: sk.Name, Address: sk.Address, PublicKey: sk.PublicKey})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Remove deletes the key stored under name.
func (k *Keystore) Remove(name string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	kf, err := k.load()
	if err != nil {
		return err
	}
	i := slices.IndexFunc(kf.Keys, func(sk storedKey) bool { return sk.Name == name })
	if i < 0 {
		return fmt.Errorf("key %q not found", name)
	}
	kf.Keys = slices.Delete(kf.Keys, i, i+1)
	return k.save(kf)
}

// Grant allows origin to see the stored accounts.
func (k *Keystore) Grant(origin string) error {
	origin = normOrigin(origin)
	if origin == "" {
		return fmt.Errorf("origin required")
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	kf, err := k.load()
	if err != nil {
		return err
	}
	if slices.Contains(kf.Origins, origin) {
		return nil
	}
	kf.Origins = append(kf.Origins, origin)
	sort.Strings(kf.Origins)
	return k.save(kf)
}

func (k *Keystore) Revoke(origin string) error {
	origin = normOrigin(origin)
	k.mu.Lock()
	defer k.mu.Unlock()
	kf, err := k.load()
	if err != nil {
		return err
	}
	kf.Origins = slices.DeleteFunc(kf.Origins, func(o string) bool { return o == origin })
	return k.save(kf)
}

func (k *Keystore) Origins() ([]string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	kf, err := k.load()
	if err != nil {
		return nil, err
	}
	return kf.Origins, nil
}

// RequestAuthorization answers with this keystore when origin was granted
// and at least one key is stored.
func (k *Keystore) RequestAuthorization(ctx context.Context, origin string) ([]Extension, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	kf, err := k.load()
	if err != nil {
		return nil, err
	}
	if len(kf.Keys) == 0 || !slices.Contains(kf.Origins, normOrigin(origin)) {
		return nil, nil
	}
	ext := Extension{Name: extensionName, Version: extensionVersion}
	for _, sk := range kf.Keys {
		ext.Accounts = append(ext.Accounts, sk.Address)
	}
	return []Extension{ext}, nil
}

// SignerFor returns a signer for the stored key whose public key matches
// address, whatever SS58 prefix address uses.
func (k *Keystore) SignerFor(ctx context.Context, address string) (chain.Signer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, pub, err := subkey.SS58Decode(strings.TrimSpace(address))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoSigner, err)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	kf, err := k.load()
	if err != nil {
		return nil, err
	}
	for _, sk := range kf.Keys {
		stored, err := hex.DecodeString(sk.PublicKey)
		if err != nil || !bytes.Equal(stored, pub) {
			continue
		}
		uri, err := k.open(kf, sk.Secret)
		if err != nil {
			return nil, fmt.Errorf("unlock key %q: %w", sk.Name, err)
		}
		return &keySigner{address: strings.TrimSpace(address), pub: stored, uri: string(uri)}, nil
	}
	return nil, fmt.Errorf("%w %s", ErrNoSigner, address)
}

type keySigner struct {
	address string
	pub     []byte
	uri     string
}

func (s *keySigner) Address() string   { return s.address }
func (s *keySigner) PublicKey() []byte { return bytes.Clone(s.pub) }

func (s *keySigner) SignPayload(ctx context.Context, payload []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return signature.Sign(payload, s.uri)
}

func (k *Keystore) load() (keyFile, error) {
	var kf keyFile
	data, err := os.ReadFile(k.path)
	if err != nil {
		if os.IsNotExist(err) {
			return keyFile{}, nil
		}
		return kf, err
	}
	if err := json.Unmarshal(data, &kf); err != nil {
		return kf, fmt.Errorf("read keystore %s: %w", k.path, err)
	}
	return kf, nil
}

func (k *Keystore) save(kf keyFile) error {
	data, err := json.MarshalIndent(kf, "", "  ")
	if err != nil {
		return err
	}
	tmp := k.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, k.path)
}

func (k *Keystore) aead(kf *keyFile) (cipher.AEAD, error) {
	if kf.Salt == "" {
		salt := make([]byte, saltSize)
		if _, err := io.ReadFull(rand.Reader, salt); err != nil {
			return nil, err
		}
		kf.Salt = base64.StdEncoding.EncodeToString(salt)
	}
	salt, err := base64.StdEncoding.DecodeString(kf.Salt)
	if err != nil {
		return nil, fmt.Errorf("keystore salt: %w", err)
	}
	key := argon2.IDKey(k.passphrase, salt, 1, 64*1024, 4, 32)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func (k *Keystore) seal(kf *keyFile, plain []byte) (string, error) {
	gcm, err := k.aead(kf)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(gcm.Seal(nonce, nonce, plain, nil)), nil
}

func (k *Keystore) open(kf keyFile, sealed string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, err
	}
	gcm, err := k.aead(&kf)
	if err != nil {
		return nil, err
	}
	if len(raw) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, body := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, fmt.Errorf("wrong passphrase or corrupted keystore")
	}
	return plain, nil
}

// verify checks the passphrase against a stored key so that every key in
// the file stays sealed under the same passphrase.
func (k *Keystore) verify(kf keyFile) error {
	if len(kf.Keys) == 0 {
		return nil
	}
	_, err := k.open(kf, kf.Keys[0].Secret)
	return err
}

func normOrigin(s string) string {
	return strings.TrimSpace(strings.ToLower(s))
}

func machinePassphrase() string {
	return fmt.Sprintf("dotsend-%s-%s", runtime.GOOS, os.Getenv("USER"))
}
