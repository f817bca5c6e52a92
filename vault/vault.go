package vault

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"unicode"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"

	"spotfolio/logger"
)

const (
	formatVersion     = 1
	saltSize          = 16
	defaultIterations = 100000
	minPassphraseLen  = 4
)

var (
	ErrNotFound       = errors.New("凭证库不存在")
	ErrDecrypt        = errors.New("口令错误或凭证库已损坏")
	ErrWeakPassphrase = errors.New("口令不符合要求")
)

// Credentials 交易所 API 凭证
type Credentials struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
}

// Options 凭证库参数
type Options struct {
	Path       string
	Iterations int
	RequirePIN bool // 口令必须是 4 位数字
}

// envelope 落盘格式，密文带 16 字节 salt 和随机 nonce
type envelope struct {
	Version    int    `json:"version"`
	KDF        string `json:"kdf"`
	Iterations int    `json:"iterations"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// Vault 口令加密的本地凭证库
type Vault struct {
	opts Options
	mu   sync.Mutex
}

// New 创建凭证库
func New(opts Options) *Vault {
	if opts.Path == "" {
		opts.Path = filepath.Join("data", "vault.dat")
	}
	if opts.Iterations <= 0 {
		opts.Iterations = defaultIterations
	}
	return &Vault{opts: opts}
}

// Path 凭证文件路径
func (v *Vault) Path() string {
	return v.opts.Path
}

// ValidatePassphrase 检查口令强度
func (v *Vault) ValidatePassphrase(passphrase string) error {
	if v.opts.RequirePIN {
		if len(passphrase) != 4 {
			return fmt.Errorf("%w: PIN 必须为 4 位数字", ErrWeakPassphrase)
		}
		for _, r := range passphrase {
			if !unicode.IsDigit(r) {
				return fmt.Errorf("%w: PIN 必须为 4 位数字", ErrWeakPassphrase)
			}
		}
		return nil
	}
	if len([]rune(passphrase)) < minPassphraseLen {
		return fmt.Errorf("%w: 至少 %d 个字符", ErrWeakPassphrase, minPassphraseLen)
	}
	return nil
}

func deriveKey(passphrase string, salt []byte, iterations int) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, iterations, chacha20poly1305.KeySize, sha256.New)
}

// Encrypt 加密并覆盖保存凭证
func (v *Vault) Encrypt(apiKey, apiSecret, passphrase string) error {
	if apiKey == "" || apiSecret == "" {
		return errors.New("API Key 和 Secret 不能为空")
	}
	if err := v.ValidatePassphrase(passphrase); err != nil {
		return err
	}

	plaintext, err := json.Marshal(Credentials{APIKey: apiKey, APISecret: apiSecret})
	if err != nil {
		return fmt.Errorf("序列化凭证失败: %w", err)
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return fmt.Errorf("生成 salt 失败: %w", err)
	}
	aead, err := chacha20poly1305.New(deriveKey(passphrase, salt, v.opts.Iterations))
	if err != nil {
		return fmt.Errorf("初始化加密失败: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("生成 nonce 失败: %w", err)
	}

	env := envelope{
		Version:    formatVersion,
		KDF:        "pbkdf2-sha256",
		Iterations: v.opts.Iterations,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, plaintext, salt),
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("序列化凭证库失败: %w", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(v.opts.Path), 0700); err != nil {
		return fmt.Errorf("创建凭证目录失败: %w", err)
	}
	tmp := v.opts.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("写入凭证库失败: %w", err)
	}
	if err := os.Rename(tmp, v.opts.Path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("写入凭证库失败: %w", err)
	}
	logger.Info("🔐 API 凭证已加密保存到 %s", v.opts.Path)
	return nil
}

// Decrypt 用口令解密凭证
func (v *Vault) Decrypt(passphrase string) (*Credentials, error) {
	v.mu.Lock()
	data, err := os.ReadFile(v.opts.Path)
	v.mu.Unlock()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("读取凭证库失败: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil || len(env.Salt) != saltSize || env.Iterations <= 0 {
		return nil, ErrDecrypt
	}
	aead, err := chacha20poly1305.New(deriveKey(passphrase, env.Salt, env.Iterations))
	if err != nil {
		return nil, ErrDecrypt
	}
	if len(env.Nonce) != aead.NonceSize() {
		return nil, ErrDecrypt
	}
	plaintext, err := aead.Open(nil, env.Nonce, env.Ciphertext, env.Salt)
	if err != nil {
		return nil, ErrDecrypt
	}

	var creds Credentials
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return nil, ErrDecrypt
	}
	return &creds, nil
}

// Exists 凭证库文件是否存在
func (v *Vault) Exists() bool {
	_, err := os.Stat(v.opts.Path)
	return err == nil
}

// Delete 删除凭证库，不存在时不报错
func (v *Vault) Delete() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := os.Remove(v.opts.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("删除凭证库失败: %w", err)
	}
	logger.Info("🗑️ 凭证库已删除")
	return nil
}
