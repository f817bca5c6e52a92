package vault

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestVault(t *testing.T, requirePIN bool) *Vault {
	t.Helper()
	// 测试中降低迭代次数
	return New(Options{Path: filepath.Join(t.TempDir(), "vault.dat"), Iterations: 1000, RequirePIN: requirePIN})
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	v := newTestVault(t, false)
	if v.Exists() {
		t.Fatal("新凭证库不应存在")
	}

	if err := v.Encrypt("my-key", "my-secret", "correct horse"); err != nil {
		t.Fatalf("加密失败: %v", err)
	}
	if !v.Exists() {
		t.Fatal("加密后文件应存在")
	}

	raw, _ := os.ReadFile(v.Path())
	if strings.Contains(string(raw), "my-secret") {
		t.Error("文件中不应出现明文")
	}

	creds, err := v.Decrypt("correct horse")
	if err != nil {
		t.Fatalf("解密失败: %v", err)
	}
	if creds.APIKey != "my-key" || creds.APISecret != "my-secret" {
		t.Errorf("凭证内容错误: %+v", creds)
	}
}

func TestDecryptWrongPassphrase(t *testing.T) {
	v := newTestVault(t, false)
	v.Encrypt("k", "s", "right-pass")

	creds, err := v.Decrypt("wrong-pass")
	if !errors.Is(err, ErrDecrypt) || creds != nil {
		t.Errorf("错误口令应返回 ErrDecrypt 和 nil, 得到 %v %v", creds, err)
	}
}

func TestDecryptMissingAndCorrupt(t *testing.T) {
	v := newTestVault(t, false)
	if _, err := v.Decrypt("whatever"); !errors.Is(err, ErrNotFound) {
		t.Errorf("不存在时应返回 ErrNotFound, 得到 %v", err)
	}

	os.WriteFile(v.Path(), []byte("not json"), 0600)
	if _, err := v.Decrypt("whatever"); !errors.Is(err, ErrDecrypt) {
		t.Errorf("损坏文件应返回 ErrDecrypt, 得到 %v", err)
	}
}

func TestPassphrasePolicy(t *testing.T) {
	v := newTestVault(t, false)
	if err := v.Encrypt("k", "s", "abc"); !errors.Is(err, ErrWeakPassphrase) {
		t.Errorf("过短口令应被拒绝: %v", err)
	}

	pin := newTestVault(t, true)
	for _, bad := range []string{"12345", "12a4", "abcd"} {
		if err := pin.Encrypt("k", "s", bad); !errors.Is(err, ErrWeakPassphrase) {
			t.Errorf("PIN %q 应被拒绝: %v", bad, err)
		}
	}
	if err := pin.Encrypt("k", "s", "0420"); err != nil {
		t.Errorf("合法 PIN 被拒绝: %v", err)
	}
}

func TestReencryptAndDelete(t *testing.T) {
	v := newTestVault(t, false)
	v.Encrypt("k1", "s1", "pass-one")
	v.Encrypt("k2", "s2", "pass-two")

	if _, err := v.Decrypt("pass-one"); !errors.Is(err, ErrDecrypt) {
		t.Error("旧口令不应再能解密")
	}
	creds, err := v.Decrypt("pass-two")
	if err != nil || creds.APIKey != "k2" {
		t.Errorf("覆盖后的凭证错误: %+v %v", creds, err)
	}

	if err := v.Delete(); err != nil {
		t.Fatal(err)
	}
	if v.Exists() {
		t.Error("删除后文件仍存在")
	}
	if err := v.Delete(); err != nil {
		t.Errorf("重复删除不应报错: %v", err)
	}
}
