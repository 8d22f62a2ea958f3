package websub

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"net/http"
	"strings"

	"tubecord/internal/domain"
)

// VerifySignature проверяет HMAC подпись уведомления по сырому телу.
// Подпись считается по заголовку X-Hub-Signature-256 (sha256), при его
// отсутствии по X-Hub-Signature (sha1). Пустой секрет отключает проверку.
func VerifySignature(headers http.Header, body []byte, secret string) error {
	if secret == "" {
		return nil
	}

	header := headers.Get("X-Hub-Signature-256")
	if header == "" {
		header = headers.Get("X-Hub-Signature")
	}
	if header == "" {
		return fmt.Errorf("%w: signature header is missing", domain.ErrAuthFailed)
	}

	algo, provided, ok := strings.Cut(header, "=")
	if !ok {
		return fmt.Errorf("%w: malformed signature header", domain.ErrAuthFailed)
	}

	var newHash func() hash.Hash
	switch strings.ToLower(algo) {
	case "sha256":
		newHash = sha256.New
	case "sha1":
		newHash = sha1.New
	default:
		return fmt.Errorf("%w: unsupported signature algorithm %q", domain.ErrAuthFailed, algo)
	}

	mac := hmac.New(newHash, []byte(secret))
	mac.Write(body)
	computed := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(computed), []byte(strings.ToLower(provided))) {
		return domain.ErrAuthFailed
	}
	return nil
}
