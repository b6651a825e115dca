package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"strings"
	"time"
)

const (
	issuedAtSize = 8
	macSize      = sha256.Size
	// 允许的时钟偏差
	clockSkew = time.Minute
)

// GenerateReconnectToken 生成重连令牌
//
// 格式 client_id:base64url(issued_at || hmac)，令牌可在有效期内重复使用，
// 能否恢复最终取决于会话是否仍在存储中。
func (s *Store) GenerateReconnectToken(clientID string) string {
	payload := make([]byte, issuedAtSize, issuedAtSize+macSize)
	binary.BigEndian.PutUint64(payload, uint64(s.now().UnixNano()))
	payload = append(payload, s.sign(clientID, payload)...)
	return clientID + ":" + base64.RawURLEncoding.EncodeToString(payload)
}

// ParseReconnectToken 校验令牌并返回其中的 client_id
func (s *Store) ParseReconnectToken(token string) (string, error) {
	i := strings.LastIndexByte(token, ':')
	if i <= 0 || i == len(token)-1 {
		return "", ErrInvalidToken
	}
	clientID := token[:i]

	raw, err := base64.RawURLEncoding.DecodeString(token[i+1:])
	if err != nil || len(raw) != issuedAtSize+macSize {
		return "", ErrInvalidToken
	}
	issued, mac := raw[:issuedAtSize], raw[issuedAtSize:]
	if !hmac.Equal(mac, s.sign(clientID, issued)) {
		return "", ErrInvalidToken
	}

	issuedAt := time.Unix(0, int64(binary.BigEndian.Uint64(issued)))
	now := s.now()
	if issuedAt.After(now.Add(clockSkew)) {
		return "", ErrInvalidToken
	}
	if s.tokenMaxAge > 0 && now.Sub(issuedAt) > s.tokenMaxAge {
		return "", ErrTokenExpired
	}
	return clientID, nil
}

func (s *Store) sign(clientID string, issued []byte) []byte {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(clientID))
	h.Write([]byte{0})
	h.Write(issued)
	return h.Sum(nil)
}
