package telegram

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/url"
	"sort"
	"strings"
	"time"
)

var (
	ErrBadInitData = errors.New("telegram: malformed init data")
	ErrBadHash     = errors.New("telegram: init data hash mismatch")
	ErrExpired     = errors.New("telegram: init data expired")
)

// WebAppUser is the user block inside WebApp init data.
type WebAppUser struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
}

// VerifyInitData checks a Telegram WebApp initData string against the
// bot token and returns the authenticated user. maxAge of 0 skips the
// freshness check.
func VerifyInitData(initData, botToken string, maxAge time.Duration) (WebAppUser, error) {
	values, err := url.ParseQuery(initData)
	if err != nil {
		return WebAppUser{}, ErrBadInitData
	}
	gotHash := values.Get("hash")
	if gotHash == "" {
		return WebAppUser{}, ErrBadInitData
	}
	values.Del("hash")

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(values.Get(k))
	}

	secret := hmac.New(sha256.New, []byte("WebAppData"))
	secret.Write([]byte(botToken))
	mac := hmac.New(sha256.New, secret.Sum(nil))
	mac.Write([]byte(b.String()))
	if !hmac.Equal([]byte(hex.EncodeToString(mac.Sum(nil))), []byte(gotHash)) {
		return WebAppUser{}, ErrBadHash
	}

	if maxAge > 0 {
		authDate := values.Get("auth_date")
		ts, err := parseUnix(authDate)
		if err != nil {
			return WebAppUser{}, ErrBadInitData
		}
		if time.Since(ts) > maxAge {
			return WebAppUser{}, ErrExpired
		}
	}

	var user WebAppUser
	if err := json.Unmarshal([]byte(values.Get("user")), &user); err != nil || user.ID == 0 {
		return WebAppUser{}, ErrBadInitData
	}
	return user, nil
}

func parseUnix(s string) (time.Time, error) {
	var n int64
	for _, c := range s {
		if c < '0' || c > '9' {
			return time.Time{}, ErrBadInitData
		}
		n = n*10 + int64(c-'0')
	}
	if n == 0 {
		return time.Time{}, ErrBadInitData
	}
	return time.Unix(n, 0), nil
}
