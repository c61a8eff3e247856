package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInitDataEmpty  = errors.New("empty")
	ErrInitDataNoHash = errors.New("no_hash")
	ErrHashMismatch   = errors.New("hash_mismatch")
)

// WebAppUser is the "user" object of mini-app init data.
type WebAppUser struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	LanguageCode string `json:"language_code"`
}

type InitData struct {
	User     *WebAppUser
	QueryID  string
	AuthDate time.Time
}

// ValidateInitData checks the init data signature and parses it. The key is
// HMAC-SHA256("WebAppData", botToken); the signed string is the remaining fields sorted by key
// as "k=v" lines.
func ValidateInitData(raw, botToken string) (*InitData, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, ErrInitDataEmpty
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return nil, fmt.Errorf("parse init data: %w", err)
	}
	hash := values.Get("hash")
	if hash == "" {
		return nil, ErrInitDataNoHash
	}
	values.Del("hash")

	given, err := hex.DecodeString(hash)
	if err != nil || !hmac.Equal(given, signInitData(values, botToken)) {
		return nil, ErrHashMismatch
	}

	data := &InitData{QueryID: values.Get("query_id")}
	if sec, err := strconv.ParseInt(values.Get("auth_date"), 10, 64); err == nil {
		data.AuthDate = time.Unix(sec, 0)
	}
	if rawUser := values.Get("user"); rawUser != "" {
		var user WebAppUser
		if err := json.Unmarshal([]byte(rawUser), &user); err == nil && user.ID != 0 {
			data.User = &user
		}
	}
	return data, nil
}

func signInitData(values url.Values, botToken string) []byte {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+"="+values.Get(k))
	}

	secret := hmac.New(sha256.New, []byte("WebAppData"))
	secret.Write([]byte(botToken))
	mac := hmac.New(sha256.New, secret.Sum(nil))
	mac.Write([]byte(strings.Join(lines, "\n")))
	return mac.Sum(nil)
}
