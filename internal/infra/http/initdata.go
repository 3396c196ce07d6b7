package http

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
)

type ctxKey int

const webAppUserKey ctxKey = iota

// WebAppUserID возвращает Telegram ID пользователя, прошедшего проверку
// initData. false — если запрос пришёл мимо WebAppAuthMiddleware.
func WebAppUserID(r *http.Request) (int64, bool) {
	id, ok := r.Context().Value(webAppUserKey).(int64)
	return id, ok
}

// WebAppAuthMiddleware проверяет подпись initData Telegram Mini App и кладёт
// идентификатор пользователя в контекст запроса. initData передаётся в
// заголовке X-Telegram-Init-Data либо в параметре init_data.
func WebAppAuthMiddleware(botToken string) func(http.Handler) http.Handler {
	kdf := hmac.New(sha256.New, []byte("WebAppData"))
	kdf.Write([]byte(botToken))
	secret := kdf.Sum(nil)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			initData := r.Header.Get("X-Telegram-Init-Data")
			if initData == "" {
				initData = r.URL.Query().Get("init_data")
			}
			if initData == "" {
				http.Error(w, "init_data отсутствует", http.StatusUnauthorized)
				return
			}
			userID, ok := validateInitData(initData, secret)
			if !ok {
				http.Error(w, "подпись init_data недействительна", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), webAppUserKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func validateInitData(initData string, secret []byte) (int64, bool) {
	values, err := url.ParseQuery(initData)
	if err != nil {
		return 0, false
	}
	hash := values.Get("hash")
	if hash == "" {
		return 0, false
	}

	pairs := make([]string, 0, len(values))
	for key, vals := range values {
		if key == "hash" || len(vals) == 0 {
			continue
		}
		pairs = append(pairs, key+"="+vals[0])
	}
	sort.Strings(pairs)

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strings.Join(pairs, "\n")))
	expected, err := hex.DecodeString(hash)
	if err != nil || !hmac.Equal(mac.Sum(nil), expected) {
		return 0, false
	}

	var user struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal([]byte(values.Get("user")), &user); err != nil || user.ID == 0 {
		return 0, false
	}
	return user.ID, true
}

// RequestID возвращает request ID из контекста chi.
func RequestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}

// ErrorResponse описывает ошибку.
type ErrorResponse struct {
	Error string `json:"error"`
}

// WriteError отправляет JSON с ошибкой.
func WriteError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: err.Error()})
}
