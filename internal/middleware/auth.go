// Package middleware holds the HTTP middleware shared by every route.
package middleware

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/companion/backend/internal/service/auth"
	"github.com/zhouzirui/companion/backend/pkg/utils"
)

// TokenVerifier checks a bearer token and returns its claims.
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// Authenticate 解析 Authorization 头并把用户 ID 放入请求上下文。
//
// 带令牌的请求必须通过校验，否则返回 401；未带令牌的请求在配置了
// devUserID 时以该用户身份执行，否则匿名放行，只能使用本地聊天存储。
func Authenticate(verifier TokenVerifier, devUserID string, log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, present := bearerToken(r)
			if !present {
				if devUserID != "" {
					r = r.WithContext(auth.WithUserID(r.Context(), devUserID))
				}
				next.ServeHTTP(w, r)
				return
			}

			if verifier == nil {
				utils.RespondError(w, http.StatusUnauthorized, "token verification not configured")
				return
			}
			claims, err := verifier.Verify(token)
			if err != nil {
				log.Debug().Err(err).Str("path", r.URL.Path).Msg("rejected bearer token")
				utils.RespondError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithUserID(r.Context(), claims.UserID())))
		})
	}
}

// RequireUser 拒绝没有用户身份的请求。
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.UserIDFrom(r.Context()); !ok {
			utils.RespondError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		// EventSource 和 WebSocket 无法设置请求头，允许通过查询参数传递。
		if t := r.URL.Query().Get("access_token"); t != "" {
			return t, true
		}
		return "", false
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", true
	}
	return strings.TrimSpace(token), true
}
