package middleware

import (
	"crypto/subtle"
	nethttp "net/http"
	"strings"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport/http"

	pkglog "github.com/dylanallan/genesiswebapp-sub003/pkg/log"
)

// AdminGuard returns a filter that requires a bearer token on the
// routes mutating operational state: everything under /v1/admin/ and
// the PATCH source toggle. Read-only routes and the relay/gateway call
// paths are never guarded.
//
// An empty token disables the guard entirely. That is the development
// default; production deployments set server.http.admin_token.
func AdminGuard(token string, logger log.Logger) http.FilterFunc {
	helper := pkglog.NewLogHelper(logger)
	if token == "" {
		helper.Warnw("msg", "admin token not configured, admin routes are unprotected",
			"type", "auth")
		return func(next nethttp.Handler) nethttp.Handler { return next }
	}

	return func(next nethttp.Handler) nethttp.Handler {
		return nethttp.HandlerFunc(func(res nethttp.ResponseWriter, req *nethttp.Request) {
			if !isAdminRoute(req) {
				next.ServeHTTP(res, req)
				return
			}

			presented := adminToken(req)
			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				helper.Warnw("msg", "admin request rejected: missing or invalid token",
					"type", "auth",
					"method", req.Method,
					"path", req.URL.Path,
					"ip", extractClientIP(req))
				http.DefaultErrorEncoder(res, req,
					kerrors.Unauthorized("ADMIN_TOKEN_INVALID", "admin token missing or invalid"))
				return
			}

			helper.Auth("Authenticated admin request ("+maskToken(presented)+")",
				"token_masked", maskToken(presented),
				"method", req.Method,
				"path", req.URL.Path)
			next.ServeHTTP(res, req)
		})
	}
}

// isAdminRoute reports whether the request mutates operational state.
func isAdminRoute(req *nethttp.Request) bool {
	if strings.HasPrefix(req.URL.Path, "/v1/admin/") {
		return true
	}
	return req.Method == nethttp.MethodPatch && strings.HasPrefix(req.URL.Path, "/v1/sources/")
}

// adminToken extracts the presented token, preferring the Authorization
// bearer scheme over the X-Admin-Token header.
func adminToken(req *nethttp.Request) string {
	if auth := req.Header.Get("Authorization"); auth != "" {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return req.Header.Get("X-Admin-Token")
}

// maskToken keeps the first 4 characters for log correlation and hides
// the rest.
func maskToken(token string) string {
	if len(token) <= 4 {
		return strings.Repeat("*", len(token))
	}
	return token[:4] + "***"
}
