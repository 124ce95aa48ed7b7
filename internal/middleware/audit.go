package middleware

import (
	"bytes"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pixlabel/backend/internal/services"
)

const maxAuditBody = 2000

// AuditLog records write operations to system_logs. Multipart bodies are not captured.
func AuditLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		method := c.Request.Method
		if method != http.MethodPost && method != http.MethodPut && method != http.MethodDelete {
			c.Next()
			return
		}

		var bodySnippet string
		if c.Request.Body != nil && !strings.HasPrefix(c.ContentType(), "multipart/") {
			bodyBytes, _ := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
			c.Request.Body = io.NopCloser(bytes.NewReader(bodyBytes))
			bodySnippet = maskSensitiveFields(string(bodyBytes))
			if len(bodySnippet) > maxAuditBody {
				bodySnippet = bodySnippet[:maxAuditBody] + "...[truncated]"
			}
		}

		c.Next()

		status := c.Writer.Status()
		module, action := parseRouteInfo(c.FullPath(), method)

		entry := services.AuditEntry{
			Module:    module,
			Action:    action,
			Message:   formatAuditMessage(GetUsername(c), method, c.Request.URL.Path, status),
			IP:        c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
			Extra: map[string]interface{}{
				"method": method,
				"path":   c.Request.URL.Path,
				"status": status,
				"body":   bodySnippet,
				"audit":  true,
			},
		}
		if userID := GetUserID(c); userID > 0 {
			entry.UserID = &userID
		}
		if projectID := projectParam(c); projectID > 0 {
			entry.ProjectID = &projectID
		}

		if status >= http.StatusInternalServerError {
			services.LogError(entry)
		} else {
			services.LogInfo(entry)
		}
	}
}

// projectParam reads :id on /projects routes.
func projectParam(c *gin.Context) uint {
	if !strings.Contains(c.FullPath(), "/projects/:id") {
		return 0
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return 0
	}
	return uint(id)
}

// parseRouteInfo maps "/api/projects/:id/images" + POST to ("projects", "create").
func parseRouteInfo(fullPath, method string) (module, action string) {
	path := strings.TrimPrefix(fullPath, "/api/")
	module = strings.SplitN(path, "/", 2)[0]
	if module == "" {
		module = "unknown"
	}

	switch method {
	case http.MethodPost:
		action = "create"
	case http.MethodPut:
		action = "update"
	case http.MethodDelete:
		action = "delete"
	default:
		action = strings.ToLower(method)
	}
	return module, action
}

func formatAuditMessage(username, method, path string, status int) string {
	var b strings.Builder
	b.WriteString("[audit] ")
	if username == "" {
		username = "anonymous"
	}
	b.WriteString(username)
	b.WriteString(" ")
	b.WriteString(method)
	b.WriteString(" ")
	b.WriteString(path)
	if status >= 200 && status < 300 {
		b.WriteString(" ok")
	} else {
		b.WriteString(" failed (")
		b.WriteString(strconv.Itoa(status))
		b.WriteString(")")
	}
	return b.String()
}

var sensitiveValue = regexp.MustCompile(`(?i)("(?:password|old_password|new_password|refresh_token|token|secret)"\s*:\s*)"(?:[^"\\]|\\.)*"`)

// maskSensitiveFields hides credential values in a JSON body.
func maskSensitiveFields(body string) string {
	return sensitiveValue.ReplaceAllString(body, `$1"***"`)
}
