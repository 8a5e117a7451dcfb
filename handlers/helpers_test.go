package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"learnhub/realtime-service/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubConn is a services.Conn that records event names.
type stubConn struct {
	id string

	mu     sync.Mutex
	events []string
}

func (c *stubConn) ID() string {
	return c.id
}

func (c *stubConn) Send(event string, payload interface{}) error {
	c.mu.Lock()
	c.events = append(c.events, event)
	c.mu.Unlock()
	return nil
}

func (c *stubConn) received(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e == event {
			n++
		}
	}
	return n
}

// asUser stands in for middleware.Auth in tests. The caller is taken from
// the X-User and X-Role headers.
func asUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.ContextUserID, c.GetHeader("X-User"))
		role := c.GetHeader("X-Role")
		if role == "" {
			role = "user"
		}
		c.Set(middleware.ContextRole, role)
		c.Next()
	}
}

func doJSON(t *testing.T, router http.Handler, method, path, user, role string, body interface{}) (int, map[string]interface{}) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User", user)
	if role != "" {
		req.Header.Set("X-Role", role)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var out map[string]interface{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w.Code, out
}
