package handlers

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"learnhub/realtime-service/services"
	"learnhub/realtime-service/utils"
)

func newPresenceRouter() (*gin.Engine, *services.PresenceRegistry, *services.Gateway) {
	logger := utils.NewNopLogger()
	presence := services.NewPresenceRegistry(logger)
	gateway := services.NewGateway(presence, services.NewRoomRegistry(), logger)
	h := NewPresenceHandler(presence, logger)

	router := gin.New()
	router.GET("/health", HealthCheck(gateway, "instance-a"))
	router.GET("/presence/status", h.GetStatus)
	router.GET("/presence/online", h.GetOnlineUsers)
	return router, presence, gateway
}

func TestPresenceStatus(t *testing.T) {
	router, presence, _ := newPresenceRouter()
	presence.Bind("U1", "web", &stubConn{id: "c1"})
	presence.Bind("U1", "mobile", &stubConn{id: "c2"})

	code, body := doJSON(t, router, http.MethodGet, "/presence/status?user_id=U1", "", "", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "online", body["status"])
	require.Equal(t, true, body["is_online"])
	require.ElementsMatch(t, []interface{}{"web", "mobile"}, body["clients"])

	code, body = doJSON(t, router, http.MethodGet, "/presence/status?user_id=U2", "", "", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "offline", body["status"])

	code, _ = doJSON(t, router, http.MethodGet, "/presence/status", "", "", nil)
	require.Equal(t, http.StatusBadRequest, code)
}

func TestPresenceOnlineUsers(t *testing.T) {
	router, presence, _ := newPresenceRouter()
	presence.Bind("U1", "web", &stubConn{id: "c1"})
	presence.Bind("U2", "web", &stubConn{id: "c2"})

	code, body := doJSON(t, router, http.MethodGet, "/presence/online", "", "", nil)
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 2, body["count"])
	require.ElementsMatch(t, []interface{}{"U1", "U2"}, body["users"])
}

func TestHealthCheck(t *testing.T) {
	router, _, gateway := newPresenceRouter()
	gateway.Attach(&stubConn{id: "c1"})

	code, body := doJSON(t, router, http.MethodGet, "/health", "", "", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "healthy", body["status"])
	require.Equal(t, "instance-a", body["instance"])
	require.EqualValues(t, 1, body["connections"])
}
