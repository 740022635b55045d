package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_PutOverwritesAndExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1700000000, 0)
	s := NewMemoryStore(time.Hour)
	s.clock = func() time.Time { return now }

	require.NoError(t, s.Put(ctx, "sid", Hint{CallRecordID: "a"}))
	require.NoError(t, s.Put(ctx, "sid", Hint{CallRecordID: "b"}))

	h, ok, err := s.Get(ctx, "sid")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "b", h.CallRecordID)

	now = now.Add(time.Hour)
	_, ok, err = s.Get(ctx, "sid")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore_RequiresSessionID(t *testing.T) {
	assert.ErrorIs(t, NewMemoryStore(0).Put(context.Background(), "", Hint{}), ErrNoSession)
}

func TestMiddleware_UsesHeaderOrIssuesCookie(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var seen string
	r := gin.New()
	r.GET("/x", Middleware(false), func(c *gin.Context) {
		seen, _ = IDFromContext(c.Request.Context())
		c.Status(200)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(HeaderName, "abc")
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc", seen)
	assert.Empty(t, w.Header().Get("Set-Cookie"))

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "from-cookie"})
	r.ServeHTTP(w, req)
	assert.Equal(t, "from-cookie", seen)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.NotEmpty(t, seen)
	assert.Contains(t, w.Header().Get("Set-Cookie"), CookieName+"="+seen)
}
