package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pointage/internal/model"
)

func TestIssueParseRoundTrip(t *testing.T) {
	a := Actor{UserID: "u-1", Role: "instructor", City: "Rabat", EstablishmentID: "e-1", Permissions: []string{PermGenerate}}
	tok, exp, err := Issue(a, "pointage", "secret", time.Minute)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Minute), exp, 2*time.Second)

	claims, err := Parse(tok, "secret", "pointage")
	require.NoError(t, err)
	assert.Equal(t, a, claims.Actor())

	_, err = Parse(tok, "other", "pointage")
	assert.Error(t, err)
	_, err = Parse(tok, "secret", "someone-else")
	assert.Error(t, err)
}

func TestParseRejectsExpired(t *testing.T) {
	tok, _, err := Issue(Actor{UserID: "u-1"}, "pointage", "secret", -time.Minute)
	require.NoError(t, err)
	_, err = Parse(tok, "secret", "pointage")
	assert.Error(t, err)
}

func TestActorCovers(t *testing.T) {
	s := model.Session{City: "Rabat", EstablishmentID: "e-1"}
	assert.True(t, Actor{City: "rabat"}.Covers(s))
	assert.True(t, Actor{City: "Rabat", EstablishmentID: "e-1"}.Covers(s))
	assert.False(t, Actor{City: "Fes"}.Covers(s))
	assert.False(t, Actor{EstablishmentID: "e-2"}.Covers(s))
	assert.True(t, Actor{City: "Fes", Permissions: []string{PermAll}}.Covers(s))
	assert.True(t, System().Can(PermReconcile))
}

func TestRequiredMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", Required("secret", "pointage"), func(c *gin.Context) {
		a, ok := ActorFrom(c)
		require.True(t, ok)
		c.JSON(http.StatusOK, gin.H{"user": a.UserID})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	tok, _, err := Issue(Actor{UserID: "u-7"}, "pointage", "secret", time.Minute)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user":"u-7"}`, w.Body.String())
}
