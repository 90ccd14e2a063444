package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropforge/socialverify/internal/apperror"
	"github.com/dropforge/socialverify/internal/model"
)

func newDiscordServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.FormValue("code") != "good-code" {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"dtok-1","token_type":"Bearer","expires_in":604800}`)
	})
	mux.HandleFunc("/users/@me", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer dtok-1", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"id":"88001","username":"dropfan","global_name":"Drop Fan"}`)
	})
	mux.HandleFunc("/users/@me/guilds", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"id":"guild-1","name":"DropForge"},{"id":"guild-2","name":"Other"}]`)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestDiscord(t *testing.T, srv *httptest.Server) *Discord {
	t.Helper()
	return NewDiscord(DiscordConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		CallbackURL:  "http://localhost:8080/auth/discord/callback",
		TokenURL:     srv.URL + "/oauth2/token",
		APIBaseURL:   srv.URL,
	}, testLogger())
}

func TestDiscordExchangeCode(t *testing.T) {
	srv := newDiscordServer(t)
	d := newTestDiscord(t, srv)

	identity, err := d.ExchangeCode(context.Background(), "good-code", "")
	require.NoError(t, err)

	assert.Equal(t, "88001", identity.ID)
	assert.Equal(t, "dropfan", identity.Username)
	assert.Equal(t, "Drop Fan", identity.DisplayName)
	assert.Equal(t, "dtok-1", identity.AccessToken)
}

func TestDiscordExchangeCode_BadCode(t *testing.T) {
	srv := newDiscordServer(t)
	d := newTestDiscord(t, srv)

	_, err := d.ExchangeCode(context.Background(), "bad-code", "")
	assert.True(t, errors.Is(err, apperror.ErrUpstream), "want ErrUpstream, got %v", err)
}

func TestDiscordVerifyTask_JoinServer(t *testing.T) {
	srv := newDiscordServer(t)
	d := newTestDiscord(t, srv)
	acct := &model.SocialAccount{PlatformUserID: "88001", AccessToken: "dtok-1"}

	ok, err := d.VerifyTask(context.Background(), model.TaskJoinServer, "guild-1", acct)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.VerifyTask(context.Background(), model.TaskJoinServer, "guild-404", acct)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDiscordVerifyTask_Unconfigured(t *testing.T) {
	d := NewDiscord(DiscordConfig{}, testLogger())

	_, err := d.VerifyTask(context.Background(), model.TaskJoinServer, "guild-1", &model.SocialAccount{})
	assert.True(t, errors.Is(err, apperror.ErrConfiguration), "want ErrConfiguration, got %v", err)
}
