package account_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"wasp/internal/account"
	"wasp/internal/relay"
	"wasp/internal/store"
	"wasp/pkg/identity"
	"wasp/pkg/prekey"
	"wasp/pkg/wasperr"
)

// fakeRelay is a minimal in-memory relay supporting just /register and
// /account/{user}/canary, enough to exercise Service without a network.
func fakeRelay(t *testing.T) *httptest.Server {
	t.Helper()
	canaries := map[string]string{}

	mux := http.NewServeMux()
	mux.HandleFunc("/register", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			UserID string `json:"user_id"`
			Canary string `json:"canary"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		canaries[body.UserID] = body.Canary
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/account/", func(w http.ResponseWriter, r *http.Request) {
		user := r.URL.Path[len("/account/") : len(r.URL.Path)-len("/canary")]
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"canary": canaries[user]})
	})
	return httptest.NewServer(mux)
}

func TestRegisterThenVerifyCanarySucceeds(t *testing.T) {
	srv := fakeRelay(t)
	defer srv.Close()

	dir := t.TempDir()
	client := relay.New(srv.URL, nil)
	accounts := store.NewAccountStore(dir)
	svc := account.NewService(client, accounts, srv.URL)

	id, err := identity.Generate()
	require.NoError(t, err)
	spk, err := prekey.GenerateSignedPreKey(id, 1, time.Unix(0, 0))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, svc.Register(ctx, "alice", id, spk, nil))
	require.NoError(t, svc.VerifyCanary(ctx, "alice"))
}

func TestVerifyCanaryDetectsMismatch(t *testing.T) {
	srv := fakeRelay(t)
	defer srv.Close()

	dir := t.TempDir()
	client := relay.New(srv.URL, nil)
	accounts := store.NewAccountStore(dir)
	svc := account.NewService(client, accounts, srv.URL)

	id, err := identity.Generate()
	require.NoError(t, err)
	spk, err := prekey.GenerateSignedPreKey(id, 1, time.Unix(0, 0))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, svc.Register(ctx, "alice", id, spk, nil))

	// Simulate the relay substituting a different identity's bundle
	// under the same user id by re-registering with a second identity
	// directly against the fake relay, bypassing our local profile.
	other, err := identity.Generate()
	require.NoError(t, err)
	otherSPK, err := prekey.GenerateSignedPreKey(other, 1, time.Unix(0, 0))
	require.NoError(t, err)
	require.NoError(t, client.RegisterBundle(ctx, "alice", identity.Fingerprint(other.XPub), other.RegistrationID, other.XPub, other.EdPub, otherSPK, nil))

	require.ErrorIs(t, svc.VerifyCanary(ctx, "alice"), wasperr.ErrCanaryMismatch)
}
