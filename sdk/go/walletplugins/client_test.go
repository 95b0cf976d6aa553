package walletplugins

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

const account = "0x00000000000000000000000000000000000000A1"

func TestSubmitPostsAction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/accounts/"+account+"/actions", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		var action Action
		require.NoError(t, json.NewDecoder(r.Body).Decode(&action))
		require.Equal(t, uint64(4), action.Nonce)
		_ = json.NewEncoder(w).Encode(Verdict{Admitted: true, Route: "direct", Nonce: 5})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	require.NoError(t, err)

	v, err := client.Submit(context.Background(), account, Action{Action: "call", Nonce: 4})
	require.NoError(t, err)
	require.True(t, v.Admitted)
	require.Equal(t, uint64(5), v.Nonce)
}

func TestRecoverUsesOperationPath(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewEncoder(w).Encode(Verdict{Reason: "RECOVERY_NOT_YET_UNLOCKED"})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL+"/base", srv.Client())
	require.NoError(t, err)
	v, err := client.Recover(context.Background(), account, RecoveryExecute, Action{})
	require.NoError(t, err)
	require.Equal(t, "/base/api/v1/accounts/"+account+"/recovery/execute", gotPath)
	require.Equal(t, "RECOVERY_NOT_YET_UNLOCKED", v.Reason)
}

func TestResumeSendsOperatorToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer ops-token" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"code": "UNAUTHORIZED", "message": "operator token required"}})
			return
		}
		_ = json.NewEncoder(w).Encode(Account{Address: account})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	require.NoError(t, err)

	_, err = client.Resume(context.Background(), account)
	require.Error(t, err)
	require.True(t, IsRejected(err, "UNAUTHORIZED"))

	client.SetOperatorToken("ops-token")
	acc, err := client.Resume(context.Background(), account)
	require.NoError(t, err)
	require.Equal(t, account, acc.Address)
}

func TestCreateAccountSendsOperatorToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/accounts", r.URL.Path)
		require.Equal(t, "Bearer ops-token", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(Account{Address: account, Owners: []string{"0xb1"}})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	require.NoError(t, err)
	client.SetOperatorToken("ops-token")

	acc, err := client.CreateAccount(context.Background(), account, "0xb1")
	require.NoError(t, err)
	require.Equal(t, account, acc.Address)
}

func TestErrorEnvelopeIsDecoded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":"NOT_FOUND","message":"account not found"}}`))
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	require.NoError(t, err)
	_, err = client.GetAccount(context.Background(), account)

	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	require.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	require.Equal(t, "NOT_FOUND", apiErr.Code)
	require.Equal(t, "account not found", apiErr.Message)
}

func TestPlainTextErrorFallsBackToBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	require.NoError(t, err)
	_, err = client.ListPlugins(context.Background(), account)
	require.EqualError(t, err, "walletd api error (502): bad gateway")
}
