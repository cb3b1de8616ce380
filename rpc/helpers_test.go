package rpc

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"goldchain/core"
	"goldchain/crypto"
	"goldchain/storage"
)

type rpcReply struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

func newTestNode(t *testing.T) *core.Node {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	node, err := core.NewNode(db)
	require.NoError(t, err)
	t.Cleanup(node.Close)
	return node
}

func newTestServer(t *testing.T, node *core.Node, cfg ServerConfig) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewServer(node, cfg).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func newKey(t *testing.T) *crypto.PrivateKey {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	return key
}

func postRaw(t *testing.T, srv *httptest.Server, body []byte) (*http.Response, rpcReply) {
	t.Helper()
	resp, err := srv.Client().Post(srv.URL+"/", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var reply rpcReply
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reply))
	return resp, reply
}

func postRPC(t *testing.T, srv *httptest.Server, method string, params ...interface{}) (int, rpcReply) {
	t.Helper()
	raw := make([]json.RawMessage, 0, len(params))
	for _, p := range params {
		encoded, err := json.Marshal(p)
		require.NoError(t, err)
		raw = append(raw, encoded)
	}
	body, err := json.Marshal(RPCRequest{JSONRPC: jsonRPCVersion, Method: method, Params: raw, ID: 1})
	require.NoError(t, err)
	resp, reply := postRaw(t, srv, body)
	return resp.StatusCode, reply
}
