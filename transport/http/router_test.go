package http

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/layer-3/pairlink/adapters/chain"
	"github.com/layer-3/pairlink/adapters/relay"
	"github.com/layer-3/pairlink/adapters/store"
	"github.com/layer-3/pairlink/adapters/tokenizer"
	"github.com/layer-3/pairlink/core"
	"github.com/layer-3/pairlink/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	router *gin.Engine
	relay  *relay.Relay
}

func rpcHandler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			http.Error(w, http.StatusText(status), status)
			return
		}
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		result := "0xde0b6b3a7640000"
		if req.Method == "eth_call" {
			result = fmt.Sprintf("0x%064x", 2_500_000)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"result":"%s"}`, req.ID, result)
	}
}

func newTestServer(t *testing.T, rpcStatus int) *testServer {
	gin.SetMode(gin.TestMode)

	rpc := httptest.NewServer(rpcHandler(rpcStatus))
	t.Cleanup(rpc.Close)

	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { _ = pubSub.Close() })
	r := relay.New(relay.DefaultConfig(), pubSub, pubSub, nil)

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tk := tokenizer.NewJWTTokenizer(key)
	st := store.NewMemoryStore()

	flows := service.NewFlows(func() *service.Controller {
		m := service.NewManager(service.DefaultManagerConfig(), r, st, nil, nil)
		return service.NewController(service.DefaultControllerConfig(), m, tk, st, nil)
	})
	t.Cleanup(func() { flows.Shutdown(context.Background()) })

	reader, err := chain.DialEVM(context.Background(), rpc.URL, "ETH", 18)
	require.NoError(t, err)
	t.Cleanup(reader.Close)

	agg := service.NewAggregator(nil)
	agg.Register(1, service.Backend{
		Name:      "mainnet",
		Reader:    reader,
		Tokens:    []core.Token{{Symbol: "USDC", Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Decimals: 6}},
		Retry:     service.RetryPolicy{Attempts: 2, BaseDelay: time.Millisecond, Factor: 2},
		Transient: chain.IsTransient,
	})

	handlers := NewHandlers(flows, r, agg)
	return &testServer{
		router: SetupRouter(handlers, service.NewAuthenticator(tk, st, st)),
		relay:  r,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any, token string) (*httptest.ResponseRecorder, map[string]any) {
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var out map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func topicOf(uri string) string {
	topic := strings.TrimPrefix(uri, "wc:")
	return topic[:strings.Index(topic, "@")]
}

func approveAs(t *testing.T, key *ecdsa.PrivateKey, topic, code string) relay.ApprovalRequest {
	sig, err := crypto.Sign(accounts.TextHash([]byte(relay.SigningMessage(topic))), key)
	require.NoError(t, err)
	return relay.ApprovalRequest{
		Address:   crypto.PubkeyToAddress(key.PublicKey).Hex(),
		ChainID:   1,
		Code:      code,
		Signature: hexutil.Encode(sig),
	}
}

// pairAndVerify runs a flow up to an access token
func (s *testServer) pairAndVerify(t *testing.T) (string, string) {
	w, flow := s.do(t, http.MethodPost, "/flows", nil, "")
	require.Equal(t, http.StatusCreated, w.Code)
	id := flow["flow_id"].(string)
	assert.Equal(t, "idle", flow["state"])

	w, session := s.do(t, http.MethodPost, "/flows/"+id+"/connect", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pending", session["status"])
	topic := topicOf(session["pairing_uri"].(string))

	w, _ = s.do(t, http.MethodGet, "/flows/"+id+"/qr.png", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	w, _ = s.do(t, http.MethodPost, "/relay/"+topic+"/approve", approveAs(t, key, topic, "A1B2C3"), "")
	require.Equal(t, http.StatusOK, w.Code)

	require.Eventually(t, func() bool {
		_, flow := s.do(t, http.MethodGet, "/flows/"+id, nil, "")
		return flow["state"] == "awaiting_code"
	}, 2*time.Second, 5*time.Millisecond)

	w, body := s.do(t, http.MethodPost, "/flows/"+id+"/code", gin.H{"code": "A1B2C3"}, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Bearer", body["token_type"])

	return id, body["access_token"].(string)
}

func TestPairingFlow(t *testing.T) {
	s := newTestServer(t, http.StatusOK)
	id, token := s.pairAndVerify(t)

	_, flow := s.do(t, http.MethodGet, "/flows/"+id, nil, "")
	assert.Equal(t, "authenticated", flow["state"])
	assert.Equal(t, "verified", flow["session"].(map[string]any)["status"])

	w, balance := s.do(t, http.MethodGet, "/api/balance", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", balance["amount"])
	assert.Equal(t, "1000000000000000000", balance["wei"])
	assert.Equal(t, "ETH", balance["symbol"])

	w, tokens := s.do(t, http.MethodGet, "/api/tokens", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	list := tokens["tokens"].([]any)
	require.Len(t, list, 1)
	assert.Equal(t, "2.5", list[0].(map[string]any)["amount"])
	assert.Equal(t, "USDC", list[0].(map[string]any)["symbol"])

	w, dashboard := s.do(t, http.MethodGet, "/api/dashboard", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "mainnet", dashboard["identity"].(map[string]any)["chain_name"])
	assert.Len(t, dashboard["tokens"], 1)

	w, _ = s.do(t, http.MethodPost, "/flows/"+id+"/logout", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(t, http.MethodGet, "/api/me", nil, token)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCodeErrors(t *testing.T) {
	s := newTestServer(t, http.StatusOK)

	_, flow := s.do(t, http.MethodPost, "/flows", nil, "")
	id := flow["flow_id"].(string)

	w, body := s.do(t, http.MethodPost, "/flows/"+id+"/code", gin.H{"code": "A1B2C3"}, "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "invalid_state", body["error"])

	_, session := s.do(t, http.MethodPost, "/flows/"+id+"/connect", nil, "")
	topic := topicOf(session["pairing_uri"].(string))
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	w, _ = s.do(t, http.MethodPost, "/relay/"+topic+"/approve", approveAs(t, key, topic, "A1B2C3"), "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Eventually(t, func() bool {
		_, flow := s.do(t, http.MethodGet, "/flows/"+id, nil, "")
		return flow["state"] == "awaiting_code"
	}, 2*time.Second, 5*time.Millisecond)

	w, body = s.do(t, http.MethodPost, "/flows/"+id+"/code", gin.H{"code": "12345"}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_code", body["error"])

	w, body = s.do(t, http.MethodPost, "/flows/"+id+"/code", gin.H{"code": "ZZZZZZ"}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "verification_failed", body["error"])
	assert.Equal(t, float64(2), body["attempts_remaining"])
	assert.Contains(t, body["message"], "2 attempt(s) left")

	w, body = s.do(t, http.MethodPost, "/flows/"+id+"/back", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "awaiting_scan", body["state"])
}

func TestApproveRejectsForgedSignature(t *testing.T) {
	s := newTestServer(t, http.StatusOK)

	_, flow := s.do(t, http.MethodPost, "/flows", nil, "")
	id := flow["flow_id"].(string)
	_, session := s.do(t, http.MethodPost, "/flows/"+id+"/connect", nil, "")
	topic := topicOf(session["pairing_uri"].(string))

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	other, err := crypto.GenerateKey()
	require.NoError(t, err)

	req := approveAs(t, key, topic, "A1B2C3")
	req.Address = crypto.PubkeyToAddress(other.PublicKey).Hex()

	w, body := s.do(t, http.MethodPost, "/relay/"+topic+"/approve", req, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "invalid_approval", body["error"])

	w, _ = s.do(t, http.MethodPost, "/relay/"+topic+"/approve", gin.H{"address": "0x1"}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBalanceUpstreamUnavailable(t *testing.T) {
	s := newTestServer(t, http.StatusServiceUnavailable)
	id, token := s.pairAndVerify(t)

	w, body := s.do(t, http.MethodGet, "/api/balance", nil, token)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "upstream_unavailable", body["error"])
	assert.NotContains(t, body["message"], "503")

	w, dashboard := s.do(t, http.MethodGet, "/api/dashboard", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, dashboard["balance_error"])
	assert.NotEmpty(t, dashboard["tokens_error"])

	_, flow := s.do(t, http.MethodGet, "/flows/"+id, nil, "")
	assert.Equal(t, "authenticated", flow["state"])
}

func TestUnknownFlowAndMissingToken(t *testing.T) {
	s := newTestServer(t, http.StatusOK)

	w, body := s.do(t, http.MethodGet, "/flows/nope", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", body["error"])

	w, _ = s.do(t, http.MethodDelete, "/flows/nope", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = s.do(t, http.MethodGet, "/api/me", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = s.do(t, http.MethodGet, "/api/me", nil, "garbage")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, body = s.do(t, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
}
