package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/websocket"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hyperdex/pkg/app/core/asset"
	"github.com/uhyunpark/hyperdex/pkg/app/core/ledger"
	"github.com/uhyunpark/hyperdex/pkg/app/core/matching"
	"github.com/uhyunpark/hyperdex/pkg/app/dex"
	"github.com/uhyunpark/hyperdex/pkg/custody"
	"github.com/uhyunpark/hyperdex/pkg/crypto"
)

var (
	daiToken = common.HexToAddress("0xd000000000000000000000000000000000000001")
	batToken = common.HexToAddress("0xd000000000000000000000000000000000000002")
)

type testEnv struct {
	srv    *Server
	http   *httptest.Server
	vault  *custody.Vault
	nonces map[common.Address]uint64
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithNonces(t, nil)
}

func newTestEnvWithNonces(t *testing.T, nonces NonceStore) *testEnv {
	t.Helper()
	reg, err := asset.NewRegistry("DAI",
		asset.Asset{Symbol: "DAI", Token: daiToken, Decimals: 2},
		asset.Asset{Symbol: "BAT", Token: batToken, Decimals: 0},
	)
	require.NoError(t, err)
	l, err := ledger.New(reg, nil, nil)
	require.NoError(t, err)
	engine := matching.NewEngine(reg, l, nil)
	vault := custody.NewVault()
	d := dex.New(engine, vault, dex.Options{WithdrawRetries: 1, RetryInterval: time.Millisecond}, nil)

	srv, err := NewServer(d, nonces, nil)
	require.NoError(t, err)
	engine.OnTrade(srv.BroadcastTrade)
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		hs.Close()
		_ = srv.Shutdown(context.Background())
	})
	return &testEnv{srv: srv, http: hs, vault: vault, nonces: make(map[common.Address]uint64)}
}

func newTrader(t *testing.T, env *testEnv) *crypto.Signer {
	t.Helper()
	s, err := crypto.GenerateKey()
	require.NoError(t, err)
	require.NoError(t, env.vault.Faucet(s.Address(), daiToken, uint256.NewInt(1_000_000)))
	require.NoError(t, env.vault.Faucet(s.Address(), batToken, uint256.NewInt(1_000)))
	return s
}

// post signs with the signer's next nonce
func (e *testEnv) post(t *testing.T, signer *crypto.Signer, path string, payload any) *http.Response {
	t.Helper()
	var nonce uint64
	if signer != nil {
		e.nonces[signer.Address()]++
		nonce = e.nonces[signer.Address()]
	}
	return e.postNonce(t, signer, path, nonce, payload)
}

func (e *testEnv) postNonce(t *testing.T, signer *crypto.Signer, path string, nonce uint64, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, e.http.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if signer != nil {
		sig, err := signer.SignRequest(http.MethodPost, path, nonce, body)
		require.NoError(t, err)
		req.Header.Set(headerTrader, signer.Address().Hex())
		req.Header.Set(headerSignature, hexutil.Encode(sig))
		req.Header.Set(headerNonce, strconv.FormatUint(nonce, 10))
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(e.http.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	resp := env.get(t, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestListAssets(t *testing.T) {
	env := newTestEnv(t)
	resp := env.get(t, "/api/v1/assets")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assets := decode[[]AssetInfo](t, resp)
	require.Len(t, assets, 2)
	assert.Equal(t, "DAI", assets[0].Symbol)
	assert.True(t, assets[0].Base)
	assert.Equal(t, batToken.Hex(), assets[1].Token)
}

func TestDepositAndBalance(t *testing.T) {
	env := newTestEnv(t)
	alice := newTrader(t, env)

	resp := env.post(t, alice, "/api/v1/deposit", TransferRequest{Symbol: "DAI", Amount: "12345"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	bal := decode[BalanceInfo](t, resp)
	assert.Equal(t, "12345", bal.Balance)
	assert.Equal(t, "123.45", bal.Display)

	resp = env.get(t, "/api/v1/accounts/"+alice.Address().Hex()+"/balances/DAI")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "12345", decode[BalanceInfo](t, resp).Balance)
}

func TestUnknownAssetIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	alice := newTrader(t, env)

	resp := env.post(t, alice, "/api/v1/deposit", TransferRequest{Symbol: "ZRX", Amount: "1"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.get(t, "/api/v1/assets/ZRX/orders?side=buy")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.get(t, "/api/v1/accounts/"+alice.Address().Hex()+"/balances/ZRX")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUnsignedMutationRejected(t *testing.T) {
	env := newTestEnv(t)
	alice := newTrader(t, env)
	bob := newTrader(t, env)

	resp := env.post(t, nil, "/api/v1/deposit", TransferRequest{Symbol: "DAI", Amount: "1"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// alice signs, bob's address claimed
	body, _ := json.Marshal(TransferRequest{Symbol: "DAI", Amount: "1"})
	sig, err := alice.SignRequest(http.MethodPost, "/api/v1/deposit", 1, body)
	require.NoError(t, err)
	req, _ := http.NewRequest(http.MethodPost, env.http.URL+"/api/v1/deposit", bytes.NewReader(body))
	req.Header.Set(headerTrader, bob.Address().Hex())
	req.Header.Set(headerSignature, hexutil.Encode(sig))
	req.Header.Set(headerNonce, "1")
	r2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer r2.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, r2.StatusCode)

	assert.Equal(t, uint64(1_000_000), env.vault.WalletBalance(bob.Address(), daiToken).Uint64())
}

func TestReplayedRequestRejected(t *testing.T) {
	env := newTestEnv(t)
	alice := newTrader(t, env)
	deposit := TransferRequest{Symbol: "DAI", Amount: "100"}

	require.Equal(t, http.StatusOK, env.postNonce(t, alice, "/api/v1/deposit", 5, deposit).StatusCode)
	assert.Equal(t, http.StatusUnauthorized, env.postNonce(t, alice, "/api/v1/deposit", 5, deposit).StatusCode)
	assert.Equal(t, http.StatusUnauthorized, env.postNonce(t, alice, "/api/v1/deposit", 4, deposit).StatusCode)

	resp := env.get(t, "/api/v1/accounts/"+alice.Address().Hex()+"/balances/DAI")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "100", decode[BalanceInfo](t, resp).Balance)

	require.Equal(t, http.StatusOK, env.postNonce(t, alice, "/api/v1/deposit", 6, deposit).StatusCode)
}

func TestNonceIsPerTrader(t *testing.T) {
	env := newTestEnv(t)
	alice := newTrader(t, env)
	bob := newTrader(t, env)
	deposit := TransferRequest{Symbol: "DAI", Amount: "1"}

	require.Equal(t, http.StatusOK, env.postNonce(t, alice, "/api/v1/deposit", 1, deposit).StatusCode)
	assert.Equal(t, http.StatusOK, env.postNonce(t, bob, "/api/v1/deposit", 1, deposit).StatusCode)
}

func TestMissingNonceRejected(t *testing.T) {
	env := newTestEnv(t)
	alice := newTrader(t, env)

	body, _ := json.Marshal(TransferRequest{Symbol: "DAI", Amount: "1"})
	sig, err := alice.SignRequest(http.MethodPost, "/api/v1/deposit", 0, body)
	require.NoError(t, err)
	req, _ := http.NewRequest(http.MethodPost, env.http.URL+"/api/v1/deposit", bytes.NewReader(body))
	req.Header.Set(headerTrader, alice.Address().Hex())
	req.Header.Set(headerSignature, hexutil.Encode(sig))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

type memNonceStore struct {
	mu     sync.Mutex
	nonces map[common.Address]uint64
}

func (m *memNonceStore) SaveNonce(trader common.Address, nonce uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nonces[trader] = nonce
	return nil
}

func (m *memNonceStore) LoadNonces() (map[common.Address]uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[common.Address]uint64, len(m.nonces))
	for k, v := range m.nonces {
		out[k] = v
	}
	return out, nil
}

func TestNoncesSurviveServerRestart(t *testing.T) {
	store := &memNonceStore{nonces: make(map[common.Address]uint64)}
	signer, err := crypto.GenerateKey()
	require.NoError(t, err)
	deposit := TransferRequest{Symbol: "DAI", Amount: "1"}

	first := newTestEnvWithNonces(t, store)
	require.NoError(t, first.vault.Faucet(signer.Address(), daiToken, uint256.NewInt(10)))
	require.Equal(t, http.StatusOK, first.postNonce(t, signer, "/api/v1/deposit", 9, deposit).StatusCode)
	assert.Equal(t, uint64(9), store.nonces[signer.Address()])

	second := newTestEnvWithNonces(t, store)
	require.NoError(t, second.vault.Faucet(signer.Address(), daiToken, uint256.NewInt(10)))
	assert.Equal(t, http.StatusUnauthorized, second.postNonce(t, signer, "/api/v1/deposit", 9, deposit).StatusCode)
	assert.Equal(t, http.StatusOK, second.postNonce(t, signer, "/api/v1/deposit", 10, deposit).StatusCode)
}

func TestMalformedRequests(t *testing.T) {
	env := newTestEnv(t)
	alice := newTrader(t, env)

	resp := env.post(t, alice, "/api/v1/deposit", TransferRequest{Symbol: "DAI", Amount: "12x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.post(t, alice, "/api/v1/orders/limit", LimitOrderRequest{Symbol: "BAT", Amount: "1", Price: "1", Side: "hold"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.get(t, "/api/v1/assets/BAT/orders?side=up")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOrderFlow(t *testing.T) {
	env := newTestEnv(t)
	alice := newTrader(t, env)
	bob := newTrader(t, env)

	require.Equal(t, http.StatusOK, env.post(t, alice, "/api/v1/deposit", TransferRequest{Symbol: "DAI", Amount: "1000"}).StatusCode)
	require.Equal(t, http.StatusOK, env.post(t, bob, "/api/v1/deposit", TransferRequest{Symbol: "BAT", Amount: "1000"}).StatusCode)

	resp := env.post(t, alice, "/api/v1/orders/limit", LimitOrderRequest{Symbol: "BAT", Amount: "10", Price: "10", Side: "buy"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	placed := decode[OrderResult](t, resp)
	assert.True(t, placed.Rested)
	assert.Equal(t, "limit", placed.Kind)

	resp = env.post(t, bob, "/api/v1/orders/market", MarketOrderRequest{Symbol: "BAT", Amount: "5", Side: "sell"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode[OrderResult](t, resp)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, "5", res.Trades[0].Amount)
	assert.Equal(t, "10", res.Trades[0].Price)
	assert.Equal(t, placed.Order.ID, res.Trades[0].MakerOrderID)
	assert.False(t, res.Rested)

	resp = env.get(t, "/api/v1/assets/BAT/orders?side=buy")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	orders := decode[[]OrderInfo](t, resp)
	require.Len(t, orders, 1)
	assert.Equal(t, "5", orders[0].Filled)
	assert.Equal(t, "5", orders[0].Remaining)

	resp = env.get(t, "/api/v1/assets/BAT/trades")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]TradeInfo](t, resp), 1)

	resp = env.get(t, "/api/v1/assets/BAT/book")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	book := decode[BookSnapshot](t, resp)
	require.Len(t, book.Bids, 1)
	assert.Equal(t, "5", book.Bids[0].Size)
	assert.Empty(t, book.Asks)

	resp = env.get(t, "/api/v1/accounts/"+bob.Address().Hex()+"/balances/DAI")
	assert.Equal(t, "50", decode[BalanceInfo](t, resp).Balance)
}

func TestValidationFailuresAreUnprocessable(t *testing.T) {
	env := newTestEnv(t)
	alice := newTrader(t, env)

	resp := env.post(t, alice, "/api/v1/orders/limit", LimitOrderRequest{Symbol: "DAI", Amount: "1", Price: "1", Side: "buy"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = env.post(t, alice, "/api/v1/orders/market", MarketOrderRequest{Symbol: "BAT", Amount: "1", Side: "sell"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = env.post(t, alice, "/api/v1/withdraw", TransferRequest{Symbol: "DAI", Amount: "1"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = env.post(t, alice, "/api/v1/deposit", TransferRequest{Symbol: "DAI", Amount: "2000000"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestWebSocketTradeStream(t *testing.T) {
	env := newTestEnv(t)
	alice := newTrader(t, env)
	bob := newTrader(t, env)

	wsURL := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(WSSubscribeRequest{Op: "subscribe", Channels: []string{"trades:BAT"}}))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ack WSAck
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, "subscribed", ack.Type)

	env.post(t, alice, "/api/v1/deposit", TransferRequest{Symbol: "BAT", Amount: "3"})
	env.post(t, bob, "/api/v1/deposit", TransferRequest{Symbol: "DAI", Amount: "100"})
	env.post(t, alice, "/api/v1/orders/limit", LimitOrderRequest{Symbol: "BAT", Amount: "3", Price: "7", Side: "sell"})
	resp := env.post(t, bob, "/api/v1/orders/market", MarketOrderRequest{Symbol: "BAT", Amount: "2", Side: "buy"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var update TradeUpdate
	require.NoError(t, conn.ReadJSON(&update))
	assert.Equal(t, "trade", update.Type)
	assert.Equal(t, "BAT", update.Trade.Symbol)
	assert.Equal(t, "2", update.Trade.Amount)
	assert.Equal(t, "7", update.Trade.Price)
	assert.Equal(t, "buy", update.Trade.Side)
}
