package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliyamo/grow4bot/internal/config"
	"github.com/iliyamo/grow4bot/internal/handler"
	"github.com/iliyamo/grow4bot/internal/ledger"
	"github.com/iliyamo/grow4bot/internal/middleware"
	"github.com/iliyamo/grow4bot/internal/repository"
	"github.com/iliyamo/grow4bot/internal/router"
	"github.com/iliyamo/grow4bot/internal/service"
)

type api struct {
	t     *testing.T
	e     *echo.Echo
	store *repository.MemoryStore
}

type cacheSetup struct {
	rdb *redis.Client
	cfg config.CacheConfig
}

func newAPI(t *testing.T, cache *cacheSetup) *api {
	t.Helper()
	cfg := config.Config{
		JWTSecret:       "test-secret",
		SessionTTLHours: 1,
		SessionCookie:   "g4b_session",
		BcryptCost:      4,
		AdminEmails:     []string{"root@example.com"},
	}
	store := repository.NewMemoryStore()
	sessions := service.NewSessions(store.Sessions(), cfg.JWTSecret, time.Hour)
	led := ledger.New(store, nil, nil, 3)

	var (
		purge   handler.CachePurger
		cacheMW echo.MiddlewareFunc = middleware.NewRedisCache(config.CacheConfig{}, nil, nil)
	)
	if cache != nil {
		purge = func(ctx context.Context) error { return middleware.PurgeCache(ctx, cache.rdb, cache.cfg.Prefix) }
		cacheMW = middleware.NewRedisCache(cache.cfg, cache.rdb, nil)
	}

	e := echo.New()
	e.Validator = handler.NewValidator()
	auth := middleware.RequireSession(sessions, store.Users(), cfg.SessionCookie, nil)
	router.RegisterRoutes(e, handler.Health(nil))
	router.RegisterAuth(e, handler.NewAuthHandler(cfg, store.Users(), sessions, nil), auth)
	router.RegisterShop(e, &handler.ShopHandler{
		Ledger: led, Products: store.Products(), Purchases: store.Purchases(),
		Transactions: store.Transactions(), Purge: purge, Log: zap.NewNop(),
	}, auth, cacheMW)
	router.RegisterAdmin(e, &handler.AdminHandler{
		Ledger: led, Users: store.Users(), Products: store.Products(), Purge: purge, Log: zap.NewNop(),
	}, auth)
	return &api{t: t, e: e, store: store}
}

func (a *api) do(method, path, body, token string) *httptest.ResponseRecorder {
	a.t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.AddCookie(&http.Cookie{Name: "g4b_session", Value: token})
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

func sessionCookie(rec *httptest.ResponseRecorder) string {
	for _, c := range rec.Result().Cookies() {
		if c.Name == "g4b_session" {
			return c.Value
		}
	}
	return ""
}

func (a *api) register(email string) (string, map[string]any) {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/api/auth/register", `{"email":"`+email+`","password":"hunter22"}`, "")
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	tok := sessionCookie(rec)
	require.NotEmpty(a.t, tok)
	return tok, decode(a.t, rec)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m), rec.Body.String())
	return m
}

func decodeList(t *testing.T, rec *httptest.ResponseRecorder) []map[string]any {
	t.Helper()
	var m []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m), rec.Body.String())
	return m
}

func TestAuthFlow(t *testing.T) {
	a := newAPI(t, nil)

	tok, user := a.register("Shopper@Example.com")
	assert.Equal(t, "shopper@example.com", user["email"])
	assert.Equal(t, 0.0, user["balance"])
	assert.Equal(t, false, user["isAdmin"])
	assert.NotContains(t, user, "password")
	assert.NotContains(t, user, "passwordHash")

	rec := a.do(http.MethodPost, "/api/auth/register", `{"email":"shopper@example.com","password":"another1"}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "email already exists", decode(t, rec)["error"])

	rec = a.do(http.MethodPost, "/api/auth/register", `{"email":"nope","password":"x"}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	fields := decode(t, rec)["fields"].(map[string]any)
	assert.Contains(t, fields, "email")
	assert.Contains(t, fields, "password")

	rec = a.do(http.MethodGet, "/api/auth/me", "", tok)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "shopper@example.com", decode(t, rec)["email"])

	rec = a.do(http.MethodPost, "/api/auth/login", `{"email":"shopper@example.com","password":"wrong-pass"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = a.do(http.MethodPost, "/api/auth/login", `{"email":"ghost@example.com","password":"hunter22"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = a.do(http.MethodPost, "/api/auth/login", `{"email":"SHOPPER@example.com","password":"hunter22"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	second := sessionCookie(rec)
	assert.NotEqual(t, tok, second)

	rec = a.do(http.MethodPost, "/api/auth/logout", "", tok)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusUnauthorized, a.do(http.MethodGet, "/api/auth/me", "", tok).Code)
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/api/auth/me", "", second).Code)

	// Logout without a session still succeeds.
	assert.Equal(t, http.StatusOK, a.do(http.MethodPost, "/api/auth/logout", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, a.do(http.MethodGet, "/api/auth/me", "", "").Code)
}

func TestAdminBootstrapAndGuards(t *testing.T) {
	a := newAPI(t, nil)
	adminTok, adminUser := a.register("root@example.com")
	assert.Equal(t, true, adminUser["isAdmin"])
	userTok, _ := a.register("user@example.com")

	assert.Equal(t, http.StatusUnauthorized, a.do(http.MethodGet, "/api/admin/users", "", "").Code)
	assert.Equal(t, http.StatusForbidden, a.do(http.MethodGet, "/api/admin/users", "", userTok).Code)

	rec := a.do(http.MethodGet, "/api/admin/users", "", adminTok)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeList(t, rec), 2)
}

func TestShopFlow(t *testing.T) {
	a := newAPI(t, nil)
	adminTok, _ := a.register("root@example.com")
	userTok, user := a.register("buyer@example.com")
	uid := uint64(user["id"].(float64))

	rec := a.do(http.MethodPost, "/api/admin/products",
		`{"name":"Tomato seeds","description":"Heirloom","price":7.5,"category":"seeds","stock":["KEY-1"," "]}`, adminTok)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	product := decode(t, rec)
	assert.Equal(t, 7.5, product["price"])
	assert.Equal(t, 1.0, product["stock"])
	assert.NotContains(t, rec.Body.String(), "KEY-1")
	pid := jsonNumber(product["id"])

	rec = a.do(http.MethodGet, "/api/products", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "KEY-1")
	assert.Len(t, decodeList(t, rec), 1)

	assert.Equal(t, http.StatusUnauthorized, a.do(http.MethodPost, "/api/products/"+pid+"/purchase", "", "").Code)

	rec = a.do(http.MethodPost, "/api/products/"+pid+"/purchase", "", userTok)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "insufficient balance", decode(t, rec)["error"])

	rec = a.do(http.MethodPost, "/api/admin/users/"+jsonNumber(float64(uid))+"/balance", `{"amount":10}`, adminTok)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 10.0, decode(t, rec)["balance"])

	rec = a.do(http.MethodPost, "/api/products/"+pid+"/purchase", "", userTok)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode(t, rec)
	assert.Equal(t, "KEY-1", res["stockData"])
	assert.Equal(t, 2.5, res["balance"])
	purchase := res["purchase"].(map[string]any)
	assert.Equal(t, "Tomato seeds", purchase["productName"])

	rec = a.do(http.MethodPost, "/api/products/"+pid+"/purchase", "", userTok)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "out of stock", decode(t, rec)["error"])

	assert.Equal(t, http.StatusNotFound, a.do(http.MethodPost, "/api/products/999/purchase", "", userTok).Code)
	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPost, "/api/products/abc/purchase", "", userTok).Code)

	rec = a.do(http.MethodPost, "/api/wallet/topup", `{"amount":25}`, userTok)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 27.5, decode(t, rec)["balance"])

	for _, body := range []string{`{"amount":0}`, `{"amount":-5}`, `{}`, `{"amount":"ten"}`, `not json`} {
		rec = a.do(http.MethodPost, "/api/wallet/topup", body, userTok)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}

	rec = a.do(http.MethodGet, "/api/transactions", "", userTok)
	require.Equal(t, http.StatusOK, rec.Code)
	txs := decodeList(t, rec)
	require.Len(t, txs, 3)
	assert.Equal(t, "topup", txs[0]["type"])
	assert.Equal(t, "purchase", txs[1]["type"])
	assert.Equal(t, "admin_add", txs[2]["type"])

	rec = a.do(http.MethodGet, "/api/purchases", "", userTok)
	require.Equal(t, http.StatusOK, rec.Code)
	purchases := decodeList(t, rec)
	require.Len(t, purchases, 1)
	assert.Equal(t, "KEY-1", purchases[0]["stockData"])

	// Other users see only their own history.
	rec = a.do(http.MethodGet, "/api/purchases", "", adminTok)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))

	rec = a.do(http.MethodPost, "/api/admin/purchases/"+jsonNumber(purchase["id"])+"/refund", "", adminTok)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "refund", decode(t, rec)["type"])
	assert.Equal(t, http.StatusConflict,
		a.do(http.MethodPost, "/api/admin/purchases/"+jsonNumber(purchase["id"])+"/refund", "", adminTok).Code)
}

func TestTopUpPastBalanceCeiling(t *testing.T) {
	a := newAPI(t, nil)
	tok, _ := a.register("rich@example.com")

	rec := a.do(http.MethodPost, "/api/wallet/topup", `{"amount":46116860184273879}`, tok)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = a.do(http.MethodPost, "/api/wallet/topup", `{"amount":46116860184273879}`, tok)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "validation failed", body["error"])
	assert.Contains(t, body["fields"], "amount")
}

func TestBanFlow(t *testing.T) {
	a := newAPI(t, nil)
	adminTok, adminUser := a.register("root@example.com")
	userTok, user := a.register("user@example.com")
	uid := jsonNumber(user["id"])

	rec := a.do(http.MethodPatch, "/api/admin/users/"+uid+"/ban", `{"banned":true}`, adminTok)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, decode(t, rec)["isBanned"])

	for _, body := range []string{`{"amount":5}`, `{"amount":-5}`, `{}`, `not json`} {
		rec = a.do(http.MethodPost, "/api/wallet/topup", body, userTok)
		assert.Equal(t, http.StatusForbidden, rec.Code, body)
	}

	rec = a.do(http.MethodPost, "/api/auth/login", `{"email":"user@example.com","password":"hunter22"}`, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Admin credit to a banned target is allowed.
	rec = a.do(http.MethodPost, "/api/admin/users/"+uid+"/balance", `{"amount":1.25}`, adminTok)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.25, decode(t, rec)["balance"])

	assert.Equal(t, http.StatusBadRequest,
		a.do(http.MethodPatch, "/api/admin/users/"+uid+"/ban", `{}`, adminTok).Code)
	assert.Equal(t, http.StatusBadRequest,
		a.do(http.MethodPatch, "/api/admin/users/"+jsonNumber(adminUser["id"])+"/ban", `{"banned":true}`, adminTok).Code)
	assert.Equal(t, http.StatusNotFound,
		a.do(http.MethodPatch, "/api/admin/users/999/ban", `{"banned":true}`, adminTok).Code)

	rec = a.do(http.MethodPatch, "/api/admin/users/"+uid+"/ban", `{"banned":false}`, adminTok)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusOK, a.do(http.MethodPost, "/api/wallet/topup", `{"amount":5}`, userTok).Code)
}

func TestProductAdmin(t *testing.T) {
	a := newAPI(t, nil)
	adminTok, _ := a.register("root@example.com")

	rec := a.do(http.MethodPost, "/api/admin/products", `{"name":"Pot","price":3}`, adminTok)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	p := decode(t, rec)
	assert.Equal(t, "general", p["category"])
	assert.Equal(t, 0.0, p["stock"])
	id := jsonNumber(p["id"])

	for _, body := range []string{`{"price":3}`, `{"name":"x","price":0}`, `{"name":"x"}`, `{"name":"x","price":-1}`} {
		assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPost, "/api/admin/products", body, adminTok).Code, body)
	}

	rec = a.do(http.MethodPatch, "/api/admin/products/"+id, `{"price":4.25,"stock":["a","b","c"]}`, adminTok)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	p = decode(t, rec)
	assert.Equal(t, 4.25, p["price"])
	assert.Equal(t, 3.0, p["stock"])
	assert.Equal(t, "Pot", p["name"])

	rec = a.do(http.MethodGet, "/api/products/"+id, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3.0, decode(t, rec)["stock"])

	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPatch, "/api/admin/products/"+id, `{"price":0}`, adminTok).Code)
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodPatch, "/api/admin/products/999", `{"name":"x"}`, adminTok).Code)

	assert.Equal(t, http.StatusOK, a.do(http.MethodDelete, "/api/admin/products/"+id, "", adminTok).Code)
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodDelete, "/api/admin/products/"+id, "", adminTok).Code)
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodGet, "/api/products/"+id, "", "").Code)
}

func TestProductListCacheIsPurgedOnWrites(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	a := newAPI(t, &cacheSetup{rdb: rdb, cfg: config.CacheConfig{
		Enabled: true, Methods: map[string]bool{"GET": true}, TTL: time.Minute,
		KeyStrategy: "route_query", Prefix: "cache", MaxBodyBytes: 1 << 20,
	}})
	adminTok, _ := a.register("root@example.com")

	rec := a.do(http.MethodGet, "/api/products", "", "")
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	assert.Equal(t, "HIT", a.do(http.MethodGet, "/api/products", "", "").Header().Get("X-Cache"))

	rec = a.do(http.MethodPost, "/api/admin/products", `{"name":"Pot","price":3,"stock":["k"]}`, adminTok)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = a.do(http.MethodGet, "/api/products", "", "")
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	assert.Len(t, decodeList(t, rec), 1)
}

func TestConcurrentPurchasesOverHTTP(t *testing.T) {
	a := newAPI(t, nil)
	adminTok, _ := a.register("root@example.com")
	rec := a.do(http.MethodPost, "/api/admin/products", `{"name":"Last","price":1,"stock":["ONLY"]}`, adminTok)
	require.Equal(t, http.StatusCreated, rec.Code)
	pid := jsonNumber(decode(t, rec)["id"])

	const n = 8
	tokens := make([]string, n)
	for i := range tokens {
		tok, u := a.register("buyer" + jsonNumber(float64(i)) + "@example.com")
		tokens[i] = tok
		require.Equal(t, http.StatusOK,
			a.do(http.MethodPost, "/api/admin/users/"+jsonNumber(u["id"])+"/balance", `{"amount":5}`, adminTok).Code)
	}

	var wg sync.WaitGroup
	codes := make([]int, n)
	for i, tok := range tokens {
		wg.Add(1)
		go func(i int, tok string) {
			defer wg.Done()
			codes[i] = a.do(http.MethodPost, "/api/products/"+pid+"/purchase", "", tok).Code
		}(i, tok)
	}
	wg.Wait()

	ok := 0
	for _, c := range codes {
		if c == http.StatusOK {
			ok++
		} else {
			assert.Contains(t, []int{http.StatusBadRequest, http.StatusConflict}, c)
		}
	}
	assert.Equal(t, 1, ok)
}

func TestHealth(t *testing.T) {
	a := newAPI(t, nil)
	rec := a.do(http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func jsonNumber(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}
