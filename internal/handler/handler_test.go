package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"chatledger/internal/config"
	"chatledger/internal/infrastructure/cache"
	"chatledger/internal/logger"
	"chatledger/internal/notify"
	"chatledger/internal/service"
	"chatledger/internal/testutil"
	"chatledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, time.June, 20, 12, 0, 0, 0, time.UTC)

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()

	db := testutil.NewDB(t)
	cfg := config.Default()
	cfg.Server.Mode = gin.TestMode
	l := logger.Discard()

	ledgerCache := cache.NewLedgerCache(nil, time.Minute)
	notifier := notify.NewNotifier(notify.NewLogDispatcher(l), time.Second, l)
	t.Cleanup(func() { notifier.Wait(time.Second) })

	h := NewHandler(
		service.NewChatService(db, l),
		service.NewLedgerService(db, nil, ledgerCache, notifier, cfg, l).WithClock(func() time.Time { return fixedNow }),
		service.NewStatsService(db, ledgerCache, l),
		l,
	)
	return SetupRouter(h, cfg, l)
}

func call(t *testing.T, r *gin.Engine, method, path, member string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if member != "" {
		req.Header.Set(headerMemberID, member)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w, env
}

func createChat(t *testing.T, r *gin.Engine) string {
	t.Helper()
	w, env := call(t, r, http.MethodPost, "/api/v1/chats", "alice", gin.H{"name": "室友", "members": []string{"bob"}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var chat struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &chat))
	require.NotEmpty(t, chat.ID)
	return chat.ID
}

func TestLedgerFlow(t *testing.T) {
	r := newTestRouter(t)
	chatID := createChat(t, r)
	base := "/api/v1/chats/" + chatID

	w, env := call(t, r, http.MethodPost, base+"/transactions", "alice", gin.H{
		"amount": "12.50",
		"date":   "2025-06-18T09:30:00Z",
		"remark": "午饭",
		"from":   "alice",
		"to":     "bob",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var trans TransactionView
	require.NoError(t, json.Unmarshal(env.Data, &trans))
	assert.Equal(t, "12.50", trans.Amount)
	assert.Equal(t, "alice", trans.AddedBy)
	txPath := base + "/transactions/" + strconv.FormatInt(trans.ID, 10)

	w, env = call(t, r, http.MethodGet, base+"/transactions?limit=10", "bob", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Items   []TransactionView `json:"items"`
		HasMore bool              `json:"has_more"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	require.Len(t, page.Items, 1)
	assert.False(t, page.HasMore)

	w, env = call(t, r, http.MethodPut, txPath, "alice", gin.H{"amount": "20"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, env = call(t, r, http.MethodGet, base+"/stats?year=2025&month=6", "bob", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var stats StatsView
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Equal(t, int64(1), stats.TxCount)
	require.Len(t, stats.Members, 2)
	assert.Equal(t, MemberStatsView{
		MemberID: "alice", TotalSent: "20.00", TotalReceived: "0.00",
		Net: "-20.00", CarryForward: "0.00", Closing: "-20.00",
	}, stats.Members[0])

	w, env = call(t, r, http.MethodGet, base+"/months", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"months":[{"year":2025,"month":6}]}`, string(env.Data))

	w, env = call(t, r, http.MethodPost, txPath+"/verify", "alice", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, response.CodeForbidden, env.Code)

	w, env = call(t, r, http.MethodPost, txPath+"/verify", "bob", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, &trans))
	assert.True(t, trans.Verified)

	w, env = call(t, r, http.MethodDelete, txPath, "alice", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, response.CodeInvalidState, env.Code)
}

func TestDeleteTransaction(t *testing.T) {
	r := newTestRouter(t)
	chatID := createChat(t, r)
	base := "/api/v1/chats/" + chatID

	w, env := call(t, r, http.MethodPost, base+"/transactions", "bob", gin.H{
		"amount": "3", "date": "2025-06-01T00:00:00Z", "from": "bob", "to": "alice",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var trans TransactionView
	require.NoError(t, json.Unmarshal(env.Data, &trans))

	w, _ = call(t, r, http.MethodDelete, base+"/transactions/"+strconv.FormatInt(trans.ID, 10), "alice", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = call(t, r, http.MethodDelete, base+"/transactions/"+strconv.FormatInt(trans.ID, 10), "bob", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, env = call(t, r, http.MethodGet, base+"/months", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"months":[]}`, string(env.Data))
}

func TestErrorMapping(t *testing.T) {
	r := newTestRouter(t)
	chatID := createChat(t, r)
	base := "/api/v1/chats/" + chatID

	cases := []struct {
		name       string
		method     string
		path       string
		member     string
		body       interface{}
		wantStatus int
		wantCode   int
	}{
		{"缺少成员身份", http.MethodGet, base, "", nil, http.StatusUnauthorized, response.CodeUnauthorized},
		{"非成员", http.MethodGet, base, "mallory", nil, http.StatusForbidden, response.CodeForbidden},
		{"聊天不存在", http.MethodGet, "/api/v1/chats/42", "alice", nil, http.StatusNotFound, response.CodeNotFound},
		{"chat_id 非数字", http.MethodGet, "/api/v1/chats/abc", "alice", nil, http.StatusBadRequest, response.CodeParamError},
		{"金额精度超过两位", http.MethodPost, base + "/transactions", "alice",
			gin.H{"amount": "1.234", "date": "2025-06-18T00:00:00Z", "from": "alice", "to": "bob"},
			http.StatusBadRequest, response.CodeValidation},
		{"付款方等于收款方", http.MethodPost, base + "/transactions", "alice",
			gin.H{"amount": "1", "date": "2025-06-18T00:00:00Z", "from": "alice", "to": "alice"},
			http.StatusBadRequest, response.CodeValidation},
		{"已关账月份", http.MethodPost, base + "/transactions", "alice",
			gin.H{"amount": "1", "date": "2025-05-18T00:00:00Z", "from": "alice", "to": "bob"},
			http.StatusConflict, response.CodeClosedPeriod},
		{"缺少必填字段", http.MethodPost, base + "/transactions", "alice",
			gin.H{"date": "2025-06-18T00:00:00Z"},
			http.StatusBadRequest, response.CodeParamError},
		{"统计缺少月份", http.MethodGet, base + "/stats?year=2025", "alice", nil, http.StatusBadRequest, response.CodeParamError},
		{"统计月份越界", http.MethodGet, base + "/stats?year=2025&month=13", "alice", nil, http.StatusBadRequest, response.CodeValidation},
		{"游标不合法", http.MethodGet, base + "/transactions?cursor=%21%21", "alice", nil, http.StatusBadRequest, response.CodeValidation},
		{"流水不存在", http.MethodPost, base + "/transactions/7/verify", "bob", nil, http.StatusNotFound, response.CodeNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, env := call(t, r, tc.method, tc.path, tc.member, tc.body)
			assert.Equal(t, tc.wantStatus, w.Code, w.Body.String())
			assert.Equal(t, tc.wantCode, env.Code, w.Body.String())
		})
	}
}

func TestRequestIDAndHealth(t *testing.T) {
	r := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(headerRequestID, "req-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "req-1", w.Header().Get(headerRequestID))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.NotEmpty(t, w.Header().Get(headerRequestID))
}
