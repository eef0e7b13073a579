package handler_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/SergeiKhy/linkresolver/internal/auth"
	"github.com/SergeiKhy/linkresolver/internal/entitlement"
	"github.com/SergeiKhy/linkresolver/internal/handler"
	"github.com/SergeiKhy/linkresolver/internal/middleware"
	"github.com/SergeiKhy/linkresolver/internal/models"
	"github.com/SergeiKhy/linkresolver/internal/service"
	"github.com/SergeiKhy/linkresolver/internal/service/mocks"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testSecret  = "test-secret"
	fallbackURL = "https://fallback.example/"
)

type testServer struct {
	router       *gin.Engine
	linkRepo     *mocks.MockLinkRepository
	entitlements *mocks.MockEntitlements
	visits       *mocks.RecordingVisitRecorder
	verifier     *auth.Verifier
}

type serverOptions struct {
	production     bool
	conceal        bool
	redirectStatus int
}

func setupServer(t *testing.T, opts serverOptions) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := zap.NewNop()
	linkRepo := mocks.NewMockLinkRepository()
	cacheRepo := mocks.NewMockCacheRepository()
	entitlements := mocks.NewMockEntitlements(entitlement.Tier{Key: "free", Limit: 3})
	visits := &mocks.RecordingVisitRecorder{}
	verifier := auth.NewVerifier(testSecret)

	linkService := service.NewLinkService(linkRepo, cacheRepo, entitlements, nil, logger,
		service.WithReservedCodes(handler.ReservedCodes()...),
	)
	resolver := service.NewResolver(linkRepo, cacheRepo, visits, time.Second, logger)
	errs := handler.NewErrorWriter(opts.production, opts.conceal, logger)

	router := handler.NewRouter(handler.RouterDeps{
		Redirects: handler.NewRedirectHandler(resolver, fallbackURL, opts.redirectStatus, logger),
		Links:     handler.NewLinkHandler(linkService, "https://sho.rt/", errs, logger),
		Health:    handler.NewHealthHandler(visits, nil),
		Auth:      middleware.NewAuth(verifier),
		Logger:    logger,
	})

	return &testServer{
		router:       router,
		linkRepo:     linkRepo,
		entitlements: entitlements,
		visits:       visits,
		verifier:     verifier,
	}
}

func (s *testServer) token(t *testing.T, ownerID string) string {
	t.Helper()
	token, err := s.verifier.Issue(auth.Principal{OwnerID: ownerID}, time.Hour)
	require.NoError(t, err)
	return token
}

func (s *testServer) do(method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) seed(t *testing.T, ownerID, code, destination string) *models.Link {
	t.Helper()
	link := &models.Link{OwnerID: ownerID, Code: code, Destination: destination}
	require.NoError(t, s.linkRepo.Insert(t.Context(), link))
	return link
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

// TestRedirect_Found проверяет редирект на адрес назначения
func TestRedirect_Found(t *testing.T) {
	srv := setupServer(t, serverOptions{conceal: true})
	link := srv.seed(t, "owner-a", "abc123", "https://example.com/x")

	w := srv.do(http.MethodGet, "/abc123", nil, "")

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://example.com/x", w.Header().Get("Location"))
	assert.Equal(t, []string{link.ID}, srv.visits.Visits())
}

// TestRedirect_Permanent проверяет настраиваемый статус редиректа
func TestRedirect_Permanent(t *testing.T) {
	srv := setupServer(t, serverOptions{redirectStatus: http.StatusMovedPermanently})
	srv.seed(t, "owner-a", "abc123", "https://example.com/x")

	w := srv.do(http.MethodGet, "/abc123", nil, "")

	assert.Equal(t, http.StatusMovedPermanently, w.Code)
}

// TestRedirect_InvalidCode проверяет уход на запасной адрес при неверном формате
func TestRedirect_InvalidCode(t *testing.T) {
	srv := setupServer(t, serverOptions{})

	for _, path := range []string{"/a", "/***abc123", "/abcdefghijklmn"} {
		t.Run(path, func(t *testing.T) {
			w := srv.do(http.MethodGet, path, nil, "")
			assert.Equal(t, http.StatusFound, w.Code)
			assert.Equal(t, fallbackURL, w.Header().Get("Location"))
		})
	}
	assert.Zero(t, srv.linkRepo.FindByCodeCalls.Load())
}

// TestRedirect_MultiSegmentPath проверяет, что путь из нескольких сегментов ведёт на запасной адрес
func TestRedirect_MultiSegmentPath(t *testing.T) {
	srv := setupServer(t, serverOptions{})

	for _, path := range []string{"/abc/def", "/abc123/extra/x"} {
		t.Run(path, func(t *testing.T) {
			w := srv.do(http.MethodGet, path, nil, "")
			assert.Equal(t, http.StatusFound, w.Code)
			assert.Equal(t, fallbackURL, w.Header().Get("Location"))
		})
	}

	// Неизвестный путь API не превращается в редирект
	w := srv.do(http.MethodGet, "/api/v1/unknown", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decode[handler.ErrorResponse](t, w).Error)

	assert.Zero(t, srv.linkRepo.FindByCodeCalls.Load())
}

// TestRedirect_NotFound проверяет ответ на отсутствующий код
func TestRedirect_NotFound(t *testing.T) {
	srv := setupServer(t, serverOptions{})

	w := srv.do(http.MethodGet, "/zzzzzz", nil, "")

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Link not found", w.Body.String())
	assert.Empty(t, srv.visits.Visits())
}

// TestRedirect_StorageFailure проверяет общий ответ на отказ хранилища
func TestRedirect_StorageFailure(t *testing.T) {
	srv := setupServer(t, serverOptions{})
	srv.linkRepo.FindByCodeErr = errors.New("connection refused")

	w := srv.do(http.MethodGet, "/abc123", nil, "")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "connection refused")
}

// TestAPI_Unauthorized проверяет отказ без валидного токена
func TestAPI_Unauthorized(t *testing.T) {
	srv := setupServer(t, serverOptions{})

	other := auth.NewVerifier("another-secret")
	foreignToken, err := other.Issue(auth.Principal{OwnerID: "owner-a"}, time.Hour)
	require.NoError(t, err)
	expired, err := srv.verifier.Issue(auth.Principal{OwnerID: "owner-a"}, -time.Minute)
	require.NoError(t, err)

	for name, token := range map[string]string{"missing": "", "garbage": "not-a-jwt", "wrong key": foreignToken, "expired": expired} {
		t.Run(name, func(t *testing.T) {
			w := srv.do(http.MethodGet, "/api/v1/links", nil, token)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, "unauthorized", decode[map[string]interface{}](t, w)["error"])
		})
	}
}

// TestAPI_CookieToken проверяет передачу токена через cookie
func TestAPI_CookieToken(t *testing.T) {
	srv := setupServer(t, serverOptions{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/links", nil)
	req.AddCookie(&http.Cookie{Name: middleware.TokenCookie, Value: srv.token(t, "owner-a")})
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

// TestAPI_CreateLink проверяет создание ссылки через API
func TestAPI_CreateLink(t *testing.T) {
	srv := setupServer(t, serverOptions{})
	token := srv.token(t, "owner-a")

	w := srv.do(http.MethodPost, "/api/v1/links", map[string]string{"destination": "https://example.com/page"}, token)

	require.Equal(t, http.StatusCreated, w.Code)
	resp := decode[handler.LinkResponse](t, w)
	assert.Equal(t, "owner-a", resp.OwnerID)
	assert.Equal(t, "https://example.com/page", resp.Destination)
	assert.Len(t, resp.Code, 8)
	assert.Equal(t, "https://sho.rt/"+resp.Code, resp.ShortURL)

	// Новый код сразу разрешается
	w = srv.do(http.MethodGet, "/"+resp.Code, nil, "")
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://example.com/page", w.Header().Get("Location"))
}

// TestAPI_CreateLink_Errors проверяет коды ошибок создания
func TestAPI_CreateLink_Errors(t *testing.T) {
	srv := setupServer(t, serverOptions{})
	token := srv.token(t, "owner-a")
	srv.seed(t, "owner-b", "taken123", "https://example.com")

	tests := []struct {
		name       string
		body       interface{}
		wantStatus int
		wantError  string
	}{
		{"missing destination", map[string]string{}, http.StatusBadRequest, "invalid_input"},
		{"invalid url", map[string]string{"destination": "not a url"}, http.StatusBadRequest, "invalid_url"},
		{"invalid alias", map[string]string{"destination": "https://example.com", "alias": "a!"}, http.StatusBadRequest, "invalid_alias"},
		{"alias taken", map[string]string{"destination": "https://example.com", "alias": "taken123"}, http.StatusConflict, "alias_taken"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := srv.do(http.MethodPost, "/api/v1/links", tt.body, token)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantError, decode[handler.ErrorResponse](t, w).Error)
		})
	}
}

// TestAPI_CreateLink_ReservedAlias проверяет, что алиас не может совпасть с фиксированным маршрутом
func TestAPI_CreateLink_ReservedAlias(t *testing.T) {
	srv := setupServer(t, serverOptions{})
	token := srv.token(t, "owner-a")

	for _, alias := range []string{"healthz", "readyz", "metrics"} {
		t.Run(alias, func(t *testing.T) {
			w := srv.do(http.MethodPost, "/api/v1/links", map[string]string{"destination": "https://example.com", "alias": alias}, token)
			assert.Equal(t, http.StatusConflict, w.Code)
			assert.Equal(t, "alias_taken", decode[handler.ErrorResponse](t, w).Error)
		})
	}
	assert.Zero(t, srv.linkRepo.Len())

	// Отличающийся регистром алиас маршрутом не перекрыт и работает
	w := srv.do(http.MethodPost, "/api/v1/links", map[string]string{"destination": "https://example.com/m", "alias": "Metrics"}, token)
	require.Equal(t, http.StatusCreated, w.Code)

	w = srv.do(http.MethodGet, "/Metrics", nil, "")
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://example.com/m", w.Header().Get("Location"))
}

// TestAPI_CreateLink_QuotaExceeded проверяет ответ при исчерпании квоты
func TestAPI_CreateLink_QuotaExceeded(t *testing.T) {
	srv := setupServer(t, serverOptions{})
	token := srv.token(t, "owner-a")

	for i := 0; i < 3; i++ {
		w := srv.do(http.MethodPost, "/api/v1/links", map[string]string{"destination": "https://example.com"}, token)
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := srv.do(http.MethodPost, "/api/v1/links", map[string]string{"destination": "https://example.com"}, token)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "quota_exceeded", decode[handler.ErrorResponse](t, w).Error)
	assert.Equal(t, 3, srv.linkRepo.Len())
}

// TestAPI_ListAndStatus проверяет список и статус квоты
func TestAPI_ListAndStatus(t *testing.T) {
	srv := setupServer(t, serverOptions{})
	srv.seed(t, "owner-a", "first123", "https://example.com/1")
	srv.seed(t, "owner-a", "second12", "https://example.com/2")
	srv.seed(t, "owner-b", "other123", "https://example.com/b")
	token := srv.token(t, "owner-a")

	w := srv.do(http.MethodGet, "/api/v1/links", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	links := decode[[]handler.LinkResponse](t, w)
	require.Len(t, links, 2)
	assert.Equal(t, "second12", links[0].Code)
	assert.Equal(t, "first123", links[1].Code)

	w = srv.do(http.MethodGet, "/api/v1/links/status", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	status := decode[models.QuotaStatus](t, w)
	assert.Equal(t, 2, status.Count)
	require.NotNil(t, status.Limit)
	assert.Equal(t, 3, *status.Limit)
	assert.False(t, status.IsOverLimit)
}

// TestAPI_UpdateLink проверяет обновление ссылки
func TestAPI_UpdateLink(t *testing.T) {
	srv := setupServer(t, serverOptions{})
	link := srv.seed(t, "owner-a", "abc123", "https://old.example")
	token := srv.token(t, "owner-a")

	w := srv.do(http.MethodPatch, "/api/v1/links/"+link.ID, map[string]interface{}{
		"destination":      "https://new.example",
		"increment_visits": true,
	}, token)

	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[handler.LinkResponse](t, w)
	assert.Equal(t, "https://new.example", resp.Destination)
	assert.Equal(t, int64(1), resp.VisitCount)

	w = srv.do(http.MethodPatch, "/api/v1/links/"+link.ID, map[string]interface{}{}, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "empty_update", decode[handler.ErrorResponse](t, w).Error)
}

// TestAPI_ForeignLink проверяет сокрытие чужих ссылок
func TestAPI_ForeignLink(t *testing.T) {
	tests := []struct {
		name       string
		conceal    bool
		wantStatus int
	}{
		{"concealed", true, http.StatusNotFound},
		{"explicit", false, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := setupServer(t, serverOptions{conceal: tt.conceal})
			link := srv.seed(t, "owner-a", "abc123", "https://example.com")
			token := srv.token(t, "owner-b")

			w := srv.do(http.MethodDelete, "/api/v1/links/"+link.ID, nil, token)
			assert.Equal(t, tt.wantStatus, w.Code)

			w = srv.do(http.MethodPatch, "/api/v1/links/"+link.ID, map[string]string{"destination": "https://evil.example"}, token)
			assert.Equal(t, tt.wantStatus, w.Code)

			assert.Equal(t, 1, srv.linkRepo.Len())
		})
	}
}

// TestAPI_DeleteLink проверяет удаление ссылки
func TestAPI_DeleteLink(t *testing.T) {
	srv := setupServer(t, serverOptions{})
	link := srv.seed(t, "owner-a", "abc123", "https://example.com")
	token := srv.token(t, "owner-a")

	w := srv.do(http.MethodDelete, "/api/v1/links/"+link.ID, nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode[map[string]interface{}](t, w)["deleted"])

	w = srv.do(http.MethodGet, "/abc123", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = srv.do(http.MethodDelete, "/api/v1/links/"+link.ID, nil, token)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// TestAPI_BulkDelete проверяет пакетное удаление
func TestAPI_BulkDelete(t *testing.T) {
	srv := setupServer(t, serverOptions{})
	own1 := srv.seed(t, "owner-a", "own11111", "https://example.com/1")
	own2 := srv.seed(t, "owner-a", "own22222", "https://example.com/2")
	foreign := srv.seed(t, "owner-b", "foreign1", "https://example.com/b")
	token := srv.token(t, "owner-a")

	w := srv.do(http.MethodDelete, "/api/v1/links/bulk", map[string][]string{
		"ids": {own1.ID, own2.ID, foreign.ID},
	}, token)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), decode[map[string]interface{}](t, w)["deleted"])
	assert.Equal(t, 1, srv.linkRepo.Len())
}

// TestAPI_ErrorDetail проверяет, что подробности ошибки скрыты в production
func TestAPI_ErrorDetail(t *testing.T) {
	for _, production := range []bool{false, true} {
		srv := setupServer(t, serverOptions{production: production})
		srv.linkRepo.InsertErr = errors.New("pq: relation does not exist")
		token := srv.token(t, "owner-a")

		w := srv.do(http.MethodPost, "/api/v1/links", map[string]string{"destination": "https://example.com"}, token)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		resp := decode[handler.ErrorResponse](t, w)
		assert.Equal(t, "storage_unavailable", resp.Error)
		if production {
			assert.Empty(t, resp.Detail)
		} else {
			assert.Contains(t, resp.Detail, "relation does not exist")
		}
	}
}

// TestHealth проверяет liveness и метрики
func TestHealth(t *testing.T) {
	srv := setupServer(t, serverOptions{})

	w := srv.do(http.MethodGet, "/healthz", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]interface{}](t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "linkresolver", body["service"])

	w = srv.do(http.MethodGet, "/readyz", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = srv.do(http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "linkresolver_request_duration_seconds")
}
