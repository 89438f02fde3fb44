package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/billing_server/internal/model"
	"github.com/qs3c/billing_server/internal/model/dto"
	"github.com/qs3c/billing_server/internal/pkg/lock"
	"github.com/qs3c/billing_server/internal/pkg/response"
	"github.com/qs3c/billing_server/internal/testutil"
)

func subscriptionRouter(ctx *testContext, userID int64) *gin.Engine {
	h := NewSubscriptionHandler(ctx.Subs)
	router := gin.New()
	router.GET("/plans", h.Plans)
	authed := router.Group("")
	if userID > 0 {
		authed.Use(mockAuth(userID))
	}
	authed.GET("/subscriptions", h.List)
	authed.POST("/subscriptions", h.Create)
	return router
}

func postJSON(router *gin.Engine, path string, body interface{}) *httptest.ResponseRecorder {
	b, _ := json.Marshal(body)
	req := httptest.NewRequest("POST", path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func get(router *gin.Engine, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestSubscriptionHandler_Create_Success(t *testing.T) {
	ctx := setupServices(t)
	plan := testutil.TestPlan(t, ctx.DB, "price_gold", 500)
	router := subscriptionRouter(ctx, 1)

	w := postJSON(router, "/subscriptions", dto.CreateSubscriptionRequest{PlanID: plan.ID})

	resp := parseResponse(t, w)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, response.CodeSuccess, resp.Code)

	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "PENDING", data["status"])
	assert.Equal(t, plan.Name, data["plan_name"])
}

func TestSubscriptionHandler_Create_Errors(t *testing.T) {
	ctx := setupServices(t)
	plan := testutil.TestPlan(t, ctx.DB, "price_gold", 500)
	testutil.TestSubscription(t, ctx.DB, 2, testutil.WithStatus(model.SubscriptionStatusActive), testutil.WithRemoteID("sub_2"))

	tests := []struct {
		name     string
		userID   int64
		body     interface{}
		wantCode int
	}{
		{"missing plan id", 1, map[string]interface{}{}, response.CodeParamError},
		{"unknown plan", 1, dto.CreateSubscriptionRequest{PlanID: 999}, response.CodeResourceNotFound},
		{"already subscribed", 2, dto.CreateSubscriptionRequest{PlanID: plan.ID}, response.CodeAlreadySubscribed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postJSON(subscriptionRouter(ctx, tt.userID), "/subscriptions", tt.body)
			resp := parseResponse(t, w)
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.wantCode, resp.Code)
		})
	}
}

func TestSubscriptionHandler_Create_Unauthorized(t *testing.T) {
	ctx := setupServices(t)
	router := subscriptionRouter(ctx, 0)

	w := postJSON(router, "/subscriptions", dto.CreateSubscriptionRequest{PlanID: 1})

	resp := parseResponse(t, w)
	assert.Equal(t, response.CodeAuthFailed, resp.Code)
}

func TestSubscriptionHandler_Create_InFlight(t *testing.T) {
	ctx := setupServices(t)
	plan := testutil.TestPlan(t, ctx.DB, "price_gold", 500)

	// 占住创建锁，模拟同一用户的并发请求
	release, err := lock.NewLocker(ctx.Redis, "test:lock:").Acquire(context.Background(), "create:1", time.Minute)
	require.NoError(t, err)
	defer release()

	w := postJSON(subscriptionRouter(ctx, 1), "/subscriptions", dto.CreateSubscriptionRequest{PlanID: plan.ID})

	resp := parseResponse(t, w)
	assert.Equal(t, response.CodeRequestInFlight, resp.Code)
}

func TestSubscriptionHandler_List(t *testing.T) {
	ctx := setupServices(t)
	plan := testutil.TestPlan(t, ctx.DB, "price_gold", 500)
	testutil.TestSubscription(t, ctx.DB, 1,
		testutil.WithStatus(model.SubscriptionStatusActive),
		testutil.WithRemoteID("sub_1"),
		testutil.WithPlan(plan.ID),
	)
	testutil.TestSubscription(t, ctx.DB, 2)

	w := get(subscriptionRouter(ctx, 1), "/subscriptions")

	resp := parseResponse(t, w)
	assert.Equal(t, response.CodeSuccess, resp.Code)
	items, ok := resp.Data.([]interface{})
	require.True(t, ok)
	require.Len(t, items, 1)
	assert.Equal(t, "sub_1", items[0].(map[string]interface{})["remote_subscription_id"])
}

func TestSubscriptionHandler_Plans(t *testing.T) {
	ctx := setupServices(t)
	testutil.TestPlan(t, ctx.DB, "price_gold", 500)

	w := get(subscriptionRouter(ctx, 0), "/plans")

	resp := parseResponse(t, w)
	assert.Equal(t, response.CodeSuccess, resp.Code)
	items, ok := resp.Data.([]interface{})
	require.True(t, ok)
	require.Len(t, items, 1)
	assert.Equal(t, float64(500), items[0].(map[string]interface{})["points_awarded"])
}
