package handler_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/council/internal/http/handler"
	"basegraph.app/council/internal/model"
)

var _ = Describe("StatusStreamHandler", func() {
	var (
		router *gin.Engine
		svc    *mockDeliberationService
	)

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		router = gin.New()
		svc = &mockDeliberationService{}
		h := handler.NewStatusStreamHandler(svc, time.Millisecond)
		router.GET("/deliberations/:id/events", h.Stream)
	})

	It("streams each state change and ends at the terminal state", func() {
		states := []model.State{
			model.StateCollecting,
			model.StateCollecting,
			model.StateReviewing,
			model.StateSynthesizing,
			model.StateComplete,
		}
		var (
			mu    sync.Mutex
			calls int
		)
		svc.getFn = func(_ context.Context, id int64) (model.StatusSnapshot, error) {
			mu.Lock()
			defer mu.Unlock()
			s := states[min(calls, len(states)-1)]
			calls++
			return model.StatusSnapshot{SessionID: id, State: s}, nil
		}

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/deliberations/9/events", nil))

		Expect(w.Header().Get("Content-Type")).To(Equal("text/event-stream"))
		body := w.Body.String()
		Expect(strings.Count(body, "event: status")).To(Equal(4))
		Expect(body).To(ContainSubstring(`"stage":"REVIEWING"`))
		Expect(body).To(ContainSubstring(`"state":"COMPLETE"`))
	})

	It("ends immediately for a finished deliberation", func() {
		svc.getFn = func(_ context.Context, id int64) (model.StatusSnapshot, error) {
			reason := model.FailureTimeout
			return model.StatusSnapshot{SessionID: id, State: model.StateFailed, FailureReason: &reason}, nil
		}

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/deliberations/9/events", nil))

		Expect(strings.Count(w.Body.String(), "event: status")).To(Equal(1))
		Expect(w.Body.String()).To(ContainSubstring(`"failureReason":"TIMEOUT"`))
	})

	It("returns 404 for unknown sessions", func() {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/deliberations/9/events", nil))

		Expect(w.Code).To(Equal(http.StatusNotFound))
	})
})
