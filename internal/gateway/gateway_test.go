package gateway_test

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/openai/openai-go"

	"basegraph.app/council/common/llm"
	"basegraph.app/council/internal/gateway"
	"basegraph.app/council/internal/model"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type mockClient struct {
	completeFn func(ctx context.Context, req llm.Request) (*llm.Response, error)
	calls      atomic.Int32
}

func (m *mockClient) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	m.calls.Add(1)
	return m.completeFn(ctx, req)
}

func (m *mockClient) Model() string { return "mock" }

func reply(text string) func(context.Context, llm.Request) (*llm.Response, error) {
	return func(context.Context, llm.Request) (*llm.Response, error) {
		return &llm.Response{Text: text}, nil
	}
}

var _ = Describe("Registry", func() {
	var (
		ctx  context.Context
		opts gateway.Options
	)

	BeforeEach(func() {
		ctx = context.Background()
		opts = gateway.Options{
			DefaultTimeout:  2 * time.Second,
			TimeoutFloor:    50 * time.Millisecond,
			TimeoutCeiling:  5 * time.Second,
			InitialInterval: time.Millisecond,
			BreakerFailures: 3,
			BreakerCooldown: time.Minute,
		}
	})

	It("returns the backend's completion", func() {
		client := &mockClient{completeFn: reply("forty-two")}
		reg, err := gateway.New(opts, gateway.Backend{ID: "alpha", Client: client})
		Expect(err).NotTo(HaveOccurred())

		out, err := reg.Complete(ctx, "alpha", "question", 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Text).To(Equal("forty-two"))
		Expect(out.ModelID).To(Equal("alpha"))
		Expect(out.Attempts).To(Equal(1))
	})

	It("sends the backend's call settings with every request", func() {
		var got llm.Request
		temp := 0.2
		client := &mockClient{completeFn: func(_ context.Context, req llm.Request) (*llm.Response, error) {
			got = req
			return &llm.Response{Text: "ok"}, nil
		}}
		reg, err := gateway.New(opts, gateway.Backend{
			ID:           "alpha",
			Client:       client,
			MaxTokens:    512,
			Temperature:  &temp,
			SystemPrompt: "Be concise.",
		})
		Expect(err).NotTo(HaveOccurred())

		_, err = reg.Complete(ctx, "alpha", "question", 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Prompt).To(Equal("question"))
		Expect(got.SystemPrompt).To(Equal("Be concise."))
		Expect(got.MaxTokens).To(Equal(512))
		Expect(*got.Temperature).To(Equal(0.2))
	})

	It("rejects duplicate backends", func() {
		client := &mockClient{completeFn: reply("x")}
		_, err := gateway.New(opts,
			gateway.Backend{ID: "alpha", Client: client},
			gateway.Backend{ID: "alpha", Client: client})
		Expect(err).To(MatchError(ContainSubstring("duplicate backend")))
	})

	It("fails unknown models as TRANSPORT", func() {
		reg, err := gateway.New(opts)
		Expect(err).NotTo(HaveOccurred())

		_, err = reg.Complete(ctx, "ghost", "q", 0)
		Expect(gateway.KindOf(err)).To(Equal(model.ErrorKindTransport))
		Expect(errors.Is(err, gateway.ErrUnknownModel)).To(BeTrue())
	})

	It("retries quota errors up to the backend limit", func() {
		client := &mockClient{}
		client.completeFn = func(context.Context, llm.Request) (*llm.Response, error) {
			if client.calls.Load() < 3 {
				return nil, &openai.Error{StatusCode: 429}
			}
			return &llm.Response{Text: "finally"}, nil
		}
		reg, _ := gateway.New(opts, gateway.Backend{ID: "alpha", Client: client, MaxRetries: 2})

		out, err := reg.Complete(ctx, "alpha", "q", 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Attempts).To(Equal(3))
	})

	It("reports QUOTA once retries are exhausted", func() {
		client := &mockClient{completeFn: func(context.Context, llm.Request) (*llm.Response, error) {
			return nil, &openai.Error{StatusCode: 429}
		}}
		reg, _ := gateway.New(opts, gateway.Backend{ID: "alpha", Client: client, MaxRetries: 1})

		_, err := reg.Complete(ctx, "alpha", "q", 0)
		Expect(gateway.KindOf(err)).To(Equal(model.ErrorKindQuota))
		Expect(client.calls.Load()).To(Equal(int32(2)))
	})

	It("does not retry permanent errors", func() {
		client := &mockClient{completeFn: func(context.Context, llm.Request) (*llm.Response, error) {
			return nil, &openai.Error{StatusCode: 401}
		}}
		reg, _ := gateway.New(opts, gateway.Backend{ID: "alpha", Client: client, MaxRetries: 5})

		_, err := reg.Complete(ctx, "alpha", "q", 0)
		Expect(gateway.KindOf(err)).To(Equal(model.ErrorKindTransport))
		Expect(client.calls.Load()).To(Equal(int32(1)))
	})

	It("reports TIMEOUT when the call deadline expires", func() {
		client := &mockClient{completeFn: func(ctx context.Context, _ llm.Request) (*llm.Response, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}}
		reg, _ := gateway.New(opts, gateway.Backend{ID: "slow", Client: client})

		start := time.Now()
		_, err := reg.Complete(ctx, "slow", "q", 10*time.Millisecond)
		Expect(gateway.KindOf(err)).To(Equal(model.ErrorKindTimeout))
		// the floor wins over a shorter requested timeout
		Expect(time.Since(start)).To(BeNumerically(">=", opts.TimeoutFloor))
	})

	It("treats an empty reply as a failure", func() {
		client := &mockClient{completeFn: reply("   ")}
		reg, _ := gateway.New(opts, gateway.Backend{ID: "alpha", Client: client, MaxRetries: 3})

		_, err := reg.Complete(ctx, "alpha", "q", 0)
		Expect(errors.Is(err, gateway.ErrEmptyReply)).To(BeTrue())
		Expect(client.calls.Load()).To(Equal(int32(1)))
	})

	It("opens the breaker after consecutive failures", func() {
		client := &mockClient{completeFn: func(context.Context, llm.Request) (*llm.Response, error) {
			return nil, errors.New("connection refused")
		}}
		reg, _ := gateway.New(opts, gateway.Backend{ID: "down", Client: client})

		for range 3 {
			_, _ = reg.Complete(ctx, "down", "q", 0)
		}
		Expect(client.calls.Load()).To(Equal(int32(3)))

		_, err := reg.Complete(ctx, "down", "q", 0)
		Expect(gateway.KindOf(err)).To(Equal(model.ErrorKindTransport))
		Expect(client.calls.Load()).To(Equal(int32(3)))
	})

	Describe("Timeout", func() {
		var reg *gateway.Registry

		BeforeEach(func() {
			client := &mockClient{completeFn: reply("x")}
			reg, _ = gateway.New(opts,
				gateway.Backend{ID: "tuned", Client: client, Timeout: 3 * time.Second},
				gateway.Backend{ID: "greedy", Client: client, Timeout: time.Hour},
				gateway.Backend{ID: "plain", Client: client})
		})

		It("prefers an explicit request", func() {
			Expect(reg.Timeout("tuned", time.Second)).To(Equal(time.Second))
		})

		It("falls back to the backend, then the default", func() {
			Expect(reg.Timeout("tuned", 0)).To(Equal(3 * time.Second))
			Expect(reg.Timeout("plain", 0)).To(Equal(2 * time.Second))
		})

		It("clamps into the floor and ceiling", func() {
			Expect(reg.Timeout("greedy", 0)).To(Equal(5 * time.Second))
			Expect(reg.Timeout("plain", time.Millisecond)).To(Equal(50 * time.Millisecond))
		})
	})

	It("lists models in sorted order", func() {
		client := &mockClient{completeFn: reply("x")}
		reg, _ := gateway.New(opts,
			gateway.Backend{ID: "gamma", Client: client},
			gateway.Backend{ID: "alpha", Client: client})
		Expect(reg.Models()).To(Equal([]string{"alpha", "gamma"}))
		Expect(reg.Has("gamma")).To(BeTrue())
		Expect(reg.Has("beta")).To(BeFalse())
	})
})
