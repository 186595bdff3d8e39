package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/agenticaiops/incident-core/internal/config"
)

var _ = Describe("Model Client", func() {
	var logger *logrus.Logger

	BeforeEach(func() {
		logger = logrus.New()
		logger.SetOutput(GinkgoWriter)
	})

	Describe("NewClient", func() {
		DescribeTable("creating new client",
			func(cfg config.LLMConfig, expectErr bool, errString string) {
				client, err := NewClient(cfg, logger)

				if expectErr {
					Expect(err).To(HaveOccurred())
					Expect(err.Error()).To(ContainSubstring(errString))
					Expect(client).To(BeNil())
				} else {
					Expect(err).ToNot(HaveOccurred())
					Expect(client).ToNot(BeNil())
				}
			},
			Entry("valid localai config",
				config.LLMConfig{
					Provider: "localai",
					Endpoint: "http://localhost:8080",
					Model:    "test-model",
					Timeout:  30 * time.Second,
				},
				false,
				"",
			),
			Entry("invalid provider",
				config.LLMConfig{
					Provider: "invalid",
					Endpoint: "http://localhost:8080",
					Model:    "test-model",
				},
				true,
				"unsupported provider: invalid",
			),
			Entry("localai without a model",
				config.LLMConfig{
					Provider: "localai",
					Endpoint: "http://localhost:8080",
				},
				true,
				"model is required",
			),
		)
	})

	Describe("ChatCompletion", func() {
		var server *httptest.Server

		AfterEach(func() {
			if server != nil {
				server.Close()
			}
		})

		newClientFor := func(endpoint string) Client {
			c, err := NewClient(config.LLMConfig{
				Provider: "localai",
				Endpoint: endpoint,
				Model:    "test-model",
				Timeout:  5 * time.Second,
			}, logger)
			Expect(err).ToNot(HaveOccurred())
			return c
		}

		It("posts the prompt as a single user message and returns the completion", func() {
			server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				Expect(r.URL.Path).To(Equal("/v1/chat/completions"))

				var req struct {
					Model    string `json:"model"`
					Messages []struct {
						Role    string `json:"role"`
						Content string `json:"content"`
					} `json:"messages"`
				}
				Expect(json.NewDecoder(r.Body).Decode(&req)).To(Succeed())
				Expect(req.Model).To(Equal("test-model"))
				Expect(req.Messages).To(HaveLen(1))
				Expect(req.Messages[0].Role).To(Equal("user"))
				Expect(req.Messages[0].Content).To(Equal("why is the pod restarting?"))

				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"root_cause\":\"oom\"}"}}]}`))
			}))

			out, err := newClientFor(server.URL).ChatCompletion(context.Background(), "why is the pod restarting?")
			Expect(err).ToNot(HaveOccurred())
			Expect(out).To(Equal(`{"root_cause":"oom"}`))
		})

		It("surfaces a non-200 status as an error", func() {
			server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			}))

			_, err := newClientFor(server.URL).ChatCompletion(context.Background(), "prompt")
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("status 502"))
		})

		It("errors when the backend returns no choices", func() {
			server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte(`{"choices":[]}`))
			}))

			_, err := newClientFor(server.URL).ChatCompletion(context.Background(), "prompt")
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("no choices"))
		})
	})

	Describe("IsHealthy", func() {
		It("reports healthy only when the endpoint answers 200", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path == "/healthz" {
					w.WriteHeader(http.StatusOK)
					return
				}
				w.WriteHeader(http.StatusNotFound)
			}))
			defer server.Close()

			c, err := NewClient(config.LLMConfig{
				Provider: "localai",
				Endpoint: server.URL,
				Model:    "test-model",
				Timeout:  5 * time.Second,
			}, logger)
			Expect(err).ToNot(HaveOccurred())
			Expect(c.IsHealthy()).To(BeTrue())

			down, err := NewClient(config.LLMConfig{
				Provider: "localai",
				Endpoint: "http://127.0.0.1:1",
				Model:    "test-model",
				Timeout:  time.Second,
			}, logger)
			Expect(err).ToNot(HaveOccurred())
			Expect(down.IsHealthy()).To(BeFalse())
		})
	})
})
