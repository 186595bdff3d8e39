package monitoring_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/agenticaiops/incident-core/pkg/platform/monitoring"
)

var _ = Describe("AlertManagerCollector", func() {
	var (
		mockServer *httptest.Server
		logger     *logrus.Logger
	)

	BeforeEach(func() {
		logger = logrus.New()
		logger.SetLevel(logrus.DebugLevel)
	})

	AfterEach(func() {
		if mockServer != nil {
			mockServer.Close()
		}
	})

	It("reports the configured service tag", func() {
		client := monitoring.NewAlertManagerClient("http://localhost:9093", time.Second, logger)
		collector := monitoring.NewAlertManagerCollector(client, "payments", "prod", "HighErrorRate")
		Expect(collector.Service()).To(Equal("payments"))
	})

	It("translates active firings within the lookback window into alarms", func() {
		activeAt := time.Now().Add(-2 * time.Minute)
		mockServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			resp := monitoring.AlertManagerResponse{
				Status: "success",
				Data: []monitoring.AlertManagerAlert{
					{
						Labels:      map[string]string{"severity": "high"},
						Annotations: map[string]string{"description": "error rate above threshold"},
						State:       "active",
						ActiveAt:    &activeAt,
					},
				},
			}
			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(resp)
		}))

		client := monitoring.NewAlertManagerClient(mockServer.URL, time.Second, logger)
		collector := monitoring.NewAlertManagerCollector(client, "payments", "prod", "HighErrorRate")

		signal, err := collector.Collect(context.Background(), 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(signal.Service).To(Equal("payments"))
		Expect(signal.Alarms).To(HaveLen(1))
		Expect(signal.Alarms[0].Message).To(Equal("error rate above threshold"))
	})

	It("propagates a query failure", func() {
		mockServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))

		client := monitoring.NewAlertManagerClient(mockServer.URL, time.Second, logger)
		collector := monitoring.NewAlertManagerCollector(client, "payments", "prod", "HighErrorRate")

		_, err := collector.Collect(context.Background(), 10)
		Expect(err).To(HaveOccurred())
	})
})
