package webhook_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"nexus.app/ingest/core/config"
	"nexus.app/ingest/internal/http/handler/webhook"
	"nexus.app/ingest/internal/queue"
	"nexus.app/ingest/internal/relay"
)

const (
	testClientState  = "graph-client-state"
	testScribeSecret = "scribe-secret"
	testHubSecret    = "hub-secret"
)

type fakeProducer struct {
	tasks []queue.Task
}

func (f *fakeProducer) Enqueue(_ context.Context, task queue.Task) error {
	f.tasks = append(f.tasks, task)
	return nil
}

func (f *fakeProducer) Close() error { return nil }

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

var _ = Describe("Webhook Handler", func() {
	var (
		router   *gin.Engine
		producer *fakeProducer
	)

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		router = gin.New()
		producer = &fakeProducer{}

		cfg := config.Config{
			Graph:   config.GraphConfig{ClientState: testClientState},
			Scribe:  config.ScribeConfig{WebhookSecret: testScribeSecret},
			Release: config.ReleaseConfig{WebhookSecret: testHubSecret},
		}
		h := webhook.NewHandler(relay.New(cfg), producer, func(name string) bool {
			return name == "atlas"
		})
		router.POST("/webhook/:agent/:source/:type", h.Handle)
	})

	post := func(path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	Describe("routing", func() {
		It("rejects unknown agents", func() {
			w := post("/webhook/ghost/generic/event", []byte(`{}`), nil)
			Expect(w.Code).To(Equal(http.StatusBadRequest))
			Expect(producer.tasks).To(BeEmpty())
		})

		It("rejects unregistered source/type pairs", func() {
			w := post("/webhook/atlas/graph/contacts", []byte(`{}`), nil)
			Expect(w.Code).To(Equal(http.StatusBadRequest))
			Expect(producer.tasks).To(BeEmpty())
		})
	})

	Describe("subscription handshake", func() {
		It("echoes the validation token verbatim as plain text", func() {
			w := post("/webhook/atlas/graph/mail?validationToken=abc%20123", nil, nil)

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Header().Get("Content-Type")).To(HavePrefix("text/plain"))
			Expect(w.Body.String()).To(Equal("abc 123"))
			Expect(producer.tasks).To(BeEmpty())
		})
	})

	Describe("graph notifications", func() {
		notification := func(clientState, lifecycleEvent string) []byte {
			body, _ := json.Marshal(map[string]any{
				"value": []map[string]any{{
					"subscriptionId": "sub-1",
					"clientState":    clientState,
					"changeType":     "created",
					"resource":       "Users/u/Messages/m1",
					"lifecycleEvent": lifecycleEvent,
				}},
			})
			return body
		}

		It("enqueues items with the right client state", func() {
			w := post("/webhook/atlas/graph/mail", notification(testClientState, ""), nil)

			Expect(w.Code).To(Equal(http.StatusAccepted))
			Expect(producer.tasks).To(HaveLen(1))
			Expect(producer.tasks[0].TaskType).To(Equal(queue.TaskTypeNotification))
			Expect(producer.tasks[0].Agent).To(Equal("atlas"))
			Expect(producer.tasks[0].Source).To(Equal("graph"))

			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["enqueued"]).To(BeEquivalentTo(1))
		})

		It("skips items with a wrong client state but still acks", func() {
			w := post("/webhook/atlas/graph/mail", notification("forged", ""), nil)

			Expect(w.Code).To(Equal(http.StatusAccepted))
			Expect(producer.tasks).To(BeEmpty())
		})

		It("turns lifecycle events into lifecycle tasks, never notifications", func() {
			w := post("/webhook/atlas/graph/mail", notification(testClientState, "subscriptionRemoved"), nil)

			Expect(w.Code).To(Equal(http.StatusAccepted))
			Expect(producer.tasks).To(HaveLen(1))
			Expect(producer.tasks[0].TaskType).To(Equal(queue.TaskTypeLifecycle))
			Expect(producer.tasks[0].SubscriptionID).To(Equal("sub-1"))
			Expect(producer.tasks[0].LifecycleEvent).To(Equal("subscriptionRemoved"))
		})
	})

	Describe("meeting notifications", func() {
		body := []byte(`{"event":"meeting.created","meetingId":"meet-1"}`)

		It("enqueues exactly one message for a signed meeting.created", func() {
			w := post("/webhook/atlas/scribe/meeting", body, map[string]string{
				relay.ScribeSignatureHeader: sign(testScribeSecret, body),
			})

			Expect(w.Code).To(Equal(http.StatusAccepted))
			Expect(producer.tasks).To(HaveLen(1))
		})

		It("rejects a wrong signature with 401 and enqueues nothing", func() {
			w := post("/webhook/atlas/scribe/meeting", body, map[string]string{
				relay.ScribeSignatureHeader: sign("wrong-secret", body),
			})

			Expect(w.Code).To(Equal(http.StatusUnauthorized))
			Expect(producer.tasks).To(BeEmpty())
		})
	})

	Describe("release notifications", func() {
		releaseBody := func(action string) []byte {
			body, _ := json.Marshal(map[string]any{
				"action":     action,
				"release":    map[string]any{"tag_name": "v1.0.0"},
				"repository": map[string]any{"full_name": "corp/widget"},
			})
			return body
		}

		It("enqueues published releases", func() {
			body := releaseBody("published")
			w := post("/webhook/atlas/github/release", body, map[string]string{
				relay.ReleaseSignatureHeader: "sha256=" + sign(testHubSecret, body),
			})

			Expect(w.Code).To(Equal(http.StatusAccepted))
			Expect(producer.tasks).To(HaveLen(1))
		})

		It("acks edited releases with zero messages", func() {
			body := releaseBody("edited")
			w := post("/webhook/atlas/github/release", body, map[string]string{
				relay.ReleaseSignatureHeader: "sha256=" + sign(testHubSecret, body),
			})

			Expect(w.Code).To(Equal(http.StatusAccepted))
			Expect(producer.tasks).To(BeEmpty())

			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["enqueued"]).To(BeEquivalentTo(0))
		})

		It("rejects a wrong signature with 401", func() {
			body := releaseBody("published")
			w := post("/webhook/atlas/github/release", body, map[string]string{
				relay.ReleaseSignatureHeader: "sha256=" + sign("wrong", body),
			})

			Expect(w.Code).To(Equal(http.StatusUnauthorized))
			Expect(producer.tasks).To(BeEmpty())
		})
	})

	Describe("generic notifications", func() {
		It("passes well-formed payloads through", func() {
			w := post("/webhook/atlas/generic/event", []byte(`{"anything":"goes"}`), nil)

			Expect(w.Code).To(Equal(http.StatusAccepted))
			Expect(producer.tasks).To(HaveLen(1))
			Expect(string(producer.tasks[0].Payload)).To(MatchJSON(`{"anything":"goes"}`))
		})

		It("rejects malformed JSON", func() {
			w := post("/webhook/atlas/generic/event", []byte(`{not json`), nil)
			Expect(w.Code).To(Equal(http.StatusBadRequest))
			Expect(producer.tasks).To(BeEmpty())
		})
	})
})
