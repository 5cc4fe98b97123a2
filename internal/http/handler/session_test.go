package handler_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"nexus.app/ingest/internal/http/handler"
)

var _ = Describe("Session Handler", func() {
	var (
		router *gin.Engine
		items  *fakeItemStore
		blobs  *fakeBlobStore
	)

	const sessionID = "3f1d9a7e-0c2b-4f6a-9d8e-1a2b3c4d5e6f"

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		router = gin.New()
		items = newFakeItemStore()
		blobs = newFakeBlobStore()
		router.POST("/api/v1/sessions", handler.NewSessionHandler(items, blobs).Create)
	})

	upload := func(agentID, sessionID, transcript string) *httptest.ResponseRecorder {
		payload, err := json.Marshal(map[string]string{
			"agentId":    agentID,
			"sessionId":  sessionID,
			"transcript": transcript,
		})
		Expect(err).NotTo(HaveOccurred())

		req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	It("stores a transcript as an item with a transcript blob", func() {
		w := upload("atlas", sessionID, `{"role":"user","text":"hi"}`)

		Expect(w.Code).To(Equal(http.StatusCreated))
		Expect(items.items).To(HaveLen(1))
		for _, item := range items.items {
			Expect(item.AgentName).To(Equal("atlas"))
			Expect(item.SourceType).To(Equal("session-transcript"))
			content, _, err := blobs.Get(nil, item.BlobKeys["transcript"])
			Expect(err).NotTo(HaveOccurred())
			Expect(string(content)).To(ContainSubstring(`"text":"hi"`))
		}
	})

	It("returns 409 for a replayed session id", func() {
		Expect(upload("atlas", sessionID, "line one").Code).To(Equal(http.StatusCreated))

		w := upload("atlas", sessionID, "line one")
		Expect(w.Code).To(Equal(http.StatusConflict))
		Expect(items.items).To(HaveLen(1))
	})

	It("rejects non-UUID session ids", func() {
		w := upload("atlas", "not-a-uuid", "content")
		Expect(w.Code).To(Equal(http.StatusBadRequest))
	})

	It("rejects transcripts over the size cap with 413", func() {
		w := upload("atlas", sessionID, strings.Repeat("a", handler.MaxSessionBytes+1))
		Expect(w.Code).To(Equal(http.StatusRequestEntityTooLarge))
		Expect(items.items).To(BeEmpty())
	})

	It("rejects missing fields", func() {
		Expect(upload("", sessionID, "content").Code).To(Equal(http.StatusBadRequest))
		Expect(upload("atlas", sessionID, "").Code).To(Equal(http.StatusBadRequest))
	})
})
