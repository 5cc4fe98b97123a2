package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"nexus.app/ingest/internal/http/handler"
	"nexus.app/ingest/internal/model"
)

var _ = Describe("Item Handler", func() {
	var (
		router *gin.Engine
		items  *fakeItemStore
		blobs  *fakeBlobStore
	)

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		router = gin.New()
		items = newFakeItemStore()
		blobs = newFakeBlobStore()

		h := handler.NewItemHandler(items, blobs)
		router.GET("/api/v1/agents/:agent/items", h.List)
		router.GET("/api/v1/items/:id/blobs/:key", h.GetBlob)
		router.DELETE("/api/v1/items/:id", h.Delete)
	})

	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w
	}

	Describe("listing", func() {
		BeforeEach(func() {
			ctx := context.Background()
			Expect(items.Upsert(ctx, &model.Item{ID: "a1", AgentName: "atlas", SourceType: "graph-mail"})).To(Succeed())
			Expect(items.Upsert(ctx, &model.Item{ID: "a2", AgentName: "atlas", SourceType: "github-release"})).To(Succeed())
			Expect(items.Upsert(ctx, &model.Item{ID: "b1", AgentName: "hermes", SourceType: "graph-mail"})).To(Succeed())
		})

		It("lists only the agent's items", func() {
			w := get("/api/v1/agents/atlas/items")
			Expect(w.Code).To(Equal(http.StatusOK))

			var resp struct {
				Count int `json:"count"`
			}
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Count).To(Equal(2))
		})

		It("filters by source_type", func() {
			w := get("/api/v1/agents/atlas/items?source_type=graph-mail")

			var resp struct {
				Items []model.Item `json:"items"`
			}
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Items).To(HaveLen(1))
			Expect(resp.Items[0].ID).To(Equal("a1"))
		})

		It("rejects a non-numeric limit", func() {
			Expect(get("/api/v1/agents/atlas/items?limit=lots").Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("blob fetch", func() {
		It("resolves logical keys through the item's blob map", func() {
			ctx := context.Background()
			Expect(blobs.Put(ctx, "graph-mail/abc-body.txt", []byte("hello"), "text/plain; charset=utf-8")).To(Succeed())
			Expect(items.Upsert(ctx, &model.Item{
				ID:        "a1",
				AgentName: "atlas",
				BlobKeys:  map[string]string{"body": "graph-mail/abc-body.txt"},
			})).To(Succeed())

			w := get("/api/v1/items/a1/blobs/body")
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).To(Equal("hello"))
			Expect(w.Header().Get("Content-Type")).To(HavePrefix("text/plain"))
		})

		It("404s on unknown item or logical key", func() {
			Expect(get("/api/v1/items/ghost/blobs/body").Code).To(Equal(http.StatusNotFound))

			Expect(items.Upsert(context.Background(), &model.Item{ID: "a1"})).To(Succeed())
			Expect(get("/api/v1/items/a1/blobs/transcript").Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("deletion", func() {
		It("removes the item and its blob objects", func() {
			ctx := context.Background()
			Expect(blobs.Put(ctx, "graph-mail/abc-body.txt", []byte("hello"), "text/plain")).To(Succeed())
			Expect(items.Upsert(ctx, &model.Item{
				ID:       "a1",
				BlobKeys: map[string]string{"body": "graph-mail/abc-body.txt"},
			})).To(Succeed())

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/items/a1", nil))

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(items.items).To(BeEmpty())
			Expect(blobs.objects).To(BeEmpty())
		})

		It("404s on an unknown item", func() {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/items/ghost", nil))
			Expect(w.Code).To(Equal(http.StatusNotFound))
		})
	})
})
