package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"nexus.app/ingest/internal/http/handler"
	"nexus.app/ingest/internal/model"
	"nexus.app/ingest/internal/store"
	"nexus.app/ingest/internal/whitelist"
)

type fakeWhitelistStore struct {
	entries map[string]*model.WhitelistEntry
}

func newFakeWhitelistStore() *fakeWhitelistStore {
	return &fakeWhitelistStore{entries: map[string]*model.WhitelistEntry{}}
}

func whitelistKey(kind model.WhitelistKind, value string) string {
	return string(kind) + ":" + value
}

func (s *fakeWhitelistStore) Get(_ context.Context, kind model.WhitelistKind, value string) (*model.WhitelistEntry, error) {
	entry, ok := s.entries[whitelistKey(kind, value)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return entry, nil
}

func (s *fakeWhitelistStore) CreateIfAbsent(_ context.Context, entry *model.WhitelistEntry) (bool, error) {
	key := whitelistKey(entry.Kind, entry.Value)
	if _, ok := s.entries[key]; ok {
		return false, nil
	}
	copied := *entry
	s.entries[key] = &copied
	return true, nil
}

func (s *fakeWhitelistStore) IncrementMatchCount(_ context.Context, kind model.WhitelistKind, value string, expected int64) (bool, error) {
	entry, ok := s.entries[whitelistKey(kind, value)]
	if !ok || entry.MatchCount != expected {
		return false, nil
	}
	entry.MatchCount++
	return true, nil
}

func (s *fakeWhitelistStore) List(_ context.Context) ([]model.WhitelistEntry, error) {
	var out []model.WhitelistEntry
	for _, entry := range s.entries {
		out = append(out, *entry)
	}
	return out, nil
}

func (s *fakeWhitelistStore) Delete(_ context.Context, kind model.WhitelistKind, value string) error {
	delete(s.entries, whitelistKey(kind, value))
	return nil
}

type fakePendingStore struct {
	parked map[int64]*model.PendingItem
	items  *fakeItemStore
}

func newFakePendingStore(items *fakeItemStore) *fakePendingStore {
	return &fakePendingStore{parked: map[int64]*model.PendingItem{}, items: items}
}

func (s *fakePendingStore) Create(_ context.Context, pending *model.PendingItem) error {
	copied := *pending
	s.parked[pending.ID] = &copied
	return nil
}

func (s *fakePendingStore) ListByDomain(_ context.Context, domain string) ([]model.PendingItem, error) {
	var out []model.PendingItem
	for _, pending := range s.parked {
		if pending.Domain == domain {
			out = append(out, *pending)
		}
	}
	return out, nil
}

func (s *fakePendingStore) Promote(ctx context.Context, pending model.PendingItem) error {
	item := pending.Item
	if err := s.items.Upsert(ctx, &item); err != nil {
		return err
	}
	delete(s.parked, pending.ID)
	return nil
}

func (s *fakePendingStore) Delete(_ context.Context, id int64) error {
	delete(s.parked, id)
	return nil
}

var _ = Describe("Whitelist Handler", func() {
	var (
		router  *gin.Engine
		entries *fakeWhitelistStore
		pending *fakePendingStore
		items   *fakeItemStore
	)

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		router = gin.New()
		entries = newFakeWhitelistStore()
		items = newFakeItemStore()
		pending = newFakePendingStore(items)

		h := handler.NewWhitelistHandler(whitelist.NewService(entries, pending, items))
		router.POST("/api/v1/whitelist", h.Create)
		router.GET("/api/v1/whitelist", h.List)
		router.DELETE("/api/v1/whitelist/:kind/:value", h.Delete)
	})

	It("creates entries and reports what was added", func() {
		payload := []byte(`{"domains":["acme.com"],"emails":["bob@partner.io"]}`)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/whitelist", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		Expect(w.Code).To(Equal(http.StatusCreated))

		var resp struct {
			Count int `json:"count"`
		}
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp.Count).To(Equal(2))
		Expect(entries.entries).To(HaveKey("domain:acme.com"))
		Expect(entries.entries).To(HaveKey("email:bob@partner.io"))
	})

	It("promotes pending items covered by a new domain entry", func() {
		Expect(pending.Create(context.Background(), &model.PendingItem{
			ID:     1,
			Domain: "acme.com",
			Item:   model.Item{ID: "item-1", AgentName: "atlas", SenderEmail: "alice@acme.com"},
		})).To(Succeed())

		payload := []byte(`{"domains":["acme.com"]}`)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/whitelist", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		Expect(w.Code).To(Equal(http.StatusCreated))
		Expect(items.items).To(HaveKey("item-1"))
		Expect(pending.parked).To(BeEmpty())
	})

	It("rejects empty requests", func() {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/whitelist", bytes.NewReader([]byte(`{}`)))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		Expect(w.Code).To(Equal(http.StatusBadRequest))
	})

	It("rejects unknown kinds on delete", func() {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/whitelist/subnet/10.0.0.0", nil))
		Expect(w.Code).To(Equal(http.StatusBadRequest))
	})

	It("deletes idempotently", func() {
		Expect(entries.CreateIfAbsent(context.Background(), &model.WhitelistEntry{
			Kind: model.WhitelistDomain, Value: "acme.com", AddedBy: model.AddedByManual,
		})).To(BeTrue())

		for range 2 {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/whitelist/domain/acme.com", nil))
			Expect(w.Code).To(Equal(http.StatusOK))
		}
		Expect(entries.entries).To(BeEmpty())
	})
})
