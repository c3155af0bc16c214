package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Skotchmaster/keyshop/internal/gateway"
	"github.com/Skotchmaster/keyshop/internal/models"
	"github.com/Skotchmaster/keyshop/internal/repo"
	"github.com/Skotchmaster/keyshop/internal/testdb"
)

type env struct {
	repo    *repo.GormRepo
	keys    *KeyStore
	orders  *OrderService
	ratings *RatingAggregator
	reviews *ReviewService
	gw      *fakeGateway
	pub     *recordingPublisher
	idx     *recordingIndexer
}

func newEnv(t *testing.T) *env {
	t.Helper()
	return newEnvOn(t, testdb.Open(t))
}

func newEnvOn(t *testing.T, db *gorm.DB) *env {
	t.Helper()

	r := &repo.GormRepo{DB: db}
	ks := NewKeyStore(r)
	gw := newFakeGateway()
	pub := &recordingPublisher{}
	idx := &recordingIndexer{}

	orders := NewOrderService(r, ks, gw)
	orders.Publisher = pub
	orders.Indexer = idx

	ratings := &RatingAggregator{Repo: r, Indexer: idx}
	return &env{
		repo:    r,
		keys:    ks,
		orders:  orders,
		ratings: ratings,
		reviews: &ReviewService{Repo: r, Ratings: ratings, Publisher: pub},
		gw:      gw,
		pub:     pub,
		idx:     idx,
	}
}

func (e *env) title(t *testing.T, priceCents int64, discount int) *models.Title {
	t.Helper()
	title, err := e.repo.CreateTitle(context.Background(), &models.Title{
		Name:            "Title " + uuid.NewString()[:8],
		Description:     "A game",
		ImageURL:        "https://img.example/cover.png",
		PriceCents:      priceCents,
		DiscountPercent: discount,
	})
	require.NoError(t, err)
	return title
}

// stock imports n fresh codes into the pool and returns the platform id.
func (e *env) stock(t *testing.T, titleID uuid.UUID, n int) uuid.UUID {
	t.Helper()
	platformID := uuid.New()
	e.restock(t, titleID, platformID, n)
	return platformID
}

func (e *env) restock(t *testing.T, titleID, platformID uuid.UUID, n int) {
	t.Helper()
	codes := make([]string, n)
	for i := range codes {
		codes[i] = fmt.Sprintf("CODE-%s-%d", uuid.NewString()[:8], i)
	}
	got, err := e.keys.Import(context.Background(), titleID, platformID, codes)
	require.NoError(t, err)
	require.Equal(t, n, got)
}

type fakeGateway struct {
	mu       sync.Mutex
	seq      int
	statuses map[string]gateway.SessionStatus
	refs     map[string]string
	created  [][]gateway.LineItem

	createErr error
	statusErr error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		statuses: map[string]gateway.SessionStatus{},
		refs:     map[string]string{},
	}
}

func (g *fakeGateway) CreateSession(_ context.Context, clientRef string, items []gateway.LineItem) (*gateway.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.seq++
	id := fmt.Sprintf("cs_%d", g.seq)
	g.statuses[id] = gateway.SessionStatus{Status: gateway.StatusUnpaid}
	g.refs[id] = clientRef
	g.created = append(g.created, items)
	return &gateway.Session{ID: id, RedirectURL: "https://pay.example/" + id}, nil
}

func (g *fakeGateway) GetSessionStatus(_ context.Context, sessionID string) (*gateway.SessionStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.statusErr != nil {
		return nil, g.statusErr
	}
	st, ok := g.statuses[sessionID]
	if !ok {
		return nil, fmt.Errorf("no such session %s", sessionID)
	}
	return &st, nil
}

func (g *fakeGateway) sessions() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.created)
}

func (g *fakeGateway) setStatusErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statusErr = err
}

func (g *fakeGateway) set(sessionID string, status gateway.PaymentStatus, method string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses[sessionID] = gateway.SessionStatus{Status: status, PaymentMethod: method}
}

type publishedEvent struct {
	Topic string
	Key   string
	Event any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (p *recordingPublisher) PublishEvent(_ context.Context, topic, key string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{Topic: topic, Key: key, Event: event})
	return p.err
}

func (p *recordingPublisher) orderEvents() []OrderEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []OrderEvent
	for _, e := range p.events {
		if ev, ok := e.Event.(OrderEvent); ok {
			out = append(out, ev)
		}
	}
	return out
}

type recordingIndexer struct {
	mu      sync.Mutex
	stock   map[string]int64
	ratings map[uuid.UUID]float64
}

func (x *recordingIndexer) IndexStock(_ context.Context, titleID, platformID uuid.UUID, available int64) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.stock == nil {
		x.stock = map[string]int64{}
	}
	x.stock[titleID.String()+"/"+platformID.String()] = available
	return nil
}

func (x *recordingIndexer) stockOf(titleID, platformID uuid.UUID) (int64, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	n, ok := x.stock[titleID.String()+"/"+platformID.String()]
	return n, ok
}

func (x *recordingIndexer) IndexRating(_ context.Context, titleID uuid.UUID, avg float64) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.ratings == nil {
		x.ratings = map[uuid.UUID]float64{}
	}
	x.ratings[titleID] = avg
	return nil
}
