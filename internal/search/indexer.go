// Package search maintains the storefront projection of stock levels and
// ratings in Elasticsearch.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/elastic/go-elasticsearch/v9"
	"github.com/google/uuid"
)

const (
	StockIndex  = "keyshop_stock"
	TitlesIndex = "keyshop_titles"
)

type Config struct {
	URL      string
	User     string
	Password string
}

// NewClient connects and checks the cluster answers.
func NewClient(ctx context.Context, cfg Config) (*elasticsearch.Client, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.User,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("elasticsearch: new client: %w", err)
	}

	res, err := client.Info(client.Info.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("elasticsearch: info: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("elasticsearch: info: %s: %s", res.Status(), body)
	}
	return client, nil
}

type StockDoc struct {
	TitleID    uuid.UUID `json:"title_id"`
	PlatformID uuid.UUID `json:"platform_id"`
	Available  int64     `json:"available"`
	InStock    bool      `json:"in_stock"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Indexer writes stock and rating documents. Stock documents are replaced
// whole; rating is a partial upsert so other title fields survive.
type Indexer struct {
	ES          *elasticsearch.Client
	StockIndex  string
	TitlesIndex string
}

func NewIndexer(es *elasticsearch.Client) *Indexer {
	return &Indexer{ES: es, StockIndex: StockIndex, TitlesIndex: TitlesIndex}
}

func StockDocID(titleID, platformID uuid.UUID) string {
	return titleID.String() + "_" + platformID.String()
}

func (x *Indexer) IndexStock(ctx context.Context, titleID, platformID uuid.UUID, available int64) error {
	doc := StockDoc{
		TitleID:    titleID,
		PlatformID: platformID,
		Available:  available,
		InStock:    available > 0,
		UpdatedAt:  time.Now().UTC(),
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(doc); err != nil {
		return fmt.Errorf("elasticsearch: encode stock: %w", err)
	}

	res, err := x.ES.Index(
		x.StockIndex,
		&buf,
		x.ES.Index.WithContext(ctx),
		x.ES.Index.WithDocumentID(StockDocID(titleID, platformID)),
	)
	if err != nil {
		return fmt.Errorf("elasticsearch: index stock: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch: index stock: %s", res.Status())
	}
	return nil
}

func (x *Indexer) IndexRating(ctx context.Context, titleID uuid.UUID, averageRating float64) error {
	body := map[string]any{
		"doc": map[string]any{
			"title_id":       titleID,
			"average_rating": averageRating,
		},
		"doc_as_upsert": true,
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return fmt.Errorf("elasticsearch: encode rating: %w", err)
	}

	res, err := x.ES.Update(
		x.TitlesIndex,
		titleID.String(),
		&buf,
		x.ES.Update.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("elasticsearch: update rating: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch: update rating: %s", res.Status())
	}
	return nil
}
