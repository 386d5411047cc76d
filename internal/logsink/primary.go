package logsink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"courier/pkg/circuitbreaker"
	"courier/pkg/health"
	"courier/pkg/models"
)

// LogStore appends one event to a backing store.
type LogStore interface {
	Name() string
	Append(ctx context.Context, event models.LogEvent) error
}

// ElasticsearchStore is the primary log store. Writes optionally go through
// a circuit breaker so a struggling cluster sheds load fast instead of
// holding every append until timeout.
type ElasticsearchStore struct {
	client  *elasticsearch.Client
	index   string
	breaker *circuitbreaker.Wrapper
	checker *health.ElasticsearchChecker
}

func NewElasticsearchStore(client *elasticsearch.Client, index string, checker *health.ElasticsearchChecker) *ElasticsearchStore {
	return &ElasticsearchStore{
		client:  client,
		index:   index,
		checker: checker,
	}
}

// WithBreaker routes appends through the given circuit breaker.
func (s *ElasticsearchStore) WithBreaker(breaker *circuitbreaker.Wrapper) *ElasticsearchStore {
	s.breaker = breaker
	return s
}

func (s *ElasticsearchStore) Name() string {
	return "elasticsearch"
}

func (s *ElasticsearchStore) Append(ctx context.Context, event models.LogEvent) error {
	if s.breaker != nil {
		_, err := s.breaker.ExecuteWithContext(ctx, func() (interface{}, error) {
			return nil, s.indexEvent(ctx, event)
		})
		return err
	}
	return s.indexEvent(ctx, event)
}

func (s *ElasticsearchStore) indexEvent(ctx context.Context, event models.LogEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode log event: %w", err)
	}

	req := esapi.IndexRequest{
		Index: s.index,
		Body:  bytes.NewReader(body),
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("elasticsearch index request failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch index returned %s", res.Status())
	}
	return nil
}

// HealthCheck probes the cluster, healthy only on an explicit green or
// yellow status.
func (s *ElasticsearchStore) HealthCheck(ctx context.Context) error {
	return s.checker.Check(ctx)
}
