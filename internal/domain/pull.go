package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"
	"time"

	"go.uber.org/zap"

	"clientflow.io/flow/internal/ingress"
	"clientflow.io/flow/internal/pkg/logger"
)

// contactoRecord is the wire shape the polled source returns: a flat list
// of contact updates, one per client-product.
type contactoRecord struct {
	ClienteID  string `json:"cliente_id"`
	ProductoID string `json:"producto_id"`
	Email      string `json:"email"`
	Telefono   string `json:"telefono"`
}

// HTTPContactoPullProcessor polls sourceURL once per tick and yields one
// raw element per record in the response body.
type HTTPContactoPullProcessor struct {
	sourceURL  string
	httpClient *http.Client
}

// NewHTTPContactoPullProcessor builds a pull processor against sourceURL.
func NewHTTPContactoPullProcessor(sourceURL string) *HTTPContactoPullProcessor {
	return &HTTPContactoPullProcessor{
		sourceURL:  sourceURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// GetData implements ingress.PullProcessor: fetch, decode, and lazily
// yield each record. A fetch/decode failure yields nothing for this
// tick rather than failing the scheduler — the next tick tries again.
func (p *HTTPContactoPullProcessor) GetData(ctx context.Context) iter.Seq[any] {
	return func(yield func(any) bool) {
		if p.sourceURL == "" {
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.sourceURL, nil)
		if err != nil {
			logger.Warn("domain: contacto pull request build failed", zap.Error(err))
			return
		}
		resp, err := p.httpClient.Do(req)
		if err != nil {
			logger.Warn("domain: contacto pull request failed", zap.Error(err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			logger.Warn("domain: contacto pull non-200 response", zap.Int("status", resp.StatusCode))
			return
		}

		var records []contactoRecord
		if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
			logger.Warn("domain: contacto pull decode failed", zap.Error(err))
			return
		}

		for _, rec := range records {
			if !yield(rec) {
				return
			}
		}
	}
}

var _ ingress.PullProcessor = (*HTTPContactoPullProcessor)(nil)

// ContactoPullEventProcessor validates one polled contactoRecord and
// shapes it into a ContactoEvent ready for the same publish path the
// Push adapter uses.
func ContactoPullEventProcessor() ingress.EventProcessor {
	return ingress.EventProcessorFunc(func(_ context.Context, raw any) ([]any, error) {
		rec, ok := raw.(contactoRecord)
		if !ok {
			return nil, fmt.Errorf("domain: pulled element is not a contacto record: %T", raw)
		}
		if rec.ClienteID == "" || rec.ProductoID == "" {
			return nil, fmt.Errorf("domain: contacto record missing cliente_id/producto_id")
		}
		return []any{&ContactoEvent{
			ID:       ClienteID{ClienteID: rec.ClienteID, ProductoID: rec.ProductoID},
			Contacto: Contacto{Email: rec.Email, Telefono: rec.Telefono},
		}}, nil
	})
}
