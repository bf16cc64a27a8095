package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"quicktrade-sim-go/internal/config"
	"quicktrade-sim-go/internal/models"
	"quicktrade-sim-go/internal/trading"
)

const (
	signatureHeader = "X-Signature"
	eventHeader     = "X-Event"
	maxRetries      = 3
	deliveryTimeout = 30 * time.Second
)

// Event is the JSON body posted to the webhook.
type Event struct {
	Type      string       `json:"type"`
	Timestamp time.Time    `json:"timestamp"`
	Trade     models.Trade `json:"trade"`
}

// Webhook posts lifecycle events to an HTTP endpoint. Delivery happens on
// background goroutines so the trade engine never waits on the network.
type Webhook struct {
	client  *resty.Client
	url     string
	secret  string
	logger  *zap.Logger
	limiter *rate.Limiter
	backoff time.Duration

	wg sync.WaitGroup
}

var _ trading.Notifier = (*Webhook)(nil)

// NewWebhook creates a Webhook for cfg.URL.
func NewWebhook(cfg config.Webhook, logger *zap.Logger) *Webhook {
	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Inf
	}
	burst := cfg.RateLimitBurst
	if burst < 1 {
		burst = 1
	}
	return &Webhook{
		client:  resty.New().SetTimeout(10 * time.Second),
		url:     cfg.URL,
		secret:  cfg.Secret,
		logger:  logger.Named("webhook"),
		limiter: rate.NewLimiter(limit, burst),
		backoff: time.Second,
	}
}

// sign creates a HMAC-SHA256 signature of the body.
func (w *Webhook) sign(body []byte) string {
	h := hmac.New(sha256.New, []byte(w.secret))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func (w *Webhook) TradeOpened(_ context.Context, t models.Trade) {
	w.dispatch(EventTradeOpened, t)
}

func (w *Webhook) TradeClosed(_ context.Context, t models.Trade) {
	w.dispatch(EventTradeClosed, t)
}

func (w *Webhook) dispatch(kind string, t models.Trade) {
	event := Event{Type: kind, Timestamp: time.Now().UTC(), Trade: t}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
		defer cancel()
		if err := w.Send(ctx, event); err != nil {
			w.logger.Error("Failed to deliver webhook",
				zap.String("event", kind),
				zap.String("trade_id", t.ID),
				zap.Error(err))
		}
	}()
}

// Wait blocks until every dispatched event has been delivered or given up on.
func (w *Webhook) Wait() {
	w.wg.Wait()
}

// Send posts one event synchronously, retrying on throttling and server errors.
func (w *Webhook) Send(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	req := w.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader(eventHeader, event.Type).
		SetBody(body)
	if w.secret != "" {
		req.SetHeader(signatureHeader, w.sign(body))
	}

	_, err = w.doRequest(ctx, req)
	return err
}

// doRequest handles the request execution with rate limiting and retry logic.
func (w *Webhook) doRequest(ctx context.Context, req *resty.Request) (*resty.Response, error) {
	var resp *resty.Response
	var err error

	for i := 0; i < maxRetries; i++ {
		if err := w.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		w.logger.Debug("Posting event", zap.String("url", w.url), zap.Int("attempt", i+1))
		resp, err = req.Post(w.url)

		if err == nil && !resp.IsError() {
			return resp, nil
		}

		shouldRetry := false
		var retryAfter time.Duration

		if err == nil {
			statusCode := resp.StatusCode()
			if statusCode == http.StatusTooManyRequests {
				shouldRetry = true
				if seconds, convErr := strconv.Atoi(resp.Header().Get("Retry-After")); convErr == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 {
				shouldRetry = true
			}
			err = fmt.Errorf("webhook responded %s", resp.Status())
		} else {
			shouldRetry = true
		}

		if !shouldRetry {
			return nil, err
		}
		if i == maxRetries-1 {
			break
		}

		if retryAfter == 0 {
			// Exponential backoff: 1x, 2x, 4x the base.
			retryAfter = time.Duration(math.Pow(2, float64(i))) * w.backoff
		}

		w.logger.Warn("Webhook delivery failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("delivery failed after %d attempts: %w", maxRetries, err)
}
