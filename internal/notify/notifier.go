package notify

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Event describes an order status change worth telling the customer about
type Event struct {
	OrderNumber string `json:"order_number"`
	Status      string `json:"status"`
	Note        string `json:"note,omitempty"`
	TrackingID  string `json:"tracking_id,omitempty"`
	CourierName string `json:"courier_name,omitempty"`
}

// Notifier dispatches order events. Dispatch is fire and forget: a failed
// notification never blocks or fails an order or shipment state change.
type Notifier interface {
	OrderStatusChanged(event Event)
}

// RelayNotifier posts events to the configured notification relay (the email/
// SMS service lives behind it)
type RelayNotifier struct {
	relayURL   string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewRelayNotifier(relayURL string, logger *zap.Logger) *RelayNotifier {
	return &RelayNotifier{
		relayURL: relayURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

func (n *RelayNotifier) OrderStatusChanged(event Event) {
	go func() {
		body, err := json.Marshal(event)
		if err != nil {
			n.logger.Error("Failed to marshal notification", zap.Error(err))
			return
		}

		resp, err := n.httpClient.Post(n.relayURL, "application/json", bytes.NewBuffer(body))
		if err != nil {
			n.logger.Warn("Notification dispatch failed",
				zap.String("order", event.OrderNumber),
				zap.Error(err))
			return
		}
		resp.Body.Close()

		if resp.StatusCode >= 300 {
			n.logger.Warn("Notification relay rejected event",
				zap.String("order", event.OrderNumber),
				zap.Int("status", resp.StatusCode))
		}
	}()
}

// NopNotifier drops events. Used when no relay is configured.
type NopNotifier struct{}

func (NopNotifier) OrderStatusChanged(Event) {}
