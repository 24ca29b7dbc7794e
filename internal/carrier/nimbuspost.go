package carrier

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/naturemedica/fulfillment-api/internal/config"
	"github.com/naturemedica/fulfillment-api/internal/domain"
	"github.com/naturemedica/fulfillment-api/pkg/errors"
)

const nimbusName = "nimbuspost"

// NimbusPost integrates the NimbusPost shipment API. Like Shiprocket, auth is
// an email/password exchange for a session token.
type NimbusPost struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
	logger     *zap.Logger
}

func NewNimbusPost(cfg config.NimbusPostConfig, tokens *TokenCache, logger *zap.Logger) *NimbusPost {
	n := &NimbusPost{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}

	tokens.Register(nimbusName, func(ctx context.Context) (string, error) {
		return n.login(ctx, cfg.Email, cfg.Password)
	})

	return n
}

func (n *NimbusPost) Name() string { return nimbusName }

func (n *NimbusPost) login(ctx context.Context, email, password string) (string, error) {
	body := map[string]string{"email": email, "password": password}

	status, respBody, err := doRequest(ctx, n.httpClient, "POST", n.baseURL+"/users/login", nil, body)
	if err != nil {
		return "", &errors.ErrNetwork{Carrier: nimbusName, Op: "login", Err: err}
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return "", &errors.ErrAuthFailure{Carrier: nimbusName}
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("nimbuspost login: status %d, body: %s", status, string(respBody))
	}

	var result struct {
		Status bool   `json:"status"`
		Data   string `json:"data"` // the session token
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("nimbuspost login: failed to unmarshal response: %w", err)
	}
	if !result.Status || result.Data == "" {
		return "", &errors.ErrAuthFailure{Carrier: nimbusName}
	}
	return result.Data, nil
}

func (n *NimbusPost) call(ctx context.Context, op, method, path string, body interface{}) (int, []byte, error) {
	for attempt := 0; attempt < 2; attempt++ {
		token, err := n.tokens.Token(ctx, nimbusName)
		if err != nil {
			return 0, nil, err
		}

		headers := map[string]string{"Authorization": "Bearer " + token}
		status, respBody, err := doRequest(ctx, n.httpClient, method, n.baseURL+path, headers, body)
		if err != nil {
			return 0, nil, &errors.ErrNetwork{Carrier: nimbusName, Op: op, Err: err}
		}

		if status == http.StatusUnauthorized && attempt == 0 {
			n.tokens.Invalidate(nimbusName)
			continue
		}
		if status == http.StatusUnauthorized {
			return status, respBody, &errors.ErrAuthFailure{Carrier: nimbusName}
		}

		return status, respBody, nil
	}
	return 0, nil, &errors.ErrAuthFailure{Carrier: nimbusName}
}

func (n *NimbusPost) CheckServiceability(ctx context.Context, q ServiceabilityQuery) ([]CourierOption, error) {
	payment := "prepaid"
	if q.IsCOD {
		payment = "cod"
	}
	body := map[string]interface{}{
		"origin":       q.OriginPincode,
		"destination":  q.DestinationPincode,
		"weight":       q.WeightKg * 1000,
		"payment_type": payment,
	}

	status, respBody, err := n.call(ctx, "serviceability", "POST", "/courier/serviceability", body)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("nimbuspost serviceability: status %d, body: %s", status, string(respBody))
	}

	var result struct {
		Status  bool   `json:"status"`
		Message string `json:"message"`
		Data    []struct {
			ID           json.Number `json:"id"`
			Name         string      `json:"name"`
			TotalCharges json.Number `json:"total_charges"`
			EDD          string      `json:"edd"`
			CourierType  string      `json:"courier_type"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("nimbuspost serviceability: failed to unmarshal response: %w", err)
	}

	if !result.Status {
		if strings.Contains(strings.ToLower(result.Message), "not serviceable") {
			return nil, &errors.ErrServiceUnavailable{Carrier: nimbusName, Pincode: q.DestinationPincode}
		}
		// Served lane with nothing available is an empty result, not a failure
		return []CourierOption{}, nil
	}

	options := make([]CourierOption, 0, len(result.Data))
	for _, c := range result.Data {
		charge, _ := c.TotalCharges.Float64()
		days, _ := strconv.Atoi(strings.TrimSuffix(c.EDD, " days"))
		options = append(options, CourierOption{
			ID:            c.ID.String(),
			Name:          c.Name,
			TotalCharge:   charge,
			EstimatedDays: days,
			Surface:       !strings.EqualFold(c.CourierType, "air"),
		})
	}
	sort.Slice(options, func(i, j int) bool { return options[i].TotalCharge < options[j].TotalCharge })

	return options, nil
}

func (n *NimbusPost) CreateShipment(ctx context.Context, req ShipmentRequest) (*ShipmentResult, error) {
	payment := "prepaid"
	if req.CODAmount > 0 {
		payment = "cod"
	}

	items := make([]map[string]interface{}, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, map[string]interface{}{
			"name":  item.Title,
			"qty":   strconv.Itoa(item.Quantity),
			"price": fmt.Sprintf("%.2f", item.UnitPrice),
			"sku":   item.ProductID.String(),
		})
	}

	body := map[string]interface{}{
		"order_number":   req.OrderNumber,
		"payment_type":   payment,
		"order_amount":   req.Subtotal,
		"cod_charges":    req.CODAmount,
		"package_weight": req.WeightKg * 1000,
		"consignee": map[string]interface{}{
			"name":    req.Customer.Name,
			"address": req.Customer.Street,
			"city":    req.Customer.City,
			"state":   req.Customer.State,
			"pincode": req.Customer.Pincode,
			"phone":   req.Customer.Phone,
		},
		"pickup": map[string]interface{}{
			"warehouse_name": req.PickupLocation,
			"pincode":        req.PickupPincode,
		},
		"order_items": items,
		"courier_id":  req.CourierOptionID,
	}

	status, respBody, err := n.call(ctx, "create shipment", "POST", "/shipments", body)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return nil, fmt.Errorf("nimbuspost create shipment: status %d, body: %s", status, string(respBody))
	}

	var result struct {
		Status bool `json:"status"`
		Data   struct {
			ShipmentID json.Number `json:"shipment_id"`
			AWBNumber  string      `json:"awb_number"`
			LabelURL   string      `json:"label"`
		} `json:"data"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("nimbuspost create shipment: failed to unmarshal response: %w", err)
	}
	if !result.Status {
		return nil, fmt.Errorf("nimbuspost create shipment: %s", result.Message)
	}

	return &ShipmentResult{
		ShipmentID: result.Data.ShipmentID.String(),
		AWB:        result.Data.AWBNumber,
		LabelURL:   result.Data.LabelURL,
	}, nil
}

// GenerateAWB fetches the AWB for a booked shipment. NimbusPost usually
// assigns it at creation; a second assignment attempt reports AlreadyAssigned.
func (n *NimbusPost) GenerateAWB(ctx context.Context, shipmentID, courierOptionID string) (*AWBResult, error) {
	body := map[string]interface{}{
		"shipment_id": shipmentID,
		"courier_id":  courierOptionID,
	}

	status, respBody, err := n.call(ctx, "assign awb", "POST", "/shipments/awb", body)
	if err != nil {
		return nil, err
	}

	var result struct {
		Status  bool   `json:"status"`
		Message string `json:"message"`
		Data    struct {
			AWBNumber   string `json:"awb_number"`
			CourierName string `json:"courier_name"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("nimbuspost assign awb: failed to unmarshal response: %w", err)
	}

	if strings.Contains(strings.ToLower(result.Message), "already") {
		return nil, &errors.ErrAlreadyAssigned{AWB: result.Data.AWBNumber}
	}
	if status != http.StatusOK || !result.Status {
		return nil, fmt.Errorf("nimbuspost assign awb: status %d, body: %s", status, string(respBody))
	}

	return &AWBResult{AWB: result.Data.AWBNumber, CourierName: result.Data.CourierName}, nil
}

func (n *NimbusPost) SchedulePickup(ctx context.Context, shipmentID string) error {
	body := map[string]interface{}{"shipment_id": shipmentID}

	status, respBody, err := n.call(ctx, "pickup", "POST", "/shipments/pickup", body)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("nimbuspost pickup: status %d, body: %s", status, string(respBody))
	}
	return nil
}

func (n *NimbusPost) Track(ctx context.Context, trackingID string) (*TrackingInfo, error) {
	status, body, err := n.call(ctx, "track", "GET", "/shipments/track/"+url.PathEscape(trackingID), nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, &errors.ErrNotFound{Resource: "shipment", ID: trackingID}
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("nimbuspost track: status %d, body: %s", status, string(body))
	}

	var result struct {
		Status bool `json:"status"`
		Data   struct {
			Status  string `json:"status"`
			History []struct {
				StatusTitle string `json:"status_title"`
				Location    string `json:"location"`
				EventTime   string `json:"event_time"`
			} `json:"history"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("nimbuspost track: failed to unmarshal response: %w", err)
	}

	info := &TrackingInfo{RawStatus: result.Data.Status}
	for _, h := range result.Data.History {
		info.Events = append(info.Events, TrackingEvent{
			Status:   h.StatusTitle,
			Location: h.Location,
			Time:     h.EventTime,
		})
	}
	return info, nil
}

func (n *NimbusPost) Cancel(ctx context.Context, trackingID string) error {
	body := map[string]interface{}{"awb": trackingID}

	status, respBody, err := n.call(ctx, "cancel", "POST", "/shipments/cancel", body)
	if err != nil {
		return err
	}

	var result struct {
		Status  bool   `json:"status"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("nimbuspost cancel: failed to unmarshal response: %w", err)
	}
	if strings.Contains(strings.ToLower(result.Message), "delivered") {
		return &errors.ErrNotCancellable{TrackingID: trackingID}
	}
	if status != http.StatusOK || !result.Status {
		return fmt.Errorf("nimbuspost cancel: status %d, body: %s", status, string(respBody))
	}
	return nil
}

func (n *NimbusPost) Label(ctx context.Context, shipmentID string) (string, error) {
	status, body, err := n.call(ctx, "label", "GET", "/shipments/label/"+url.PathEscape(shipmentID), nil)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("nimbuspost label: status %d, body: %s", status, string(body))
	}

	var result struct {
		Data string `json:"data"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("nimbuspost label: failed to unmarshal response: %w", err)
	}
	return result.Data, nil
}

func (n *NimbusPost) Manifest(ctx context.Context, shipmentID string) (string, error) {
	body := map[string]interface{}{"shipment_ids": []string{shipmentID}}

	status, respBody, err := n.call(ctx, "manifest", "POST", "/shipments/manifest", body)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("nimbuspost manifest: status %d, body: %s", status, string(respBody))
	}

	var result struct {
		Data string `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("nimbuspost manifest: failed to unmarshal response: %w", err)
	}
	return result.Data, nil
}

// MapStatus translates NimbusPost's status vocabulary to the internal enum
func (n *NimbusPost) MapStatus(raw string) (domain.OrderStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "picked", "picked up", "in transit", "out for delivery":
		return domain.OrderStatusShipped, true
	case "delivered":
		return domain.OrderStatusDelivered, true
	case "cancelled", "rto", "rto initiated", "rto delivered":
		return domain.OrderStatusCancelled, true
	default:
		return "", false
	}
}
