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

const shiprocketName = "shiprocket"

// Shiprocket integrates the Shiprocket external API. Authentication is an
// email/password exchange for a bearer token, held by the token cache.
type Shiprocket struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
	logger     *zap.Logger
}

// NewShiprocket creates the Shiprocket adapter and registers its login
// exchange on the token cache
func NewShiprocket(cfg config.ShiprocketConfig, tokens *TokenCache, logger *zap.Logger) *Shiprocket {
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")

	s := &Shiprocket{
		baseURL: baseURL,
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}

	tokens.Register(shiprocketName, func(ctx context.Context) (string, error) {
		return s.login(ctx, cfg.Email, cfg.Password)
	})

	return s
}

func (s *Shiprocket) Name() string { return shiprocketName }

func (s *Shiprocket) login(ctx context.Context, email, password string) (string, error) {
	body := map[string]string{"email": email, "password": password}

	status, respBody, err := doRequest(ctx, s.httpClient, "POST", s.baseURL+"/v1/external/auth/login", nil, body)
	if err != nil {
		return "", &errors.ErrNetwork{Carrier: shiprocketName, Op: "login", Err: err}
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return "", &errors.ErrAuthFailure{Carrier: shiprocketName}
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("shiprocket login: status %d, body: %s", status, string(respBody))
	}

	var result struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("shiprocket login: failed to unmarshal response: %w", err)
	}
	if result.Token == "" {
		return "", &errors.ErrAuthFailure{Carrier: shiprocketName}
	}

	return result.Token, nil
}

// call performs an authenticated request, invalidating the cached token and
// retrying once on a 401
func (s *Shiprocket) call(ctx context.Context, op, method, path string, body interface{}) (int, []byte, error) {
	for attempt := 0; attempt < 2; attempt++ {
		token, err := s.tokens.Token(ctx, shiprocketName)
		if err != nil {
			return 0, nil, err
		}

		headers := map[string]string{"Authorization": "Bearer " + token}
		status, respBody, err := doRequest(ctx, s.httpClient, method, s.baseURL+path, headers, body)
		if err != nil {
			return 0, nil, &errors.ErrNetwork{Carrier: shiprocketName, Op: op, Err: err}
		}

		if status == http.StatusUnauthorized && attempt == 0 {
			s.tokens.Invalidate(shiprocketName)
			continue
		}
		if status == http.StatusUnauthorized {
			return status, respBody, &errors.ErrAuthFailure{Carrier: shiprocketName}
		}

		return status, respBody, nil
	}
	return 0, nil, &errors.ErrAuthFailure{Carrier: shiprocketName}
}

func (s *Shiprocket) CheckServiceability(ctx context.Context, q ServiceabilityQuery) ([]CourierOption, error) {
	params := url.Values{}
	params.Set("pickup_postcode", q.OriginPincode)
	params.Set("delivery_postcode", q.DestinationPincode)
	params.Set("weight", fmt.Sprintf("%.2f", q.WeightKg))
	if q.IsCOD {
		params.Set("cod", "1")
	} else {
		params.Set("cod", "0")
	}

	status, body, err := s.call(ctx, "serviceability", "GET", "/v1/external/courier/serviceability/?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, &errors.ErrServiceUnavailable{Carrier: shiprocketName, Pincode: q.DestinationPincode}
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("shiprocket serviceability: status %d, body: %s", status, string(body))
	}

	var result struct {
		Status int `json:"status"`
		Data   struct {
			AvailableCourierCompanies []struct {
				CourierCompanyID int     `json:"courier_company_id"`
				CourierName      string  `json:"courier_name"`
				Rate             float64 `json:"rate"`
				EstimatedDays    string  `json:"estimated_delivery_days"`
				IsSurface        bool    `json:"is_surface"`
			} `json:"available_courier_companies"`
		} `json:"data"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("shiprocket serviceability: failed to unmarshal response: %w", err)
	}

	if result.Status == 404 || strings.Contains(strings.ToLower(result.Message), "not serviceable") {
		return nil, &errors.ErrServiceUnavailable{Carrier: shiprocketName, Pincode: q.DestinationPincode}
	}

	options := make([]CourierOption, 0, len(result.Data.AvailableCourierCompanies))
	for _, c := range result.Data.AvailableCourierCompanies {
		days, _ := strconv.Atoi(c.EstimatedDays)
		options = append(options, CourierOption{
			ID:            strconv.Itoa(c.CourierCompanyID),
			Name:          c.CourierName,
			TotalCharge:   c.Rate,
			EstimatedDays: days,
			Surface:       c.IsSurface,
		})
	}
	sort.Slice(options, func(i, j int) bool { return options[i].TotalCharge < options[j].TotalCharge })

	return options, nil
}

func (s *Shiprocket) CreateShipment(ctx context.Context, req ShipmentRequest) (*ShipmentResult, error) {
	paymentMethod := "Prepaid"
	if req.CODAmount > 0 {
		paymentMethod = "COD"
	}

	items := make([]map[string]interface{}, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, map[string]interface{}{
			"name":          item.Title,
			"sku":           item.ProductID.String(),
			"units":         item.Quantity,
			"selling_price": item.UnitPrice,
		})
	}

	body := map[string]interface{}{
		"order_id":              req.OrderNumber,
		"order_date":            time.Now().Format("2006-01-02 15:04"),
		"pickup_location":       req.PickupLocation,
		"billing_customer_name": req.Customer.Name,
		"billing_address":       req.Customer.Street,
		"billing_city":          req.Customer.City,
		"billing_state":         req.Customer.State,
		"billing_pincode":       req.Customer.Pincode,
		"billing_country":       req.Customer.Country,
		"billing_phone":         req.Customer.Phone,
		"billing_email":         req.Customer.Email,
		"shipping_is_billing":   true,
		"order_items":           items,
		"payment_method":        paymentMethod,
		"sub_total":             req.Subtotal,
		"weight":                req.WeightKg,
		"length":                10,
		"breadth":               10,
		"height":                10,
	}

	status, respBody, err := s.call(ctx, "create shipment", "POST", "/v1/external/orders/create/adhoc", body)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("shiprocket create shipment: status %d, body: %s", status, string(respBody))
	}

	var result struct {
		OrderID    json.Number `json:"order_id"`
		ShipmentID json.Number `json:"shipment_id"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("shiprocket create shipment: failed to unmarshal response: %w", err)
	}
	if result.ShipmentID.String() == "" {
		return nil, fmt.Errorf("shiprocket create shipment: no shipment id in response: %s", string(respBody))
	}

	return &ShipmentResult{ShipmentID: result.ShipmentID.String()}, nil
}

func (s *Shiprocket) GenerateAWB(ctx context.Context, shipmentID, courierOptionID string) (*AWBResult, error) {
	body := map[string]interface{}{
		"shipment_id": shipmentID,
		"courier_id":  courierOptionID,
	}

	status, respBody, err := s.call(ctx, "assign awb", "POST", "/v1/external/courier/assign/awb", body)
	if err != nil {
		return nil, err
	}

	var result struct {
		AWBAssignStatus int `json:"awb_assign_status"`
		Response        struct {
			Data struct {
				AWBCode     string `json:"awb_code"`
				CourierName string `json:"courier_name"`
			} `json:"data"`
		} `json:"response"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("shiprocket assign awb: failed to unmarshal response: %w", err)
	}

	if strings.Contains(strings.ToLower(result.Message), "already assigned") {
		return nil, &errors.ErrAlreadyAssigned{AWB: result.Response.Data.AWBCode}
	}
	if status != http.StatusOK || result.AWBAssignStatus != 1 {
		return nil, fmt.Errorf("shiprocket assign awb: status %d, body: %s", status, string(respBody))
	}

	return &AWBResult{
		AWB:         result.Response.Data.AWBCode,
		CourierName: result.Response.Data.CourierName,
	}, nil
}

func (s *Shiprocket) SchedulePickup(ctx context.Context, shipmentID string) error {
	body := map[string]interface{}{"shipment_id": []string{shipmentID}}

	status, respBody, err := s.call(ctx, "generate pickup", "POST", "/v1/external/courier/generate/pickup", body)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("shiprocket generate pickup: status %d, body: %s", status, string(respBody))
	}
	return nil
}

func (s *Shiprocket) Track(ctx context.Context, trackingID string) (*TrackingInfo, error) {
	status, body, err := s.call(ctx, "track", "GET", "/v1/external/courier/track/awb/"+url.PathEscape(trackingID), nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, &errors.ErrNotFound{Resource: "shipment", ID: trackingID}
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("shiprocket track: status %d, body: %s", status, string(body))
	}

	var result struct {
		TrackingData struct {
			ShipmentTrack []struct {
				CurrentStatus string `json:"current_status"`
			} `json:"shipment_track"`
			ShipmentTrackActivities []struct {
				Date     string `json:"date"`
				Activity string `json:"activity"`
				Location string `json:"location"`
			} `json:"shipment_track_activities"`
		} `json:"tracking_data"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("shiprocket track: failed to unmarshal response: %w", err)
	}

	info := &TrackingInfo{}
	if len(result.TrackingData.ShipmentTrack) > 0 {
		info.RawStatus = result.TrackingData.ShipmentTrack[0].CurrentStatus
	}
	for _, a := range result.TrackingData.ShipmentTrackActivities {
		info.Events = append(info.Events, TrackingEvent{
			Status:   a.Activity,
			Location: a.Location,
			Time:     a.Date,
		})
	}

	return info, nil
}

func (s *Shiprocket) Cancel(ctx context.Context, trackingID string) error {
	body := map[string]interface{}{"awbs": []string{trackingID}}

	status, respBody, err := s.call(ctx, "cancel", "POST", "/v1/external/orders/cancel/shipment/awbs", body)
	if err != nil {
		return err
	}

	if strings.Contains(strings.ToLower(string(respBody)), "delivered") {
		return &errors.ErrNotCancellable{TrackingID: trackingID}
	}
	if status != http.StatusOK {
		return fmt.Errorf("shiprocket cancel: status %d, body: %s", status, string(respBody))
	}
	return nil
}

func (s *Shiprocket) Label(ctx context.Context, shipmentID string) (string, error) {
	body := map[string]interface{}{"shipment_id": []string{shipmentID}}

	status, respBody, err := s.call(ctx, "generate label", "POST", "/v1/external/courier/generate/label", body)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("shiprocket generate label: status %d, body: %s", status, string(respBody))
	}

	var result struct {
		LabelURL string `json:"label_url"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("shiprocket generate label: failed to unmarshal response: %w", err)
	}
	return result.LabelURL, nil
}

func (s *Shiprocket) Manifest(ctx context.Context, shipmentID string) (string, error) {
	body := map[string]interface{}{"shipment_id": []string{shipmentID}}

	status, respBody, err := s.call(ctx, "generate manifest", "POST", "/v1/external/manifests/generate", body)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("shiprocket generate manifest: status %d, body: %s", status, string(respBody))
	}

	var result struct {
		ManifestURL string `json:"manifest_url"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("shiprocket generate manifest: failed to unmarshal response: %w", err)
	}
	return result.ManifestURL, nil
}

// MapStatus translates Shiprocket's status vocabulary to the internal enum
func (s *Shiprocket) MapStatus(raw string) (domain.OrderStatus, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "PICKED UP", "SHIPPED", "IN TRANSIT", "OUT FOR DELIVERY", "REACHED AT DESTINATION HUB":
		return domain.OrderStatusShipped, true
	case "DELIVERED":
		return domain.OrderStatusDelivered, true
	case "CANCELED", "CANCELLED", "RTO INITIATED", "RTO DELIVERED":
		return domain.OrderStatusCancelled, true
	default:
		return "", false
	}
}
