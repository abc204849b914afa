package payment

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"context"
	"orderflow-be/internal/logger"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const apiVersion = "2025-03-01"

type intentGateway struct {
	baseURL       string
	apiKey        string
	webhookSecret string
	httpClient    *http.Client
}

// ----------------- Constructor -----------------

func NewIntentGateway(baseURL, apiKey, webhookSecret string) Gateway {
	if apiKey == "" {
		logger.L().Warn("payment gateway API key is empty")
	}

	return &intentGateway{
		baseURL:       baseURL,
		apiKey:        apiKey,
		webhookSecret: webhookSecret,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// ----------------- CreatePaymentIntent -----------------

func (g *intentGateway) CreatePaymentIntent(ctx context.Context, req IntentRequest) (*IntentResponse, error) {
	log := logger.L().With(
		zap.String("reference_id", req.ReferenceID),
		zap.String("amount", req.Amount.String()),
		zap.String("currency", req.Currency),
	)

	body := map[string]interface{}{
		"reference_id": req.ReferenceID,
		"amount":       req.Amount,
		"currency":     req.Currency,
		"method_token": req.MethodToken,
	}
	jsonBody, err := json.Marshal(body)
	if err != nil {
		log.Error("Failed to marshal intent request", zap.Error(err))
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", g.baseURL+"/v1/payment_intents", bytes.NewBuffer(jsonBody))
	if err != nil {
		log.Error("Failed creating request", zap.Error(err))
		return nil, err
	}

	httpReq.SetBasicAuth(g.apiKey, "")
	httpReq.Header.Add("Content-Type", "application/json")
	httpReq.Header.Add("api-version", apiVersion)

	log.Info("Sending payment intent request to gateway")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		log.Error("Gateway request failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Error("Failed to read response body", zap.Error(err))
		return nil, fmt.Errorf("failed to read gateway response: %w", err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		log.Error("Gateway returned server error",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("response", bodyBytes),
		)
		return nil, fmt.Errorf("%w: status %d", ErrGatewayUnavailable, resp.StatusCode)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		log.Error("Gateway rejected payment intent",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("response", bodyBytes),
		)
		return nil, fmt.Errorf("%w: %s", ErrPaymentFailed, string(bodyBytes))
	}

	var res IntentResponse
	if err := json.Unmarshal(bodyBytes, &res); err != nil {
		log.Error("Failed decoding gateway response", zap.Error(err))
		return nil, err
	}

	log.Info("Payment intent created",
		zap.String("intent_id", res.ID),
		zap.String("status", res.Status),
	)

	return &res, nil
}

// ----------------- Refund -----------------

func (g *intentGateway) Refund(ctx context.Context, transactionID string, amount decimal.Decimal) (*RefundResponse, error) {
	log := logger.L().With(
		zap.String("transaction_id", transactionID),
		zap.String("amount", amount.String()),
	)

	body := map[string]interface{}{
		"payment_intent": transactionID,
		"amount":         amount,
	}
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", g.baseURL+"/v1/refunds", bytes.NewBuffer(jsonBody))
	if err != nil {
		log.Error("Failed creating request", zap.Error(err))
		return nil, err
	}

	req.SetBasicAuth(g.apiKey, "")
	req.Header.Add("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		log.Error("Gateway refund request failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read gateway response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		log.Error("Gateway refused refund",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("response", bodyBytes),
		)
		return nil, fmt.Errorf("gateway refund error: %s", string(bodyBytes))
	}

	var res RefundResponse
	if err := json.Unmarshal(bodyBytes, &res); err != nil {
		log.Error("Failed decoding refund response", zap.Error(err))
		return nil, err
	}

	log.Info("Refund accepted by gateway", zap.String("refund_id", res.RefundID))
	return &res, nil
}

// ----------------- Verify Signature -----------------

// VerifySignature checks the HMAC-SHA256 of the raw body against the
// gateway signature header.
func (g *intentGateway) VerifySignature(r *http.Request, body []byte) error {
	if g.webhookSecret == "" {
		return nil // skip in dev
	}

	sig := r.Header.Get("X-Gateway-Signature")
	if sig == "" {
		return ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(g.webhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(sig), []byte(expected)) {
		return ErrInvalidSignature
	}
	return nil
}
