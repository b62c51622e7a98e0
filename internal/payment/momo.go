package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const momoAPIBase = "https://test-payment.momo.vn"

// MoMo is a redirect-based VND wallet. It has no metadata channel, so the
// order id carries the account via the TOKEN_ convention and the package
// id rides in base64 extraData; every request and IPN is HMAC-SHA256
// signed.
type MoMo struct {
	partnerCode string
	accessKey   string
	secretKey   string
	baseURL     string
	client      *http.Client
}

type MoMoConfig struct {
	PartnerCode string
	AccessKey   string
	SecretKey   string
	BaseURL     string
	Timeout     time.Duration
}

func NewMoMo(cfg MoMoConfig) *MoMo {
	base := cfg.BaseURL
	if base == "" {
		base = momoAPIBase
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &MoMo{
		partnerCode: cfg.PartnerCode,
		accessKey:   cfg.AccessKey,
		secretKey:   cfg.SecretKey,
		baseURL:     strings.TrimRight(base, "/"),
		client:      &http.Client{Timeout: timeout},
	}
}

func (m *MoMo) Name() string { return "momo" }

type momoExtraData struct {
	PackageID string `json:"package_id"`
}

func (m *MoMo) CreatePayment(ctx context.Context, p CreateParams) (*CreateResult, error) {
	if !strings.EqualFold(p.Currency, "VND") {
		return nil, fmt.Errorf("%w: momo supports VND only", ErrValidation)
	}
	units, err := MinorUnits(p.Amount, p.Currency)
	if err != nil {
		return nil, err
	}

	orderID := NewTxRef(p.AccountID)
	requestID := uuid.NewString()
	orderInfo := "Token package " + p.PackageID
	rawExtra, _ := json.Marshal(momoExtraData{PackageID: p.PackageID})
	extraData := base64.StdEncoding.EncodeToString(rawExtra)
	amount := strconv.FormatInt(units, 10)

	raw := "accessKey=" + m.accessKey +
		"&amount=" + amount +
		"&extraData=" + extraData +
		"&ipnUrl=" + p.NotifyURL +
		"&orderId=" + orderID +
		"&orderInfo=" + orderInfo +
		"&partnerCode=" + m.partnerCode +
		"&redirectUrl=" + p.ReturnURL +
		"&requestId=" + requestID +
		"&requestType=captureWallet"

	body := map[string]any{
		"partnerCode": m.partnerCode,
		"accessKey":   m.accessKey,
		"requestId":   requestID,
		"amount":      amount,
		"orderId":     orderID,
		"orderInfo":   orderInfo,
		"redirectUrl": p.ReturnURL,
		"ipnUrl":      p.NotifyURL,
		"extraData":   extraData,
		"requestType": "captureWallet",
		"lang":        "en",
		"signature":   m.sign(raw),
	}

	var out struct {
		ResultCode int    `json:"resultCode"`
		Message    string `json:"message"`
		PayURL     string `json:"payUrl"`
	}
	if err := m.post(ctx, "/v2/gateway/api/create", body, &out); err != nil {
		return nil, err
	}
	if out.ResultCode != 0 {
		return nil, fmt.Errorf("%w: momo: %s", ErrValidation, out.Message)
	}
	return &CreateResult{TransactionID: orderID, RedirectURL: out.PayURL}, nil
}

func (m *MoMo) Verify(ctx context.Context, transactionID string) (*Verification, error) {
	requestID := uuid.NewString()
	raw := "accessKey=" + m.accessKey +
		"&orderId=" + transactionID +
		"&partnerCode=" + m.partnerCode +
		"&requestId=" + requestID

	body := map[string]any{
		"partnerCode": m.partnerCode,
		"requestId":   requestID,
		"orderId":     transactionID,
		"lang":        "en",
		"signature":   m.sign(raw),
	}

	var out struct {
		ResultCode int    `json:"resultCode"`
		Amount     int64  `json:"amount"`
		ExtraData  string `json:"extraData"`
	}
	if err := m.post(ctx, "/v2/gateway/api/query", body, &out); err != nil {
		return nil, err
	}

	accountID, _ := AccountFromTxRef(transactionID)
	v := &Verification{
		TransactionID: transactionID,
		Status:        momoStatus(out.ResultCode),
		Amount:        decimal.NewFromInt(out.Amount),
		Currency:      "VND",
		AccountID:     accountID,
		PackageID:     momoPackageID(out.ExtraData),
	}
	return v, nil
}

// Capture is a no-op for MoMo: captureWallet payments settle in one step.
func (m *MoMo) Capture(_ context.Context, transactionID string) (*CaptureResult, error) {
	accountID, _ := AccountFromTxRef(transactionID)
	return &CaptureResult{Status: StatusCompleted, CaptureID: transactionID, AccountID: accountID}, nil
}

func (m *MoMo) Refund(ctx context.Context, ref string, amount *decimal.Decimal, currency string) (*RefundResult, error) {
	if amount == nil {
		return nil, fmt.Errorf("%w: momo refund requires an amount", ErrValidation)
	}
	units, err := MinorUnits(*amount, "VND")
	if err != nil {
		return nil, err
	}
	requestID := uuid.NewString()
	orderID := "REFUND_" + requestID
	amt := strconv.FormatInt(units, 10)

	raw := "accessKey=" + m.accessKey +
		"&amount=" + amt +
		"&description=" +
		"&orderId=" + orderID +
		"&partnerCode=" + m.partnerCode +
		"&requestId=" + requestID +
		"&transId=" + ref

	body := map[string]any{
		"partnerCode": m.partnerCode,
		"requestId":   requestID,
		"orderId":     orderID,
		"amount":      amt,
		"transId":     ref,
		"lang":        "en",
		"description": "",
		"signature":   m.sign(raw),
	}

	var out struct {
		ResultCode int    `json:"resultCode"`
		Message    string `json:"message"`
	}
	if err := m.post(ctx, "/v2/gateway/api/refund", body, &out); err != nil {
		return nil, err
	}
	if out.ResultCode != 0 {
		return nil, fmt.Errorf("%w: momo refund: %s", ErrValidation, out.Message)
	}
	return &RefundResult{Status: "refunded"}, nil
}

type momoIPN struct {
	PartnerCode  string `json:"partnerCode"`
	OrderID      string `json:"orderId"`
	RequestID    string `json:"requestId"`
	Amount       int64  `json:"amount"`
	OrderInfo    string `json:"orderInfo"`
	OrderType    string `json:"orderType"`
	TransID      int64  `json:"transId"`
	ResultCode   int    `json:"resultCode"`
	Message      string `json:"message"`
	PayType      string `json:"payType"`
	ResponseTime int64  `json:"responseTime"`
	ExtraData    string `json:"extraData"`
	Signature    string `json:"signature"`
}

// ParseNotification validates the IPN signature; a verified IPN is
// authoritative, so the result carries the account and package directly.
func (m *MoMo) ParseNotification(_ http.Header, _ url.Values, body []byte) (*Notification, error) {
	var ipn momoIPN
	if err := json.Unmarshal(body, &ipn); err != nil {
		return nil, fmt.Errorf("%w: malformed momo ipn: %v", ErrValidation, err)
	}

	raw := "accessKey=" + m.accessKey +
		"&amount=" + strconv.FormatInt(ipn.Amount, 10) +
		"&extraData=" + ipn.ExtraData +
		"&message=" + ipn.Message +
		"&orderId=" + ipn.OrderID +
		"&orderInfo=" + ipn.OrderInfo +
		"&orderType=" + ipn.OrderType +
		"&partnerCode=" + ipn.PartnerCode +
		"&payType=" + ipn.PayType +
		"&requestId=" + ipn.RequestID +
		"&responseTime=" + strconv.FormatInt(ipn.ResponseTime, 10) +
		"&resultCode=" + strconv.Itoa(ipn.ResultCode) +
		"&transId=" + strconv.FormatInt(ipn.TransID, 10)

	if !hmac.Equal([]byte(m.sign(raw)), []byte(ipn.Signature)) {
		return nil, fmt.Errorf("%w: momo ipn signature mismatch", ErrValidation)
	}

	accountID, ok := AccountFromTxRef(ipn.OrderID)
	if !ok {
		return nil, fmt.Errorf("%w: momo order id %q not a token reference", ErrValidation, ipn.OrderID)
	}
	return &Notification{
		TransactionID: ipn.OrderID,
		Completed:     ipn.ResultCode == 0,
		AccountID:     accountID,
		PackageID:     momoPackageID(ipn.ExtraData),
	}, nil
}

func momoPackageID(extraData string) string {
	raw, err := base64.StdEncoding.DecodeString(extraData)
	if err != nil {
		return ""
	}
	var extra momoExtraData
	if json.Unmarshal(raw, &extra) != nil {
		return ""
	}
	return extra.PackageID
}

func momoStatus(resultCode int) PaymentStatus {
	switch resultCode {
	case 0:
		return StatusCompleted
	case 1000, 7000, 7002, 9000:
		return StatusPending
	default:
		return StatusFailed
	}
}

func (m *MoMo) sign(raw string) string {
	mac := hmac.New(sha256.New, []byte(m.secretKey))
	mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))
}

func (m *MoMo) post(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+path, strings.NewReader(string(raw)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: momo: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: momo returned %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: momo returned %d", ErrValidation, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
