package quota

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"ecowatch/pkg/common"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://api.ecoflow.com"

	endpointQuota    = "/iot-open/sign/device/quota"
	endpointQuotaAll = "/iot-open/sign/device/quota/all"

	envelopeCodeOK = "0"

	defaultTimeout   = 30 * time.Second
	defaultRateLimit = rate.Limit(1)
	defaultBurst     = 3
)

// envelope is the vendor response wrapper. Code is a string, "0" on success.
type envelope struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
}

type EcoFlowConfig struct {
	AccessKey string
	SecretKey string
	BaseURL   string        // DefaultBaseURL when empty
	Timeout   time.Duration // per-request bound, defaultTimeout when zero
	RateLimit rate.Limit    // outbound request budget, defaultRateLimit when zero
	Burst     int
}

// EcoFlowClient talks to the EcoFlow IoT open platform with HMAC-signed
// requests. It implements Fetcher and owns both the request timeout and a
// client-side rate limiter, so a hung or chatty caller can neither stall
// forever nor trip the vendor's quota.
type EcoFlowClient struct {
	http      *resty.Client
	limiter   *rate.Limiter
	accessKey string
	secretKey string

	// overridable in tests to pin signatures
	now   func() time.Time
	nonce func() string
}

func NewEcoFlowClient(cfg EcoFlowConfig) (*EcoFlowClient, error) {
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("ecoflow client requires an access key and a secret key")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.Burst == 0 {
		cfg.Burst = defaultBurst
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")

	return &EcoFlowClient{
		http:      client,
		limiter:   rate.NewLimiter(cfg.RateLimit, cfg.Burst),
		accessKey: cfg.AccessKey,
		secretKey: cfg.SecretKey,
		now:       time.Now,
		nonce:     func() string { return strconv.Itoa(100000 + rand.IntN(900000)) },
	}, nil
}

// FetchQuota implements Fetcher. An empty key set maps to the vendor's
// quota/all endpoint, an explicit set to the quota endpoint, matching how the
// device expects to be asked.
func (c *EcoFlowClient) FetchQuota(ctx context.Context, deviceSN string, metricKeys []string) (map[string]any, error) {
	logger := common.GetLoggerWith(
		common.LoggerNameQuota,
		zap.String(common.LoggerFieldCategory, common.LoggerCategoryFetch),
	)

	var (
		env *envelope
		err error
	)
	if len(metricKeys) == 0 {
		env, err = c.request(ctx, http.MethodGet, endpointQuotaAll, map[string]any{
			"sn": deviceSN,
		})
	} else {
		env, err = c.request(ctx, http.MethodPost, endpointQuota, map[string]any{
			"sn": deviceSN,
			"params": map[string]any{
				"quotas": metricKeys,
			},
		})
	}
	if err != nil {
		return nil, err
	}

	logger.Debug("Fetched quota snapshot",
		zap.String("deviceSN", deviceSN),
		zap.Int("requestedKeys", len(metricKeys)),
		zap.Int("returnedKeys", len(env.Data)))

	return env.Data, nil
}

// ProbeDevice asks for the full quota map once and reports whether the
// device answered. Used at startup to log reachability before the loop runs.
func (c *EcoFlowClient) ProbeDevice(ctx context.Context, deviceSN string) error {
	_, err := c.FetchQuota(ctx, deviceSN, nil)
	return err
}

func (c *EcoFlowClient) request(ctx context.Context, method, endpoint string, params map[string]any) (*envelope, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &FetchError{Kind: ErrorKindNetwork, Message: "rate limiter wait aborted", Err: err}
	}

	nonce := c.nonce()
	timestamp := strconv.FormatInt(c.now().UnixMilli(), 10)

	var result envelope
	req := c.http.R().
		SetContext(ctx).
		SetHeader("accessKey", c.accessKey).
		SetHeader("nonce", nonce).
		SetHeader("timestamp", timestamp).
		SetHeader("sign", c.sign(params, nonce, timestamp)).
		SetResult(&result)

	var (
		resp *resty.Response
		err  error
	)
	if method == http.MethodPost {
		resp, err = req.SetBody(params).Post(endpoint)
	} else {
		resp, err = req.SetQueryParams(flattenParams(params)).Get(endpoint)
	}
	if err != nil {
		return nil, &FetchError{Kind: ErrorKindNetwork, Message: "vendor request failed", Err: err}
	}

	switch code := resp.StatusCode(); {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return nil, &FetchError{Kind: ErrorKindAuth, Message: fmt.Sprintf("vendor rejected credentials with HTTP %d", code)}
	case code != http.StatusOK:
		return nil, &FetchError{Kind: ErrorKindNetwork, Message: fmt.Sprintf("vendor returned HTTP %d", code)}
	}

	if result.Code != envelopeCodeOK {
		return nil, classifyEnvelopeError(result.Code, result.Message)
	}
	return &result, nil
}

// sign computes the request signature: flattened params as a sorted query
// string, then the accessKey/nonce/timestamp headers, HMAC-SHA256 over the
// whole thing with the secret key.
func (c *EcoFlowClient) sign(params map[string]any, nonce, timestamp string) string {
	signStr := queryString(flattenParams(params))
	if signStr != "" {
		signStr += "&"
	}
	signStr += "accessKey=" + c.accessKey + "&nonce=" + nonce + "&timestamp=" + timestamp

	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(signStr))
	return hex.EncodeToString(mac.Sum(nil))
}

// flattenParams turns nested params into the flat key set the vendor signs:
// map keys joined with '.', list elements indexed as key[i].
func flattenParams(params map[string]any) map[string]string {
	flat := make(map[string]string)
	var walk func(prefix string, value any)
	walk = func(prefix string, value any) {
		switch v := value.(type) {
		case map[string]any:
			for k, child := range v {
				key := k
				if prefix != "" {
					key = prefix + "." + k
				}
				walk(key, child)
			}
		case []string:
			for i, child := range v {
				flat[fmt.Sprintf("%s[%d]", prefix, i)] = child
			}
		case []any:
			for i, child := range v {
				walk(fmt.Sprintf("%s[%d]", prefix, i), child)
			}
		default:
			flat[prefix] = fmt.Sprint(v)
		}
	}
	for k, v := range params {
		walk(k, v)
	}
	return flat
}

// queryString joins the flattened params sorted by key. The sort is plain
// string order; the vendor signs index keys like quotas[10] the same way.
func queryString(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+params[k])
	}
	return strings.Join(pairs, "&")
}

// classifyEnvelopeError maps a non-zero vendor code to a FetchError kind by
// message content. Unknown codes count as network faults and get retried.
func classifyEnvelopeError(code, message string) *FetchError {
	msg := strings.ToLower(message)
	kind := ErrorKindNetwork
	switch {
	case strings.Contains(msg, "offline"):
		kind = ErrorKindDeviceOffline
	case strings.Contains(msg, "sign"), strings.Contains(msg, "auth"),
		strings.Contains(msg, "access key"), strings.Contains(msg, "secret"):
		kind = ErrorKindAuth
	}
	return &FetchError{Kind: kind, Message: fmt.Sprintf("vendor code %s: %s", code, message)}
}
