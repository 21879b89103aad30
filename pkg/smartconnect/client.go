// Package smartconnect is a client for the Angel One SmartAPI REST and
// streaming endpoints, trimmed to what an intraday trading session needs:
// login, order placement, funds, historical candles and last traded price.
//
// Usage example:
//
//	sc := smartconnect.New(smartconnect.Config{APIKey: "your_api_key"})
//	if _, err := sc.GenerateSession(ctx, "CLIENTID", "PIN", totpCode); err != nil {
//		log.Fatal(err)
//	}
//	orderID, err := sc.PlaceOrder(ctx, smartconnect.OrderParams{
//		Variety: "NORMAL", TradingSymbol: "SBIN-EQ", SymbolToken: "3045",
//		TransactionType: "BUY", Exchange: "NSE", OrderType: "MARKET",
//		ProductType: "INTRADAY", Duration: "DAY", Quantity: "1",
//	})
package smartconnect

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// ---- Config & client ----

type Config struct {
	APIKey       string
	AccessToken  string
	RefreshToken string
	FeedToken    string
	UserID       string

	RootURL        string        // default: https://apiconnect.angelone.in
	Debug          bool          // log request and response bodies
	Timeout        time.Duration // default: 7s
	ProxyURL       string        // optional HTTP proxy URL
	DisableSSL     bool          // if true, InsecureSkipVerify
	UserType       string        // default: USER
	SourceID       string        // default: WEB
	ClientPublicIP string        // default 106.193.147.98
	ClientLocalIP  string        // default resolved, else 127.0.0.1
	ClientMAC      string        // default from interface MAC
}

// Client is safe for concurrent use; tokens are guarded by a mutex so a
// refresh from one goroutine is seen by the others.
type Client struct {
	apiKey  string
	rootURL string
	debug   bool

	mu           sync.RWMutex
	accessToken  string
	refreshToken string
	feedToken    string
	userID       string

	httpClient *http.Client

	userType       string
	sourceID       string
	clientPublicIP string
	clientLocalIP  string
	clientMAC      string

	// SessionExpiryHook is called on a 403 TokenException.
	SessionExpiryHook func()
}

const (
	defaultRoot     = "https://apiconnect.angelone.in"
	defaultPublicIP = "106.193.147.98"
)

var routes = map[string]string{
	"api.login":        "/rest/auth/angelbroking/user/v1/loginByPassword",
	"api.logout":       "/rest/secure/angelbroking/user/v1/logout",
	"api.token":        "/rest/auth/angelbroking/jwt/v1/generateTokens",
	"api.user.profile": "/rest/secure/angelbroking/user/v1/getProfile",

	"api.order.place": "/rest/secure/angelbroking/order/v1/placeOrder",
	"api.ltp.data":    "/rest/secure/angelbroking/order/v1/getLtpData",
	"api.rms.limit":   "/rest/secure/angelbroking/user/v1/getRMS",

	"api.candle.data": "/rest/secure/angelbroking/historical/v1/getCandleData",
}

// New initializes the client. Client IP and MAC headers are resolved from
// the local interfaces when not configured.
func New(cfg Config) *Client {
	if cfg.RootURL == "" {
		cfg.RootURL = defaultRoot
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 7 * time.Second
	}
	if cfg.UserType == "" {
		cfg.UserType = "USER"
	}
	if cfg.SourceID == "" {
		cfg.SourceID = "WEB"
	}
	if cfg.ClientLocalIP == "" {
		ip, err := localIP()
		if err != nil {
			log.Printf("[smartconnect] local IP: %v", err)
		}
		cfg.ClientLocalIP = firstNonEmpty(ip, "127.0.0.1")
	}
	if cfg.ClientPublicIP == "" {
		cfg.ClientPublicIP = defaultPublicIP
	}
	if cfg.ClientMAC == "" {
		cfg.ClientMAC = macAddress()
	}

	tr := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: cfg.DisableSSL,
		},
	}
	if cfg.ProxyURL != "" {
		if purl, err := url.Parse(cfg.ProxyURL); err == nil {
			tr.Proxy = http.ProxyURL(purl)
		}
	}

	return &Client{
		apiKey:         cfg.APIKey,
		accessToken:    cfg.AccessToken,
		refreshToken:   cfg.RefreshToken,
		feedToken:      cfg.FeedToken,
		userID:         cfg.UserID,
		rootURL:        strings.TrimRight(cfg.RootURL, "/"),
		debug:          cfg.Debug,
		httpClient:     &http.Client{Transport: tr, Timeout: cfg.Timeout},
		userType:       cfg.UserType,
		sourceID:       cfg.SourceID,
		clientPublicIP: cfg.ClientPublicIP,
		clientLocalIP:  cfg.ClientLocalIP,
		clientMAC:      cfg.ClientMAC,
	}
}

// localIP returns the first non-loopback IPv4 address.
func localIP() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}
	for _, address := range addrs {
		if ipNet, ok := address.(*net.IPNet); ok && !ipNet.IP.IsLoopback() {
			if ipNet.IP.To4() != nil {
				return ipNet.IP.String(), nil
			}
		}
	}
	return "", errors.New("no local IP found")
}

func macAddress() string {
	ifs, _ := net.Interfaces()
	for _, ifc := range ifs {
		if len(ifc.HardwareAddr) > 0 {
			return ifc.HardwareAddr.String()
		}
	}
	return "00:11:22:33:44:55"
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// ---- Errors ----

// APIError is a SmartAPI failure: either an error_type body, a
// status=false envelope, or a non-2xx response.
type APIError struct {
	HTTPStatus int
	Code       string // errorcode or error_type
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("smartapi %d %s: %s", e.HTTPStatus, e.Code, e.Message)
	}
	return fmt.Sprintf("smartapi %d: %s", e.HTTPStatus, e.Message)
}

// IsTokenExpired reports whether err is a SmartAPI token rejection.
func IsTokenExpired(err error) bool {
	var ae *APIError
	if !errors.As(err, &ae) {
		return false
	}
	return ae.Code == "TokenException" || ae.Code == "AG8001" || ae.HTTPStatus == http.StatusUnauthorized
}

// envelope is the common SmartAPI response shape.
type envelope struct {
	Status    bool            `json:"status"`
	Message   string          `json:"message"`
	ErrorCode string          `json:"errorcode"`
	ErrorType string          `json:"error_type"`
	Data      json.RawMessage `json:"data"`
}

// ---- Helpers ----

func (c *Client) requestHeaders() http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	h.Set("X-ClientLocalIP", c.clientLocalIP)
	h.Set("X-ClientPublicIP", c.clientPublicIP)
	h.Set("X-MACAddress", c.clientMAC)
	h.Set("X-PrivateKey", c.apiKey)
	h.Set("X-UserType", c.userType)
	h.Set("X-SourceID", c.sourceID)
	if tok := c.AccessToken(); tok != "" {
		h.Set("Authorization", "Bearer "+tok)
	}
	return h
}

// do sends params as a JSON body (POST) or query (GET) and decodes the
// envelope's data into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, route string, params any, out any) error {
	uri, ok := routes[route]
	if !ok {
		return fmt.Errorf("unknown route: %s", route)
	}
	reqURL := c.rootURL + uri

	var body io.Reader
	if method == http.MethodGet {
		if q, ok := params.(url.Values); ok && len(q) > 0 {
			reqURL += "?" + q.Encode()
		}
	} else {
		if params == nil {
			params = struct{}{}
		}
		b, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("encode %s: %w", route, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return err
	}
	req.Header = c.requestHeaders()

	if c.debug {
		log.Printf("[smartconnect] request: %s %s", method, reqURL)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, route, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s: %w", route, err)
	}
	if c.debug {
		log.Printf("[smartconnect] response: code=%d body=%s", resp.StatusCode, raw)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode/100 != 2 {
			return &APIError{HTTPStatus: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		}
		return fmt.Errorf("couldn't parse JSON response from %s: %w", route, err)
	}
	if env.ErrorType != "" {
		if c.SessionExpiryHook != nil && resp.StatusCode == http.StatusForbidden && env.ErrorType == "TokenException" {
			c.SessionExpiryHook()
		}
		return &APIError{HTTPStatus: resp.StatusCode, Code: env.ErrorType, Message: env.Message}
	}
	if resp.StatusCode/100 != 2 || !env.Status {
		return &APIError{HTTPStatus: resp.StatusCode, Code: env.ErrorCode, Message: env.Message}
	}
	if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode %s data: %w", route, err)
		}
	}
	return nil
}

// ---- Tokens ----

func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

func (c *Client) FeedToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.feedToken
}

func (c *Client) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *Client) APIKey() string { return c.apiKey }

func (c *Client) setTokens(jwt, refresh, feed string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if jwt != "" {
		c.accessToken = jwt
	}
	if refresh != "" {
		c.refreshToken = refresh
	}
	if feed != "" {
		c.feedToken = feed
	}
}

// ---- API Methods ----

// Tokens is the login / refresh payload.
type Tokens struct {
	JWTToken     string `json:"jwtToken"`
	RefreshToken string `json:"refreshToken"`
	FeedToken    string `json:"feedToken"`
}

// Profile is the subset of getProfile the session logs.
type Profile struct {
	ClientCode string   `json:"clientcode"`
	Name       string   `json:"name"`
	Exchanges  []string `json:"exchanges"`
	Products   []string `json:"products"`
}

// GenerateSession logs in with client code, PIN and the current TOTP,
// stores the issued tokens and returns the user profile.
func (c *Client) GenerateSession(ctx context.Context, clientCode, password, totp string) (Profile, error) {
	var tok Tokens
	params := map[string]string{"clientcode": clientCode, "password": password, "totp": totp}
	if err := c.do(ctx, http.MethodPost, "api.login", params, &tok); err != nil {
		return Profile{}, fmt.Errorf("login %s: %w", clientCode, err)
	}
	if tok.JWTToken == "" {
		return Profile{}, fmt.Errorf("login %s: empty jwt token", clientCode)
	}
	c.setTokens(tok.JWTToken, tok.RefreshToken, tok.FeedToken)

	prof, err := c.GetProfile(ctx, tok.RefreshToken)
	if err != nil {
		return Profile{}, err
	}
	c.mu.Lock()
	c.userID = firstNonEmpty(prof.ClientCode, clientCode)
	c.mu.Unlock()
	return prof, nil
}

// GenerateToken exchanges the refresh token for a new jwt and feed token.
func (c *Client) GenerateToken(ctx context.Context) error {
	c.mu.RLock()
	refresh := c.refreshToken
	c.mu.RUnlock()

	var tok Tokens
	if err := c.do(ctx, http.MethodPost, "api.token", map[string]string{"refreshToken": refresh}, &tok); err != nil {
		return fmt.Errorf("refresh token: %w", err)
	}
	c.setTokens(tok.JWTToken, tok.RefreshToken, tok.FeedToken)
	return nil
}

func (c *Client) TerminateSession(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "api.logout", map[string]string{"clientcode": c.UserID()}, nil)
}

func (c *Client) GetProfile(ctx context.Context, refreshToken string) (Profile, error) {
	var p Profile
	err := c.do(ctx, http.MethodGet, "api.user.profile", url.Values{"refreshToken": {refreshToken}}, &p)
	return p, err
}

// OrderParams is the placeOrder body. SmartAPI takes every field as a string.
type OrderParams struct {
	Variety         string `json:"variety"`
	TradingSymbol   string `json:"tradingsymbol"`
	SymbolToken     string `json:"symboltoken"`
	TransactionType string `json:"transactiontype"`
	Exchange        string `json:"exchange"`
	OrderType       string `json:"ordertype"`
	ProductType     string `json:"producttype"`
	Duration        string `json:"duration"`
	Price           string `json:"price,omitempty"`
	SquareOff       string `json:"squareoff,omitempty"`
	StopLoss        string `json:"stoploss,omitempty"`
	Quantity        string `json:"quantity"`
}

// PlaceOrder returns the broker order id.
func (c *Client) PlaceOrder(ctx context.Context, p OrderParams) (string, error) {
	var data struct {
		OrderID       string `json:"orderid"`
		UniqueOrderID string `json:"uniqueorderid"`
	}
	if err := c.do(ctx, http.MethodPost, "api.order.place", p, &data); err != nil {
		return "", fmt.Errorf("place order: %w", err)
	}
	if data.OrderID == "" {
		return "", errors.New("place order: response has no orderid")
	}
	return data.OrderID, nil
}

// RMS is the funds summary. SmartAPI reports amounts as decimal strings.
type RMS struct {
	Net            string `json:"net"`
	AvailableCash  string `json:"availablecash"`
	AvailableLimit string `json:"availableintradaypayin"`
	UtilisedDebits string `json:"utiliseddebits"`
}

func (c *Client) RMSLimit(ctx context.Context) (RMS, error) {
	var r RMS
	if err := c.do(ctx, http.MethodGet, "api.rms.limit", nil, &r); err != nil {
		return RMS{}, fmt.Errorf("rms limit: %w", err)
	}
	return r, nil
}

// CandleParams selects a historical candle range. Times are exchange-local
// and formatted "2006-01-02 15:04".
type CandleParams struct {
	Exchange    string `json:"exchange"`
	SymbolToken string `json:"symboltoken"`
	Interval    string `json:"interval"` // ONE_MINUTE, FIVE_MINUTE, ...
	FromDate    string `json:"fromdate"`
	ToDate      string `json:"todate"`
}

// CandleTimeLayout is the layout of CandleParams dates.
const CandleTimeLayout = "2006-01-02 15:04"

const candleLocalLayout = "2006-01-02T15:04:05"

var exchangeZone = time.FixedZone("IST", 5*3600+30*60)

// Candle is one historical OHLCV row.
type Candle struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// UnmarshalJSON decodes the broker's [ts, o, h, l, c, v] array form.
func (k *Candle) UnmarshalJSON(b []byte) error {
	var row []json.RawMessage
	if err := json.Unmarshal(b, &row); err != nil {
		return err
	}
	if len(row) < 6 {
		return fmt.Errorf("candle: want 6 fields, got %d", len(row))
	}
	var ts string
	if err := json.Unmarshal(row[0], &ts); err != nil {
		return fmt.Errorf("candle time: %w", err)
	}
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		// rows without an offset are exchange wall-clock time
		if t, err = time.ParseInLocation(candleLocalLayout, ts, exchangeZone); err != nil {
			return fmt.Errorf("candle time: %w", err)
		}
	}
	k.Time = t
	for i, dst := range []*float64{&k.Open, &k.High, &k.Low, &k.Close, &k.Volume} {
		if err := json.Unmarshal(row[i+1], dst); err != nil {
			return fmt.Errorf("candle field %d: %w", i+1, err)
		}
	}
	return nil
}

// GetCandleData returns candles in ascending time order.
func (c *Client) GetCandleData(ctx context.Context, p CandleParams) ([]Candle, error) {
	var out []Candle
	if err := c.do(ctx, http.MethodPost, "api.candle.data", p, &out); err != nil {
		return nil, fmt.Errorf("candle data %s:%s: %w", p.Exchange, p.SymbolToken, err)
	}
	return out, nil
}

// LTP is the last traded price payload.
type LTP struct {
	Exchange      string  `json:"exchange"`
	TradingSymbol string  `json:"tradingsymbol"`
	SymbolToken   string  `json:"symboltoken"`
	Open          float64 `json:"open"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	Close         float64 `json:"close"`
	LTP           float64 `json:"ltp"`
}

func (c *Client) GetLTP(ctx context.Context, exchange, tradingSymbol, token string) (LTP, error) {
	var l LTP
	params := map[string]string{"exchange": exchange, "tradingsymbol": tradingSymbol, "symboltoken": token}
	if err := c.do(ctx, http.MethodPost, "api.ltp.data", params, &l); err != nil {
		return LTP{}, fmt.Errorf("ltp %s:%s: %w", exchange, token, err)
	}
	return l, nil
}
