package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"oi-trader/internal/errors"
	"oi-trader/internal/models"
	"oi-trader/pkg/utils"
)

// ZerodhaBroker implements the Broker interface for Zerodha Kite Connect.
type ZerodhaBroker struct {
	client        *kiteconnect.Client
	apiKey        string
	apiSecret     string
	userID        string
	password      string
	totpSecret    string
	tokenPath     string
	accessToken   string
	authenticated bool
	symbol        string

	mu          sync.RWMutex
	instruments []Instrument
}

// ZerodhaConfig holds configuration for the Zerodha broker.
type ZerodhaConfig struct {
	APIKey     string
	APISecret  string
	UserID     string
	Password   string
	TOTPSecret string
	TokenPath  string
	Symbol     string
}

// NewZerodhaBroker creates a new Zerodha broker instance. It automatically
// loads any saved session from disk.
func NewZerodhaBroker(cfg ZerodhaConfig) *ZerodhaBroker {
	tokenPath := cfg.TokenPath
	if tokenPath == "" {
		homeDir, _ := os.UserHomeDir()
		tokenPath = filepath.Join(homeDir, ".config", "oi-trader", "session.json")
	}

	zb := &ZerodhaBroker{
		client:     kiteconnect.New(cfg.APIKey),
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		userID:     cfg.UserID,
		password:   cfg.Password,
		totpSecret: cfg.TOTPSecret,
		tokenPath:  tokenPath,
		symbol:     cfg.Symbol,
	}
	_ = zb.loadSession()
	return zb
}

type sessionData struct {
	AccessToken string    `json:"access_token"`
	UserID      string    `json:"user_id"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Connect establishes an authenticated session: a persisted token if still
// valid, otherwise a TOTP auto-login when credentials are configured.
func (z *ZerodhaBroker) Connect(ctx context.Context) error {
	if err := z.loadSession(); err == nil && z.IsAuthenticated() {
		if _, err := z.client.GetUserProfile(); err == nil {
			return nil
		}
	}

	if z.password != "" && z.totpSecret != "" {
		return z.autoLogin(ctx)
	}

	loginURL := z.client.GetLoginURL()
	return errors.NewBrokerError("zerodha", "AUTH_REQUIRED",
		fmt.Sprintf("visit %s and complete login, then rerun with the request token", loginURL), errors.ErrNotAuthenticated)
}

// autoLogin drives Kite's web login with the stored password and a fresh
// TOTP code, then exchanges the resulting request token for a session.
func (z *ZerodhaBroker) autoLogin(ctx context.Context) error {
	jar, _ := cookiejar.New(nil)
	hc := &http.Client{
		Jar:     jar,
		Timeout: 30 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	// Step 1: user id + password.
	resp, err := hc.PostForm("https://kite.zerodha.com/api/login", url.Values{
		"user_id":  {z.userID},
		"password": {z.password},
	})
	if err != nil {
		return errors.NewBrokerError("zerodha", "LOGIN", "password step failed", err)
	}
	var loginResp struct {
		Data struct {
			RequestID string `json:"request_id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		resp.Body.Close()
		return errors.NewBrokerError("zerodha", "LOGIN", "decode login response", err)
	}
	resp.Body.Close()
	if loginResp.Data.RequestID == "" {
		return errors.NewBrokerError("zerodha", "LOGIN", "no request id returned", errors.ErrNotAuthenticated)
	}

	// Step 2: TOTP second factor.
	code, err := totp.GenerateCode(z.totpSecret, time.Now())
	if err != nil {
		return errors.NewBrokerError("zerodha", "TOTP", "generate code", err)
	}
	resp, err = hc.PostForm("https://kite.zerodha.com/api/twofa", url.Values{
		"user_id":     {z.userID},
		"request_id":  {loginResp.Data.RequestID},
		"twofa_value": {code},
		"twofa_type":  {"totp"},
	})
	if err != nil {
		return errors.NewBrokerError("zerodha", "TOTP", "twofa step failed", err)
	}
	resp.Body.Close()

	// Step 3: hit the connect login URL; the redirect carries request_token.
	connectURL := fmt.Sprintf("https://kite.zerodha.com/connect/login?v=3&api_key=%s", z.apiKey)
	requestToken, err := followForRequestToken(hc, connectURL, 8)
	if err != nil {
		return err
	}

	session, err := z.client.GenerateSession(requestToken, z.apiSecret)
	if err != nil {
		return errors.NewBrokerError("zerodha", "SESSION", "generate session", err)
	}

	z.mu.Lock()
	z.accessToken = session.AccessToken
	z.authenticated = true
	z.client.SetAccessToken(session.AccessToken)
	z.mu.Unlock()

	return z.saveSession(session.AccessToken)
}

// CompleteLogin exchanges a request token from the manual browser flow for
// a session and persists it.
func (z *ZerodhaBroker) CompleteLogin(requestToken string) error {
	session, err := z.client.GenerateSession(requestToken, z.apiSecret)
	if err != nil {
		return errors.NewBrokerError("zerodha", "SESSION", "generate session", err)
	}

	z.mu.Lock()
	z.accessToken = session.AccessToken
	z.authenticated = true
	z.client.SetAccessToken(session.AccessToken)
	z.mu.Unlock()

	return z.saveSession(session.AccessToken)
}

// LoginURL returns the Kite Connect login URL for the manual flow.
func (z *ZerodhaBroker) LoginURL() string {
	return z.client.GetLoginURL()
}

// followForRequestToken chases redirects manually until one carries the
// request_token query parameter.
func followForRequestToken(hc *http.Client, rawURL string, maxHops int) (string, error) {
	current := rawURL
	for hop := 0; hop < maxHops; hop++ {
		resp, err := hc.Get(current)
		if err != nil {
			return "", errors.NewBrokerError("zerodha", "CONNECT", "connect redirect failed", err)
		}
		resp.Body.Close()

		loc := resp.Header.Get("Location")
		if loc == "" {
			break
		}
		parsed, err := url.Parse(loc)
		if err != nil {
			return "", errors.NewBrokerError("zerodha", "CONNECT", "parse redirect", err)
		}
		if token := parsed.Query().Get("request_token"); token != "" {
			return token, nil
		}
		if !parsed.IsAbs() {
			base, _ := url.Parse(current)
			parsed = base.ResolveReference(parsed)
		}
		current = parsed.String()
	}
	return "", errors.NewBrokerError("zerodha", "CONNECT", "request token not found", errors.ErrNotAuthenticated)
}

// IsAuthenticated returns whether the broker holds a live session.
func (z *ZerodhaBroker) IsAuthenticated() bool {
	z.mu.RLock()
	defer z.mu.RUnlock()
	return z.authenticated
}

// IsMarketOpen reports whether NSE is in its regular session.
func (z *ZerodhaBroker) IsMarketOpen() bool {
	return utils.IsMarketOpen()
}

// SpotPrice fetches the index last price.
func (z *ZerodhaBroker) SpotPrice(ctx context.Context, symbol string) (float64, error) {
	if !z.IsAuthenticated() {
		return 0, errors.NewBrokerError("zerodha", "AUTH", "not authenticated", errors.ErrNotAuthenticated)
	}

	instrument := "NSE:" + indexQuoteName(symbol)
	ltp, err := utils.RetryWithResult(ctx, utils.DefaultRetryConfig(), func() (kiteconnect.QuoteLTP, error) {
		return z.client.GetLTP(instrument)
	})
	if err != nil {
		return 0, errors.NewBrokerError("zerodha", "LTP", "get spot price", err)
	}
	q, ok := ltp[instrument]
	if !ok {
		return 0, errors.NewDataError("spot", instrument, nil)
	}
	return q.LastPrice, nil
}

// OptionChain fetches quotes for the requested strikes of one expiry.
func (z *ZerodhaBroker) OptionChain(ctx context.Context, symbol string, expiry time.Time, strikes []float64) ([]models.ChainRow, error) {
	if !z.IsAuthenticated() {
		return nil, errors.NewBrokerError("zerodha", "AUTH", "not authenticated", errors.ErrNotAuthenticated)
	}
	if err := z.ensureInstruments(ctx, symbol); err != nil {
		return nil, err
	}

	wanted := make(map[float64]bool, len(strikes))
	for _, s := range strikes {
		wanted[s] = true
	}

	var symbols []string
	meta := make(map[string]Instrument)
	z.mu.RLock()
	for _, inst := range z.instruments {
		if inst.Expiry.Equal(expiry) && wanted[inst.Strike] {
			full := "NFO:" + inst.Symbol
			symbols = append(symbols, full)
			meta[full] = inst
		}
	}
	z.mu.RUnlock()
	if len(symbols) == 0 {
		return nil, errors.NewDataError("chain", expiry.Format("2006-01-02"), nil)
	}

	quotes, err := utils.RetryWithResult(ctx, utils.DefaultRetryConfig(), func() (kiteconnect.Quote, error) {
		return z.client.GetQuote(symbols...)
	})
	if err != nil {
		return nil, errors.NewBrokerError("zerodha", "QUOTE", "get option chain", err)
	}

	rows := make([]models.ChainRow, 0, len(quotes))
	for sym, q := range quotes {
		inst, ok := meta[sym]
		if !ok {
			continue
		}
		rows = append(rows, models.ChainRow{
			Strike:       inst.Strike,
			Type:         inst.Type,
			Expiry:       inst.Expiry,
			LastPrice:    q.LastPrice,
			Volume:       int64(q.Volume),
			OpenInterest: q.OI,
		})
	}
	return rows, nil
}

// Expiries lists the option expiry dates known for a symbol.
func (z *ZerodhaBroker) Expiries(ctx context.Context, symbol string) ([]time.Time, error) {
	if err := z.ensureInstruments(ctx, symbol); err != nil {
		return nil, err
	}

	seen := make(map[time.Time]bool)
	var out []time.Time
	z.mu.RLock()
	for _, inst := range z.instruments {
		if !seen[inst.Expiry] {
			seen[inst.Expiry] = true
			out = append(out, inst.Expiry)
		}
	}
	z.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

// ensureInstruments downloads and caches the NFO instrument master rows
// for the symbol's options.
func (z *ZerodhaBroker) ensureInstruments(ctx context.Context, symbol string) error {
	z.mu.RLock()
	loaded := len(z.instruments) > 0
	z.mu.RUnlock()
	if loaded {
		return nil
	}

	all, err := utils.RetryWithResult(ctx, utils.DefaultRetryConfig(), func() ([]kiteconnect.Instrument, error) {
		return z.client.GetInstrumentsByExchange("NFO")
	})
	if err != nil {
		return errors.NewBrokerError("zerodha", "INSTRUMENTS", "download instrument master", err)
	}

	var rows []Instrument
	for _, inst := range all {
		if inst.Name != symbol {
			continue
		}
		if inst.InstrumentType != "CE" && inst.InstrumentType != "PE" {
			continue
		}
		rows = append(rows, Instrument{
			Token:    uint32(inst.InstrumentToken),
			Symbol:   inst.Tradingsymbol,
			Name:     inst.Name,
			Strike:   inst.StrikePrice,
			Type:     models.OptionType(inst.InstrumentType),
			Expiry:   time.Date(inst.Expiry.Time.Year(), inst.Expiry.Time.Month(), inst.Expiry.Time.Day(), 0, 0, 0, 0, time.UTC),
			Exchange: inst.Exchange,
			LotSize:  int(inst.LotSize),
		})
	}
	if len(rows) == 0 {
		return errors.NewDataError("instruments", symbol, nil)
	}

	z.mu.Lock()
	z.instruments = rows
	z.mu.Unlock()
	return nil
}

// Close invalidates the session token locally.
func (z *ZerodhaBroker) Close() error {
	z.mu.Lock()
	defer z.mu.Unlock()
	z.authenticated = false
	z.accessToken = ""
	return nil
}

func (z *ZerodhaBroker) loadSession() error {
	data, err := os.ReadFile(z.tokenPath)
	if err != nil {
		return err
	}

	var session sessionData
	if err := json.Unmarshal(data, &session); err != nil {
		return err
	}
	if time.Now().After(session.ExpiresAt) {
		return errors.New("session expired")
	}

	z.mu.Lock()
	z.accessToken = session.AccessToken
	z.authenticated = true
	z.client.SetAccessToken(session.AccessToken)
	z.mu.Unlock()
	return nil
}

func (z *ZerodhaBroker) saveSession(accessToken string) error {
	if err := os.MkdirAll(filepath.Dir(z.tokenPath), 0700); err != nil {
		return err
	}

	// Kite tokens expire at 6 AM IST the next day
	now := time.Now().In(utils.IndiaLocation)
	expiresAt := time.Date(now.Year(), now.Month(), now.Day()+1, 6, 0, 0, 0, utils.IndiaLocation)

	session := sessionData{
		AccessToken: accessToken,
		UserID:      z.userID,
		ExpiresAt:   expiresAt,
	}
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return os.WriteFile(z.tokenPath, data, 0600)
}

// indexQuoteName maps an underlying symbol to Kite's index quote name.
func indexQuoteName(symbol string) string {
	switch strings.ToUpper(symbol) {
	case "NIFTY":
		return "NIFTY 50"
	case "BANKNIFTY":
		return "NIFTY BANK"
	default:
		return symbol
	}
}
