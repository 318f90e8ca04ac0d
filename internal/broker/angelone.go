package broker

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pquerna/otp/totp"

	"oi-trader/internal/errors"
	"oi-trader/internal/models"
	"oi-trader/pkg/utils"
)

const (
	angelBaseURL   = "https://apiconnect.angelbroking.com"
	angelScripURL  = "https://margincalculator.angelbroking.com/OpenAPI_File/files/OpenAPIScripMaster.json"
	angelLoginPath = "/rest/auth/angelbroking/user/v1/loginByPassword"
	angelLTPPath   = "/rest/secure/angelbroking/order/v1/getLtpData"
	angelQuotePath = "/rest/secure/angelbroking/market/v1/quote/"
)

// AngelOneBroker implements the Broker interface over the SmartAPI HTTP
// endpoints. There is no official Go SDK, so the wire calls go through a
// shared resty client.
type AngelOneBroker struct {
	http       *resty.Client
	apiKey     string
	clientCode string
	pin        string
	totpSecret string
	symbol     string

	mu          sync.RWMutex
	jwtToken    string
	instruments []Instrument
	spotToken   string
}

// AngelOneConfig holds configuration for the AngelOne broker.
type AngelOneConfig struct {
	APIKey     string
	ClientCode string
	PIN        string
	TOTPSecret string
	Symbol     string
}

// NewAngelOneBroker creates a new SmartAPI broker instance.
func NewAngelOneBroker(cfg AngelOneConfig) *AngelOneBroker {
	client := resty.New().
		SetBaseURL(angelBaseURL).
		SetTimeout(30 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("X-UserType", "USER").
		SetHeader("X-SourceID", "WEB").
		SetHeader("X-PrivateKey", cfg.APIKey)

	return &AngelOneBroker{
		http:       client,
		apiKey:     cfg.APIKey,
		clientCode: cfg.ClientCode,
		pin:        cfg.PIN,
		totpSecret: cfg.TOTPSecret,
		symbol:     cfg.Symbol,
	}
}

type angelEnvelope struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Error   string `json:"errorcode"`
}

// Connect logs in with the client code, PIN and a fresh TOTP code.
func (a *AngelOneBroker) Connect(ctx context.Context) error {
	code, err := totp.GenerateCode(a.totpSecret, time.Now())
	if err != nil {
		return errors.NewBrokerError("angelone", "TOTP", "generate code", err)
	}

	var result struct {
		angelEnvelope
		Data struct {
			JWTToken     string `json:"jwtToken"`
			RefreshToken string `json:"refreshToken"`
			FeedToken    string `json:"feedToken"`
		} `json:"data"`
	}

	resp, err := a.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"clientcode": a.clientCode,
			"password":   a.pin,
			"totp":       code,
		}).
		SetResult(&result).
		Post(angelLoginPath)
	if err != nil {
		return errors.NewBrokerError("angelone", "LOGIN", "login request failed", err)
	}
	if resp.IsError() || !result.Status || result.Data.JWTToken == "" {
		return errors.NewBrokerError("angelone", result.Error, result.Message, errors.ErrNotAuthenticated)
	}

	a.mu.Lock()
	a.jwtToken = result.Data.JWTToken
	a.mu.Unlock()
	a.http.SetAuthToken(result.Data.JWTToken)
	return nil
}

// IsAuthenticated returns whether the broker holds a live session.
func (a *AngelOneBroker) IsAuthenticated() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.jwtToken != ""
}

// IsMarketOpen reports whether NSE is in its regular session.
func (a *AngelOneBroker) IsMarketOpen() bool {
	return utils.IsMarketOpen()
}

// SpotPrice fetches the index last price.
func (a *AngelOneBroker) SpotPrice(ctx context.Context, symbol string) (float64, error) {
	if !a.IsAuthenticated() {
		return 0, errors.NewBrokerError("angelone", "AUTH", "not authenticated", errors.ErrNotAuthenticated)
	}
	if err := a.ensureInstruments(ctx, symbol); err != nil {
		return 0, err
	}

	a.mu.RLock()
	token := a.spotToken
	a.mu.RUnlock()

	var result struct {
		angelEnvelope
		Data struct {
			LTP float64 `json:"ltp"`
		} `json:"data"`
	}
	err := utils.Retry(ctx, utils.DefaultRetryConfig(), func() error {
		resp, err := a.http.R().
			SetContext(ctx).
			SetBody(map[string]string{
				"exchange":      "NSE",
				"tradingsymbol": indexQuoteName(symbol),
				"symboltoken":   token,
			}).
			SetResult(&result).
			Post(angelLTPPath)
		if err != nil {
			return err
		}
		if resp.IsError() || !result.Status {
			return errors.NewBrokerError("angelone", result.Error, result.Message, nil)
		}
		return nil
	})
	if err != nil {
		return 0, errors.NewBrokerError("angelone", "LTP", "get spot price", err)
	}
	return result.Data.LTP, nil
}

// OptionChain fetches full-mode quotes for the requested strikes of one
// expiry in a single batch call.
func (a *AngelOneBroker) OptionChain(ctx context.Context, symbol string, expiry time.Time, strikes []float64) ([]models.ChainRow, error) {
	if !a.IsAuthenticated() {
		return nil, errors.NewBrokerError("angelone", "AUTH", "not authenticated", errors.ErrNotAuthenticated)
	}
	if err := a.ensureInstruments(ctx, symbol); err != nil {
		return nil, err
	}

	wanted := make(map[float64]bool, len(strikes))
	for _, s := range strikes {
		wanted[s] = true
	}

	var tokens []string
	meta := make(map[string]Instrument)
	a.mu.RLock()
	for _, inst := range a.instruments {
		if inst.Expiry.Equal(expiry) && wanted[inst.Strike] {
			token := fmt.Sprintf("%d", inst.Token)
			tokens = append(tokens, token)
			meta[token] = inst
		}
	}
	a.mu.RUnlock()
	if len(tokens) == 0 {
		return nil, errors.NewDataError("chain", expiry.Format("2006-01-02"), nil)
	}

	var result struct {
		angelEnvelope
		Data struct {
			Fetched []struct {
				SymbolToken  string  `json:"symbolToken"`
				LTP          float64 `json:"ltp"`
				TradeVolume  int64   `json:"tradeVolume"`
				OpenInterest float64 `json:"opnInterest"`
			} `json:"fetched"`
		} `json:"data"`
	}
	err := utils.Retry(ctx, utils.DefaultRetryConfig(), func() error {
		resp, err := a.http.R().
			SetContext(ctx).
			SetBody(map[string]interface{}{
				"mode":           "FULL",
				"exchangeTokens": map[string][]string{"NFO": tokens},
			}).
			SetResult(&result).
			Post(angelQuotePath)
		if err != nil {
			return err
		}
		if resp.IsError() || !result.Status {
			return errors.NewBrokerError("angelone", result.Error, result.Message, nil)
		}
		return nil
	})
	if err != nil {
		return nil, errors.NewBrokerError("angelone", "QUOTE", "get option chain", err)
	}

	rows := make([]models.ChainRow, 0, len(result.Data.Fetched))
	for _, q := range result.Data.Fetched {
		inst, ok := meta[q.SymbolToken]
		if !ok {
			continue
		}
		rows = append(rows, models.ChainRow{
			Strike:       inst.Strike,
			Type:         inst.Type,
			Expiry:       inst.Expiry,
			LastPrice:    q.LTP,
			Volume:       q.TradeVolume,
			OpenInterest: q.OpenInterest,
		})
	}
	return rows, nil
}

// Expiries lists the option expiry dates known for a symbol.
func (a *AngelOneBroker) Expiries(ctx context.Context, symbol string) ([]time.Time, error) {
	if err := a.ensureInstruments(ctx, symbol); err != nil {
		return nil, err
	}

	seen := make(map[time.Time]bool)
	var out []time.Time
	a.mu.RLock()
	for _, inst := range a.instruments {
		if !seen[inst.Expiry] {
			seen[inst.Expiry] = true
			out = append(out, inst.Expiry)
		}
	}
	a.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

// ensureInstruments downloads and caches the scrip master rows for the
// symbol's options plus the index spot token.
func (a *AngelOneBroker) ensureInstruments(ctx context.Context, symbol string) error {
	a.mu.RLock()
	loaded := len(a.instruments) > 0
	a.mu.RUnlock()
	if loaded {
		return nil
	}

	var scrips []struct {
		Token      string `json:"token"`
		Symbol     string `json:"symbol"`
		Name       string `json:"name"`
		Expiry     string `json:"expiry"`
		Strike     string `json:"strike"`
		LotSize    string `json:"lotsize"`
		InstType   string `json:"instrumenttype"`
		ExchSeg    string `json:"exch_seg"`
		TickSize   string `json:"tick_size"`
	}
	err := utils.Retry(ctx, utils.DefaultRetryConfig(), func() error {
		resp, err := a.http.R().SetContext(ctx).SetResult(&scrips).Get(angelScripURL)
		if err != nil {
			return err
		}
		if resp.IsError() {
			return errors.NewBrokerError("angelone", "SCRIP", "scrip master download failed", nil)
		}
		return nil
	})
	if err != nil {
		return errors.NewBrokerError("angelone", "SCRIP", "download scrip master", err)
	}

	var rows []Instrument
	spotToken := ""
	for _, s := range scrips {
		if s.ExchSeg == "NSE" && s.Name == symbol && s.InstType == "AMXIDX" {
			spotToken = s.Token
			continue
		}
		if s.ExchSeg != "NFO" || s.Name != symbol || s.InstType != "OPTIDX" {
			continue
		}

		expiry, err := time.Parse("02Jan2006", canonicalMonth(s.Expiry))
		if err != nil {
			continue
		}
		// Strike arrives scaled by 100.
		rawStrike, err := strconv.ParseFloat(s.Strike, 64)
		if err != nil {
			continue
		}
		token, err := strconv.ParseUint(s.Token, 10, 32)
		if err != nil {
			continue
		}
		lot, _ := strconv.Atoi(s.LotSize)

		typ := models.Put
		if strings.HasSuffix(s.Symbol, "CE") {
			typ = models.Call
		}
		rows = append(rows, Instrument{
			Token:   uint32(token),
			Symbol:  s.Symbol,
			Name:    s.Name,
			Strike:  rawStrike / 100,
			Type:    typ,
			Expiry:  expiry.UTC(),
			LotSize: lot,
		})
	}
	if len(rows) == 0 {
		return errors.NewDataError("instruments", symbol, nil)
	}

	a.mu.Lock()
	a.instruments = rows
	a.spotToken = spotToken
	a.mu.Unlock()
	return nil
}

// Close drops the session token.
func (a *AngelOneBroker) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.jwtToken = ""
	return nil
}

// canonicalMonth normalizes scrip master expiries like "29JAN2026" into a
// form time.Parse accepts with the Jan layout.
func canonicalMonth(s string) string {
	if len(s) < 9 {
		return s
	}
	return s[:2] + strings.Title(strings.ToLower(s[2:5])) + s[5:]
}
