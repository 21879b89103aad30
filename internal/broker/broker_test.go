package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trendtrader/internal/model"
	"trendtrader/pkg/smartconnect"
)

const (
	loginPath   = "/rest/auth/angelbroking/user/v1/loginByPassword"
	profilePath = "/rest/secure/angelbroking/user/v1/getProfile"
	orderPath   = "/rest/secure/angelbroking/order/v1/placeOrder"
	rmsPath     = "/rest/secure/angelbroking/user/v1/getRMS"
	candlePath  = "/rest/secure/angelbroking/historical/v1/getCandleData"
	ltpPath     = "/rest/secure/angelbroking/order/v1/getLtpData"
)

var inst = model.Instrument{Exchange: "NSE", Token: "3045", TradingSymbol: "SBIN-EQ"}

type broker struct {
	logins  atomic.Int32
	handler map[string]http.HandlerFunc
}

func (b *broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case loginPath:
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if len(body["totp"]) != 6 {
			w.Write([]byte(`{"status":false,"message":"bad totp","errorcode":"AB1050"}`))
			return
		}
		n := b.logins.Add(1)
		fmt.Fprintf(w, `{"status":true,"data":{"jwtToken":"jwt%d","refreshToken":"ref","feedToken":"feed"}}`, n)
	case profilePath:
		w.Write([]byte(`{"status":true,"data":{"clientcode":"A123","name":"Test"}}`))
	default:
		if h, ok := b.handler[r.URL.Path]; ok {
			h(w, r)
			return
		}
		http.NotFound(w, r)
	}
}

func newTestSession(t *testing.T, handlers map[string]http.HandlerFunc) (*Session, *broker) {
	t.Helper()
	b := &broker{handler: handlers}
	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)
	client := smartconnect.New(smartconnect.Config{APIKey: "key", RootURL: srv.URL, ClientLocalIP: "10.0.0.1", ClientMAC: "aa:bb"})
	sess := NewSession(Credentials{APIKey: "key", ClientCode: "A123", PIN: "1111", TOTPSecret: "JBSWY3DPEHPK3PXP"}, client)
	require.NoError(t, sess.Login(context.Background()))
	return sess, b
}

func TestCredentials_Validate(t *testing.T) {
	err := Credentials{APIKey: "k"}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "totp_secret")
	assert.NoError(t, Credentials{APIKey: "k", ClientCode: "c", PIN: "p", TOTPSecret: "s"}.Validate())
}

func TestSession_LoginAndCash(t *testing.T) {
	sess, _ := newTestSession(t, map[string]http.HandlerFunc{
		rmsPath: func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer jwt1", r.Header.Get("Authorization"))
			w.Write([]byte(`{"status":true,"data":{"net":"100000.50","availablecash":"100000.50"}}`))
		},
	})
	assert.True(t, sess.LoggedIn())

	cash, err := sess.AvailableCash(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100000.50, cash)
}

func TestSession_RelogsInOnExpiredToken(t *testing.T) {
	var calls atomic.Int32
	sess, b := newTestSession(t, map[string]http.HandlerFunc{
		rmsPath: func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.Write([]byte(`{"status":false,"message":"Invalid Token","errorcode":"AG8001"}`))
				return
			}
			assert.Equal(t, "Bearer jwt2", r.Header.Get("Authorization"))
			w.Write([]byte(`{"status":true,"data":{"availablecash":"5000"}}`))
		},
	})

	cash, err := sess.AvailableCash(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5000.0, cash)
	assert.Equal(t, int32(2), b.logins.Load())
}

func TestGateway_PlaceOrder(t *testing.T) {
	var got smartconnect.OrderParams
	sess, _ := newTestSession(t, map[string]http.HandlerFunc{
		orderPath: func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.Write([]byte(`{"status":true,"data":{"orderid":"O-1"}}`))
		},
	})

	req := model.NewMarketOrder(inst, model.SideBuy, 260, 245.456, 250)
	res, err := NewGateway(sess).PlaceOrder(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "O-1", res.OrderID)
	assert.Equal(t, model.OrderStatusPlaced, res.Status)
	assert.Equal(t, smartconnect.OrderParams{
		Variety:         "NORMAL",
		TradingSymbol:   "SBIN-EQ",
		SymbolToken:     "3045",
		TransactionType: "BUY",
		Exchange:        "NSE",
		OrderType:       "MARKET",
		ProductType:     "INTRADAY",
		Duration:        "DAY",
		StopLoss:        "245.46",
		Quantity:        "260",
	}, got)
}

func TestGateway_RejectedOrder(t *testing.T) {
	sess, _ := newTestSession(t, map[string]http.HandlerFunc{
		orderPath: func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"status":false,"message":"RMS rejected","errorcode":"AB4008"}`))
		},
	})
	_, err := NewGateway(sess).PlaceOrder(context.Background(), model.NewMarketOrder(inst, model.SideSell, 1, 0, 250))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RMS rejected")
}

func candleHandler(rows string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"status":true,"data":%s}`, rows)
	}
}

func TestDataSource_Historical(t *testing.T) {
	var params smartconnect.CandleParams
	sess, _ := newTestSession(t, map[string]http.HandlerFunc{
		candlePath: func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&params))
			w.Write([]byte(`{"status":true,"data":[["2026-10-14T09:15:00+05:30",250,251,249,250.5,100]]}`))
		},
	})
	ds, err := NewDataSource(sess, 5*time.Minute)
	require.NoError(t, err)

	from := time.Date(2026, 10, 5, 9, 0, 0, 0, model.IST)
	to := time.Date(2026, 10, 15, 10, 0, 0, 0, model.IST)
	bars, err := ds.Historical(context.Background(), inst, from, to)
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, "FIVE_MINUTE", params.Interval)
	assert.Equal(t, "2026-10-05 09:00", params.FromDate)
	assert.Equal(t, "2026-10-15 10:00", params.ToDate)
	assert.Equal(t, model.IST, bars[0].TS.Location())
}

func TestDataSource_HistoricalEmpty(t *testing.T) {
	sess, _ := newTestSession(t, map[string]http.HandlerFunc{candlePath: candleHandler(`[]`)})
	ds, err := NewDataSource(sess, 5*time.Minute)
	require.NoError(t, err)

	_, err = ds.Historical(context.Background(), inst, time.Now().Add(-time.Hour), time.Now())
	var nd *model.NoDataError
	require.ErrorAs(t, err, &nd)
}

func TestDataSource_LatestBarSkipsFormingCandle(t *testing.T) {
	sess, _ := newTestSession(t, map[string]http.HandlerFunc{candlePath: candleHandler(`[
		["2026-10-15T09:50:00+05:30",1,1,1,1,1],
		["2026-10-15T09:55:00+05:30",2,2,2,2,1],
		["2026-10-15T10:00:00+05:30",3,3,3,3,1]]`)})
	ds, err := NewDataSource(sess, 5*time.Minute)
	require.NoError(t, err)
	ds.now = func() time.Time { return time.Date(2026, 10, 15, 10, 2, 0, 0, model.IST) }

	bar, err := ds.LatestBar(context.Background(), inst)
	require.NoError(t, err)
	assert.Equal(t, 2.0, bar.Close)
}

func TestDataSource_LatestPrice(t *testing.T) {
	var ltp atomic.Value
	ltp.Store("812.35")
	sess, _ := newTestSession(t, map[string]http.HandlerFunc{
		ltpPath: func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, `{"status":true,"data":{"ltp":%s}}`, ltp.Load())
		},
	})
	ds, err := NewDataSource(sess, 5*time.Minute)
	require.NoError(t, err)

	_, price, err := ds.LatestPrice(context.Background(), inst)
	require.NoError(t, err)
	assert.Equal(t, 812.35, price)

	ltp.Store("0")
	_, _, err = ds.LatestPrice(context.Background(), inst)
	var sd *model.StaleDataError
	require.ErrorAs(t, err, &sd)
	assert.True(t, model.IsRetryableRead(err))
}

func TestNewDataSource_RejectsOddInterval(t *testing.T) {
	_, err := NewDataSource(nil, 7*time.Minute)
	assert.Error(t, err)
}
