// Package broker adapts the SmartAPI client to the session's ports: a
// logged-in BrokerSession shared by the order gateway, the funds reader and
// the market data source.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/shopspring/decimal"

	"trendtrader/pkg/smartconnect"
)

// Credentials are one trading account's login details.
type Credentials struct {
	APIKey     string `yaml:"api_key"`
	ClientCode string `yaml:"client_code"`
	PIN        string `yaml:"pin"`
	TOTPSecret string `yaml:"totp_secret"`
}

func (c Credentials) Validate() error {
	var missing []string
	if c.APIKey == "" {
		missing = append(missing, "api_key")
	}
	if c.ClientCode == "" {
		missing = append(missing, "client_code")
	}
	if c.PIN == "" {
		missing = append(missing, "pin")
	}
	if c.TOTPSecret == "" {
		missing = append(missing, "totp_secret")
	}
	if len(missing) > 0 {
		return fmt.Errorf("broker credentials missing %v", missing)
	}
	return nil
}

// Session is a logged-in SmartAPI session. Create one per process per
// account and pass it to the gateway and data source; it re-logs in once
// when the broker rejects the token.
type Session struct {
	creds  Credentials
	client *smartconnect.Client
	now    func() time.Time

	mu       sync.Mutex
	loggedIn bool

	// OnLogin is called after every successful login.
	OnLogin func()
}

// NewSession wraps client. A nil client is built from creds.APIKey.
func NewSession(creds Credentials, client *smartconnect.Client) *Session {
	if client == nil {
		client = smartconnect.New(smartconnect.Config{APIKey: creds.APIKey})
	}
	return &Session{creds: creds, client: client, now: time.Now}
}

func (s *Session) Client() *smartconnect.Client { return s.client }

func (s *Session) ClientCode() string { return s.creds.ClientCode }

// Login generates a fresh TOTP and opens a session.
func (s *Session) Login(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	code, err := totp.GenerateCode(s.creds.TOTPSecret, s.now())
	if err != nil {
		return fmt.Errorf("broker: totp: %w", err)
	}
	prof, err := s.client.GenerateSession(ctx, s.creds.ClientCode, s.creds.PIN, code)
	if err != nil {
		s.loggedIn = false
		return fmt.Errorf("broker: %w", err)
	}
	s.loggedIn = true
	log.Printf("[broker] logged in as %s (%s)", prof.ClientCode, prof.Name)
	if s.OnLogin != nil {
		s.OnLogin()
	}
	return nil
}

func (s *Session) LoggedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loggedIn
}

// Logout ends the broker session.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	s.loggedIn = false
	s.mu.Unlock()
	return s.client.TerminateSession(ctx)
}

// call runs fn, logging in again and retrying once when the token has
// expired.
func (s *Session) call(ctx context.Context, fn func() error) error {
	err := fn()
	if err == nil || !smartconnect.IsTokenExpired(err) {
		return err
	}
	log.Printf("[broker] token rejected, logging in again: %v", err)
	if lerr := s.Login(ctx); lerr != nil {
		return errors.Join(err, lerr)
	}
	return fn()
}

// AvailableCash reads spendable cash from the RMS limits.
func (s *Session) AvailableCash(ctx context.Context) (float64, error) {
	var rms smartconnect.RMS
	err := s.call(ctx, func() (err error) {
		rms, err = s.client.RMSLimit(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}
	if rms.AvailableCash == "" {
		return 0, nil
	}
	cash, err := decimal.NewFromString(rms.AvailableCash)
	if err != nil {
		return 0, fmt.Errorf("broker: availablecash %q: %w", rms.AvailableCash, err)
	}
	return cash.InexactFloat64(), nil
}
