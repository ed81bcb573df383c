package transport

import (
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/jafarshop/erpsync/internal/config"
	"github.com/jafarshop/erpsync/internal/erp"
)

// LicenseGate decides whether an endpoint may be called and whether a
// response may be used
type LicenseGate interface {
	ValidateEndpoint(rawURL string) bool
	ValidateResponse(rawURL string, doc *erp.Document) bool
}

// BcryptLicense checks the configured license key against its bcrypt hash and
// restricts calls to the licensed hosts. With no hash configured every key is
// accepted; with no hosts configured every host is accepted.
type BcryptLicense struct {
	key    string
	hash   string
	hosts  map[string]struct{}
	logger *zap.Logger

	once     sync.Once
	keyValid bool
}

// NewBcryptLicense creates a gate from the ERP configuration
func NewBcryptLicense(cfg config.ERPConfig, logger *zap.Logger) *BcryptLicense {
	hosts := make(map[string]struct{}, len(cfg.LicensedHosts))
	for _, h := range cfg.LicensedHosts {
		hosts[strings.ToLower(h)] = struct{}{}
	}
	return &BcryptLicense{
		key:    cfg.LicenseKey,
		hash:   cfg.LicenseKeyHash,
		hosts:  hosts,
		logger: logger,
	}
}

// ValidateEndpoint is checked before anything is sent
func (l *BcryptLicense) ValidateEndpoint(rawURL string) bool {
	if !l.validKey() {
		return false
	}
	if len(l.hosts) == 0 {
		return true
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		l.logger.Warn("Unparseable ERP endpoint URL", zap.String("url", rawURL), zap.Error(err))
		return false
	}
	_, ok := l.hosts[strings.ToLower(u.Hostname())]
	if !ok {
		l.logger.Warn("ERP endpoint host is not licensed", zap.String("host", u.Hostname()))
	}
	return ok
}

// ValidateResponse rejects responses from a connector that refuses this installation
func (l *BcryptLicense) ValidateResponse(rawURL string, doc *erp.Document) bool {
	if doc != nil && strings.EqualFold(doc.Licensed, "false") {
		l.logger.Warn("ERP connector rejected the license", zap.String("url", rawURL))
		return false
	}
	return l.ValidateEndpoint(rawURL)
}

func (l *BcryptLicense) validKey() bool {
	l.once.Do(func() {
		if l.hash == "" {
			l.keyValid = true
			return
		}
		err := bcrypt.CompareHashAndPassword([]byte(l.hash), []byte(l.key))
		l.keyValid = err == nil
		if err != nil {
			l.logger.Error("License key does not match the configured hash", zap.Error(err))
		}
	})
	return l.keyValid
}
