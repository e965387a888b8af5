package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/campus-portal-api/internal/models"
	"github.com/noah-isme/campus-portal-api/pkg/config"
	"github.com/noah-isme/campus-portal-api/pkg/whatsapp"
)

type whatsappGateway interface {
	SendText(ctx context.Context, phone, text string) (string, error)
	SendDocumentBytes(ctx context.Context, phone string, data []byte, filename, caption string) (string, error)
	SendDocumentURL(ctx context.Context, phone, link, filename, caption string) (string, error)
	SendImageURL(ctx context.Context, phone, link, caption string) (string, error)
	IsRegistered(ctx context.Context, phone string) (bool, error)
}

var (
	errWhatsAppDisabled = errors.New("whatsapp dispatch is disabled")
	errNoPhone          = errors.New("no phone number on record")
	errNotRegistered    = errors.New("number is not registered on whatsapp")
	errUnreachableURL   = errors.New("remote file is not reachable")
)

// DocumentSource is either inline bytes or a URL the gateway fetches itself.
type DocumentSource struct {
	Bytes []byte
	URL   string
}

// SendResult is the outcome of one gateway primitive.
type SendResult struct {
	Success   bool
	MessageID string
	Err       error
}

// Delivery describes one pipeline run. Document and ImageURL are optional;
// Text is always sent.
type Delivery struct {
	Kind     string
	Phone    string
	Document DocumentSource
	Filename string
	Caption  string
	ImageURL string
	Text     string
}

// WhatsAppService sends documents, images and texts through the messaging gateway.
type WhatsAppService struct {
	gateway    whatsappGateway
	cfg        config.WhatsAppConfig
	production bool
	probe      *http.Client
	metrics    *MetricsService
	logger     *zap.Logger
	sleep      func(ctx context.Context, d time.Duration) error
	lookup     func(ctx context.Context, host string) ([]net.IP, error)
}

// NewWhatsAppService constructs the dispatcher. production enables the
// private-address guard on remote URLs.
func NewWhatsAppService(gateway whatsappGateway, cfg config.WhatsAppConfig, production bool, metrics *MetricsService, logger *zap.Logger) *WhatsAppService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 800 * time.Millisecond
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 4 * time.Second
	}
	if cfg.TextDelay < 0 {
		cfg.TextDelay = 0
	}
	if cfg.DefaultCountryCode == "" {
		cfg.DefaultCountryCode = "91"
	}
	probe := &http.Client{
		Timeout: cfg.ProbeTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 3 {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
	if production {
		// Every dialed address is checked, redirects included.
		dialer := &net.Dialer{Timeout: cfg.ProbeTimeout, Control: guardDial}
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.Proxy = nil
		transport.DialContext = dialer.DialContext
		probe.Transport = transport
	}
	return &WhatsAppService{
		gateway:    gateway,
		cfg:        cfg,
		production: production,
		probe:      probe,
		metrics:    metrics,
		logger:     logger,
		sleep:      sleepContext,
		lookup: func(ctx context.Context, host string) ([]net.IP, error) {
			return net.DefaultResolver.LookupIP(ctx, "ip", host)
		},
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Enabled reports whether the gateway is configured.
func (s *WhatsAppService) Enabled() bool {
	return s != nil && s.cfg.Enabled && s.gateway != nil
}

// PipelineTimeout bounds one Deliver run when the caller detaches it.
func (s *WhatsAppService) PipelineTimeout() time.Duration {
	if s.cfg.PipelineTimeout <= 0 {
		return 60 * time.Second
	}
	return s.cfg.PipelineTimeout
}

// NormalizePhone keeps digits only and prefixes 10-digit local numbers with
// the country code.
func NormalizePhone(raw, countryCode string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := strings.TrimLeft(b.String(), "0")
	if len(digits) == 10 {
		return countryCode + digits
	}
	return digits
}

// DispatchDocument sends a document. Inline bytes are tried once; a URL
// source is probed and retried with linear backoff.
func (s *WhatsAppService) DispatchDocument(ctx context.Context, phone string, src DocumentSource, filename, caption string) SendResult {
	phone = NormalizePhone(phone, s.cfg.DefaultCountryCode)
	if len(src.Bytes) > 0 {
		res := s.record(models.ChannelPDF, func() (string, error) {
			return s.gateway.SendDocumentBytes(ctx, phone, src.Bytes, filename, caption)
		})
		if res.Success || src.URL == "" {
			return res
		}
		s.logger.Warn("inline document failed, trying remote url", zap.Error(res.Err))
	}
	if src.URL == "" {
		return SendResult{Err: errors.New("no document available")}
	}
	if err := s.checkRemote(ctx, src.URL); err != nil {
		s.metrics.RecordDispatch("whatsapp_"+models.ChannelPDF, OutcomeSkipped)
		return SendResult{Err: err}
	}
	return s.withRetry(ctx, models.ChannelPDF, func() (string, error) {
		return s.gateway.SendDocumentURL(ctx, phone, src.URL, filename, caption)
	})
}

// DispatchImage sends an image by URL after the same probe and retry discipline.
func (s *WhatsAppService) DispatchImage(ctx context.Context, phone, link, caption string) SendResult {
	phone = NormalizePhone(phone, s.cfg.DefaultCountryCode)
	if err := s.checkRemote(ctx, link); err != nil {
		s.metrics.RecordDispatch("whatsapp_"+models.ChannelImage, OutcomeSkipped)
		return SendResult{Err: err}
	}
	return s.withRetry(ctx, models.ChannelImage, func() (string, error) {
		return s.gateway.SendImageURL(ctx, phone, link, caption)
	})
}

// DispatchText sends a plain text message.
func (s *WhatsAppService) DispatchText(ctx context.Context, phone, text string) SendResult {
	phone = NormalizePhone(phone, s.cfg.DefaultCountryCode)
	return s.record(models.ChannelText, func() (string, error) {
		return s.gateway.SendText(ctx, phone, text)
	})
}

// Deliver runs the full pipeline: optional number check, document, image
// fallback, then the text message. It never returns an error; failures are
// listed in the result.
func (s *WhatsAppService) Deliver(ctx context.Context, d Delivery) *models.DispatchResult {
	start := time.Now()
	result := &models.DispatchResult{}
	defer func() {
		s.metrics.ObservePipeline(d.Kind, time.Since(start))
		s.logger.Info("whatsapp pipeline finished",
			zap.String("kind", d.Kind),
			zap.Strings("channels", result.Channels()),
			zap.Strings("errors", result.Errors))
	}()

	if !s.Enabled() {
		result.AddError("whatsapp", errWhatsAppDisabled)
		return result
	}
	result.Phone = NormalizePhone(d.Phone, s.cfg.DefaultCountryCode)
	if result.Phone == "" {
		result.AddError("whatsapp", errNoPhone)
		return result
	}

	if s.cfg.CheckNumber {
		registered, err := s.gateway.IsRegistered(ctx, result.Phone)
		switch {
		case err != nil:
			s.logger.Warn("whatsapp number check failed, sending anyway", zap.Error(err))
		case !registered:
			result.AddError("whatsapp", errNotRegistered)
			return result
		}
	}

	mediaTried := false
	if len(d.Document.Bytes) > 0 || d.Document.URL != "" {
		mediaTried = true
		res := s.DispatchDocument(ctx, result.Phone, d.Document, d.Filename, d.Caption)
		if res.Success {
			result.SentPDF = true
			result.MessageIDs = appendID(result.MessageIDs, res.MessageID)
		} else {
			result.AddError(models.ChannelPDF, res.Err)
		}
	}

	if !result.SentPDF && d.ImageURL != "" {
		mediaTried = true
		res := s.DispatchImage(ctx, result.Phone, d.ImageURL, d.Caption)
		if res.Success {
			result.SentImage = true
			result.MessageIDs = appendID(result.MessageIDs, res.MessageID)
		} else {
			result.AddError(models.ChannelImage, res.Err)
		}
	}

	if d.Text == "" {
		return result
	}
	if mediaTried {
		if err := s.sleep(ctx, s.cfg.TextDelay); err != nil {
			result.AddError(models.ChannelText, err)
			return result
		}
	}
	res := s.DispatchText(ctx, result.Phone, d.Text)
	if res.Success {
		result.SentText = true
		result.MessageIDs = appendID(result.MessageIDs, res.MessageID)
	} else {
		result.AddError(models.ChannelText, res.Err)
	}
	return result
}

func appendID(ids []string, id string) []string {
	if id == "" {
		return ids
	}
	return append(ids, id)
}

func (s *WhatsAppService) record(channel string, send func() (string, error)) SendResult {
	id, err := send()
	if err != nil {
		s.metrics.RecordDispatch("whatsapp_"+channel, OutcomeFailed)
		return SendResult{Err: err}
	}
	s.metrics.RecordDispatch("whatsapp_"+channel, OutcomeSuccess)
	return SendResult{Success: true, MessageID: id}
}

func (s *WhatsAppService) withRetry(ctx context.Context, channel string, send func() (string, error)) SendResult {
	var last SendResult
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		last = s.record(channel, send)
		if last.Success {
			return last
		}
		var gwErr *whatsapp.GatewayError
		if errors.As(last.Err, &gwErr) && !gwErr.Temporary() {
			last.Err = fmt.Errorf("rejected on attempt %d: %w", attempt, last.Err)
			return last
		}
		if attempt == s.cfg.MaxAttempts {
			break
		}
		s.logger.Debug("whatsapp send failed, retrying",
			zap.String("channel", channel),
			zap.Int("attempt", attempt),
			zap.Error(last.Err))
		if err := s.sleep(ctx, time.Duration(attempt)*s.cfg.RetryBackoff); err != nil {
			return SendResult{Err: fmt.Errorf("%v (gave up: %w)", last.Err, err)}
		}
	}
	last.Err = fmt.Errorf("after %d attempts: %w", s.cfg.MaxAttempts, last.Err)
	return last
}

// checkRemote rejects URLs the gateway cannot fetch. The probe is a hint:
// a URL that passes may still fail moments later.
func (s *WhatsAppService) checkRemote(ctx context.Context, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: invalid url %q", errUnreachableURL, raw)
	}
	if s.production {
		if err := s.publicHost(ctx, u.Hostname()); err != nil {
			return err
		}
	}
	if s.reachable(ctx, raw) {
		return nil
	}
	return fmt.Errorf("%w: %s", errUnreachableURL, raw)
}

// publicHost rejects hosts that are, or resolve to, internal addresses.
func (s *WhatsAppService) publicHost(ctx context.Context, host string) error {
	if privateHost(host) {
		return fmt.Errorf("%w: %s is not publicly routable", errUnreachableURL, host)
	}
	if net.ParseIP(host) != nil {
		return nil
	}
	ips, err := s.lookup(ctx, host)
	if err != nil {
		return fmt.Errorf("%w: resolve %s: %v", errUnreachableURL, host, err)
	}
	for _, ip := range ips {
		if privateIP(ip) {
			return fmt.Errorf("%w: %s resolves to %s which is not publicly routable", errUnreachableURL, host, ip)
		}
	}
	return nil
}

func guardDial(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	if ip := net.ParseIP(host); ip == nil || privateIP(ip) {
		return fmt.Errorf("%w: %s is not publicly routable", errUnreachableURL, host)
	}
	return nil
}

func privateIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified()
}

func privateHost(host string) bool {
	host = strings.ToLower(host)
	if host == "localhost" || strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".local") {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return privateIP(ip)
}

func (s *WhatsAppService) reachable(ctx context.Context, raw string) bool {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	defer cancel()

	if status, err := s.probeOnce(ctx, http.MethodHead, raw, false); err == nil && status < 400 {
		return true
	}
	status, err := s.probeOnce(ctx, http.MethodGet, raw, true)
	return err == nil && (status == http.StatusOK || status == http.StatusPartialContent)
}

func (s *WhatsAppService) probeOnce(ctx context.Context, method, raw string, ranged bool) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, raw, nil)
	if err != nil {
		return 0, err
	}
	if ranged {
		req.Header.Set("Range", "bytes=0-0")
	}
	resp, err := s.probe.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close() //nolint:errcheck
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
	return resp.StatusCode, nil
}
