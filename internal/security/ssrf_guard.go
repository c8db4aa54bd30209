package security

import (
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// SSRFGuardService は外部エンドポイントへの通信を安全に行うためのインターフェース。
// OAuthのトークン・プロフィール取得先は環境変数で差し替えられるため、
// 起動時の検証と実行時のDialer検証の両方で内部ネットワークへの到達を防ぐ。
type SSRFGuardService interface {
	// NewSafeClient は接続先IPをDialerで検証するHTTPクライアントを生成する。
	NewSafeClient(timeout time.Duration) *http.Client

	// ValidateURL はDNS解決を伴わない静的な検証を行う。
	ValidateURL(rawURL string) error
}

// ValidateURLが返すエラー。errors.Isで判別できる。
var (
	ErrInvalidURL         = errors.New("invalid URL")
	ErrDisallowedScheme   = errors.New("disallowed scheme")
	ErrDisallowedPort     = errors.New("disallowed port")
	ErrBlockedDestination = errors.New("blocked destination")
)

// maxRedirects はSafeClientが追従するリダイレクトの上限。
const maxRedirects = 3

var allowedSchemes = []string{"http", "https"}

// blockedPrefixes は到達を禁止するネットワーク範囲。
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),      // カレントネットワーク
	netip.MustParsePrefix("10.0.0.0/8"),     // RFC 1918
	netip.MustParsePrefix("100.64.0.0/10"),  // CGNAT
	netip.MustParsePrefix("127.0.0.0/8"),    // ループバック
	netip.MustParsePrefix("169.254.0.0/16"), // リンクローカル（クラウドメタデータIPを含む）
	netip.MustParsePrefix("172.16.0.0/12"),  // RFC 1918
	netip.MustParsePrefix("192.168.0.0/16"), // RFC 1918
	netip.MustParsePrefix("::1/128"),        // IPv6ループバック
	netip.MustParsePrefix("fc00::/7"),       // IPv6ユニークローカル
	netip.MustParsePrefix("fe80::/10"),      // IPv6リンクローカル
}

// blockedHostSuffixes はホスト名として拒否する名前とサフィックス。
var blockedHostSuffixes = []string{"localhost", ".localhost", ".internal", ".local"}

// ssrfGuard はSSRFGuardServiceの実装。
type ssrfGuard struct {
	allowedPorts []int
}

// NewSSRFGuard は80番と443番ポートのみを許可するガードを生成する。
func NewSSRFGuard() *ssrfGuard {
	return &ssrfGuard{allowedPorts: []int{80, 443}}
}

// NewSafeClient はSSRF防止機能付きのHTTPクライアントを生成する。
// safeurlはnet.DialerのControlフックでDNS解決後のIPアドレスを検証するため、
// DNS再バインディングやリダイレクト先の内部アドレスも拒否される。
func (g *ssrfGuard) NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(g.allowedPorts...).
		Build()

	client := safeurl.Client(config).Client
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		return nil
	}
	return client
}

// ValidateURL はURLの安全性を事前に検証する。
// 起動時にOAuthエンドポイント設定を確認するために使用する。
func (g *ssrfGuard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("%w: empty", ErrInvalidURL)
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !slices.Contains(allowedSchemes, scheme) {
		return fmt.Errorf("%w: %q", ErrDisallowedScheme, parsed.Scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("%w: empty host", ErrInvalidURL)
	}

	if err := g.checkPort(scheme, parsed.Port()); err != nil {
		return err
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if isBlockedAddr(addr) {
			return fmt.Errorf("%w: %s", ErrBlockedDestination, addr)
		}
		return nil
	}

	if isBlockedHostname(host) {
		return fmt.Errorf("%w: %s", ErrBlockedDestination, host)
	}
	return nil
}

// checkPort は明示ポートまたはスキームの既定ポートが許可されているかを検証する。
func (g *ssrfGuard) checkPort(scheme, rawPort string) error {
	port := 443
	if scheme == "http" {
		port = 80
	}
	if rawPort != "" {
		p, err := strconv.Atoi(rawPort)
		if err != nil {
			return fmt.Errorf("%w: port %q", ErrInvalidURL, rawPort)
		}
		port = p
	}
	if !slices.Contains(g.allowedPorts, port) {
		return fmt.Errorf("%w: %d", ErrDisallowedPort, port)
	}
	return nil
}

// isBlockedAddr はIPv4射影アドレスを展開したうえでブロック対象範囲に含まれるかを判定する。
func isBlockedAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	if addr.IsUnspecified() {
		return true
	}
	for _, prefix := range blockedPrefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func isBlockedHostname(host string) bool {
	lower := strings.TrimSuffix(strings.ToLower(host), ".")
	for _, blocked := range blockedHostSuffixes {
		if strings.HasPrefix(blocked, ".") {
			if strings.HasSuffix(lower, blocked) {
				return true
			}
		} else if lower == blocked {
			return true
		}
	}
	return false
}
