package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const (
	defaultKakaoAuthURL     = "https://kauth.kakao.com/oauth/authorize"
	defaultKakaoTokenURL    = "https://kauth.kakao.com/oauth/token"
	defaultKakaoUserInfoURL = "https://kapi.kakao.com/v2/user/me"

	// maxProviderResponseSize はプロバイダー応答の最大読み取りサイズ。
	maxProviderResponseSize = 1 << 20
)

// KakaoOAuthConfig はKakao OAuthプロバイダーの設定。
type KakaoOAuthConfig struct {
	ClientID     string
	ClientSecret string // 任意。Kakaoアプリでクライアントシークレットを有効にした場合のみ
	RedirectURL  string

	// テスト用にオーバーライド可能なURL
	AuthURL     string
	TokenURL    string
	UserInfoURL string

	// HTTPClient はプロバイダーとの通信に使用する。nilの場合はhttp.DefaultClient。
	HTTPClient *http.Client
}

// KakaoOAuthProvider はKakao OAuth 2.0による認証を提供する。
type KakaoOAuthProvider struct {
	config KakaoOAuthConfig
}

// NewKakaoOAuthProvider はKakaoOAuthProviderを生成する。
func NewKakaoOAuthProvider(config KakaoOAuthConfig) *KakaoOAuthProvider {
	if config.AuthURL == "" {
		config.AuthURL = defaultKakaoAuthURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultKakaoTokenURL
	}
	if config.UserInfoURL == "" {
		config.UserInfoURL = defaultKakaoUserInfoURL
	}
	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}
	return &KakaoOAuthProvider{config: config}
}

// GetLoginURL はKakaoの認可画面のURLを生成する。
func (p *KakaoOAuthProvider) GetLoginURL(state string) string {
	params := url.Values{
		"client_id":     {p.config.ClientID},
		"redirect_uri":  {p.config.RedirectURL},
		"response_type": {"code"},
		"state":         {state},
	}
	return p.config.AuthURL + "?" + params.Encode()
}

// kakaoTokenResponse はKakaoのトークンエンドポイントのレスポンス。
type kakaoTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// kakaoUserInfo はKakaoのユーザー情報エンドポイントのレスポンス。
// idは数値で返るため、桁落ちしないようjson.Numberで受ける。
type kakaoUserInfo struct {
	ID           json.Number `json:"id"`
	KakaoAccount *struct {
		Email string `json:"email"`
	} `json:"kakao_account"`
}

// ExchangeCode は認可コードをアクセストークンに交換し、ユーザー情報を取得する。
func (p *KakaoOAuthProvider) ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error) {
	tokenResp, err := p.exchangeToken(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}

	userInfo, err := p.fetchUserInfo(ctx, tokenResp.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user info: %w", err)
	}

	info := &OAuthUserInfo{
		ProviderUserID: userInfo.ID.String(),
		Provider:       "kakao",
	}
	if userInfo.KakaoAccount != nil {
		info.Email = userInfo.KakaoAccount.Email
	}
	return info, nil
}

// exchangeToken は認可コードをアクセストークンに交換する。
func (p *KakaoOAuthProvider) exchangeToken(ctx context.Context, code string) (*kakaoTokenResponse, error) {
	data := url.Values{
		"grant_type":   {"authorization_code"},
		"client_id":    {p.config.ClientID},
		"redirect_uri": {p.config.RedirectURL},
		"code":         {code},
	}
	if p.config.ClientSecret != "" {
		data.Set("client_secret", p.config.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded;charset=utf-8")

	body, err := p.do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}

	var tokenResp kakaoTokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}

	if tokenResp.AccessToken == "" {
		return nil, fmt.Errorf("empty access token in response")
	}

	return &tokenResp, nil
}

// fetchUserInfo はアクセストークンでKakaoのユーザー情報を取得する。
func (p *KakaoOAuthProvider) fetchUserInfo(ctx context.Context, accessToken string) (*kakaoUserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.UserInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create user info request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	body, err := p.do(req)
	if err != nil {
		return nil, fmt.Errorf("user info request failed: %w", err)
	}

	var userInfo kakaoUserInfo
	if err := json.Unmarshal(body, &userInfo); err != nil {
		return nil, fmt.Errorf("failed to parse user info response: %w", err)
	}

	if userInfo.ID == "" {
		return nil, fmt.Errorf("empty id in user info response")
	}

	return &userInfo, nil
}

// do はリクエストを送信し、200以外の応答をエラーとして返す。
func (p *KakaoOAuthProvider) do(req *http.Request) ([]byte, error) {
	resp, err := p.config.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProviderResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// compile-time interface check
var _ OAuthProvider = (*KakaoOAuthProvider)(nil)
