package auth

import (
	"context"
	"errors"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/gmb-sync/internal/config"
	apperrors "github.com/gmb-sync/internal/errors"
	"github.com/gmb-sync/internal/logging"
	"github.com/gmb-sync/internal/models"
)

// DefaultTokenURL is Google's OAuth 2.0 token endpoint
const DefaultTokenURL = "https://oauth2.googleapis.com/token"

// BusinessManageScope is the scope every Business Profile API call needs
const BusinessManageScope = "https://www.googleapis.com/auth/business.manage"

// refreshSkew refreshes tokens this long before they expire
const refreshSkew = 60 * time.Second

// TokenProvider returns a bearer token that is valid right now
type TokenProvider interface {
	GetValidAccessToken(ctx context.Context, accountID string) (string, error)
}

// CredentialStore persists encrypted account credentials
type CredentialStore interface {
	GetCredentials(ctx context.Context, accountID string) (*models.AccountCredentials, error)
	SaveCredentials(ctx context.Context, c *models.AccountCredentials) error
}

// OAuthTokenProvider reads stored credentials and refreshes them through oauth2 when close to expiry
type OAuthTokenProvider struct {
	store  CredentialStore
	cipher *Cipher
	oauth  *oauth2.Config
	group  singleflight.Group
	now    func() time.Time
}

// NewOAuthTokenProvider creates a token provider from the Google client settings
func NewOAuthTokenProvider(store CredentialStore, cipher *Cipher, cfg config.GoogleConfig) *OAuthTokenProvider {
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	return &OAuthTokenProvider{
		store:  store,
		cipher: cipher,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: tokenURL, AuthStyle: oauth2.AuthStyleInParams},
			Scopes:       []string{BusinessManageScope},
		},
		now: time.Now,
	}
}

// GetValidAccessToken returns the stored access token, refreshing it first when it expires within a minute.
// Concurrent callers for the same account share one refresh.
func (p *OAuthTokenProvider) GetValidAccessToken(ctx context.Context, accountID string) (string, error) {
	v, err, _ := p.group.Do(accountID, func() (interface{}, error) {
		return p.validToken(ctx, accountID)
	})
	if err != nil {
		return "", apperrors.NewTokenError(accountID, err)
	}
	return v.(string), nil
}

func (p *OAuthTokenProvider) validToken(ctx context.Context, accountID string) (string, error) {
	creds, err := p.store.GetCredentials(ctx, accountID)
	if err != nil {
		return "", err
	}

	access, err := p.cipher.Decrypt(creds.EncryptedAccessToken)
	if err != nil {
		return "", err
	}
	if access != "" && p.now().Add(refreshSkew).Before(creds.TokenExpiry) {
		return access, nil
	}

	refresh, err := p.cipher.Decrypt(creds.EncryptedRefreshToken)
	if err != nil {
		return "", err
	}
	if refresh == "" {
		return "", errors.New("access token expired and no refresh token is stored")
	}

	logging.FromContext(ctx).WithField("accountId", accountID).Info("[TokenProvider] Refreshing access token")

	// An expired token forces the source to hit the token endpoint.
	tok, err := p.oauth.TokenSource(ctx, &oauth2.Token{
		RefreshToken: refresh,
		Expiry:       p.now().Add(-time.Minute),
	}).Token()
	if err != nil {
		return "", err
	}

	if err := p.persist(ctx, accountID, tok, refresh); err != nil {
		// The fresh token is still usable for this run.
		logging.FromContext(ctx).WithField("accountId", accountID).WithError(err).Warn("[TokenProvider] Failed to persist refreshed token")
	}
	return tok.AccessToken, nil
}

func (p *OAuthTokenProvider) persist(ctx context.Context, accountID string, tok *oauth2.Token, previousRefresh string) error {
	refresh := tok.RefreshToken
	if refresh == "" {
		refresh = previousRefresh
	}

	encAccess, err := p.cipher.Encrypt(tok.AccessToken)
	if err != nil {
		return err
	}
	encRefresh, err := p.cipher.Encrypt(refresh)
	if err != nil {
		return err
	}

	return p.store.SaveCredentials(ctx, &models.AccountCredentials{
		AccountID:             accountID,
		EncryptedAccessToken:  encAccess,
		EncryptedRefreshToken: encRefresh,
		TokenExpiry:           tok.Expiry,
	})
}

// StoreToken encrypts and saves a token obtained from the consent flow
func (p *OAuthTokenProvider) StoreToken(ctx context.Context, accountID string, tok *oauth2.Token) error {
	return p.persist(ctx, accountID, tok, "")
}
