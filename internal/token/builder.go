// Package token mints and verifies channel-scoped access tokens.
// HS256 over the app certificate; the certificate itself never leaves the
// builder.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dkeye/Hotline/internal/domain"
)

var (
	ErrTokenInvalid  = errors.New("token invalid")
	ErrScopeMismatch = errors.New("token scoped to a different channel or uid")
)

type Builder struct {
	appID          string
	appCertificate string
	ttl            time.Duration

	// now is swappable for tests.
	now func() time.Time
}

func NewBuilder(appID, appCertificate string, ttl time.Duration) *Builder {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Builder{
		appID:          appID,
		appCertificate: appCertificate,
		ttl:            ttl,
		now:            time.Now,
	}
}

type rtcClaims struct {
	Channel string `json:"cname"`
	UID     uint32 `json:"uid"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

// Issue mints a token bound to exactly the given channel/uid pair. Missing
// app identity or certificate is a deployment problem and is reported as
// ConfigError regardless of how valid the request was.
func (b *Builder) Issue(channel domain.ChannelName, uid domain.UID, role domain.Role) (domain.AccessToken, error) {
	if b.appID == "" {
		return domain.AccessToken{}, &domain.ConfigError{Missing: "app id"}
	}
	if b.appCertificate == "" {
		return domain.AccessToken{}, &domain.ConfigError{Missing: "app certificate"}
	}
	if channel == "" {
		return domain.AccessToken{}, domain.ErrChannelEmpty
	}

	issued := b.now()
	expires := issued.Add(b.ttl)

	claims := rtcClaims{
		Channel: string(channel),
		UID:     uint32(uid),
		Role:    string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    b.appID,
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(b.appCertificate))
	if err != nil {
		return domain.AccessToken{}, fmt.Errorf("sign token: %w", err)
	}

	return domain.AccessToken{
		Value:     signed,
		IssuedAt:  issued,
		ExpiresAt: expires,
		Scope: domain.TokenScope{
			Channel: channel,
			UID:     uid,
			Role:    role,
		},
	}, nil
}

// Verify checks the signature and expiry and returns the embedded scope.
func (b *Builder) Verify(value string) (domain.TokenScope, error) {
	var claims rtcClaims
	parsed, err := jwt.ParseWithClaims(value, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(b.appCertificate), nil
	}, jwt.WithTimeFunc(b.now), jwt.WithIssuer(b.appID))
	if err != nil || !parsed.Valid {
		return domain.TokenScope{}, ErrTokenInvalid
	}
	return domain.TokenScope{
		Channel: domain.ChannelName(claims.Channel),
		UID:     domain.UID(claims.UID),
		Role:    domain.Role(claims.Role),
	}, nil
}

// VerifyFor additionally pins the scope to the joining channel/uid pair.
func (b *Builder) VerifyFor(value string, channel domain.ChannelName, uid domain.UID) (domain.TokenScope, error) {
	scope, err := b.Verify(value)
	if err != nil {
		return domain.TokenScope{}, err
	}
	if scope.Channel != channel || scope.UID != uid {
		return domain.TokenScope{}, ErrScopeMismatch
	}
	return scope, nil
}
