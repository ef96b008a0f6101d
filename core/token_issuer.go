package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/samber/oops"
)

// SignedToken is a freshly minted access token. It is never persisted.
type SignedToken struct {
	Token     string
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenIssuer mints and verifies HS256 access tokens for principals.
type TokenIssuer struct {
	store    CredentialStore
	key      []byte
	issuer   string
	audience string
	duration time.Duration
	now      func() time.Time
}

// NewTokenIssuer derives the signing key from cfg.JWTKey.
func NewTokenIssuer(cfg Config, store CredentialStore) *TokenIssuer {
	return &TokenIssuer{
		store:    store,
		key:      []byte(cfg.JWTKey),
		issuer:   cfg.JWTIssuer,
		audience: cfg.JWTAudience,
		duration: time.Duration(cfg.JWTDurationMinutes) * time.Minute,
		now:      time.Now,
	}
}

// GenerateToken aggregates base, custom and role claims (in that order) and signs them.
func (t *TokenIssuer) GenerateToken(ctx context.Context, p *Principal) (SignedToken, error) {
	custom, err := t.store.Claims(ctx, p.ID)
	if err != nil {
		return SignedToken{}, oops.Code("TOKEN_CLAIMS_FAILED").With("principal_id", p.ID).Wrap(err)
	}
	roles, err := t.store.Roles(ctx, p.ID)
	if err != nil {
		return SignedToken{}, oops.Code("TOKEN_ROLES_FAILED").With("principal_id", p.ID).Wrap(err)
	}

	jti := uuid.NewString()
	claims := make([]Claim, 0, 4+len(custom)+len(roles))
	claims = append(claims,
		Claim{Type: ClaimSubject, Value: p.Username},
		Claim{Type: ClaimTokenID, Value: jti},
		Claim{Type: ClaimEmail, Value: p.Email},
		Claim{Type: ClaimUID, Value: p.ID},
	)
	for _, c := range custom {
		if reservedClaim(c.Type) {
			continue
		}
		claims = append(claims, c)
	}
	for _, role := range roles {
		claims = append(claims, Claim{Type: ClaimRole, Value: role})
	}

	// NumericDate has second precision; truncate so exp is exactly iat+duration.
	issuedAt := t.now().UTC().Truncate(time.Second)
	cs := &claimSet{
		claims:    claims,
		issuer:    t.issuer,
		audience:  t.audience,
		issuedAt:  issuedAt,
		expiresAt: issuedAt.Add(t.duration),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, cs).SignedString(t.key)
	if err != nil {
		return SignedToken{}, oops.Code("TOKEN_SIGN_FAILED").Wrap(err)
	}
	return SignedToken{Token: signed, ID: jti, IssuedAt: cs.issuedAt, ExpiresAt: cs.expiresAt}, nil
}

// ParseToken verifies signature, algorithm, issuer, audience and expiry.
func (t *TokenIssuer) ParseToken(token string) (*TokenClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(t.now),
	}
	if t.issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.issuer))
	}
	if t.audience != "" {
		opts = append(opts, jwt.WithAudience(t.audience))
	}

	mc := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, mc, func(*jwt.Token) (any, error) {
		return t.key, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, oops.Code("TOKEN_EXPIRED").Wrap(ErrTokenExpired)
		}
		return nil, oops.Code("TOKEN_INVALID").With("reason", err.Error()).Wrap(ErrTokenInvalid)
	}
	return claimsFromMap(mc), nil
}

// reserved registered names are written by the issuer itself and cannot be
// supplied as custom claims.
func reservedClaim(typ string) bool {
	switch typ {
	case "iss", "aud", "exp", "iat", "nbf":
		return true
	}
	return false
}

// claimSet is the payload written by GenerateToken. It keeps insertion order;
// a repeated claim type becomes an array at the position of its first use.
type claimSet struct {
	claims    []Claim
	issuer    string
	audience  string
	issuedAt  time.Time
	expiresAt time.Time
}

var _ jwt.Claims = (*claimSet)(nil)

func (c *claimSet) GetExpirationTime() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(c.expiresAt), nil
}

func (c *claimSet) GetIssuedAt() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(c.issuedAt), nil
}

func (c *claimSet) GetNotBefore() (*jwt.NumericDate, error) { return nil, nil }

func (c *claimSet) GetIssuer() (string, error) { return c.issuer, nil }

func (c *claimSet) GetSubject() (string, error) {
	for _, cl := range c.claims {
		if cl.Type == ClaimSubject {
			return cl.Value, nil
		}
	}
	return "", nil
}

func (c *claimSet) GetAudience() (jwt.ClaimStrings, error) {
	if c.audience == "" {
		return nil, nil
	}
	return jwt.ClaimStrings{c.audience}, nil
}

func (c *claimSet) MarshalJSON() ([]byte, error) {
	order := make([]string, 0, len(c.claims))
	values := make(map[string][]string, len(c.claims))
	for _, cl := range c.claims {
		if _, seen := values[cl.Type]; !seen {
			order = append(order, cl.Type)
		}
		values[cl.Type] = append(values[cl.Type], cl.Value)
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	field := func(key string, v any) error {
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return err
		}
		val, err := json.Marshal(v)
		if err != nil {
			return err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(val)
		return nil
	}

	for _, key := range order {
		var v any = values[key]
		if vs := values[key]; len(vs) == 1 {
			v = vs[0]
		}
		if err := field(key, v); err != nil {
			return nil, err
		}
	}
	if c.issuer != "" {
		if err := field("iss", c.issuer); err != nil {
			return nil, err
		}
	}
	if c.audience != "" {
		if err := field("aud", c.audience); err != nil {
			return nil, err
		}
	}
	if err := field("exp", c.expiresAt.Unix()); err != nil {
		return nil, err
	}
	if err := field("iat", c.issuedAt.Unix()); err != nil {
		return nil, err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// TokenClaims is the verified content of an access token.
type TokenClaims struct {
	Subject   string
	TokenID   string
	Email     string
	UID       string
	Roles     []string
	Custom    map[string][]string
	Issuer    string
	Audience  []string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// HasRole reports whether role is among the token's role claims.
func (c *TokenClaims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func claimsFromMap(mc jwt.MapClaims) *TokenClaims {
	out := &TokenClaims{Custom: map[string][]string{}}
	for key, raw := range mc {
		vals := claimValues(raw)
		switch key {
		case ClaimSubject:
			out.Subject = first(vals)
		case ClaimTokenID:
			out.TokenID = first(vals)
		case ClaimEmail:
			out.Email = first(vals)
		case ClaimUID:
			out.UID = first(vals)
		case ClaimRole:
			out.Roles = vals
		case "iss":
			out.Issuer = first(vals)
		case "aud":
			out.Audience = vals
		case "exp", "iat", "nbf":
		default:
			out.Custom[key] = vals
		}
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time.UTC()
	}
	if iat, err := mc.GetIssuedAt(); err == nil && iat != nil {
		out.IssuedAt = iat.Time.UTC()
	}
	return out
}

func claimValues(raw any) []string {
	switch v := raw.(type) {
	case string:
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, claimValues(item)...)
		}
		return out
	case float64:
		return []string{strconv.FormatFloat(v, 'f', -1, 64)}
	case bool:
		return []string{strconv.FormatBool(v)}
	case nil:
		return nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		return []string{string(b)}
	}
}

func first(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}
