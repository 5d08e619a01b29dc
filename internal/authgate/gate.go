package authgate

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/linnemanlabs-cv/internal/cryptoutil"
	"github.com/keithlinneman/linnemanlabs-cv/internal/xerrors"
)

const (
	DefaultTTL = time.Hour
	TokenType  = "bearer"
)

// placeholder salt for configured hashes that do not parse, so the KDF
// still runs on every attempt
const unusableSalt = "00000000000000000000000000000000"

type Options struct {
	// Configured principal
	Username string

	// "salt:hexhash" as produced by HashPassword
	PasswordHash string

	// HMAC signing key
	Secret string

	// Token lifetime (default one hour)
	TTL time.Duration

	// Clock used for issuing and verifying tokens (default time.Now)
	Now func() time.Time

	// Optional iss claim; when set, tokens must carry it
	Issuer string
}

// Token is the result of a successful login.
type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresIn   int       `json:"expires_in"`
	ExpiresAt   time.Time `json:"-"`
}

// Claims carried by issued tokens.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Gate holds immutable credentials and is safe for concurrent use.
type Gate struct {
	username string
	salt     string
	sum      string
	hashOK   bool
	secret   []byte
	ttl      time.Duration
	now      func() time.Time
	issuer   string
	parser   *jwt.Parser
	tracer   trace.Tracer
}

func New(opts Options) (*Gate, error) {
	if opts.Username == "" {
		return nil, xerrors.New("authgate: Username is required")
	}
	if opts.Secret == "" {
		return nil, xerrors.New("authgate: Secret is required")
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	g := &Gate{
		username: opts.Username,
		secret:   []byte(opts.Secret),
		ttl:      opts.TTL,
		now:      opts.Now,
		issuer:   opts.Issuer,
		tracer:   otel.Tracer("linnemanlabs/authgate"),
	}
	g.salt, g.sum, g.hashOK = splitHash(opts.PasswordHash)
	if !g.hashOK {
		g.salt = unusableSalt
	}

	popts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(g.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if g.issuer != "" {
		popts = append(popts, jwt.WithIssuer(g.issuer))
	}
	g.parser = jwt.NewParser(popts...)
	return g, nil
}

// HashConfigured reports whether the configured password hash is usable.
// When false every login fails.
func (g *Gate) HashConfigured() bool { return g.hashOK }

// TTL returns the lifetime of issued tokens.
func (g *Gate) TTL() time.Duration { return g.ttl }

// Authenticate checks the credentials and issues a token. Every failure is
// ErrInvalidCredentials regardless of which check failed.
func (g *Gate) Authenticate(ctx context.Context, username, plain string) (Token, error) {
	_, span := g.tracer.Start(ctx, "authgate.authenticate")
	defer span.End()

	// both checks always run
	userOK := cryptoutil.HashEqual(cryptoutil.SHA256Hex([]byte(username)), cryptoutil.SHA256Hex([]byte(g.username)))
	passOK := cryptoutil.HashEqual(derive(plain, g.salt), g.sum)
	if !userOK || !passOK || !g.hashOK {
		return Token{}, xerrors.WithStack(ErrInvalidCredentials)
	}

	now := g.now()
	tok, err := g.sign(username, now)
	if err != nil {
		return Token{}, err
	}
	return Token{
		AccessToken: tok,
		TokenType:   TokenType,
		ExpiresIn:   int(g.ttl / time.Second),
		ExpiresAt:   now.Add(g.ttl),
	}, nil
}

// IssueToken signs a token for username valid for the configured TTL.
func (g *Gate) IssueToken(username string) (string, error) {
	return g.sign(username, g.now())
}

func (g *Gate) sign(username string, now time.Time) (string, error) {
	claims := Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			Issuer:    g.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(g.ttl)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
	if err != nil {
		return "", xerrors.Wrap(err, "sign token")
	}
	return s, nil
}

// VerifyToken checks signature, expiry and principal and returns the
// username. Failures are ErrTokenExpired or ErrTokenInvalid.
func (g *Gate) VerifyToken(token string) (string, error) {
	if token == "" {
		return "", xerrors.Mark(xerrors.New("empty token"), ErrTokenInvalid)
	}

	claims := &Claims{}
	_, err := g.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return g.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", xerrors.Mark(err, ErrTokenExpired)
		}
		return "", xerrors.Mark(err, ErrTokenInvalid)
	}

	if claims.Username == "" {
		return "", xerrors.Mark(xerrors.New("token carries no username"), ErrTokenInvalid)
	}
	return claims.Username, nil
}

// IsPrincipal reports whether username is the configured admin. VerifyToken
// only proves a token was signed here; callers authorizing writes check
// the principal with this.
func (g *Gate) IsPrincipal(username string) bool {
	return cryptoutil.HashEqual(cryptoutil.SHA256Hex([]byte(username)), cryptoutil.SHA256Hex([]byte(g.username)))
}
