// Package secrets reads admin credentials and the token signing secret from
// SSM Parameter Store.
package secrets

import (
	"context"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/keithlinneman/linnemanlabs-cv/internal/log"
	"github.com/keithlinneman/linnemanlabs-cv/internal/xerrors"
)

// Parameter names under the configured prefix.
const (
	ParamAdminUsername     = "admin-username"
	ParamAdminPasswordHash = "admin-password-hash"
	ParamTokenSecret       = "token-secret"
)

// GetParameterAPI is the subset of *ssm.Client the loader needs.
type GetParameterAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Credentials holds whatever values were found. Missing parameters leave
// their field empty.
type Credentials struct {
	AdminUsername     string
	AdminPasswordHash string
	TokenSecret       string
}

type Loader struct {
	client GetParameterAPI
	prefix string
	logger log.Logger
}

func NewLoader(client GetParameterAPI, prefix string, L log.Logger) (*Loader, error) {
	if client == nil {
		return nil, xerrors.New("secrets: SSM client is required")
	}
	prefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return nil, xerrors.New("secrets: parameter prefix is required")
	}
	if L == nil {
		L = log.Nop()
	}
	return &Loader{client: client, prefix: prefix, logger: L}, nil
}

func (l *Loader) name(param string) string { return l.prefix + "/" + param }

// Load fetches all three parameters. A parameter that does not exist is
// skipped; any other SSM failure aborts the load.
func (l *Loader) Load(ctx context.Context) (Credentials, error) {
	var c Credentials
	for _, p := range []struct {
		param string
		dst   *string
	}{
		{ParamAdminUsername, &c.AdminUsername},
		{ParamAdminPasswordHash, &c.AdminPasswordHash},
		{ParamTokenSecret, &c.TokenSecret},
	} {
		v, err := l.get(ctx, l.name(p.param))
		if err != nil {
			return Credentials{}, err
		}
		*p.dst = v
	}
	l.logger.Info(ctx, "loaded secrets from ssm",
		"prefix", l.prefix,
		"admin_username", c.AdminUsername != "",
		"admin_password_hash", c.AdminPasswordHash != "",
		"token_secret", c.TokenSecret != "",
	)
	return c, nil
}

func (l *Loader) get(ctx context.Context, name string) (string, error) {
	out, err := l.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		var nf *types.ParameterNotFound
		if errors.As(err, &nf) {
			l.logger.Debug(ctx, "ssm parameter not set", "name", name)
			return "", nil
		}
		return "", xerrors.Wrapf(err, "get SSM parameter %s", name)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", nil
	}
	return strings.TrimSpace(*out.Parameter.Value), nil
}

// Apply copies non-empty values over dst fields. Values already set on the
// command line or in the environment win.
func (c Credentials) Apply(username, passwordHash, tokenSecret *string) {
	fill := func(dst *string, v string) {
		if *dst == "" && v != "" {
			*dst = v
		}
	}
	fill(username, c.AdminUsername)
	fill(passwordHash, c.AdminPasswordHash)
	fill(tokenSecret, c.TokenSecret)
}
