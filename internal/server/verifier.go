package server

import (
	"fmt"

	"github.com/nhalm/admitkit"
	"github.com/nhalm/admitkit/internal/config"
)

// NewVerifier returns the admin session verifier selected by cfg.Verifier.
func NewVerifier(cfg config.AuthConfig) (admitkit.SessionVerifier, error) {
	switch cfg.Verifier {
	case config.VerifierStatic, "":
		return admitkit.StaticTokens(cfg.TokenTable()), nil
	case config.VerifierJWT:
		if len(cfg.JWTSecret) < config.MinJWTSecretBytes {
			return nil, fmt.Errorf("jwt verifier needs a secret of at least %d bytes", config.MinJWTSecretBytes)
		}
		return admitkit.JWTVerifier([]byte(cfg.JWTSecret),
			admitkit.JWTWithIssuer(cfg.JWTIssuer),
			admitkit.JWTWithAudience(cfg.JWTAudience),
			admitkit.JWTWithLeeway(cfg.JWTLeeway),
		), nil
	default:
		return nil, fmt.Errorf("unknown session verifier %q", cfg.Verifier)
	}
}
