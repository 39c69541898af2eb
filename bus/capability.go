package bus

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"time"

	"aidanwoods.dev/go-paseto"
)

// Elevated capability names a Hello token can grant.
const CapabilityClearRetained = "clear-retained"

var (
	ErrCapabilityTokenInvalid = errors.New("bus: capability token invalid")
	ErrCapabilityDenied       = errors.New("bus: client lacks required capability")
)

// CapabilityClaims is the payload signed into a capability token.
// Grounded directly on crypto.TokenClaims's shape and signing flow.
type CapabilityClaims struct {
	ClientID     string   `json:"sub"`
	Capabilities []string `json:"capabilities"`
	ExpiresAt    int64    `json:"exp"`
}

// CapabilityVerifier checks PASETO v4 public tokens presented in a
// Hello call, granting the clientID the capabilities they claim.
type CapabilityVerifier struct {
	publicKey ed25519.PublicKey
}

// NewCapabilityVerifier returns a verifier for tokens signed with the
// Ed25519 key pair matching publicKey.
func NewCapabilityVerifier(publicKey ed25519.PublicKey) *CapabilityVerifier {
	return &CapabilityVerifier{publicKey: publicKey}
}

// Verify parses and validates token, returning the capabilities it
// grants its subject.
func (v *CapabilityVerifier) Verify(token string) (CapabilityClaims, error) {
	parser := paseto.NewParser()
	parser.AddRule(paseto.NotExpired())

	pubKey, err := paseto.NewV4AsymmetricPublicKeyFromEd25519(v.publicKey)
	if err != nil {
		return CapabilityClaims{}, ErrCapabilityTokenInvalid
	}

	parsed, err := parser.ParseV4Public(pubKey, token, nil)
	if err != nil {
		return CapabilityClaims{}, ErrCapabilityTokenInvalid
	}

	var claims CapabilityClaims
	subject, err := parsed.GetSubject()
	if err == nil {
		claims.ClientID = subject
	}
	if exp, err := parsed.GetExpiration(); err == nil {
		claims.ExpiresAt = exp.Unix()
	}
	if raw, err := parsed.GetString("capabilities"); err == nil && raw != "" {
		var caps []string
		if err := json.Unmarshal([]byte(raw), &caps); err == nil {
			claims.Capabilities = caps
		}
	}
	return claims, nil
}

// SignCapabilityToken is the verifier's counterpart used by tests and
// capability-issuing services to mint tokens without a separate signer
// type.
func SignCapabilityToken(privateKey ed25519.PrivateKey, claims CapabilityClaims) (string, error) {
	token := paseto.NewToken()
	token.SetSubject(claims.ClientID)
	token.SetExpiration(time.Unix(claims.ExpiresAt, 0))

	capsJSON, err := json.Marshal(claims.Capabilities)
	if err != nil {
		return "", err
	}
	token.SetString("capabilities", string(capsJSON))

	secretKey, err := paseto.NewV4AsymmetricSecretKeyFromEd25519(privateKey)
	if err != nil {
		return "", err
	}
	return token.V4Sign(secretKey, nil), nil
}
