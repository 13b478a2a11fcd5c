package bus

import (
	"github.com/golang-jwt/jwt/v5"

	"github.com/hspmesh/hsp/types"
)

// envelopeClaims is the signed claim set over (message_id, sender_id, timestamp).
type envelopeClaims struct {
	jwt.RegisteredClaims
	SenderID string `json:"sid"`
}

// signer optionally signs and verifies outbound/inbound envelopes with an HS256 key.
type signer struct {
	enabled bool
	keyID   string
	secret  []byte
}

func newSigner(enabled bool, keyID, secret string) *signer {
	return &signer{enabled: enabled, keyID: keyID, secret: []byte(secret)}
}

// Sign populates env.Security with an HS256 token over the envelope's identity fields.
func (s *signer) Sign(env *types.Envelope) error {
	if !s.enabled {
		return nil
	}
	claims := envelopeClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       env.MessageID,
			IssuedAt: jwt.NewNumericDate(env.SentAt),
		},
		SenderID: env.SenderID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return types.NewError(types.KindTransport, "failed to sign envelope").WithCause(err)
	}
	env.Security = &types.Security{Signature: []byte(signed), KeyID: s.keyID}
	return nil
}

// Verify checks an inbound envelope's signature, when present, matches its identity
// fields. Envelopes with no Security block are accepted unverified when signing is
// not mandatory at this connector.
func (s *signer) Verify(env *types.Envelope) error {
	if !s.enabled || env.Security == nil {
		return nil
	}
	claims := &envelopeClaims{}
	_, err := jwt.ParseWithClaims(string(env.Security.Signature), claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		return types.NewError(types.KindTransport, "envelope signature verification failed").WithCause(err)
	}
	if claims.ID != env.MessageID || claims.SenderID != env.SenderID {
		return types.NewError(types.KindTransport, "envelope signature does not match identity fields")
	}
	return nil
}
