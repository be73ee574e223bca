package auth

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/api/idtoken"
)

// ProviderClaims is what a verified third-party credential tells us.
type ProviderClaims struct {
	Subject string
	Email   string
	Name    string
}

// ProviderVerifier checks a credential issued by an identity provider.
type ProviderVerifier interface {
	Verify(ctx context.Context, credential string) (ProviderClaims, error)
}

// GoogleVerifier validates Google ID tokens issued for clientID.
type GoogleVerifier struct {
	clientID string
	validate func(ctx context.Context, token, audience string) (*idtoken.Payload, error)
}

func NewGoogleVerifier(clientID string) *GoogleVerifier {
	return &GoogleVerifier{clientID: clientID, validate: idtoken.Validate}
}

func (g *GoogleVerifier) Verify(ctx context.Context, credential string) (ProviderClaims, error) {
	if credential == "" {
		return ProviderClaims{}, errors.New("missing credential")
	}
	payload, err := g.validate(ctx, credential, g.clientID)
	if err != nil {
		return ProviderClaims{}, fmt.Errorf("validate id token: %w", err)
	}
	email, _ := payload.Claims["email"].(string)
	if email == "" {
		return ProviderClaims{}, errors.New("id token has no email")
	}
	if verified, ok := payload.Claims["email_verified"].(bool); ok && !verified {
		return ProviderClaims{}, errors.New("email not verified")
	}
	name, _ := payload.Claims["name"].(string)
	return ProviderClaims{Subject: payload.Subject, Email: email, Name: name}, nil
}
