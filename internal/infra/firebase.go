// README: Caller identity for the API and the Firebase ID-token verifier; roles ride in a custom claim.
package infra

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"
)

// RoleClaim is the custom claim holding the caller's marketplace role.
const RoleClaim = "role"

// Identity is an authenticated marketplace caller. UID becomes the owner id on
// orders, bookings and partner commissions.
type Identity struct {
	UID    string
	Claims map[string]interface{}
}

// Role reads RoleClaim; a missing or non-string claim yields "".
func (i *Identity) Role() string {
	if i == nil {
		return ""
	}
	r, _ := i.Claims[RoleClaim].(string)
	return r
}

type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (*Identity, error)
}

type firebaseRoleVerifier struct {
	auth *auth.Client
}

// NewFirebaseVerifier verifies ID tokens minted for projectID. Roles are set on
// accounts out of band with SetCustomUserClaims. An empty credentialsFile falls
// back to application-default credentials.
func NewFirebaseVerifier(ctx context.Context, projectID, credentialsFile string) (TokenVerifier, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("init firebase app for %q: %w", projectID, err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("init firebase auth: %w", err)
	}
	return &firebaseRoleVerifier{auth: client}, nil
}

func (v *firebaseRoleVerifier) VerifyToken(ctx context.Context, idToken string) (*Identity, error) {
	token, err := v.auth.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return &Identity{UID: token.UID, Claims: token.Claims}, nil
}
