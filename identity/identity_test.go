////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package identity

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"gitlab.com/elite-erp/chatcore/channels"
)

var testKey = []byte("test-signing-key")

func signToken(t *testing.T, method jwt.SigningMethod, claims Claims) string {
	token, err := jwt.NewWithClaims(method, claims).SignedString(testKey)
	require.NoError(t, err)
	return token
}

// Tests that FromToken reads the user ID and name from the claims.
func TestFromToken(t *testing.T) {
	token := signToken(t, jwt.SigningMethodHS256, Claims{
		UserID: "u-17",
		Name:   "Ann",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ignored",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	id, err := FromToken(token, testKey)
	require.NoError(t, err)

	if id.UserID() != "u-17" || id.DisplayName() != "Ann" {
		t.Errorf("Unexpected identity.\nexpected: %v\nreceived: %v",
			Static{ID: "u-17", Name: "Ann"}, id)
	}
}

// Tests that the subject is used when user_id is absent and that the ID
// doubles as the display name when no name is given.
func TestFromToken_Subject(t *testing.T) {
	token := signToken(t, jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u-3"},
	})

	id, err := FromToken(token, testKey)
	require.NoError(t, err)
	require.Equal(t, Static{ID: channels.UserID("u-3"), Name: "u-3"}, id)
}

// Tests that invalid tokens are refused.
func TestFromToken_Invalid(t *testing.T) {
	valid := jwt.RegisteredClaims{Subject: "u-3"}
	tests := map[string]string{
		"wrong key": func() string {
			token, err := jwt.NewWithClaims(jwt.SigningMethodHS256,
				Claims{RegisteredClaims: valid}).SignedString([]byte("other"))
			require.NoError(t, err)
			return token
		}(),
		"wrong method": signToken(t, jwt.SigningMethodHS512,
			Claims{RegisteredClaims: valid}),
		"expired": signToken(t, jwt.SigningMethodHS256, Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "u-3",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			},
		}),
		"no user": signToken(t, jwt.SigningMethodHS256, Claims{Name: "Ann"}),
		"garbage": "not.a.token",
	}

	for name, token := range tests {
		if _, err := FromToken(token, testKey); err == nil {
			t.Errorf("FromToken accepted a token with %s.", name)
		}
	}
}
