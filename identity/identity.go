////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

// Package identity provides the current user of the channel manager.
package identity

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	"gitlab.com/elite-erp/chatcore/channels"
)

// Static is a fixed identity. It adheres to the channels.Identity interface.
type Static struct {
	ID   channels.UserID
	Name string
}

var _ channels.Identity = Static{}

// UserID returns the ID of the user.
func (s Static) UserID() channels.UserID { return s.ID }

// DisplayName returns the name shown to other users.
func (s Static) DisplayName() string { return s.Name }

// Claims are the claims of a session token. The user ID is read from
// user_id, falling back to the subject.
type Claims struct {
	UserID string `json:"user_id,omitempty"`
	Name   string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// id returns the user ID carried by the claims.
func (c *Claims) id() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.Subject
}

// FromToken validates an HS256 session token signed with key and returns
// the identity it carries. Expired tokens are refused.
func FromToken(token string, key []byte) (Static, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (interface{}, error) { return key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Static{}, errors.Wrap(err, "invalid session token")
	}
	if !parsed.Valid {
		return Static{}, errors.New("invalid session token")
	}

	id := claims.id()
	if id == "" {
		return Static{}, errors.New("session token carries no user ID")
	}

	name := claims.Name
	if name == "" {
		name = id
	}

	return Static{ID: channels.UserID(id), Name: name}, nil
}
