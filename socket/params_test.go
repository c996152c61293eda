////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////


package socket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Tests that GetParameters overrides only the fields set in the JSON.
func TestGetParameters(t *testing.T) {
	p, err := GetParameters(`{"WriteRate": 5, "AckTimeout": 2000000000}`)
	require.NoError(t, err)

	expected := GetDefaultParams()
	expected.WriteRate = 5
	expected.AckTimeout = 2 * time.Second
	require.Equal(t, expected, p)

	_, err = GetParameters(`{"WriteRate": "fast"}`)
	require.Error(t, err)
}
