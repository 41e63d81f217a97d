// SPDX-License-Identifier: ice License 1.0

package cfg

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPolicyStore_LoadReflectsApplicationYAML(t *testing.T) {
	ps := NewPolicyStore()
	p := ps.Load()

	require.False(t, p.AuthRequired)
	require.Empty(t, p.AllowedPubkeys)
	require.Equal(t, "nostrwire relay", p.Information.Name)
}

func TestPolicy_AllowedEmptyListAllowsEveryone(t *testing.T) {
	p := &Policy{}
	require.True(t, p.Allowed("anything"))
}

func TestPolicy_AllowedRespectsAllowList(t *testing.T) {
	p := &Policy{AllowedPubkeys: map[string]struct{}{"abc": {}}}
	require.True(t, p.Allowed("abc"))
	require.False(t, p.Allowed("def"))
}
