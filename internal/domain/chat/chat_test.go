package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCallback(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    Callback
		wantErr bool
	}{
		{name: "action and id", data: "approve:abc", want: Callback{Action: "approve", ID: "abc"}},
		{name: "with extra", data: "dlg_deny:42:note", want: Callback{Action: "dlg_deny", ID: "42", Extra: "note"}},
		{name: "extra keeps colons", data: "deny:1:a:b", want: Callback{Action: "deny", ID: "1", Extra: "a:b"}},
		{name: "missing id", data: "approve:", wantErr: true},
		{name: "no separator", data: "approve", wantErr: true},
		{name: "empty", data: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCallback(tt.data)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedCallback)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.data, got.Data())
		})
	}
}

func TestDecisionButtons(t *testing.T) {
	rows := DecisionButtons(ActionDelegationApprove, ActionDelegationDeny, "d1")
	require.Len(t, rows, 1)
	require.Len(t, rows[0], 2)
	assert.Equal(t, "dlg_approve:d1", rows[0][0].Data)
	assert.Equal(t, "dlg_deny:d1", rows[0][1].Data)
}
