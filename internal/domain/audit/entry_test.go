package audit

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEntry_TruncatesOutput(t *testing.T) {
	long := strings.Repeat("é", MaxOutputRunes+20)
	e := NewEntry(uuid.New(), 7, ActionChat, "hi", long, StatusCompleted)
	assert.Equal(t, MaxOutputRunes, len([]rune(e.Output)))
	assert.Equal(t, long, e.FullResponse)
}

func TestEntry_ResolveOnce(t *testing.T) {
	e := NewEntry(uuid.New(), 7, ActionApproval, "rm -rf /tmp/x", "", StatusPending)

	require.NoError(t, e.Resolve(StatusApproved, "operator:42"))
	assert.Equal(t, StatusApproved, e.Status)
	require.NotNil(t, e.ApprovedBy)
	assert.Equal(t, "operator:42", *e.ApprovedBy)

	assert.ErrorIs(t, e.Resolve(StatusDenied, "operator:43"), ErrAlreadyResolved)
	assert.Equal(t, StatusApproved, e.Status)
}

func TestEntry_ResolveRejectsPending(t *testing.T) {
	e := NewEntry(uuid.New(), 7, ActionApproval, "sudo ls", "", StatusPending)
	assert.ErrorIs(t, e.Resolve(StatusPending, "x"), ErrInvalidTransition)
}

func TestSignVerify(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	e := NewEntry(uuid.New(), 7, ActionChat, "hello", "world", StatusCompleted)

	sig, err := Sign(e, key)
	require.NoError(t, err)
	e.Signature = sig

	ok, err := Verify(e, key)
	require.NoError(t, err)
	assert.True(t, ok)

	// status changes do not invalidate the signature
	e.Status = StatusError
	ok, _ = Verify(e, key)
	assert.True(t, ok)

	e.FullResponse = "tampered"
	ok, _ = Verify(e, key)
	assert.False(t, ok)
}
