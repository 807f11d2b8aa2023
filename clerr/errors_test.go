package clerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_MessageFormatting(t *testing.T) {
	e := New(InvalidArguments, "lock mode must be X or S")
	assert.Equal(t, "invalid_arguments: lock mode must be X or S", e.Error())

	wrapped := Wrap(PublishVersion, "publish rejected", errors.New("version mismatch"))
	assert.Equal(t, "publish_version: publish rejected: version mismatch", wrapped.Error())
	assert.Equal(t, "version mismatch", errors.Unwrap(wrapped).Error())
}

func TestError_IsMatchesByKind(t *testing.T) {
	err := Wrap(ObjectRemoved, "node.foo no longer exists", errors.New("boom"))
	assert.True(t, errors.Is(err, ErrObjectRemoved))
	assert.False(t, errors.Is(err, ErrSessionExpired))
}

func TestKindOf(t *testing.T) {
	kind, ok := KindOf(New(SessionExpired, "store session lost"))
	assert.True(t, ok)
	assert.Equal(t, SessionExpired, kind)

	_, ok = KindOf(errors.New("plain error"))
	assert.False(t, ok)
}

func TestKindOf_UnwrapsThroughFmtErrorf(t *testing.T) {
	inner := New(InconsistentInternalState, "callback-ready double-armed")
	outer := fmt.Errorf("dispatch: %w", inner)
	kind, ok := KindOf(outer)
	assert.True(t, ok)
	assert.Equal(t, InconsistentInternalState, kind)
}
